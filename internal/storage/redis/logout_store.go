package redis

import (
	"context"
	"errors"
	"time"

	"github.com/goodtune/idlewatch/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const recentLogoutsIndex = "idlewatch:logouts"

type logoutStore struct {
	client    *redis.Client
	retention time.Duration
}

// Record stores a logout record. ID and At are filled in when empty.
func (s *logoutStore) Record(ctx context.Context, record storage.LogoutRecord) error {
	if record.SessionID == "" {
		return errors.New("logout record requires a session ID")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.At.IsZero() {
		record.At = time.Now()
	}

	script := redis.NewScript(recordLogoutScript)

	score := record.At.UnixMilli()
	cutoff := record.At.Add(-s.retention).UnixMilli()

	keys := []string{logoutKey(record.ID), recentLogoutsIndex, sessionLogoutsKey(record.SessionID)}
	args := []interface{}{
		record.ID,
		record.SessionID,
		record.Username,
		record.PageID,
		string(record.Reason),
		record.ElapsedSeconds,
		record.At.Format(time.RFC3339Nano),
		score,
		cutoff,
		int64(s.retention.Seconds()),
	}

	return script.Run(ctx, s.client, keys, args...).Err()
}

// ListRecent returns the newest logout records first. A limit of zero or
// less returns every retained record.
func (s *logoutStore) ListRecent(ctx context.Context, limit int) ([]storage.LogoutRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	ids, err := s.client.ZRevRange(ctx, recentLogoutsIndex, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	return s.load(ctx, ids)
}

// ListBySession returns the logout records of one admin session, oldest first.
func (s *logoutStore) ListBySession(ctx context.Context, sessionID string) ([]storage.LogoutRecord, error) {
	ids, err := s.client.ZRange(ctx, sessionLogoutsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return s.load(ctx, ids)
}

func (s *logoutStore) load(ctx context.Context, ids []string) ([]storage.LogoutRecord, error) {
	if len(ids) == 0 {
		return []storage.LogoutRecord{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, logoutKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	// Records past their TTL may still be indexed; skip them
	records := make([]storage.LogoutRecord, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		record, err := parseLogoutRecord(data)
		if err == nil {
			records = append(records, *record)
		}
	}

	return records, nil
}
