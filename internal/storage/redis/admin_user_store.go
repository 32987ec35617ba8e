package redis

import (
	"context"
	"sort"
	"time"

	"github.com/goodtune/idlewatch/internal/storage"
	"github.com/redis/go-redis/v9"
)

const adminUsersSet = "idlewatch:admin:users"

type adminUserStore struct {
	client *redis.Client
}

// Get retrieves an admin user by username
func (s *adminUserStore) Get(ctx context.Context, username string) (*storage.AdminUser, error) {
	data, err := s.client.HGetAll(ctx, userKey(username)).Result()
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	return parseAdminUser(data)
}

// List retrieves all admin users, ordered by username
func (s *adminUserStore) List(ctx context.Context) ([]storage.AdminUser, error) {
	usernames, err := s.client.SMembers(ctx, adminUsersSet).Result()
	if err != nil {
		return nil, err
	}

	if len(usernames) == 0 {
		return []storage.AdminUser{}, nil
	}
	sort.Strings(usernames)

	// Use pipeline for batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(usernames))
	for i, username := range usernames {
		cmds[i] = pipe.HGetAll(ctx, userKey(username))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	users := make([]storage.AdminUser, 0, len(usernames))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		user, err := parseAdminUser(data)
		if err == nil {
			users = append(users, *user)
		}
	}

	return users, nil
}

// Upsert creates or updates an admin user
func (s *adminUserStore) Upsert(ctx context.Context, user storage.AdminUser) error {
	script := redis.NewScript(upsertAdminUserScript)

	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	keys := []string{userKey(user.Username), adminUsersSet}
	args := []interface{}{
		user.ID,
		user.Username,
		user.PasswordHash,
		user.CreatedAt.Format(time.RFC3339Nano),
		user.UpdatedAt.Format(time.RFC3339Nano),
	}

	if err := script.Run(ctx, s.client, keys, args...).Err(); err != nil {
		return err
	}

	if user.LastLogin != nil {
		return s.client.HSet(ctx, userKey(user.Username), "last_login", user.LastLogin.Format(time.RFC3339Nano)).Err()
	}
	return nil
}

// Delete removes an admin user by username
func (s *adminUserStore) Delete(ctx context.Context, username string) error {
	removed, err := s.client.Del(ctx, userKey(username)).Result()
	if err != nil {
		return err
	}

	if err := s.client.SRem(ctx, adminUsersSet, username).Err(); err != nil {
		return err
	}

	if removed == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateLastLogin updates the last login timestamp for a user
func (s *adminUserStore) UpdateLastLogin(ctx context.Context, username string, loginTime time.Time) error {
	key := userKey(username)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return storage.ErrNotFound
	}

	return s.client.HSet(ctx, key,
		"last_login", loginTime.Format(time.RFC3339Nano),
		"updated_at", time.Now().Format(time.RFC3339Nano),
	).Err()
}
