package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a miniredis instance for testing Lua scripts
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr
}

func TestUpsertAdminUserScript_KeepsCreatedAt(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()
	defer mr.Close()

	ctx := context.Background()
	userKey := "idlewatch:admin:user:admin"

	first := client.Eval(ctx, upsertAdminUserScript, []string{userKey, adminUsersSet},
		"admin-1", "admin", "hash-1", "2024-01-01T00:00:00Z", "2024-01-01T00:00:00Z")
	if first.Err() != nil {
		t.Fatalf("Script execution failed: %v", first.Err())
	}

	second := client.Eval(ctx, upsertAdminUserScript, []string{userKey, adminUsersSet},
		"admin-1", "admin", "hash-2", "2024-06-01T00:00:00Z", "2024-06-01T00:00:00Z")
	if second.Err() != nil {
		t.Fatalf("Script execution failed: %v", second.Err())
	}

	data := client.HGetAll(ctx, userKey).Val()
	if data["created_at"] != "2024-01-01T00:00:00Z" {
		t.Errorf("created_at = %s, want original", data["created_at"])
	}
	if data["updated_at"] != "2024-06-01T00:00:00Z" {
		t.Errorf("updated_at = %s, want new value", data["updated_at"])
	}
	if data["password_hash"] != "hash-2" {
		t.Errorf("password_hash = %s, want hash-2", data["password_hash"])
	}

	if !client.SIsMember(ctx, adminUsersSet, "admin").Val() {
		t.Error("user should be indexed in the users set")
	}
}

func TestRecordLogoutScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()
	defer mr.Close()

	ctx := context.Background()
	ttl := int64((90 * 24 * time.Hour).Seconds())
	now := time.Now()

	tests := []struct {
		name      string
		id        string
		at        time.Time
		wantIndex int64
	}{
		{
			name:      "first record",
			id:        "logout-1",
			at:        now.Add(-100 * 24 * time.Hour),
			wantIndex: 1,
		},
		{
			// Inserting a fresh record prunes index entries past retention
			name:      "prunes stale index entries",
			id:        "logout-2",
			at:        now,
			wantIndex: 1,
		},
		{
			name:      "recent records accumulate",
			id:        "logout-3",
			at:        now.Add(time.Second),
			wantIndex: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recordKey := "idlewatch:logout:" + tt.id
			sessionKey := "idlewatch:logouts:session:sess-1"
			score := tt.at.UnixMilli()
			cutoff := tt.at.Add(-90 * 24 * time.Hour).UnixMilli()

			result := client.Eval(ctx, recordLogoutScript, []string{recordKey, recentLogoutsIndex, sessionKey},
				tt.id, "sess-1", "admin", "page-1", "inactivity", "1800",
				tt.at.Format(time.RFC3339Nano), strconv.FormatInt(score, 10), strconv.FormatInt(cutoff, 10), ttl)
			if result.Err() != nil {
				t.Fatalf("Script execution failed: %v", result.Err())
			}

			data := client.HGetAll(ctx, recordKey).Val()
			if data["id"] != tt.id || data["reason"] != "inactivity" || data["elapsed_seconds"] != "1800" {
				t.Errorf("record hash = %v", data)
			}

			if got := client.TTL(ctx, recordKey).Val(); got <= 0 {
				t.Errorf("record TTL = %v, want positive", got)
			}

			if got := client.ZCard(ctx, recentLogoutsIndex).Val(); got != tt.wantIndex {
				t.Errorf("index size = %d, want %d", got, tt.wantIndex)
			}

			if _, err := client.ZScore(ctx, sessionKey, tt.id).Result(); err != nil {
				t.Errorf("record missing from session index: %v", err)
			}
		})
	}
}
