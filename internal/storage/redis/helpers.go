package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/idlewatch/internal/storage"
)

// parseAdminUser converts a Redis hash to AdminUser
func parseAdminUser(data map[string]string) (*storage.AdminUser, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	createdAt, err := time.Parse(time.RFC3339Nano, data["created_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	updatedAt, err := time.Parse(time.RFC3339Nano, data["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	user := &storage.AdminUser{
		ID:           data["id"],
		Username:     data["username"],
		PasswordHash: data["password_hash"],
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}

	if raw := data["last_login"]; raw != "" {
		lastLogin, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last_login: %w", err)
		}
		user.LastLogin = &lastLogin
	}

	return user, nil
}

// parseLogoutRecord converts a Redis hash to LogoutRecord
func parseLogoutRecord(data map[string]string) (*storage.LogoutRecord, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	at, err := time.Parse(time.RFC3339Nano, data["at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse at: %w", err)
	}

	elapsed, err := strconv.Atoi(data["elapsed_seconds"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse elapsed_seconds: %w", err)
	}

	return &storage.LogoutRecord{
		ID:             data["id"],
		SessionID:      data["session_id"],
		Username:       data["username"],
		PageID:         data["page_id"],
		Reason:         storage.LogoutReason(data["reason"]),
		ElapsedSeconds: elapsed,
		At:             at,
	}, nil
}

func userKey(username string) string {
	return fmt.Sprintf("idlewatch:admin:user:%s", username)
}

func logoutKey(id string) string {
	return fmt.Sprintf("idlewatch:logout:%s", id)
}

func sessionLogoutsKey(sessionID string) string {
	return fmt.Sprintf("idlewatch:logouts:session:%s", sessionID)
}
