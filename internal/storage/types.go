package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// LogoutReason records why an admin session ended.
type LogoutReason string

const (
	// LogoutInactivity is a logout forced by the inactivity timeout.
	LogoutInactivity LogoutReason = "inactivity"

	// LogoutManual is a logout requested by the admin.
	LogoutManual LogoutReason = "manual"
)

// UnmarshalJSON implements json.Unmarshaler to normalize the reason to lowercase.
func (r *LogoutReason) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	normalized := LogoutReason(strings.ToLower(s))
	switch normalized {
	case LogoutInactivity, LogoutManual:
		*r = normalized
		return nil
	default:
		return fmt.Errorf("invalid logout reason: %s (must be inactivity or manual)", s)
	}
}

// AdminUser represents an admin user for the web interface.
type AdminUser struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"password_hash"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// LogoutRecord is one ended admin session.
type LogoutRecord struct {
	ID             string       `json:"id"`
	SessionID      string       `json:"session_id"`
	Username       string       `json:"username"`
	PageID         string       `json:"page_id,omitempty"` // page whose monitor expired; empty for manual logouts
	Reason         LogoutReason `json:"reason"`
	ElapsedSeconds int          `json:"elapsed_seconds"`
	At             time.Time    `json:"at"`
}
