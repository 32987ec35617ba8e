package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	AdminUsers() AdminUserStore
	Logouts() LogoutStore
}

// AdminUserStore manages admin user accounts.
type AdminUserStore interface {
	Get(ctx context.Context, username string) (*AdminUser, error)
	List(ctx context.Context) ([]AdminUser, error)
	Upsert(ctx context.Context, user AdminUser) error
	Delete(ctx context.Context, username string) error
	UpdateLastLogin(ctx context.Context, username string, loginTime time.Time) error
}

// LogoutStore keeps the audit trail of ended admin sessions.
type LogoutStore interface {
	Record(ctx context.Context, record LogoutRecord) error
	ListRecent(ctx context.Context, limit int) ([]LogoutRecord, error)
	ListBySession(ctx context.Context, sessionID string) ([]LogoutRecord, error)
}
