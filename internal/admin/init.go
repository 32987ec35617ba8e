package admin

import (
	"context"
	"errors"
	"time"

	"github.com/goodtune/idlewatch/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EnsureInitialAdminUser creates the initial admin user if no users exist.
func EnsureInitialAdminUser(ctx context.Context, store storage.AdminUserStore, username, password string, logger zerolog.Logger) error {
	users, err := store.List(ctx)
	if err != nil {
		return err
	}

	if len(users) > 0 {
		logger.Info().Int("count", len(users)).Msg("Admin users already exist")
		return nil
	}

	if username == "" {
		username = "admin"
	}

	if password == "" {
		return errors.New("initial admin password cannot be empty")
	}

	passwordHash, err := HashPassword(password)
	if err != nil {
		return err
	}

	now := time.Now()
	user := storage.AdminUser{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := store.Upsert(ctx, user); err != nil {
		return err
	}

	logger.Info().
		Str("username", username).
		Msg("Created initial admin user")

	switch password {
	case "admin", "password", "changeme":
		logger.Warn().Msg("Using a default admin password, change it immediately")
	}

	return nil
}
