package admin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

func newTestAuth(t *testing.T) *AuthService {
	t.Helper()

	env := setupTestServer(t)
	auth := NewAuthService(env.store.AdminUsers(), "auth-secret", time.Hour, zerolog.Nop())
	auth.bcryptCost = bcrypt.MinCost
	return auth
}

func TestAuthService_LoginLogout(t *testing.T) {
	auth := newTestAuth(t)
	ctx := context.Background()

	session, token, err := auth.Login(ctx, testUser, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	claims, got, err := auth.Authenticate(token)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if claims.SessionID != session.ID || got.Username != testUser {
		t.Errorf("claims = %+v, session = %+v", claims, got)
	}

	ended, err := auth.Logout(session.ID)
	if err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if ended.ID != session.ID {
		t.Errorf("Logout returned session %q, want %q", ended.ID, session.ID)
	}

	// The token still verifies but its session is gone
	if _, err := auth.ValidateToken(token); err != nil {
		t.Errorf("ValidateToken after logout: %v", err)
	}
	if _, _, err := auth.Authenticate(token); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Authenticate after logout error = %v, want ErrSessionNotFound", err)
	}
	if _, err := auth.Logout(session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second Logout error = %v, want ErrSessionNotFound", err)
	}
}

func TestAuthService_InvalidCredentials(t *testing.T) {
	auth := newTestAuth(t)
	ctx := context.Background()

	if _, _, err := auth.Login(ctx, testUser, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password error = %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := auth.Login(ctx, "nobody", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user error = %v, want ErrInvalidCredentials", err)
	}
}

func TestAuthService_ValidateToken(t *testing.T) {
	auth := newTestAuth(t)

	token, err := auth.GenerateToken("user-1", testUser, "sess-1")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	other := NewAuthService(nil, "different-secret", time.Hour, zerolog.Nop())
	if _, err := other.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("foreign token error = %v, want ErrInvalidToken", err)
	}
	if _, err := auth.ValidateToken("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage token error = %v, want ErrInvalidToken", err)
	}
}

func TestAuthService_CleanupExpiredSessions(t *testing.T) {
	auth := newTestAuth(t)
	ctx := context.Background()

	session, _, err := auth.Login(ctx, testUser, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, _, err := auth.Login(ctx, testUser, testPassword); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	auth.sessionMutex.Lock()
	auth.sessions[session.ID].ExpiresAt = time.Now().Add(-time.Minute)
	auth.sessionMutex.Unlock()

	if _, err := auth.GetSession(session.ID); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("GetSession error = %v, want ErrSessionExpired", err)
	}
	if n := auth.CleanupExpiredSessions(); n != 1 {
		t.Errorf("CleanupExpiredSessions() = %d, want 1", n)
	}
	if n := auth.GetActiveSessions(); n != 1 {
		t.Errorf("GetActiveSessions() = %d, want 1", n)
	}
}

func TestAuthService_ChangePassword(t *testing.T) {
	auth := newTestAuth(t)
	ctx := context.Background()

	if err := auth.ChangePassword(ctx, testUser, "wrong", "new-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong old password error = %v, want ErrInvalidCredentials", err)
	}
	if err := auth.ChangePassword(ctx, testUser, testPassword, "new-password"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	if _, _, err := auth.Login(ctx, testUser, testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("old password still accepted: %v", err)
	}
	if _, _, err := auth.Login(ctx, testUser, "new-password"); err != nil {
		t.Errorf("new password rejected: %v", err)
	}
}

func TestEnsureInitialAdminUser(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()
	users := env.store.AdminUsers()

	// A user already exists, so nothing changes
	if err := EnsureInitialAdminUser(ctx, users, "root", "changeme", zerolog.Nop()); err != nil {
		t.Fatalf("EnsureInitialAdminUser failed: %v", err)
	}
	list, err := users.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 || list[0].Username != testUser {
		t.Errorf("users = %+v, want only %s", list, testUser)
	}

	if err := users.Delete(ctx, testUser); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := EnsureInitialAdminUser(ctx, users, "", "", zerolog.Nop()); err == nil {
		t.Error("empty initial password should be rejected")
	}
}
