package admin

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/idlewatch/internal/inactivity"
	"github.com/goodtune/idlewatch/internal/metrics"
	"github.com/goodtune/idlewatch/internal/storage"
)

const defaultLogoutListLimit = 50

// handleLogin handles user login requests. JSON bodies get a JSON response;
// the login form gets cookies and a redirect.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	form := !isJSONBody(r)

	var req LoginRequest
	next := ""
	if form {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid form")
			return
		}
		req.Username = r.PostFormValue("username")
		req.Password = r.PostFormValue("password")
		next = r.PostFormValue("next")
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// Validate input
	if req.Username == "" || req.Password == "" {
		metrics.AdminLogins.WithLabelValues("invalid").Inc()
		if form {
			s.renderLogin(w, http.StatusBadRequest, "Username and password are required", next)
			return
		}
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	session, token, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			metrics.AdminLogins.WithLabelValues("failure").Inc()
			s.logger.Warn().Str("username", req.Username).Msg("Failed login attempt")
			if form {
				s.renderLogin(w, http.StatusUnauthorized, "Invalid username or password", next)
				return
			}
			writeError(w, http.StatusUnauthorized, "Invalid username or password")
			return
		}
		s.logger.Error().Err(err).Msg("Login error")
		writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}
	metrics.AdminLogins.WithLabelValues("success").Inc()

	s.setSessionCookies(w, token, session)

	s.logger.Info().
		Str("username", req.Username).
		Str("session_id", session.ID).
		Msg("User logged in")

	if form {
		http.Redirect(w, r, safeNext(next, s.registry.Config().LoginMarker), http.StatusSeeOther)
		return
	}

	WriteJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: session.ExpiresAt,
		User: UserInfo{
			ID:        session.UserID,
			Username:  session.Username,
			SessionID: session.ID,
		},
	})
}

// handleLogout ends the admin session. Expired pages are navigated here too;
// their session is already gone, so only the cookies are cleared.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var sessionID string
	if token, ok := bearerToken(r); ok {
		if claims, err := s.auth.ValidateToken(token); err == nil {
			sessionID = claims.SessionID
		}
	}

	if sessionID != "" {
		if session, err := s.auth.Logout(sessionID); err == nil {
			metrics.AdminLogouts.WithLabelValues(string(storage.LogoutManual)).Inc()
			s.recordLogout(session, "", storage.LogoutManual, 0)
			s.logger.Info().
				Str("username", session.Username).
				Str("session_id", sessionID).
				Msg("User logged out")
		}
		s.endSession(sessionID)
	}

	s.clearSessionCookies(w)

	if wantsJSON(r) {
		WriteJSON(w, http.StatusOK, SuccessResponse{Message: "Logged out successfully"})
		return
	}
	http.Redirect(w, r, s.config.LoginPath, http.StatusFound)
}

// handleMe returns the current user information.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetUserIDFromContext(r.Context())
	username, _ := GetUsernameFromContext(r.Context())
	sessionID, _ := GetSessionFromContext(r.Context())

	WriteJSON(w, http.StatusOK, UserInfo{
		ID:        userID,
		Username:  username,
		SessionID: sessionID,
	})
}

// handleChangePassword handles password change requests.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	username, ok := GetUsernameFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// Validate input
	if req.OldPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "Old and new passwords are required")
		return
	}

	if len(req.NewPassword) < 8 {
		writeError(w, http.StatusBadRequest, "New password must be at least 8 characters")
		return
	}

	if err := s.auth.ChangePassword(r.Context(), username, req.OldPassword, req.NewPassword); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Invalid current password")
			return
		}
		s.logger.Error().Err(err).Str("username", username).Msg("Password change error")
		writeError(w, http.StatusInternalServerError, "Failed to change password")
		return
	}

	WriteJSON(w, http.StatusOK, SuccessResponse{Message: "Password changed successfully"})

	s.logger.Info().Str("username", username).Msg("User changed password")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"active_sessions": s.auth.GetActiveSessions(),
		"monitored_pages": s.registry.Count(),
	})
}

// handleListLogouts lists recorded logouts, newest first.
func (s *Server) handleListLogouts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if sessionID := q.Get("session"); sessionID != "" {
		records, err := s.store.Logouts().ListBySession(r.Context(), sessionID)
		if err != nil {
			s.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to list session logouts")
			writeError(w, http.StatusInternalServerError, "Failed to list logouts")
			return
		}
		WriteJSON(w, http.StatusOK, records)
		return
	}

	limit := defaultLogoutListLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.store.Logouts().ListRecent(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list logouts")
		writeError(w, http.StatusInternalServerError, "Failed to list logouts")
		return
	}
	WriteJSON(w, http.StatusOK, records)
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.renderLogin(w, http.StatusOK, "", r.URL.Query().Get("next"))
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	data := s.pageData(r, "Dashboard", "dashboard")
	monitorCfg := s.registry.Config().Monitor
	data["WarningSeconds"] = monitorCfg.WarningThresholdSeconds
	data["ExpirySeconds"] = monitorCfg.ExpiryThresholdSeconds
	data["Pages"] = s.registry.Snapshot()
	s.render(w, http.StatusOK, data)
}

func (s *Server) handleLogoutsPage(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.Logouts().ListRecent(r.Context(), defaultLogoutListLimit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list logouts")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data := s.pageData(r, "Logouts", "logouts")
	data["Logouts"] = records
	s.render(w, http.StatusOK, data)
}

// pageData opens an inactivity monitor for the page being rendered.
func (s *Server) pageData(r *http.Request, title, view string) map[string]interface{} {
	username, _ := GetUsernameFromContext(r.Context())
	data := map[string]interface{}{
		"Title":      title,
		"View":       view,
		"Username":   username,
		"LogoutPath": s.registry.Config().Monitor.LogoutPath,
		"PageID":     "",
	}
	if page := s.openPage(r); page != nil {
		data["PageID"] = page.ID
	}
	return data
}

func (s *Server) renderLogin(w http.ResponseWriter, status int, message, next string) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	s.render(w, status, map[string]interface{}{
		"Title":      "Login",
		"View":       "login",
		"LogoutPath": s.registry.Config().Monitor.LogoutPath,
		"PageID":     "",
		"Error":      message,
		"Next":       safeNext(next, s.registry.Config().LoginMarker),
	})
}

func (s *Server) render(w http.ResponseWriter, status int, data map[string]interface{}) {
	var buf strings.Builder
	if err := s.templates.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		s.logger.Error().Err(err).Interface("view", data["View"]).Msg("Failed to render template")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(buf.String()))
}

func (s *Server) setSessionCookies(w http.ResponseWriter, token string, session *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
		Expires:  session.ExpiresAt,
	})

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
		Expires:  session.ExpiresAt,
	})
}

func (s *Server) clearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{tokenCookie, sessionCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			HttpOnly: true,
			Secure:   s.config.SecureCookies,
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
		})
	}
}

// safeNext keeps post-login redirects on this site and off unmonitored
// login pages.
func safeNext(next, loginMarker string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/admin/"
	}
	if !inactivity.ShouldMonitor(next, loginMarker) {
		return "/admin/"
	}
	return next
}

func isJSONBody(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
