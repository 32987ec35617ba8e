package admin

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/goodtune/idlewatch/internal/inactivity"
	"github.com/goodtune/idlewatch/internal/storage"
	"github.com/goodtune/idlewatch/web"
)

// Server represents the admin HTTP server.
type Server struct {
	config      Config
	store       storage.Store
	registry    *inactivity.Registry
	auth        *AuthService
	rateLimiter *RateLimiter
	server      *http.Server
	listener    net.Listener
	router      *mux.Router
	templates   *template.Template
	warningHTML string
	logger      zerolog.Logger

	sinks   map[string]*pageSink // key: page ID
	sinksMu sync.Mutex

	audits sync.WaitGroup // pending logout records
}

// NewServer creates a new admin server. It installs itself as the
// registry's expire hook.
func NewServer(cfg Config, store storage.Store, registry *inactivity.Registry, logger zerolog.Logger) (*Server, error) {
	if cfg.LoginPath == "" {
		cfg.LoginPath = DefaultLoginPath
	}

	auth := NewAuthService(store.AdminUsers(), cfg.JWTSecret, cfg.TokenExpiration, logger)

	rateLimit := cfg.RateLimit
	if rateLimit == 0 {
		rateLimit = 100 // Default: 100 requests per minute
	}
	rateLimitWindow := cfg.RateLimitWindow
	if rateLimitWindow == 0 {
		rateLimitWindow = time.Minute
	}

	tmpl, err := web.Templates()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	monitorCfg := registry.Config().Monitor
	var warning bytes.Buffer
	if err := tmpl.ExecuteTemplate(&warning, "session-warning", map[string]interface{}{
		"ElementID": inactivity.WarningElementID,
		"LeadTime":  leadTime(monitorCfg.ExpiryThresholdSeconds - monitorCfg.WarningThresholdSeconds),
	}); err != nil {
		return nil, fmt.Errorf("render warning panel: %w", err)
	}

	s := &Server{
		config:      cfg,
		store:       store,
		registry:    registry,
		auth:        auth,
		rateLimiter: NewRateLimiter(rateLimit, rateLimitWindow),
		router:      mux.NewRouter(),
		templates:   tmpl,
		warningHTML: warning.String(),
		sinks:       make(map[string]*pageSink),
		logger:      logger.With().Str("component", "admin").Logger(),
	}

	registry.SetExpireHook(s.handleExpired)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	logoutPath := s.registry.Config().Monitor.LogoutPath

	// Apply global middleware
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(SecurityHeadersMiddleware)
	s.router.Use(RateLimitMiddleware(s.rateLimiter))

	if len(s.config.AllowedOrigins) > 0 {
		s.router.Use(CORSMiddleware(s.config.AllowedOrigins))
	}

	// Public routes (no auth required)
	s.router.HandleFunc("/api/auth/login", s.handleLogin).Methods("POST", "OPTIONS")
	s.router.Handle(s.config.LoginPath, NoCacheMiddleware(http.HandlerFunc(s.handleLoginPage))).Methods("GET")
	s.router.HandleFunc(logoutPath, s.handleLogout).Methods("GET", "POST")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.PathPrefix("/static/").Handler(http.StripPrefix("/static", web.StaticHandler()))
	s.router.Handle("/", http.RedirectHandler("/admin/", http.StatusFound)).Methods("GET")

	// Page monitor routes authenticate by token so expired pages still get their redirect
	pageRouter := s.router.NewRoute().Subrouter()
	pageRouter.Use(PageAuthMiddleware(s.auth))
	pageRouter.HandleFunc("/api/pages/{id}", s.handleGetPage).Methods("GET")
	pageRouter.HandleFunc("/api/pages/{id}/activity", s.handlePageActivity).Methods("POST")
	pageRouter.HandleFunc("/api/pages/{id}/continue", s.handlePageContinue).Methods("POST")
	pageRouter.HandleFunc("/ws/pages/{id}", s.handlePageSocket).Methods("GET")

	// Authenticated routes
	authRouter := s.router.NewRoute().Subrouter()
	authRouter.Use(AuthMiddleware(s.auth, s.config.LoginPath))
	authRouter.Use(NoCacheMiddleware)

	// Auth endpoints
	authRouter.HandleFunc("/api/auth/me", s.handleMe).Methods("GET")
	authRouter.HandleFunc("/api/auth/change-password", s.handleChangePassword).Methods("POST")

	// Inactivity endpoints
	authRouter.HandleFunc("/api/pages", s.handleListPages).Methods("GET")
	authRouter.HandleFunc("/api/logouts", s.handleListLogouts).Methods("GET")

	// Web UI routes
	authRouter.HandleFunc("/admin/", s.handleDashboard).Methods("GET")
	authRouter.HandleFunc("/admin/logouts/", s.handleLogoutsPage).Methods("GET")
}

// Handler returns the admin HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// AuthService returns the server's authentication service.
func (s *Server) AuthService() *AuthService {
	return s.auth
}

// SetListener sets a pre-created listener for systemd socket activation.
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the admin HTTP server.
func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.config.ListenAddr).
		Msg("Starting admin server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated admin listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Admin server error")
		}
	}()

	return nil
}

// Stop gracefully stops the admin HTTP server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping admin server")
	s.rateLimiter.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.audits.Wait()
	if err != nil {
		return fmt.Errorf("admin server shutdown: %w", err)
	}

	return nil
}

// leadTime renders the gap between warning and expiry for the warning panel.
func leadTime(seconds int) string {
	switch {
	case seconds == 60:
		return "1 minute"
	case seconds > 60 && seconds%60 == 0:
		return fmt.Sprintf("%d minutes", seconds/60)
	case seconds == 1:
		return "1 second"
	default:
		return fmt.Sprintf("%d seconds", seconds)
	}
}
