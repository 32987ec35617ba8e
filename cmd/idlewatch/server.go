package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goodtune/idlewatch/internal/admin"
	"github.com/goodtune/idlewatch/internal/config"
	"github.com/goodtune/idlewatch/internal/inactivity"
	"github.com/goodtune/idlewatch/internal/metrics"
	"github.com/goodtune/idlewatch/internal/storage"
	"github.com/goodtune/idlewatch/internal/storage/redis"
	"github.com/goodtune/idlewatch/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start idlewatch server",
	Long:  `Start the admin server with per-page inactivity monitoring, and the metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting idlewatch")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("redis_host", cfg.Storage.Redis.Host).
		Int("redis_port", cfg.Storage.Redis.Port).
		Msg("Storage initialized")

	initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = admin.EnsureInitialAdminUser(initCtx, store.AdminUsers(), cfg.Admin.InitialUsername, cfg.Admin.InitialPassword, logger)
	initCancel()
	if err != nil {
		return fmt.Errorf("failed to create initial admin user: %w", err)
	}

	jwtSecret := cfg.Admin.JWTSecret
	if jwtSecret == "" {
		jwtSecret, err = randomSecret()
		if err != nil {
			return fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		logger.Warn().Msg("No admin.jwt_secret configured; using a random secret, sessions will not survive a restart")
	}

	// Initialize inactivity registry
	registry, err := inactivity.NewRegistry(inactivity.RegistryConfig{
		Monitor: inactivity.Config{
			WarningThresholdSeconds: cfg.Inactivity.WarningThresholdSeconds,
			ExpiryThresholdSeconds:  cfg.Inactivity.ExpiryThresholdSeconds,
			LogoutPath:              cfg.Inactivity.LogoutPath,
		},
		TickInterval:     cfg.Inactivity.TickIntervalDuration(),
		LoginMarker:      cfg.Inactivity.LoginMarker,
		ExpiredCacheSize: cfg.Inactivity.ExpiredCacheSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize inactivity registry: %w", err)
	}

	// Initialize Admin Server
	adminAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.AdminPort)
	adminServer, err := admin.NewServer(admin.Config{
		ListenAddr:      adminAddr,
		JWTSecret:       jwtSecret,
		TokenExpiration: parseDuration(cfg.Admin.SessionTimeout, admin.DefaultTokenExpiration),
		RateLimit:       cfg.Admin.RateLimit,
		RateLimitWindow: parseDuration(cfg.Admin.RateLimitWindow, time.Minute),
		AllowedOrigins:  cfg.Admin.AllowedOrigins,
		SecureCookies:   cfg.Admin.SecureCookies,
	}, store, registry, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Admin Server: %w", err)
	}

	// Use systemd socket-activated listener if available
	if sdListeners.Activated && sdListeners.Admin != nil {
		adminServer.SetListener(sdListeners.Admin)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := registry.Run(ctx); err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("Inactivity ticker failed")
		}
	}()
	go adminServer.AuthService().RunSessionCleanup(ctx, 15*time.Minute)
	go systemd.RunWatchdog(ctx, logger)

	if err := adminServer.Start(); err != nil {
		return fmt.Errorf("failed to start Admin Server: %w", err)
	}

	// Initialize Metrics Server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)

	// Use systemd socket-activated listener if available
	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start Metrics Server: %w", err)
	}

	// Log startup complete
	logger.Info().Msg("idlewatch startup complete")
	logger.Info().Msgf("Admin: http://%s/admin/", adminAddr)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)
	logger.Info().Msgf("Inactivity: warning after %ds, logout after %ds",
		cfg.Inactivity.WarningThresholdSeconds, cfg.Inactivity.ExpiryThresholdSeconds)

	// Notify systemd that we're ready to serve requests
	if systemd.IsSystemdService() {
		if err := systemd.NotifyReady(); err != nil {
			logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
		} else {
			logger.Debug().Msg("Sent systemd ready notification")
		}
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutdown signal received, gracefully stopping...")

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	cancel()

	if err := adminServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Admin Server")
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Metrics Server")
	}

	logger.Info().Msg("idlewatch stopped")

	return nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "redis"
	}

	switch storageType {
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (only 'redis' is supported)", storageType)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Set output format
	switch strings.ToLower(cfg.Format) {
	case "text", "console":
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
