package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Inactivity InactivityConfig `mapstructure:"inactivity"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	AdminPort   int    `mapstructure:"admin_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// InactivityConfig defines the session inactivity thresholds
type InactivityConfig struct {
	WarningThresholdSeconds int    `mapstructure:"warning_threshold_seconds"`
	ExpiryThresholdSeconds  int    `mapstructure:"expiry_threshold_seconds"`
	TickInterval            string `mapstructure:"tick_interval"`
	LogoutPath              string `mapstructure:"logout_path"`
	LoginMarker             string `mapstructure:"login_marker"` // URLs containing this are never monitored
	ExpiredCacheSize        int    `mapstructure:"expired_cache_size"`
}

// AdminConfig defines admin interface settings
type AdminConfig struct {
	InitialUsername string   `mapstructure:"initial_username"`
	InitialPassword string   `mapstructure:"initial_password"`
	JWTSecret       string   `mapstructure:"jwt_secret"`
	SessionTimeout  string   `mapstructure:"session_timeout"`
	RateLimit       int      `mapstructure:"rate_limit"`
	RateLimitWindow string   `mapstructure:"rate_limit_window"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	SecureCookies   bool     `mapstructure:"secure_cookies"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables.
// An empty configPath uses defaults and environment variables only.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetEnvPrefix("IDLEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.admin_port", 8000)
	v.SetDefault("server.metrics_port", 9090)

	// Inactivity defaults: warn at 25 minutes, log out at 30
	v.SetDefault("inactivity.warning_threshold_seconds", 1500)
	v.SetDefault("inactivity.expiry_threshold_seconds", 1800)
	v.SetDefault("inactivity.tick_interval", "1s")
	v.SetDefault("inactivity.logout_path", "/admin/logout/")
	v.SetDefault("inactivity.login_marker", "login")
	v.SetDefault("inactivity.expired_cache_size", 1024)

	// Admin defaults
	v.SetDefault("admin.initial_username", "admin")
	v.SetDefault("admin.initial_password", "changeme")
	v.SetDefault("admin.jwt_secret", "")
	v.SetDefault("admin.session_timeout", "8h")
	v.SetDefault("admin.rate_limit", 100)
	v.SetDefault("admin.rate_limit_window", "1m")
	v.SetDefault("admin.allowed_origins", []string{})
	v.SetDefault("admin.secure_cookies", true)

	// Storage defaults
	v.SetDefault("storage.type", "redis")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Defaults returns the configuration used when no file or environment
// overrides are present.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// UnknownKeys reads the config file at configPath and returns the keys that
// no setting recognises, sorted.
func UnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	known := viper.New()
	setDefaults(known)
	valid := make(map[string]bool)
	for _, key := range known.AllKeys() {
		valid[key] = true
	}

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !valid[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown, nil
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.AdminPort <= 0 || cfg.Server.AdminPort > 65535 {
		return fmt.Errorf("invalid admin port: %d", cfg.Server.AdminPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}
	if cfg.Server.AdminPort == cfg.Server.MetricsPort {
		return fmt.Errorf("admin and metrics ports must differ: %d", cfg.Server.AdminPort)
	}

	in := cfg.Inactivity
	if in.WarningThresholdSeconds <= 0 {
		return fmt.Errorf("invalid warning threshold: %d", in.WarningThresholdSeconds)
	}
	if in.ExpiryThresholdSeconds <= in.WarningThresholdSeconds {
		return fmt.Errorf("expiry threshold (%d) must be greater than warning threshold (%d)",
			in.ExpiryThresholdSeconds, in.WarningThresholdSeconds)
	}
	// elapsed counts ticks, so thresholds are only seconds at one tick per second
	tick, err := positiveDuration("inactivity.tick_interval", in.TickInterval)
	if err != nil {
		return err
	}
	if tick != time.Second {
		return fmt.Errorf("invalid inactivity.tick_interval %q: must be 1s", in.TickInterval)
	}
	if !strings.HasPrefix(in.LogoutPath, "/") {
		return fmt.Errorf("logout path must be absolute: %q", in.LogoutPath)
	}
	if in.LoginMarker == "" {
		return fmt.Errorf("login marker is required")
	}

	if _, err := positiveDuration("admin.session_timeout", cfg.Admin.SessionTimeout); err != nil {
		return err
	}
	if _, err := positiveDuration("admin.rate_limit_window", cfg.Admin.RateLimitWindow); err != nil {
		return err
	}
	if cfg.Admin.RateLimit <= 0 {
		return fmt.Errorf("invalid admin rate limit: %d", cfg.Admin.RateLimit)
	}

	switch cfg.Storage.Type {
	case "", "redis":
		cfg.Storage.Type = "redis"
	default:
		return fmt.Errorf("unsupported storage type: %q (supported: redis)", cfg.Storage.Type)
	}
	if cfg.Storage.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "console", "text":
	default:
		return fmt.Errorf("unsupported logging format: %q", cfg.Logging.Format)
	}

	return nil
}

func positiveDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, value)
	}
	return d, nil
}

// TickIntervalDuration returns the parsed tick interval. Load has already validated it.
func (c InactivityConfig) TickIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.TickInterval)
	return d
}
