package main

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/idlewatch/internal/config"
	"github.com/spf13/cobra"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the idlewatch configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	unknownKeys, err := config.UnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		_, _ = fmt.Fprintln(os.Stdout)
		_, _ = red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		_, _ = fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(cfg, config.Defaults())
	}

	return nil
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(cfg, defaultCfg *config.Config) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	// Server
	_, _ = cyan.Println("\n[server]")
	dumpField("  bind_address", cfg.Server.BindAddress, defaultCfg.Server.BindAddress, yellow, green)
	dumpField("  admin_port", cfg.Server.AdminPort, defaultCfg.Server.AdminPort, yellow, green)
	dumpField("  metrics_port", cfg.Server.MetricsPort, defaultCfg.Server.MetricsPort, yellow, green)

	// Inactivity
	_, _ = cyan.Println("\n[inactivity]")
	dumpField("  warning_threshold_seconds", cfg.Inactivity.WarningThresholdSeconds, defaultCfg.Inactivity.WarningThresholdSeconds, yellow, green)
	dumpField("  expiry_threshold_seconds", cfg.Inactivity.ExpiryThresholdSeconds, defaultCfg.Inactivity.ExpiryThresholdSeconds, yellow, green)
	dumpField("  tick_interval", cfg.Inactivity.TickInterval, defaultCfg.Inactivity.TickInterval, yellow, green)
	dumpField("  logout_path", cfg.Inactivity.LogoutPath, defaultCfg.Inactivity.LogoutPath, yellow, green)
	dumpField("  login_marker", cfg.Inactivity.LoginMarker, defaultCfg.Inactivity.LoginMarker, yellow, green)
	dumpField("  expired_cache_size", cfg.Inactivity.ExpiredCacheSize, defaultCfg.Inactivity.ExpiredCacheSize, yellow, green)

	// Admin
	_, _ = cyan.Println("\n[admin]")
	dumpField("  initial_username", cfg.Admin.InitialUsername, defaultCfg.Admin.InitialUsername, yellow, green)
	dumpField("  initial_password", redactPassword(cfg.Admin.InitialPassword), redactPassword(defaultCfg.Admin.InitialPassword), yellow, green)
	dumpField("  jwt_secret", redactPassword(cfg.Admin.JWTSecret), redactPassword(defaultCfg.Admin.JWTSecret), yellow, green)
	dumpField("  session_timeout", cfg.Admin.SessionTimeout, defaultCfg.Admin.SessionTimeout, yellow, green)
	dumpField("  rate_limit", cfg.Admin.RateLimit, defaultCfg.Admin.RateLimit, yellow, green)
	dumpField("  rate_limit_window", cfg.Admin.RateLimitWindow, defaultCfg.Admin.RateLimitWindow, yellow, green)
	dumpField("  allowed_origins", cfg.Admin.AllowedOrigins, defaultCfg.Admin.AllowedOrigins, yellow, green)
	dumpField("  secure_cookies", cfg.Admin.SecureCookies, defaultCfg.Admin.SecureCookies, yellow, green)

	// Storage
	_, _ = cyan.Println("\n[storage]")
	dumpField("  type", cfg.Storage.Type, defaultCfg.Storage.Type, yellow, green)
	_, _ = cyan.Println("  [storage.redis]")
	dumpField("    host", cfg.Storage.Redis.Host, defaultCfg.Storage.Redis.Host, yellow, green)
	dumpField("    port", cfg.Storage.Redis.Port, defaultCfg.Storage.Redis.Port, yellow, green)
	dumpField("    password", redactPassword(cfg.Storage.Redis.Password), redactPassword(defaultCfg.Storage.Redis.Password), yellow, green)
	dumpField("    db", cfg.Storage.Redis.DB, defaultCfg.Storage.Redis.DB, yellow, green)
	dumpField("    pool_size", cfg.Storage.Redis.PoolSize, defaultCfg.Storage.Redis.PoolSize, yellow, green)
	dumpField("    min_idle_conns", cfg.Storage.Redis.MinIdleConns, defaultCfg.Storage.Redis.MinIdleConns, yellow, green)
	dumpField("    dial_timeout", cfg.Storage.Redis.DialTimeout, defaultCfg.Storage.Redis.DialTimeout, yellow, green)
	dumpField("    read_timeout", cfg.Storage.Redis.ReadTimeout, defaultCfg.Storage.Redis.ReadTimeout, yellow, green)
	dumpField("    write_timeout", cfg.Storage.Redis.WriteTimeout, defaultCfg.Storage.Redis.WriteTimeout, yellow, green)

	// Logging
	_, _ = cyan.Println("\n[logging]")
	dumpField("  level", cfg.Logging.Level, defaultCfg.Logging.Level, yellow, green)
	dumpField("  format", cfg.Logging.Format, defaultCfg.Logging.Format, yellow, green)

	_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	isDefault := reflect.DeepEqual(value, defaultValue)

	valueStr := fmt.Sprintf("%v", value)

	if isDefault {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}
