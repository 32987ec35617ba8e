package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "idlewatch.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Inactivity.WarningThresholdSeconds != 1500 {
		t.Errorf("WarningThresholdSeconds = %d, want 1500", cfg.Inactivity.WarningThresholdSeconds)
	}
	if cfg.Inactivity.ExpiryThresholdSeconds != 1800 {
		t.Errorf("ExpiryThresholdSeconds = %d, want 1800", cfg.Inactivity.ExpiryThresholdSeconds)
	}
	if cfg.Inactivity.LogoutPath != "/admin/logout/" {
		t.Errorf("LogoutPath = %q, want /admin/logout/", cfg.Inactivity.LogoutPath)
	}
	if cfg.Inactivity.LoginMarker != "login" {
		t.Errorf("LoginMarker = %q, want login", cfg.Inactivity.LoginMarker)
	}
	if got := cfg.Inactivity.TickIntervalDuration(); got != time.Second {
		t.Errorf("TickIntervalDuration() = %v, want 1s", got)
	}
	if cfg.Storage.Type != "redis" {
		t.Errorf("Storage.Type = %q, want redis", cfg.Storage.Type)
	}
	if cfg.Storage.Redis.Port != 6379 {
		t.Errorf("Storage.Redis.Port = %d, want 6379", cfg.Storage.Redis.Port)
	}
	if !cfg.Admin.SecureCookies {
		t.Error("Admin.SecureCookies should default to true")
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  admin_port: 8080
inactivity:
  warning_threshold_seconds: 60
  expiry_threshold_seconds: 90
  tick_interval: 1000ms
storage:
  redis:
    host: redis.internal
    port: 6380
logging:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.AdminPort != 8080 {
		t.Errorf("AdminPort = %d, want 8080", cfg.Server.AdminPort)
	}
	if cfg.Inactivity.WarningThresholdSeconds != 60 || cfg.Inactivity.ExpiryThresholdSeconds != 90 {
		t.Errorf("thresholds = %d/%d, want 60/90",
			cfg.Inactivity.WarningThresholdSeconds, cfg.Inactivity.ExpiryThresholdSeconds)
	}
	if got := cfg.Inactivity.TickIntervalDuration(); got != time.Second {
		t.Errorf("TickIntervalDuration() = %v, want 1s", got)
	}
	if cfg.Storage.Redis.Host != "redis.internal" || cfg.Storage.Redis.Port != 6380 {
		t.Errorf("redis = %s:%d", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port)
	}
	// Unset keys keep their defaults.
	if cfg.Inactivity.LogoutPath != "/admin/logout/" {
		t.Errorf("LogoutPath = %q", cfg.Inactivity.LogoutPath)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("IDLEWATCH_INACTIVITY_WARNING_THRESHOLD_SECONDS", "100")
	t.Setenv("IDLEWATCH_INACTIVITY_EXPIRY_THRESHOLD_SECONDS", "200")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Inactivity.WarningThresholdSeconds != 100 || cfg.Inactivity.ExpiryThresholdSeconds != 200 {
		t.Errorf("thresholds = %d/%d, want 100/200",
			cfg.Inactivity.WarningThresholdSeconds, cfg.Inactivity.ExpiryThresholdSeconds)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name: "expiry before warning",
			body: `
inactivity:
  warning_threshold_seconds: 1800
  expiry_threshold_seconds: 1500
`,
			wantErr: "must be greater than warning threshold",
		},
		{
			name: "equal thresholds",
			body: `
inactivity:
  warning_threshold_seconds: 1500
  expiry_threshold_seconds: 1500
`,
			wantErr: "must be greater than warning threshold",
		},
		{
			name: "zero warning",
			body: `
inactivity:
  warning_threshold_seconds: 0
`,
			wantErr: "invalid warning threshold",
		},
		{
			name: "bad tick interval",
			body: `
inactivity:
  tick_interval: soon
`,
			wantErr: "inactivity.tick_interval",
		},
		{
			name: "slow tick",
			body: `
inactivity:
  tick_interval: 2s
`,
			wantErr: "must be 1s",
		},
		{
			name: "relative logout path",
			body: `
inactivity:
  logout_path: admin/logout/
`,
			wantErr: "logout path must be absolute",
		},
		{
			name: "unknown storage",
			body: `
storage:
  type: bolt
`,
			wantErr: "unsupported storage type",
		},
		{
			name: "port clash",
			body: `
server:
  admin_port: 9090
  metrics_port: 9090
`,
			wantErr: "must differ",
		},
		{
			name: "bad logging format",
			body: `
logging:
  format: xml
`,
			wantErr: "unsupported logging format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("Load() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.AdminPort != 8000 || cfg.Server.MetricsPort != 9090 {
		t.Errorf("ports = %d/%d, want 8000/9090", cfg.Server.AdminPort, cfg.Server.MetricsPort)
	}
	if cfg.Admin.RateLimitWindow != "1m" {
		t.Errorf("RateLimitWindow = %q, want 1m", cfg.Admin.RateLimitWindow)
	}
}

func TestUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
inactivity:
  warning_threshold_seconds: 60
  expiry_treshold_seconds: 90
admin:
  jwt_secret: s3cret
tls:
  ca_cert: /etc/ca.crt
`)

	unknown, err := UnknownKeys(path)
	if err != nil {
		t.Fatalf("UnknownKeys failed: %v", err)
	}
	want := []string{"inactivity.expiry_treshold_seconds", "tls.ca_cert"}
	if len(unknown) != len(want) {
		t.Fatalf("UnknownKeys() = %v, want %v", unknown, want)
	}
	for i := range want {
		if unknown[i] != want[i] {
			t.Errorf("UnknownKeys()[%d] = %q, want %q", i, unknown[i], want[i])
		}
	}
}
