package inactivity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestRegistry(t *testing.T, warning, expiry int) *Registry {
	t.Helper()

	reg, err := NewRegistry(RegistryConfig{
		Monitor: Config{
			WarningThresholdSeconds: warning,
			ExpiryThresholdSeconds:  expiry,
		},
		ExpiredCacheSize: 8,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return reg
}

func TestNewRegistry_Defaults(t *testing.T) {
	reg, err := NewRegistry(RegistryConfig{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	cfg := reg.Config()
	if cfg.Monitor.WarningThresholdSeconds != 1500 || cfg.Monitor.ExpiryThresholdSeconds != 1800 {
		t.Errorf("thresholds = %d/%d, want 1500/1800",
			cfg.Monitor.WarningThresholdSeconds, cfg.Monitor.ExpiryThresholdSeconds)
	}
	if cfg.TickInterval != time.Second {
		t.Errorf("TickInterval = %v, want 1s", cfg.TickInterval)
	}
	if cfg.LoginMarker != "login" {
		t.Errorf("LoginMarker = %q, want login", cfg.LoginMarker)
	}
	if cfg.Monitor.LogoutPath != "/admin/logout/" {
		t.Errorf("LogoutPath = %q", cfg.Monitor.LogoutPath)
	}
}

func TestNewRegistry_InvalidThresholds(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{
		Monitor: Config{WarningThresholdSeconds: 1800, ExpiryThresholdSeconds: 1500},
	}, zerolog.Nop())
	if !errors.Is(err, ErrInvalidThresholds) {
		t.Errorf("NewRegistry() error = %v, want ErrInvalidThresholds", err)
	}
}

func TestRegistry_LoginPageNotMonitored(t *testing.T) {
	reg := newTestRegistry(t, 2, 4)
	rec := &recorder{}

	_, err := reg.Open("sess-1", "admin", "/admin/login/?next=/admin/", rec, rec)
	if !errors.Is(err, ErrLoginPage) {
		t.Fatalf("Open() error = %v, want ErrLoginPage", err)
	}
	if reg.Count() != 0 {
		t.Errorf("Count() = %d, want 0", reg.Count())
	}

	for i := 0; i < 10; i++ {
		reg.Tick()
	}
	if shown, _, _, nav := rec.counts(); shown != 0 || len(nav) != 0 {
		t.Errorf("login page got side effects: shown=%d nav=%v", shown, nav)
	}
}

func TestRegistry_TicksAllPages(t *testing.T) {
	reg := newTestRegistry(t, 2, 4)
	recA, recB := &recorder{}, &recorder{}

	pageA, err := reg.Open("sess-1", "admin", "/admin/", recA, recA)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	pageB, err := reg.Open("sess-2", "officer", "/admin/elections/", recB, recB)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	reg.Tick()
	reg.Tick()
	if !pageA.Monitor().WarningVisible() || !pageB.Monitor().WarningVisible() {
		t.Fatal("both pages should show the warning after two ticks")
	}

	if err := reg.RecordActivity(pageB.ID, ActivityKeyPress); err != nil {
		t.Fatalf("RecordActivity() failed: %v", err)
	}

	reg.Tick()
	reg.Tick()

	if _, err := reg.Get(pageA.ID); !errors.Is(err, ErrPageExpired) {
		t.Errorf("Get(pageA) error = %v, want ErrPageExpired", err)
	}
	if _, err := reg.Get(pageB.ID); err != nil {
		t.Errorf("Get(pageB) error = %v, want nil", err)
	}
	if reg.Count() != 1 {
		t.Errorf("Count() = %d, want 1", reg.Count())
	}

	if _, _, _, nav := recA.counts(); len(nav) != 1 {
		t.Errorf("pageA navigated %d times, want 1", len(nav))
	}
	if _, _, _, nav := recB.counts(); len(nav) != 0 {
		t.Errorf("pageB navigated %d times, want 0", len(nav))
	}
}

func TestRegistry_ExpireHook(t *testing.T) {
	reg := newTestRegistry(t, 1, 2)

	var mu sync.Mutex
	var expired []string
	reg.SetExpireHook(func(p *Page) {
		mu.Lock()
		defer mu.Unlock()
		expired = append(expired, p.SessionID)
	})

	if _, err := reg.Open("sess-9", "admin", "/admin/", nil, nil); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		reg.Tick()
	}

	mu.Lock()
	defer mu.Unlock()
	if len(expired) != 1 || expired[0] != "sess-9" {
		t.Errorf("expired = %v, want [sess-9]", expired)
	}
}

func TestRegistry_UnknownPage(t *testing.T) {
	reg := newTestRegistry(t, 2, 4)

	if err := reg.RecordActivity("missing", ActivityScroll); !errors.Is(err, ErrPageNotFound) {
		t.Errorf("RecordActivity() error = %v, want ErrPageNotFound", err)
	}
	if reg.Close("missing") {
		t.Error("Close() of unknown page should report false")
	}
}

func TestRegistry_ActivityOnExpiredPage(t *testing.T) {
	reg := newTestRegistry(t, 1, 2)

	page, err := reg.Open("sess-1", "admin", "/admin/", nil, nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	reg.Tick()
	reg.Tick()

	if err := reg.RecordActivity(page.ID, ActivityPointerMove); !errors.Is(err, ErrPageExpired) {
		t.Errorf("RecordActivity() error = %v, want ErrPageExpired", err)
	}
}

func TestRegistry_CloseSession(t *testing.T) {
	reg := newTestRegistry(t, 10, 20)

	for _, url := range []string{"/admin/", "/admin/voters/", "/admin/results/"} {
		if _, err := reg.Open("sess-1", "admin", url, nil, nil); err != nil {
			t.Fatalf("Open(%s) failed: %v", url, err)
		}
	}
	if _, err := reg.Open("sess-2", "other", "/admin/", nil, nil); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	closed := reg.CloseSession("sess-1")
	if len(closed) != 3 {
		t.Errorf("CloseSession() closed %d pages, want 3", len(closed))
	}
	for _, p := range closed {
		if p.SessionID != "sess-1" {
			t.Errorf("closed page of session %s", p.SessionID)
		}
	}
	if reg.Count() != 1 {
		t.Errorf("Count() = %d, want 1", reg.Count())
	}
}

func TestRegistry_Snapshot(t *testing.T) {
	reg := newTestRegistry(t, 5, 10)

	first, _ := reg.Open("sess-1", "admin", "/admin/", nil, nil)
	time.Sleep(time.Millisecond)
	second, _ := reg.Open("sess-1", "admin", "/admin/voters/", nil, nil)

	for i := 0; i < 6; i++ {
		reg.Tick()
	}
	_ = reg.RecordActivity(second.ID, ActivityContinue)

	snap := reg.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot() len = %d, want 2", len(snap))
	}
	if snap[0].ID != first.ID || snap[1].ID != second.ID {
		t.Errorf("Snapshot() not ordered by creation time")
	}
	if snap[0].State != "warning" || !snap[0].WarningVisible || snap[0].ElapsedSeconds != 6 {
		t.Errorf("first page status = %+v, want warning at 6s", snap[0].Status)
	}
	if snap[1].State != "active" || snap[1].ElapsedSeconds != 0 {
		t.Errorf("second page status = %+v, want active at 0s", snap[1].Status)
	}
}

func TestRegistry_RunWithManualTicker(t *testing.T) {
	reg := newTestRegistry(t, 1, 3)
	ticker := NewManualTicker()
	reg.SetTickerFactory(func(time.Duration) Ticker { return ticker })

	expiredCh := make(chan string, 1)
	reg.SetExpireHook(func(p *Page) { expiredCh <- p.ID })

	page, err := reg.Open("sess-1", "admin", "/admin/", nil, nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- reg.Run(ctx) }()

	ticker.Fire(3)

	select {
	case id := <-expiredCh:
		if id != page.ID {
			t.Errorf("expired page = %s, want %s", id, page.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("page did not expire")
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestShouldMonitor(t *testing.T) {
	tests := []struct {
		url    string
		marker string
		want   bool
	}{
		{"/admin/", "", true},
		{"/admin/login/", "", false},
		{"https://vote.example.in/admin/login/?next=/admin/", "", false},
		{"/users/login", "login", false},
		{"/admin/elections/add/", "login", true},
		{"/admin/signin/", "signin", false},
	}

	for _, tt := range tests {
		if got := ShouldMonitor(tt.url, tt.marker); got != tt.want {
			t.Errorf("ShouldMonitor(%q, %q) = %v, want %v", tt.url, tt.marker, got, tt.want)
		}
	}
}

func TestParseActivity(t *testing.T) {
	for _, kind := range DOMEvents {
		got, err := ParseActivity(string(kind))
		if err != nil || got != kind {
			t.Errorf("ParseActivity(%q) = %q, %v", kind, got, err)
		}
	}

	if got, err := ParseActivity(" KeyPress "); err != nil || got != ActivityKeyPress {
		t.Errorf("ParseActivity should normalize case and spaces, got %q, %v", got, err)
	}
	if got, err := ParseActivity("continue"); err != nil || got != ActivityContinue {
		t.Errorf("ParseActivity(continue) = %q, %v", got, err)
	}

	for _, bad := range []string{"", "click", "focus", "mouseover"} {
		if _, err := ParseActivity(bad); !errors.Is(err, ErrUnknownActivity) {
			t.Errorf("ParseActivity(%q) error = %v, want ErrUnknownActivity", bad, err)
		}
	}
}
