package inactivity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/goodtune/idlewatch/internal/metrics"
)

const (
	// DefaultTickInterval is the period of the inactivity tick.
	DefaultTickInterval = time.Second

	// DefaultExpiredCacheSize bounds how many expired page IDs are remembered.
	DefaultExpiredCacheSize = 1024
)

var (
	// ErrLoginPage is returned when a monitor is requested for the login page.
	ErrLoginPage = errors.New("inactivity: login page is not monitored")

	// ErrPageNotFound is returned for unknown page IDs.
	ErrPageNotFound = errors.New("inactivity: page not found")

	// ErrPageExpired is returned for pages that already timed out.
	ErrPageExpired = errors.New("inactivity: page expired")
)

// Page is one monitored view of an authenticated admin page.
type Page struct {
	ID        string
	SessionID string
	Username  string
	URL       string
	CreatedAt time.Time

	monitor *Monitor
}

// Monitor returns the page's inactivity monitor.
func (p *Page) Monitor() *Monitor {
	return p.monitor
}

// PageStatus is a listing entry for an open page.
type PageStatus struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Username  string    `json:"username"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
	Status
}

// ExpireFunc is called once for every page that reaches the expiry threshold.
type ExpireFunc func(p *Page)

// RegistryConfig holds registry configuration.
type RegistryConfig struct {
	Monitor          Config
	TickInterval     time.Duration
	LoginMarker      string
	ExpiredCacheSize int
}

// Registry owns the monitors of all open page views and ticks them from a
// single tick source.
type Registry struct {
	cfg       RegistryConfig
	pages     map[string]*Page // key: page ID
	expired   *lru.Cache[string, time.Time]
	onExpire  ExpireFunc
	newTicker func(time.Duration) Ticker
	logger    zerolog.Logger
	mu        sync.RWMutex
}

// NewRegistry creates a page registry.
func NewRegistry(cfg RegistryConfig, logger zerolog.Logger) (*Registry, error) {
	if cfg.Monitor.WarningThresholdSeconds == 0 && cfg.Monitor.ExpiryThresholdSeconds == 0 {
		def := DefaultConfig()
		cfg.Monitor.WarningThresholdSeconds = def.WarningThresholdSeconds
		cfg.Monitor.ExpiryThresholdSeconds = def.ExpiryThresholdSeconds
	}
	if cfg.Monitor.LogoutPath == "" {
		cfg.Monitor.LogoutPath = DefaultLogoutPath
	}
	if err := cfg.Monitor.Validate(); err != nil {
		return nil, err
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.LoginMarker == "" {
		cfg.LoginMarker = DefaultLoginMarker
	}
	if cfg.ExpiredCacheSize <= 0 {
		cfg.ExpiredCacheSize = DefaultExpiredCacheSize
	}

	expired, err := lru.New[string, time.Time](cfg.ExpiredCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create expired page cache: %w", err)
	}

	return &Registry{
		cfg:     cfg,
		pages:   make(map[string]*Page),
		expired: expired,
		newTicker: func(d time.Duration) Ticker {
			return NewRealTicker(d)
		},
		logger: logger.With().Str("component", "inactivity").Logger(),
	}, nil
}

// SetExpireHook registers the function called when a page expires.
func (r *Registry) SetExpireHook(fn ExpireFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = fn
}

// SetTickerFactory replaces the tick source used by Run.
func (r *Registry) SetTickerFactory(fn func(time.Duration) Ticker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.newTicker = fn
}

// Config returns the effective registry configuration.
func (r *Registry) Config() RegistryConfig {
	return r.cfg
}

// Open starts monitoring a page view. It returns ErrLoginPage for the login page.
func (r *Registry) Open(sessionID, username, url string, panel Panel, navigator Navigator) (*Page, error) {
	if !ShouldMonitor(url, r.cfg.LoginMarker) {
		return nil, ErrLoginPage
	}

	monitor, err := NewMonitor(r.cfg.Monitor, panel, navigator)
	if err != nil {
		return nil, err
	}

	page := &Page{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Username:  username,
		URL:       url,
		CreatedAt: time.Now(),
		monitor:   monitor,
	}

	r.mu.Lock()
	r.pages[page.ID] = page
	count := len(r.pages)
	r.mu.Unlock()

	metrics.PagesOpened.Inc()
	metrics.PagesMonitored.Set(float64(count))

	r.logger.Debug().
		Str("page_id", page.ID).
		Str("session_id", sessionID).
		Str("url", url).
		Msg("Started inactivity monitor")

	return page, nil
}

// Get returns an open page.
func (r *Registry) Get(id string) (*Page, error) {
	r.mu.RLock()
	page, ok := r.pages[id]
	r.mu.RUnlock()

	if ok {
		return page, nil
	}
	if r.expired.Contains(id) {
		return nil, ErrPageExpired
	}
	return nil, ErrPageNotFound
}

// RecordActivity resets the monitor of an open page.
func (r *Registry) RecordActivity(id string, activity Activity) error {
	page, err := r.Get(id)
	if err != nil {
		return err
	}

	metrics.ActivityEvents.WithLabelValues(activity.String()).Inc()

	if page.monitor.RecordActivity() {
		metrics.WarningsDismissed.Inc()
		r.logger.Debug().
			Str("page_id", id).
			Str("activity", activity.String()).
			Msg("Session warning dismissed")
	}

	if page.monitor.IsExpired() {
		return ErrPageExpired
	}
	return nil
}

// Close stops monitoring a page that was navigated away from or reloaded.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	_, ok := r.pages[id]
	delete(r.pages, id)
	count := len(r.pages)
	r.mu.Unlock()

	if ok {
		metrics.PagesMonitored.Set(float64(count))
	}
	return ok
}

// CloseSession stops monitoring every page of an admin session and returns them.
func (r *Registry) CloseSession(sessionID string) []*Page {
	r.mu.Lock()
	var closed []*Page
	for id, page := range r.pages {
		if page.SessionID == sessionID {
			delete(r.pages, id)
			closed = append(closed, page)
		}
	}
	count := len(r.pages)
	r.mu.Unlock()

	if len(closed) > 0 {
		metrics.PagesMonitored.Set(float64(count))
		r.logger.Debug().
			Str("session_id", sessionID).
			Int("pages", len(closed)).
			Msg("Closed session pages")
	}
	return closed
}

// Tick advances every open monitor by one tick and retires the pages that expired.
func (r *Registry) Tick() {
	start := time.Now()

	r.mu.RLock()
	pages := make([]*Page, 0, len(r.pages))
	for _, page := range r.pages {
		pages = append(pages, page)
	}
	onExpire := r.onExpire
	r.mu.RUnlock()

	var expired []*Page
	for _, page := range pages {
		switch page.monitor.Tick() {
		case TransitionWarning:
			metrics.WarningsShown.Inc()
			r.logger.Info().
				Str("page_id", page.ID).
				Str("username", page.Username).
				Int("elapsed_seconds", page.monitor.Elapsed()).
				Msg("Session timeout warning shown")
		case TransitionExpired:
			expired = append(expired, page)
		}
	}

	if len(expired) > 0 {
		r.retire(expired, onExpire)
	}

	metrics.TickDuration.Observe(time.Since(start).Seconds())
}

func (r *Registry) retire(expired []*Page, onExpire ExpireFunc) {
	now := time.Now()

	r.mu.Lock()
	for _, page := range expired {
		delete(r.pages, page.ID)
		r.expired.Add(page.ID, now)
	}
	count := len(r.pages)
	r.mu.Unlock()

	metrics.PagesMonitored.Set(float64(count))

	for _, page := range expired {
		metrics.SessionsExpired.Inc()
		r.logger.Info().
			Str("page_id", page.ID).
			Str("session_id", page.SessionID).
			Str("username", page.Username).
			Str("logout_path", r.cfg.Monitor.LogoutPath).
			Msg("Session expired due to inactivity")

		if onExpire != nil {
			onExpire(page)
		}
	}
}

// Run ticks the registry every TickInterval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) error {
	r.mu.RLock()
	ticker := r.newTicker(r.cfg.TickInterval)
	r.mu.RUnlock()
	defer ticker.Stop()

	r.logger.Info().
		Dur("interval", r.cfg.TickInterval).
		Int("warning_threshold_seconds", r.cfg.Monitor.WarningThresholdSeconds).
		Int("expiry_threshold_seconds", r.cfg.Monitor.ExpiryThresholdSeconds).
		Msg("Inactivity ticker started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Inactivity ticker stopped")
			return ctx.Err()
		case <-ticker.C():
			r.Tick()
		}
	}
}

// Count returns the number of open pages.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pages)
}

// Snapshot lists the open pages, oldest first.
func (r *Registry) Snapshot() []PageStatus {
	r.mu.RLock()
	pages := make([]*Page, 0, len(r.pages))
	for _, page := range r.pages {
		pages = append(pages, page)
	}
	r.mu.RUnlock()

	sort.Slice(pages, func(i, j int) bool {
		return pages[i].CreatedAt.Before(pages[j].CreatedAt)
	})

	out := make([]PageStatus, 0, len(pages))
	for _, page := range pages {
		out = append(out, PageStatus{
			ID:        page.ID,
			SessionID: page.SessionID,
			Username:  page.Username,
			URL:       page.URL,
			CreatedAt: page.CreatedAt,
			Status:    page.monitor.Status(),
		})
	}
	return out
}
