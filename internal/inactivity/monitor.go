package inactivity

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

const (
	// DefaultWarningThresholdSeconds is the idle time after which the warning panel is shown (25 minutes).
	DefaultWarningThresholdSeconds = 25 * 60

	// DefaultExpiryThresholdSeconds is the idle time after which the page is sent to logout (30 minutes).
	DefaultExpiryThresholdSeconds = 30 * 60

	// DefaultLogoutPath is where an expired page is navigated.
	DefaultLogoutPath = "/admin/logout/"

	// WarningElementID is the DOM identifier of the warning panel.
	WarningElementID = "session-warning"
)

// ErrInvalidThresholds is returned when the expiry threshold does not follow the warning threshold.
var ErrInvalidThresholds = errors.New("inactivity: expiry threshold must be greater than warning threshold")

// State is the inactivity state of a monitored page.
type State int

const (
	StateActive State = iota
	StateWarning
	StateExpired
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateWarning:
		return "warning"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transition describes what a single Tick did.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionWarning
	TransitionExpired
)

// Panel is the warning UI. Show and Hide are projections of the monitor's
// warningVisible flag and are called in lockstep with it.
type Panel interface {
	Show()
	Hide()
}

// Navigator performs the full-page navigation away from an expired page.
type Navigator interface {
	Navigate(path string)
}

// Config holds the monitor thresholds.
type Config struct {
	WarningThresholdSeconds int
	ExpiryThresholdSeconds  int
	LogoutPath              string
}

// DefaultConfig returns the 25/30 minute thresholds.
func DefaultConfig() Config {
	return Config{
		WarningThresholdSeconds: DefaultWarningThresholdSeconds,
		ExpiryThresholdSeconds:  DefaultExpiryThresholdSeconds,
		LogoutPath:              DefaultLogoutPath,
	}
}

// Validate checks the threshold invariant.
func (c Config) Validate() error {
	if c.WarningThresholdSeconds <= 0 {
		return fmt.Errorf("invalid warning threshold %d: %w", c.WarningThresholdSeconds, ErrInvalidThresholds)
	}
	if c.ExpiryThresholdSeconds <= c.WarningThresholdSeconds {
		return fmt.Errorf("warning=%d expiry=%d: %w", c.WarningThresholdSeconds, c.ExpiryThresholdSeconds, ErrInvalidThresholds)
	}
	return nil
}

// Monitor counts idle seconds for one page view and drives the warning panel
// and the logout navigation.
//
// Panel and Navigator calls are serialized and happen outside the state lock,
// so accessors stay usable while a side effect runs. They must not call back
// into the same Monitor's Tick or RecordActivity.
type Monitor struct {
	fx sync.Mutex // serializes side effects in decision order
	mu sync.Mutex

	elapsed        int
	warningVisible bool
	expired        bool

	warningAt  int
	expireAt   int
	logoutPath string

	panel     Panel
	navigator Navigator
}

// NewMonitor creates a monitor in the Active state with zero elapsed seconds.
// A nil panel or navigator turns that side effect into a no-op.
func NewMonitor(cfg Config, panel Panel, navigator Navigator) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.LogoutPath == "" {
		cfg.LogoutPath = DefaultLogoutPath
	}

	return &Monitor{
		warningAt:  cfg.WarningThresholdSeconds,
		expireAt:   cfg.ExpiryThresholdSeconds,
		logoutPath: cfg.LogoutPath,
		panel:      panel,
		navigator:  navigator,
	}, nil
}

// Tick advances the idle counter by one second and applies at most one
// transition. Expiry is checked before the warning.
func (m *Monitor) Tick() Transition {
	m.fx.Lock()
	defer m.fx.Unlock()

	m.mu.Lock()
	if m.expired {
		m.mu.Unlock()
		return TransitionNone
	}

	m.elapsed++

	var tr Transition
	switch {
	case m.elapsed >= m.expireAt:
		m.expired = true
		tr = TransitionExpired
	case m.elapsed >= m.warningAt && !m.warningVisible:
		m.warningVisible = true
		tr = TransitionWarning
	}
	path := m.logoutPath
	m.mu.Unlock()

	switch tr {
	case TransitionExpired:
		if m.navigator != nil {
			m.navigator.Navigate(path)
		}
	case TransitionWarning:
		if m.panel != nil {
			m.panel.Show()
		}
	}

	return tr
}

// RecordActivity resets the idle counter and removes the warning panel if it
// is visible. It reports whether the panel was dismissed. Activity after
// expiry is ignored: the page is already navigating away.
func (m *Monitor) RecordActivity() bool {
	m.fx.Lock()
	defer m.fx.Unlock()

	m.mu.Lock()
	if m.expired {
		m.mu.Unlock()
		return false
	}
	m.elapsed = 0
	dismissed := m.warningVisible
	m.warningVisible = false
	m.mu.Unlock()

	if dismissed && m.panel != nil {
		m.panel.Hide()
	}
	return dismissed
}

// Continue is the warning panel's "continue session" control.
func (m *Monitor) Continue() bool {
	return m.RecordActivity()
}

// Consume records every activity received on ch until ctx is done or ch is closed.
func (m *Monitor) Consume(ctx context.Context, ch <-chan Activity) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			m.RecordActivity()
		}
	}
}

// Run ticks the monitor on every tick of t until the monitor expires or ctx is done.
func (m *Monitor) Run(ctx context.Context, t Ticker) error {
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C():
			if m.Tick() == TransitionExpired {
				return nil
			}
		}
	}
}

// IsExpired reports whether the monitor reached the expiry threshold.
func (m *Monitor) IsExpired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expired
}

// Elapsed returns the seconds since the last activity.
func (m *Monitor) Elapsed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.elapsed
}

// WarningVisible reports whether the warning panel is currently displayed.
func (m *Monitor) WarningVisible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.warningVisible
}

// State derives the state from the elapsed counter.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Monitor) stateLocked() State {
	switch {
	case m.expired || m.elapsed >= m.expireAt:
		return StateExpired
	case m.elapsed >= m.warningAt:
		return StateWarning
	default:
		return StateActive
	}
}

// Remaining returns the seconds left before expiry.
func (m *Monitor) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired {
		return 0
	}
	return m.expireAt - m.elapsed
}

// Status is a point-in-time view of a monitor.
type Status struct {
	State            string `json:"state"`
	ElapsedSeconds   int    `json:"elapsed_seconds"`
	RemainingSeconds int    `json:"remaining_seconds"`
	WarningVisible   bool   `json:"warning_visible"`
	Redirect         string `json:"redirect,omitempty"`
}

// Status returns the current monitor status. Redirect is set once expired.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		State:            m.stateLocked().String(),
		ElapsedSeconds:   m.elapsed,
		RemainingSeconds: m.expireAt - m.elapsed,
		WarningVisible:   m.warningVisible,
	}
	if m.expired {
		st.RemainingSeconds = 0
		st.Redirect = m.logoutPath
	}
	return st
}
