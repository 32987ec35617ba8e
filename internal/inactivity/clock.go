package inactivity

import (
	"sync"
	"time"
)

// Ticker delivers the periodic ticks that drive monitors.
// This interface allows ticks to be driven manually in tests.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealTicker wraps time.Ticker.
type RealTicker struct {
	t *time.Ticker
}

// NewRealTicker starts a ticker firing every d.
func NewRealTicker(d time.Duration) *RealTicker {
	return &RealTicker{t: time.NewTicker(d)}
}

// C returns the tick channel.
func (r *RealTicker) C() <-chan time.Time {
	return r.t.C
}

// Stop stops the ticker.
func (r *RealTicker) Stop() {
	r.t.Stop()
}

// ManualTicker fires only when told to.
type ManualTicker struct {
	ch      chan time.Time
	stopped chan struct{}
	once    sync.Once
}

// NewManualTicker creates an unbuffered manual ticker, so Fire returns only
// after the consumer has received the tick.
func NewManualTicker() *ManualTicker {
	return &ManualTicker{
		ch:      make(chan time.Time),
		stopped: make(chan struct{}),
	}
}

// C returns the tick channel.
func (m *ManualTicker) C() <-chan time.Time {
	return m.ch
}

// Stop marks the ticker stopped. Pending and later Fire calls return false.
func (m *ManualTicker) Stop() {
	m.once.Do(func() { close(m.stopped) })
}

// Fire delivers n ticks and reports whether all of them were received.
func (m *ManualTicker) Fire(n int) bool {
	for i := 0; i < n; i++ {
		select {
		case m.ch <- time.Now():
		case <-m.stopped:
			return false
		}
	}
	return true
}
