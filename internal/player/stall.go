package player

import (
	"sync"
	"time"
)

// DefaultStallGracePeriod is how long the buffer may stay empty before a
// stall is reported.
const DefaultStallGracePeriod = time.Second

// StallMonitor converts a sustained buffer-empty condition into a single
// stall report. Arming while already armed restarts the grace period;
// cancelling before expiry suppresses the report entirely. The monitor never
// fires more than once per arming.
type StallMonitor struct {
	grace   time.Duration
	onStall func()

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// NewStallMonitor creates a monitor that invokes onStall after the grace
// period elapses without cancellation. A non-positive grace falls back to
// DefaultStallGracePeriod.
func NewStallMonitor(grace time.Duration, onStall func()) *StallMonitor {
	if grace <= 0 {
		grace = DefaultStallGracePeriod
	}
	return &StallMonitor{grace: grace, onStall: onStall}
}

// Arm starts or restarts the grace timer.
func (m *StallMonitor) Arm() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Stop()
	}
	m.gen++
	gen := m.gen
	m.timer = time.AfterFunc(m.grace, func() {
		m.fire(gen)
	})
}

// Cancel stops the timer if armed. Safe to call at any time.
func (m *StallMonitor) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.gen++
}

// Armed reports whether the grace timer is currently running.
func (m *StallMonitor) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}

// fire runs the stall callback unless this arming was superseded or
// cancelled after the timer function was scheduled.
func (m *StallMonitor) fire(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.timer == nil {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()

	m.onStall()
}
