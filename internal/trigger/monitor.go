package trigger

import (
	"sync"
	"time"
)

// DefaultLinger is how long recording continues after the last activity.
const DefaultLinger = 7 * time.Second

// ActivityMonitor holds the pulse, last-activity and pedal-held state shared
// between the event consumer and the control loop.
type ActivityMonitor struct {
	mu           sync.Mutex
	now          func() time.Time
	pulse        bool
	lastActivity time.Time
	hasActivity  bool
	pedalHeld    bool
}

// NewActivityMonitor returns a monitor using the wall clock.
func NewActivityMonitor() *ActivityMonitor {
	return NewActivityMonitorWithClock(time.Now)
}

// NewActivityMonitorWithClock returns a monitor that reads time from now.
func NewActivityMonitorWithClock(now func() time.Time) *ActivityMonitor {
	if now == nil {
		now = time.Now
	}
	return &ActivityMonitor{now: now}
}

// RecordActivity raises the pulse and restarts the stop countdown.
func (m *ActivityMonitor) RecordActivity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pulse = true
	m.touch()
}

// RecordPedalPress is RecordActivity plus marking the pedal as held.
func (m *ActivityMonitor) RecordPedalPress() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pulse = true
	m.pedalHeld = true
	m.touch()
}

// RecordPedalRelease clears the held flag and restarts the countdown from
// the release instant. It does not raise a pulse.
func (m *ActivityMonitor) RecordPedalRelease() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pedalHeld = false
	m.touch()
}

// Apply routes a debouncer result into the monitor.
func (m *ActivityMonitor) Apply(r Result) {
	switch {
	case r.Pedal == PedalPressed:
		m.RecordPedalPress()
	case r.Pedal == PedalReleased:
		m.RecordPedalRelease()
	case r.NoteOn:
		m.RecordActivity()
	}
}

// CheckAndClearPulse returns whether a pulse occurred since the last call.
func (m *ActivityMonitor) CheckAndClearPulse() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pulse
	m.pulse = false
	return p
}

// ShouldStop reports whether the pedal is up and more than linger has
// passed since the last activity.
func (m *ActivityMonitor) ShouldStop(now time.Time, linger time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pedalHeld || !m.hasActivity {
		return false
	}
	return now.Sub(m.lastActivity) > linger
}

// LastActivity returns the last activity time, if any.
func (m *ActivityMonitor) LastActivity() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity, m.hasActivity
}

// PedalHeld reports the held flag.
func (m *ActivityMonitor) PedalHeld() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pedalHeld
}

func (m *ActivityMonitor) touch() {
	m.lastActivity = m.now()
	m.hasActivity = true
}
