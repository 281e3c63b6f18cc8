package trigger

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestPulseIsConsumedOnce(t *testing.T) {
	m := NewActivityMonitor()
	if m.CheckAndClearPulse() {
		t.Fatal("fresh monitor reported a pulse")
	}
	m.RecordActivity()
	m.RecordActivity()
	if !m.CheckAndClearPulse() {
		t.Fatal("expected pulse after activity")
	}
	if m.CheckAndClearPulse() {
		t.Fatal("pulse should be cleared after the first read")
	}
}

func TestShouldStop(t *testing.T) {
	clk := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}

	tests := []struct {
		name  string
		setup func(m *ActivityMonitor)
		after time.Duration
		want  bool
	}{
		{
			name:  "no activity yet",
			setup: func(m *ActivityMonitor) {},
			after: time.Hour,
			want:  false,
		},
		{
			name:  "note then silence past linger",
			setup: func(m *ActivityMonitor) { m.RecordActivity() },
			after: 8 * time.Second,
			want:  true,
		},
		{
			name:  "exactly at linger is not enough",
			setup: func(m *ActivityMonitor) { m.RecordActivity() },
			after: DefaultLinger,
			want:  false,
		},
		{
			name:  "pedal held blocks stop",
			setup: func(m *ActivityMonitor) { m.RecordPedalPress() },
			after: time.Minute,
			want:  false,
		},
		{
			name: "release restarts countdown",
			setup: func(m *ActivityMonitor) {
				m.RecordPedalPress()
				clk.Advance(30 * time.Second)
				m.RecordPedalRelease()
			},
			after: 5 * time.Second,
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewActivityMonitorWithClock(clk.Now)
			tt.setup(m)
			now := clk.Now().Add(tt.after)
			if got := m.ShouldStop(now, DefaultLinger); got != tt.want {
				t.Errorf("ShouldStop = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReleaseDoesNotPulse(t *testing.T) {
	m := NewActivityMonitor()
	m.RecordPedalPress()
	m.CheckAndClearPulse()
	m.RecordPedalRelease()
	if m.CheckAndClearPulse() {
		t.Error("pedal release raised a pulse")
	}
	if m.PedalHeld() {
		t.Error("pedal still held after release")
	}
	if _, ok := m.LastActivity(); !ok {
		t.Error("release should stamp last activity")
	}
}

func TestApplyRoutesDebouncerOutput(t *testing.T) {
	d := NewEventDebouncer()
	m := NewActivityMonitor()

	m.Apply(d.Process(ControlChange(SustainController, 100, time.Now())))
	if !m.PedalHeld() || !m.CheckAndClearPulse() {
		t.Fatal("press should hold pedal and pulse")
	}
	m.Apply(d.Process(ControlChange(SustainController, 0, time.Now())))
	if m.PedalHeld() {
		t.Fatal("release should clear held")
	}
	m.Apply(d.Process(NoteOn(time.Now())))
	if !m.CheckAndClearPulse() {
		t.Fatal("note on should pulse")
	}
}

func TestMonitorConcurrentAccess(t *testing.T) {
	m := NewActivityMonitor()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			m.RecordActivity()
		}
	}()
	for i := 0; i < 1000; i++ {
		m.CheckAndClearPulse()
		m.ShouldStop(time.Now(), DefaultLinger)
	}
	<-done
}
