// Package orchestrator is the control loop that starts and stops recording
// sessions from controller activity.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mikeyg42/pianocam/internal/recorder/recorderlog"
	"github.com/mikeyg42/pianocam/internal/trigger"
)

// Controller is the input device feeding trigger events.
type Controller interface {
	Open() error
	Close() error
	IsConnected() bool
	Events() <-chan trigger.RawEvent
}

// Sessions is the recorder side the loop drives.
type Sessions interface {
	Start(ctx context.Context) (uint64, bool, error)
	Stop() (uint64, bool)
	IsRecording() bool
	ActiveSince() (time.Time, bool)
}

// Config tunes the loop timing.
type Config struct {
	PollInterval        time.Duration
	DeviceCheckInterval time.Duration
	Linger              time.Duration
	// MinDuration keeps the linger from ending a session younger than this.
	MinDuration time.Duration
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.DeviceCheckInterval <= 0 {
		c.DeviceCheckInterval = 2 * time.Second
	}
	if c.Linger <= 0 {
		c.Linger = trigger.DefaultLinger
	}
}

// Orchestrator owns the debouncer and activity monitor and turns their
// state into Start and Stop calls.
type Orchestrator struct {
	cfg      Config
	ctrl     Controller
	sessions Sessions
	logger   recorderlog.Logger

	debouncer *trigger.EventDebouncer
	monitor   *trigger.ActivityMonitor

	clockMu sync.RWMutex
	clock   func() time.Time

	connected atomic.Bool
	lastCheck time.Time
}

// New builds an orchestrator. The controller is assumed to be open.
func New(cfg Config, ctrl Controller, sessions Sessions, logger recorderlog.Logger) *Orchestrator {
	cfg.applyDefaults()
	if logger == nil {
		logger = recorderlog.Nop()
	}
	o := &Orchestrator{
		cfg:       cfg,
		ctrl:      ctrl,
		sessions:  sessions,
		logger:    logger.Named("orchestrator"),
		debouncer: trigger.NewEventDebouncer(),
		clock:     time.Now,
	}
	o.monitor = trigger.NewActivityMonitorWithClock(o.now)
	o.connected.Store(true)
	return o
}

// SetClock replaces the time source. Intended for tests.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.clockMu.Lock()
	defer o.clockMu.Unlock()
	o.clock = now
}

func (o *Orchestrator) now() time.Time {
	o.clockMu.RLock()
	defer o.clockMu.RUnlock()
	return o.clock()
}

// Monitor exposes the activity state.
func (o *Orchestrator) Monitor() *trigger.ActivityMonitor { return o.monitor }

// Connected reports the controller state as of the last device check.
func (o *Orchestrator) Connected() bool { return o.connected.Load() }

// HandleEvent debounces one controller event and feeds the monitor.
func (o *Orchestrator) HandleEvent(ev trigger.RawEvent) {
	res := o.debouncer.Process(ev)
	switch res.Pedal {
	case trigger.PedalPressed:
		if !o.monitor.PedalHeld() {
			o.logger.Debug("Sustain pedal pressed")
		}
	case trigger.PedalReleased:
		o.logger.Debug("Sustain pedal released")
	}
	o.monitor.Apply(res)
}

// Tick runs one step of the control loop at now.
func (o *Orchestrator) Tick(ctx context.Context, now time.Time) {
	if o.lastCheck.IsZero() || now.Sub(o.lastCheck) >= o.cfg.DeviceCheckInterval {
		o.checkDevice(now)
		o.lastCheck = now
	}

	// A lost controller freezes the session as it is until it returns.
	if !o.connected.Load() {
		return
	}

	if o.monitor.CheckAndClearPulse() && !o.sessions.IsRecording() {
		id, started, err := o.sessions.Start(ctx)
		switch {
		case err != nil:
			o.logger.Error("Failed to start recording", recorderlog.Error(err))
		case started:
			o.logger.Info("Recording started", recorderlog.Uint64("session", id))
		}
	}

	if o.sessions.IsRecording() && o.monitor.ShouldStop(now, o.cfg.Linger) {
		if since, ok := o.sessions.ActiveSince(); ok && now.Sub(since) < o.cfg.MinDuration {
			return
		}
		if id, stopped := o.sessions.Stop(); stopped {
			last, _ := o.monitor.LastActivity()
			o.logger.Info("Recording stopped after inactivity",
				recorderlog.Uint64("session", id),
				recorderlog.Duration("idle", now.Sub(last)))
		}
		// drop a pulse raised while the session was winding down
		o.monitor.CheckAndClearPulse()
	}
}

// checkDevice closes a lost controller and reopens a returned one. A pedal
// held when the controller was lost counts as released, since its release
// can no longer arrive.
func (o *Orchestrator) checkDevice(now time.Time) {
	if o.connected.Load() {
		if o.ctrl.IsConnected() {
			return
		}
		o.logger.Warn("Controller disconnected")
		if err := o.ctrl.Close(); err != nil {
			o.logger.Warn("Failed to close controller", recorderlog.Error(err))
		}
		o.connected.Store(false)
		o.debouncer.Reset(now)
		if o.monitor.PedalHeld() {
			o.monitor.RecordPedalRelease()
		}
		return
	}

	if err := o.ctrl.Open(); err != nil {
		o.logger.Debug("Controller reconnect failed", recorderlog.Error(err))
		return
	}
	o.connected.Store(true)
	o.logger.Info("Controller reconnected")
}

// Run polls until ctx is cancelled, then stops any active session and
// closes the controller.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	events := o.ctrl.Events()
	o.logger.Info("Orchestrator started",
		recorderlog.Duration("linger", o.cfg.Linger),
		recorderlog.Duration("poll_interval", o.cfg.PollInterval))

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return ctx.Err()
		case ev := <-events:
			o.HandleEvent(ev)
		case <-ticker.C:
			o.Tick(ctx, o.now())
		}
	}
}

func (o *Orchestrator) shutdown() {
	if id, stopped := o.sessions.Stop(); stopped {
		o.logger.Info("Stopped recording on shutdown", recorderlog.Uint64("session", id))
	}
	if err := o.ctrl.Close(); err != nil {
		o.logger.Warn("Failed to close controller", recorderlog.Error(err))
	}
	o.logger.Info("Orchestrator stopped")
}
