// Package midi connects a MIDI input port to the trigger pipeline.
package midi

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/mikeyg42/pianocam/internal/recorder/recorderlog"
	"github.com/mikeyg42/pianocam/internal/trigger"
)

// ErrDeviceNotFound is returned by Open when no input port matches.
var ErrDeviceNotFound = errors.New("midi device not found")

// DefaultExclude lists virtual or system ports that are never auto-selected.
var DefaultExclude = []string{"Midi Through", "RtMidi"}

// PortLister is the part of a gomidi driver the source needs.
// *rtmididrv.Driver satisfies it.
type PortLister interface {
	Ins() ([]drivers.In, error)
}

// Config selects the input port.
type Config struct {
	// Port is a case-insensitive name substring. Empty picks the first
	// non-excluded port.
	Port string
	// Exclude patterns are skipped during auto-selection.
	Exclude []string
	// Buffer is the event channel capacity.
	Buffer int
}

// Tap receives every raw message with its receive time.
type Tap func(msg midi.Message, at time.Time)

// Source listens on one MIDI input and publishes decoded events. Events are
// produced only by the driver callback.
type Source struct {
	drv    PortLister
	cfg    Config
	logger recorderlog.Logger
	events chan trigger.RawEvent
	now    func() time.Time

	tap     atomic.Pointer[Tap]
	dropped atomic.Uint64

	mu        sync.Mutex
	in        drivers.In
	name      string
	stop      func()
	connected atomic.Bool
}

// NewSource prepares a source. It does not open any port.
func NewSource(drv PortLister, cfg Config, logger recorderlog.Logger) *Source {
	if cfg.Exclude == nil {
		cfg.Exclude = DefaultExclude
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if logger == nil {
		logger = recorderlog.Nop()
	}
	return &Source{
		drv:    drv,
		cfg:    cfg,
		logger: logger.Named("midi"),
		events: make(chan trigger.RawEvent, cfg.Buffer),
		now:    time.Now,
	}
}

// SetTap installs fn to observe raw traffic. Pass nil to remove it.
func (s *Source) SetTap(fn Tap) {
	if fn == nil {
		s.tap.Store(nil)
		return
	}
	s.tap.Store(&fn)
}

// Events is the decoded event stream.
func (s *Source) Events() <-chan trigger.RawEvent { return s.events }

// Dropped counts events discarded because the channel was full.
func (s *Source) Dropped() uint64 { return s.dropped.Load() }

// Name is the connected port name, or empty.
func (s *Source) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Open selects a port, opens it and starts listening. It is a no-op when
// already connected.
func (s *Source) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected.Load() {
		return nil
	}
	s.closeLocked()

	ins, err := s.drv.Ins()
	if err != nil {
		return fmt.Errorf("list midi inputs: %w", err)
	}
	names := make([]string, len(ins))
	for i, in := range ins {
		names[i] = in.String()
	}
	idx, err := SelectPort(names, s.cfg.Port, s.cfg.Exclude)
	if err != nil {
		return err
	}
	in := ins[idx]
	name := names[idx]

	if !in.IsOpen() {
		if err := in.Open(); err != nil {
			return fmt.Errorf("open midi port %q: %w", name, err)
		}
	}

	stop, err := midi.ListenTo(in, s.handle, midi.HandleError(func(listenErr error) {
		s.logger.Warn("MIDI listener error, device likely disconnected",
			recorderlog.String("device", name),
			recorderlog.Error(listenErr))
		s.connected.Store(false)
	}))
	if err != nil {
		_ = in.Close()
		return fmt.Errorf("listen on midi port %q: %w", name, err)
	}

	s.in = in
	s.name = name
	s.stop = stop
	s.connected.Store(true)
	s.logger.Info("MIDI input connected", recorderlog.String("device", name))
	return nil
}

// Close stops listening and closes the port.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Source) closeLocked() error {
	s.connected.Store(false)
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
	var err error
	if s.in != nil {
		err = s.in.Close()
		s.in = nil
		s.logger.Info("MIDI input closed", recorderlog.String("device", s.name))
	}
	s.name = ""
	return err
}

// IsConnected reports whether the port is open and still enumerated by the
// driver.
func (s *Source) IsConnected() bool {
	if !s.connected.Load() {
		return false
	}
	s.mu.Lock()
	name := s.name
	s.mu.Unlock()

	ins, err := s.drv.Ins()
	if err != nil {
		s.logger.Warn("Failed to enumerate MIDI inputs", recorderlog.Error(err))
		return false
	}
	for _, in := range ins {
		if in.String() == name {
			return true
		}
	}
	s.logger.Warn("MIDI device disappeared", recorderlog.String("device", name))
	return false
}

func (s *Source) handle(msg midi.Message, _ int32) {
	at := s.now()
	if tap := s.tap.Load(); tap != nil {
		(*tap)(msg, at)
	}
	ev, ok := Decode(msg, at)
	if !ok {
		return
	}
	select {
	case s.events <- ev:
	default:
		if s.dropped.Add(1) == 1 {
			s.logger.Warn("MIDI event channel full, dropping events")
		}
	}
}

// Decode maps a message onto a trigger event. NoteOn with velocity 0 is a
// note-off and is not reported.
func Decode(msg midi.Message, at time.Time) (trigger.RawEvent, bool) {
	var ch, key, vel, ctl, val uint8
	switch {
	case msg.GetNoteStart(&ch, &key, &vel):
		return trigger.NoteOn(at), true
	case msg.GetControlChange(&ch, &ctl, &val):
		return trigger.ControlChange(ctl, val, at), true
	default:
		return trigger.RawEvent{}, false
	}
}

// SelectPort picks the index of the port to open. want is matched as a
// case-insensitive substring and may select an excluded port explicitly.
func SelectPort(names []string, want string, exclude []string) (int, error) {
	if want != "" {
		for i, n := range names {
			if containsFold(n, want) {
				return i, nil
			}
		}
		return -1, fmt.Errorf("%w: no input matching %q among %v", ErrDeviceNotFound, want, names)
	}
	for i, n := range names {
		if !isExcluded(n, exclude) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: no usable input among %v", ErrDeviceNotFound, names)
}

func isExcluded(name string, patterns []string) bool {
	for _, p := range patterns {
		if containsFold(name, p) {
			return true
		}
	}
	return false
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
