// Package trigger turns a raw controller stream into start and stop
// decisions for the recorder.
package trigger

import (
	"sync"
	"time"
)

const (
	// SustainController is the MIDI controller number of the sustain pedal.
	SustainController uint8 = 64
	// PedalThreshold is the first value treated as "pressed".
	PedalThreshold uint8 = 40
)

// EventKind discriminates RawEvent.
type EventKind int

const (
	KindNoteOn EventKind = iota
	KindControlChange
)

func (k EventKind) String() string {
	switch k {
	case KindNoteOn:
		return "note_on"
	case KindControlChange:
		return "control_change"
	default:
		return "unknown"
	}
}

// RawEvent is one controller message as delivered by the input driver.
// Controller and Value are only meaningful for KindControlChange.
type RawEvent struct {
	Kind       EventKind
	Controller uint8
	Value      uint8
	Received   time.Time
}

// NoteOn builds a note-on event received at ts.
func NoteOn(ts time.Time) RawEvent {
	return RawEvent{Kind: KindNoteOn, Received: ts}
}

// ControlChange builds a control-change event received at ts.
func ControlChange(controller, value uint8, ts time.Time) RawEvent {
	return RawEvent{Kind: KindControlChange, Controller: controller, Value: value, Received: ts}
}

// PedalTransition is the pedal edge reported by Process, if any.
type PedalTransition int

const (
	PedalNone PedalTransition = iota
	PedalPressed
	PedalReleased
)

func (p PedalTransition) String() string {
	switch p {
	case PedalPressed:
		return "pressed"
	case PedalReleased:
		return "released"
	default:
		return "none"
	}
}

// Result is the outcome of processing one RawEvent.
type Result struct {
	Pedal  PedalTransition
	NoteOn bool
	At     time.Time
}

// Active reports whether the event counts as playing activity.
func (r Result) Active() bool {
	return r.NoteOn || r.Pedal == PedalPressed
}

// PedalState is the debounced sustain pedal state.
type PedalState struct {
	Held           bool
	LastTransition time.Time
}

// EventDebouncer applies the sustain hysteresis. A press is reported for
// every value at or above the threshold; a release only on the first
// sub-threshold value after a press.
type EventDebouncer struct {
	mu    sync.Mutex
	state PedalState
}

// NewEventDebouncer returns a debouncer with the pedal released.
func NewEventDebouncer() *EventDebouncer {
	return &EventDebouncer{}
}

// Process classifies ev and updates the pedal state.
func (d *EventDebouncer) Process(ev RawEvent) Result {
	res := Result{At: ev.Received}
	switch ev.Kind {
	case KindNoteOn:
		res.NoteOn = true
	case KindControlChange:
		if ev.Controller != SustainController {
			return res
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		if ev.Value >= PedalThreshold {
			d.state = PedalState{Held: true, LastTransition: ev.Received}
			res.Pedal = PedalPressed
		} else if d.state.Held {
			d.state = PedalState{Held: false, LastTransition: ev.Received}
			res.Pedal = PedalReleased
		}
	}
	return res
}

// State returns a copy of the current pedal state.
func (d *EventDebouncer) State() PedalState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Reset forgets a held pedal, as when the controller goes away mid-press.
func (d *EventDebouncer) Reset(at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state.Held {
		d.state = PedalState{Held: false, LastTransition: at}
	}
}
