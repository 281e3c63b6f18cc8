package midi

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/mikeyg42/pianocam/internal/recorder/recorderlog"
	"github.com/mikeyg42/pianocam/internal/recorder/storage"
)

const (
	TicksPerQuarter = 480
	TakeTempoBPM    = 120
	// microseconds per quarter note at TakeTempoBPM
	usPerQuarter = 60_000_000 / TakeTempoBPM
)

type timedMessage struct {
	at  time.Time
	msg midi.Message
}

type activeTake struct {
	id     uint64
	origin time.Time
	msgs   []timedMessage
}

// Take records the MIDI performance behind each session. Messages seen
// within preroll before a session starts are included, so the take lines
// up with the video pre-roll. Stopped takes are held until the encode
// worker collects them through Attachments, which also encodes them.
type Take struct {
	preroll time.Duration
	logger  recorderlog.Logger

	mu       sync.Mutex
	ring     []timedMessage
	current  *activeTake
	finished map[uint64]*activeTake
}

// NewTake creates a recorder keeping preroll worth of idle traffic.
func NewTake(preroll time.Duration, logger recorderlog.Logger) *Take {
	if logger == nil {
		logger = recorderlog.Nop()
	}
	return &Take{
		preroll:  preroll,
		logger:   logger.Named("midi-take"),
		finished: make(map[uint64]*activeTake),
	}
}

// Record stores one message. It is meant to be installed as a Source tap.
func (t *Take) Record(msg midi.Message, at time.Time) {
	cp := append(midi.Message(nil), msg...)
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current != nil {
		t.current.msgs = append(t.current.msgs, timedMessage{at: at, msg: cp})
		return
	}
	t.ring = append(t.ring, timedMessage{at: at, msg: cp})
	t.trimLocked(at)
}

func (t *Take) trimLocked(now time.Time) {
	cutoff := now.Add(-t.preroll)
	i := 0
	for i < len(t.ring) && t.ring[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.ring = append(t.ring[:0], t.ring[i:]...)
	}
}

// SessionStarted opens a take for id, seeded with the buffered messages.
func (t *Take) SessionStarted(id uint64, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.trimLocked(at)
	t.current = &activeTake{
		id:     id,
		origin: at.Add(-t.preroll),
		msgs:   t.ring,
	}
	t.ring = nil
}

// SessionStopped detaches the take for id. It only moves the take aside, so
// it is safe to call while the session manager holds its lock.
func (t *Take) SessionStopped(id uint64, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.current
	if cur == nil || cur.id != id {
		return
	}
	t.current = nil
	t.finished[id] = cur
}

// Attachments encodes the stopped take for id and hands it over, once.
func (t *Take) Attachments(id uint64) []storage.Artifact {
	t.mu.Lock()
	take, ok := t.finished[id]
	delete(t.finished, id)
	t.mu.Unlock()

	if !ok {
		return nil
	}

	data, err := encodeTake(take.origin, take.msgs)
	if err != nil {
		t.logger.Error("Failed to encode MIDI take",
			recorderlog.Uint64("session", id),
			recorderlog.Error(err))
		return nil
	}
	t.logger.Debug("MIDI take captured",
		recorderlog.Uint64("session", id),
		recorderlog.Int("messages", len(take.msgs)))
	return []storage.Artifact{{Ext: "mid", ContentType: storage.ContentTypeFor("mid"), Data: data}}
}

// encodeTake writes msgs as a single-track SMF at 480 ticks per quarter and
// 120 bpm. Message times are relative to origin; earlier ones land on tick 0.
func encodeTake(origin time.Time, msgs []timedMessage) ([]byte, error) {
	var tr smf.Track
	tr.Add(0, smf.MetaTempo(TakeTempoBPM))

	var last uint32
	for _, m := range msgs {
		tick := durationToTicks(m.at.Sub(origin))
		if tick < last {
			tick = last
		}
		tr.Add(tick-last, m.msg)
		last = tick
	}
	tr.Close(0)

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(TicksPerQuarter)
	if err := s.Add(tr); err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}

	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write smf: %w", err)
	}
	return buf.Bytes(), nil
}

func durationToTicks(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	return uint32(d.Microseconds() * TicksPerQuarter / usPerQuarter)
}
