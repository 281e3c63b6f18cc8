package recorder

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mikeyg42/pianocam/internal/recorder/buffer"
	"github.com/mikeyg42/pianocam/internal/recorder/encoder"
	"github.com/mikeyg42/pianocam/internal/recorder/recorderlog"
)

// SessionState is the lifecycle position of one recording.
type SessionState int

const (
	StateIdle SessionState = iota
	StateActive
	StateDraining
	StateFinalized
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Status is the recorder-wide state.
type Status int

const (
	StatusIdle Status = iota
	StatusRecording
)

func (s Status) String() string {
	if s == StatusRecording {
		return "recording"
	}
	return "idle"
}

// SessionObserver is told when sessions start and stop. Both calls run on
// the caller's goroutine under the manager's lock, and SessionStopped runs
// before the finalize task is queued, so anything it hands the worker is in
// place when the session is finalized. Implementations must be quick and
// must not call back into the manager.
type SessionObserver interface {
	SessionStarted(id uint64, at time.Time)
	SessionStopped(id uint64, at time.Time)
}

// SessionInfo is a diagnostic snapshot of one live session.
type SessionInfo struct {
	ID         uint64
	State      SessionState
	FrameCount uint64
	StartedAt  time.Time
	StoppedAt  time.Time
}

// session is owned by SessionManager. enc is touched only by the encode
// worker; frameCount is also read by Sessions. The manager's lock guards
// state and stoppedAt.
type session struct {
	id        uint64
	params    encoder.Params
	startedAt time.Time

	enc        encoder.Session
	frameCount atomic.Uint64

	state     SessionState
	stoppedAt time.Time
}

// SessionManager owns the live-session map, the recording flag and the
// current session id. The capture path, Start and Stop all mutate them
// inside short critical sections on mu.
type SessionManager struct {
	logger   recorderlog.Logger
	opener   encoder.Opener
	params   encoder.Params
	preroll  *buffer.Preroll
	queue    *TaskQueue
	metrics  *Metrics
	now      func() time.Time
	observer SessionObserver

	mu        sync.Mutex
	nextID    uint64
	sessions  map[uint64]*session
	recording bool
	starting  bool
	currentID uint64
}

// NewSessionManager wires a manager around a shared preroll ring and queue.
func NewSessionManager(opener encoder.Opener, params encoder.Params, preroll *buffer.Preroll, queue *TaskQueue, metrics *Metrics, logger recorderlog.Logger) *SessionManager {
	if logger == nil {
		logger = recorderlog.Nop()
	}
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &SessionManager{
		logger:   logger.Named("sessions"),
		opener:   opener,
		params:   params,
		preroll:  preroll,
		queue:    queue,
		metrics:  metrics,
		now:      time.Now,
		sessions: make(map[uint64]*session),
	}
}

// SetObserver registers a lifecycle observer. Call before Start.
func (m *SessionManager) SetObserver(o SessionObserver) {
	m.observer = o
}

// SetClock overrides the wall clock.
func (m *SessionManager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// Start begins a session unless one is already active. Opening the encoder
// happens between two locked regions so a slow open never blocks capture.
func (m *SessionManager) Start(ctx context.Context) (uint64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	m.mu.Lock()
	if m.recording || m.starting {
		m.mu.Unlock()
		return 0, false, nil
	}
	id := m.nextID
	m.nextID++
	m.starting = true
	m.mu.Unlock()

	startedAt := m.now()
	enc, err := m.opener.Open(m.params)
	if err != nil {
		m.mu.Lock()
		m.starting = false
		m.nextID = id
		m.mu.Unlock()
		return 0, false, fmt.Errorf("open encoder for session %d: %w", id, err)
	}

	s := &session{
		id:        id,
		params:    m.params,
		startedAt: startedAt,
		enc:       enc,
		state:     StateActive,
	}

	m.mu.Lock()
	m.starting = false
	m.sessions[id] = s
	m.recording = true
	m.currentID = id
	pre := m.preroll.TakeAllAndClear()
	if len(pre) > 0 {
		m.queue.Push(EncodeFrames(id, pre))
		m.metrics.BatchesQueued.Add(1)
	}
	if m.observer != nil {
		m.observer.SessionStarted(id, startedAt)
	}
	m.mu.Unlock()

	m.metrics.SessionsStarted.Add(1)
	m.logger.Info("Recording started",
		recorderlog.Uint64("session", id),
		recorderlog.Int("preroll_frames", len(pre)))
	return id, true, nil
}

// Stop ends the active session. Leftover buffered frames, the observer
// notification and the finalize request all happen in the critical section
// that clears the flag.
func (m *SessionManager) Stop() (uint64, bool) {
	stoppedAt := m.now()

	m.mu.Lock()
	if !m.recording {
		m.mu.Unlock()
		return 0, false
	}
	id := m.currentID
	rest := m.preroll.TakeAllAndClear()
	if len(rest) > 0 {
		m.queue.Push(EncodeFrames(id, rest))
		m.metrics.BatchesQueued.Add(1)
	}
	if m.observer != nil {
		m.observer.SessionStopped(id, stoppedAt)
	}
	m.queue.Push(FinalizeSession(id))
	if s, ok := m.sessions[id]; ok {
		s.state = StateDraining
		s.stoppedAt = stoppedAt
	}
	m.currentID = 0
	m.recording = false
	m.mu.Unlock()

	m.logger.Info("Recording stopped",
		recorderlog.Uint64("session", id),
		recorderlog.Int("tail_frames", len(rest)))
	return id, true
}

// CaptureFrame is the capture path's critical section: hand a full ring to
// the active session, then store f.
func (m *SessionManager) CaptureFrame(f buffer.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if batch := m.preroll.DrainFullIfRecording(m.recording); batch != nil {
		m.queue.Push(EncodeFrames(m.currentID, batch))
		m.metrics.BatchesQueued.Add(1)
	}
	m.preroll.Push(f)
}

// IsRecording reports whether a session is active.
func (m *SessionManager) IsRecording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recording
}

// CurrentID returns the active session id.
func (m *SessionManager) CurrentID() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentID, m.recording
}

// Status reports idle or recording.
func (m *SessionManager) Status() Status {
	if m.IsRecording() {
		return StatusRecording
	}
	return StatusIdle
}

// ActiveSince returns when the active session started.
func (m *SessionManager) ActiveSince() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.recording {
		return time.Time{}, false
	}
	s, ok := m.sessions[m.currentID]
	if !ok {
		return time.Time{}, false
	}
	return s.startedAt, true
}

// Sessions lists live sessions ordered by id.
func (m *SessionManager) Sessions() []SessionInfo {
	m.mu.Lock()
	list := make([]*session, 0, len(m.sessions))
	states := make(map[uint64]SessionState, len(m.sessions))
	stopped := make(map[uint64]time.Time, len(m.sessions))
	for id, s := range m.sessions {
		list = append(list, s)
		states[id] = s.state
		stopped[id] = s.stoppedAt
	}
	m.mu.Unlock()

	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		out = append(out, SessionInfo{
			ID:         s.id,
			State:      states[s.id],
			FrameCount: s.frameCount.Load(),
			StartedAt:  s.startedAt,
			StoppedAt:  stopped[s.id],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// lookup returns a live session or nil.
func (m *SessionManager) lookup(id uint64) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// remove drops a session from the live map.
func (m *SessionManager) remove(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.state = StateFinalized
		delete(m.sessions, id)
	}
}

// stoppedAt returns when Stop was called for id.
func (m *SessionManager) stoppedAt(id uint64) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s.stoppedAt
	}
	return time.Time{}
}
