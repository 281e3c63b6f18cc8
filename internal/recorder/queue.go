package recorder

import (
	"context"
	"sync"
	"time"

	"github.com/mikeyg42/pianocam/internal/recorder/buffer"
	"github.com/mikeyg42/pianocam/internal/recorder/recorderlog"
)

// TaskKind discriminates EncodeTask.
type TaskKind int

const (
	TaskEncodeFrames TaskKind = iota
	TaskFinalizeSession
)

func (k TaskKind) String() string {
	switch k {
	case TaskEncodeFrames:
		return "encode_frames"
	case TaskFinalizeSession:
		return "finalize_session"
	default:
		return "unknown"
	}
}

// EncodeTask is a unit of work for the encode worker. Frames is only set for
// TaskEncodeFrames. A task is never modified after it is queued.
type EncodeTask struct {
	Kind      TaskKind
	SessionID uint64
	Frames    []buffer.Frame
}

// EncodeFrames builds a frame batch task.
func EncodeFrames(id uint64, frames []buffer.Frame) EncodeTask {
	return EncodeTask{Kind: TaskEncodeFrames, SessionID: id, Frames: frames}
}

// FinalizeSession builds a finalize task.
func FinalizeSession(id uint64) EncodeTask {
	return EncodeTask{Kind: TaskFinalizeSession, SessionID: id}
}

// TaskQueue is an unbounded FIFO with a single consumer. Push never blocks;
// a warning is logged each time the depth crosses warnDepth.
type TaskQueue struct {
	mu        sync.Mutex
	items     []EncodeTask
	notify    chan struct{}
	warnDepth int
	warned    bool
	maxDepth  int
	logger    recorderlog.Logger
}

// NewTaskQueue creates an empty queue. warnDepth <= 0 disables the warning.
func NewTaskQueue(warnDepth int, logger recorderlog.Logger) *TaskQueue {
	if logger == nil {
		logger = recorderlog.Nop()
	}
	return &TaskQueue{
		notify:    make(chan struct{}, 1),
		warnDepth: warnDepth,
		logger:    logger,
	}
}

// Push appends t.
func (q *TaskQueue) Push(t EncodeTask) {
	q.mu.Lock()
	q.items = append(q.items, t)
	depth := len(q.items)
	if depth > q.maxDepth {
		q.maxDepth = depth
	}
	crossed := q.warnDepth > 0 && depth >= q.warnDepth && !q.warned
	if crossed {
		q.warned = true
	}
	q.mu.Unlock()

	if crossed {
		q.logger.Warn("Encode queue is backing up",
			recorderlog.Int("depth", depth),
			recorderlog.Int("warn_depth", q.warnDepth))
	}

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// TryPop removes the oldest task without waiting.
func (q *TaskQueue) TryPop() (EncodeTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return EncodeTask{}, false
	}
	t := q.items[0]
	q.items[0] = EncodeTask{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	if q.warned && len(q.items) < q.warnDepth/2 {
		q.warned = false
	}
	return t, true
}

// Pop waits up to timeout for a task. It returns false on timeout or when
// ctx is done.
func (q *TaskQueue) Pop(ctx context.Context, timeout time.Duration) (EncodeTask, bool) {
	if t, ok := q.TryPop(); ok {
		return t, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return EncodeTask{}, false
		case <-timer.C:
			return q.TryPop()
		case <-q.notify:
			if t, ok := q.TryPop(); ok {
				return t, true
			}
		}
	}
}

// Len returns the current depth.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// MaxDepth returns the highest depth observed.
func (q *TaskQueue) MaxDepth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxDepth
}
