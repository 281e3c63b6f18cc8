package buffer

import (
	"image"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Frame is one captured image and when it was read.
type Frame struct {
	Image     image.Image
	Timestamp time.Time
	Sequence  uint64 // capture sequence number, assigned by Push
}

// Capacity returns ceil(fps * seconds), never less than 1.
func Capacity(fps float64, seconds float64) int {
	// Rounded to microframes so 30*0.1 is 3, not 4.
	n := int(math.Ceil(math.Round(fps*seconds*1e6) / 1e6))
	if n < 1 {
		return 1
	}
	return n
}

// Preroll is a fixed-capacity ring of the most recent frames.
// Semantics:
//   - Push appends the newest frame; when full the oldest is evicted.
//   - DrainFullIfRecording hands the whole ring over as one batch once it is full.
//   - TakeAllAndClear hands over whatever is there.
//
// Every operation holds the mutex for its own duration only.
type Preroll struct {
	frames   []Frame
	capacity int
	head     int // index of the oldest retained frame
	size     int
	sequence uint64

	mu sync.Mutex

	// Metrics
	totalPushes atomic.Uint64
	evictions   atomic.Uint64
	drains      atomic.Uint64
	drained     atomic.Uint64
}

// NewPreroll creates a ring with the given capacity.
func NewPreroll(capacity int) *Preroll {
	if capacity <= 0 {
		capacity = 1
	}
	return &Preroll{
		frames:   make([]Frame, capacity),
		capacity: capacity,
	}
}

// Push stores f as the newest frame.
func (p *Preroll) Push(f Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sequence++
	f.Sequence = p.sequence

	if p.size == p.capacity {
		p.frames[p.head] = f
		p.head = (p.head + 1) % p.capacity
		p.evictions.Add(1)
	} else {
		p.frames[(p.head+p.size)%p.capacity] = f
		p.size++
	}
	p.totalPushes.Add(1)
}

// DrainFullIfRecording swaps out the ring's contents when recording is true
// and the ring is at capacity. It returns nil otherwise.
func (p *Preroll) DrainFullIfRecording(recording bool) []Frame {
	if !recording {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.size < p.capacity {
		return nil
	}
	return p.swapLocked()
}

// TakeAllAndClear returns the retained frames oldest first and empties the
// ring. The result is empty, not nil, when nothing was buffered.
func (p *Preroll) TakeAllAndClear() []Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.size == 0 {
		return []Frame{}
	}
	return p.swapLocked()
}

// swapLocked replaces the backing store with a fresh one and returns the
// old contents in capture order.
func (p *Preroll) swapLocked() []Frame {
	out := make([]Frame, p.size)
	for i := 0; i < p.size; i++ {
		out[i] = p.frames[(p.head+i)%p.capacity]
	}
	p.frames = make([]Frame, p.capacity)
	p.head = 0
	p.size = 0
	p.drains.Add(1)
	p.drained.Add(uint64(len(out)))
	return out
}

// Snapshot copies the retained frames without modifying the ring.
func (p *Preroll) Snapshot() []Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Frame, p.size)
	for i := 0; i < p.size; i++ {
		out[i] = p.frames[(p.head+i)%p.capacity]
	}
	return out
}

// Len returns the number of retained frames.
func (p *Preroll) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Capacity returns the configured capacity.
func (p *Preroll) Capacity() int {
	return p.capacity
}

// Duration is the time spanned by the retained frames.
func (p *Preroll) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.size < 2 {
		return 0
	}
	oldest := p.frames[p.head]
	newest := p.frames[(p.head+p.size-1)%p.capacity]
	return newest.Timestamp.Sub(oldest.Timestamp)
}

// Metrics returns buffer statistics
func (p *Preroll) Metrics() map[string]interface{} {
	return map[string]interface{}{
		"capacity":       p.capacity,
		"current_size":   p.Len(),
		"total_pushes":   p.totalPushes.Load(),
		"evictions":      p.evictions.Load(),
		"drains":         p.drains.Load(),
		"drained_frames": p.drained.Load(),
	}
}
