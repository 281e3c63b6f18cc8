package buffer

import (
	"sync"
	"testing"
	"time"
)

func frameAt(i int) Frame {
	return Frame{Timestamp: time.Unix(0, 0).Add(time.Duration(i) * time.Millisecond)}
}

func TestCapacity(t *testing.T) {
	tests := []struct {
		fps, seconds float64
		want         int
	}{
		{30, 3, 90},
		{29.97, 3, 90},
		{25, 0.5, 13},
		{30, 0.1, 3},
		{30, 0, 1},
		{0, 10, 1},
	}
	for _, tt := range tests {
		if got := Capacity(tt.fps, tt.seconds); got != tt.want {
			t.Errorf("Capacity(%v, %v) = %d, want %d", tt.fps, tt.seconds, got, tt.want)
		}
	}
}

// After any number of pushes with recording off, the ring holds
// min(capacity, pushes) frames: the most recent ones, in order.
func TestPrerollRetainsMostRecent(t *testing.T) {
	const capacity = 10
	for _, pushes := range []int{0, 1, 9, 10, 11, 25, 100} {
		p := NewPreroll(capacity)
		for i := 0; i < pushes; i++ {
			p.Push(frameAt(i))
			if p.DrainFullIfRecording(false) != nil {
				t.Fatalf("drain returned frames while not recording")
			}
		}

		want := pushes
		if want > capacity {
			want = capacity
		}
		if got := p.Len(); got != want {
			t.Fatalf("pushes=%d: Len = %d, want %d", pushes, got, want)
		}

		snap := p.Snapshot()
		first := pushes - want
		for i, f := range snap {
			if !f.Timestamp.Equal(frameAt(first + i).Timestamp) {
				t.Fatalf("pushes=%d: frame %d has ts %v, want push #%d", pushes, i, f.Timestamp, first+i)
			}
			if f.Sequence != uint64(first+i+1) {
				t.Fatalf("pushes=%d: frame %d sequence %d, want %d", pushes, i, f.Sequence, first+i+1)
			}
		}
	}
}

func TestDrainFullIfRecording(t *testing.T) {
	p := NewPreroll(4)
	for i := 0; i < 3; i++ {
		p.Push(frameAt(i))
	}
	if got := p.DrainFullIfRecording(true); got != nil {
		t.Fatalf("drained %d frames before capacity", len(got))
	}

	p.Push(frameAt(3))
	batch := p.DrainFullIfRecording(true)
	if len(batch) != 4 {
		t.Fatalf("batch length = %d, want 4", len(batch))
	}
	for i, f := range batch {
		if f.Sequence != uint64(i+1) {
			t.Errorf("batch[%d].Sequence = %d, want %d", i, f.Sequence, i+1)
		}
	}
	if p.Len() != 0 || p.Capacity() != 4 {
		t.Errorf("after drain Len=%d Capacity=%d, want 0 and 4", p.Len(), p.Capacity())
	}

	// Not recording: a full ring stays put and evicts instead.
	for i := 0; i < 6; i++ {
		p.Push(frameAt(10 + i))
	}
	if got := p.DrainFullIfRecording(false); got != nil {
		t.Fatal("drain while not recording")
	}
	if p.Len() != 4 {
		t.Errorf("Len = %d, want 4", p.Len())
	}
}

func TestTakeAllAndClear(t *testing.T) {
	p := NewPreroll(5)
	if got := p.TakeAllAndClear(); got == nil || len(got) != 0 {
		t.Fatalf("empty take = %v, want empty non-nil", got)
	}

	for i := 0; i < 7; i++ {
		p.Push(frameAt(i))
	}
	got := p.TakeAllAndClear()
	if len(got) != 5 {
		t.Fatalf("take length = %d, want 5", len(got))
	}
	if !got[0].Timestamp.Equal(frameAt(2).Timestamp) || !got[4].Timestamp.Equal(frameAt(6).Timestamp) {
		t.Errorf("take returned wrong window: first=%v last=%v", got[0].Timestamp, got[4].Timestamp)
	}
	if p.Len() != 0 {
		t.Errorf("Len after take = %d", p.Len())
	}

	// Mutating the returned batch must not reach back into the ring.
	p.Push(frameAt(100))
	got[0].Sequence = 999
	if s := p.Snapshot()[0].Sequence; s == 999 {
		t.Error("returned batch aliases ring storage")
	}
}

func TestPrerollDuration(t *testing.T) {
	p := NewPreroll(3)
	if p.Duration() != 0 {
		t.Fatal("empty ring has non-zero duration")
	}
	p.Push(frameAt(0))
	p.Push(frameAt(40))
	p.Push(frameAt(80))
	p.Push(frameAt(120))
	if got := p.Duration(); got != 80*time.Millisecond {
		t.Errorf("Duration = %v, want 80ms", got)
	}
}

func TestPrerollNoFrameSeenTwice(t *testing.T) {
	p := NewPreroll(16)
	const pushes = 5000

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[uint64]int)
	)
	collect := func(batch []Frame) {
		mu.Lock()
		defer mu.Unlock()
		for _, f := range batch {
			seen[f.Sequence]++
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < pushes; i++ {
			collect(p.DrainFullIfRecording(true))
			p.Push(frameAt(i))
		}
	}()
	for i := 0; i < 200; i++ {
		collect(p.TakeAllAndClear())
	}
	wg.Wait()
	collect(p.TakeAllAndClear())

	for seq, n := range seen {
		if n != 1 {
			t.Fatalf("frame %d delivered %d times", seq, n)
		}
	}
	m := p.Metrics()
	if m["total_pushes"].(uint64) != pushes {
		t.Errorf("total_pushes = %v", m["total_pushes"])
	}
}
