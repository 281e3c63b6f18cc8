package recorder

import (
	"bytes"
	"context"
	"testing"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"

	"github.com/mikeyg42/pianocam/internal/midi"
)

// Every session finalized by a live worker carries its MIDI take, however
// quickly the worker picks up the finalize task.
func TestMIDITakeArchivedWithEverySession(t *testing.T) {
	h := newHarness(8)
	take := midi.NewTake(time.Second, nil)
	h.sessions.SetObserver(take)
	h.worker = NewEncodeWorker(WorkerConfig{Wait: 10 * time.Millisecond}, h.queue, h.sessions, h.archive, take, h.metrics, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.worker.Run(ctx)
	}()

	const rounds = 20
	for i := 0; i < rounds; i++ {
		h.capture(2)
		if _, started, err := h.sessions.Start(context.Background()); err != nil || !started {
			t.Fatalf("round %d: Start = %v, %v", i, started, err)
		}
		for n := 0; n < 3000; n++ {
			take.Record(gomidi.NoteOn(0, uint8(n%88+21), 64), time.Now())
		}
		h.capture(1)
		if _, stopped := h.sessions.Stop(); !stopped {
			t.Fatalf("round %d: Stop reported no session", i)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	recs := h.archive.all()
	if len(recs) != rounds {
		t.Fatalf("archived %d sessions, want %d", len(recs), rounds)
	}
	for _, r := range recs {
		if len(r.Attachments) != 1 || r.Attachments[0].Ext != "mid" {
			t.Errorf("session %d archived without MIDI take: %+v", r.SessionID, r.Attachments)
			continue
		}
		if !bytes.HasPrefix(r.Attachments[0].Data, []byte("MThd")) {
			t.Errorf("session %d take is not an SMF", r.SessionID)
		}
	}
	if again := take.Attachments(recs[0].SessionID); again != nil {
		t.Errorf("take for session %d still held after archive", recs[0].SessionID)
	}
}
