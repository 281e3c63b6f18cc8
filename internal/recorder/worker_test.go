package recorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mikeyg42/pianocam/internal/recorder/buffer"
)

func TestWorkerDropsBatchForUnknownSession(t *testing.T) {
	h := newHarness(4)
	h.queue.Push(EncodeFrames(42, []buffer.Frame{testFrame(), testFrame()}))
	h.queue.Push(FinalizeSession(42))
	h.process()

	if got := h.metrics.FramesDropped.Load(); got != 2 {
		t.Errorf("frames dropped = %d, want 2", got)
	}
	if len(h.archive.all()) != 0 {
		t.Error("archived a session that never existed")
	}
}

func TestWorkerContinuesAfterFrameError(t *testing.T) {
	h := newHarness(10)
	h.opener.failOn = map[int]bool{2: true}
	h.capture(3)
	h.sessions.Start(context.Background())
	h.sessions.Stop()
	h.process()

	if got := h.metrics.EncodeErrors.Load(); got != 1 {
		t.Errorf("encode errors = %d, want 1", got)
	}
	if got := h.metrics.FramesEncoded.Load(); got != 2 {
		t.Errorf("frames encoded = %d, want 2", got)
	}
	recs := h.archive.all()
	if len(recs) != 1 {
		t.Fatalf("archived %d sessions", len(recs))
	}
	// The failed frame still occupies its slot on the timeline.
	if recs[0].FrameCount != 3 {
		t.Errorf("frame count = %d, want 3", recs[0].FrameCount)
	}
	pts := h.opener.session(0).recordedPTS()
	if len(pts) != 2 || pts[1] != testParams.PTS(2) {
		t.Errorf("pts = %v", pts)
	}
}

func TestWorkerFinalizeFailureRemovesSession(t *testing.T) {
	tests := []struct {
		name     string
		closeErr error
		archErr  error
	}{
		{"close fails", errors.New("seal failed"), nil},
		{"archive fails", nil, errors.New("disk full")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(4)
			h.opener.closeErr = tt.closeErr
			h.archive.err = tt.archErr
			h.capture(2)
			h.sessions.Start(context.Background())
			h.sessions.Stop()
			h.process()

			if got := h.metrics.FinalizeErrors.Load(); got != 1 {
				t.Errorf("finalize errors = %d, want 1", got)
			}
			if live := h.sessions.Sessions(); len(live) != 0 {
				t.Errorf("session not removed: %+v", live)
			}
			if h.metrics.SessionsFinalized.Load() != 0 {
				t.Error("failed session counted as finalized")
			}
		})
	}
}

func TestWorkerAttachesExtraFiles(t *testing.T) {
	h := newHarness(4)
	h.worker = NewEncodeWorker(WorkerConfig{}, h.queue, h.sessions, h.archive, fakeAttachments{}, h.metrics, nil)
	h.capture(1)
	h.sessions.Start(context.Background())
	h.sessions.Stop()
	h.process()

	recs := h.archive.all()
	if len(recs) != 1 || len(recs[0].Attachments) != 1 || recs[0].Attachments[0].Ext != "mid" {
		t.Fatalf("records = %+v", recs)
	}
	if recs[0].Codec != "V_TEST" || recs[0].Video.Ext != "mkv" {
		t.Errorf("codec %q ext %q", recs[0].Codec, recs[0].Video.Ext)
	}
}

func TestWorkerDrainsAfterCancel(t *testing.T) {
	h := newHarness(10)
	h.capture(5)
	h.sessions.Start(context.Background())
	h.sessions.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		h.worker.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit")
	}

	if h.queue.Len() != 0 {
		t.Errorf("queue len = %d after drain", h.queue.Len())
	}
	if len(h.archive.all()) != 1 {
		t.Error("session stopped during shutdown was not persisted")
	}
}

func TestSessionsNotBlockedBySlowBatch(t *testing.T) {
	h := newHarness(10)
	h.opener.delay = 50 * time.Millisecond
	h.capture(10)
	h.sessions.Start(context.Background())
	task, ok := h.queue.TryPop()
	if !ok {
		t.Fatal("no preroll batch queued")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.worker.handle(context.Background(), task)
	}()
	time.Sleep(20 * time.Millisecond)

	listed := make(chan []SessionInfo, 1)
	go func() { listed <- h.sessions.Sessions() }()
	select {
	case infos := <-listed:
		if len(infos) != 1 || infos[0].State != StateActive {
			t.Errorf("sessions = %+v", infos)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Sessions blocked behind the encode batch")
	}

	<-done
	if infos := h.sessions.Sessions(); len(infos) != 1 || infos[0].FrameCount != 10 {
		t.Errorf("after batch: sessions = %+v, want 10 frames", infos)
	}
}
