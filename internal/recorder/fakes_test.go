package recorder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/mikeyg42/pianocam/internal/recorder/buffer"
	"github.com/mikeyg42/pianocam/internal/recorder/encoder"
	"github.com/mikeyg42/pianocam/internal/recorder/storage"
)

type fakeEncSession struct {
	mu       sync.Mutex
	delay    time.Duration
	failOn   map[int]bool // 1-based encode call numbers that fail
	calls    int
	pts      []time.Duration
	muxed    int
	closed   bool
	closeErr error
}

func (s *fakeEncSession) Encode(img image.Image, pts time.Duration) ([]encoder.Packet, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failOn[s.calls] {
		return nil, &encoder.EncoderError{Code: encoder.ErrCodeEncode, Message: "scripted failure"}
	}
	s.pts = append(s.pts, pts)
	return []encoder.Packet{{Data: []byte{0xff}, PTS: pts, Keyframe: true}}, nil
}

func (s *fakeEncSession) Flush() ([]encoder.Packet, error) { return nil, nil }

func (s *fakeEncSession) Mux(p encoder.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muxed++
	return nil
}

func (s *fakeEncSession) Close() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("closed twice")
	}
	s.closed = true
	if s.closeErr != nil {
		return nil, s.closeErr
	}
	return []byte(fmt.Sprintf("video:%d", s.muxed)), nil
}

func (s *fakeEncSession) Ext() string     { return "mkv" }
func (s *fakeEncSession) CodecID() string { return "V_TEST" }

func (s *fakeEncSession) GetMetrics() *encoder.EncoderMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &encoder.EncoderMetrics{FramesEncoded: uint64(len(s.pts)), PacketsMuxed: uint64(s.muxed)}
}

func (s *fakeEncSession) recordedPTS() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.pts...)
}

type fakeOpener struct {
	mu       sync.Mutex
	err      error
	delay    time.Duration
	failOn   map[int]bool
	opened   []*fakeEncSession
	params   []encoder.Params
	closeErr error
}

func (o *fakeOpener) Open(p encoder.Params) (encoder.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	s := &fakeEncSession{delay: o.delay, failOn: o.failOn, closeErr: o.closeErr}
	o.opened = append(o.opened, s)
	o.params = append(o.params, p)
	return s, nil
}

func (o *fakeOpener) session(i int) *fakeEncSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened[i]
}

type fakeArchiver struct {
	mu      sync.Mutex
	err     error
	records []*storage.SessionRecord
}

func (a *fakeArchiver) Archive(ctx context.Context, rec *storage.SessionRecord) (*storage.Recording, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	a.records = append(a.records, rec)
	return &storage.Recording{
		ID:         fmt.Sprintf("rec-%d", rec.SessionID),
		SessionID:  int64(rec.SessionID),
		Path:       fmt.Sprintf("/out/%d.%s", rec.SessionID, rec.Video.Ext),
		FrameCount: int64(rec.FrameCount),
		SizeBytes:  int64(len(rec.Video.Data)),
	}, nil
}

func (a *fakeArchiver) all() []*storage.SessionRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*storage.SessionRecord(nil), a.records...)
}

type fakeAttachments struct{}

func (fakeAttachments) Attachments(id uint64) []storage.Artifact {
	return []storage.Artifact{{Ext: "mid", Data: []byte("MThd")}}
}

var testParams = encoder.Params{Width: 4, Height: 4, FPS: 30, Quality: 80}

func testFrame() buffer.Frame {
	return buffer.Frame{Image: image.NewGray(image.Rect(0, 0, 4, 4)), Timestamp: time.Now()}
}

// harness wires a manager and worker around a fake opener without
// starting any goroutines.
type harness struct {
	opener   *fakeOpener
	archive  *fakeArchiver
	preroll  *buffer.Preroll
	queue    *TaskQueue
	metrics  *Metrics
	sessions *SessionManager
	worker   *EncodeWorker
}

func newHarness(capacity int) *harness {
	h := &harness{
		opener:  &fakeOpener{},
		archive: &fakeArchiver{},
		preroll: buffer.NewPreroll(capacity),
		queue:   NewTaskQueue(0, nil),
		metrics: &Metrics{},
	}
	h.sessions = NewSessionManager(h.opener, testParams, h.preroll, h.queue, h.metrics, nil)
	h.worker = NewEncodeWorker(WorkerConfig{}, h.queue, h.sessions, h.archive, nil, h.metrics, nil)
	return h
}

func (h *harness) capture(n int) {
	for i := 0; i < n; i++ {
		h.sessions.CaptureFrame(testFrame())
	}
}

// process runs every queued task on the calling goroutine.
func (h *harness) process() {
	for {
		task, ok := h.queue.TryPop()
		if !ok {
			return
		}
		h.worker.handle(context.Background(), task)
	}
}
