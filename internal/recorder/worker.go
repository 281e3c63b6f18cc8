package recorder

import (
	"context"
	"time"

	"github.com/mikeyg42/pianocam/internal/recorder/recorderlog"
	"github.com/mikeyg42/pianocam/internal/recorder/storage"
)

// AttachmentSource supplies extra files (such as a MIDI take) to store
// next to a finished session's video.
type AttachmentSource interface {
	Attachments(id uint64) []storage.Artifact
}

// WorkerConfig tunes the encode worker.
type WorkerConfig struct {
	// Wait bounds each queue poll so shutdown is noticed.
	Wait time.Duration
	// DrainTimeout caps how long queued tasks are processed after shutdown.
	DrainTimeout time.Duration
}

func (c *WorkerConfig) applyDefaults() {
	if c.Wait <= 0 {
		c.Wait = time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 10 * time.Second
	}
}

// EncodeWorker is the single consumer of the task queue.
type EncodeWorker struct {
	cfg         WorkerConfig
	queue       *TaskQueue
	sessions    *SessionManager
	archive     storage.Archiver
	attachments AttachmentSource
	metrics     *Metrics
	logger      recorderlog.Logger
	now         func() time.Time
}

// NewEncodeWorker builds a worker. attachments may be nil.
func NewEncodeWorker(cfg WorkerConfig, queue *TaskQueue, sessions *SessionManager, archive storage.Archiver, attachments AttachmentSource, metrics *Metrics, logger recorderlog.Logger) *EncodeWorker {
	cfg.applyDefaults()
	if logger == nil {
		logger = recorderlog.Nop()
	}
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &EncodeWorker{
		cfg:         cfg,
		queue:       queue,
		sessions:    sessions,
		archive:     archive,
		attachments: attachments,
		metrics:     metrics,
		logger:      logger.Named("encode-worker"),
		now:         time.Now,
	}
}

// Run processes tasks until ctx is cancelled, then drains what is left.
func (w *EncodeWorker) Run(ctx context.Context) {
	w.logger.Info("Encode worker started")
	for {
		task, ok := w.queue.Pop(ctx, w.cfg.Wait)
		if ok {
			w.handle(context.Background(), task)
			continue
		}
		if ctx.Err() != nil {
			break
		}
	}
	w.drain()
}

func (w *EncodeWorker) drain() {
	deadline := w.now().Add(w.cfg.DrainTimeout)
	drained := 0
	for {
		if w.now().After(deadline) {
			w.logger.Warn("Drain deadline passed, abandoning queued tasks",
				recorderlog.Int("remaining", w.queue.Len()))
			break
		}
		task, ok := w.queue.TryPop()
		if !ok {
			break
		}
		w.handle(context.Background(), task)
		drained++
	}
	w.logger.Info("Encode worker stopped", recorderlog.Int("drained_tasks", drained))
}

func (w *EncodeWorker) handle(ctx context.Context, task EncodeTask) {
	switch task.Kind {
	case TaskEncodeFrames:
		w.handleEncode(task)
	case TaskFinalizeSession:
		w.handleFinalize(ctx, task.SessionID)
	default:
		w.logger.Warn("Unknown task kind", recorderlog.Int("kind", int(task.Kind)))
	}
}

func (w *EncodeWorker) handleEncode(task EncodeTask) {
	s := w.sessions.lookup(task.SessionID)
	if s == nil {
		w.metrics.FramesDropped.Add(uint64(len(task.Frames)))
		w.logger.Debug("Dropping frames for unknown session",
			recorderlog.Uint64("session", task.SessionID),
			recorderlog.Int("frames", len(task.Frames)))
		return
	}

	base := s.frameCount.Load()
	for i, f := range task.Frames {
		pts := s.params.PTS(base + uint64(i))
		packets, err := s.enc.Encode(f.Image, pts)
		if err != nil {
			w.metrics.EncodeErrors.Add(1)
			w.logger.Error("Failed to encode frame",
				recorderlog.Uint64("session", s.id),
				recorderlog.Uint64("sequence", f.Sequence),
				recorderlog.Error(err))
			continue
		}
		for _, p := range packets {
			if err := s.enc.Mux(p); err != nil {
				w.metrics.EncodeErrors.Add(1)
				w.logger.Error("Failed to mux packet",
					recorderlog.Uint64("session", s.id),
					recorderlog.Duration("pts", p.PTS),
					recorderlog.Error(err))
			}
		}
		w.metrics.FramesEncoded.Add(1)
	}
	s.frameCount.Store(base + uint64(len(task.Frames)))
}

func (w *EncodeWorker) handleFinalize(ctx context.Context, id uint64) {
	s := w.sessions.lookup(id)
	if s == nil {
		w.logger.Debug("Finalize for unknown session", recorderlog.Uint64("session", id))
		return
	}
	defer w.sessions.remove(id)

	// Collected first so a failed finalize does not strand them.
	var attachments []storage.Artifact
	if w.attachments != nil {
		attachments = w.attachments.Attachments(id)
	}

	data, frames, err := w.seal(s)
	if err != nil {
		w.metrics.FinalizeErrors.Add(1)
		w.logger.Error("Failed to finalize session",
			recorderlog.Uint64("session", id),
			recorderlog.Error(err))
		return
	}

	stoppedAt := w.sessions.stoppedAt(id)
	if stoppedAt.IsZero() {
		stoppedAt = w.now()
	}
	rec := &storage.SessionRecord{
		SessionID:  id,
		StartedAt:  s.startedAt,
		StoppedAt:  stoppedAt,
		FrameCount: frames,
		Width:      s.params.Width,
		Height:     s.params.Height,
		FPS:        s.params.FPS,
		Codec:      s.enc.CodecID(),
		Video: storage.Artifact{
			Ext:         s.enc.Ext(),
			ContentType: storage.ContentTypeFor(s.enc.Ext()),
			Data:        data,
		},
		Attachments: attachments,
	}

	out, err := w.archive.Archive(ctx, rec)
	if err != nil {
		w.metrics.FinalizeErrors.Add(1)
		w.logger.Error("Failed to persist session",
			recorderlog.Uint64("session", id),
			recorderlog.Error(err))
		return
	}

	w.metrics.SessionsFinalized.Add(1)
	w.metrics.BytesWritten.Add(uint64(out.SizeBytes))
	em := s.enc.GetMetrics()
	w.logger.Info("Session finalized",
		recorderlog.Uint64("session", id),
		recorderlog.String("path", out.Path),
		recorderlog.Uint64("frames", frames),
		recorderlog.Duration("avg_frame_encode", em.AverageFrameTime))
}

// seal flushes, muxes the tail and closes the container.
func (w *EncodeWorker) seal(s *session) ([]byte, uint64, error) {
	packets, err := s.enc.Flush()
	if err != nil {
		w.logger.Warn("Encoder flush failed",
			recorderlog.Uint64("session", s.id),
			recorderlog.Error(err))
	}
	for _, p := range packets {
		if err := s.enc.Mux(p); err != nil {
			w.metrics.EncodeErrors.Add(1)
			w.logger.Error("Failed to mux flushed packet",
				recorderlog.Uint64("session", s.id),
				recorderlog.Error(err))
		}
	}

	data, err := s.enc.Close()
	if err != nil {
		return nil, s.frameCount.Load(), err
	}
	return data, s.frameCount.Load(), nil
}
