// internal/recorder/recorder.go
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mikeyg42/pianocam/internal/recorder/buffer"
	"github.com/mikeyg42/pianocam/internal/recorder/encoder"
	"github.com/mikeyg42/pianocam/internal/recorder/recorderlog"
	"github.com/mikeyg42/pianocam/internal/recorder/storage"
)

var (
	ErrAlreadyRunning = errors.New("recorder already running")
	ErrNotRunning     = errors.New("recorder not running")
)

// Options configures a Service.
type Options struct {
	Params         encoder.Params
	PrerollSeconds float64
	QueueWarnDepth int
	Capture        CaptureConfig
	Worker         WorkerConfig

	// OutputDir is checked for MinFreeBytes at start. Zero disables the check.
	OutputDir    string
	MinFreeBytes uint64

	// ReportInterval is the metrics log period. Defaults to 30s.
	ReportInterval time.Duration
	// StopTimeout bounds Stop's wait for the pipeline goroutines.
	StopTimeout time.Duration
}

// Service runs the capture loop and the encode worker around a shared
// preroll buffer, task queue and session manager.
type Service struct {
	opts    Options
	logger  recorderlog.Logger
	metrics *Metrics

	source   FrameSource
	preroll  *buffer.Preroll
	queue    *TaskQueue
	sessions *SessionManager
	capture  *CaptureLoop
	worker   *EncodeWorker

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewService wires the pipeline. attachments may be nil.
func NewService(opts Options, source FrameSource, opener encoder.Opener, archive storage.Archiver, attachments AttachmentSource, logger recorderlog.Logger) *Service {
	if logger == nil {
		logger = recorderlog.Nop()
	}
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = 30 * time.Second
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 30 * time.Second
	}

	if fs, ok := source.(FrameSizer); ok {
		w, h := fs.FrameSize()
		if w > 0 && h > 0 && (w != opts.Params.Width || h != opts.Params.Height) {
			logger.Info("Camera delivers a different frame size than configured",
				recorderlog.Int("configured_width", opts.Params.Width),
				recorderlog.Int("configured_height", opts.Params.Height),
				recorderlog.Int("width", w),
				recorderlog.Int("height", h))
			opts.Params.Width, opts.Params.Height = w, h
		}
	}

	metrics := &Metrics{}
	preroll := buffer.NewPreroll(buffer.Capacity(opts.Params.FPS, opts.PrerollSeconds))
	queue := NewTaskQueue(opts.QueueWarnDepth, logger.Named("queue"))
	sessions := NewSessionManager(opener, opts.Params, preroll, queue, metrics, logger)

	return &Service{
		opts:     opts,
		logger:   logger,
		metrics:  metrics,
		source:   source,
		preroll:  preroll,
		queue:    queue,
		sessions: sessions,
		capture:  NewCaptureLoop(opts.Capture, source, sessions, metrics, logger),
		worker:   NewEncodeWorker(opts.Worker, queue, sessions, archive, attachments, metrics, logger),
	}
}

// Sessions exposes the session manager to the trigger side.
func (r *Service) Sessions() *SessionManager { return r.sessions }

// Metrics returns the live counters.
func (r *Service) Metrics() *Metrics { return r.metrics }

// QueueLen is the number of pending encode tasks.
func (r *Service) QueueLen() int { return r.queue.Len() }

// Start launches the capture loop, the encode worker and the metrics
// reporter.
func (r *Service) Start(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	if err := r.checkDiskSpace(); err != nil {
		r.running.Store(false)
		return fmt.Errorf("insufficient disk space: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	r.logger.Info("Starting recorder",
		recorderlog.Int("width", r.opts.Params.Width),
		recorderlog.Int("height", r.opts.Params.Height),
		recorderlog.Float64("fps", r.opts.Params.FPS),
		recorderlog.Int("preroll_frames", r.preroll.Capacity()))

	r.wg.Add(3)
	go func() {
		defer r.wg.Done()
		r.capture.Run(runCtx)
	}()
	go func() {
		defer r.wg.Done()
		r.worker.Run(runCtx)
	}()
	go r.metricsReporter(runCtx)

	return nil
}

// Stop ends any active session, shuts the pipeline down and closes the
// frame source. Queued work is drained by the worker before it exits.
func (r *Service) Stop() error {
	if !r.running.CompareAndSwap(true, false) {
		return ErrNotRunning
	}

	r.logger.Info("Stopping recorder")
	if id, stopped := r.sessions.Stop(); stopped {
		r.logger.Info("Stopped active session during shutdown", recorderlog.Uint64("session", id))
	}

	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		r.logger.Info("Recorder stopped gracefully")
	case <-time.After(r.opts.StopTimeout):
		r.logger.Warn("Recorder stop timeout", recorderlog.Int("queued_tasks", r.queue.Len()))
		err = fmt.Errorf("pipeline did not stop within %s", r.opts.StopTimeout)
	}

	if r.source != nil {
		if cerr := r.source.Close(); cerr != nil {
			r.logger.Error("Failed to close frame source", recorderlog.Error(cerr))
		}
	}
	r.reportMetrics()
	return err
}

// metricsReporter periodically logs metrics
func (r *Service) metricsReporter(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.opts.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reportMetrics()
		}
	}
}

func (r *Service) reportMetrics() {
	snap := r.metrics.Snapshot()
	fields := []recorderlog.Field{
		recorderlog.Int("queue_depth", r.queue.Len()),
		recorderlog.Int("queue_max_depth", r.queue.MaxDepth()),
		recorderlog.Int("buffered_frames", r.preroll.Len()),
		recorderlog.Duration("buffered_span", r.preroll.Duration()),
		recorderlog.Any("preroll", r.preroll.Metrics()),
		recorderlog.String("status", r.sessions.Status().String()),
	}
	for _, k := range metricKeys {
		fields = append(fields, recorderlog.Uint64(k, snap[k]))
	}
	r.logger.Info("Recorder metrics", fields...)
}

// checkDiskSpace verifies sufficient disk space is available
func (r *Service) checkDiskSpace() error {
	if r.opts.MinFreeBytes == 0 || r.opts.OutputDir == "" {
		return nil
	}
	free, err := freeBytes(r.opts.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to stat output dir: %w", err)
	}

	const mb = 1024 * 1024
	if free < r.opts.MinFreeBytes {
		return fmt.Errorf("%d MB available, %d MB required", free/mb, r.opts.MinFreeBytes/mb)
	}

	r.logger.Info("Disk space check passed",
		recorderlog.Uint64("available_mb", free/mb),
		recorderlog.Uint64("required_mb", r.opts.MinFreeBytes/mb))
	return nil
}
