package recorder

import (
	"context"
	"image"
	"runtime"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mikeyg42/pianocam/internal/recorder/buffer"
	"github.com/mikeyg42/pianocam/internal/recorder/recorderlog"
)

// FrameSource yields frames at the device's own pace. Read blocks until a
// frame is available or the read fails.
type FrameSource interface {
	Read() (image.Image, error)
	Close() error
}

// FrameSizer is implemented by sources that know the frame size the device
// actually delivers, which may differ from the one requested.
type FrameSizer interface {
	FrameSize() (width, height int)
}

// CaptureConfig tunes the capture loop.
type CaptureConfig struct {
	// StallThreshold is the read duration above which a timing warning is logged.
	StallThreshold time.Duration
	// RetryInitial and RetryMax bound the pause after a failed read.
	RetryInitial time.Duration
	RetryMax     time.Duration
	// RaisePriority asks the OS to favour the capture thread.
	RaisePriority bool
}

func (c *CaptureConfig) applyDefaults() {
	if c.StallThreshold <= 0 {
		c.StallThreshold = 40 * time.Millisecond
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 10 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 250 * time.Millisecond
	}
}

// CaptureLoop pulls frames from a FrameSource and feeds the session
// manager. It never stops on read errors, only on context cancellation.
type CaptureLoop struct {
	cfg      CaptureConfig
	source   FrameSource
	sessions *SessionManager
	metrics  *Metrics
	logger   recorderlog.Logger
	now      func() time.Time
}

// NewCaptureLoop builds a loop reading from source.
func NewCaptureLoop(cfg CaptureConfig, source FrameSource, sessions *SessionManager, metrics *Metrics, logger recorderlog.Logger) *CaptureLoop {
	cfg.applyDefaults()
	if logger == nil {
		logger = recorderlog.Nop()
	}
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &CaptureLoop{
		cfg:      cfg,
		source:   source,
		sessions: sessions,
		metrics:  metrics,
		logger:   logger.Named("capture"),
		now:      time.Now,
	}
}

func (c *CaptureLoop) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.RetryInitial
	bo.MaxInterval = c.cfg.RetryMax
	bo.MaxElapsedTime = 0 // retry forever
	bo.Reset()
	return bo
}

// Run blocks until ctx is cancelled.
func (c *CaptureLoop) Run(ctx context.Context) {
	if c.cfg.RaisePriority {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := raiseThreadPriority(); err != nil {
			c.logger.Warn("Could not raise capture thread priority", recorderlog.Error(err))
		} else {
			c.logger.Debug("Capture thread priority raised")
		}
	}

	bo := c.newBackOff()
	failStreak := 0

	c.logger.Info("Capture loop started",
		recorderlog.Duration("stall_threshold", c.cfg.StallThreshold))

	for {
		if ctx.Err() != nil {
			c.logger.Info("Capture loop stopped")
			return
		}

		start := c.now()
		img, err := c.source.Read()
		readAt := c.now()
		if elapsed := readAt.Sub(start); elapsed > c.cfg.StallThreshold {
			c.metrics.ReadStalls.Add(1)
			c.logger.Warn("Frame read stalled",
				recorderlog.Duration("elapsed", elapsed),
				recorderlog.Duration("threshold", c.cfg.StallThreshold))
		}

		if err != nil || img == nil {
			c.metrics.ReadErrors.Add(1)
			failStreak++
			if failStreak == 1 {
				c.logger.Warn("Frame read failed, retrying", recorderlog.Error(err))
			}
			wait := bo.NextBackOff()
			if wait == backoff.Stop {
				wait = c.cfg.RetryMax
			}
			select {
			case <-ctx.Done():
				c.logger.Info("Capture loop stopped")
				return
			case <-time.After(wait):
			}
			continue
		}

		if failStreak > 0 {
			c.logger.Info("Frame source recovered", recorderlog.Int("failed_reads", failStreak))
			failStreak = 0
			bo.Reset()
		}

		c.sessions.CaptureFrame(buffer.Frame{Image: img, Timestamp: readAt})
		c.metrics.FramesCaptured.Add(1)
	}
}
