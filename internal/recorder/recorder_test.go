package recorder

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"
)

// chanSource yields whatever the test sends and fails once the channel is
// closed.
type chanSource struct {
	frames chan image.Image
}

func (s *chanSource) Read() (image.Image, error) {
	img, ok := <-s.frames
	if !ok {
		return nil, errors.New("source closed")
	}
	return img, nil
}

func (s *chanSource) Close() error { return nil }

func TestServiceStartStop(t *testing.T) {
	src := &chanSource{frames: make(chan image.Image)}
	svc := NewService(Options{Params: testParams, PrerollSeconds: 1, StopTimeout: 5 * time.Second},
		src, &fakeOpener{}, &fakeArchiver{}, nil, nil)

	if err := svc.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Stop before Start = %v", err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := svc.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start = %v", err)
	}
	close(src.frames)
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

// A slow encoder lets the queue grow while capture keeps up; every frame
// is still encoded once the session stops.
func TestServiceSlowEncoderBacklog(t *testing.T) {
	const frames = 150
	src := &chanSource{frames: make(chan image.Image)}
	opener := &fakeOpener{delay: 2 * time.Millisecond}
	archive := &fakeArchiver{}
	svc := NewService(Options{
		Params:         testParams,
		PrerollSeconds: 0.1,
		Worker:         WorkerConfig{Wait: 10 * time.Millisecond},
		StopTimeout:    10 * time.Second,
	}, src, opener, archive, nil, nil)

	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if _, started, err := svc.Sessions().Start(ctx); err != nil || !started {
		t.Fatalf("session Start: %v %v", started, err)
	}

	for i := 0; i < frames; i++ {
		src.frames <- image.NewGray(image.Rect(0, 0, 4, 4))
	}
	waitFor(t, 5*time.Second, func() bool { return svc.Metrics().FramesCaptured.Load() == frames })
	if svc.Metrics().ReadErrors.Load() != 0 {
		t.Errorf("read errors = %d", svc.Metrics().ReadErrors.Load())
	}

	svc.Sessions().Stop()
	waitFor(t, 10*time.Second, func() bool { return len(archive.all()) == 1 })

	if got := archive.all()[0].FrameCount; got != frames {
		t.Errorf("frame count = %d, want %d", got, frames)
	}
	if svc.queue.MaxDepth() < 2 {
		t.Errorf("queue max depth = %d, expected a backlog", svc.queue.MaxDepth())
	}

	close(src.frames)
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

type sizedSource struct {
	chanSource
	width, height int
}

func (s *sizedSource) FrameSize() (int, int) { return s.width, s.height }

func TestServiceUsesNegotiatedFrameSize(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		wantW, wantH  int
	}{
		{"driver picked nearest mode", 640, 480, 640, 480},
		{"size unknown", 0, 0, testParams.Width, testParams.Height},
		{"matches config", testParams.Width, testParams.Height, testParams.Width, testParams.Height},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &sizedSource{chanSource: chanSource{frames: make(chan image.Image)}, width: tt.width, height: tt.height}
			opener := &fakeOpener{}
			svc := NewService(Options{Params: testParams, PrerollSeconds: 1}, src, opener, &fakeArchiver{}, nil, nil)

			if _, _, err := svc.Sessions().Start(context.Background()); err != nil {
				t.Fatal(err)
			}
			got := opener.params[0]
			if got.Width != tt.wantW || got.Height != tt.wantH {
				t.Errorf("encoder opened at %dx%d, want %dx%d", got.Width, got.Height, tt.wantW, tt.wantH)
			}
			if got.FPS != testParams.FPS {
				t.Errorf("fps = %v, want %v", got.FPS, testParams.FPS)
			}
		})
	}
}
