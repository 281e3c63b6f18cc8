package camera

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/mikeyg42/pianocam/internal/recorder/recorderlog"
)

// OpenCVSource reads frames through an OpenCV VideoCapture.
type OpenCVSource struct {
	mu     sync.Mutex
	cap    *gocv.VideoCapture
	mat    gocv.Mat
	index  int
	width  int
	height int
	logger recorderlog.Logger
}

// NewOpenCVSource opens camera index and requests the given shape. The
// driver may pick the nearest mode it supports.
func NewOpenCVSource(index, width, height int, fps float64, logger recorderlog.Logger) (*OpenCVSource, error) {
	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, fmt.Errorf("%w: index %d: %v", ErrDeviceNotFound, index, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: index %d did not open", ErrDeviceNotFound, index)
	}

	if width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
	}
	if height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}
	if fps > 0 {
		vc.Set(gocv.VideoCaptureFPS, fps)
	}

	gotW := int(vc.Get(gocv.VideoCaptureFrameWidth))
	gotH := int(vc.Get(gocv.VideoCaptureFrameHeight))
	logger.Info("Camera opened",
		recorderlog.String("backend", BackendOpenCV),
		recorderlog.Int("index", index),
		recorderlog.Int("width", gotW),
		recorderlog.Int("height", gotH),
		recorderlog.Float64("fps", vc.Get(gocv.VideoCaptureFPS)))

	return &OpenCVSource{cap: vc, mat: gocv.NewMat(), index: index, width: gotW, height: gotH, logger: logger}, nil
}

// FrameSize is the mode the driver settled on.
func (s *OpenCVSource) FrameSize() (int, int) { return s.width, s.height }

// Read blocks for the next frame and returns a copy in Go memory.
func (s *OpenCVSource) Read() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cap == nil {
		return nil, ErrReadFailed
	}
	if ok := s.cap.Read(&s.mat); !ok {
		return nil, ErrReadFailed
	}
	if s.mat.Empty() {
		return nil, ErrNoFrame
	}
	img, err := s.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	return img, nil
}

// Close releases the device.
func (s *OpenCVSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cap == nil {
		return nil
	}
	s.mat.Close()
	err := s.cap.Close()
	s.cap = nil
	return err
}
