// Package camera opens video capture devices and compresses frames. It
// needs cgo: OpenCV for the opencv backend and the JPEG codec, and the
// platform camera driver for the mediadevices backend.
package camera

import (
	"errors"
	"fmt"
	"image"
	"strconv"

	"github.com/mikeyg42/pianocam/internal/recorder/recorderlog"
)

var (
	ErrReadFailed     = errors.New("camera read failed")
	ErrNoFrame        = errors.New("camera returned no frame")
	ErrDeviceNotFound = errors.New("camera device not found")
)

// Backend names
const (
	BackendOpenCV       = "opencv"
	BackendMediaDevices = "mediadevices"
)

// Source is a blocking frame reader.
type Source interface {
	Read() (image.Image, error)
	Close() error
}

// Config selects and shapes the capture device.
type Config struct {
	Backend string
	// Device is an OpenCV index ("0") or a mediadevices device id. Empty
	// picks the first camera.
	Device string
	Width  int
	Height int
	FPS    float64
}

// Open starts capture with the configured backend.
func Open(cfg Config, logger recorderlog.Logger) (Source, error) {
	if logger == nil {
		logger = recorderlog.Nop()
	}
	logger = logger.Named("camera")

	switch cfg.Backend {
	case "", BackendOpenCV:
		index := 0
		if cfg.Device != "" {
			n, err := strconv.Atoi(cfg.Device)
			if err != nil {
				return nil, fmt.Errorf("opencv device must be an index, got %q", cfg.Device)
			}
			index = n
		}
		return NewOpenCVSource(index, cfg.Width, cfg.Height, cfg.FPS, logger)
	case BackendMediaDevices:
		return NewMediaDevicesSource(cfg.Device, cfg.Width, cfg.Height, cfg.FPS, logger)
	default:
		return nil, fmt.Errorf("unknown camera backend %q", cfg.Backend)
	}
}
