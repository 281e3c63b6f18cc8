package camera

import (
	"fmt"
	"image"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"

	// Registers the platform camera driver.
	_ "github.com/pion/mediadevices/pkg/driver/camera"

	"github.com/mikeyg42/pianocam/internal/recorder/buffer"
	"github.com/mikeyg42/pianocam/internal/recorder/recorderlog"
)

// MediaDevicesSource reads raw frames from a pion/mediadevices video track.
type MediaDevicesSource struct {
	mu     sync.Mutex
	stream mediadevices.MediaStream
	reader video.Reader
	logger recorderlog.Logger

	// first frame, read at open to learn the delivered size
	first         image.Image
	width, height int
}

// NewMediaDevicesSource opens deviceID, or the first camera when empty.
func NewMediaDevicesSource(deviceID string, width, height int, fps float64, logger recorderlog.Logger) (*MediaDevicesSource, error) {
	if deviceID == "" {
		for _, d := range mediadevices.EnumerateDevices() {
			if d.Kind == mediadevices.VideoInput {
				deviceID = d.DeviceID
				break
			}
		}
		if deviceID == "" {
			return nil, ErrDeviceNotFound
		}
	}

	constraints := mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.DeviceID = prop.String(deviceID)
			if width > 0 {
				c.Width = prop.Int(width)
			}
			if height > 0 {
				c.Height = prop.Int(height)
			}
			if fps > 0 {
				c.FrameRate = prop.Float(fps)
			}
		},
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, fmt.Errorf("%w: get user media for %q: %v", ErrDeviceNotFound, deviceID, err)
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		closeTracks(stream)
		return nil, fmt.Errorf("%w: no video track for %q", ErrDeviceNotFound, deviceID)
	}
	vt, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		closeTracks(stream)
		return nil, fmt.Errorf("track is not a video track: %T", tracks[0])
	}

	s := &MediaDevicesSource{
		stream: stream,
		reader: vt.NewReader(false),
		logger: logger,
	}
	first, err := s.readFrame()
	if err != nil {
		logger.Warn("Could not read a first frame, assuming the requested size", recorderlog.Error(err))
	} else {
		s.first = first
		s.width, s.height = first.Bounds().Dx(), first.Bounds().Dy()
	}

	w, h := s.FrameSize()
	logger.Info("Camera opened",
		recorderlog.String("backend", BackendMediaDevices),
		recorderlog.String("device", deviceID),
		recorderlog.String("track", vt.ID()),
		recorderlog.Int("width", w),
		recorderlog.Int("height", h))
	return s, nil
}

// FrameSize is the size of the frames the track delivers, or zero when no
// frame could be read at open.
func (s *MediaDevicesSource) FrameSize() (int, int) { return s.width, s.height }

// Read returns the next frame, copied out of the driver's buffer.
func (s *MediaDevicesSource) Read() (image.Image, error) {
	s.mu.Lock()
	if first := s.first; first != nil {
		s.first = nil
		s.mu.Unlock()
		return first, nil
	}
	s.mu.Unlock()
	return s.readFrame()
}

func (s *MediaDevicesSource) readFrame() (image.Image, error) {
	s.mu.Lock()
	reader := s.reader
	s.mu.Unlock()
	if reader == nil {
		return nil, ErrReadFailed
	}

	img, release, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	if release != nil {
		defer release()
	}
	if img == nil {
		return nil, ErrNoFrame
	}
	return buffer.CloneImage(img), nil
}

// Close stops every track of the stream.
func (s *MediaDevicesSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	closeTracks(s.stream)
	s.stream = nil
	s.reader = nil
	return nil
}

func closeTracks(stream mediadevices.MediaStream) {
	for _, track := range stream.GetTracks() {
		track.Close()
	}
}
