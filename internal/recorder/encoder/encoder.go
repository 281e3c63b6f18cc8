// encoder/encoder.go
package encoder

import (
	"fmt"
	"image"
	"time"
)

// Params fixes the shape of one session's video stream.
type Params struct {
	Width   int
	Height  int
	FPS     float64
	Quality int // codec-specific, 1..100 for JPEG
}

// FrameDuration is the nominal duration of one frame.
func (p Params) FrameDuration() time.Duration {
	if p.FPS <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / p.FPS)
}

// PTS returns the presentation timestamp of frame number seq.
func (p Params) PTS(seq uint64) time.Duration {
	if p.FPS <= 0 {
		return 0
	}
	return time.Duration(float64(seq) * float64(time.Second) / p.FPS)
}

// Packet is one unit of encoded output.
type Packet struct {
	Data     []byte
	PTS      time.Duration
	Keyframe bool
}

// Opener creates encoder sessions.
type Opener interface {
	Open(p Params) (Session, error)
}

// Session is an encoder plus muxer writing one container. It is not safe
// for concurrent use.
type Session interface {
	// Encode compresses one frame. It may return zero or more packets.
	Encode(frame image.Image, pts time.Duration) ([]Packet, error)
	// Flush returns packets still buffered inside the encoder.
	Flush() ([]Packet, error)
	// Mux appends a packet to the container.
	Mux(p Packet) error
	// Close seals the container and returns its bytes.
	Close() ([]byte, error)
	// Ext is the file extension of the container, without the dot.
	Ext() string
	// CodecID names the video track's codec.
	CodecID() string
	GetMetrics() *EncoderMetrics
}

// ImageCodec compresses a single image. quality is codec-specific.
type ImageCodec interface {
	Encode(img image.Image, quality int) ([]byte, error)
	// CodecID is the Matroska codec id, e.g. V_MJPEG.
	CodecID() string
}

// EncoderMetrics provides runtime statistics
type EncoderMetrics struct {
	FramesEncoded    uint64
	PacketsMuxed     uint64
	BytesEncoded     uint64
	EncodingTime     time.Duration
	AverageFrameTime time.Duration
	LastFrameSize    int
	KeyFrames        uint64
}

// Error codes
const (
	ErrCodeOpen = iota + 1
	ErrCodeEncode
	ErrCodeMux
	ErrCodeClosed
)

// EncoderError carries a code and whether the session is still usable.
type EncoderError struct {
	Code    int
	Message string
	Fatal   bool
	Err     error
}

func (e *EncoderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encoder error %d: %s (fatal: %v): %v", e.Code, e.Message, e.Fatal, e.Err)
	}
	return fmt.Sprintf("encoder error %d: %s (fatal: %v)", e.Code, e.Message, e.Fatal)
}

func (e *EncoderError) Unwrap() error {
	return e.Err
}
