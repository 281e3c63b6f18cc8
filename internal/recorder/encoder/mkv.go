package encoder

import (
	"bytes"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/at-wat/ebml-go/mkvcore"
	"github.com/at-wat/ebml-go/webm"
)

const (
	videoTrackNumber = 1
	videoTrackType   = 1 // Matroska TrackType: video

	sealTimeout = 5 * time.Second
)

var trackUIDs atomic.Uint64

// MKVOpener produces Matroska sessions holding one intra-coded video track.
// The container is assembled in memory and handed back by Close.
type MKVOpener struct {
	codec   ImageCodec
	appName string
}

// NewMKVOpener returns an opener that compresses frames with codec.
func NewMKVOpener(codec ImageCodec, appName string) *MKVOpener {
	if appName == "" {
		appName = "pianocam"
	}
	return &MKVOpener{codec: codec, appName: appName}
}

// Open starts a new container.
func (o *MKVOpener) Open(p Params) (Session, error) {
	if o.codec == nil {
		return nil, &EncoderError{Code: ErrCodeOpen, Message: "no image codec", Fatal: true}
	}
	if p.Width <= 0 || p.Height <= 0 || p.FPS <= 0 {
		return nil, &EncoderError{
			Code:    ErrCodeOpen,
			Message: fmt.Sprintf("invalid stream shape %dx%d@%v", p.Width, p.Height, p.FPS),
			Fatal:   true,
		}
	}

	buf := newMemoryFile()
	writers, err := webm.NewSimpleBlockWriter(buf,
		[]webm.TrackEntry{
			{
				Name:            "Video",
				TrackNumber:     videoTrackNumber,
				TrackUID:        trackUIDs.Add(1),
				CodecID:         o.codec.CodecID(),
				TrackType:       videoTrackType,
				DefaultDuration: uint64(p.FrameDuration()),
				Video: &webm.Video{
					PixelWidth:  uint64(p.Width),
					PixelHeight: uint64(p.Height),
				},
			},
		},
		mkvcore.WithEBMLHeader(&webm.EBMLHeader{
			EBMLVersion:        1,
			EBMLReadVersion:    1,
			EBMLMaxIDLength:    4,
			EBMLMaxSizeLength:  8,
			DocType:            "matroska",
			DocTypeVersion:     4,
			DocTypeReadVersion: 2,
		}),
		mkvcore.WithSegmentInfo(&webm.Info{
			TimecodeScale: 1000000, // 1ms
			MuxingApp:     o.appName,
			WritingApp:    o.appName,
		}),
	)
	if err != nil {
		return nil, &EncoderError{Code: ErrCodeOpen, Message: "create matroska writer", Fatal: true, Err: err}
	}
	if len(writers) != 1 {
		return nil, &EncoderError{Code: ErrCodeOpen, Message: "unexpected track writer count", Fatal: true}
	}

	return &mkvSession{
		params: p,
		codec:  o.codec,
		buf:    buf,
		track:  writers[0],
	}, nil
}

type mkvSession struct {
	params  Params
	codec   ImageCodec
	buf     *memoryFile
	track   webm.BlockWriteCloser
	closed  bool
	metrics EncoderMetrics
}

func (s *mkvSession) Encode(frame image.Image, pts time.Duration) ([]Packet, error) {
	if s.closed {
		return nil, &EncoderError{Code: ErrCodeClosed, Message: "session closed", Fatal: true}
	}
	if frame == nil {
		return nil, &EncoderError{Code: ErrCodeEncode, Message: "nil frame"}
	}

	start := time.Now()
	data, err := s.codec.Encode(frame, s.params.Quality)
	if err != nil {
		return nil, &EncoderError{Code: ErrCodeEncode, Message: "compress frame", Err: err}
	}
	elapsed := time.Since(start)

	s.metrics.FramesEncoded++
	s.metrics.KeyFrames++
	s.metrics.BytesEncoded += uint64(len(data))
	s.metrics.LastFrameSize = len(data)
	s.metrics.EncodingTime += elapsed
	s.metrics.AverageFrameTime = s.metrics.EncodingTime / time.Duration(s.metrics.FramesEncoded)

	// Every frame is a keyframe for an intra-only codec.
	return []Packet{{Data: data, PTS: pts, Keyframe: true}}, nil
}

// Flush has nothing to return: frames are never held back.
func (s *mkvSession) Flush() ([]Packet, error) {
	if s.closed {
		return nil, &EncoderError{Code: ErrCodeClosed, Message: "session closed", Fatal: true}
	}
	return nil, nil
}

func (s *mkvSession) Mux(p Packet) error {
	if s.closed {
		return &EncoderError{Code: ErrCodeClosed, Message: "session closed", Fatal: true}
	}
	if _, err := s.track.Write(p.Keyframe, p.PTS.Milliseconds(), p.Data); err != nil {
		return &EncoderError{Code: ErrCodeMux, Message: "write block", Err: err}
	}
	s.metrics.PacketsMuxed++
	return nil
}

func (s *mkvSession) Close() ([]byte, error) {
	if s.closed {
		return nil, &EncoderError{Code: ErrCodeClosed, Message: "session already closed", Fatal: true}
	}
	s.closed = true
	if err := s.track.Close(); err != nil {
		return nil, &EncoderError{Code: ErrCodeMux, Message: "seal container", Fatal: true, Err: err}
	}
	// The block writer closes its sink once the last cluster is flushed.
	select {
	case <-s.buf.done:
	case <-time.After(sealTimeout):
		return nil, &EncoderError{Code: ErrCodeMux, Message: "timed out sealing container", Fatal: true}
	}
	return s.buf.Bytes(), nil
}

func (s *mkvSession) Ext() string { return "mkv" }

func (s *mkvSession) CodecID() string { return s.codec.CodecID() }

func (s *mkvSession) GetMetrics() *EncoderMetrics {
	m := s.metrics
	return &m
}

// memoryFile is the io.WriteCloser the block writer expects.
type memoryFile struct {
	bytes.Buffer
	done chan struct{}
	once sync.Once
}

func newMemoryFile() *memoryFile {
	return &memoryFile{done: make(chan struct{})}
}

func (m *memoryFile) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}
