package recorder

import "sync/atomic"

// Metrics tracks pipeline counters. All fields are safe for concurrent use.
type Metrics struct {
	FramesCaptured    atomic.Uint64
	ReadErrors        atomic.Uint64
	ReadStalls        atomic.Uint64
	BatchesQueued     atomic.Uint64
	FramesEncoded     atomic.Uint64
	FramesDropped     atomic.Uint64
	EncodeErrors      atomic.Uint64
	SessionsStarted   atomic.Uint64
	SessionsFinalized atomic.Uint64
	FinalizeErrors    atomic.Uint64
	BytesWritten      atomic.Uint64
}

// metricKeys fixes the order counters are logged in.
var metricKeys = []string{
	"frames_captured",
	"read_errors",
	"read_stalls",
	"batches_queued",
	"frames_encoded",
	"frames_dropped",
	"encode_errors",
	"sessions_started",
	"sessions_finalized",
	"finalize_errors",
	"bytes_written",
}

// Snapshot copies the counters into a plain map for logging.
func (m *Metrics) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"frames_captured":    m.FramesCaptured.Load(),
		"read_errors":        m.ReadErrors.Load(),
		"read_stalls":        m.ReadStalls.Load(),
		"batches_queued":     m.BatchesQueued.Load(),
		"frames_encoded":     m.FramesEncoded.Load(),
		"frames_dropped":     m.FramesDropped.Load(),
		"encode_errors":      m.EncodeErrors.Load(),
		"sessions_started":   m.SessionsStarted.Load(),
		"sessions_finalized": m.SessionsFinalized.Load(),
		"finalize_errors":    m.FinalizeErrors.Load(),
		"bytes_written":      m.BytesWritten.Load(),
	}
}
