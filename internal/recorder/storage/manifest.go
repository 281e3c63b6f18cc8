// storage/manifest.go
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Recording status values
const (
	StatusCompleted = "completed"
	StatusPartial   = "partial" // video persisted, an attachment or mirror failed
)

// Artifact is one encoded output belonging to a session.
type Artifact struct {
	Ext         string // without the dot
	ContentType string
	Data        []byte
}

// SessionRecord is everything the encode worker hands over when a session
// is finalized.
type SessionRecord struct {
	SessionID   uint64
	StartedAt   time.Time
	StoppedAt   time.Time
	FrameCount  uint64
	Width       int
	Height      int
	FPS         float64
	Codec       string
	Video       Artifact
	Attachments []Artifact
}

// MediaDuration is the playback length implied by frame count and rate.
func (r *SessionRecord) MediaDuration() time.Duration {
	if r.FPS <= 0 {
		return 0
	}
	return time.Duration(float64(r.FrameCount) / r.FPS * float64(time.Second))
}

// Recording is the persisted description of a finished session. It is
// written as a JSON sidecar and, when configured, as a database row.
type Recording struct {
	ID        string `json:"external_id" db:"external_id"`
	SessionID int64  `json:"session_id" db:"session_id"`
	Tag       string `json:"tag" db:"tag"`
	Status    string `json:"status" db:"status"`

	// Timestamps
	StartedAt time.Time `json:"started_at" db:"started_at"`
	EndedAt   time.Time `json:"ended_at" db:"ended_at"`
	Duration  float64   `json:"duration_seconds" db:"duration_seconds"`

	// Video properties
	FrameCount int64   `json:"frame_count" db:"frame_count"`
	FPS        float64 `json:"fps" db:"fps"`
	Width      int     `json:"width" db:"width"`
	Height     int     `json:"height" db:"height"`
	Codec      string  `json:"codec" db:"codec"`

	// Storage information
	Path      string         `json:"path" db:"path"`
	SizeBytes int64          `json:"size_bytes" db:"size_bytes"`
	Files     []string       `json:"files" db:"-"`
	ObjectKey sql.NullString `json:"-" db:"object_key"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// MarshalJSON flattens the SQL null types.
func (r *Recording) MarshalJSON() ([]byte, error) {
	type Alias Recording
	aux := struct {
		*Alias
		ObjectKey *string `json:"object_key,omitempty"`
	}{
		Alias: (*Alias)(r),
	}
	if r.ObjectKey.Valid {
		aux.ObjectKey = &r.ObjectKey.String
	}
	return json.Marshal(aux)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *Recording) UnmarshalJSON(b []byte) error {
	type Alias Recording
	aux := struct {
		*Alias
		ObjectKey *string `json:"object_key,omitempty"`
	}{
		Alias: (*Alias)(r),
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if aux.ObjectKey != nil {
		r.ObjectKey = sql.NullString{String: *aux.ObjectKey, Valid: true}
	}
	return nil
}

// GetDuration returns the recording duration as a time.Duration
func (r *Recording) GetDuration() time.Duration {
	return time.Duration(r.Duration * float64(time.Second))
}

// Validate checks if the recording data is valid
func (r *Recording) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("recording ID is required")
	}
	if r.StartedAt.IsZero() {
		return fmt.Errorf("start time is required")
	}
	if r.Path == "" {
		return fmt.Errorf("recording path is required")
	}
	return nil
}

// RecordingQuery defines search criteria for recordings
type RecordingQuery struct {
	Tag       string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}
