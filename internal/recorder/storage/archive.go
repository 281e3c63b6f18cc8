package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/mikeyg42/pianocam/internal/recorder/recorderlog"
)

// Archiver persists finished sessions.
type Archiver interface {
	Archive(ctx context.Context, rec *SessionRecord) (*Recording, error)
}

// ArchiveConfig describes where and how sessions are named.
type ArchiveConfig struct {
	Tag string
	// ObjectPrefix is prepended to object keys when mirroring.
	ObjectPrefix string
	// Location for file names. Defaults to time.Local.
	Location *time.Location
}

// Archive writes the video, its attachments and a JSON sidecar to local
// disk, then optionally mirrors the files to an ObjectStore and records a
// row in a MetadataStore. Only local write failures are returned; mirror
// and metadata failures are logged.
type Archive struct {
	cfg     ArchiveConfig
	local   *LocalStore
	objects ObjectStore
	meta    MetadataStore
	logger  recorderlog.Logger
	now     func() time.Time
}

// NewArchive builds an archive. objects and meta may be nil.
func NewArchive(cfg ArchiveConfig, local *LocalStore, objects ObjectStore, meta MetadataStore, logger recorderlog.Logger) *Archive {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if logger == nil {
		logger = recorderlog.Nop()
	}
	return &Archive{
		cfg:     cfg,
		local:   local,
		objects: objects,
		meta:    meta,
		logger:  logger.Named("archive"),
		now:     time.Now,
	}
}

// Archive persists rec. The returned Recording describes what was written.
func (a *Archive) Archive(ctx context.Context, rec *SessionRecord) (*Recording, error) {
	if rec == nil || len(rec.Video.Data) == 0 {
		return nil, &StorageError{Op: "archive", Err: fmt.Errorf("empty video")}
	}
	if err := a.local.EnsureDir(); err != nil {
		return nil, err
	}

	start := rec.StartedAt.In(a.cfg.Location)
	base, err := UniqueBase(a.local.Fs(), a.local.Dir(), a.cfg.Tag, start, rec.Video.Ext)
	if err != nil {
		return nil, &StorageError{Op: "archive", Err: err}
	}

	videoName := base + "." + rec.Video.Ext
	videoPath, err := a.local.WriteFile(videoName, rec.Video.Data)
	if err != nil {
		return nil, err
	}

	out := &Recording{
		ID:         uuid.New().String(),
		SessionID:  int64(rec.SessionID),
		Tag:        a.cfg.Tag,
		Status:     StatusCompleted,
		StartedAt:  rec.StartedAt,
		EndedAt:    rec.StoppedAt,
		Duration:   rec.MediaDuration().Seconds(),
		FrameCount: int64(rec.FrameCount),
		FPS:        rec.FPS,
		Width:      rec.Width,
		Height:     rec.Height,
		Codec:      rec.Codec,
		Path:       videoPath,
		SizeBytes:  int64(len(rec.Video.Data)),
		Files:      []string{videoName},
		CreatedAt:  a.now(),
	}

	uploads := []namedArtifact{{name: videoName, art: rec.Video}}
	for _, att := range rec.Attachments {
		name := base + "." + att.Ext
		if _, err := a.local.WriteFile(name, att.Data); err != nil {
			out.Status = StatusPartial
			a.logger.Error("Failed to write attachment",
				recorderlog.String("file", name),
				recorderlog.Error(err))
			continue
		}
		out.Files = append(out.Files, name)
		uploads = append(uploads, namedArtifact{name: name, art: att})
	}

	if a.objects != nil {
		prefix := path.Join(a.cfg.ObjectPrefix, start.Format("2006-01-02"), out.ID)
		if err := a.mirror(ctx, prefix, uploads); err != nil {
			out.Status = StatusPartial
			a.logger.Error("Failed to mirror recording",
				recorderlog.String("id", out.ID),
				recorderlog.Error(err))
			if IsAccessDenied(err) {
				a.logger.Warn("Object store denied access, check storage.minio credentials")
			}
		} else {
			out.ObjectKey = sql.NullString{String: path.Join(prefix, videoName), Valid: true}
		}
	}

	sidecarName := base + ".json"
	sidecar, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		a.logger.Error("Failed to encode sidecar", recorderlog.Error(err))
	} else if _, err := a.local.WriteFile(sidecarName, sidecar); err != nil {
		a.logger.Error("Failed to write sidecar",
			recorderlog.String("file", sidecarName),
			recorderlog.Error(err))
	}

	if a.meta != nil {
		if err := a.meta.SaveRecording(ctx, out); err != nil {
			a.logger.Error("Failed to save recording metadata",
				recorderlog.String("id", out.ID),
				recorderlog.Error(err))
		}
	}

	a.logger.Info("Recording archived",
		recorderlog.Uint64("session", rec.SessionID),
		recorderlog.String("path", videoPath),
		recorderlog.Int64("size_bytes", out.SizeBytes),
		recorderlog.Uint64("frames", rec.FrameCount),
		recorderlog.Float64("duration_seconds", out.Duration))

	return out, nil
}

// finished recordings never change once uploaded
const immutableCacheControl = "private, max-age=31536000, immutable"

type namedArtifact struct {
	name string
	art  Artifact
}

func (a *Archive) mirror(ctx context.Context, prefix string, files []namedArtifact) error {
	for _, f := range files {
		key := path.Join(prefix, f.name)
		ct := f.art.ContentType
		if ct == "" {
			ct = ContentTypeFor(f.art.Ext)
		}
		var reported bool
		err := a.objects.Put(ctx, key, bytes.NewReader(f.art.Data), int64(len(f.art.Data)),
			WithContentType(ct),
			WithMetadata(map[string]string{"tag": a.cfg.Tag}),
			WithCacheControl(immutableCacheControl),
			WithProgress(func(done, total int64) {
				if done == total && !reported {
					reported = true
					a.logger.Debug("Upload complete",
						recorderlog.String("key", key),
						recorderlog.Int64("bytes", total))
				}
			}))
		if err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
	}
	return nil
}
