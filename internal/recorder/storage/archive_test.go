package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
)

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	failPut error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeObjects) Put(ctx context.Context, key string, r io.Reader, size int64, opts ...PutOption) error {
	if f.failPut != nil {
		return f.failPut
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	o := resolvePutOptions(opts)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	f.types[key] = o.ContentType
	return nil
}

type fakeMeta struct {
	mu    sync.Mutex
	saved []*Recording
}

func (m *fakeMeta) SaveRecording(ctx context.Context, r *Recording) error {
	if err := r.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, r)
	return nil
}

func (m *fakeMeta) GetRecording(ctx context.Context, id string) (*Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.saved {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, &StorageError{Op: "get_recording", Key: id, Err: errors.New("missing"), StatusCode: 404}
}

func (m *fakeMeta) Close() error { return nil }

func sampleRecord() *SessionRecord {
	start := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	return &SessionRecord{
		SessionID:  3,
		StartedAt:  start,
		StoppedAt:  start.Add(4 * time.Second),
		FrameCount: 120,
		Width:      640,
		Height:     480,
		FPS:        30,
		Codec:      "V_MJPEG",
		Video:      Artifact{Ext: "mkv", Data: []byte("video-bytes")},
		Attachments: []Artifact{
			{Ext: "mid", Data: []byte("MThd")},
		},
	}
}

func TestArchiveLocalOnly(t *testing.T) {
	fs := afero.NewMemMapFs()
	a := NewArchive(ArchiveConfig{Tag: "110bpm", Location: time.UTC}, NewLocalStore(fs, "/out"), nil, nil, nil)

	rec, err := a.Archive(context.Background(), sampleRecord())
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if rec.Status != StatusCompleted {
		t.Errorf("status = %q", rec.Status)
	}
	if rec.Duration != 4 {
		t.Errorf("duration = %v, want 4", rec.Duration)
	}
	if rec.ObjectKey.Valid {
		t.Error("object key set without object store")
	}

	base := "/out/110bpm---2024-05-06---07-08-09"
	for _, ext := range []string{".mkv", ".mid", ".json"} {
		if ok, _ := afero.Exists(fs, base+ext); !ok {
			t.Errorf("missing %s", base+ext)
		}
	}
	if rec.Path != base+".mkv" {
		t.Errorf("path = %q", rec.Path)
	}

	sidecar, err := afero.ReadFile(fs, base+".json")
	if err != nil {
		t.Fatal(err)
	}
	var decoded Recording
	if err := json.Unmarshal(sidecar, &decoded); err != nil {
		t.Fatalf("sidecar json: %v", err)
	}
	if decoded.ID != rec.ID || decoded.FrameCount != 120 || decoded.Tag != "110bpm" {
		t.Errorf("sidecar = %+v", decoded)
	}
	if len(decoded.Files) != 2 {
		t.Errorf("files = %v", decoded.Files)
	}
}

func TestArchiveSameSecondGetsSuffix(t *testing.T) {
	fs := afero.NewMemMapFs()
	a := NewArchive(ArchiveConfig{Tag: "t", Location: time.UTC}, NewLocalStore(fs, "/out"), nil, nil, nil)

	first, err := a.Archive(context.Background(), sampleRecord())
	if err != nil {
		t.Fatal(err)
	}
	second, err := a.Archive(context.Background(), sampleRecord())
	if err != nil {
		t.Fatal(err)
	}
	if first.Path == second.Path {
		t.Fatalf("both sessions wrote %q", first.Path)
	}
	if !strings.HasSuffix(second.Path, "-1.mkv") {
		t.Errorf("second path = %q", second.Path)
	}
}

func TestArchiveMirrorsAndRecordsMetadata(t *testing.T) {
	fs := afero.NewMemMapFs()
	objects := newFakeObjects()
	meta := &fakeMeta{}
	a := NewArchive(ArchiveConfig{Tag: "t", ObjectPrefix: "recordings", Location: time.UTC},
		NewLocalStore(fs, "/out"), objects, meta, nil)

	rec, err := a.Archive(context.Background(), sampleRecord())
	if err != nil {
		t.Fatal(err)
	}
	if !rec.ObjectKey.Valid {
		t.Fatal("object key not set")
	}
	if !strings.HasPrefix(rec.ObjectKey.String, "recordings/2024-05-06/"+rec.ID+"/") {
		t.Errorf("object key = %q", rec.ObjectKey.String)
	}
	data, ok := objects.objects[rec.ObjectKey.String]
	if !ok || !bytes.Equal(data, []byte("video-bytes")) {
		t.Errorf("video object = %q, %v", data, ok)
	}
	if ct := objects.types[rec.ObjectKey.String]; ct != "video/x-matroska" {
		t.Errorf("content type = %q", ct)
	}
	midKey := strings.TrimSuffix(rec.ObjectKey.String, ".mkv") + ".mid"
	if _, ok := objects.objects[midKey]; !ok {
		t.Errorf("missing attachment object %s", midKey)
	}

	got, err := meta.GetRecording(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetRecording: %v", err)
	}
	if got.Path != filepath.Join("/out", filepath.Base(rec.Path)) {
		t.Errorf("metadata path = %q", got.Path)
	}
}

func TestArchiveMirrorFailureIsPartial(t *testing.T) {
	objects := newFakeObjects()
	objects.failPut = errors.New("bucket offline")
	a := NewArchive(ArchiveConfig{Tag: "t", Location: time.UTC},
		NewLocalStore(afero.NewMemMapFs(), "/out"), objects, nil, nil)

	rec, err := a.Archive(context.Background(), sampleRecord())
	if err != nil {
		t.Fatalf("mirror failure must not fail archive: %v", err)
	}
	if rec.Status != StatusPartial {
		t.Errorf("status = %q, want partial", rec.Status)
	}
	if rec.ObjectKey.Valid {
		t.Error("object key set after failed mirror")
	}
}

func TestArchiveRejectsEmptyVideo(t *testing.T) {
	a := NewArchive(ArchiveConfig{Tag: "t"}, NewLocalStore(afero.NewMemMapFs(), "/out"), nil, nil, nil)
	r := sampleRecord()
	r.Video.Data = nil
	if _, err := a.Archive(context.Background(), r); err == nil {
		t.Fatal("expected error for empty video")
	}
}

func TestRecordingJSONObjectKey(t *testing.T) {
	r := &Recording{ID: "x", Path: "/p", StartedAt: time.Unix(0, 0).UTC()}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "object_key") {
		t.Errorf("unset object key serialized: %s", b)
	}

	r.ObjectKey.String, r.ObjectKey.Valid = "k/v.mkv", true
	b, err = json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	var back Recording
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if !back.ObjectKey.Valid || back.ObjectKey.String != "k/v.mkv" {
		t.Errorf("object key = %+v", back.ObjectKey)
	}
}

func TestContentTypeFor(t *testing.T) {
	tests := map[string]string{
		"mkv":  "video/x-matroska",
		"mid":  "audio/midi",
		"json": "application/json",
		"bin":  "application/octet-stream",
	}
	for ext, want := range tests {
		if got := ContentTypeFor(ext); got != want {
			t.Errorf("ContentTypeFor(%q) = %q, want %q", ext, got, want)
		}
	}
}
