package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func TestFileNameRoundTrip(t *testing.T) {
	loc := time.FixedZone("test", -5*3600)
	start := time.Date(2024, 3, 9, 17, 4, 5, 0, loc)

	name := FileName("110bpm", start, ".mkv")
	if name != "110bpm---2024-03-09---17-04-05.mkv" {
		t.Fatalf("FileName = %q", name)
	}

	tag, ts, err := ParseFileName("/videos/"+name, loc)
	if err != nil {
		t.Fatalf("ParseFileName: %v", err)
	}
	if tag != "110bpm" {
		t.Errorf("tag = %q, want 110bpm", tag)
	}
	if !ts.Equal(start) {
		t.Errorf("time = %v, want %v", ts, start)
	}
}

func TestParseFileNameRejects(t *testing.T) {
	for _, name := range []string{"clip.mkv", "tag---2024.mkv", "tag---2024-13-40---99-99-99.mkv"} {
		t.Run(name, func(t *testing.T) {
			if _, _, err := ParseFileName(name, time.UTC); err == nil {
				t.Fatalf("expected error for %q", name)
			}
		})
	}
}

func TestUniqueBaseSuffixes(t *testing.T) {
	fs := afero.NewMemMapFs()
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	dir := "/out"

	want := []string{
		"take---2024-01-02---03-04-05",
		"take---2024-01-02---03-04-05-1",
		"take---2024-01-02---03-04-05-2",
	}
	for i, w := range want {
		got, err := UniqueBase(fs, dir, "take", start, "mkv")
		if err != nil {
			t.Fatalf("UniqueBase #%d: %v", i, err)
		}
		if got != w {
			t.Fatalf("UniqueBase #%d = %q, want %q", i, got, w)
		}
		if err := afero.WriteFile(fs, filepath.Join(dir, got+".mkv"), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	// A different extension does not collide.
	got, err := UniqueBase(fs, dir, "take", start, "json")
	if err != nil {
		t.Fatal(err)
	}
	if got != want[0] {
		t.Errorf("json base = %q, want %q", got, want[0])
	}
}
