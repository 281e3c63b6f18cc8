package storage

import (
	"bytes"
	"testing"

	"github.com/spf13/afero"
)

func TestLocalStoreWriteRead(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewLocalStore(fs, "/rec/out")

	path, err := store.WriteFile("a.mkv", []byte("video"))
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if path != "/rec/out/a.mkv" {
		t.Errorf("path = %q", path)
	}
	if exists, _ := afero.Exists(fs, "/rec/out/a.mkv.tmp"); exists {
		t.Error("temporary file left behind")
	}

	data, err := store.ReadFile("a.mkv")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(data, []byte("video")) {
		t.Errorf("data = %q", data)
	}
}

func TestLocalStoreMissingFile(t *testing.T) {
	store := NewLocalStore(afero.NewMemMapFs(), "/rec")
	_, err := store.ReadFile("nope.mkv")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsNotExist(err) {
		t.Errorf("IsNotExist(%v) = false", err)
	}
}

func TestLocalStoreReadOnly(t *testing.T) {
	store := NewLocalStore(afero.NewReadOnlyFs(afero.NewMemMapFs()), "/rec")
	if _, err := store.WriteFile("a.mkv", []byte("x")); err == nil {
		t.Fatal("expected write to read-only fs to fail")
	}
}
