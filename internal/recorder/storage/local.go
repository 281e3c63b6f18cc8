package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// LocalStore writes finished files under one directory.
type LocalStore struct {
	fs  afero.Fs
	dir string
}

// NewLocalStore returns a store rooted at dir on fs. Use afero.NewOsFs in
// production.
func NewLocalStore(fs afero.Fs, dir string) *LocalStore {
	return &LocalStore{fs: fs, dir: dir}
}

// Dir is the output directory.
func (l *LocalStore) Dir() string { return l.dir }

// Fs is the underlying filesystem.
func (l *LocalStore) Fs() afero.Fs { return l.fs }

// EnsureDir creates the output directory if it is missing.
func (l *LocalStore) EnsureDir() error {
	if err := l.fs.MkdirAll(l.dir, 0o755); err != nil {
		return &StorageError{Op: "mkdir", Key: l.dir, Err: err}
	}
	return nil
}

// WriteFile stores data as name inside the output directory. The file
// appears atomically: data goes to name.tmp first and is renamed on success.
func (l *LocalStore) WriteFile(name string, data []byte) (string, error) {
	if err := l.EnsureDir(); err != nil {
		return "", err
	}

	path := filepath.Join(l.dir, name)
	tmp := path + ".tmp"

	file, err := l.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", &StorageError{Op: "write_file", Key: name, Err: err}
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		_ = l.fs.Remove(tmp)
		return "", &StorageError{Op: "write_file", Key: name, Err: err}
	}
	if err := file.Sync(); err != nil {
		file.Close()
		_ = l.fs.Remove(tmp)
		return "", &StorageError{Op: "write_file", Key: name, Err: err}
	}
	if err := file.Close(); err != nil {
		_ = l.fs.Remove(tmp)
		return "", &StorageError{Op: "write_file", Key: name, Err: err}
	}

	if err := l.fs.Rename(tmp, path); err != nil {
		_ = l.fs.Remove(tmp)
		return "", &StorageError{Op: "write_file", Key: name, Err: fmt.Errorf("rename: %w", err)}
	}
	return path, nil
}

// ReadFile reads name from the output directory.
func (l *LocalStore) ReadFile(name string) ([]byte, error) {
	data, err := afero.ReadFile(l.fs, filepath.Join(l.dir, name))
	if err != nil {
		code := 0
		if os.IsNotExist(err) {
			code = 404
		}
		return nil, &StorageError{Op: "read_file", Key: name, Err: err, StatusCode: code}
	}
	return data, nil
}
