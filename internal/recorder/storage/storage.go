// Package storage persists finished recordings: local files first, then an
// optional object store mirror and metadata index.
package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
)

// ObjectStore receives copies of finished files.
type ObjectStore interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, opts ...PutOption) error
}

// MetadataStore indexes Recording rows.
type MetadataStore interface {
	SaveRecording(ctx context.Context, recording *Recording) error
	Close() error
}

// PutOption configures Put operations
type PutOption interface {
	applyPut(*putOptions)
}

type putOptions struct {
	ContentType  string
	Metadata     map[string]string
	CacheControl string
	ProgressFn   ProgressFunc
}

// ProgressFunc is called as an upload reads its body.
type ProgressFunc func(bytesTransferred int64, totalBytes int64)

type putOptionFunc func(*putOptions)

func (f putOptionFunc) applyPut(opts *putOptions) { f(opts) }

func WithContentType(contentType string) PutOption {
	return putOptionFunc(func(o *putOptions) { o.ContentType = contentType })
}

func WithMetadata(metadata map[string]string) PutOption {
	return putOptionFunc(func(o *putOptions) { o.Metadata = metadata })
}

func WithProgress(fn ProgressFunc) PutOption {
	return putOptionFunc(func(o *putOptions) { o.ProgressFn = fn })
}

func WithCacheControl(cacheControl string) PutOption {
	return putOptionFunc(func(o *putOptions) { o.CacheControl = cacheControl })
}

func resolvePutOptions(opts []PutOption) *putOptions {
	options := &putOptions{ContentType: "application/octet-stream"}
	for _, opt := range opts {
		opt.applyPut(options)
	}
	return options
}

// StorageError carries the failed operation and, for remote stores, the
// HTTP-style status.
type StorageError struct {
	Op         string
	Key        string
	Err        error
	StatusCode int
	Retryable  bool
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return e.Op + " " + e.Key + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func statusOf(err error) int {
	var serr *StorageError
	if errors.As(err, &serr) {
		return serr.StatusCode
	}
	return 0
}

// IsNotExist reports a missing file or object.
func IsNotExist(err error) bool { return statusOf(err) == http.StatusNotFound }

// IsAccessDenied reports rejected credentials or a forbidden bucket.
func IsAccessDenied(err error) bool { return statusOf(err) == http.StatusForbidden }

// ContentTypeFor maps a file extension to a MIME type.
func ContentTypeFor(ext string) string {
	switch ext {
	case "mkv":
		return "video/x-matroska"
	case "webm":
		return "video/webm"
	case "mp4":
		return "video/mp4"
	case "mid":
		return "audio/midi"
	case "json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
