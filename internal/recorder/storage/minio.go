package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mikeyg42/pianocam/internal/recorder/recorderlog"
)

// MinIOConfig locates the bucket and bounds uploads.
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	Region          string

	// MaxUploads caps concurrent PutObject calls.
	MaxUploads     int
	ConnectTimeout time.Duration

	// MaxRetries of 0 retries until ctx is done.
	MaxRetries   int
	RetryBackoff time.Duration
}

// MinIOStore mirrors finished recordings to an S3-compatible bucket.
type MinIOStore struct {
	client *minio.Client
	cfg    MinIOConfig
	logger recorderlog.Logger
	slots  chan struct{}

	uploads      atomic.Uint64
	uploadBytes  atomic.Uint64
	uploadErrors atomic.Uint64
	inFlight     atomic.Int32
}

// NewMinIOStore connects and creates the bucket when it is missing.
func NewMinIOStore(ctx context.Context, cfg MinIOConfig, logger recorderlog.Logger) (*MinIOStore, error) {
	if cfg.MaxUploads <= 0 {
		cfg.MaxUploads = 2
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = recorderlog.Nop()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	s := &MinIOStore{
		client: client,
		cfg:    cfg,
		logger: logger.Named("minio-store").With(recorderlog.String("bucket", cfg.Bucket)),
		slots:  make(chan struct{}, cfg.MaxUploads),
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	err = s.HealthCheck(ctx)
	switch {
	case err == nil:
		return s, nil
	case statusOf(err) != http.StatusNotFound:
		return nil, err
	}
	if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	s.logger.Info("Created MinIO bucket")
	return s, nil
}

// Put uploads one object. Seekable readers are retried with exponential
// backoff; others get a single attempt.
func (s *MinIOStore) Put(ctx context.Context, key string, reader io.Reader, size int64, opts ...PutOption) error {
	o := resolvePutOptions(opts)

	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		return ctx.Err()
	}
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	putOpts := minio.PutObjectOptions{
		ContentType:  o.ContentType,
		UserMetadata: o.Metadata,
		CacheControl: o.CacheControl,
	}

	seeker, seekable := reader.(io.ReadSeeker)
	attempt := 0
	upload := func() error {
		attempt++
		if attempt > 1 {
			if !seekable {
				return backoff.Permanent(fmt.Errorf("reader is not seekable"))
			}
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return backoff.Permanent(fmt.Errorf("rewind: %w", err))
			}
		}

		body := reader
		if o.ProgressFn != nil {
			body = &progressReader{r: reader, total: size, fn: o.ProgressFn}
		}

		info, err := s.client.PutObject(ctx, s.cfg.Bucket, key, body, size, putOpts)
		if err != nil {
			s.uploadErrors.Add(1)
			if code := minioStatus(err); code == http.StatusForbidden || code == http.StatusBadRequest {
				return backoff.Permanent(err)
			}
			s.logger.Warn("Upload attempt failed",
				recorderlog.String("key", key),
				recorderlog.Int("attempt", attempt),
				recorderlog.Error(err))
			return err
		}

		s.uploads.Add(1)
		s.uploadBytes.Add(uint64(info.Size))
		s.logger.Debug("Object uploaded",
			recorderlog.String("key", key),
			recorderlog.Int64("size", info.Size),
			recorderlog.String("etag", info.ETag))
		return nil
	}

	if err := backoff.Retry(upload, backoff.WithContext(s.retryPolicy(), ctx)); err != nil {
		code := minioStatus(err)
		return &StorageError{
			Op:         "put",
			Key:        key,
			Err:        err,
			StatusCode: code,
			Retryable:  code != http.StatusForbidden && code != http.StatusBadRequest,
		}
	}
	return nil
}

func (s *MinIOStore) retryPolicy() backoff.BackOff {
	ebo := backoff.NewExponentialBackOff()
	if s.cfg.RetryBackoff > 0 {
		ebo.InitialInterval = s.cfg.RetryBackoff
	}
	ebo.Reset()
	if s.cfg.MaxRetries > 0 {
		return backoff.WithMaxRetries(ebo, uint64(s.cfg.MaxRetries))
	}
	return ebo
}

// HealthCheck confirms the bucket is reachable. A missing bucket is
// reported as a 404 StorageError.
func (s *MinIOStore) HealthCheck(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return &StorageError{Op: "health_check", Key: s.cfg.Bucket, Err: err, StatusCode: minioStatus(err)}
	}
	if !exists {
		return &StorageError{Op: "health_check", Key: s.cfg.Bucket, Err: fmt.Errorf("bucket does not exist"), StatusCode: http.StatusNotFound}
	}
	return nil
}

// GetMetrics returns upload totals.
func (s *MinIOStore) GetMetrics() map[string]interface{} {
	return map[string]interface{}{
		"uploads":        s.uploads.Load(),
		"upload_bytes":   s.uploadBytes.Load(),
		"upload_errors":  s.uploadErrors.Load(),
		"active_uploads": s.inFlight.Load(),
	}
}

type progressReader struct {
	r     io.Reader
	total int64
	read  int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	p.fn(p.read, p.total)
	return n, err
}

func minioStatus(err error) int {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode != 0 {
		return resp.StatusCode
	}
	switch resp.Code {
	case "":
		return 0
	case "NoSuchKey", "NoSuchBucket":
		return http.StatusNotFound
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return http.StatusForbidden
	case "InvalidArgument":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
