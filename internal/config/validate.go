package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mikeyg42/pianocam/internal/recorder/storage"
)

// Validate checks ranges and cross-field requirements.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Tag) == "" {
		errs = append(errs, errors.New("tag is required"))
	}
	if strings.ContainsAny(c.Tag, `/\`) {
		errs = append(errs, fmt.Errorf("tag %q must not contain path separators", c.Tag))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output_dir is required"))
	}

	if c.Video.Width <= 0 || c.Video.Height <= 0 {
		errs = append(errs, fmt.Errorf("video size %dx%d must be positive", c.Video.Width, c.Video.Height))
	}
	if c.Video.FPS <= 0 || c.Video.FPS > 240 {
		errs = append(errs, fmt.Errorf("video.fps %v out of range (0, 240]", c.Video.FPS))
	}
	if c.Video.Quality < 1 || c.Video.Quality > 100 {
		errs = append(errs, fmt.Errorf("video.quality %d out of range 1..100", c.Video.Quality))
	}

	if c.Recording.PrerollSeconds < 0 {
		errs = append(errs, errors.New("recording.preroll_seconds must not be negative"))
	}
	if c.Recording.Linger <= 0 {
		errs = append(errs, errors.New("recording.linger must be positive"))
	}
	if c.Recording.MinDuration < 0 {
		errs = append(errs, errors.New("recording.min_duration must not be negative"))
	}
	for name, d := range map[string]time.Duration{
		"recording.stall_threshold":        c.Recording.StallThreshold,
		"recording.worker_wait":            c.Recording.WorkerWait,
		"recording.drain_timeout":          c.Recording.DrainTimeout,
		"controller.poll_interval":         c.Controller.PollInterval,
		"controller.device_check_interval": c.Controller.DeviceCheckInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	switch c.Camera.Backend {
	case "opencv", "mediadevices":
	default:
		errs = append(errs, fmt.Errorf("camera.backend %q must be opencv or mediadevices", c.Camera.Backend))
	}

	if c.Storage.MinIO.Enabled {
		if c.Storage.MinIO.Endpoint == "" || c.Storage.MinIO.Bucket == "" {
			errs = append(errs, errors.New("storage.minio.endpoint and bucket are required when enabled"))
		}
	}
	if c.Storage.Postgres.Enabled {
		if c.Storage.Postgres.Host == "" || c.Storage.Postgres.Database == "" {
			errs = append(errs, errors.New("storage.postgres.host and database are required when enabled"))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// MinIOStoreConfig maps the minio section to storage types.
func (c *Config) MinIOStoreConfig() storage.MinIOConfig {
	return storage.MinIOConfig{
		Endpoint:        c.Storage.MinIO.Endpoint,
		AccessKeyID:     c.Storage.MinIO.AccessKey,
		SecretAccessKey: c.Storage.MinIO.SecretKey,
		UseSSL:          c.Storage.MinIO.UseSSL,
		Bucket:          c.Storage.MinIO.Bucket,
		Region:          c.Storage.MinIO.Region,
		MaxUploads:      2,
		MaxRetries:      3,
		RetryBackoff:    time.Second,
	}
}

// PostgresStoreConfig maps the postgres section to storage types.
func (c *Config) PostgresStoreConfig() storage.PostgresConfig {
	return storage.PostgresConfig{
		Host:     c.Storage.Postgres.Host,
		Port:     c.Storage.Postgres.Port,
		Database: c.Storage.Postgres.Database,
		Username: c.Storage.Postgres.Username,
		Password: c.Storage.Postgres.Password,
		SSLMode:  c.Storage.Postgres.SSLMode,
	}
}

// ArchiveConfig maps naming settings to storage types.
func (c *Config) ArchiveConfig() storage.ArchiveConfig {
	return storage.ArchiveConfig{
		Tag:          c.Tag,
		ObjectPrefix: c.Storage.MinIO.Prefix,
	}
}
