package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces environment overrides: PIANOCAM_VIDEO_FPS=25.
const EnvPrefix = "PIANOCAM"

// SearchPaths are tried in order when no config file is given.
func SearchPaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "pianocam", "config.yaml"))
	}
	return append(paths, "pianocam.yaml")
}

// Load resolves configuration into v. An explicit file must exist; without
// one the first existing search path is used, and none at all is fine.
// The returned Config is validated.
func Load(v *viper.Viper, file string) (*Config, error) {
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file == "" {
		for _, p := range SearchPaths() {
			if _, err := os.Stat(p); err == nil {
				file = p
				break
			}
		}
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so env overrides apply even without a
// config file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("tag", d.Tag)
	v.SetDefault("output_dir", d.OutputDir)

	v.SetDefault("video.width", d.Video.Width)
	v.SetDefault("video.height", d.Video.Height)
	v.SetDefault("video.fps", d.Video.FPS)
	v.SetDefault("video.quality", d.Video.Quality)

	v.SetDefault("recording.preroll_seconds", d.Recording.PrerollSeconds)
	v.SetDefault("recording.linger", d.Recording.Linger)
	v.SetDefault("recording.min_duration", d.Recording.MinDuration)
	v.SetDefault("recording.stall_threshold", d.Recording.StallThreshold)
	v.SetDefault("recording.queue_warn_depth", d.Recording.QueueWarnDepth)
	v.SetDefault("recording.worker_wait", d.Recording.WorkerWait)
	v.SetDefault("recording.drain_timeout", d.Recording.DrainTimeout)
	v.SetDefault("recording.min_free_mb", d.Recording.MinFreeMB)

	v.SetDefault("controller.port", d.Controller.Port)
	v.SetDefault("controller.exclude", d.Controller.Exclude)
	v.SetDefault("controller.poll_interval", d.Controller.PollInterval)
	v.SetDefault("controller.device_check_interval", d.Controller.DeviceCheckInterval)

	v.SetDefault("camera.backend", d.Camera.Backend)
	v.SetDefault("camera.device", d.Camera.Device)
	v.SetDefault("camera.probe_max", d.Camera.ProbeMax)

	v.SetDefault("take.enabled", d.Take.Enabled)

	v.SetDefault("storage.minio.enabled", d.Storage.MinIO.Enabled)
	v.SetDefault("storage.minio.endpoint", d.Storage.MinIO.Endpoint)
	v.SetDefault("storage.minio.access_key", d.Storage.MinIO.AccessKey)
	v.SetDefault("storage.minio.secret_key", d.Storage.MinIO.SecretKey)
	v.SetDefault("storage.minio.bucket", d.Storage.MinIO.Bucket)
	v.SetDefault("storage.minio.use_ssl", d.Storage.MinIO.UseSSL)
	v.SetDefault("storage.minio.region", d.Storage.MinIO.Region)
	v.SetDefault("storage.minio.prefix", d.Storage.MinIO.Prefix)

	v.SetDefault("storage.postgres.enabled", d.Storage.Postgres.Enabled)
	v.SetDefault("storage.postgres.host", d.Storage.Postgres.Host)
	v.SetDefault("storage.postgres.port", d.Storage.Postgres.Port)
	v.SetDefault("storage.postgres.database", d.Storage.Postgres.Database)
	v.SetDefault("storage.postgres.username", d.Storage.Postgres.Username)
	v.SetDefault("storage.postgres.password", d.Storage.Postgres.Password)
	v.SetDefault("storage.postgres.sslmode", d.Storage.Postgres.SSLMode)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
}

// Marshal renders cfg as YAML. Durations are written as strings like "7s".
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// WriteDefault writes the default configuration to path on fs. It refuses
// to overwrite an existing file unless force is set.
func WriteDefault(fs afero.Fs, path string, force bool) error {
	if !force {
		exists, err := afero.Exists(fs, path)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%s already exists", path)
		}
	}
	out, err := Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(fs, path, out, 0o644)
}
