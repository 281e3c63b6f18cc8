// Package config loads pianocam settings from defaults, a YAML file and
// PIANOCAM_* environment variables.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds all application configuration
type Config struct {
	Tag       string `mapstructure:"tag" yaml:"tag"`
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`

	Video      VideoConfig      `mapstructure:"video" yaml:"video"`
	Recording  RecordingConfig  `mapstructure:"recording" yaml:"recording"`
	Controller ControllerConfig `mapstructure:"controller" yaml:"controller"`
	Camera     CameraConfig     `mapstructure:"camera" yaml:"camera"`
	Take       TakeConfig       `mapstructure:"take" yaml:"take"`
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

type VideoConfig struct {
	Width   int     `mapstructure:"width" yaml:"width"`
	Height  int     `mapstructure:"height" yaml:"height"`
	FPS     float64 `mapstructure:"fps" yaml:"fps"`
	Quality int     `mapstructure:"quality" yaml:"quality"` // JPEG 1..100
}

type RecordingConfig struct {
	PrerollSeconds float64       `mapstructure:"preroll_seconds" yaml:"preroll_seconds"`
	Linger         time.Duration `mapstructure:"linger" yaml:"linger"`
	MinDuration    time.Duration `mapstructure:"min_duration" yaml:"min_duration"`
	StallThreshold time.Duration `mapstructure:"stall_threshold" yaml:"stall_threshold"`
	QueueWarnDepth int           `mapstructure:"queue_warn_depth" yaml:"queue_warn_depth"`
	WorkerWait     time.Duration `mapstructure:"worker_wait" yaml:"worker_wait"`
	DrainTimeout   time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout"`
	MinFreeMB      uint64        `mapstructure:"min_free_mb" yaml:"min_free_mb"`
}

type ControllerConfig struct {
	Port                string        `mapstructure:"port" yaml:"port"`
	Exclude             []string      `mapstructure:"exclude" yaml:"exclude"`
	PollInterval        time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	DeviceCheckInterval time.Duration `mapstructure:"device_check_interval" yaml:"device_check_interval"`
}

type CameraConfig struct {
	Backend  string `mapstructure:"backend" yaml:"backend"` // opencv | mediadevices
	Device   string `mapstructure:"device" yaml:"device"`
	ProbeMax int    `mapstructure:"probe_max" yaml:"probe_max"`
}

type TakeConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

type StorageConfig struct {
	MinIO    MinIOConfig    `mapstructure:"minio" yaml:"minio"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

type MinIOConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
	Region    string `mapstructure:"region" yaml:"region"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
}

type PostgresConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Database string `mapstructure:"database" yaml:"database"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		Tag:       "110bpm",
		OutputDir: filepath.Join(os.Getenv("HOME"), "Videos", "pianocam"),
		Video: VideoConfig{
			Width:   1280,
			Height:  720,
			FPS:     30,
			Quality: 85,
		},
		Recording: RecordingConfig{
			PrerollSeconds: 3,
			Linger:         7 * time.Second,
			StallThreshold: 40 * time.Millisecond,
			QueueWarnDepth: 64,
			WorkerWait:     time.Second,
			DrainTimeout:   10 * time.Second,
			MinFreeMB:      1024,
		},
		Controller: ControllerConfig{
			Exclude:             []string{"Midi Through", "RtMidi"},
			PollInterval:        100 * time.Millisecond,
			DeviceCheckInterval: 2 * time.Second,
		},
		Camera: CameraConfig{
			Backend:  "opencv",
			ProbeMax: 4,
		},
		Take: TakeConfig{Enabled: true},
		Storage: StorageConfig{
			MinIO: MinIOConfig{
				Endpoint: "localhost:9000",
				Bucket:   "pianocam",
				Prefix:   "recordings",
			},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "pianocam",
				Username: "pianocam",
				SSLMode:  "disable",
			},
		},
		Log: LogConfig{Level: "info"},
	}
}
