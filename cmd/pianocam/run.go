package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/mikeyg42/pianocam/internal/camera"
	"github.com/mikeyg42/pianocam/internal/config"
	"github.com/mikeyg42/pianocam/internal/midi"
	"github.com/mikeyg42/pianocam/internal/orchestrator"
	"github.com/mikeyg42/pianocam/internal/recorder"
	"github.com/mikeyg42/pianocam/internal/recorder/encoder"
	"github.com/mikeyg42/pianocam/internal/recorder/recorderlog"
	"github.com/mikeyg42/pianocam/internal/recorder/storage"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Record whenever the MIDI controller is played",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app, err := NewApplication(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer app.Cleanup()

		return app.Run(ctx)
	},
}

// Application holds every long-lived component of a recording run.
type Application struct {
	config *config.Config
	logger recorderlog.Logger

	midiDriver   *rtmididrv.Driver
	controller   *midi.Source
	objects      *storage.MinIOStore
	metadata     storage.MetadataStore
	service      *recorder.Service
	orchestrator *orchestrator.Orchestrator
}

// NewApplication opens the devices and stores and wires the pipeline.
func NewApplication(ctx context.Context, cfg *config.Config, logger recorderlog.Logger) (*Application, error) {
	app := &Application{config: cfg, logger: logger}
	if err := app.initialize(ctx); err != nil {
		app.Cleanup()
		return nil, err
	}
	return app, nil
}

func (app *Application) initialize(ctx context.Context) error {
	cfg := app.config

	drv, err := rtmididrv.New()
	if err != nil {
		return fmt.Errorf("failed to open MIDI driver: %w", err)
	}
	app.midiDriver = drv

	app.controller = midi.NewSource(drv, midi.Config{
		Port:    cfg.Controller.Port,
		Exclude: cfg.Controller.Exclude,
	}, app.logger)
	if err := app.controller.Open(); err != nil {
		return fmt.Errorf("failed to open MIDI controller: %w", err)
	}

	archive, err := app.openArchive(ctx)
	if err != nil {
		return err
	}

	cam, err := camera.Open(camera.Config{
		Backend: cfg.Camera.Backend,
		Device:  cfg.Camera.Device,
		Width:   cfg.Video.Width,
		Height:  cfg.Video.Height,
		FPS:     cfg.Video.FPS,
	}, app.logger)
	if err != nil {
		return fmt.Errorf("failed to open camera: %w", err)
	}

	var (
		take        *midi.Take
		attachments recorder.AttachmentSource
	)
	if cfg.Take.Enabled {
		preroll := time.Duration(cfg.Recording.PrerollSeconds * float64(time.Second))
		take = midi.NewTake(preroll, app.logger)
		app.controller.SetTap(take.Record)
		attachments = take
	}

	app.service = recorder.NewService(recorder.Options{
		Params: encoder.Params{
			Width:   cfg.Video.Width,
			Height:  cfg.Video.Height,
			FPS:     cfg.Video.FPS,
			Quality: cfg.Video.Quality,
		},
		PrerollSeconds: cfg.Recording.PrerollSeconds,
		QueueWarnDepth: cfg.Recording.QueueWarnDepth,
		Capture: recorder.CaptureConfig{
			StallThreshold: cfg.Recording.StallThreshold,
			RaisePriority:  true,
		},
		Worker: recorder.WorkerConfig{
			Wait:         cfg.Recording.WorkerWait,
			DrainTimeout: cfg.Recording.DrainTimeout,
		},
		OutputDir:    cfg.OutputDir,
		MinFreeBytes: cfg.Recording.MinFreeMB * 1024 * 1024,
	}, cam, encoder.NewMKVOpener(camera.JPEGCodec{}, "pianocam"), archive, attachments, app.logger)
	if take != nil {
		app.service.Sessions().SetObserver(take)
	}

	app.orchestrator = orchestrator.New(orchestrator.Config{
		PollInterval:        cfg.Controller.PollInterval,
		DeviceCheckInterval: cfg.Controller.DeviceCheckInterval,
		Linger:              cfg.Recording.Linger,
		MinDuration:         cfg.Recording.MinDuration,
	}, app.controller, app.service.Sessions(), app.logger)

	return nil
}

// openArchive prepares the output directory and the optional MinIO and
// Postgres mirrors. A mirror that cannot be reached is logged and skipped.
func (app *Application) openArchive(ctx context.Context) (*storage.Archive, error) {
	cfg := app.config

	local := storage.NewLocalStore(afero.NewOsFs(), cfg.OutputDir)
	if err := local.EnsureDir(); err != nil {
		return nil, fmt.Errorf("failed to prepare output dir: %w", err)
	}

	var objects storage.ObjectStore
	if cfg.Storage.MinIO.Enabled {
		store, err := storage.NewMinIOStore(ctx, cfg.MinIOStoreConfig(), app.logger)
		if err != nil {
			app.logger.Warn("MinIO unavailable, recordings stay local", recorderlog.Error(err))
		} else {
			app.objects = store
			objects = store
		}
	}

	if cfg.Storage.Postgres.Enabled {
		store, err := storage.NewPostgresStore(ctx, cfg.PostgresStoreConfig(), app.logger)
		if err != nil {
			app.logger.Warn("Postgres unavailable, recordings are not indexed", recorderlog.Error(err))
		} else {
			app.metadata = store
		}
	}

	return storage.NewArchive(cfg.ArchiveConfig(), local, objects, app.metadata, app.logger), nil
}

// Run records until ctx is cancelled.
func (app *Application) Run(ctx context.Context) error {
	// The pipeline outlives ctx so the final session can be drained.
	if err := app.service.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to start recorder: %w", err)
	}

	app.logger.Info("pianocam ready",
		recorderlog.String("controller", app.controller.Name()),
		recorderlog.String("output_dir", app.config.OutputDir))

	err := app.orchestrator.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	if stopErr := app.service.Stop(); stopErr != nil {
		app.logger.Error("Recorder did not shut down cleanly", recorderlog.Error(stopErr))
		if err == nil {
			err = stopErr
		}
	}
	return err
}

// Cleanup releases what Run does not.
func (app *Application) Cleanup() {
	if app.controller != nil {
		if err := app.controller.Close(); err != nil {
			app.logger.Warn("Failed to close MIDI controller", recorderlog.Error(err))
		}
	}
	if app.midiDriver != nil {
		app.midiDriver.Close()
	}
	if app.objects != nil {
		app.logger.Info("Object store totals", recorderlog.Any("minio", app.objects.GetMetrics()))
	}
	if app.metadata != nil {
		if err := app.metadata.Close(); err != nil {
			app.logger.Warn("Failed to close metadata store", recorderlog.Error(err))
		}
	}
}
