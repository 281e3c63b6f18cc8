package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mikeyg42/pianocam/internal/config"
	"github.com/mikeyg42/pianocam/internal/recorder/recorderlog"
)

var (
	cfg     *config.Config
	cfgFile string
	logger  recorderlog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pianocam",
	Short: "MIDI-triggered video recorder with pre-roll",
	Long: `pianocam watches a MIDI controller and records the camera whenever
you play. The last few seconds before the first note are kept, and the
recording ends after the keyboard has been quiet for a while with the
sustain pedal up.

Running pianocam without a subcommand is the same as 'pianocam run'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// config init must work without a readable config
		if cmd.Name() == "init" {
			return nil
		}

		v := viper.New()
		if err := v.BindPFlag("output_dir", cmd.Flags().Lookup("output-dir")); err != nil {
			return err
		}
		if err := v.BindPFlag("log.level", cmd.Flags().Lookup("log-level")); err != nil {
			return err
		}

		var err error
		cfg, err = config.Load(v, cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger, err = recorderlog.NewZap(cfg.Log.Level, cfg.Log.Development)
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			recorderlog.Sync(logger)
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCmd.RunE(cmd, args)
	},
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.config/pianocam/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringP("output-dir", "o", "", "directory for finished recordings")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(configCmd)
}
