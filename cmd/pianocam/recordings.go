package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mikeyg42/pianocam/internal/recorder/storage"
)

var (
	recordingsTag   string
	recordingsSince time.Duration
	recordingsLimit int
)

var recordingsCmd = &cobra.Command{
	Use:   "recordings",
	Short: "List recordings indexed in Postgres",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.Storage.Postgres.Enabled {
			return errors.New("storage.postgres.enabled is false, nothing is indexed")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		store, err := storage.NewPostgresStore(ctx, cfg.PostgresStoreConfig(), logger)
		if err != nil {
			return err
		}
		defer store.Close()

		q := storage.RecordingQuery{Tag: recordingsTag, Limit: recordingsLimit}
		if recordingsSince > 0 {
			q.StartTime = time.Now().Add(-recordingsSince)
		}
		recs, err := store.QueryRecordings(ctx, q)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, "STARTED\tDURATION\tFRAMES\tSTATUS\tPATH")
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				r.GetDuration().Round(time.Second),
				r.FrameCount,
				r.Status,
				r.Path)
		}
		return nil
	},
}

func init() {
	recordingsCmd.Flags().StringVar(&recordingsTag, "tag", "", "only recordings with this tag")
	recordingsCmd.Flags().DurationVar(&recordingsSince, "since", 0, "only recordings started within this window, e.g. 72h")
	recordingsCmd.Flags().IntVarP(&recordingsLimit, "limit", "n", 20, "maximum rows")
	rootCmd.AddCommand(recordingsCmd)
}
