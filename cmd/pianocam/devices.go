package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/mikeyg42/pianocam/internal/camera"
	"github.com/mikeyg42/pianocam/internal/midi"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List MIDI inputs and cameras",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		defer w.Flush()

		drv, err := rtmididrv.New()
		if err != nil {
			return fmt.Errorf("failed to open MIDI driver: %w", err)
		}
		defer drv.Close()

		ports, err := midi.ListDevices(drv, cfg.Controller.Exclude)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "MIDI INPUT\tNAME\tNOTE")
		for _, p := range ports {
			note := ""
			if p.Excluded {
				note = "excluded"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\n", p.Index, p.Name, note)
		}

		fmt.Fprintln(w)
		fmt.Fprintln(w, "CAMERA\tID\tLABEL")
		for _, d := range camera.ListDevices(cfg.Camera.ProbeMax) {
			fmt.Fprintf(w, "%s\t%s\t%s\n", d.Backend, d.ID, d.Label)
		}
		return nil
	},
}
