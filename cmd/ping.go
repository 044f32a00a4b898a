package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"matrixout/internal/config"
	"matrixout/internal/panel"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "handshake with every serial-family device",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}

		failed := 0
		for _, c := range cfg.Devices {
			if c.Kind == config.KindArtNet {
				continue
			}
			d, err := openDevice(log, c, nil)
			if err != nil {
				return fmt.Errorf("device %q: %w", c.Name, err)
			}
			pd, isPanel := d.(*panel.Device)
			ok := isPanel && pd.Initialized()
			if !ok {
				failed++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-16s %-6s %s\n", c.Name, c.Kind, status(ok))
			_ = d.Close()
		}
		if failed > 0 {
			return fmt.Errorf("%d device(s) did not answer", failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}

func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "no answer"
}
