package cli

import (
	"fmt"

	"github.com/daryltucker/gpu-stress/internal/workload"
	"github.com/spf13/cobra"
)

func newWorkloadsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "workloads",
		Short: "List configured workloads and whether the device can run them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}

			dev, err := openDevice(cfg.Backend, cfg.Device)
			if err != nil {
				return fmt.Errorf("cannot open %s device %d: %w", cfg.Backend, cfg.Device, err)
			}
			defer dev.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Device: %s\n", dev.Info().Name)
			for _, name := range cfg.Workloads {
				w, err := workload.New(name, cfg)
				if err != nil {
					fmt.Fprintf(out, "- %s: %v\n", name, err)
					continue
				}
				status := "supported"
				if err := workload.Supported(w, dev); err != nil {
					status = err.Error()
				}
				fmt.Fprintf(out, "- %s (%s, %s): %s\n", w.Name(), w.Unit().Name, w.Describe(), status)
			}
			return nil
		},
	}
}
