/*
PURPOSE:
  Defines the 'devices' subcommand.
  Lists the devices a backend exposes, as a check before a full run.

REQUIREMENTS:
  User-specified:
  - List available devices.

ARCHITECTURE INTEGRATION:
  - Calls: internal/backend.List()

ERROR HANDLING:
  - Unknown backend is returned as an error.

USAGE:
  gpu-stress devices --backend cpu
*/

package cli

import (
	"fmt"
	"strings"

	"github.com/daryltucker/gpu-stress/internal/backend"
	"github.com/spf13/cobra"
)

func newDevicesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List devices available on the selected backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}

			devices, err := backend.List(cfg.Backend)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Backend %s:\n", cfg.Backend)
			for _, d := range devices {
				fmt.Fprintf(out, "- [%d] %s, %.2f GB, %d compute units, capabilities: %s\n",
					d.Index, d.Name, float64(d.TotalMemory)/1e9, d.ComputeUnits, strings.Join(d.Capabilities, ", "))
			}
			return nil
		},
	}
}
