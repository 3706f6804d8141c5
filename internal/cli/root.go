/*
PURPOSE:
  Defines the root Cobra command for the gpu-stress CLI.
  The root command itself runs the stress test; subcommands inspect devices
  and workloads.

REQUIREMENTS:
  User-specified:
  - gpu-stress [duration_per_test] with a 30 second default.
  - Support global flags like --config.

  Implementation-discovered:
  - Needs to expose an Execute() function for main.go.
  - The command tree is built fresh per call so tests never share flag state.

ARCHITECTURE INTEGRATION:
  - Called by: cmd/gpu-stress/main.go
  - Calls: Child commands (devices, workloads), runStress

ERROR HANDLING:
  - Returns error to main.go for exit code handling.
  - Usage output is silenced; errors are printed once by main.

IMPLEMENTATION RULES:
  - Use `PersistentFlags()` for flags available to all subcommands.
  - Flags override config only when explicitly set.

USAGE:
  Called by main.go.

SELF-HEALING INSTRUCTIONS:
  - If adding new global flags, add them to newRootCmd() and applyFlags().

RELATED FILES:
  - cmd/gpu-stress/main.go
  - internal/cli/run.go

MAINTENANCE:
  - Update when adding global configuration options.
*/

package cli

import (
	"strings"
	"time"

	"github.com/daryltucker/gpu-stress/internal/backend"
	"github.com/daryltucker/gpu-stress/internal/config"
	"github.com/spf13/cobra"
)

// openDevice is swapped out in tests.
var openDevice = backend.Open

// options holds raw flag values until they are folded into a Config.
type options struct {
	cfgFile         string
	logLevel        string
	backend         string
	device          int
	workloads       []string
	monitorInterval time.Duration
	smiPath         string
	metricsAddr     string
	noColor         bool
}

// Execute executes the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "gpu-stress [duration_per_test]",
		Short: "Stress test a compute device and report sustained throughput",
		Long: `Runs a fixed sequence of compute workloads (matrix multiply, memory bandwidth,
mixed-precision training, tensor-core matmul) for duration_per_test seconds each
while sampling device temperature, power and utilization in the background.

Press Ctrl+C to stop early; a partial report is still printed.`,
		Example: `  # 30 seconds per workload
  gpu-stress

  # 10 seconds per workload, only the matmuls
  gpu-stress 10 --workloads matrix_multiply,tensor_cores

  # Expose live metrics while running
  gpu-stress 60 --metrics-addr :9400`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress(cmd, opts, args)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.cfgFile, "config", "", "config file (default is ./gpu_stress.yaml)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&opts.backend, "backend", "", "compute backend ("+strings.Join(backend.Backends(), ", ")+")")
	pf.IntVar(&opts.device, "device", 0, "device index")
	pf.StringSliceVar(&opts.workloads, "workloads", nil, "comma-separated workloads to run, in order")
	pf.BoolVar(&opts.noColor, "no-color", false, "disable colored report output")

	f := cmd.Flags()
	f.DurationVar(&opts.monitorInterval, "monitor-interval", 0, "telemetry sampling interval (e.g. 500ms)")
	f.StringVar(&opts.smiPath, "smi-path", "", "path to nvidia-smi")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")

	cmd.AddCommand(newDevicesCmd(opts), newWorkloadsCmd(opts))
	return cmd
}

// loadConfig loads the config file and applies explicitly set flags.
func (o *options) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return nil, err
	}
	o.applyFlags(cmd, cfg)
	return cfg, nil
}

func (o *options) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if flags.Changed("backend") {
		cfg.Backend = o.backend
	}
	if flags.Changed("device") {
		cfg.Device = o.device
	}
	if flags.Changed("workloads") {
		cfg.Workloads = o.workloads
	}
	if flags.Changed("no-color") {
		cfg.NoColor = o.noColor
	}
	if flags.Changed("monitor-interval") {
		cfg.MonitorInterval = o.monitorInterval
		// keep the sampler inside the shorter cadence
		cfg.SamplerTimeout = min(cfg.SamplerTimeout, o.monitorInterval*4/5)
	}
	if flags.Changed("smi-path") {
		cfg.SMIPath = o.smiPath
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = o.metricsAddr
	}
}
