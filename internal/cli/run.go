/*
PURPOSE:
  Executes the full stress run for the root command.

REQUIREMENTS:
  User-specified:
  - Optional positional duration in whole seconds.
  - A non-integer duration prints usage and runs nothing.
  - Ctrl+C stops early and still prints the report.

  Implementation-discovered:
  - Need to load config first, then flags, then the positional argument.
  - Metrics are served only when an address is configured.
  - Telemetry must come from the device under test: nvidia-smi for cuda,
    /proc and /sys for cpu.

ARCHITECTURE INTEGRATION:
  - Calls: internal/engine (Harness, Monitor), internal/output.RenderReport
  - Uses: internal/config, internal/backend, internal/workload,
    internal/telemetry, internal/metrics

ERROR HANDLING:
  - Device open failure is fatal (wraps backend.ErrDeviceUnavailable).
  - Workload failures are reported, never returned.
  - An interrupted run returns nil.

IMPLEMENTATION RULES:
  - Logic: Parse args -> Load Config -> Override -> Validate -> Open Device -> Harness.

USAGE:
  gpu-stress 60

RELATED FILES:
  - internal/cli/root.go

MAINTENANCE:
  - Update when adding new CLI overrides.
*/

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/daryltucker/gpu-stress/internal/config"
	"github.com/daryltucker/gpu-stress/internal/engine"
	"github.com/daryltucker/gpu-stress/internal/metrics"
	"github.com/daryltucker/gpu-stress/internal/output"
	"github.com/daryltucker/gpu-stress/internal/telemetry"
	"github.com/daryltucker/gpu-stress/internal/workload"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const usageText = `Usage: gpu-stress [duration_per_test_in_seconds]
Default: 30 seconds per test`

func runStress(cmd *cobra.Command, opts *options, args []string) error {
	// 1. Positional duration, checked before anything touches the device
	var duration time.Duration
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), usageText)
			return fmt.Errorf("invalid duration %q: expected a positive whole number of seconds", args[0])
		}
		duration = time.Duration(n) * time.Second
	}

	// 2. Config + overrides
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	if duration > 0 {
		cfg.DurationPerTest = duration
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := output.NewLogger(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		return err
	}
	prevLogger := output.Logger
	output.SetLogger(logger)
	defer func() {
		_ = logger.Sync()
		output.SetLogger(prevLogger)
	}()

	// 3. Device and workloads
	dev, err := openDevice(cfg.Backend, cfg.Device)
	if err != nil {
		return fmt.Errorf("cannot open %s device %d: %w", cfg.Backend, cfg.Device, err)
	}
	defer dev.Close()

	runners := make([]engine.Runner, 0, len(cfg.Workloads))
	for _, name := range cfg.Workloads {
		w, err := workload.New(name, cfg)
		if err != nil {
			return err
		}
		runners = append(runners, workload.NewRunner(w, dev))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Telemetry and metrics
	var monitor *engine.Monitor
	if sampler, source := samplerFor(cfg); sampler != nil {
		monitor = &engine.Monitor{
			Sampler:  sampler,
			Source:   source,
			Interval: cfg.MonitorInterval,
			Timeout:  cfg.SamplerTimeout,
		}
	} else {
		output.Logger.Warn("No telemetry source for backend", zap.String("backend", cfg.Backend))
	}
	harness := engine.NewHarness(dev.Info(), runners, monitor)

	if cfg.MetricsAddr != "" {
		rec := metrics.NewRecorder()
		if monitor != nil {
			monitor.OnSample = rec.ObserveSnapshot
			monitor.OnSkip = rec.ObserveSkip
		}
		harness.Recorder = rec

		srvCtx, cancelSrv := context.WithCancel(context.Background())
		defer cancelSrv()
		go func() {
			if err := rec.Serve(srvCtx, cfg.MetricsAddr); err != nil {
				output.Logger.Error("Metrics server failed", zap.String("addr", cfg.MetricsAddr), zap.Error(err))
			}
		}()
	}

	// 5. Execution
	report := harness.RunFullTest(ctx, cfg.DurationPerTest)

	colored := !cfg.NoColor && !color.NoColor
	return output.RenderReport(cmd.OutOrStdout(), report, colored)
}

// samplerFor returns the telemetry source that observes the same hardware
// the backend runs on, and its report label.
func samplerFor(cfg *config.Config) (telemetry.Sampler, string) {
	switch cfg.Backend {
	case "cuda":
		return telemetry.NewSMISampler(cfg.SMIPath, cfg.Device, cfg.SamplerTimeout), "nvidia-smi"
	case "cpu":
		return telemetry.NewHostSampler("", ""), "host"
	default:
		return nil, ""
	}
}
