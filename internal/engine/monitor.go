/*
PURPOSE:
  Background monitor that polls device telemetry at a fixed cadence for the
  whole run and folds every good sample into running maxima.

REQUIREMENTS:
  User-specified:
  - Track maximum temperature, power draw and utilization across the run.
  - A failed telemetry read never stops the run.

  Implementation-discovered:
  - The first sample is taken immediately, so very short runs still see one
    snapshot.
  - Shutdown latency is one tick plus the sampler timeout at most.

ARCHITECTURE INTEGRATION:
  - Started by: Harness.RunFullTest
  - Uses: internal/telemetry (Sampler), internal/stopflag
  - Feeds: internal/metrics through the OnSample / OnSkip hooks

ERROR HANDLING:
  - Sampler errors are logged at debug level and counted as skipped.

USAGE:
  m := &engine.Monitor{Sampler: s, Interval: time.Second}
  go func() { summary <- m.Run(stop) }()
*/

package engine

import (
	"context"
	"time"

	"github.com/daryltucker/gpu-stress/internal/model"
	"github.com/daryltucker/gpu-stress/internal/output"
	"github.com/daryltucker/gpu-stress/internal/stopflag"
	"github.com/daryltucker/gpu-stress/internal/telemetry"
	"go.uber.org/zap"
)

// Monitor samples device telemetry until the stop signal is set.
type Monitor struct {
	Sampler  telemetry.Sampler
	Interval time.Duration
	// Timeout bounds a single Sample call. Zero leaves it to the sampler.
	Timeout time.Duration
	// Source names the sampler in the report, e.g. "nvidia-smi".
	Source string

	// OnSample receives each good snapshot with the maxima folded so far,
	// that snapshot included.
	OnSample func(snap model.DeviceSnapshot, running model.MonitorSummary)
	OnSkip   func(error)
}

// Run blocks until stop is set and returns the folded maxima.
func (m *Monitor) Run(stop *stopflag.Signal) model.MonitorSummary {
	var summary model.MonitorSummary

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	interval := m.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.sample(ctx, &summary)
	for {
		select {
		case <-stop.Done():
			output.Logger.Debug("Monitor stopped",
				zap.Int("samples", summary.Samples),
				zap.Int("skipped", summary.Skipped),
			)
			return summary
		case <-ticker.C:
			m.sample(ctx, &summary)
		}
	}
}

func (m *Monitor) sample(ctx context.Context, summary *model.MonitorSummary) {
	if m.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.Timeout)
		defer cancel()
	}

	snap, err := m.Sampler.Sample(ctx)
	if err != nil {
		summary.Skipped++
		output.Logger.Debug("Telemetry sample skipped", zap.Error(err))
		if m.OnSkip != nil {
			m.OnSkip(err)
		}
		return
	}

	summary.Fold(snap)
	if m.OnSample != nil {
		m.OnSample(snap, *summary)
	}
}
