/*
PURPOSE:
  High-level orchestrator for a stress run.
  Starts the monitor, runs each workload in order for a fixed budget, then
  stops the monitor and assembles the report.

REQUIREMENTS:
  User-specified:
  - Workloads run strictly one after another.
  - An interrupt still yields a report for whatever finished.
  - Unsupported workloads are skipped with a note.

  Implementation-discovered:
  - A panic inside one workload must not take the others down.
  - Context cancellation is bridged onto the stop signal, so runners see it
    at their next iteration boundary.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli
  - Uses: internal/workload (ErrUnsupported), internal/stopflag, Monitor

ERROR HANDLING:
  - Logs errors but continues (resilience). Every failure ends up in the
    matching WorkloadResult, never in a returned error.

IMPLEMENTATION RULES:
  - Idle -> Monitoring -> RunningWorkload -> Monitoring ... -> Stopping -> Reporting.
  - After an interrupt go straight to Stopping.
  - A workload stopped before its budget ran out is Absent; one that had
    already used the whole budget keeps its result.

USAGE:
  h := engine.NewHarness(dev.Info(), runners, monitor)
  report := h.RunFullTest(ctx, 30*time.Second)

RELATED FILES:
  - internal/engine/monitor.go
  - internal/workload/runner.go

MAINTENANCE:
  - Update the state list if parallel workloads are introduced.
*/

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/daryltucker/gpu-stress/internal/model"
	"github.com/daryltucker/gpu-stress/internal/output"
	"github.com/daryltucker/gpu-stress/internal/stopflag"
	"github.com/daryltucker/gpu-stress/internal/workload"
	"go.uber.org/zap"
)

// Runner executes one workload for up to budget, or until stop is set.
type Runner interface {
	Name() string
	Run(budget time.Duration, stop *stopflag.Signal) (model.WorkloadResult, error)
}

// Recorder receives each finished workload result.
type Recorder interface {
	RecordWorkload(res model.WorkloadResult)
}

// State is the orchestrator lifecycle position.
type State int

const (
	StateIdle State = iota
	StateMonitoring
	StateRunningWorkload
	StateStopping
	StateReporting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMonitoring:
		return "monitoring"
	case StateRunningWorkload:
		return "running_workload"
	case StateStopping:
		return "stopping"
	case StateReporting:
		return "reporting"
	default:
		return "unknown"
	}
}

// Harness runs the configured workloads against one device.
type Harness struct {
	Device   model.DeviceInfo
	Runners  []Runner
	Monitor  *Monitor // nil disables telemetry
	Recorder Recorder // optional

	mu    sync.Mutex
	state State
	now   func() time.Time
}

// NewHarness creates a Harness in the Idle state.
func NewHarness(dev model.DeviceInfo, runners []Runner, mon *Monitor) *Harness {
	return &Harness{Device: dev, Runners: runners, Monitor: mon, now: time.Now}
}

// State returns the current lifecycle state.
func (h *Harness) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Harness) setState(s State, fields ...zap.Field) {
	h.mu.Lock()
	prev := h.state
	h.state = s
	h.mu.Unlock()
	output.Logger.Debug("Harness state",
		append([]zap.Field{zap.Stringer("from", prev), zap.Stringer("to", s)}, fields...)...,
	)
}

// RunFullTest runs every workload for perWorkload each and returns the
// report. Cancelling ctx interrupts the run; the report is still returned.
func (h *Harness) RunFullTest(ctx context.Context, perWorkload time.Duration) model.HarnessReport {
	stop := stopflag.New()
	report := model.HarnessReport{
		Device:              h.Device,
		PerWorkloadDuration: perWorkload,
		Started:             h.now(),
	}

	go func() {
		select {
		case <-ctx.Done():
			output.Logger.Warn("Interrupted, stopping after current iteration")
			stop.Set()
		case <-stop.Done():
		}
	}()

	h.setState(StateMonitoring)
	summaryCh := make(chan model.MonitorSummary, 1)
	if h.Monitor != nil {
		go func() { summaryCh <- h.Monitor.Run(stop) }()
	} else {
		summaryCh <- model.MonitorSummary{}
	}

	output.Logger.Info("Starting stress run",
		zap.String("device", h.Device.Name),
		zap.Int("workloads", len(h.Runners)),
		zap.Duration("per_workload", perWorkload),
	)

	interrupted := false
	for i, r := range h.Runners {
		if interrupted || ctx.Err() != nil {
			interrupted = true
			report.Results = append(report.Results, absent(r.Name()))
			continue
		}

		h.setState(StateRunningWorkload, zap.Int("index", i), zap.String("workload", r.Name()))
		res := h.runIsolated(r, perWorkload, stop)
		if ctx.Err() != nil {
			interrupted = true
			if cutShort(res, perWorkload) {
				res = absent(r.Name())
			}
		}
		if res.Status != model.StatusAbsent && h.Recorder != nil {
			h.Recorder.RecordWorkload(res)
		}
		report.Results = append(report.Results, res)

		if !interrupted {
			h.setState(StateMonitoring)
		}
	}

	h.setState(StateStopping)
	stop.Set()
	report.Monitor = <-summaryCh
	if h.Monitor != nil {
		report.Telemetry = h.Monitor.Source
	}

	h.setState(StateReporting)
	report.Finished = h.now()
	report.Interrupted = interrupted
	return report
}

// runIsolated runs r and classifies the outcome. Panics become failures.
func (h *Harness) runIsolated(r Runner, budget time.Duration, stop *stopflag.Signal) (res model.WorkloadResult) {
	logger := output.Logger.With(zap.String("workload", r.Name()))

	defer func() {
		if p := recover(); p != nil {
			logger.Error("Workload panicked", zap.Any("panic", p))
			res = model.WorkloadResult{
				Name:   r.Name(),
				Status: model.StatusFailed,
				Error:  fmt.Sprintf("panic: %v", p),
			}
		}
	}()

	res, err := r.Run(budget, stop)
	if res.Name == "" {
		res.Name = r.Name()
	}

	switch {
	case err == nil:
		res.Status = model.StatusCompleted
	case errors.Is(err, workload.ErrUnsupported):
		logger.Warn("Workload not supported, skipping", zap.Error(err))
		res.Status = model.StatusUnsupported
		res.Note = err.Error()
	default:
		logger.Error("Workload failed", zap.Error(err))
		res.Status = model.StatusFailed
		res.Error = err.Error()
	}
	return res
}

func absent(name string) model.WorkloadResult {
	return model.WorkloadResult{
		Name:   name,
		Status: model.StatusAbsent,
		Note:   "not run (interrupted)",
	}
}

// cutShort reports whether a completed result ended before its budget.
// Failed and unsupported outcomes stand as they are.
func cutShort(res model.WorkloadResult, budget time.Duration) bool {
	return res.Status == model.StatusCompleted && res.Elapsed < budget
}
