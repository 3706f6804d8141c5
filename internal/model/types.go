/*
PURPOSE:
  Defines the core data structures shared by the harness.
  These represent workload results, telemetry snapshots, and the final report.

REQUIREMENTS:
  User-specified:
  - Per-workload average and peak throughput.
  - Maximum temperature, power draw and utilization seen during the run.

  Implementation-discovered:
  - A workload with zero iterations must report "no data" instead of
    dividing by zero, so averages carry an explicit HasData flag.
  - Workloads that never ran (interrupt) must still appear in the report,
    marked absent rather than failed.

ARCHITECTURE INTEGRATION:
  - Used by: internal/engine, internal/workload, internal/telemetry,
    internal/output, internal/metrics
  - Shared across boundaries.

ERROR HANDLING:
  - None (pure data structs).

IMPLEMENTATION RULES:
  - WorkloadResult is built once through NewWorkloadResult and not mutated after.
  - Use time.Time and time.Duration for timing.

USAGE:
  res := model.NewWorkloadResult("matrix_multiply", "TFLOPS", samples, elapsed)

RELATED FILES:
  - internal/output/report.go
*/

package model

import (
	"time"
)

// WorkloadStatus is the outcome of one workload slot in a run.
type WorkloadStatus int

const (
	StatusCompleted WorkloadStatus = iota
	StatusFailed
	StatusUnsupported
	StatusAbsent
)

func (s WorkloadStatus) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusUnsupported:
		return "unsupported"
	case StatusAbsent:
		return "absent"
	default:
		return "unknown"
	}
}

// WorkloadResult is the outcome of a single workload run.
type WorkloadResult struct {
	Name       string
	Unit       string
	Status     WorkloadStatus
	Iterations int
	Samples    []float64
	Average    float64
	Peak       float64
	HasData    bool
	Elapsed    time.Duration
	Note       string // Unsupported / absent explanation
	Error      string // Set when Status is StatusFailed
}

// NewWorkloadResult derives average and peak from samples.
// The samples slice is copied.
func NewWorkloadResult(name, unit string, samples []float64, elapsed time.Duration) WorkloadResult {
	res := WorkloadResult{
		Name:       name,
		Unit:       unit,
		Status:     StatusCompleted,
		Iterations: len(samples),
		Samples:    append([]float64(nil), samples...),
		Elapsed:    elapsed,
	}
	if len(samples) == 0 {
		return res
	}

	sum, peak := 0.0, samples[0]
	for _, s := range samples {
		sum += s
		if s > peak {
			peak = s
		}
	}
	res.Average = sum / float64(len(samples))
	res.Peak = peak
	res.HasData = true
	return res
}

// IterationsPerSecond returns iterations over wall-clock elapsed time, or 0 if
// no time elapsed.
func (r WorkloadResult) IterationsPerSecond() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Iterations) / r.Elapsed.Seconds()
}

// DeviceSnapshot is one point-in-time telemetry read.
type DeviceSnapshot struct {
	Timestamp          time.Time
	Temperature        float64 // Celsius
	ComputeUtilization float64 // percent
	MemoryUtilization  float64 // percent
	MemoryUsed         float64 // MiB
	MemoryTotal        float64 // MiB
	PowerDraw          float64 // W
	PowerLimit         float64 // W
}

// MonitorSummary holds running maxima folded from snapshots.
type MonitorSummary struct {
	MaxTemperature float64
	MaxPowerDraw   float64
	MaxUtilization float64
	Samples        int // snapshots folded
	Skipped        int // ticks where the sampler was unavailable
}

// Fold merges a snapshot into the running maxima.
func (m *MonitorSummary) Fold(s DeviceSnapshot) {
	m.MaxTemperature = max(m.MaxTemperature, s.Temperature)
	m.MaxPowerDraw = max(m.MaxPowerDraw, s.PowerDraw)
	m.MaxUtilization = max(m.MaxUtilization, s.ComputeUtilization)
	m.Samples++
}

// HasData reports whether at least one snapshot was folded.
func (m MonitorSummary) HasData() bool {
	return m.Samples > 0
}

// DeviceInfo describes the compute device a run targeted.
type DeviceInfo struct {
	Backend      string
	Index        int
	Name         string
	TotalMemory  uint64 // bytes
	ComputeUnits int
	Capabilities []string
}

// HarnessReport aggregates a full run.
type HarnessReport struct {
	Device              DeviceInfo
	PerWorkloadDuration time.Duration
	Started             time.Time
	Finished            time.Time
	Interrupted         bool
	Results             []WorkloadResult // one per configured workload, declared order
	Monitor             MonitorSummary
	Telemetry           string // sampler that produced Monitor, empty when none
}

// Completed returns only the results of workloads that ran to completion.
func (r HarnessReport) Completed() []WorkloadResult {
	var out []WorkloadResult
	for _, res := range r.Results {
		if res.Status == StatusCompleted {
			out = append(out, res)
		}
	}
	return out
}

// Result looks up a workload slot by name.
func (r HarnessReport) Result(name string) (WorkloadResult, bool) {
	for _, res := range r.Results {
		if res.Name == name {
			return res, true
		}
	}
	return WorkloadResult{}, false
}
