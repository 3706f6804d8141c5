package output

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/daryltucker/gpu-stress/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() model.HarnessReport {
	return model.HarnessReport{
		Device:              model.DeviceInfo{Backend: "cpu", Name: "Linux x86_64 CPU", TotalMemory: 16e9},
		PerWorkloadDuration: 30 * time.Second,
		Results: []model.WorkloadResult{
			model.NewWorkloadResult("matrix_multiply", "TFLOPS", []float64{10, 20, 30}, 3*time.Second),
			{Name: "memory_bandwidth", Unit: "GB/s", Status: model.StatusCompleted},
			{Name: "mixed_precision", Status: model.StatusFailed, Error: "out of memory"},
			{Name: "tensor_cores", Status: model.StatusUnsupported, Note: "tensor_cores requires tensor-cores"},
		},
		Monitor: model.MonitorSummary{MaxTemperature: 50, MaxPowerDraw: 210.5, MaxUtilization: 99, Samples: 4, Skipped: 1},
	}
}

func TestRenderReportPlain(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderReport(&buf, sampleReport(), false))
	out := buf.String()

	assert.Contains(t, out, "Device: Linux x86_64 CPU (cpu #0)")
	assert.Contains(t, out, "Total Duration: ~120 seconds (4 workloads x 30s)")
	assert.Contains(t, out, "Average: 20.00 TFLOPS")
	assert.Contains(t, out, "Peak:    30.00 TFLOPS")
	assert.Contains(t, out, "Iterations: 3 (1.00 it/s)")
	assert.Contains(t, out, "memory_bandwidth\n    no data")
	assert.Contains(t, out, "FAILED: out of memory")
	assert.Contains(t, out, "skipped (not supported: tensor_cores requires tensor-cores)")
	assert.Contains(t, out, "Max Temperature: 50 C")
	assert.Contains(t, out, "Max Power Draw:  210.5 W")
	assert.Contains(t, out, "1 of 5 samples unavailable")
	assert.Contains(t, out, "Stress test complete.")
	assert.NotContains(t, out, "\x1b[")
}

func TestRenderReportInterruptedWithoutTelemetry(t *testing.T) {
	r := sampleReport()
	r.Interrupted = true
	r.Results[3] = model.WorkloadResult{Name: "tensor_cores", Status: model.StatusAbsent}
	r.Monitor = model.MonitorSummary{Skipped: 3}

	var buf bytes.Buffer
	require.NoError(t, RenderReport(&buf, r, false))
	out := buf.String()

	assert.Contains(t, out, "Run interrupted; results are partial.")
	assert.Contains(t, out, "tensor_cores\n    not run (interrupted)")
	assert.Contains(t, out, "Device Telemetry\n  no data")
	assert.Contains(t, out, "Stress test stopped early.")
}

func TestRenderReportColored(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderReport(&buf, sampleReport(), true))
	assert.Contains(t, buf.String(), "\x1b[")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestRenderReportReturnsWriteError(t *testing.T) {
	assert.EqualError(t, RenderReport(failingWriter{}, sampleReport(), false), "closed pipe")
}

func TestDisplayUnit(t *testing.T) {
	tests := []struct {
		v        float64
		unit     string
		wantMult float64
		wantUnit string
	}{
		{20, "TFLOPS", 1, "TFLOPS"},
		{0.0123, "TFLOPS", 1e3, "GFLOPS"},
		{0.0004, "TFLOPS", 1e6, "MFLOPS"},
		{1e-9, "TFLOPS", 1e6, "MFLOPS"},
		{0, "TFLOPS", 1, "TFLOPS"},
		{0.5, "GB/s", 1e3, "MB/s"},
		{0.5, "it/s", 1, "it/s"},
	}
	for _, tt := range tests {
		mult, unit := displayUnit(tt.v, tt.unit)
		assert.Equal(t, tt.wantMult, mult, "%v %s", tt.v, tt.unit)
		assert.Equal(t, tt.wantUnit, unit, "%v %s", tt.v, tt.unit)
	}
}

func TestRenderReportScalesSmallThroughput(t *testing.T) {
	r := sampleReport()
	r.Results[0] = model.NewWorkloadResult("matrix_multiply", "TFLOPS", []float64{0.0123, 0.0123}, 2*time.Second)
	r.Results[1] = model.NewWorkloadResult("memory_bandwidth", "GB/s", []float64{4, 8}, 2*time.Second)
	failed := model.NewWorkloadResult("mixed_precision", "TFLOPS", []float64{0.002, 0.004}, time.Second)
	failed.Status, failed.Error = model.StatusFailed, "out of memory"
	r.Results[2] = failed
	r.Telemetry = "host"

	var buf bytes.Buffer
	require.NoError(t, RenderReport(&buf, r, false))
	out := buf.String()

	assert.Contains(t, out, "Average: 12.30 GFLOPS")
	assert.Contains(t, out, "Peak:    12.30 GFLOPS")
	assert.Contains(t, out, "Average: 6.00 GB/s")
	assert.Contains(t, out, "partial: avg 3.00 / peak 4.00 GFLOPS over 2 iterations")
	assert.NotContains(t, out, "0.00 TFLOPS")
	assert.Contains(t, out, "Device Telemetry\n  Source: host\n  Max Temperature: 50 C")
}
