package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/daryltucker/gpu-stress/internal/model"
	"github.com/daryltucker/gpu-stress/internal/output"
	"github.com/daryltucker/gpu-stress/internal/stopflag"
	"github.com/daryltucker/gpu-stress/internal/workload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeRunner struct {
	name    string
	samples []float64
	err     error
	panics  any
	onRun   func(stop *stopflag.Signal)
	ran     bool

	// finishes reports the full budget even when stop is set mid-run.
	finishes bool
}

func (r *fakeRunner) Name() string { return r.name }

func (r *fakeRunner) Run(budget time.Duration, stop *stopflag.Signal) (model.WorkloadResult, error) {
	r.ran = true
	if r.onRun != nil {
		r.onRun(stop)
	}
	if r.panics != nil {
		panic(r.panics)
	}
	if stop.IsSet() && !r.finishes {
		return model.NewWorkloadResult(r.name, "TFLOPS", nil, 0), nil
	}
	return model.NewWorkloadResult(r.name, "TFLOPS", r.samples, budget), r.err
}

type recordingRecorder struct {
	names []string
}

func (r *recordingRecorder) RecordWorkload(res model.WorkloadResult) {
	r.names = append(r.names, res.Name)
}

// cancelAndWait cancels the run and blocks until the stop signal lands.
func cancelAndWait(cancel context.CancelFunc) func(*stopflag.Signal) {
	return func(stop *stopflag.Signal) {
		cancel()
		<-stop.Done()
	}
}

func runners(rs ...*fakeRunner) []Runner {
	out := make([]Runner, len(rs))
	for i, r := range rs {
		out[i] = r
	}
	return out
}

func TestRunFullTestEndToEnd(t *testing.T) {
	sampler := &fakeSampler{temps: []float64{50}}
	r := &fakeRunner{name: "matrix_multiply", samples: []float64{10, 20, 30}}
	h := NewHarness(model.DeviceInfo{Name: "test-gpu"}, runners(r),
		&Monitor{Sampler: sampler, Interval: 10 * time.Millisecond, Source: "fake"})

	report := h.RunFullTest(context.Background(), time.Second)

	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.Equal(t, model.StatusCompleted, res.Status)
	assert.InDelta(t, 20.0, res.Average, 1e-9)
	assert.InDelta(t, 30.0, res.Peak, 1e-9)
	assert.Equal(t, 50.0, report.Monitor.MaxTemperature)
	assert.Equal(t, "fake", report.Telemetry)
	assert.Equal(t, "test-gpu", report.Device.Name)
	assert.Equal(t, time.Second, report.PerWorkloadDuration)
	assert.False(t, report.Interrupted)
	assert.Equal(t, StateReporting, h.State())
}

func TestRunFullTestInterruptMarksRemainingAbsent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rs := []*fakeRunner{
		{name: "one", samples: []float64{1}},
		{name: "two", samples: []float64{2}},
		{name: "three", samples: []float64{3}, onRun: cancelAndWait(cancel)},
		{name: "four", samples: []float64{4}},
	}
	rec := &recordingRecorder{}
	h := NewHarness(model.DeviceInfo{}, runners(rs...), nil)
	h.Recorder = rec

	report := h.RunFullTest(ctx, time.Second)

	require.Len(t, report.Results, 4)
	assert.True(t, report.Interrupted)
	assert.Equal(t, model.StatusCompleted, report.Results[0].Status)
	assert.Equal(t, model.StatusCompleted, report.Results[1].Status)
	assert.Equal(t, 2.0, report.Results[1].Average)
	assert.Equal(t, model.StatusAbsent, report.Results[2].Status)
	assert.Equal(t, model.StatusAbsent, report.Results[3].Status)
	assert.Equal(t, "four", report.Results[3].Name)
	assert.False(t, rs[3].ran)
	assert.Equal(t, []string{"one", "two"}, rec.names)
	assert.Len(t, report.Completed(), 2)
}

func TestRunFullTestKeepsWorkloadThatUsedFullBudget(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rs := []*fakeRunner{
		{name: "one", samples: []float64{1}},
		{name: "two", samples: []float64{2, 4}, onRun: cancelAndWait(cancel), finishes: true},
		{name: "three", samples: []float64{3}},
	}
	rec := &recordingRecorder{}
	h := NewHarness(model.DeviceInfo{}, runners(rs...), nil)
	h.Recorder = rec

	report := h.RunFullTest(ctx, time.Second)

	require.Len(t, report.Results, 3)
	assert.True(t, report.Interrupted)
	two := report.Results[1]
	assert.Equal(t, model.StatusCompleted, two.Status)
	assert.Equal(t, 3.0, two.Average)
	assert.Equal(t, time.Second, two.Elapsed)
	assert.Equal(t, model.StatusAbsent, report.Results[2].Status)
	assert.False(t, rs[2].ran)
	assert.Equal(t, []string{"one", "two"}, rec.names)
}

func TestCutShort(t *testing.T) {
	budget := time.Second
	assert.True(t, cutShort(model.NewWorkloadResult("w", "TFLOPS", []float64{1}, budget/2), budget))
	assert.False(t, cutShort(model.NewWorkloadResult("w", "TFLOPS", []float64{1}, budget), budget))
	assert.False(t, cutShort(model.WorkloadResult{Status: model.StatusFailed}, budget))
	assert.False(t, cutShort(model.WorkloadResult{Status: model.StatusUnsupported}, budget))
}

func TestRunFullTestCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &fakeRunner{name: "one", samples: []float64{1}}
	report := NewHarness(model.DeviceInfo{}, runners(r), nil).RunFullTest(ctx, time.Second)

	assert.True(t, report.Interrupted)
	assert.False(t, r.ran)
	assert.Equal(t, model.StatusAbsent, report.Results[0].Status)
}

func TestRunFullTestClassifiesOutcomes(t *testing.T) {
	rs := []*fakeRunner{
		{name: "unsupported", err: fmt.Errorf("%w: needs tensor-cores", workload.ErrUnsupported)},
		{name: "failed", samples: []float64{5, 6}, err: errors.New("out of memory")},
		{name: "panics", panics: "index out of range"},
		{name: "fine", samples: []float64{1, 3}},
	}
	report := NewHarness(model.DeviceInfo{}, runners(rs...), nil).RunFullTest(context.Background(), time.Second)

	require.Len(t, report.Results, 4)

	unsupported := report.Results[0]
	assert.Equal(t, model.StatusUnsupported, unsupported.Status)
	assert.Contains(t, unsupported.Note, "needs tensor-cores")
	assert.Empty(t, unsupported.Error)

	failed := report.Results[1]
	assert.Equal(t, model.StatusFailed, failed.Status)
	assert.Equal(t, "out of memory", failed.Error)
	assert.Equal(t, []float64{5, 6}, failed.Samples, "partial samples survive a failure")

	panicked := report.Results[2]
	assert.Equal(t, model.StatusFailed, panicked.Status)
	assert.Equal(t, "panics", panicked.Name)
	assert.Equal(t, "panic: index out of range", panicked.Error)

	fine := report.Results[3]
	assert.Equal(t, model.StatusCompleted, fine.Status)
	assert.Equal(t, 2.0, fine.Average)
	assert.False(t, report.Interrupted)
}

func TestRunFullTestWithoutTelemetry(t *testing.T) {
	sampler := &fakeSampler{err: errors.New("nvidia-smi: not found")}
	r := &fakeRunner{name: "one", samples: []float64{1}}
	h := NewHarness(model.DeviceInfo{}, runners(r), &Monitor{Sampler: sampler, Interval: time.Millisecond})

	report := h.RunFullTest(context.Background(), time.Second)

	assert.Equal(t, model.StatusCompleted, report.Results[0].Status)
	assert.False(t, report.Monitor.HasData())
	assert.Zero(t, report.Monitor.MaxTemperature)
}

func TestRunFullTestLogsStateTransitions(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := output.Logger
	output.SetLogger(zap.New(core))
	defer output.SetLogger(prev)

	h := NewHarness(model.DeviceInfo{}, runners(&fakeRunner{name: "one", samples: []float64{1}}), nil)
	assert.Equal(t, StateIdle, h.State())
	h.RunFullTest(context.Background(), time.Second)

	var path []string
	for _, e := range logs.FilterMessage("Harness state").All() {
		path = append(path, e.ContextMap()["to"].(string))
	}
	assert.Equal(t, []string{"monitoring", "running_workload", "monitoring", "stopping", "reporting"}, path)
}
