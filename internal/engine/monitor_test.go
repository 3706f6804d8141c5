package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/daryltucker/gpu-stress/internal/model"
	"github.com/daryltucker/gpu-stress/internal/stopflag"
	"github.com/daryltucker/gpu-stress/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSampler cycles through temps; power reads as twice the temperature.
type fakeSampler struct {
	mu    sync.Mutex
	temps []float64
	err   error
	calls int
	block bool
}

func (s *fakeSampler) Sample(ctx context.Context) (model.DeviceSnapshot, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()

	if s.block {
		<-ctx.Done()
		return model.DeviceSnapshot{}, errors.Join(telemetry.ErrUnavailable, ctx.Err())
	}
	if s.err != nil {
		return model.DeviceSnapshot{}, s.err
	}
	t := s.temps[(n-1)%len(s.temps)]
	return model.DeviceSnapshot{Temperature: t, PowerDraw: 2 * t, ComputeUtilization: 99}, nil
}

func (s *fakeSampler) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func runMonitor(m *Monitor, stop *stopflag.Signal) <-chan model.MonitorSummary {
	ch := make(chan model.MonitorSummary, 1)
	go func() { ch <- m.Run(stop) }()
	return ch
}

func TestMonitorFoldsMaxima(t *testing.T) {
	s := &fakeSampler{temps: []float64{40, 60, 50, 70}}
	var mu sync.Mutex
	var maxima []float64
	var counts []int
	m := &Monitor{Sampler: s, Interval: time.Millisecond, OnSample: func(snap model.DeviceSnapshot, running model.MonitorSummary) {
		mu.Lock()
		maxima = append(maxima, running.MaxTemperature)
		counts = append(counts, running.Samples)
		mu.Unlock()
	}}

	stop := stopflag.New()
	ch := runMonitor(m, stop)
	require.Eventually(t, func() bool { return s.Calls() >= 4 }, time.Second, time.Millisecond)
	stop.Set()
	summary := <-ch

	assert.Equal(t, 70.0, summary.MaxTemperature)
	assert.Equal(t, 140.0, summary.MaxPowerDraw)
	assert.Equal(t, 99.0, summary.MaxUtilization)
	assert.Zero(t, summary.Skipped)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, maxima, summary.Samples)
	assert.Equal(t, []float64{40, 60, 60, 70}, maxima[:4], "running max after each sample")
	for i := 1; i < len(maxima); i++ {
		assert.GreaterOrEqual(t, maxima[i], maxima[i-1], "max temperature never decreases")
		assert.Equal(t, i+1, counts[i])
	}
	assert.Equal(t, summary.MaxTemperature, maxima[len(maxima)-1])
}

func TestMonitorAllSamplesUnavailable(t *testing.T) {
	s := &fakeSampler{err: telemetry.ErrUnavailable}
	skips := 0
	m := &Monitor{Sampler: s, Interval: time.Millisecond, OnSkip: func(err error) {
		assert.ErrorIs(t, err, telemetry.ErrUnavailable)
		skips++
	}}

	stop := stopflag.New()
	ch := runMonitor(m, stop)
	require.Eventually(t, func() bool { return s.Calls() >= 3 }, time.Second, time.Millisecond)
	stop.Set()
	summary := <-ch

	assert.Zero(t, summary.MaxTemperature)
	assert.Zero(t, summary.MaxPowerDraw)
	assert.Zero(t, summary.MaxUtilization)
	assert.False(t, summary.HasData())
	assert.Equal(t, s.Calls(), summary.Skipped)
	assert.Equal(t, summary.Skipped, skips)
}

func TestMonitorSamplesOnceBeforeFirstTick(t *testing.T) {
	s := &fakeSampler{temps: []float64{55}}
	stop := stopflag.New()
	stop.Set()

	summary := (&Monitor{Sampler: s, Interval: time.Hour}).Run(stop)
	assert.Equal(t, 1, summary.Samples)
	assert.Equal(t, 55.0, summary.MaxTemperature)
}

func TestMonitorTimeoutSkipsSlowSample(t *testing.T) {
	s := &fakeSampler{block: true}
	stop := stopflag.New()
	m := &Monitor{Sampler: s, Interval: time.Hour, Timeout: 5 * time.Millisecond}

	ch := runMonitor(m, stop)
	require.Eventually(t, func() bool { return s.Calls() >= 1 }, time.Second, time.Millisecond)
	stop.Set()

	select {
	case summary := <-ch:
		assert.Equal(t, 1, summary.Skipped)
		assert.Zero(t, summary.Samples)
	case <-time.After(time.Second):
		t.Fatal("monitor did not exit after stop")
	}
}
