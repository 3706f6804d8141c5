// Package metrics exposes the live state of a stress run as Prometheus
// collectors. Each Recorder owns its registry, so tests and repeated runs in
// one process never collide on registration.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/daryltucker/gpu-stress/internal/model"
	"github.com/daryltucker/gpu-stress/internal/output"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Recorder holds the collectors for one run. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry *prometheus.Registry

	// Temperature is the most recent device temperature in Celsius.
	Temperature prometheus.Gauge
	// PowerDraw is the most recent board power draw in watts.
	PowerDraw prometheus.Gauge
	// Utilization is the most recent compute utilization in percent.
	Utilization prometheus.Gauge
	// RunMax holds the maxima folded so far, labelled by reading:
	// "temperature_celsius", "power_draw_watts" or "utilization_percent".
	RunMax *prometheus.GaugeVec

	// Samples counts telemetry reads by result: "ok" or "skipped".
	Samples *prometheus.CounterVec

	// Throughput is per-workload throughput in the workload's own unit,
	// labelled by stat: "avg" or "peak".
	Throughput *prometheus.GaugeVec
	// Iterations counts completed iterations per workload.
	Iterations *prometheus.GaugeVec
	// Outcomes counts finished workloads by status.
	Outcomes *prometheus.CounterVec
}

// NewRecorder registers every collector on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		registry: reg,
		Temperature: f.NewGauge(prometheus.GaugeOpts{
			Name: "gpu_stress_temperature_celsius",
			Help: "Most recent device temperature.",
		}),
		PowerDraw: f.NewGauge(prometheus.GaugeOpts{
			Name: "gpu_stress_power_draw_watts",
			Help: "Most recent board power draw.",
		}),
		Utilization: f.NewGauge(prometheus.GaugeOpts{
			Name: "gpu_stress_utilization_percent",
			Help: "Most recent compute utilization.",
		}),
		RunMax: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpu_stress_run_max",
			Help: "Highest telemetry reading seen so far in the run.",
		}, []string{"reading"}),
		Samples: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gpu_stress_telemetry_samples_total",
			Help: "Telemetry reads by result (ok, skipped).",
		}, []string{"result"}),
		Throughput: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpu_stress_workload_throughput",
			Help: "Workload throughput in the workload's unit, by stat (avg, peak).",
		}, []string{"workload", "unit", "stat"}),
		Iterations: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpu_stress_workload_iterations",
			Help: "Iterations completed by a workload.",
		}, []string{"workload"}),
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gpu_stress_workloads_total",
			Help: "Finished workloads by status.",
		}, []string{"status"}),
	}
}

// ObserveSnapshot updates the live gauges from s and the run maxima from
// running.
func (r *Recorder) ObserveSnapshot(s model.DeviceSnapshot, running model.MonitorSummary) {
	if r == nil {
		return
	}
	r.Temperature.Set(s.Temperature)
	r.PowerDraw.Set(s.PowerDraw)
	r.Utilization.Set(s.ComputeUtilization)
	r.RunMax.WithLabelValues("temperature_celsius").Set(running.MaxTemperature)
	r.RunMax.WithLabelValues("power_draw_watts").Set(running.MaxPowerDraw)
	r.RunMax.WithLabelValues("utilization_percent").Set(running.MaxUtilization)
	r.Samples.WithLabelValues("ok").Inc()
}

// ObserveSkip counts an unavailable telemetry read.
func (r *Recorder) ObserveSkip(error) {
	if r == nil {
		return
	}
	r.Samples.WithLabelValues("skipped").Inc()
}

// RecordWorkload publishes a finished workload.
func (r *Recorder) RecordWorkload(res model.WorkloadResult) {
	if r == nil {
		return
	}
	r.Outcomes.WithLabelValues(res.Status.String()).Inc()
	r.Iterations.WithLabelValues(res.Name).Set(float64(res.Iterations))
	if !res.HasData {
		return
	}
	r.Throughput.WithLabelValues(res.Name, res.Unit, "avg").Set(res.Average)
	r.Throughput.WithLabelValues(res.Name, res.Unit, "peak").Set(res.Peak)
}

// Handler serves this recorder's registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		output.Logger.Info("Serving metrics", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
