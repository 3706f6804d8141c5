package workload

import (
	"fmt"
	"time"

	"github.com/daryltucker/gpu-stress/internal/backend"
	"github.com/daryltucker/gpu-stress/internal/model"
	"github.com/daryltucker/gpu-stress/internal/output"
	"github.com/daryltucker/gpu-stress/internal/stopflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// TimedRunner runs one workload in a tight loop until its time budget is
// spent or the stop signal is set, whichever comes first.
type TimedRunner struct {
	Workload Workload
	Device   backend.Device

	now func() time.Time
}

// NewRunner pairs a workload with the device it runs on.
func NewRunner(w Workload, dev backend.Device) *TimedRunner {
	return &TimedRunner{Workload: w, Device: dev, now: time.Now}
}

func (r *TimedRunner) Name() string {
	return r.Workload.Name()
}

// Run prepares the working set, then times each Step between two
// synchronize barriers. On a step error the samples gathered so far are
// returned with the error.
func (r *TimedRunner) Run(budget time.Duration, stop *stopflag.Signal) (res model.WorkloadResult, err error) {
	w := r.Workload
	unit := w.Unit()
	logger := output.Logger.With(zap.String("workload", w.Name()))

	logger.Info("Preparing workload", zap.String("size", w.Describe()), zap.Duration("duration", budget))
	kernel, err := w.Prepare(r.Device)
	if err != nil {
		return model.WorkloadResult{Name: w.Name(), Unit: unit.Name}, err
	}
	defer func() {
		err = multierr.Append(err, kernel.Close())
	}()

	var samples []float64
	start := r.now()
	every := w.ProgressEvery()

	for !stop.IsSet() && r.now().Sub(start) < budget {
		if err := r.Device.Synchronize(); err != nil {
			return model.NewWorkloadResult(w.Name(), unit.Name, samples, r.now().Sub(start)), fmt.Errorf("synchronize: %w", err)
		}
		iterStart := r.now()

		qty, err := kernel.Step()
		if err == nil {
			err = r.Device.Synchronize()
		}
		if err != nil {
			return model.NewWorkloadResult(w.Name(), unit.Name, samples, r.now().Sub(start)), fmt.Errorf("iteration %d: %w", len(samples)+1, err)
		}

		elapsed := r.now().Sub(iterStart)
		if elapsed <= 0 {
			elapsed = time.Nanosecond
		}
		samples = append(samples, qty/elapsed.Seconds()/unit.Scale)

		if every > 0 && len(samples)%every == 0 {
			logger.Info("Progress",
				zap.Int("iteration", len(samples)),
				zap.Float64("recent_avg", mean(samples[len(samples)-every:])),
				zap.String("unit", unit.Name),
			)
		}
	}

	res = model.NewWorkloadResult(w.Name(), unit.Name, samples, r.now().Sub(start))
	if res.HasData {
		logger.Info("Workload complete",
			zap.Int("iterations", res.Iterations),
			zap.Float64("avg", res.Average),
			zap.Float64("peak", res.Peak),
			zap.String("unit", unit.Name),
		)
	} else {
		logger.Warn("Workload finished without completing an iteration")
	}
	return res, nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}
