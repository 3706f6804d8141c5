/*
PURPOSE:
  Stat Sampler: reads point-in-time device telemetry (temperature,
  utilization, memory, power) by querying nvidia-smi.

REQUIREMENTS:
  User-specified:
  - Fixed device index and fixed field list.
  - Never fatal: any failure means "skip this sample".

  Implementation-discovered:
  - Must finish well inside the monitor cadence, so every query runs under a
    context timeout.
  - Some boards report power as "[N/A]" or "[Not Supported]"; those fields
    read as 0 so the remaining fields are still usable.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (Monitor)
  - Produces: model.DeviceSnapshot

ERROR HANDLING:
  - Every error returned wraps ErrUnavailable.

USAGE:
  s := telemetry.NewSMISampler("nvidia-smi", 0, 800*time.Millisecond)
  snap, err := s.Sample(ctx)
*/

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/daryltucker/gpu-stress/internal/model"
)

// ErrUnavailable marks a telemetry read that produced no usable snapshot.
var ErrUnavailable = errors.New("device telemetry unavailable")

// QueryFields is the nvidia-smi field list, in the order parseSMI expects.
var QueryFields = []string{
	"temperature.gpu",
	"utilization.gpu",
	"utilization.memory",
	"memory.used",
	"memory.total",
	"power.draw",
	"power.limit",
}

// Sampler reads one device snapshot.
type Sampler interface {
	Sample(ctx context.Context) (model.DeviceSnapshot, error)
}

// CommandFunc runs an external command and returns its stdout.
type CommandFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// SMISampler queries nvidia-smi for a single device.
type SMISampler struct {
	Path        string
	DeviceIndex int
	Timeout     time.Duration

	run CommandFunc
	now func() time.Time
}

// NewSMISampler creates a sampler for the device at index.
func NewSMISampler(path string, index int, timeout time.Duration) *SMISampler {
	if path == "" {
		path = "nvidia-smi"
	}
	return &SMISampler{
		Path:        path,
		DeviceIndex: index,
		Timeout:     timeout,
		run:         runCommand,
		now:         time.Now,
	}
}

// WithCommand replaces the command runner.
func (s *SMISampler) WithCommand(fn CommandFunc) *SMISampler {
	s.run = fn
	return s
}

// Args returns the nvidia-smi arguments used for each query.
func (s *SMISampler) Args() []string {
	return []string{
		fmt.Sprintf("--id=%d", s.DeviceIndex),
		"--query-gpu=" + strings.Join(QueryFields, ","),
		"--format=csv,noheader,nounits",
	}
}

func (s *SMISampler) Sample(ctx context.Context) (model.DeviceSnapshot, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	out, err := s.run(ctx, s.Path, s.Args()...)
	if err != nil {
		return model.DeviceSnapshot{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, s.Path, err)
	}

	snap, err := parseSMI(string(out))
	if err != nil {
		return model.DeviceSnapshot{}, err
	}
	snap.Timestamp = s.now()
	return snap, nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// parseSMI reads the first non-empty CSV line of a query.
func parseSMI(out string) (model.DeviceSnapshot, error) {
	var line string
	for _, l := range strings.Split(out, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	if line == "" {
		return model.DeviceSnapshot{}, fmt.Errorf("%w: empty output", ErrUnavailable)
	}

	fields := strings.Split(line, ",")
	if len(fields) != len(QueryFields) {
		return model.DeviceSnapshot{}, fmt.Errorf("%w: expected %d fields, got %d in %q", ErrUnavailable, len(QueryFields), len(fields), line)
	}

	vals := make([]float64, len(fields))
	for i, f := range fields {
		f = strings.TrimSpace(f)
		if f == "[N/A]" || f == "[Not Supported]" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return model.DeviceSnapshot{}, fmt.Errorf("%w: field %s: %v", ErrUnavailable, QueryFields[i], err)
		}
		vals[i] = v
	}

	return model.DeviceSnapshot{
		Temperature:        vals[0],
		ComputeUtilization: vals[1],
		MemoryUtilization:  vals[2],
		MemoryUsed:         vals[3],
		MemoryTotal:        vals[4],
		PowerDraw:          vals[5],
		PowerLimit:         vals[6],
	}, nil
}
