/*
PURPOSE:
  Workload definitions for the stress harness. Each workload allocates its
  working set once, then exposes a Kernel that performs one unit of work.

REQUIREMENTS:
  User-specified:
  - Matrix multiply, memory copy, mixed-precision training step and
    tensor-core matmul, in that order.
  - Setup cost stays out of the throughput measurement.
  - Missing hardware features are reported, not attempted.

  Implementation-discovered:
  - Each workload reports throughput in its own unit, so the unit carries
    its scale (TFLOPS, GB/s, it/s).

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (through TimedRunner), internal/cli
  - Uses: internal/backend, internal/config

ERROR HANDLING:
  - ErrUnsupported wraps capability gaps found in Prepare.
  - Allocation and compute errors are returned as-is.

USAGE:
  w, err := workload.New(workload.MatrixMultiply, cfg)
  r := workload.NewRunner(w, dev)
  res, err := r.Run(30*time.Second, stop)
*/

package workload

import (
	"errors"
	"fmt"

	"github.com/daryltucker/gpu-stress/internal/backend"
	"github.com/daryltucker/gpu-stress/internal/config"
)

// ErrUnsupported means the device cannot run the workload at all.
var ErrUnsupported = errors.New("workload not supported on this device")

const (
	MatrixMultiply  = "matrix_multiply"
	MemoryBandwidth = "memory_bandwidth"
	MixedPrecision  = "mixed_precision"
	TensorCores     = "tensor_cores"
)

// Names returns every known workload in default run order.
func Names() []string {
	return []string{MatrixMultiply, MemoryBandwidth, MixedPrecision, TensorCores}
}

// Unit is a throughput unit. Scale divides the raw per-second quantity.
type Unit struct {
	Name  string
	Scale float64
}

var (
	TFLOPS      = Unit{Name: "TFLOPS", Scale: 1e12}
	GBPerSecond = Unit{Name: "GB/s", Scale: 1e9}
	ItPerSecond = Unit{Name: "it/s", Scale: 1}
)

// Kernel is an allocated workload ready to run.
type Kernel interface {
	// Step performs one unit of work and returns the quantity processed
	// (FLOPs, bytes, iterations) in Unit base terms.
	Step() (float64, error)
	Close() error
}

// Workload is one fixed compute pattern.
type Workload interface {
	Name() string
	Unit() Unit
	ProgressEvery() int
	Describe() string
	Requires() []backend.Capability
	Prepare(dev backend.Device) (Kernel, error)
}

// New builds the named workload from config.
func New(name string, cfg *config.Config) (Workload, error) {
	switch name {
	case MatrixMultiply:
		return &matmul{size: cfg.MatrixSize}, nil
	case MemoryBandwidth:
		return &memcopy{maxBytes: cfg.MemoryMaxBytes}, nil
	case MixedPrecision:
		return &mixed{
			layers:    cfg.MixedPrecision.Layers,
			batch:     cfg.MixedPrecision.BatchSize,
			lr:        float32(cfg.MixedPrecision.LearningRate),
			growEvery: defaultGrowthInterval,
		}, nil
	case TensorCores:
		return &tensorCore{m: cfg.TensorCore.M, n: cfg.TensorCore.N, k: cfg.TensorCore.K}, nil
	default:
		return nil, fmt.Errorf("unknown workload %q", name)
	}
}

// Supported reports whether dev has every capability w requires. The
// returned error wraps ErrUnsupported and names the first missing one.
func Supported(w Workload, dev backend.Device) error {
	for _, c := range w.Requires() {
		if !dev.Supports(c) {
			return fmt.Errorf("%w: %s requires %s, %s has no support", ErrUnsupported, w.Name(), c, dev.Info().Name)
		}
	}
	return nil
}

// allocator frees everything it handed out if setup fails part way.
type allocator struct {
	dev     backend.Device
	tensors []*backend.Tensor
	err     error
}

func (a *allocator) alloc(rows, cols int, dt backend.DType) *backend.Tensor {
	if a.err != nil {
		return nil
	}
	t, err := a.dev.Alloc(rows, cols, dt)
	if err != nil {
		a.err = err
		return nil
	}
	a.tensors = append(a.tensors, t)
	return t
}

func (a *allocator) fill(t *backend.Tensor, seed int64) {
	if a.err != nil {
		return
	}
	a.err = a.dev.Fill(t, seed)
}

// done returns the first setup error, releasing all tensors when there is one.
func (a *allocator) done() error {
	if a.err != nil {
		a.release()
	}
	return a.err
}

func (a *allocator) release() {
	for _, t := range a.tensors {
		a.dev.Free(t)
	}
	a.tensors = nil
}

// close waits for outstanding work and then frees the working set.
func (a *allocator) close() error {
	err := a.dev.Synchronize()
	a.release()
	return err
}
