/*
PURPOSE:
  Compute backend boundary for the stress harness.
  Device enumeration, capability query, allocation, compute primitives and a
  synchronize barrier used to make iteration timing accurate.

REQUIREMENTS:
  User-specified:
  - Fail fast when no compatible device exists.
  - Let workloads detect missing hardware features before running.

  Implementation-discovered:
  - Backends are selected by name, the same way loaders are picked by a
    factory switch; an unknown name is a device-unavailable condition.
  - Allocation must be accounted so a memory workload cannot over-commit.

ARCHITECTURE INTEGRATION:
  - Used by: internal/workload, internal/cli
  - Implementations: cpu.go, cuda_linux.go (build tag cuda; stubbed otherwise)

ERROR HANDLING:
  - ErrDeviceUnavailable: fatal at startup.
  - ErrUnsupported: operation needs a capability the device lacks.
  - ErrOutOfMemory: allocation over the device budget.
  - ErrShape: operand dimensions do not line up.

USAGE:
  dev, err := backend.Open("cpu", 0)
  a, _ := dev.Alloc(1024, 1024, backend.Float32)
  err = dev.Gemm(c, a, b, false, false)
*/

package backend

import (
	"errors"
	"fmt"

	"github.com/daryltucker/gpu-stress/internal/model"
)

var (
	ErrDeviceUnavailable = errors.New("no compatible compute device")
	ErrUnsupported       = errors.New("operation not supported by device")
	ErrOutOfMemory       = errors.New("device out of memory")
	ErrShape             = errors.New("tensor shape mismatch")
)

// Capability is a hardware feature a workload may require.
type Capability int

const (
	CapFloat32 Capability = iota
	CapHalfPrecision
	CapTensorCores
)

func (c Capability) String() string {
	switch c {
	case CapFloat32:
		return "fp32"
	case CapHalfPrecision:
		return "fp16"
	case CapTensorCores:
		return "tensor-cores"
	default:
		return fmt.Sprintf("capability(%d)", int(c))
	}
}

// Device is one compute device. Methods are safe to call from a single
// goroutine at a time; the harness never drives a device concurrently.
type Device interface {
	Info() model.DeviceInfo
	Supports(Capability) bool

	Alloc(rows, cols int, dt DType) (*Tensor, error)
	Free(*Tensor)
	Fill(t *Tensor, seed int64) error

	// Gemm computes out = op(a) · op(b) where op transposes when requested.
	// Accumulation is always fp32; half outputs are rounded on store.
	Gemm(out, a, b *Tensor, transA, transB bool) error
	Copy(dst, src *Tensor) error
	Map(dst, src *Tensor, fn func(float32) float32) error
	Zip(dst, a, b *Tensor, fn func(a, b float32) float32) error
	Sum(t *Tensor) (float64, error)

	// Synchronize blocks until all queued work has completed.
	Synchronize() error
	Close() error
}

// Backends lists the names accepted by Open.
func Backends() []string {
	return []string{"cpu", "cuda"}
}

// Open returns the device at index for the named backend.
func Open(name string, index int) (Device, error) {
	switch name {
	case "cpu":
		if index != 0 {
			return nil, fmt.Errorf("%w: cpu backend exposes device 0 only, got index %d", ErrDeviceUnavailable, index)
		}
		return newCPUDevice(), nil
	case "cuda":
		return openCUDA(index)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrDeviceUnavailable, name)
	}
}

// List enumerates the devices of the named backend.
func List(name string) ([]model.DeviceInfo, error) {
	switch name {
	case "cpu":
		d := newCPUDevice()
		defer d.Close()
		return []model.DeviceInfo{d.Info()}, nil
	case "cuda":
		return listCUDA()
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrDeviceUnavailable, name)
	}
}
