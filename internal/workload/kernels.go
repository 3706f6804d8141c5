package workload

import (
	"fmt"

	"github.com/daryltucker/gpu-stress/internal/backend"
)

// matmul is a dense n×n fp32 matrix multiply: 2n³ FLOPs per step.
type matmul struct {
	size int
}

func (w *matmul) Name() string       { return MatrixMultiply }
func (w *matmul) Unit() Unit         { return TFLOPS }
func (w *matmul) ProgressEvery() int { return 10 }
func (w *matmul) Describe() string   { return fmt.Sprintf("%dx%d fp32", w.size, w.size) }
func (w *matmul) Requires() []backend.Capability {
	return []backend.Capability{backend.CapFloat32}
}

func (w *matmul) Prepare(dev backend.Device) (Kernel, error) {
	if err := Supported(w, dev); err != nil {
		return nil, err
	}
	al := &allocator{dev: dev}
	a := al.alloc(w.size, w.size, backend.Float32)
	b := al.alloc(w.size, w.size, backend.Float32)
	c := al.alloc(w.size, w.size, backend.Float32)
	al.fill(a, 1)
	al.fill(b, 2)
	if err := al.done(); err != nil {
		return nil, err
	}

	n := float64(w.size)
	return &gemmKernel{al: al, a: a, b: b, c: c, flops: 2 * n * n * n}, nil
}

// tensorCore is an fp16 m×k · k×n matmul aimed at matrix units: 2mnk FLOPs per step.
type tensorCore struct {
	m, n, k int
}

func (w *tensorCore) Name() string       { return TensorCores }
func (w *tensorCore) Unit() Unit         { return TFLOPS }
func (w *tensorCore) ProgressEvery() int { return 20 }
func (w *tensorCore) Describe() string   { return fmt.Sprintf("%dx%dx%d fp16", w.m, w.n, w.k) }
func (w *tensorCore) Requires() []backend.Capability {
	return []backend.Capability{backend.CapHalfPrecision, backend.CapTensorCores}
}

func (w *tensorCore) Prepare(dev backend.Device) (Kernel, error) {
	if err := Supported(w, dev); err != nil {
		return nil, err
	}
	al := &allocator{dev: dev}
	a := al.alloc(w.m, w.k, backend.Float16)
	b := al.alloc(w.k, w.n, backend.Float16)
	c := al.alloc(w.m, w.n, backend.Float16)
	al.fill(a, 3)
	al.fill(b, 4)
	if err := al.done(); err != nil {
		return nil, err
	}

	return &gemmKernel{al: al, a: a, b: b, c: c, flops: 2 * float64(w.m) * float64(w.n) * float64(w.k)}, nil
}

type gemmKernel struct {
	al      *allocator
	a, b, c *backend.Tensor
	flops   float64
}

func (k *gemmKernel) Step() (float64, error) {
	if err := k.al.dev.Gemm(k.c, k.a, k.b, false, false); err != nil {
		return 0, err
	}
	return k.flops, nil
}

func (k *gemmKernel) Close() error {
	return k.al.close()
}

// memcopy copies a large fp32 buffer device-to-device. Each step reads and
// writes the buffer once, so 2×bytes move per step.
type memcopy struct {
	maxBytes uint64
}

func (w *memcopy) Name() string       { return MemoryBandwidth }
func (w *memcopy) Unit() Unit         { return GBPerSecond }
func (w *memcopy) ProgressEvery() int { return 10 }
func (w *memcopy) Describe() string   { return fmt.Sprintf("up to %.2f GB", float64(w.maxBytes)/1e9) }
func (w *memcopy) Requires() []backend.Capability {
	return []backend.Capability{backend.CapFloat32}
}

// bufferBytes caps the buffer at a quarter of device memory to stay clear of OOM.
func (w *memcopy) bufferBytes(total uint64) uint64 {
	size := min(w.maxBytes, total/4)
	return size - size%4
}

func (w *memcopy) Prepare(dev backend.Device) (Kernel, error) {
	if err := Supported(w, dev); err != nil {
		return nil, err
	}
	size := w.bufferBytes(dev.Info().TotalMemory)
	if size == 0 {
		return nil, fmt.Errorf("%w: device reports no memory", backend.ErrOutOfMemory)
	}

	al := &allocator{dev: dev}
	elems := int(size / 4)
	src := al.alloc(1, elems, backend.Float32)
	dst := al.alloc(1, elems, backend.Float32)
	al.fill(src, 5)
	if err := al.done(); err != nil {
		return nil, err
	}
	return &copyKernel{al: al, src: src, dst: dst, moved: float64(2 * size)}, nil
}

type copyKernel struct {
	al       *allocator
	src, dst *backend.Tensor
	moved    float64
}

func (k *copyKernel) Step() (float64, error) {
	if err := k.al.dev.Copy(k.dst, k.src); err != nil {
		return 0, err
	}
	return k.moved, nil
}

func (k *copyKernel) Close() error {
	return k.al.close()
}
