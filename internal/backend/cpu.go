package backend

import (
	"fmt"
	"math/rand"
	"runtime"
	"sync"

	"github.com/daryltucker/gpu-stress/internal/model"
	"github.com/x448/float16"
)

// cpuDevice runs every primitive on the host with goroutine-parallel kernels.
// All work completes before a call returns, so Synchronize is a barrier with
// nothing to wait for.
type cpuDevice struct {
	name    string
	workers int

	mu        sync.Mutex
	budget    uint64
	allocated uint64
}

func newCPUDevice() *cpuDevice {
	name, total := hostInfo()
	return &cpuDevice{
		name:    name,
		workers: runtime.NumCPU(),
		budget:  total / 2,
	}
}

func (d *cpuDevice) Info() model.DeviceInfo {
	caps := []string{}
	for _, c := range []Capability{CapFloat32, CapHalfPrecision, CapTensorCores} {
		if d.Supports(c) {
			caps = append(caps, c.String())
		}
	}
	return model.DeviceInfo{
		Backend:      "cpu",
		Index:        0,
		Name:         d.name,
		TotalMemory:  d.budget * 2,
		ComputeUnits: d.workers,
		Capabilities: caps,
	}
}

// Supports reports fp32 and software fp16. There are no matrix units.
func (d *cpuDevice) Supports(c Capability) bool {
	return c == CapFloat32 || c == CapHalfPrecision
}

func (d *cpuDevice) Alloc(rows, cols int, dt DType) (*Tensor, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: cannot allocate %dx%d", ErrShape, rows, cols)
	}
	if dt == Float16 && !d.Supports(CapHalfPrecision) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, CapHalfPrecision)
	}

	size := uint64(rows) * uint64(cols) * uint64(dt.Size())
	d.mu.Lock()
	if d.allocated+size > d.budget {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: need %d bytes, %d of %d in use", ErrOutOfMemory, size, d.allocated, d.budget)
	}
	d.allocated += size
	d.mu.Unlock()

	t := &Tensor{Rows: rows, Cols: cols, DType: dt}
	if dt == Float16 {
		t.F16 = make([]float16.Float16, rows*cols)
	} else {
		t.F32 = make([]float32, rows*cols)
	}
	return t, nil
}

func (d *cpuDevice) Free(t *Tensor) {
	if t == nil || (t.F32 == nil && t.F16 == nil) {
		return
	}
	size := t.Bytes()
	d.mu.Lock()
	if size > d.allocated {
		size = d.allocated
	}
	d.allocated -= size
	d.mu.Unlock()
	t.F32, t.F16 = nil, nil
}

func (d *cpuDevice) Fill(t *Tensor, seed int64) error {
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < t.Len(); i++ {
		t.Set(i, float32(rng.NormFloat64()))
	}
	return nil
}

func (d *cpuDevice) Gemm(out, a, b *Tensor, transA, transB bool) error {
	m, k := a.Rows, a.Cols
	if transA {
		m, k = k, m
	}
	kb, n := b.Rows, b.Cols
	if transB {
		kb, n = n, kb
	}
	if k != kb || out.Rows != m || out.Cols != n {
		return fmt.Errorf("%w: gemm %dx%d · %dx%d -> %dx%d", ErrShape, m, k, kb, n, out.Rows, out.Cols)
	}

	av := operand(a, transA)
	bv := operand(b, transB)
	cv := out.F32
	if out.DType == Float16 {
		cv = make([]float32, m*n)
	}

	// Row blocks per worker; each output row is written by exactly one goroutine.
	d.parallel(m, 1, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			row := cv[i*n : (i+1)*n]
			clear(row)
			for p := 0; p < k; p++ {
				aip := av[i*k+p]
				if aip == 0 {
					continue
				}
				brow := bv[p*n : (p+1)*n]
				for j := range row {
					row[j] += aip * brow[j]
				}
			}
		}
	})

	if out.DType == Float16 {
		for i, v := range cv {
			out.Set(i, v)
		}
	}
	return nil
}

// operand returns a row-major float32 view of op(t).
func operand(t *Tensor, trans bool) []float32 {
	src := t.float32s()
	if !trans {
		return src
	}
	out := make([]float32, len(src))
	for i := 0; i < t.Rows; i++ {
		for j := 0; j < t.Cols; j++ {
			out[j*t.Rows+i] = src[i*t.Cols+j]
		}
	}
	return out
}

func (d *cpuDevice) Copy(dst, src *Tensor) error {
	if !sameShape(dst, src) || dst.DType != src.DType {
		return fmt.Errorf("%w: copy %dx%d %s -> %dx%d %s", ErrShape, src.Rows, src.Cols, src.DType, dst.Rows, dst.Cols, dst.DType)
	}
	d.parallel(src.Len(), elementGrain, func(lo, hi int) {
		if src.DType == Float16 {
			copy(dst.F16[lo:hi], src.F16[lo:hi])
		} else {
			copy(dst.F32[lo:hi], src.F32[lo:hi])
		}
	})
	return nil
}

func (d *cpuDevice) Map(dst, src *Tensor, fn func(float32) float32) error {
	if !sameShape(dst, src) {
		return fmt.Errorf("%w: map %dx%d -> %dx%d", ErrShape, src.Rows, src.Cols, dst.Rows, dst.Cols)
	}
	d.parallel(src.Len(), elementGrain, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			dst.Set(i, fn(src.At(i)))
		}
	})
	return nil
}

func (d *cpuDevice) Zip(dst, a, b *Tensor, fn func(a, b float32) float32) error {
	if !sameShape(dst, a) || !sameShape(a, b) {
		return fmt.Errorf("%w: zip %dx%d, %dx%d -> %dx%d", ErrShape, a.Rows, a.Cols, b.Rows, b.Cols, dst.Rows, dst.Cols)
	}
	d.parallel(a.Len(), elementGrain, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			dst.Set(i, fn(a.At(i), b.At(i)))
		}
	})
	return nil
}

func (d *cpuDevice) Sum(t *Tensor) (float64, error) {
	partial := make([]float64, d.workers)
	var mu sync.Mutex
	slot := 0
	d.parallel(t.Len(), elementGrain, func(lo, hi int) {
		s := 0.0
		for i := lo; i < hi; i++ {
			s += float64(t.At(i))
		}
		mu.Lock()
		partial[slot] = s
		slot++
		mu.Unlock()
	})

	total := 0.0
	for _, s := range partial {
		total += s
	}
	return total, nil
}

func (d *cpuDevice) Synchronize() error {
	return nil
}

func (d *cpuDevice) Close() error {
	d.mu.Lock()
	d.allocated = 0
	d.mu.Unlock()
	return nil
}

// elementGrain is the smallest elementwise range worth a goroutine.
const elementGrain = 4096

// parallel splits [0, n) into contiguous blocks, at most one per worker, and
// waits for all of them. Ranges under grain items per worker run inline.
func (d *cpuDevice) parallel(n, grain int, fn func(lo, hi int)) {
	workers := d.workers
	if workers < 1 {
		workers = 1
	}
	if n < workers*grain {
		fn(0, n)
		return
	}

	per := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += per {
		hi := min(lo+per, n)
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			fn(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}
