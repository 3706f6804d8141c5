package workload

import (
	"fmt"
	"math"
	"strings"

	"github.com/daryltucker/gpu-stress/internal/backend"
)

// Dynamic loss scaling defaults.
const (
	defaultInitScale      = 65536.0
	defaultBackoff        = 0.5
	defaultGrowth         = 2.0
	defaultGrowthInterval = 2000
)

// mixed runs one training step of a ReLU MLP per iteration. Matmuls take
// fp16 operands and accumulate in fp32; master weights and the SGD update
// stay fp32. Loss is the mean of the final layer output.
type mixed struct {
	layers    []int // widths: input, hidden..., output
	batch     int
	lr        float32
	growEvery int
}

func (w *mixed) Name() string       { return MixedPrecision }
func (w *mixed) Unit() Unit         { return ItPerSecond }
func (w *mixed) ProgressEvery() int { return 100 }
func (w *mixed) Requires() []backend.Capability {
	return []backend.Capability{backend.CapFloat32, backend.CapHalfPrecision}
}

func (w *mixed) Describe() string {
	dims := make([]string, len(w.layers))
	for i, d := range w.layers {
		dims[i] = fmt.Sprint(d)
	}
	return fmt.Sprintf("mlp %s batch %d fp16/fp32", strings.Join(dims, "->"), w.batch)
}

func (w *mixed) Prepare(dev backend.Device) (Kernel, error) {
	if err := Supported(w, dev); err != nil {
		return nil, err
	}
	if len(w.layers) < 2 {
		return nil, fmt.Errorf("mixed precision needs at least 2 layer widths, got %d", len(w.layers))
	}

	n := len(w.layers) - 1
	al := &allocator{dev: dev}
	k := &mixedKernel{
		al:        al,
		lr:        w.lr,
		scale:     defaultInitScale,
		growEvery: w.growEvery,
		w:         make([]*backend.Tensor, n),
		w16:       make([]*backend.Tensor, n),
		z:         make([]*backend.Tensor, n),
		a16:       make([]*backend.Tensor, n-1),
		g:         make([]*backend.Tensor, n),
		gw:        make([]*backend.Tensor, n),
	}

	k.x16 = al.alloc(w.batch, w.layers[0], backend.Float16)
	al.fill(k.x16, 10)
	for i := 0; i < n; i++ {
		in, out := w.layers[i], w.layers[i+1]
		k.w[i] = al.alloc(in, out, backend.Float32)
		al.fill(k.w[i], int64(11+i))
		k.w16[i] = al.alloc(in, out, backend.Float16)
		k.z[i] = al.alloc(w.batch, out, backend.Float32)
		k.g[i] = al.alloc(w.batch, out, backend.Float16)
		k.gw[i] = al.alloc(in, out, backend.Float32)
		if i < n-1 {
			k.a16[i] = al.alloc(w.batch, out, backend.Float16)
		}
	}
	if err := al.done(); err != nil {
		return nil, err
	}

	// Small initial weights keep activations inside fp16 range.
	for i := range k.w {
		std := float32(1 / math.Sqrt(float64(w.layers[i])))
		if err := dev.Map(k.w[i], k.w[i], func(v float32) float32 { return v * std }); err != nil {
			al.release()
			return nil, err
		}
	}
	k.outElems = float32(w.batch * w.layers[n])
	return k, nil
}

type mixedKernel struct {
	al *allocator

	x16 *backend.Tensor
	w   []*backend.Tensor // fp32 master weights
	w16 []*backend.Tensor // fp16 working copies
	z   []*backend.Tensor // fp32 pre-activations
	a16 []*backend.Tensor // fp16 activations between layers
	g   []*backend.Tensor // fp16 gradients w.r.t. z
	gw  []*backend.Tensor // fp32 weight gradients

	outElems  float32
	lr        float32
	scale     float64
	growEvery int
	good      int

	Loss    float64
	Skipped int
}

func relu(v float32) float32 {
	if v > 0 {
		return v
	}
	return 0
}

func reluGrad(g, z float32) float32 {
	if z > 0 {
		return g
	}
	return 0
}

func (k *mixedKernel) Step() (float64, error) {
	dev := k.al.dev
	n := len(k.w)

	// autocast: fp16 copies of the master weights
	for i := range k.w {
		if err := dev.Map(k.w16[i], k.w[i], func(v float32) float32 { return v }); err != nil {
			return 0, err
		}
	}

	in := k.x16
	for i := 0; i < n; i++ {
		if err := dev.Gemm(k.z[i], in, k.w16[i], false, false); err != nil {
			return 0, err
		}
		if i < n-1 {
			if err := dev.Map(k.a16[i], k.z[i], relu); err != nil {
				return 0, err
			}
			in = k.a16[i]
		}
	}

	sum, err := dev.Sum(k.z[n-1])
	if err != nil {
		return 0, err
	}
	k.Loss = sum / float64(k.outElems)

	// d(mean)/dz is uniform; scaled so small fp16 gradients survive.
	seed := float32(k.scale) / k.outElems
	if err := dev.Map(k.g[n-1], k.g[n-1], func(float32) float32 { return seed }); err != nil {
		return 0, err
	}
	for i := n - 1; i >= 0; i-- {
		prev := k.x16
		if i > 0 {
			prev = k.a16[i-1]
		}
		if err := dev.Gemm(k.gw[i], prev, k.g[i], true, false); err != nil {
			return 0, err
		}
		if i > 0 {
			if err := dev.Gemm(k.g[i-1], k.g[i], k.w16[i], false, true); err != nil {
				return 0, err
			}
			if err := dev.Zip(k.g[i-1], k.g[i-1], k.z[i-1], reluGrad); err != nil {
				return 0, err
			}
		}
	}

	inv := float32(1 / k.scale)
	overflow := false
	for _, gw := range k.gw {
		if err := dev.Map(gw, gw, func(v float32) float32 { return v * inv }); err != nil {
			return 0, err
		}
		s, err := dev.Sum(gw)
		if err != nil {
			return 0, err
		}
		if math.IsNaN(s) || math.IsInf(s, 0) {
			overflow = true
		}
	}

	if overflow {
		k.scale *= defaultBackoff
		k.good = 0
		k.Skipped++
		return 1, nil
	}

	lr := k.lr
	for i := range k.w {
		if err := dev.Zip(k.w[i], k.w[i], k.gw[i], func(w, g float32) float32 { return w - lr*g }); err != nil {
			return 0, err
		}
	}
	k.good++
	if k.growEvery > 0 && k.good >= k.growEvery {
		k.scale *= defaultGrowth
		k.good = 0
	}
	return 1, nil
}

func (k *mixedKernel) Close() error {
	return k.al.close()
}
