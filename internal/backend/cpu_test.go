package backend

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDevice(t *testing.T) *cpuDevice {
	t.Helper()
	d := newCPUDevice()
	d.workers = 4
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func fromRows(t *testing.T, d *cpuDevice, dt DType, rows [][]float32) *Tensor {
	t.Helper()
	m, err := d.Alloc(len(rows), len(rows[0]), dt)
	require.NoError(t, err)
	for i, r := range rows {
		for j, v := range r {
			m.Set(i*m.Cols+j, v)
		}
	}
	return m
}

func values(m *Tensor) []float32 {
	out := make([]float32, m.Len())
	for i := range out {
		out[i] = m.At(i)
	}
	return out
}

func TestOpenRejectsUnknownBackendAndIndex(t *testing.T) {
	_, err := Open("rocm", 0)
	assert.True(t, errors.Is(err, ErrDeviceUnavailable))

	_, err = Open("cpu", 3)
	assert.True(t, errors.Is(err, ErrDeviceUnavailable))

	dev, err := Open("cpu", 0)
	require.NoError(t, err)
	defer dev.Close()
	assert.Equal(t, "cpu", dev.Info().Backend)
}

func TestListCPU(t *testing.T) {
	infos, err := List("cpu")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Contains(t, infos[0].Capabilities, "fp32")
	assert.NotContains(t, infos[0].Capabilities, "tensor-cores")
	assert.Greater(t, infos[0].TotalMemory, uint64(0))

	_, err = List("nope")
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestCPUCapabilities(t *testing.T) {
	d := newTestDevice(t)
	assert.True(t, d.Supports(CapFloat32))
	assert.True(t, d.Supports(CapHalfPrecision))
	assert.False(t, d.Supports(CapTensorCores))
}

func TestGemmWithTransposes(t *testing.T) {
	d := newTestDevice(t)
	a := fromRows(t, d, Float32, [][]float32{{1, 2, 3}, {4, 5, 6}}) // 2x3
	b := fromRows(t, d, Float32, [][]float32{{7, 8}, {9, 10}, {11, 12}}) // 3x2

	out, err := d.Alloc(2, 2, Float32)
	require.NoError(t, err)
	require.NoError(t, d.Gemm(out, a, b, false, false))
	assert.Equal(t, []float32{58, 64, 139, 154}, values(out))

	// aᵀ·a is 3x3
	ata, err := d.Alloc(3, 3, Float32)
	require.NoError(t, err)
	require.NoError(t, d.Gemm(ata, a, a, true, false))
	assert.Equal(t, []float32{17, 22, 27, 22, 29, 36, 27, 36, 45}, values(ata))

	// a·aᵀ is 2x2
	aat, err := d.Alloc(2, 2, Float32)
	require.NoError(t, err)
	require.NoError(t, d.Gemm(aat, a, a, false, true))
	assert.Equal(t, []float32{14, 32, 32, 77}, values(aat))
}

func TestGemmHalfPrecisionAccumulatesInFloat32(t *testing.T) {
	d := newTestDevice(t)
	a := fromRows(t, d, Float16, [][]float32{{1, 2}, {3, 4}})
	b := fromRows(t, d, Float16, [][]float32{{0.5, 0}, {0, 0.25}})

	out, err := d.Alloc(2, 2, Float16)
	require.NoError(t, err)
	require.NoError(t, d.Gemm(out, a, b, false, false))
	assert.Equal(t, []float32{0.5, 0.5, 1.5, 1}, values(out))
}

func TestGemmShapeMismatch(t *testing.T) {
	d := newTestDevice(t)
	a, _ := d.Alloc(2, 3, Float32)
	b, _ := d.Alloc(2, 3, Float32)
	out, _ := d.Alloc(2, 3, Float32)

	err := d.Gemm(out, a, b, false, false)
	assert.ErrorIs(t, err, ErrShape)
}

func TestGemmLargeParallelMatchesSerial(t *testing.T) {
	d := newTestDevice(t)
	const n = 67
	a, _ := d.Alloc(n, n, Float32)
	b, _ := d.Alloc(n, n, Float32)
	require.NoError(t, d.Fill(a, 1))
	require.NoError(t, d.Fill(b, 2))

	out, _ := d.Alloc(n, n, Float32)
	require.NoError(t, d.Gemm(out, a, b, false, false))

	for _, idx := range [][2]int{{0, 0}, {n - 1, n - 1}, {13, 42}} {
		i, j := idx[0], idx[1]
		var want float32
		for p := 0; p < n; p++ {
			want += a.F32[i*n+p] * b.F32[p*n+j]
		}
		assert.InDelta(t, want, out.F32[i*n+j], 1e-3)
	}
}

func TestCopyMapZipSum(t *testing.T) {
	d := newTestDevice(t)
	src, _ := d.Alloc(1, 10000, Float32)
	dst, _ := d.Alloc(1, 10000, Float32)
	for i := range src.F32 {
		src.F32[i] = 1
	}

	require.NoError(t, d.Copy(dst, src))
	assert.Equal(t, src.F32, dst.F32)

	require.NoError(t, d.Map(dst, dst, func(v float32) float32 { return v * 3 }))
	require.NoError(t, d.Zip(dst, dst, src, func(a, b float32) float32 { return a - b }))

	sum, err := d.Sum(dst)
	require.NoError(t, err)
	assert.InDelta(t, 20000.0, sum, 1e-6)

	half, _ := d.Alloc(1, 10000, Float16)
	assert.ErrorIs(t, d.Copy(half, src), ErrShape)
}

func TestAllocBudgetAndFree(t *testing.T) {
	d := newTestDevice(t)
	d.budget = 1024

	a, err := d.Alloc(16, 16, Float32) // 1024 bytes
	require.NoError(t, err)

	_, err = d.Alloc(1, 1, Float32)
	assert.ErrorIs(t, err, ErrOutOfMemory)

	d.Free(a)
	d.Free(a) // second free is a no-op
	assert.Zero(t, d.allocated)

	_, err = d.Alloc(1, 1, Float32)
	assert.NoError(t, err)

	_, err = d.Alloc(0, 4, Float32)
	assert.ErrorIs(t, err, ErrShape)
}

func TestFloat16RoundTrip(t *testing.T) {
	d := newTestDevice(t)
	h, _ := d.Alloc(1, 4, Float16)
	for i, v := range []float32{0, 1, -2.5, 1024} {
		h.Set(i, v)
	}
	assert.Equal(t, []float32{0, 1, -2.5, 1024}, values(h))
	assert.Equal(t, uint64(8), h.Bytes())
}
