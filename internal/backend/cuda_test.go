//go:build linux && cgo && cuda

package backend

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCUDA(t *testing.T) Device {
	t.Helper()
	dev, err := Open("cuda", 0)
	if errors.Is(err, ErrDeviceUnavailable) {
		t.Skipf("no cuda device: %v", err)
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })
	return dev
}

func TestCUDAGemmMatchesHost(t *testing.T) {
	dev := openTestCUDA(t)
	host := newTestDevice(t)

	a, err := dev.Alloc(2, 3, Float32)
	require.NoError(t, err)
	b, err := dev.Alloc(3, 2, Float32)
	require.NoError(t, err)
	out, err := dev.Alloc(2, 2, Float32)
	require.NoError(t, err)
	require.NoError(t, dev.Fill(a, 1))
	require.NoError(t, dev.Fill(b, 2))
	require.NoError(t, dev.Gemm(out, a, b, false, false))
	require.NoError(t, dev.Synchronize())

	cd := dev.(*cudaDevice)
	ha, err := cd.download(a)
	require.NoError(t, err)
	hb, err := cd.download(b)
	require.NoError(t, err)
	got, err := cd.download(out)
	require.NoError(t, err)

	want, err := host.Alloc(2, 2, Float32)
	require.NoError(t, err)
	require.NoError(t, host.Gemm(want, ha, hb, false, false))
	assert.InDeltaSlice(t, values(want), values(got), 1e-4)
}

func TestCUDAElementwiseRoundTrip(t *testing.T) {
	dev := openTestCUDA(t)

	src, err := dev.Alloc(4, 4, Float32)
	require.NoError(t, err)
	dst, err := dev.Alloc(4, 4, Float32)
	require.NoError(t, err)
	require.NoError(t, dev.Fill(src, 7))
	require.NoError(t, dev.Map(dst, src, func(float32) float32 { return 0.5 }))

	sum, err := dev.Sum(dst)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, sum, 1e-6)

	require.NoError(t, dev.Copy(src, dst))
	sum, err = dev.Sum(src)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, sum, 1e-6)

	dev.Free(src)
	dev.Free(dst)
}
