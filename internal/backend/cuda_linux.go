//go:build linux && cgo && cuda

/*
PURPOSE:
  CUDA device backed by the CUDA runtime and cuBLAS.
  GEMM runs through cublasGemmEx so half-precision operands hit the tensor
  cores on Volta and newer.

REQUIREMENTS:
  Implementation-discovered:
  - Needs the CUDA toolkit at /usr/local/cuda; opt in with `-tags cuda`.
  - Elementwise primitives take Go closures, which cannot run on the device.
    They round-trip through host memory; only GEMM and Copy stay on-device.

ERROR HANDLING:
  - cudaErrorMemoryAllocation maps to ErrOutOfMemory.
  - Every other runtime or cuBLAS failure is wrapped with its status text.

RELATED FILES:
  - internal/backend/cuda_stub.go
*/

package backend

/*
#cgo LDFLAGS: -L/usr/local/cuda/lib64 -lcudart -lcublas -lm
#cgo CFLAGS: -I/usr/local/cuda/include

#include <cuda_runtime.h>
#include <cublas_v2.h>
#include <stdlib.h>
#include <string.h>

typedef struct {
    char name[256];
    size_t totalGlobalMem;
    int major;
    int minor;
    int multiProcessorCount;
} gs_device_props;

static int gs_device_count(int *count) {
    return (int)cudaGetDeviceCount(count);
}

static int gs_device_props_get(int device, gs_device_props *props) {
    struct cudaDeviceProp p;
    cudaError_t err = cudaGetDeviceProperties(&p, device);
    if (err != cudaSuccess) {
        return (int)err;
    }
    strncpy(props->name, p.name, sizeof(props->name) - 1);
    props->name[sizeof(props->name) - 1] = 0;
    props->totalGlobalMem = p.totalGlobalMem;
    props->major = p.major;
    props->minor = p.minor;
    props->multiProcessorCount = p.multiProcessorCount;
    return 0;
}

static const char *gs_error_string(int err) {
    return cudaGetErrorString((cudaError_t)err);
}

static int gs_is_oom(int err) {
    return err == (int)cudaErrorMemoryAllocation;
}

static int gs_set_device(int device) {
    return (int)cudaSetDevice(device);
}

static int gs_malloc(void **ptr, size_t size) {
    return (int)cudaMalloc(ptr, size);
}

static int gs_free(void *ptr) {
    return (int)cudaFree(ptr);
}

static int gs_memcpy_h2d(void *dst, const void *src, size_t size) {
    return (int)cudaMemcpy(dst, src, size, cudaMemcpyHostToDevice);
}

static int gs_memcpy_d2h(void *dst, const void *src, size_t size) {
    return (int)cudaMemcpy(dst, src, size, cudaMemcpyDeviceToHost);
}

static int gs_memcpy_d2d(void *dst, const void *src, size_t size) {
    return (int)cudaMemcpy(dst, src, size, cudaMemcpyDeviceToDevice);
}

static int gs_synchronize(void) {
    return (int)cudaDeviceSynchronize();
}

static int gs_cublas_create(cublasHandle_t *handle) {
    return (int)cublasCreate(handle);
}

static int gs_cublas_destroy(cublasHandle_t handle) {
    return (int)cublasDestroy(handle);
}

// Row-major C = op(A) * op(B) expressed as column-major C^T = op(B)^T * op(A)^T.
static int gs_gemm(cublasHandle_t handle, int transA, int transB,
                   int m, int n, int k,
                   const void *a, int lda, const void *b, int ldb,
                   void *c, int ldc, int half_in, int half_out) {
    const float alpha = 1.0f, beta = 0.0f;
    cudaDataType_t in = half_in ? CUDA_R_16F : CUDA_R_32F;
    cudaDataType_t out = half_out ? CUDA_R_16F : CUDA_R_32F;
    return (int)cublasGemmEx(handle,
        transB ? CUBLAS_OP_T : CUBLAS_OP_N,
        transA ? CUBLAS_OP_T : CUBLAS_OP_N,
        n, m, k,
        &alpha,
        b, in, ldb,
        a, in, lda,
        &beta,
        c, out, ldc,
        CUBLAS_COMPUTE_32F, CUBLAS_GEMM_DEFAULT_TENSOR_OP);
}
*/
import "C"

import (
	"fmt"
	"math/rand"
	"sync"
	"unsafe"

	"github.com/daryltucker/gpu-stress/internal/model"
	"github.com/x448/float16"
)

type cudaDevice struct {
	index int
	props C.gs_device_props
	blas  C.cublasHandle_t

	mu   sync.Mutex
	live map[unsafe.Pointer]struct{}
}

func cudaErr(op string, code C.int) error {
	if code == 0 {
		return nil
	}
	if C.gs_is_oom(code) != 0 {
		return fmt.Errorf("%w: %s", ErrOutOfMemory, op)
	}
	return fmt.Errorf("%s: %s", op, C.GoString(C.gs_error_string(code)))
}

func cudaDeviceCount() (int, error) {
	var n C.int
	if code := C.gs_device_count(&n); code != 0 {
		return 0, fmt.Errorf("%w: %v", ErrDeviceUnavailable, cudaErr("cudaGetDeviceCount", code))
	}
	return int(n), nil
}

func openCUDA(index int) (Device, error) {
	n, err := cudaDeviceCount()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= n {
		return nil, fmt.Errorf("%w: cuda device %d not present (%d found)", ErrDeviceUnavailable, index, n)
	}

	d := &cudaDevice{index: index, live: map[unsafe.Pointer]struct{}{}}
	if code := C.gs_device_props_get(C.int(index), &d.props); code != 0 {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, cudaErr("cudaGetDeviceProperties", code))
	}
	if code := C.gs_set_device(C.int(index)); code != 0 {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, cudaErr("cudaSetDevice", code))
	}
	if code := C.gs_cublas_create(&d.blas); code != 0 {
		return nil, fmt.Errorf("%w: cublasCreate failed with status %d", ErrDeviceUnavailable, int(code))
	}
	return d, nil
}

func listCUDA() ([]model.DeviceInfo, error) {
	n, err := cudaDeviceCount()
	if err != nil {
		return nil, err
	}
	infos := make([]model.DeviceInfo, 0, n)
	for i := 0; i < n; i++ {
		d := &cudaDevice{index: i}
		if code := C.gs_device_props_get(C.int(i), &d.props); code != 0 {
			return nil, cudaErr("cudaGetDeviceProperties", code)
		}
		infos = append(infos, d.Info())
	}
	return infos, nil
}

func (d *cudaDevice) Info() model.DeviceInfo {
	caps := []string{}
	for _, c := range []Capability{CapFloat32, CapHalfPrecision, CapTensorCores} {
		if d.Supports(c) {
			caps = append(caps, c.String())
		}
	}
	return model.DeviceInfo{
		Backend:      "cuda",
		Index:        d.index,
		Name:         C.GoString(&d.props.name[0]),
		TotalMemory:  uint64(d.props.totalGlobalMem),
		ComputeUnits: int(d.props.multiProcessorCount),
		Capabilities: caps,
	}
}

// Supports follows compute capability: native fp16 arithmetic from 5.3,
// tensor cores from 7.0.
func (d *cudaDevice) Supports(c Capability) bool {
	major, minor := int(d.props.major), int(d.props.minor)
	switch c {
	case CapFloat32:
		return true
	case CapHalfPrecision:
		return major > 5 || (major == 5 && minor >= 3)
	case CapTensorCores:
		return major >= 7
	default:
		return false
	}
}

func (d *cudaDevice) Alloc(rows, cols int, dt DType) (*Tensor, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: alloc %dx%d", ErrShape, rows, cols)
	}
	if dt == Float16 && !d.Supports(CapHalfPrecision) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, CapHalfPrecision)
	}
	t := &Tensor{Rows: rows, Cols: cols, DType: dt}
	var ptr unsafe.Pointer
	if code := C.gs_malloc(&ptr, C.size_t(t.Bytes())); code != 0 {
		return nil, cudaErr(fmt.Sprintf("cudaMalloc %d bytes", t.Bytes()), code)
	}
	t.ptr = ptr
	d.mu.Lock()
	d.live[t.ptr] = struct{}{}
	d.mu.Unlock()
	return t, nil
}

func (d *cudaDevice) Free(t *Tensor) {
	if t == nil || t.ptr == nil {
		return
	}
	d.mu.Lock()
	delete(d.live, t.ptr)
	d.mu.Unlock()
	C.gs_free(t.ptr)
	t.ptr = nil
}

// download copies a device tensor into a fresh host tensor.
func (d *cudaDevice) download(t *Tensor) (*Tensor, error) {
	h := &Tensor{Rows: t.Rows, Cols: t.Cols, DType: t.DType}
	var dst unsafe.Pointer
	if t.DType == Float16 {
		h.F16 = make([]float16.Float16, t.Len())
		dst = unsafe.Pointer(&h.F16[0])
	} else {
		h.F32 = make([]float32, t.Len())
		dst = unsafe.Pointer(&h.F32[0])
	}
	if code := C.gs_memcpy_d2h(dst, t.ptr, C.size_t(t.Bytes())); code != 0 {
		return nil, cudaErr("cudaMemcpy device to host", code)
	}
	return h, nil
}

// upload copies a host tensor into device tensor t of the same shape.
func (d *cudaDevice) upload(t, h *Tensor) error {
	var src unsafe.Pointer
	if h.DType == Float16 {
		src = unsafe.Pointer(&h.F16[0])
	} else {
		src = unsafe.Pointer(&h.F32[0])
	}
	return cudaErr("cudaMemcpy host to device", C.gs_memcpy_h2d(t.ptr, src, C.size_t(t.Bytes())))
}

func hostLike(t *Tensor) *Tensor {
	h := &Tensor{Rows: t.Rows, Cols: t.Cols, DType: t.DType}
	if t.DType == Float16 {
		h.F16 = make([]float16.Float16, t.Len())
	} else {
		h.F32 = make([]float32, t.Len())
	}
	return h
}

func (d *cudaDevice) Fill(t *Tensor, seed int64) error {
	h := hostLike(t)
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < h.Len(); i++ {
		h.Set(i, float32(rng.NormFloat64()))
	}
	return d.upload(t, h)
}

func (d *cudaDevice) Gemm(out, a, b *Tensor, transA, transB bool) error {
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
	if a.DType != b.DType {
		return fmt.Errorf("%w: gemm operands %s and %s", ErrShape, a.DType, b.DType)
	}

	halfIn, halfOut := C.int(0), C.int(0)
	if a.DType == Float16 {
		halfIn = 1
	}
	if out.DType == Float16 {
		halfOut = 1
	}
	status := C.gs_gemm(d.blas, boolInt(transA), boolInt(transB),
		C.int(m), C.int(n), C.int(k),
		a.ptr, C.int(a.Cols), b.ptr, C.int(b.Cols),
		out.ptr, C.int(out.Cols), halfIn, halfOut)
	if status != 0 {
		return fmt.Errorf("cublasGemmEx failed with status %d", int(status))
	}
	return nil
}

func boolInt(v bool) C.int {
	if v {
		return 1
	}
	return 0
}

func (d *cudaDevice) Copy(dst, src *Tensor) error {
	if !sameShape(dst, src) || dst.DType != src.DType {
		return fmt.Errorf("%w: copy %dx%d %s -> %dx%d %s", ErrShape, src.Rows, src.Cols, src.DType, dst.Rows, dst.Cols, dst.DType)
	}
	return cudaErr("cudaMemcpy device to device", C.gs_memcpy_d2d(dst.ptr, src.ptr, C.size_t(src.Bytes())))
}

func (d *cudaDevice) Map(dst, src *Tensor, fn func(float32) float32) error {
	if !sameShape(dst, src) {
		return fmt.Errorf("%w: map %dx%d -> %dx%d", ErrShape, src.Rows, src.Cols, dst.Rows, dst.Cols)
	}
	hs, err := d.download(src)
	if err != nil {
		return err
	}
	hd := hostLike(dst)
	for i := 0; i < hs.Len(); i++ {
		hd.Set(i, fn(hs.At(i)))
	}
	return d.upload(dst, hd)
}

func (d *cudaDevice) Zip(dst, a, b *Tensor, fn func(a, b float32) float32) error {
	if !sameShape(dst, a) || !sameShape(a, b) {
		return fmt.Errorf("%w: zip %dx%d, %dx%d -> %dx%d", ErrShape, a.Rows, a.Cols, b.Rows, b.Cols, dst.Rows, dst.Cols)
	}
	ha, err := d.download(a)
	if err != nil {
		return err
	}
	hb, err := d.download(b)
	if err != nil {
		return err
	}
	hd := hostLike(dst)
	for i := 0; i < ha.Len(); i++ {
		hd.Set(i, fn(ha.At(i), hb.At(i)))
	}
	return d.upload(dst, hd)
}

func (d *cudaDevice) Sum(t *Tensor) (float64, error) {
	h, err := d.download(t)
	if err != nil {
		return 0, err
	}
	var s float64
	for i := 0; i < h.Len(); i++ {
		s += float64(h.At(i))
	}
	return s, nil
}

func (d *cudaDevice) Synchronize() error {
	return cudaErr("cudaDeviceSynchronize", C.gs_synchronize())
}

func (d *cudaDevice) Close() error {
	d.mu.Lock()
	for p := range d.live {
		C.gs_free(p)
	}
	d.live = map[unsafe.Pointer]struct{}{}
	d.mu.Unlock()

	if d.blas != nil {
		status := C.gs_cublas_destroy(d.blas)
		d.blas = nil
		if status != 0 {
			return fmt.Errorf("cublasDestroy failed with status %d", int(status))
		}
	}
	return nil
}
