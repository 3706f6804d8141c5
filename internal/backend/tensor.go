package backend

import (
	"unsafe"

	"github.com/x448/float16"
)

// DType is the element type of a Tensor.
type DType int

const (
	Float32 DType = iota
	Float16
)

// Size returns the element width in bytes.
func (d DType) Size() int {
	if d == Float16 {
		return 2
	}
	return 4
}

func (d DType) String() string {
	if d == Float16 {
		return "float16"
	}
	return "float32"
}

// Tensor is a dense row-major matrix. Host tensors populate exactly one of
// F32/F16, matching DType. Device tensors leave both nil and hold ptr.
type Tensor struct {
	Rows, Cols int
	DType      DType
	F32        []float32
	F16        []float16.Float16

	ptr unsafe.Pointer // device memory
}

// Len returns the element count.
func (t *Tensor) Len() int {
	return t.Rows * t.Cols
}

// Bytes returns the storage size.
func (t *Tensor) Bytes() uint64 {
	return uint64(t.Len()) * uint64(t.DType.Size())
}

// At returns element i widened to float32.
func (t *Tensor) At(i int) float32 {
	if t.DType == Float16 {
		return t.F16[i].Float32()
	}
	return t.F32[i]
}

// Set stores v at element i, rounding to half precision when needed.
func (t *Tensor) Set(i int, v float32) {
	if t.DType == Float16 {
		t.F16[i] = float16.Fromfloat32(v)
		return
	}
	t.F32[i] = v
}

// float32s returns the tensor as a float32 slice. For float32 tensors the
// backing slice itself is returned; half tensors are widened into a copy.
func (t *Tensor) float32s() []float32 {
	if t.DType == Float32 {
		return t.F32
	}
	out := make([]float32, t.Len())
	for i, h := range t.F16 {
		out[i] = h.Float32()
	}
	return out
}

func sameShape(a, b *Tensor) bool {
	return a.Rows == b.Rows && a.Cols == b.Cols
}
