// Package tensor implements a small n-dimensional array used by the cache and
// attention kernels. Tensors are row-major with explicit strides so that
// prefix views along an interior axis (the sequence axis of a KV cache) can be
// taken without copying. Only the operations needed by incremental decoding
// are provided; this is not a general array-programming library.
package tensor

import (
	"fmt"
	"math/rand"
)

// Tensor is an n-dimensional array of a fixed element type.
//
// A Tensor may be a view into another tensor's storage (see Narrow). Views
// share underlying data; callers that hold a view across a mutation of the
// parent observe the mutation. The cache relies on this: it hands out
// offset-bounded views and mutates only the region past the view.
type Tensor struct {
	dtype  DType
	shape  []int
	stride []int
	off    int

	f32 []float32
	u16 []uint16 // f16/bf16 payloads
	u32 []uint32
	bit []bool
}

// New allocates a zero-initialised tensor of the given dtype and shape.
func New(dtype DType, shape ...int) *Tensor {
	n := checkShape(shape)
	t := &Tensor{dtype: dtype, shape: cloneInts(shape), stride: contiguousStrides(shape)}
	switch dtype {
	case F32:
		t.f32 = make([]float32, n)
	case F16, BF16:
		t.u16 = make([]uint16, n)
	case U32:
		t.u32 = make([]uint32, n)
	case Bool:
		t.bit = make([]bool, n)
	default:
		panic("tensor: unknown dtype")
	}
	return t
}

// FromFloat32 wraps an existing float32 slice as a tensor. The slice is not
// copied; len(data) must equal the product of the shape.
func FromFloat32(data []float32, shape ...int) *Tensor {
	if n := checkShape(shape); n != len(data) {
		panic(fmt.Sprintf("tensor: data length %d does not match shape %v", len(data), shape))
	}
	return &Tensor{dtype: F32, shape: cloneInts(shape), stride: contiguousStrides(shape), f32: data}
}

// FromUint32 wraps an existing uint32 slice as a tensor without copying.
func FromUint32(data []uint32, shape ...int) *Tensor {
	if n := checkShape(shape); n != len(data) {
		panic(fmt.Sprintf("tensor: data length %d does not match shape %v", len(data), shape))
	}
	return &Tensor{dtype: U32, shape: cloneInts(shape), stride: contiguousStrides(shape), u32: data}
}

// FromBool wraps an existing bool slice as a tensor without copying.
func FromBool(data []bool, shape ...int) *Tensor {
	if n := checkShape(shape); n != len(data) {
		panic(fmt.Sprintf("tensor: data length %d does not match shape %v", len(data), shape))
	}
	return &Tensor{dtype: Bool, shape: cloneInts(shape), stride: contiguousStrides(shape), bit: data}
}

// DType returns the element type.
func (t *Tensor) DType() DType { return t.dtype }

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.shape) }

// Shape returns a copy of the dimension sizes.
func (t *Tensor) Shape() []int { return cloneInts(t.shape) }

// Dim returns the size of dimension i. Negative i counts from the end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.shape)
	}
	return t.shape[i]
}

// Len returns the number of logical elements.
func (t *Tensor) Len() int {
	n := 1
	for _, d := range t.shape {
		n *= d
	}
	return n
}

// IsContiguous reports whether the logical elements are laid out densely in
// row-major order starting at the view offset.
func (t *Tensor) IsContiguous() bool {
	want := 1
	for i := len(t.shape) - 1; i >= 0; i-- {
		if t.shape[i] != 1 && t.stride[i] != want {
			return false
		}
		want *= t.shape[i]
	}
	return true
}

// Narrow returns a view of t restricted to [start, start+n) along axis.
// The view shares storage with t.
func (t *Tensor) Narrow(axis, start, n int) *Tensor {
	if axis < 0 {
		axis += len(t.shape)
	}
	if axis < 0 || axis >= len(t.shape) {
		panic(fmt.Sprintf("tensor: narrow axis %d out of range for rank %d", axis, len(t.shape)))
	}
	if start < 0 || n < 0 || start+n > t.shape[axis] {
		panic(fmt.Sprintf("tensor: narrow [%d:%d] out of range for dim %d", start, start+n, t.shape[axis]))
	}
	v := &Tensor{
		dtype:  t.dtype,
		shape:  cloneInts(t.shape),
		stride: cloneInts(t.stride),
		off:    t.off + start*t.stride[axis],
		f32:    t.f32,
		u16:    t.u16,
		u32:    t.u32,
		bit:    t.bit,
	}
	v.shape[axis] = n
	return v
}

// Reshape returns a view of t with a new shape. The element count must match
// and t must be contiguous; Contiguous() can be used to force a dense copy
// first.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	if n := checkShape(shape); n != t.Len() {
		panic(fmt.Sprintf("tensor: cannot reshape %v to %v", t.shape, shape))
	}
	if !t.IsContiguous() {
		panic("tensor: reshape of non-contiguous tensor")
	}
	return &Tensor{
		dtype:  t.dtype,
		shape:  cloneInts(shape),
		stride: contiguousStrides(shape),
		off:    t.off,
		f32:    t.f32,
		u16:    t.u16,
		u32:    t.u32,
		bit:    t.bit,
	}
}

// Contiguous returns t itself when already dense, otherwise a dense copy.
func (t *Tensor) Contiguous() *Tensor {
	if t.IsContiguous() && t.off == 0 {
		return t
	}
	dst := New(t.dtype, t.shape...)
	CopyInto(dst, t)
	return dst
}

// Clone returns a dense copy of t that shares no storage with it.
func (t *Tensor) Clone() *Tensor {
	dst := New(t.dtype, t.shape...)
	CopyInto(dst, t)
	return dst
}

func (t *Tensor) index(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor: %d indices for rank %d", len(idx), len(t.shape)))
	}
	p := t.off
	for i, x := range idx {
		p += x * t.stride[i]
	}
	return p
}

// At returns the element at idx as a float32, decoding f16/bf16 inline.
func (t *Tensor) At(idx ...int) float32 {
	p := t.index(idx)
	switch t.dtype {
	case F32:
		return t.f32[p]
	case F16:
		return decodeF16(t.u16[p])
	case BF16:
		return decodeBF16(t.u16[p])
	case U32:
		return float32(t.u32[p])
	default:
		panic("tensor: At on bool tensor")
	}
}

// Set stores a float32 at idx, encoding into the tensor's dtype.
func (t *Tensor) Set(v float32, idx ...int) {
	p := t.index(idx)
	switch t.dtype {
	case F32:
		t.f32[p] = v
	case F16:
		t.u16[p] = encodeF16(v)
	case BF16:
		t.u16[p] = encodeBF16(v)
	case U32:
		t.u32[p] = uint32(v)
	default:
		panic("tensor: Set on bool tensor")
	}
}

// AtBool returns the boolean element at idx.
func (t *Tensor) AtBool(idx ...int) bool { return t.bit[t.index(idx)] }

// SetBool stores a boolean element at idx.
func (t *Tensor) SetBool(v bool, idx ...int) { t.bit[t.index(idx)] = v }

// Row returns the contiguous float32 row selected by the leading indices.
// It requires dtype F32 and a unit stride on the last dimension; the hot
// loops in the quantizer and the attention kernels are written against rows
// to avoid per-element index arithmetic.
func (t *Tensor) Row(idx ...int) []float32 {
	if t.dtype != F32 {
		panic("tensor: Row requires f32")
	}
	p, n := t.rowSpan(idx)
	return t.f32[p : p+n]
}

// RowU32 is Row for uint32 tensors.
func (t *Tensor) RowU32(idx ...int) []uint32 {
	if t.dtype != U32 {
		panic("tensor: RowU32 requires u32")
	}
	p, n := t.rowSpan(idx)
	return t.u32[p : p+n]
}

func (t *Tensor) rowSpan(idx []int) (int, int) {
	last := len(t.shape) - 1
	if len(idx) != last {
		panic(fmt.Sprintf("tensor: %d leading indices for rank %d", len(idx), len(t.shape)))
	}
	if t.stride[last] != 1 {
		panic("tensor: row access requires unit stride on the last dimension")
	}
	p := t.off
	for i, x := range idx {
		if x < 0 || x >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %d out of range for dim %d", x, t.shape[i]))
		}
		p += x * t.stride[i]
	}
	return p, t.shape[last]
}

// Float32s returns the logical elements as a dense float32 slice, decoding
// f16/bf16. The result never aliases tensor storage.
func (t *Tensor) Float32s() []float32 {
	out := make([]float32, t.Len())
	i := 0
	t.each(func(idx []int) {
		out[i] = t.At(idx...)
		i++
	})
	return out
}

// AsType converts t to the given floating dtype, returning t unchanged when
// the dtype already matches. Conversion to or from f16/bf16 is lossy.
func (t *Tensor) AsType(dtype DType) *Tensor {
	if t.dtype == dtype {
		return t
	}
	if !t.dtype.IsFloat() || !dtype.IsFloat() {
		panic(fmt.Sprintf("tensor: cannot convert %s to %s", t.dtype, dtype))
	}
	dst := New(dtype, t.shape...)
	i := 0
	t.each(func(idx []int) {
		switch dtype {
		case F32:
			dst.f32[i] = t.At(idx...)
		case F16:
			dst.u16[i] = encodeF16(t.At(idx...))
		case BF16:
			dst.u16[i] = encodeBF16(t.At(idx...))
		}
		i++
	})
	return dst
}

// each invokes fn for every logical index tuple in row-major order.
func (t *Tensor) each(fn func(idx []int)) {
	if t.Len() == 0 {
		return
	}
	idx := make([]int, len(t.shape))
	for {
		fn(idx)
		i := len(idx) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < t.shape[i] {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return
		}
	}
}

// FillRand fills a float32 tensor with small deterministic values derived
// from seed. Intended for tests and benchmarks.
func FillRand(t *Tensor, seed int64) {
	if t.dtype != F32 {
		panic("tensor: FillRand only supports f32 tensors")
	}
	rng := rand.New(rand.NewSource(seed))
	t.each(func(idx []int) {
		t.f32[t.index(idx)] = rng.Float32() - 0.5
	})
}

func checkShape(shape []int) int {
	n := 1
	for _, d := range shape {
		if d < 0 {
			panic(fmt.Sprintf("tensor: negative dimension in shape %v", shape))
		}
		n *= d
	}
	return n
}

func contiguousStrides(shape []int) []int {
	s := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= shape[i]
	}
	return s
}

func cloneInts(v []int) []int {
	out := make([]int, len(v))
	copy(out, v)
	return out
}
