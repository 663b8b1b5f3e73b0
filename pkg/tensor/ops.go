package tensor

import "fmt"

// CopyInto copies the elements of src into dst. Shapes and dtypes must match
// exactly; dst may be a view into a larger tensor.
func CopyInto(dst, src *Tensor) {
	if dst.dtype != src.dtype {
		panic(fmt.Sprintf("tensor: copy between dtypes %s and %s", dst.dtype, src.dtype))
	}
	if !sameShape(dst.shape, src.shape) {
		panic(fmt.Sprintf("tensor: copy between shapes %v and %v", dst.shape, src.shape))
	}
	if dst.Len() == 0 {
		return
	}
	last := len(dst.shape) - 1
	if last >= 0 && dst.stride[last] == 1 && src.stride[last] == 1 {
		copyRows(dst, src)
		return
	}
	src.each(func(idx []int) {
		p, q := dst.index(idx), src.index(idx)
		switch dst.dtype {
		case F32:
			dst.f32[p] = src.f32[q]
		case F16, BF16:
			dst.u16[p] = src.u16[q]
		case U32:
			dst.u32[p] = src.u32[q]
		case Bool:
			dst.bit[p] = src.bit[q]
		}
	})
}

// copyRows copies row by row when both tensors have dense last dimensions.
func copyRows(dst, src *Tensor) {
	last := len(dst.shape) - 1
	n := dst.shape[last]
	lead := make([]int, last)
	for {
		p := dst.off
		q := src.off
		for i, x := range lead {
			p += x * dst.stride[i]
			q += x * src.stride[i]
		}
		switch dst.dtype {
		case F32:
			copy(dst.f32[p:p+n], src.f32[q:q+n])
		case F16, BF16:
			copy(dst.u16[p:p+n], src.u16[q:q+n])
		case U32:
			copy(dst.u32[p:p+n], src.u32[q:q+n])
		case Bool:
			copy(dst.bit[p:p+n], src.bit[q:q+n])
		}
		i := last - 1
		for ; i >= 0; i-- {
			lead[i]++
			if lead[i] < dst.shape[i] {
				break
			}
			lead[i] = 0
		}
		if i < 0 {
			return
		}
	}
}

// Concat concatenates a and b along axis into a freshly allocated tensor.
// All other dimensions must agree.
func Concat(axis int, a, b *Tensor) *Tensor {
	if a.dtype != b.dtype {
		panic(fmt.Sprintf("tensor: concat between dtypes %s and %s", a.dtype, b.dtype))
	}
	if axis < 0 {
		axis += len(a.shape)
	}
	if len(a.shape) != len(b.shape) {
		panic(fmt.Sprintf("tensor: concat between ranks %d and %d", len(a.shape), len(b.shape)))
	}
	for i := range a.shape {
		if i != axis && a.shape[i] != b.shape[i] {
			panic(fmt.Sprintf("tensor: concat shape mismatch at dim %d: %v vs %v", i, a.shape, b.shape))
		}
	}
	shape := cloneInts(a.shape)
	shape[axis] = a.shape[axis] + b.shape[axis]
	out := New(a.dtype, shape...)
	CopyInto(out.Narrow(axis, 0, a.shape[axis]), a)
	CopyInto(out.Narrow(axis, a.shape[axis], b.shape[axis]), b)
	return out
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
