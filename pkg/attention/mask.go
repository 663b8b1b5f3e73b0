package attention

import (
	"errors"
	"fmt"

	"github.com/samcharles93/strata/pkg/tensor"
)

var (
	// ErrMultipleMasks is returned when more than one mask array is supplied.
	// The quantized code path cannot apply per-variant masks; callers must
	// restructure the mask rather than retry.
	ErrMultipleMasks = errors.New("attention: multiple mask arrays are not supported")
	// ErrMaskShape is returned when a mask array cannot broadcast against the
	// score tensor.
	ErrMaskShape = errors.New("attention: mask shape does not broadcast against scores")
)

type maskKind int

const (
	maskNone maskKind = iota
	maskCausal
	maskArrays
)

// Mask selects the masking policy applied to attention scores before
// softmax. The zero value applies no mask.
type Mask struct {
	kind   maskKind
	arrays []*tensor.Tensor
}

// None is the empty mask.
var None = Mask{}

// Causal masks each query position so it attends only to key positions at or
// before its own absolute position. When queries are a suffix of a longer key
// sequence, query i maps to absolute position i + (keyLen - queryLen).
func Causal() Mask { return Mask{kind: maskCausal} }

// Array masks scores with an explicit tensor. A bool tensor marks allowed
// positions; disallowed scores are replaced with the minimum representable
// value of the score dtype. A float tensor is added to the scores.
func Array(m *tensor.Tensor) Mask { return Mask{kind: maskArrays, arrays: []*tensor.Tensor{m}} }

// Arrays builds a mask from several arrays. More than one array is rejected
// by Compute; the constructor exists so callers can pass a batch through and
// get a well-defined error instead of silently using only the first.
func Arrays(ms ...*tensor.Tensor) Mask {
	if len(ms) == 0 {
		return None
	}
	return Mask{kind: maskArrays, arrays: ms}
}

// CausalMask materialises the boolean mask Causal() implies for a given
// query/key length pair: shape [qLen, kLen], true where key j is visible to
// query i, i.e. j <= i + (kLen - qLen).
func CausalMask(qLen, kLen int) *tensor.Tensor {
	m := tensor.New(tensor.Bool, qLen, kLen)
	off := kLen - qLen
	for i := 0; i < qLen; i++ {
		for j := 0; j <= i+off && j < kLen; j++ {
			m.SetBool(true, i, j)
		}
	}
	return m
}

// apply mutates the flat [b, h, l, s] score slice in place. minVal is the
// minimum representable value of the score dtype; causal and boolean masks
// substitute it rather than adding -Inf, which would overflow the quantized
// dynamic range.
func (m Mask) apply(scores []float32, b, h, l, s int, minVal float32) error {
	switch m.kind {
	case maskNone:
		return nil
	case maskCausal:
		// off goes negative when there are more queries than keys; queries
		// before the first key position get a fully masked row.
		off := s - l
		for bi := 0; bi < b*h; bi++ {
			base := bi * l * s
			for i := 0; i < l; i++ {
				row := scores[base+i*s : base+(i+1)*s]
				for j := max(i+off+1, 0); j < s; j++ {
					row[j] = minVal
				}
			}
		}
		return nil
	case maskArrays:
		if len(m.arrays) != 1 {
			return fmt.Errorf("%w: got %d arrays", ErrMultipleMasks, len(m.arrays))
		}
		return applyArray(scores, m.arrays[0], b, h, l, s, minVal)
	default:
		return fmt.Errorf("attention: unknown mask kind %d", m.kind)
	}
}

func applyArray(scores []float32, arr *tensor.Tensor, b, h, l, s int, minVal float32) error {
	idx, err := broadcaster(arr, b, h, l, s)
	if err != nil {
		return err
	}
	boolean := arr.DType() == tensor.Bool
	p := 0
	for bi := 0; bi < b; bi++ {
		for hi := 0; hi < h; hi++ {
			for i := 0; i < l; i++ {
				for j := 0; j < s; j++ {
					mi := idx(bi, hi, i, j)
					if boolean {
						if !arr.AtBool(mi...) {
							scores[p] = minVal
						}
					} else {
						scores[p] += arr.At(mi...)
					}
					p++
				}
			}
		}
	}
	return nil
}

// broadcaster maps score coordinates to mask indices, right-aligning the
// mask's dimensions and broadcasting size-1 dimensions.
func broadcaster(arr *tensor.Tensor, b, h, l, s int) (func(bi, hi, i, j int) []int, error) {
	shape := arr.Shape()
	r := len(shape)
	if r < 2 || r > 4 {
		return nil, fmt.Errorf("%w: mask rank %d", ErrMaskShape, r)
	}
	full := [4]int{b, h, l, s}
	for k := 0; k < r; k++ {
		want := full[4-r+k]
		if shape[k] != 1 && shape[k] != want {
			return nil, fmt.Errorf("%w: mask %v vs scores [%d %d %d %d]", ErrMaskShape, shape, b, h, l, s)
		}
	}
	idx := make([]int, r)
	return func(bi, hi, i, j int) []int {
		coord := [4]int{bi, hi, i, j}
		for k := 0; k < r; k++ {
			if shape[k] == 1 {
				idx[k] = 0
			} else {
				idx[k] = coord[4-r+k]
			}
		}
		return idx
	}, nil
}
