// Package quant implements group-affine quantization for cache tensors.
// Values are quantized along the last dimension in fixed-size groups; each
// group stores a float32 scale and bias so that code*scale + bias
// reconstructs the original value. Codes are packed 32/bits to a uint32 word.
package quant

import (
	"errors"
	"fmt"
	"math"

	"github.com/samcharles93/strata/pkg/tensor"
)

var (
	// ErrBits is returned for bit widths that cannot pack evenly into a
	// 32-bit word.
	ErrBits = errors.New("quant: unsupported bit width")
	// ErrGroupSize is returned when the last dimension is not divisible by
	// the group size.
	ErrGroupSize = errors.New("quant: last dimension not divisible by group size")
	// ErrPacking is returned when the last dimension is not divisible by the
	// number of codes per 32-bit word.
	ErrPacking = errors.New("quant: last dimension not divisible by codes per word")
)

// Block is a group-quantized tensor: packed integer codes plus per-group
// scale and bias. The leading dimensions of all three tensors agree; the
// last dimension of Codes is n/(32/bits) and of Scales/Biases n/groupSize,
// where n is the last dimension of the source tensor.
type Block struct {
	Codes  *tensor.Tensor // u32
	Scales *tensor.Tensor // f32
	Biases *tensor.Tensor // f32
}

// Narrow returns a view of the block restricted to [start, start+n) along
// axis, which must be a leading (non-last) dimension.
func (b Block) Narrow(axis, start, n int) Block {
	return Block{
		Codes:  b.Codes.Narrow(axis, start, n),
		Scales: b.Scales.Narrow(axis, start, n),
		Biases: b.Biases.Narrow(axis, start, n),
	}
}

// Tensors returns the three underlying tensors in codes, scales, biases
// order.
func (b Block) Tensors() []*tensor.Tensor {
	return []*tensor.Tensor{b.Codes, b.Scales, b.Biases}
}

// Dim returns the size of dimension i of the block's logical shape (the
// leading dimensions, which all three tensors share). Negative i counts from
// the end of the leading dimensions.
func (b Block) Dim(i int) int {
	lead := b.Codes.Rank() - 1
	if i < 0 {
		i += lead
	}
	return b.Codes.Dim(i)
}

// validate checks the divisibility preconditions shared by Quantize and
// Dequantize and returns the number of codes packed per uint32 word.
func validate(lastDim, groupSize, bits int) (int, error) {
	switch bits {
	case 2, 4, 8:
	default:
		return 0, fmt.Errorf("%w: %d", ErrBits, bits)
	}
	if groupSize <= 0 || lastDim%groupSize != 0 {
		return 0, fmt.Errorf("%w: %d %% %d != 0", ErrGroupSize, lastDim, groupSize)
	}
	perWord := 32 / bits
	if lastDim%perWord != 0 {
		return 0, fmt.Errorf("%w: %d %% %d != 0", ErrPacking, lastDim, perWord)
	}
	return perWord, nil
}

// Quantize compresses a floating-point tensor into a Block. The last
// dimension must be divisible by groupSize and by 32/bits.
func Quantize(t *tensor.Tensor, groupSize, bits int) (Block, error) {
	shape := t.Shape()
	if len(shape) == 0 {
		return Block{}, fmt.Errorf("%w: scalar input", ErrGroupSize)
	}
	d := shape[len(shape)-1]
	perWord, err := validate(d, groupSize, bits)
	if err != nil {
		return Block{}, err
	}
	if t.DType() != tensor.F32 {
		t = t.AsType(tensor.F32)
	}

	lead := shape[:len(shape)-1]
	codes := tensor.New(tensor.U32, append(cloneInts(lead), d/perWord)...)
	scales := tensor.New(tensor.F32, append(cloneInts(lead), d/groupSize)...)
	biases := tensor.New(tensor.F32, append(cloneInts(lead), d/groupSize)...)

	maxQ := float32(int(1)<<bits - 1)
	eachLead(lead, func(idx []int) {
		row := t.Row(idx...)
		cw := codes.RowU32(idx...)
		sc := scales.Row(idx...)
		bs := biases.Row(idx...)
		for g := 0; g < d/groupSize; g++ {
			seg := row[g*groupSize : (g+1)*groupSize]
			mn, mx := seg[0], seg[0]
			for _, v := range seg[1:] {
				if v < mn {
					mn = v
				}
				if v > mx {
					mx = v
				}
			}
			scale := (mx - mn) / maxQ
			sc[g] = scale
			bs[g] = mn
			base := g * groupSize
			for i, v := range seg {
				var q uint32
				if scale != 0 {
					f := (v - mn) / scale
					q = uint32(math.RoundToEven(float64(f)))
					if q > uint32(maxQ) {
						q = uint32(maxQ)
					}
				}
				j := base + i
				cw[j/perWord] |= q << (uint(j%perWord) * uint(bits))
			}
		}
	})

	return Block{Codes: codes, Scales: scales, Biases: biases}, nil
}

// Dequantize reconstructs a float32 tensor from a Block. It is the inverse
// of Quantize up to the rounding error introduced by the code width.
func Dequantize(b Block, groupSize, bits int) (*tensor.Tensor, error) {
	cshape := b.Codes.Shape()
	if len(cshape) == 0 {
		return nil, fmt.Errorf("%w: scalar codes", ErrGroupSize)
	}
	perWord := 32 / bits
	d := cshape[len(cshape)-1] * perWord
	if _, err := validate(d, groupSize, bits); err != nil {
		return nil, err
	}

	lead := cshape[:len(cshape)-1]
	out := tensor.New(tensor.F32, append(cloneInts(lead), d)...)
	mask := uint32(1)<<bits - 1
	eachLead(lead, func(idx []int) {
		cw := b.Codes.RowU32(idx...)
		sc := b.Scales.Row(idx...)
		bs := b.Biases.Row(idx...)
		row := out.Row(idx...)
		for j := range row {
			q := (cw[j/perWord] >> (uint(j%perWord) * uint(bits))) & mask
			g := j / groupSize
			row[j] = float32(q)*sc[g] + bs[g]
		}
	})
	return out, nil
}

// eachLead invokes fn for every index tuple over the leading dimensions.
func eachLead(lead []int, fn func(idx []int)) {
	for _, d := range lead {
		if d == 0 {
			return
		}
	}
	idx := make([]int, len(lead))
	for {
		fn(idx)
		i := len(idx) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < lead[i] {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return
		}
	}
}

func cloneInts(v []int) []int {
	out := make([]int, len(v))
	copy(out, v)
	return out
}
