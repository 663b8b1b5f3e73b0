// Package attention implements scaled dot-product attention over cache
// variants. The operator dispatches on the concrete cache type: a quantized
// cache is consumed directly in its quantized representation, everything
// else takes the full-precision path. Grouped-query attention (more query
// heads than key/value heads) is supported by both paths.
package attention

import (
	"errors"
	"fmt"
	"math"

	"github.com/samcharles93/strata/pkg/cache"
	"github.com/samcharles93/strata/pkg/tensor"
)

// ErrHeads is returned when the query head count is not a multiple of the
// key/value head count.
var ErrHeads = errors.New("attention: query heads not a multiple of kv heads")

// Compute returns softmax(scale*Q*K^T + mask)*V for queries of shape
// [batch, qHeads, qLen, headDim].
//
// When c is a *cache.QuantizedCache holding data, keys and values are read
// from its quantized blocks and the supplied keys/values tensors are ignored;
// otherwise keys/values (shape [batch, kvHeads, kvLen, headDim], typically
// the tensors returned by cache.Update) are used at full precision. The
// output has the queries' dtype and shape [batch, qHeads, qLen, vHeadDim].
func Compute(queries, keys, values *tensor.Tensor, c cache.Cache, scale float32, mask Mask) (*tensor.Tensor, error) {
	if qc, ok := c.(*cache.QuantizedCache); ok {
		if qkeys, qvalues, ok := qc.QuantizedData(); ok {
			return computeQuantized(queries, qkeys, qvalues, qc.GroupSize(), qc.Bits(), scale, mask)
		}
	}
	return computePlain(queries, keys, values, scale, mask)
}

func computePlain(queries, keys, values *tensor.Tensor, scale float32, mask Mask) (*tensor.Tensor, error) {
	b, qHeads, qLen := queries.Dim(0), queries.Dim(1), queries.Dim(2)
	kvHeads, kvLen := keys.Dim(1), keys.Dim(2)
	vDim := values.Dim(3)
	if qHeads%kvHeads != 0 {
		return nil, fmt.Errorf("%w: %d vs %d", ErrHeads, qHeads, kvHeads)
	}
	repeats := qHeads / kvHeads

	minVal := queries.DType().MinValue()
	q := asF32(queries)
	k := asF32(keys)
	v := asF32(values)

	scores := make([]float32, b*qHeads*qLen*kvLen)
	p := 0
	for bi := 0; bi < b; bi++ {
		for h := 0; h < qHeads; h++ {
			kvh := h / repeats
			for i := 0; i < qLen; i++ {
				qrow := q.Row(bi, h, i)
				for j := 0; j < kvLen; j++ {
					scores[p] = scale * dot(qrow, k.Row(bi, kvh, j))
					p++
				}
			}
		}
	}

	if err := mask.apply(scores, b, qHeads, qLen, kvLen, minVal); err != nil {
		return nil, err
	}
	softmaxRows(scores, kvLen)

	out := tensor.New(tensor.F32, b, qHeads, qLen, vDim)
	p = 0
	for bi := 0; bi < b; bi++ {
		for h := 0; h < qHeads; h++ {
			kvh := h / repeats
			for i := 0; i < qLen; i++ {
				orow := out.Row(bi, h, i)
				for j := 0; j < kvLen; j++ {
					axpy(scores[p], v.Row(bi, kvh, j), orow)
					p++
				}
			}
		}
	}
	if queries.DType() != tensor.F32 {
		return out.AsType(queries.DType()), nil
	}
	return out, nil
}

func asF32(t *tensor.Tensor) *tensor.Tensor {
	if t.DType() == tensor.F32 {
		return t
	}
	return t.AsType(tensor.F32)
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// axpy adds alpha*x to y in place.
func axpy(alpha float32, x, y []float32) {
	if alpha == 0 {
		return
	}
	for i := range y {
		y[i] += alpha * x[i]
	}
}

// softmaxRows applies a numerically stable softmax to each rowLen-sized row,
// accumulating the normaliser in float64.
func softmaxRows(s []float32, rowLen int) {
	for base := 0; base < len(s); base += rowLen {
		row := s[base : base+rowLen]
		mx := row[0]
		for _, v := range row[1:] {
			if v > mx {
				mx = v
			}
		}
		var sum float64
		for i, v := range row {
			e := math.Exp(float64(v - mx))
			row[i] = float32(e)
			sum += e
		}
		inv := float32(1 / sum)
		for i := range row {
			row[i] *= inv
		}
	}
}
