package attention

import (
	"fmt"

	"github.com/samcharles93/strata/pkg/quant"
	"github.com/samcharles93/strata/pkg/tensor"
)

// computeQuantized evaluates attention directly against group-quantized key
// and value blocks, without materialising dequantized tensors.
//
// With grouped-query attention, query head h reads key/value head h/repeats.
// This is the loop form of reshaping the queries to [batch, kvHeads, repeats,
// qLen, headDim] and broadcasting the quantized metadata along the repeat
// axis: only the packed codes and per-group scale/bias are ever touched.
func computeQuantized(queries *tensor.Tensor, qkeys, qvalues quant.Block, groupSize, bits int, scale float32, mask Mask) (*tensor.Tensor, error) {
	b, qHeads, qLen, d := queries.Dim(0), queries.Dim(1), queries.Dim(2), queries.Dim(3)
	kvHeads, kvLen := qkeys.Codes.Dim(1), qkeys.Codes.Dim(2)
	if qHeads%kvHeads != 0 {
		return nil, fmt.Errorf("%w: %d vs %d", ErrHeads, qHeads, kvHeads)
	}
	repeats := qHeads / kvHeads

	perWord := 32 / bits
	codeMask := uint32(1)<<bits - 1
	vDim := qvalues.Codes.Dim(3) * perWord
	groups := d / groupSize
	vGroups := vDim / groupSize

	minVal := queries.DType().MinValue()
	q := asF32(queries)

	// Scores via quantized matmul, transposed: for each key row the affine
	// reconstruction distributes over the dot product, so
	// dot(q, deq(k)) = sum_g scale_g*dot(q_g, codes_g) + bias_g*sum(q_g).
	scores := make([]float32, b*qHeads*qLen*kvLen)
	qScaled := make([]float32, d)
	qGroupSums := make([]float32, groups)
	p := 0
	for bi := 0; bi < b; bi++ {
		for h := 0; h < qHeads; h++ {
			kvh := h / repeats
			for i := 0; i < qLen; i++ {
				qrow := q.Row(bi, h, i)
				for g := 0; g < groups; g++ {
					var sum float32
					base := g * groupSize
					for t := 0; t < groupSize; t++ {
						v := qrow[base+t] * scale
						qScaled[base+t] = v
						sum += v
					}
					qGroupSums[g] = sum
				}
				for j := 0; j < kvLen; j++ {
					cw := qkeys.Codes.RowU32(bi, kvh, j)
					sc := qkeys.Scales.Row(bi, kvh, j)
					bs := qkeys.Biases.Row(bi, kvh, j)
					var acc float32
					for g := 0; g < groups; g++ {
						var dg float32
						base := g * groupSize
						for t := 0; t < groupSize; t++ {
							e := base + t
							code := (cw[e/perWord] >> (uint(e%perWord) * uint(bits))) & codeMask
							dg += qScaled[e] * float32(code)
						}
						acc += sc[g]*dg + bs[g]*qGroupSums[g]
					}
					scores[p] = acc
					p++
				}
			}
		}
	}

	if err := mask.apply(scores, b, qHeads, qLen, kvLen, minVal); err != nil {
		return nil, err
	}
	softmaxRows(scores, kvLen)

	// Output via the second quantized matmul, not transposed: accumulate
	// prob*scale into the code sum per group and fold the bias through the
	// probability mass.
	out := tensor.New(tensor.F32, b, qHeads, qLen, vDim)
	p = 0
	for bi := 0; bi < b; bi++ {
		for h := 0; h < qHeads; h++ {
			kvh := h / repeats
			for i := 0; i < qLen; i++ {
				orow := out.Row(bi, h, i)
				for j := 0; j < kvLen; j++ {
					prob := scores[p]
					p++
					if prob == 0 {
						continue
					}
					cw := qvalues.Codes.RowU32(bi, kvh, j)
					sc := qvalues.Scales.Row(bi, kvh, j)
					bs := qvalues.Biases.Row(bi, kvh, j)
					for g := 0; g < vGroups; g++ {
						ps := prob * sc[g]
						pb := prob * bs[g]
						base := g * groupSize
						for t := 0; t < groupSize; t++ {
							e := base + t
							code := (cw[e/perWord] >> (uint(e%perWord) * uint(bits))) & codeMask
							orow[e] += ps*float32(code) + pb
						}
					}
				}
			}
		}
	}
	if queries.DType() != tensor.F32 {
		return out.AsType(queries.DType()), nil
	}
	return out, nil
}
