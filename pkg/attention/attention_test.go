package attention

import (
	"errors"
	"math"
	"testing"

	"github.com/samcharles93/strata/pkg/cache"
	"github.com/samcharles93/strata/pkg/quant"
	"github.com/samcharles93/strata/pkg/tensor"
)

const (
	testGroupSize = 32
	testBits      = 8
	testHeadDim   = 64
)

func randTensor(t *testing.T, seed int64, shape ...int) *tensor.Tensor {
	t.Helper()
	out := tensor.New(tensor.F32, shape...)
	tensor.FillRand(out, seed)
	return out
}

func filledQuantizedCache(t *testing.T, batch, kvHeads, steps int, seed int64) (*cache.QuantizedCache, *tensor.Tensor, *tensor.Tensor) {
	t.Helper()
	c := cache.NewQuantized(testGroupSize, testBits, 8)
	keys := randTensor(t, seed, batch, kvHeads, steps, testHeadDim)
	values := randTensor(t, seed+1, batch, kvHeads, steps, testHeadDim)
	if _, _, err := c.Update(keys, values); err != nil {
		t.Fatalf("Update: %v", err)
	}
	return c, keys, values
}

func compareTensors(t *testing.T, got, want *tensor.Tensor, tol float64) {
	t.Helper()
	g, w := got.Float32s(), want.Float32s()
	if len(g) != len(w) {
		t.Fatalf("length mismatch: %d vs %d", len(g), len(w))
	}
	for i := range g {
		if d := math.Abs(float64(g[i] - w[i])); d > tol {
			t.Fatalf("element %d differs by %v (tol %v)", i, d, tol)
		}
	}
}

// repeatHeads expands [b, kvHeads, s, d] to [b, kvHeads*repeats, s, d] by
// duplicating each head in place, matching the grouped-query head mapping.
func repeatHeads(src *tensor.Tensor, repeats int) *tensor.Tensor {
	shape := src.Shape()
	out := tensor.New(tensor.F32, shape[0], shape[1]*repeats, shape[2], shape[3])
	for b := 0; b < shape[0]; b++ {
		for h := 0; h < shape[1]*repeats; h++ {
			for s := 0; s < shape[2]; s++ {
				copy(out.Row(b, h, s), src.Row(b, h/repeats, s))
			}
		}
	}
	return out
}

func TestPlainSingleKeyReturnsValue(t *testing.T) {
	q := randTensor(t, 1, 1, 2, 1, 8)
	k := randTensor(t, 2, 1, 2, 1, 8)
	v := randTensor(t, 3, 1, 2, 1, 8)

	out, err := Compute(q, k, v, nil, 0.5, None)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	// Softmax over a single position is 1, so the output is exactly V.
	compareTensors(t, out, v, 1e-6)
}

func TestPlainMatchesManualReference(t *testing.T) {
	const (
		qLen  = 2
		kvLen = 3
		d     = 4
	)
	q := randTensor(t, 4, 1, 1, qLen, d)
	k := randTensor(t, 5, 1, 1, kvLen, d)
	v := randTensor(t, 6, 1, 1, kvLen, d)
	scale := float32(1 / math.Sqrt(d))

	out, err := Compute(q, k, v, nil, scale, None)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	for i := 0; i < qLen; i++ {
		logits := make([]float64, kvLen)
		var mx float64 = math.Inf(-1)
		for j := 0; j < kvLen; j++ {
			var s float64
			for e := 0; e < d; e++ {
				s += float64(q.At(0, 0, i, e)) * float64(k.At(0, 0, j, e))
			}
			logits[j] = s * float64(scale)
			if logits[j] > mx {
				mx = logits[j]
			}
		}
		var sum float64
		for j := range logits {
			logits[j] = math.Exp(logits[j] - mx)
			sum += logits[j]
		}
		for e := 0; e < d; e++ {
			var want float64
			for j := 0; j < kvLen; j++ {
				want += logits[j] / sum * float64(v.At(0, 0, j, e))
			}
			if got := float64(out.At(0, 0, i, e)); math.Abs(got-want) > 1e-5 {
				t.Fatalf("out[0,0,%d,%d] = %v, want %v", i, e, got, want)
			}
		}
	}
}

func TestQuantizedMatchesDequantizedReference(t *testing.T) {
	c, _, _ := filledQuantizedCache(t, 1, 2, 6, 31)
	q := randTensor(t, 33, 1, 2, 1, testHeadDim)
	scale := float32(1 / math.Sqrt(testHeadDim))

	got, err := Compute(q, nil, nil, c, scale, None)
	if err != nil {
		t.Fatalf("quantized Compute: %v", err)
	}

	qk, qv, ok := c.QuantizedData()
	if !ok {
		t.Fatal("QuantizedData absent")
	}
	dk, err := quant.Dequantize(qk, testGroupSize, testBits)
	if err != nil {
		t.Fatalf("Dequantize keys: %v", err)
	}
	dv, err := quant.Dequantize(qv, testGroupSize, testBits)
	if err != nil {
		t.Fatalf("Dequantize values: %v", err)
	}
	want, err := Compute(q, dk, dv, nil, scale, None)
	if err != nil {
		t.Fatalf("reference Compute: %v", err)
	}
	compareTensors(t, got, want, 1e-4)
}

func TestGQAEquivalence(t *testing.T) {
	const (
		kvHeads = 2
		repeats = 3
		steps   = 5
	)
	c, _, _ := filledQuantizedCache(t, 1, kvHeads, steps, 41)
	q := randTensor(t, 43, 1, kvHeads*repeats, 1, testHeadDim)
	scale := float32(1 / math.Sqrt(testHeadDim))

	got, err := Compute(q, nil, nil, c, scale, Causal())
	if err != nil {
		t.Fatalf("quantized GQA Compute: %v", err)
	}
	if s := got.Shape(); s[0] != 1 || s[1] != kvHeads*repeats || s[2] != 1 || s[3] != testHeadDim {
		t.Fatalf("unexpected output shape %v", s)
	}

	// Reference: fully dequantize and repeat each kv head, then run the
	// full-precision path.
	qk, qv, _ := c.QuantizedData()
	dk, err := quant.Dequantize(qk, testGroupSize, testBits)
	if err != nil {
		t.Fatalf("Dequantize keys: %v", err)
	}
	dv, err := quant.Dequantize(qv, testGroupSize, testBits)
	if err != nil {
		t.Fatalf("Dequantize values: %v", err)
	}
	want, err := Compute(q, repeatHeads(dk, repeats), repeatHeads(dv, repeats), nil, scale, Causal())
	if err != nil {
		t.Fatalf("reference Compute: %v", err)
	}
	compareTensors(t, got, want, 1e-4)
}

func TestCausalMatchesExplicitBoolMask(t *testing.T) {
	const (
		qLen  = 3
		steps = 7
	)
	c, _, _ := filledQuantizedCache(t, 1, 2, steps, 51)
	q := randTensor(t, 53, 1, 4, qLen, testHeadDim)
	scale := float32(1 / math.Sqrt(testHeadDim))

	causal, err := Compute(q, nil, nil, c, scale, Causal())
	if err != nil {
		t.Fatalf("causal Compute: %v", err)
	}
	explicit, err := Compute(q, nil, nil, c, scale, Array(CausalMask(qLen, steps)))
	if err != nil {
		t.Fatalf("explicit Compute: %v", err)
	}
	compareTensors(t, causal, explicit, 0)
}

func TestCausalWithMoreQueriesThanKeys(t *testing.T) {
	q := randTensor(t, 57, 1, 1, 3, 8)
	k := randTensor(t, 58, 1, 1, 1, 8)
	v := randTensor(t, 59, 1, 1, 1, 8)

	out, err := Compute(q, k, v, nil, 1, Causal())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	// A single key position leaves each query with exactly one score, masked
	// or not, so every output row is the value row.
	vrow := v.Row(0, 0, 0)
	for i := 0; i < 3; i++ {
		orow := out.Row(0, 0, i)
		for j := range orow {
			if d := math.Abs(float64(orow[j] - vrow[j])); d > 1e-6 {
				t.Fatalf("query %d element %d differs by %v", i, j, d)
			}
		}
	}
}

func TestAdditiveMask(t *testing.T) {
	q := randTensor(t, 61, 1, 1, 1, 8)
	k := randTensor(t, 62, 1, 1, 3, 8)
	v := randTensor(t, 63, 1, 1, 3, 8)

	// Push all probability mass to position 1.
	add := tensor.New(tensor.F32, 1, 3)
	add.Set(-1e9, 0, 0)
	add.Set(-1e9, 0, 2)

	out, err := Compute(q, k, v, nil, 1, Array(add))
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	want := v.Narrow(2, 1, 1)
	compareTensors(t, out, want.Contiguous(), 1e-6)
}

func TestBoolMaskSubstitutesMinValue(t *testing.T) {
	c, _, values := filledQuantizedCache(t, 1, 1, 4, 71)
	q := randTensor(t, 73, 1, 1, 1, testHeadDim)

	// Only position 2 is visible.
	m := tensor.New(tensor.Bool, 1, 4)
	m.SetBool(true, 0, 2)

	out, err := Compute(q, nil, nil, c, 1, Array(m))
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	want := values.Narrow(2, 2, 1).Contiguous()
	compareTensors(t, out, want, 0.01)
}

func TestMultipleMasksUnsupportedInQuantizedPath(t *testing.T) {
	c, _, _ := filledQuantizedCache(t, 1, 1, 4, 81)
	q := randTensor(t, 83, 1, 1, 1, testHeadDim)

	m1 := CausalMask(1, 4)
	m2 := CausalMask(1, 4)
	_, err := Compute(q, nil, nil, c, 1, Arrays(m1, m2))
	if !errors.Is(err, ErrMultipleMasks) {
		t.Fatalf("Compute error = %v, want ErrMultipleMasks", err)
	}
}

func TestHeadCountMismatch(t *testing.T) {
	q := randTensor(t, 91, 1, 3, 1, 8)
	k := randTensor(t, 92, 1, 2, 1, 8)
	v := randTensor(t, 93, 1, 2, 1, 8)
	if _, err := Compute(q, k, v, nil, 1, None); !errors.Is(err, ErrHeads) {
		t.Fatalf("Compute error = %v, want ErrHeads", err)
	}
}

func TestMaskShapeError(t *testing.T) {
	q := randTensor(t, 94, 1, 1, 2, 8)
	k := randTensor(t, 95, 1, 1, 3, 8)
	v := randTensor(t, 96, 1, 1, 3, 8)
	bad := tensor.New(tensor.Bool, 5, 5)
	if _, err := Compute(q, k, v, nil, 1, Array(bad)); !errors.Is(err, ErrMaskShape) {
		t.Fatalf("Compute error = %v, want ErrMaskShape", err)
	}
}

func TestPlainCacheThroughOperator(t *testing.T) {
	pc := cache.NewPlain(4)
	keys := randTensor(t, 97, 1, 2, 3, 16)
	values := randTensor(t, 98, 1, 2, 3, 16)
	ks, vs, err := pc.Update(keys, values)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	out, err := Compute(randTensor(t, 99, 1, 4, 1, 16), ks, vs, pc, 0.25, Causal())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if s := out.Shape(); s[0] != 1 || s[1] != 4 || s[2] != 1 || s[3] != 16 {
		t.Fatalf("unexpected output shape %v", s)
	}
}
