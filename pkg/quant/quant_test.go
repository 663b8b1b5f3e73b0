package quant

import (
	"errors"
	"math"
	"testing"

	"github.com/samcharles93/strata/pkg/tensor"
)

func maxAbsError(t *testing.T, a, b *tensor.Tensor) float64 {
	t.Helper()
	av, bv := a.Float32s(), b.Float32s()
	if len(av) != len(bv) {
		t.Fatalf("length mismatch: %d vs %d", len(av), len(bv))
	}
	var worst float64
	for i := range av {
		if d := math.Abs(float64(av[i] - bv[i])); d > worst {
			worst = d
		}
	}
	return worst
}

func TestRoundTripErrorShrinksWithBits(t *testing.T) {
	src := tensor.New(tensor.F32, 1, 2, 5, 64)
	tensor.FillRand(src, 17)

	var prev float64 = math.Inf(1)
	for _, bits := range []int{2, 4, 8} {
		blk, err := Quantize(src, 32, bits)
		if err != nil {
			t.Fatalf("Quantize bits=%d: %v", bits, err)
		}
		back, err := Dequantize(blk, 32, bits)
		if err != nil {
			t.Fatalf("Dequantize bits=%d: %v", bits, err)
		}
		worst := maxAbsError(t, src, back)
		if worst > prev {
			t.Fatalf("error grew with more bits: %v bits gave %v, previous %v", bits, worst, prev)
		}
		// Group range is at most 1 (values in [-0.5, 0.5)); half a quantization
		// step plus rounding slack bounds the error.
		bound := 1.0/float64(int(1)<<bits-1) + 1e-6
		if worst > bound {
			t.Fatalf("bits=%d error %v exceeds bound %v", bits, worst, bound)
		}
		prev = worst
	}
}

func TestBlockShapes(t *testing.T) {
	src := tensor.New(tensor.F32, 2, 3, 4, 64)
	blk, err := Quantize(src, 32, 4)
	if err != nil {
		t.Fatalf("Quantize: %v", err)
	}

	if got := blk.Codes.Shape(); got[3] != 64/8 { // 8 codes per word at 4 bits
		t.Fatalf("codes last dim = %d, want %d", got[3], 64/8)
	}
	if got := blk.Scales.Shape(); got[3] != 64/32 {
		t.Fatalf("scales last dim = %d, want %d", got[3], 64/32)
	}
	if got := blk.Biases.Shape(); got[3] != 64/32 {
		t.Fatalf("biases last dim = %d, want %d", got[3], 64/32)
	}
	for i := 0; i < 3; i++ {
		if blk.Codes.Dim(i) != src.Dim(i) || blk.Scales.Dim(i) != src.Dim(i) {
			t.Fatalf("leading dims differ from source at dim %d", i)
		}
	}
}

func TestConstantGroupQuantizesExactly(t *testing.T) {
	src := tensor.New(tensor.F32, 1, 8)
	for i := 0; i < 8; i++ {
		src.Set(3.25, 0, i)
	}
	blk, err := Quantize(src, 8, 8)
	if err != nil {
		t.Fatalf("Quantize: %v", err)
	}
	if got := blk.Scales.At(0, 0); got != 0 {
		t.Fatalf("scale = %v, want 0 for constant group", got)
	}
	if got := blk.Biases.At(0, 0); got != 3.25 {
		t.Fatalf("bias = %v, want 3.25", got)
	}
	back, err := Dequantize(blk, 8, 8)
	if err != nil {
		t.Fatalf("Dequantize: %v", err)
	}
	if got := back.At(0, 3); got != 3.25 {
		t.Fatalf("dequantized constant = %v, want 3.25", got)
	}
}

func TestQuantizePreconditions(t *testing.T) {
	cases := []struct {
		name      string
		lastDim   int
		groupSize int
		bits      int
		want      error
	}{
		{"bad bits", 64, 32, 3, ErrBits},
		{"group size", 48, 32, 8, ErrGroupSize},
		{"packing", 8, 8, 2, ErrPacking},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := tensor.New(tensor.F32, 2, tc.lastDim)
			_, err := Quantize(src, tc.groupSize, tc.bits)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Quantize error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestDequantizeNarrowedBlock(t *testing.T) {
	src := tensor.New(tensor.F32, 1, 2, 6, 32)
	tensor.FillRand(src, 23)
	blk, err := Quantize(src, 32, 8)
	if err != nil {
		t.Fatalf("Quantize: %v", err)
	}

	back, err := Dequantize(blk.Narrow(2, 1, 3), 32, 8)
	if err != nil {
		t.Fatalf("Dequantize: %v", err)
	}
	want, err := Dequantize(blk, 32, 8)
	if err != nil {
		t.Fatalf("Dequantize full: %v", err)
	}
	for h := 0; h < 2; h++ {
		for s := 0; s < 3; s++ {
			for d := 0; d < 32; d++ {
				if got, exp := back.At(0, h, s, d), want.At(0, h, 1+s, d); got != exp {
					t.Fatalf("narrowed dequant mismatch at [0,%d,%d,%d]: %v vs %v", h, s, d, got, exp)
				}
			}
		}
	}
}

func TestQuantizeHalfPrecisionInput(t *testing.T) {
	src := tensor.New(tensor.F32, 1, 1, 2, 32)
	tensor.FillRand(src, 31)
	half := src.AsType(tensor.F16)

	blk, err := Quantize(half, 32, 8)
	if err != nil {
		t.Fatalf("Quantize f16: %v", err)
	}
	back, err := Dequantize(blk, 32, 8)
	if err != nil {
		t.Fatalf("Dequantize: %v", err)
	}
	if worst := maxAbsError(t, src, back); worst > 0.01 {
		t.Fatalf("f16 round trip error %v too large", worst)
	}
}
