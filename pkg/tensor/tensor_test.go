package tensor

import (
	"math"
	"testing"
)

func TestNarrowSharesStorage(t *testing.T) {
	buf := New(F32, 2, 3, 8, 4)
	view := buf.Narrow(2, 2, 3)

	if got := view.Shape(); got[0] != 2 || got[1] != 3 || got[2] != 3 || got[3] != 4 {
		t.Fatalf("unexpected view shape %v", got)
	}

	buf.Set(7.5, 1, 2, 3, 1)
	if got := view.At(1, 2, 1, 1); got != 7.5 {
		t.Fatalf("view did not observe parent mutation: got %v", got)
	}

	view.Set(-2, 0, 0, 0, 0)
	if got := buf.At(0, 0, 2, 0); got != -2 {
		t.Fatalf("parent did not observe view mutation: got %v", got)
	}
}

func TestRowOnNarrowedView(t *testing.T) {
	buf := New(F32, 1, 2, 4, 3)
	FillRand(buf, 42)
	view := buf.Narrow(2, 1, 2)

	row := view.Row(0, 1, 1)
	for i := range row {
		if want := buf.At(0, 1, 2, i); row[i] != want {
			t.Fatalf("row[%d] = %v, want %v", i, row[i], want)
		}
	}
}

func TestConcatAlongSequenceAxis(t *testing.T) {
	a := New(F32, 1, 2, 2, 3)
	b := New(F32, 1, 2, 4, 3)
	FillRand(a, 1)
	FillRand(b, 2)

	out := Concat(2, a, b)
	if got := out.Dim(2); got != 6 {
		t.Fatalf("concat dim = %d, want 6", got)
	}
	for h := 0; h < 2; h++ {
		for s := 0; s < 6; s++ {
			for d := 0; d < 3; d++ {
				var want float32
				if s < 2 {
					want = a.At(0, h, s, d)
				} else {
					want = b.At(0, h, s-2, d)
				}
				if got := out.At(0, h, s, d); got != want {
					t.Fatalf("out[0,%d,%d,%d] = %v, want %v", h, s, d, got, want)
				}
			}
		}
	}
}

func TestConcatOfStridedView(t *testing.T) {
	parent := New(F32, 1, 1, 4, 2)
	FillRand(parent, 3)
	head := parent.Narrow(2, 0, 3) // non-contiguous prefix is fine
	ext := New(F32, 1, 1, 2, 2)

	out := Concat(2, head, ext)
	if got := out.Dim(2); got != 5 {
		t.Fatalf("concat dim = %d, want 5", got)
	}
	for s := 0; s < 3; s++ {
		for d := 0; d < 2; d++ {
			if got, want := out.At(0, 0, s, d), parent.At(0, 0, s, d); got != want {
				t.Fatalf("out[0,0,%d,%d] = %v, want %v", s, d, got, want)
			}
		}
	}
	for s := 3; s < 5; s++ {
		for d := 0; d < 2; d++ {
			if got := out.At(0, 0, s, d); got != 0 {
				t.Fatalf("extension not zeroed at [0,0,%d,%d]: %v", s, d, got)
			}
		}
	}
}

func TestCopyIntoStridedDestination(t *testing.T) {
	dst := New(F32, 1, 2, 8, 4)
	src := New(F32, 1, 2, 2, 4)
	FillRand(src, 9)

	CopyInto(dst.Narrow(2, 3, 2), src)
	for h := 0; h < 2; h++ {
		for s := 0; s < 2; s++ {
			for d := 0; d < 4; d++ {
				if got, want := dst.At(0, h, 3+s, d), src.At(0, h, s, d); got != want {
					t.Fatalf("dst[0,%d,%d,%d] = %v, want %v", h, 3+s, d, got, want)
				}
			}
		}
	}
	// Neighbouring timesteps must be untouched.
	if got := dst.At(0, 0, 2, 0); got != 0 {
		t.Fatalf("copy spilled before the destination window: %v", got)
	}
	if got := dst.At(0, 0, 5, 0); got != 0 {
		t.Fatalf("copy spilled past the destination window: %v", got)
	}
}

func TestReshapeContiguous(t *testing.T) {
	a := New(F32, 2, 3, 4)
	FillRand(a, 5)
	r := a.Reshape(2, 12)
	if got := r.At(1, 7); got != a.At(1, 1, 3) {
		t.Fatalf("reshape remapped elements: got %v want %v", got, a.At(1, 1, 3))
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic reshaping a non-contiguous view")
		}
	}()
	a.Narrow(1, 0, 2).Reshape(16)
}

func TestAsTypeRoundTrip(t *testing.T) {
	a := New(F32, 4, 8)
	FillRand(a, 7)

	for _, dt := range []DType{F16, BF16} {
		conv := a.AsType(dt)
		back := conv.AsType(F32)
		tol := 1e-3
		if dt == BF16 {
			tol = 5e-3
		}
		for i := 0; i < 4; i++ {
			for j := 0; j < 8; j++ {
				diff := math.Abs(float64(back.At(i, j) - a.At(i, j)))
				if diff > tol {
					t.Fatalf("%s round trip error %v at [%d,%d]", dt, diff, i, j)
				}
			}
		}
	}
}

func TestMinValueFinite(t *testing.T) {
	for _, dt := range []DType{F32, F16, BF16} {
		mv := dt.MinValue()
		if mv >= 0 || math.IsInf(float64(mv), -1) {
			t.Fatalf("%s MinValue = %v, want finite negative", dt, mv)
		}
	}
	if F16.MinValue() != -65504 {
		t.Fatalf("f16 MinValue = %v, want -65504", F16.MinValue())
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	a := New(F32, 2, 2)
	a.Set(1, 0, 0)
	c := a.Clone()
	a.Set(2, 0, 0)
	if got := c.At(0, 0); got != 1 {
		t.Fatalf("clone aliased parent storage: got %v", got)
	}
}
