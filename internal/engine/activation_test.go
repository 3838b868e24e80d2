package engine

import (
	"math"
	"testing"

	"github.com/samcharles93/tileflow/internal/fixed"
)

func TestLeakyReLUPositivePassThrough(t *testing.T) {
	t.Parallel()

	var act LeakyReLU
	for _, w := range []fixed.Word{1, 100, fixed.WordOne, fixed.WordMax} {
		if got := act.Apply(w); got != w {
			t.Fatalf("Apply(%d) = %d, want unchanged", w, got)
		}
	}
}

func TestLeakyReLUNegativeShiftExact(t *testing.T) {
	t.Parallel()

	// The negative side is a bit-exact arithmetic shift by 3, not 0.1*x.
	var act LeakyReLU
	for _, w := range []fixed.Word{-1, -7, -8, -100, -2048, fixed.WordMin} {
		if got, want := act.Apply(w), w>>3; got != want {
			t.Fatalf("Apply(%d) = %d, want %d", w, got, want)
		}
	}

	// -8.0 maps to -1.0: slope 1/8, not 1/10.
	in := fixed.FromFloat(-8)
	if got := act.Apply(in).Float(); got != -1.0 {
		t.Fatalf("Apply(-8.0) = %v, want -1.0", got)
	}
}

func TestLeakyAccMatchesWordPath(t *testing.T) {
	t.Parallel()

	var act LeakyReLU
	for _, f := range []float64{-12.5, -1, -0.125, 0, 0.125, 1, 12.5} {
		wide := fixed.AccFromFloat(f)
		narrow := fixed.FromFloat(f)
		if got, want := leakyAcc(wide), act.Apply(narrow); got != want {
			t.Fatalf("leakyAcc(%v) = %d, Word path gives %d", f, got, want)
		}
	}
}

func TestSigmoidLUTEndpoints(t *testing.T) {
	t.Parallel()

	var act Sigmoid

	// Inputs at or below -8 hit entry 0; at or above 8 hit entry 255.
	if got := act.Apply(fixed.FromFloat(-8)); got != sigmoidLUT[0] {
		t.Fatalf("Apply(-8) = %d, want LUT[0] = %d", got, sigmoidLUT[0])
	}
	if got := act.Apply(fixed.WordMin); got != sigmoidLUT[0] {
		t.Fatalf("Apply(min) = %d, want LUT[0]", got)
	}
	if got := act.Apply(fixed.FromFloat(8)); got != sigmoidLUT[255] {
		t.Fatalf("Apply(8) = %d, want LUT[255] = %d", got, sigmoidLUT[255])
	}
	if got := act.Apply(fixed.WordMax); got != sigmoidLUT[255] {
		t.Fatalf("Apply(max) = %d, want LUT[255]", got)
	}
}

func TestSigmoidLUTIndexing(t *testing.T) {
	t.Parallel()

	var act Sigmoid
	// Every in-domain input maps to the table entry at (x+8)*16.
	for i := 0; i < 256; i++ {
		x := fixed.Word(i<<sigmoidIndexShift) + sigmoidLo
		if got := act.Apply(x); got != sigmoidLUT[i] {
			t.Fatalf("Apply(raw %d) = %d, want LUT[%d] = %d", x, got, i, sigmoidLUT[i])
		}
	}
}

func TestSigmoidLUTValues(t *testing.T) {
	t.Parallel()

	var act Sigmoid

	// Midpoint: sigmoid(0) = 0.5.
	if got := act.Apply(0).Float(); math.Abs(got-0.5) > 1.0/256 {
		t.Fatalf("Apply(0) = %v, want ~0.5", got)
	}
	// Monotonic non-decreasing across the table.
	for i := 1; i < 256; i++ {
		if sigmoidLUT[i] < sigmoidLUT[i-1] {
			t.Fatalf("LUT not monotonic at %d", i)
		}
	}
}

func TestApplyActivationInPlace(t *testing.T) {
	t.Parallel()

	words := []fixed.Word{-256, -8, 0, 8, 256}
	want := make([]fixed.Word, len(words))
	var act LeakyReLU
	for i, w := range words {
		want[i] = act.Apply(w)
	}

	ApplyActivation(words, LeakyReLU{})
	for i := range words {
		if words[i] != want[i] {
			t.Fatalf("element %d: got %d want %d", i, words[i], want[i])
		}
	}

	// Identity leaves data untouched.
	before := append([]fixed.Word(nil), words...)
	ApplyActivation(words, Identity{})
	for i := range words {
		if words[i] != before[i] {
			t.Fatalf("identity modified element %d", i)
		}
	}
}
