package engine

import (
	"math"

	"github.com/samcharles93/tileflow/internal/fixed"
)

// Activation is one of the three activation kinds the engine knows. Each
// kind is its own type with a single handler rather than an integer code.
type Activation interface {
	Apply(fixed.Word) fixed.Word
	Name() string
}

// Identity passes values through unchanged.
type Identity struct{}

func (Identity) Apply(x fixed.Word) fixed.Word { return x }
func (Identity) Name() string                  { return "identity" }

// LeakyReLU is the hardware LeakyReLU approximation: positive values pass
// through; negative values are arithmetically shifted right by 3, computing
// x/8 (slope 0.125) in place of the canonical 0.1. The shift is part of the
// numeric contract and must not be "corrected": downstream accuracy
// tolerances were calibrated against it.
type LeakyReLU struct{}

func (LeakyReLU) Apply(x fixed.Word) fixed.Word {
	if x > 0 {
		return x
	}
	return x >> 3
}

func (LeakyReLU) Name() string { return "leaky_relu" }

// leakyAcc is the fused-path variant of LeakyReLU, applied to the wide
// batch-norm result before narrowing.
func leakyAcc(a fixed.Acc) fixed.Word {
	if a > 0 {
		return a.Narrow()
	}
	return a.Shr(3).Narrow()
}

// Sigmoid approximates 1/(1+e^-x) with a 256-entry lookup table over the
// domain [-8, 8). Inputs are clamped into the domain before the index
// computation, so anything at or below -8 hits entry 0 and anything at or
// above 8 hits entry 255.
type Sigmoid struct{}

const (
	sigmoidLo fixed.Word = -8 << fixed.WordFracBits     // -8.0
	sigmoidHi fixed.Word = 8<<fixed.WordFracBits - 1    // just under 8.0

	// index = (clamp(x) + 8) * 16 maps [-8, 8) onto [0, 255].
	sigmoidIndexShift = 4
)

var sigmoidLUT [256]fixed.Word

func init() {
	for i := range sigmoidLUT {
		x := float64(i)/16 - 8
		sigmoidLUT[i] = fixed.FromFloat(1 / (1 + math.Exp(-x)))
	}
}

func (Sigmoid) Apply(x fixed.Word) fixed.Word {
	c := fixed.ClampWord(x, sigmoidLo, sigmoidHi)
	idx := (int(c) - int(sigmoidLo)) >> sigmoidIndexShift
	return sigmoidLUT[idx]
}

func (Sigmoid) Name() string { return "sigmoid" }

// ApplyActivation runs the standalone activation path over a feature-map
// region in place. This is independent of the fused batch-norm path; the
// fused path never goes through Sigmoid.
func ApplyActivation(words []fixed.Word, act Activation) {
	for i, w := range words {
		words[i] = act.Apply(w)
	}
}
