// Package tensor provides views over bulk-memory regions holding
// channel-major fixed-point tensors.
//
// A FeatureMap is a (channels, height, width) tensor; a WeightTensor is a
// (out_ch, in_ch, kh, kw) tensor. Both are flat row-major layouts addressed
// as channel*H*W + row*W + col, matching the accelerator's DDR layout. Views
// alias the bank; they never copy.
package tensor

import (
	"math/rand"

	"github.com/samcharles93/tileflow/internal/fixed"
	"github.com/samcharles93/tileflow/internal/memory"
)

// FeatureMap is a channel-major view of a bank region.
//
// No memory safety is provided beyond Go's slice checks; out-of-range
// indices panic.
type FeatureMap struct {
	Bank     *memory.Bank
	Base     memory.Addr
	Channels int
	Height   int
	Width    int
}

// NewFeatureMap allocates a feature map in the bank.
func NewFeatureMap(b *memory.Bank, channels, height, width int) (FeatureMap, error) {
	if channels < 0 || height < 0 || width < 0 {
		panic("tensor: negative feature map dimension")
	}
	base, err := b.Alloc(channels * height * width)
	if err != nil {
		return FeatureMap{}, err
	}
	return FeatureMap{Bank: b, Base: base, Channels: channels, Height: height, Width: width}, nil
}

// Len returns the element count.
func (f FeatureMap) Len() int { return f.Channels * f.Height * f.Width }

// Words returns the backing slice for the whole map.
func (f FeatureMap) Words() []fixed.Word { return f.Bank.Words(f.Base, f.Len()) }

// Index returns the flat offset of (c, y, x) within the map.
func (f FeatureMap) Index(c, y, x int) int {
	return c*f.Height*f.Width + y*f.Width + x
}

// At reads the element at (c, y, x).
func (f FeatureMap) At(c, y, x int) fixed.Word {
	return f.Words()[f.Index(c, y, x)]
}

// Set writes the element at (c, y, x).
func (f FeatureMap) Set(c, y, x int, v fixed.Word) {
	f.Words()[f.Index(c, y, x)] = v
}

// FromFloats quantizes src into the map. len(src) must equal Len.
func (f FeatureMap) FromFloats(src []float32) {
	w := f.Words()
	if len(src) != len(w) {
		panic("tensor: feature map length mismatch")
	}
	for i, v := range src {
		w[i] = fixed.FromFloat(float64(v))
	}
}

// Floats dequantizes the map into a fresh slice.
func (f FeatureMap) Floats() []float32 {
	w := f.Words()
	out := make([]float32, len(w))
	for i, v := range w {
		out[i] = float32(v.Float())
	}
	return out
}

// WeightTensor is an (out_ch, in_ch, kh, kw) view of a bank region,
// flattened row-major.
type WeightTensor struct {
	Bank  *memory.Bank
	Base  memory.Addr
	OutCh int
	InCh  int
	K     int // kernel is K x K
}

// NewWeightTensor allocates a weight tensor in the bank.
func NewWeightTensor(b *memory.Bank, outCh, inCh, k int) (WeightTensor, error) {
	if outCh < 0 || inCh < 0 || k < 0 {
		panic("tensor: negative weight dimension")
	}
	base, err := b.Alloc(outCh * inCh * k * k)
	if err != nil {
		return WeightTensor{}, err
	}
	return WeightTensor{Bank: b, Base: base, OutCh: outCh, InCh: inCh, K: k}, nil
}

// Len returns the element count.
func (t WeightTensor) Len() int { return t.OutCh * t.InCh * t.K * t.K }

// Words returns the backing slice for the whole tensor.
func (t WeightTensor) Words() []fixed.Word { return t.Bank.Words(t.Base, t.Len()) }

// Index returns the flat offset of (oc, ic, kh, kw).
func (t WeightTensor) Index(oc, ic, kh, kw int) int {
	return oc*t.InCh*t.K*t.K + ic*t.K*t.K + kh*t.K + kw
}

// At reads the weight at (oc, ic, kh, kw).
func (t WeightTensor) At(oc, ic, kh, kw int) fixed.Word {
	return t.Words()[t.Index(oc, ic, kh, kw)]
}

// FromFloats quantizes src into the tensor. len(src) must equal Len.
func (t WeightTensor) FromFloats(src []float32) {
	w := t.Words()
	if len(src) != len(w) {
		panic("tensor: weight tensor length mismatch")
	}
	for i, v := range src {
		w[i] = fixed.FromFloat(float64(v))
	}
}

// FillRand fills dst with reproducible pseudo-random values in a small range
// around zero. The same seed always produces the same sequence.
func FillRand(dst []fixed.Word, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := range dst {
		dst[i] = fixed.FromFloat(float64(rng.Float32()) - 0.5)
	}
}

// FillRandFloats fills dst with the same sequence FillRand would quantize,
// for building float reference inputs next to fixed-point ones.
func FillRandFloats(dst []float32, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := range dst {
		dst[i] = rng.Float32() - 0.5
	}
}
