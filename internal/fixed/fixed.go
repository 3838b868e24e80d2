// Package fixed implements the saturating fixed-point number formats used by
// the dataflow engine: a narrow Q8.8 storage type for feature maps and
// weights, and a wide Q16.16 accumulation type.
//
// All conversions round to nearest and saturate at the target type's
// representable range instead of wrapping. Saturation is specified behavior,
// not an error condition.
package fixed

import (
	"math"
)

// Word is the narrow Q8.8 storage format: 8 integer bits, 8 fractional bits,
// stored in 16 bits two's complement. Feature-map elements and weights are
// Words.
type Word int16

// Acc is the wide Q16.16 accumulation format: 16 integer bits, 16 fractional
// bits in 32 bits two's complement. A Word*Word product is exact in Acc.
type Acc int32

const (
	// WordFracBits is the number of fractional bits in a Word.
	WordFracBits = 8
	// WordOne is the Word representation of 1.0.
	WordOne Word = 1 << WordFracBits

	WordMax Word = math.MaxInt16
	WordMin Word = math.MinInt16

	// AccFracBits is the number of fractional bits in an Acc.
	AccFracBits = 16

	AccMax Acc = math.MaxInt32
	AccMin Acc = math.MinInt32
)

// FromFloat converts a float to Q8.8, rounding to nearest and saturating.
func FromFloat(f float64) Word {
	scaled := math.Round(f * (1 << WordFracBits))
	return satWord(int64(scaled))
}

// Float converts a Word back to its real value.
func (w Word) Float() float64 {
	return float64(w) / (1 << WordFracBits)
}

// AccFromFloat converts a float to Q16.16, rounding to nearest and saturating.
func AccFromFloat(f float64) Acc {
	scaled := math.Round(f * (1 << AccFracBits))
	return satAcc(int64(scaled))
}

// Float converts an Acc back to its real value.
func (a Acc) Float() float64 {
	return float64(a) / (1 << AccFracBits)
}

// Widen converts a Word to the wide format without loss.
func (w Word) Widen() Acc {
	return Acc(w) << (AccFracBits - WordFracBits)
}

// Mul multiplies two narrow values into the wide format. The product of two
// Q8.8 values has 16 fractional bits, so the result is exact.
func Mul(a, b Word) Acc {
	return Acc(int32(a) * int32(b))
}

// AddSat adds two wide values, saturating at the Acc range.
func AddSat(a, b Acc) Acc {
	return satAcc(int64(a) + int64(b))
}

// MulWordSat multiplies a wide value by a narrow one (eg. a per-channel
// scale), rounding the dropped fractional bits to nearest and saturating at
// the Acc range.
func MulWordSat(a Acc, s Word) Acc {
	p := int64(a) * int64(s)
	p += 1 << (WordFracBits - 1)
	return satAcc(p >> WordFracBits)
}

// MulAccSat multiplies two wide values, rounding the dropped fractional
// bits to nearest and saturating at the Acc range.
func MulAccSat(a, b Acc) Acc {
	p := int64(a) * int64(b)
	p += 1 << (AccFracBits - 1)
	return satAcc(p >> AccFracBits)
}

// Shr arithmetically shifts a wide value right by n bits. Used by the
// hardware LeakyReLU approximation, where >>3 stands in for a 0.125 slope.
func (a Acc) Shr(n uint) Acc {
	return a >> n
}

// Narrow converts a wide value to the narrow format, rounding the dropped
// fractional bits to nearest (ties up) and saturating at the Word range.
func (a Acc) Narrow() Word {
	v := int64(a) + 1<<(AccFracBits-WordFracBits-1)
	return satWord(v >> (AccFracBits - WordFracBits))
}

// ClampWord clamps w into [lo, hi].
func ClampWord(w, lo, hi Word) Word {
	if w < lo {
		return lo
	}
	if w > hi {
		return hi
	}
	return w
}

func satWord(v int64) Word {
	if v > int64(WordMax) {
		return WordMax
	}
	if v < int64(WordMin) {
		return WordMin
	}
	return Word(v)
}

func satAcc(v int64) Acc {
	if v > int64(AccMax) {
		return AccMax
	}
	if v < int64(AccMin) {
		return AccMin
	}
	return Acc(v)
}
