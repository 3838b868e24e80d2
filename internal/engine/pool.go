package engine

import (
	"github.com/samcharles93/tileflow/internal/fixed"
)

// max4 reduces a 2x2 block through a two-level pairwise-max comparator tree.
func max4(v00, v01, v10, v11 fixed.Word) fixed.Word {
	a := v00
	if v01 > a {
		a = v01
	}
	b := v10
	if v11 > b {
		b = v11
	}
	if b > a {
		return b
	}
	return a
}

// maxPoolInPlace runs the 2x2/stride-2 max-pool pass over a written feature
// map, compacting the pooled result to the front of the same region. Odd
// trailing rows and columns are dropped.
//
// Safe in place: the pooled write index grows a quarter as fast as the read
// index, so a write never lands on an element that is still to be read.
func maxPoolInPlace(fm []fixed.Word, channels, inH, inW int) {
	outH := inH / 2
	outW := inW / 2

	for c := 0; c < channels; c++ {
		inBase := c * inH * inW
		outBase := c * outH * outW
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				base := inBase + (oh*2)*inW + ow*2
				fm[outBase+oh*outW+ow] = max4(
					fm[base], fm[base+1],
					fm[base+inW], fm[base+inW+1],
				)
			}
		}
	}
}

// MaxPool runs the 2x2/stride-2 max-pool over src into dst. dst must hold
// channels * (inH/2) * (inW/2) words.
func MaxPool(dst, src []fixed.Word, channels, inH, inW int) {
	outH := inH / 2
	outW := inW / 2

	for c := 0; c < channels; c++ {
		inBase := c * inH * inW
		outBase := c * outH * outW
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				base := inBase + (oh*2)*inW + ow*2
				dst[outBase+oh*outW+ow] = max4(
					src[base], src[base+1],
					src[base+inW], src[base+inW+1],
				)
			}
		}
	}
}

// GlobalAvgPool reduces each channel of src to a single value in dst. The
// spatial sum runs in the wide accumulator type; the average multiplies by
// the precomputed reciprocal of height*width rather than dividing. The
// reciprocal is held in the wide format so small values like 1/196 keep
// enough fractional bits.
func GlobalAvgPool(dst, src []fixed.Word, channels, height, width int) {
	spatial := height * width
	recip := fixed.AccFromFloat(1 / float64(spatial))

	for c := 0; c < channels; c++ {
		base := c * spatial
		var sum fixed.Acc
		for i := 0; i < spatial; i++ {
			sum = fixed.AddSat(sum, src[base+i].Widen())
		}
		dst[c] = fixed.MulAccSat(sum, recip).Narrow()
	}
}
