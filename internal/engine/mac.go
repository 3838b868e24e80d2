package engine

import (
	"github.com/samcharles93/tileflow/internal/fixed"
)

// macTile accumulates one input-channel pass of the convolution into the
// wide accumulator tile. For every local output pixel and local output
// channel it sums input*weight over the staged input channels and kernel
// positions, entirely in the wide type; narrowing happens only at
// finalization.
//
// Pure function of the staged buffers: its only effect is updating acc.
func macTile(acc []fixed.Acc, in []fixed.Word, wts []fixed.Word, cfg LayerConfig, t TileDescriptor) {
	k := cfg.KernelSize
	kk := k * k
	stride := cfg.Stride

	ihStart, ihEnd, iwStart, iwEnd := t.InputWindow(cfg)
	tileIH := ihEnd - ihStart
	tileIW := iwEnd - iwStart

	ocCount := t.OC.Len()
	icCount := t.IC.Len()
	ohCount := t.OH.Len()
	owCount := t.OW.Len()

	for oc := 0; oc < ocCount; oc++ {
		wBase := oc * icCount * kk
		accBase := oc * ohCount * owCount

		for oh := 0; oh < ohCount; oh++ {
			for ow := 0; ow < owCount; ow++ {
				sum := acc[accBase+oh*owCount+ow]

				for ic := 0; ic < icCount; ic++ {
					inBase := ic * tileIH * tileIW
					wIC := wBase + ic*kk
					for kh := 0; kh < k; kh++ {
						inRow := inBase + (oh*stride+kh)*tileIW + ow*stride
						wRow := wIC + kh*k
						for kw := 0; kw < k; kw++ {
							sum = fixed.AddSat(sum, fixed.Mul(in[inRow+kw], wts[wRow+kw]))
						}
					}
				}

				acc[accBase+oh*owCount+ow] = sum
			}
		}
	}
}
