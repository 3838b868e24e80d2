package engine

import (
	"github.com/samcharles93/tileflow/internal/fixed"
)

// finalizeTile applies the fused normalization + activation to a fully
// accumulated output tile and writes the narrowed results to the output
// feature map at absolute addresses.
//
// Called exactly once per output tile, after the last input-channel pass has
// been summed. For each element: bn = acc*scale[oc] + shift[oc] in the wide
// type, then the layer's activation, then saturating narrowing. conv_only
// layers use scale=1, shift=0 and the identity activation.
func finalizeTile(out []fixed.Word, acc []fixed.Acc, bnScale, bnShift []fixed.Word,
	cfg LayerConfig, t TileDescriptor) {

	outH, outW := cfg.OutputDims()
	ohCount := t.OH.Len()
	owCount := t.OW.Len()

	for oc := 0; oc < t.OC.Len(); oc++ {
		ocAbs := t.OC.Start + oc

		scale := fixed.WordOne
		var shift fixed.Acc
		if cfg.Kind != KindConvOnly {
			scale = bnScale[ocAbs]
			shift = bnShift[ocAbs].Widen()
		}

		accBase := oc * ohCount * owCount
		outBase := ocAbs * outH * outW

		for oh := 0; oh < ohCount; oh++ {
			for ow := 0; ow < owCount; ow++ {
				bn := fixed.AddSat(fixed.MulWordSat(acc[accBase+oh*owCount+ow], scale), shift)

				var result fixed.Word
				if cfg.Kind == KindConvOnly {
					result = bn.Narrow()
				} else {
					result = leakyAcc(bn)
				}

				out[outBase+(t.OH.Start+oh)*outW+(t.OW.Start+ow)] = result
			}
		}
	}
}
