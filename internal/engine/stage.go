package engine

import (
	"github.com/samcharles93/tileflow/internal/fixed"
)

// stageInput copies the tile's halo-extended input window from the bulk
// feature map into the dense local buffer, indexed
// (local_channel, local_row, local_col). Coordinates outside the feature map
// are the zero-padding region and are filled with zero.
//
// Re-run for every tile iteration: the window depends on the spatial tile
// and the channel range on the input-channel pass.
func stageInput(dst []fixed.Word, input []fixed.Word, cfg LayerConfig, t TileDescriptor) {
	ihStart, ihEnd, iwStart, iwEnd := t.InputWindow(cfg)

	idx := 0
	for ic := t.IC.Start; ic < t.IC.End; ic++ {
		chBase := ic * cfg.InHeight * cfg.InWidth
		for ih := ihStart; ih < ihEnd; ih++ {
			rowInBounds := ih >= 0 && ih < cfg.InHeight
			for iw := iwStart; iw < iwEnd; iw++ {
				if rowInBounds && iw >= 0 && iw < cfg.InWidth {
					dst[idx] = input[chBase+ih*cfg.InWidth+iw]
				} else {
					dst[idx] = 0
				}
				idx++
			}
		}
	}
}

// stageWeights copies the (output-channel tile, input-channel tile) weight
// sub-block into the local buffer, addressed (local_oc, local_ic, kh, kw).
// No halo applies to weights.
func stageWeights(dst []fixed.Word, weights []fixed.Word, cfg LayerConfig, t TileDescriptor) {
	kk := cfg.KernelSize * cfg.KernelSize

	idx := 0
	for oc := t.OC.Start; oc < t.OC.End; oc++ {
		for ic := t.IC.Start; ic < t.IC.End; ic++ {
			src := oc*cfg.InChannels*kk + ic*kk
			copy(dst[idx:idx+kk], weights[src:src+kk])
			idx += kk
		}
	}
}
