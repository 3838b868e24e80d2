package engine

// TileLimits bounds how much of a layer fits in the engine's working buffers
// at once. They stand in for the on-chip BRAM capacity of the original
// platform: working buffers are sized from these limits exactly once and
// reused for every tile of every layer.
type TileLimits struct {
	MaxOutChannels int // output channels per tile
	MaxInChannels  int // input channels per accumulation pass
	MaxRows        int // output rows per spatial tile
	MaxCols        int // output cols per spatial tile
}

// DefaultTileLimits mirrors the original on-chip buffer sizing:
// 32-channel tiles over 14x14 spatial blocks.
func DefaultTileLimits() TileLimits {
	return TileLimits{MaxOutChannels: 32, MaxInChannels: 32, MaxRows: 14, MaxCols: 14}
}

func (l TileLimits) valid() bool {
	return l.MaxOutChannels > 0 && l.MaxInChannels > 0 && l.MaxRows > 0 && l.MaxCols > 0
}

// Span is a half-open index range [Start, End).
type Span struct {
	Start, End int
}

// Len returns the number of indices in the span.
func (s Span) Len() int { return s.End - s.Start }

// TileDescriptor identifies one (output-channel, output-row, output-col,
// input-channel) sub-range of a layer. Spans are clipped at tensor edges, so
// the last tile in any dimension may be smaller than the nominal size.
type TileDescriptor struct {
	OC Span // output channel range
	OH Span // output row range
	OW Span // output col range
	IC Span // input channel range for this accumulation pass

	// FirstIC and LastIC mark the first and last input-channel pass of the
	// surrounding output tile. The accumulator tile is zeroed on FirstIC and
	// finalized after LastIC, never in between.
	FirstIC bool
	LastIC  bool
}

// InputWindow computes the halo-extended input coordinate range this tile
// reads: rows [ihStart, ihEnd) and cols [iwStart, iwEnd) in input space.
// Coordinates may fall outside the feature map; the stager zero-fills those.
func (t TileDescriptor) InputWindow(cfg LayerConfig) (ihStart, ihEnd, iwStart, iwEnd int) {
	ihStart = t.OH.Start*cfg.Stride - cfg.Padding
	ihEnd = (t.OH.End-1)*cfg.Stride + cfg.KernelSize - cfg.Padding
	iwStart = t.OW.Start*cfg.Stride - cfg.Padding
	iwEnd = (t.OW.End-1)*cfg.Stride + cfg.KernelSize - cfg.Padding
	return
}

func clipSpan(start, nominal, limit int) Span {
	end := start + nominal
	if end > limit {
		end = limit
	}
	return Span{Start: start, End: end}
}

// walkTiles produces the layer's tile sequence in the mandatory order:
// output-channel tiles, then output spatial tiles, then input-channel tiles
// innermost. The innermost ordering is what lets one accumulator tile
// persist across all input-channel contributions of an output tile.
func walkTiles(cfg LayerConfig, lim TileLimits, fn func(TileDescriptor)) {
	outH, outW := cfg.OutputDims()

	for ocStart := 0; ocStart < cfg.OutChannels; ocStart += lim.MaxOutChannels {
		oc := clipSpan(ocStart, lim.MaxOutChannels, cfg.OutChannels)

		for ohStart := 0; ohStart < outH; ohStart += lim.MaxRows {
			oh := clipSpan(ohStart, lim.MaxRows, outH)

			for owStart := 0; owStart < outW; owStart += lim.MaxCols {
				ow := clipSpan(owStart, lim.MaxCols, outW)

				for icStart := 0; icStart < cfg.InChannels; icStart += lim.MaxInChannels {
					ic := clipSpan(icStart, lim.MaxInChannels, cfg.InChannels)
					fn(TileDescriptor{
						OC:      oc,
						OH:      oh,
						OW:      ow,
						IC:      ic,
						FirstIC: icStart == 0,
						LastIC:  ic.End == cfg.InChannels,
					})
				}
			}
		}
	}
}
