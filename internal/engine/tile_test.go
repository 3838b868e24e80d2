package engine

import (
	"testing"
)

func collectTiles(cfg LayerConfig, lim TileLimits) []TileDescriptor {
	var tiles []TileDescriptor
	walkTiles(cfg, lim, func(t TileDescriptor) {
		tiles = append(tiles, t)
	})
	return tiles
}

func TestWalkTilesOrderAndClipping(t *testing.T) {
	t.Parallel()

	cfg := LayerConfig{
		Kind: KindConvBNAct, InChannels: 5, OutChannels: 7,
		InHeight: 10, InWidth: 10, KernelSize: 3, Stride: 1, Padding: 1,
	}
	lim := TileLimits{MaxOutChannels: 4, MaxInChannels: 2, MaxRows: 6, MaxCols: 6}
	tiles := collectTiles(cfg, lim)

	// 2 oc tiles x 2 row tiles x 2 col tiles x 3 ic tiles.
	if len(tiles) != 24 {
		t.Fatalf("tile count = %d, want 24", len(tiles))
	}

	// Input channels vary fastest: the first three tiles share the same
	// output sub-range and walk ic 0..5.
	for i := 0; i < 3; i++ {
		if tiles[i].OC != tiles[0].OC || tiles[i].OH != tiles[0].OH || tiles[i].OW != tiles[0].OW {
			t.Fatalf("tile %d changed output range before finishing input channels", i)
		}
	}
	if !tiles[0].FirstIC || tiles[0].LastIC {
		t.Fatalf("tile 0 flags = %+v", tiles[0])
	}
	if tiles[1].FirstIC || tiles[1].LastIC {
		t.Fatalf("tile 1 flags = %+v", tiles[1])
	}
	if tiles[2].FirstIC || !tiles[2].LastIC {
		t.Fatalf("tile 2 flags = %+v", tiles[2])
	}

	// Last tile in every dimension is clipped, never overruns.
	for i, tile := range tiles {
		if tile.OC.End > cfg.OutChannels || tile.OH.End > 10 || tile.OW.End > 10 || tile.IC.End > cfg.InChannels {
			t.Fatalf("tile %d overruns tensor bounds: %+v", i, tile)
		}
		if tile.OC.Len() <= 0 || tile.OH.Len() <= 0 || tile.OW.Len() <= 0 || tile.IC.Len() <= 0 {
			t.Fatalf("tile %d has empty span: %+v", i, tile)
		}
	}

	// Clipped sizes: 7 output channels under a limit of 4 gives 4 then 3;
	// 5 input channels under a limit of 2 gives 2, 2, 1.
	if tiles[len(tiles)-1].OC.Len() != 3 {
		t.Fatalf("last oc tile len = %d, want 3", tiles[len(tiles)-1].OC.Len())
	}
	if tiles[2].IC.Len() != 1 {
		t.Fatalf("last ic tile len = %d, want 1", tiles[2].IC.Len())
	}
}

func TestWalkTilesCoverage(t *testing.T) {
	t.Parallel()

	cfg := LayerConfig{
		Kind: KindConvBNAct, InChannels: 3, OutChannels: 5,
		InHeight: 9, InWidth: 9, KernelSize: 3, Stride: 2, Padding: 1,
	}
	lim := TileLimits{MaxOutChannels: 2, MaxInChannels: 2, MaxRows: 3, MaxCols: 3}
	outH, outW := cfg.OutputDims()

	seen := make(map[[3]int]int)
	walkTiles(cfg, lim, func(tile TileDescriptor) {
		if !tile.LastIC {
			return
		}
		for oc := tile.OC.Start; oc < tile.OC.End; oc++ {
			for oh := tile.OH.Start; oh < tile.OH.End; oh++ {
				for ow := tile.OW.Start; ow < tile.OW.End; ow++ {
					seen[[3]int{oc, oh, ow}]++
				}
			}
		}
	})

	if len(seen) != cfg.OutChannels*outH*outW {
		t.Fatalf("covered %d output elements, want %d", len(seen), cfg.OutChannels*outH*outW)
	}
	for pos, n := range seen {
		if n != 1 {
			t.Fatalf("output element %v finalized %d times", pos, n)
		}
	}
}

func TestInputWindowHalo(t *testing.T) {
	t.Parallel()

	cfg := LayerConfig{
		Kind: KindConvBNAct, InChannels: 1, OutChannels: 1,
		InHeight: 16, InWidth: 16, KernelSize: 3, Stride: 1, Padding: 1,
	}
	tile := TileDescriptor{OH: Span{0, 4}, OW: Span{4, 8}}
	ihS, ihE, iwS, iwE := tile.InputWindow(cfg)

	// First row tile starts in the padding region.
	if ihS != -1 || ihE != 5 {
		t.Fatalf("row window [%d,%d), want [-1,5)", ihS, ihE)
	}
	// Interior col tile needs one halo column on each side.
	if iwS != 3 || iwE != 9 {
		t.Fatalf("col window [%d,%d), want [3,9)", iwS, iwE)
	}
}

func TestInputWindowStride2(t *testing.T) {
	t.Parallel()

	cfg := LayerConfig{
		Kind: KindConvBNAct, InChannels: 1, OutChannels: 1,
		InHeight: 16, InWidth: 16, KernelSize: 3, Stride: 2, Padding: 1,
	}
	tile := TileDescriptor{OH: Span{2, 4}, OW: Span{0, 2}}
	ihS, ihE, _, _ := tile.InputWindow(cfg)
	if ihS != 3 || ihE != 8 {
		t.Fatalf("row window [%d,%d), want [3,8)", ihS, ihE)
	}
}
