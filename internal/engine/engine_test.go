package engine

import (
	"errors"
	"math"
	"testing"

	"github.com/samcharles93/tileflow/internal/fixed"
	"github.com/samcharles93/tileflow/internal/memory"
	"github.com/samcharles93/tileflow/internal/ref"
	"github.com/samcharles93/tileflow/internal/tensor"
)

// layerData is one layer's worth of bulk memory, laid out the way the
// driver lays out DDR.
type layerData struct {
	bank  *memory.Bank
	addrs Addresses
}

func newLayerData(t *testing.T, cfg LayerConfig, seed int64) layerData {
	t.Helper()

	total := cfg.InputLen() + cfg.OutputLen() + cfg.WeightLen() + 2*cfg.BNLen()
	bank := memory.NewBank(total)

	alloc := func(n int) memory.Addr {
		a, err := bank.Alloc(n)
		if err != nil {
			t.Fatal(err)
		}
		return a
	}

	d := layerData{
		bank: bank,
		addrs: Addresses{
			Input:   alloc(cfg.InputLen()),
			Output:  alloc(cfg.OutputLen()),
			Weights: alloc(cfg.WeightLen()),
			BNScale: alloc(cfg.BNLen()),
			BNShift: alloc(cfg.BNLen()),
		},
	}

	tensor.FillRand(bank.Words(d.addrs.Input, cfg.InputLen()), seed)
	tensor.FillRand(bank.Words(d.addrs.Weights, cfg.WeightLen()), seed+1)
	tensor.FillRand(bank.Words(d.addrs.BNScale, cfg.BNLen()), seed+2)
	tensor.FillRand(bank.Words(d.addrs.BNShift, cfg.BNLen()), seed+3)
	return d
}

func (d layerData) run(t *testing.T, cfg LayerConfig, lim TileLimits) []fixed.Word {
	t.Helper()

	e := New(lim, nil)
	if err := e.Run(cfg, d.bank, d.addrs); err != nil {
		t.Fatal(err)
	}
	e.AckDone()
	out := make([]fixed.Word, cfg.OutputLen())
	copy(out, d.bank.Words(d.addrs.Output, cfg.OutputLen()))
	return out
}

// convDirect is the non-tiled fixed-point reference: identical arithmetic,
// no tiling, no staging. Tiling must only change memory traffic, never the
// result.
func convDirect(cfg LayerConfig, d layerData) []fixed.Word {
	input := d.bank.Words(d.addrs.Input, cfg.InputLen())
	weights := d.bank.Words(d.addrs.Weights, cfg.WeightLen())
	bnScale := d.bank.Words(d.addrs.BNScale, cfg.BNLen())
	bnShift := d.bank.Words(d.addrs.BNShift, cfg.BNLen())

	outH, outW := cfg.OutputDims()
	out := make([]fixed.Word, cfg.OutputLen())
	k := cfg.KernelSize

	for oc := 0; oc < cfg.OutChannels; oc++ {
		scale := fixed.WordOne
		var shift fixed.Acc
		if cfg.Kind != KindConvOnly {
			scale = bnScale[oc]
			shift = bnShift[oc].Widen()
		}
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				var sum fixed.Acc
				for ic := 0; ic < cfg.InChannels; ic++ {
					for kh := 0; kh < k; kh++ {
						for kw := 0; kw < k; kw++ {
							ih := oh*cfg.Stride + kh - cfg.Padding
							iw := ow*cfg.Stride + kw - cfg.Padding
							if ih < 0 || ih >= cfg.InHeight || iw < 0 || iw >= cfg.InWidth {
								continue
							}
							sum = fixed.AddSat(sum, fixed.Mul(
								input[ic*cfg.InHeight*cfg.InWidth+ih*cfg.InWidth+iw],
								weights[oc*cfg.InChannels*k*k+ic*k*k+kh*k+kw],
							))
						}
					}
				}
				bn := fixed.AddSat(fixed.MulWordSat(sum, scale), shift)
				if cfg.Kind == KindConvOnly {
					out[oc*outH*outW+oh*outW+ow] = bn.Narrow()
				} else {
					out[oc*outH*outW+oh*outW+ow] = leakyAcc(bn)
				}
			}
		}
	}
	return out
}

func wordsEqual(t *testing.T, got, want []fixed.Word, label string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: length %d vs %d", label, len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("%s: element %d differs: %d vs %d", label, i, got[i], want[i])
		}
	}
}

func TestTilingInvariance(t *testing.T) {
	t.Parallel()

	cfg := LayerConfig{
		Kind: KindConvBNAct, InChannels: 8, OutChannels: 12,
		InHeight: 16, InWidth: 16, KernelSize: 3, Stride: 1, Padding: 1,
	}
	d := newLayerData(t, cfg, 100)
	direct := convDirect(cfg, d)

	limits := []TileLimits{
		DefaultTileLimits(),
		{MaxOutChannels: 3, MaxInChannels: 3, MaxRows: 5, MaxCols: 5},
		{MaxOutChannels: 1, MaxInChannels: 1, MaxRows: 2, MaxCols: 16},
		{MaxOutChannels: 12, MaxInChannels: 8, MaxRows: 16, MaxCols: 16},
	}
	for _, lim := range limits {
		got := d.run(t, cfg, lim)
		wordsEqual(t, got, direct, "tiled output")
	}
}

func TestTilingInvarianceStride2(t *testing.T) {
	t.Parallel()

	cfgs := []LayerConfig{
		{Kind: KindConvBNAct, InChannels: 4, OutChannels: 6, InHeight: 15, InWidth: 11, KernelSize: 3, Stride: 2, Padding: 1},
		{Kind: KindConvOnly, InChannels: 5, OutChannels: 4, InHeight: 9, InWidth: 9, KernelSize: 1, Stride: 1, Padding: 0},
		{Kind: KindConvBNAct, InChannels: 3, OutChannels: 5, InHeight: 12, InWidth: 12, KernelSize: 3, Stride: 1, Padding: 0},
		{Kind: KindConvOnly, InChannels: 4, OutChannels: 3, InHeight: 10, InWidth: 14, KernelSize: 1, Stride: 2, Padding: 0},
	}
	lim := TileLimits{MaxOutChannels: 2, MaxInChannels: 2, MaxRows: 3, MaxCols: 4}

	for _, cfg := range cfgs {
		d := newLayerData(t, cfg, 200)
		got := d.run(t, cfg, lim)
		wordsEqual(t, got, convDirect(cfg, d), cfg.Kind.String())
	}
}

func TestAccumulateAcrossInputTiles(t *testing.T) {
	t.Parallel()

	// Splitting input channels over several accumulation passes must match
	// a single pass covering all of them.
	cfg := LayerConfig{
		Kind: KindConvBNAct, InChannels: 8, OutChannels: 4,
		InHeight: 10, InWidth: 10, KernelSize: 3, Stride: 1, Padding: 1,
	}
	d := newLayerData(t, cfg, 300)

	single := d.run(t, cfg, TileLimits{MaxOutChannels: 4, MaxInChannels: 8, MaxRows: 10, MaxCols: 10})
	split := d.run(t, cfg, TileLimits{MaxOutChannels: 4, MaxInChannels: 3, MaxRows: 10, MaxCols: 10})
	wordsEqual(t, split, single, "input-channel split")
}

func TestPoolingPass(t *testing.T) {
	t.Parallel()

	cfg := LayerConfig{
		Kind: KindConvBNActPool, InChannels: 3, OutChannels: 4,
		InHeight: 10, InWidth: 10, KernelSize: 3, Stride: 1, Padding: 1,
	}
	d := newLayerData(t, cfg, 400)
	got := d.run(t, cfg, TileLimits{MaxOutChannels: 2, MaxInChannels: 2, MaxRows: 4, MaxCols: 4})

	// Reference: full conv output, then a separate 2x2 pool.
	convCfg := cfg
	convCfg.Kind = KindConvBNAct
	full := convDirect(convCfg, d)
	oh, ow := cfg.OutputDims()
	ph, pw := cfg.PooledDims()
	pooled := make([]fixed.Word, cfg.OutChannels*ph*pw)
	MaxPool(pooled, full, cfg.OutChannels, oh, ow)

	wordsEqual(t, got[:len(pooled)], pooled, "pooled region")
}

func TestEngineMatchesFloatReference(t *testing.T) {
	t.Parallel()

	// End-to-end scenario: 3-channel 8x8 input, 16 output channels, 3x3
	// kernel, stride 1, padding 1. Output shape 16x8x8 and values within
	// half a storage unit of the float reference over the same quantized
	// data.
	cfg := LayerConfig{
		Kind: KindConvOnly, InChannels: 3, OutChannels: 16,
		InHeight: 8, InWidth: 8, KernelSize: 3, Stride: 1, Padding: 1,
	}
	d := newLayerData(t, cfg, 500)
	got := d.run(t, cfg, DefaultTileLimits())

	oh, ow := cfg.OutputDims()
	if oh != 8 || ow != 8 || len(got) != 16*8*8 {
		t.Fatalf("output shape %dx%dx%d", cfg.OutChannels, oh, ow)
	}

	// Dequantize the exact fixed-point inputs the engine saw.
	inF := make([]float32, cfg.InputLen())
	for i, w := range d.bank.Words(d.addrs.Input, cfg.InputLen()) {
		inF[i] = float32(w.Float())
	}
	wF := make([]float32, cfg.WeightLen())
	for i, w := range d.bank.Words(d.addrs.Weights, cfg.WeightLen()) {
		wF[i] = float32(w.Float())
	}
	want := ref.Conv2D(inF, wF, cfg.InChannels, cfg.InHeight, cfg.InWidth,
		cfg.OutChannels, cfg.KernelSize, cfg.Stride, cfg.Padding)

	const storageUnit = 1.0 / 256
	var maxErr float64
	for i := range got {
		if err := math.Abs(got[i].Float() - float64(want[i])); err > maxErr {
			maxErr = err
		}
	}
	if maxErr >= 0.51*storageUnit {
		t.Fatalf("max abs error %v exceeds half a storage unit", maxErr)
	}
}

func TestStateMachine(t *testing.T) {
	t.Parallel()

	cfg := LayerConfig{
		Kind: KindConvBNAct, InChannels: 2, OutChannels: 2,
		InHeight: 6, InWidth: 6, KernelSize: 3, Stride: 1, Padding: 1,
	}
	d := newLayerData(t, cfg, 600)

	e := New(DefaultTileLimits(), nil)
	if e.State() != StateIdle {
		t.Fatalf("initial state %v, want idle", e.State())
	}

	if err := e.Run(cfg, d.bank, d.addrs); err != nil {
		t.Fatal(err)
	}
	if e.State() != StateDone {
		t.Fatalf("state after run %v, want done", e.State())
	}

	// A start before the driver consumes the status violates the engine's
	// precondition.
	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic on start while not idle")
			}
		}()
		_ = e.Run(cfg, d.bank, d.addrs)
	}()

	e.AckDone()
	if e.State() != StateIdle {
		t.Fatalf("state after ack %v, want idle", e.State())
	}

	// A fresh run is accepted again.
	if err := e.Run(cfg, d.bank, d.addrs); err != nil {
		t.Fatal(err)
	}
	e.AckDone()
}

func TestRunRejectsBeforeStart(t *testing.T) {
	t.Parallel()

	e := New(DefaultTileLimits(), nil)

	bad := LayerConfig{
		Kind: KindConvBNAct, InChannels: 1, OutChannels: 1,
		InHeight: 2, InWidth: 2, KernelSize: 3, Stride: 1, Padding: 0,
	}
	bank := memory.NewBank(64)
	if err := e.Run(bad, bank, Addresses{}); !errors.Is(err, ErrInvalidLayerConfig) {
		t.Fatalf("expected ErrInvalidLayerConfig, got %v", err)
	}
	if e.State() != StateIdle {
		t.Fatalf("state %v after rejected config, want idle", e.State())
	}

	good := LayerConfig{
		Kind: KindConvBNAct, InChannels: 4, OutChannels: 4,
		InHeight: 16, InWidth: 16, KernelSize: 3, Stride: 1, Padding: 1,
	}
	// Bank too small for the layer's tensors.
	if err := e.Run(good, bank, Addresses{}); !errors.Is(err, memory.ErrResourceOverflow) {
		t.Fatalf("expected ErrResourceOverflow, got %v", err)
	}
	if e.State() != StateIdle {
		t.Fatalf("state %v after overflow, want idle", e.State())
	}
}

func TestMacTileNoAllocs(t *testing.T) {
	cfg := LayerConfig{
		Kind: KindConvBNAct, InChannels: 4, OutChannels: 4,
		InHeight: 8, InWidth: 8, KernelSize: 3, Stride: 1, Padding: 1,
	}
	lim := TileLimits{MaxOutChannels: 4, MaxInChannels: 4, MaxRows: 8, MaxCols: 8}
	e := New(lim, nil)

	var tile TileDescriptor
	walkTiles(cfg, lim, func(t TileDescriptor) { tile = t })

	allocs := testing.AllocsPerRun(50, func() {
		macTile(e.accTile, e.inTile, e.wtTile, cfg, tile)
	})
	if allocs != 0 {
		t.Fatalf("unexpected allocs in MAC loop: %v", allocs)
	}
}
