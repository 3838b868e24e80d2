// Package engine implements the tiled fixed-point convolution dataflow core.
//
// One Engine processes one network layer at a time: it decomposes the layer
// into working-buffer-sized tiles, stages inputs (with zero-padded halo) and
// weights from bulk memory, accumulates dot products in the wide fixed-point
// type, applies fused batch-norm + activation once per finalized output
// tile, and writes results back to bulk memory. Layers of kind
// conv_bn_act_pool get a second full max-pool pass after all tiles are
// written.
//
// The engine is a single-flow synchronous pipeline. Its only mutable state
// is the set of working buffers, allocated once from TileLimits and reused
// across tiles and layers, plus the run-state word.
package engine

import (
	"fmt"
	"sync/atomic"

	"github.com/samcharles93/tileflow/internal/fixed"
	"github.com/samcharles93/tileflow/internal/logger"
	"github.com/samcharles93/tileflow/internal/memory"
)

// State is the engine's run state, readable by polling.
type State int32

const (
	// StateIdle means the engine accepts a new layer run.
	StateIdle State = iota
	// StateRunning means a layer run is in progress. Issuing another start
	// now is a precondition violation.
	StateRunning
	// StateDone means the last run completed; the driver consumes the
	// status via AckDone before the next run.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Addresses carries the five bulk-memory base addresses of a layer run.
// The engine reads input, weights and batch-norm parameters, and writes
// output; it owns none of the regions.
type Addresses struct {
	Input   memory.Addr
	Output  memory.Addr
	Weights memory.Addr
	BNScale memory.Addr
	BNShift memory.Addr
}

// Engine is the tiled convolution core. One logical worker advances the
// tile loop; there is no concurrent writer to any of its buffers, so no
// locking is needed.
type Engine struct {
	lim TileLimits
	log logger.Logger

	state atomic.Int32

	// Working buffers, the Go rendition of the original on-chip BRAM tile
	// buffers. Sized once at construction, reused for every tile.
	inTile  []fixed.Word
	wtTile  []fixed.Word
	accTile []fixed.Acc
}

// New creates an engine with working buffers sized from lim.
func New(lim TileLimits, log logger.Logger) *Engine {
	if !lim.valid() {
		panic("engine: tile limits must be positive")
	}
	if log == nil {
		log = logger.Default()
	}

	// Worst-case halo-extended window: stride 2, kernel 3.
	tileIH := (lim.MaxRows-1)*2 + 3
	tileIW := (lim.MaxCols-1)*2 + 3

	return &Engine{
		lim:     lim,
		log:     log.With("component", "engine"),
		inTile:  make([]fixed.Word, lim.MaxInChannels*tileIH*tileIW),
		wtTile:  make([]fixed.Word, lim.MaxOutChannels*lim.MaxInChannels*3*3),
		accTile: make([]fixed.Acc, lim.MaxOutChannels*lim.MaxRows*lim.MaxCols),
	}
}

// Limits returns the engine's tile limits.
func (e *Engine) Limits() TileLimits { return e.lim }

// State returns the current run state.
func (e *Engine) State() State { return State(e.state.Load()) }

// AckDone consumes a completed run's status, returning the engine to idle.
// Calling it in any state but done is a precondition violation.
func (e *Engine) AckDone() {
	if !e.state.CompareAndSwap(int32(StateDone), int32(StateIdle)) {
		panic("engine: AckDone without a completed run")
	}
}

// Run executes one layer to completion. The configuration is validated and
// the memory ranges checked before the run starts; once RUNNING, the tile
// loop has no failure path and always proceeds to DONE. There is no mid-run
// cancellation.
//
// Run must only be issued while the engine is idle; a start while RUNNING
// is a precondition violation and panics.
func (e *Engine) Run(cfg LayerConfig, bank *memory.Bank, addrs Addresses) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := e.checkRanges(cfg, bank, addrs); err != nil {
		return err
	}

	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		panic("engine: start issued while not idle")
	}

	input := bank.Words(addrs.Input, cfg.InputLen())
	output := bank.Words(addrs.Output, cfg.OutputLen())
	weights := bank.Words(addrs.Weights, cfg.WeightLen())
	bnScale := bank.Words(addrs.BNScale, cfg.BNLen())
	bnShift := bank.Words(addrs.BNShift, cfg.BNLen())

	outH, outW := cfg.OutputDims()
	e.log.Debug("layer start",
		"kind", cfg.Kind.String(),
		"in", fmt.Sprintf("%dx%dx%d", cfg.InChannels, cfg.InHeight, cfg.InWidth),
		"out", fmt.Sprintf("%dx%dx%d", cfg.OutChannels, outH, outW),
	)

	walkTiles(cfg, e.lim, func(t TileDescriptor) {
		if t.FirstIC {
			e.zeroAcc(t)
		}

		stageInput(e.inTile, input, cfg, t)
		stageWeights(e.wtTile, weights, cfg, t)
		macTile(e.accTile, e.inTile, e.wtTile, cfg, t)

		if t.LastIC {
			finalizeTile(output, e.accTile, bnScale, bnShift, cfg, t)
		}
	})

	if cfg.Kind.Pools() {
		maxPoolInPlace(output, cfg.OutChannels, outH, outW)
	}

	e.state.Store(int32(StateDone))
	e.log.Debug("layer done")
	return nil
}

// zeroAcc clears the accumulator region an output tile will use. Done
// exactly once per output tile, before its first input-channel pass; later
// passes accumulate on top.
func (e *Engine) zeroAcc(t TileDescriptor) {
	n := t.OC.Len() * t.OH.Len() * t.OW.Len()
	clear(e.accTile[:n])
}

func (e *Engine) checkRanges(cfg LayerConfig, bank *memory.Bank, addrs Addresses) error {
	checks := []struct {
		name string
		base memory.Addr
		n    int
	}{
		{"input", addrs.Input, cfg.InputLen()},
		{"output", addrs.Output, cfg.OutputLen()},
		{"weights", addrs.Weights, cfg.WeightLen()},
		{"bn_scale", addrs.BNScale, cfg.BNLen()},
		{"bn_shift", addrs.BNShift, cfg.BNLen()},
	}
	for _, c := range checks {
		if err := bank.CheckRange(c.base, c.n); err != nil {
			return fmt.Errorf("%s region: %w", c.name, err)
		}
	}
	return nil
}
