// Package driver sequences whole-network inference on top of the engine:
// it owns the run handshake for each layer (wait ready, configure, start,
// consume completion) and walks the layer list with the ping-pong
// feature-map swap between layers.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samcharles93/tileflow/internal/engine"
	"github.com/samcharles93/tileflow/internal/logger"
	"github.com/samcharles93/tileflow/internal/memory"
	"github.com/samcharles93/tileflow/internal/network"
)

// ErrBusy reports a run attempt while the engine is not idle.
var ErrBusy = errors.New("engine busy")

// Driver runs layers and networks on one engine. It is not safe for
// concurrent use; callers that share a driver serialize around it.
type Driver struct {
	eng *engine.Engine
	log logger.Logger

	mu      sync.Mutex
	pending chan error
}

func New(eng *engine.Engine, log logger.Logger) *Driver {
	if log == nil {
		log = logger.Default()
	}
	return &Driver{eng: eng, log: log.With("component", "driver")}
}

// Engine returns the underlying engine.
func (d *Driver) Engine() *engine.Engine { return d.eng }

// Start launches one layer without blocking. The caller collects the result
// with Wait; Busy reports whether a launched layer is still outstanding.
// Start fails with ErrBusy if a previous launch has not been waited on or the
// engine is otherwise not idle.
func (d *Driver) Start(cfg engine.LayerConfig, bank *memory.Bank, addrs engine.Addresses) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending != nil {
		return fmt.Errorf("%w: layer already in flight", ErrBusy)
	}
	if st := d.eng.State(); st != engine.StateIdle {
		return fmt.Errorf("%w: state %s", ErrBusy, st)
	}
	ch := make(chan error, 1)
	go func() { ch <- d.eng.Run(cfg, bank, addrs) }()
	d.pending = ch
	return nil
}

// Busy reports whether a layer launched by Start has not been collected yet.
func (d *Driver) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// Wait blocks until the layer launched by Start finishes, acknowledges the
// completion, and returns the run's error. A context error aborts the wait
// only; the layer still runs to completion and a later Wait collects it.
func (d *Driver) Wait(ctx context.Context) error {
	d.mu.Lock()
	ch := d.pending
	d.mu.Unlock()
	if ch == nil {
		return errors.New("driver: wait without start")
	}
	select {
	case err := <-ch:
		d.mu.Lock()
		d.pending = nil
		d.mu.Unlock()
		if err != nil {
			return err
		}
		d.eng.AckDone()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunLayer executes one layer: it verifies the engine is ready, starts the
// run, and consumes the completion status so the engine is idle again on
// return.
func (d *Driver) RunLayer(ctx context.Context, cfg engine.LayerConfig, bank *memory.Bank, addrs engine.Addresses) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.Busy() {
		return fmt.Errorf("%w: layer already in flight", ErrBusy)
	}
	if d.eng.State() != engine.StateIdle {
		return fmt.Errorf("%w: state %s", ErrBusy, d.eng.State())
	}

	if err := d.eng.Run(cfg, bank, addrs); err != nil {
		return err
	}
	d.eng.AckDone()
	return nil
}

// RunNetwork executes every layer of a validated network against the
// planned layout. The final feature map is left at lay.OutputAddr.
// Cancellation is checked between layers; a started layer always runs to
// completion.
func (d *Driver) RunNetwork(ctx context.Context, n *network.Network, bank *memory.Bank, lay network.Layout) error {
	start := time.Now()
	for i, l := range n.Layers {
		layerStart := time.Now()
		if err := d.RunLayer(ctx, l.Cfg, bank, lay.Addresses(i)); err != nil {
			return fmt.Errorf("layer %d (%s): %w", i, l.Name, err)
		}
		d.log.Debug("layer complete",
			"layer", l.Name,
			"index", i,
			"duration", time.Since(layerStart),
		)
	}
	d.log.Info("network complete",
		"network", n.Name,
		"layers", len(n.Layers),
		"duration", time.Since(start),
	)
	return nil
}
