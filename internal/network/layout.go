package network

import (
	"github.com/samcharles93/tileflow/internal/engine"
	"github.com/samcharles93/tileflow/internal/memory"
)

// Layout is the planned bulk-memory placement for running a network:
// two ping-pong feature-map regions each large enough for any layer's
// input or output, one contiguous weight region, and two contiguous
// batch-norm parameter regions, with per-layer offsets into each.
//
// Layer i reads from ping when i is even and writes to pong, and vice
// versa, so the network output lands in whichever region the final
// layer wrote.
type Layout struct {
	Ping memory.Addr
	Pong memory.Addr
	// FeatureWords is the size of each ping-pong region.
	FeatureWords int

	Weights memory.Addr
	BNScale memory.Addr
	BNShift memory.Addr

	// Per-layer offsets relative to the start of the bank.
	LayerWeights []memory.Addr
	LayerBNScale []memory.Addr
	LayerBNShift []memory.Addr

	// TotalWords is the bank capacity the layout needs.
	TotalWords int
}

// PlanLayout computes the memory layout for a validated network, starting
// at the front of an empty bank.
func PlanLayout(n *Network) Layout {
	feature := 0
	for _, l := range n.Layers {
		if in := l.Cfg.InputLen(); in > feature {
			feature = in
		}
		if out := l.Cfg.OutputLen(); out > feature {
			feature = out
		}
	}

	var lay Layout
	lay.FeatureWords = feature

	next := memory.Addr(0)
	take := func(words int) memory.Addr {
		a := next
		next += memory.Addr(words)
		return a
	}

	lay.Ping = take(feature)
	lay.Pong = take(feature)
	lay.Weights = take(n.WeightWords())
	lay.BNScale = take(n.BNWords())
	lay.BNShift = take(n.BNWords())
	lay.TotalWords = int(next)

	wOff := lay.Weights
	bnOff := 0
	for _, l := range n.Layers {
		lay.LayerWeights = append(lay.LayerWeights, wOff)
		lay.LayerBNScale = append(lay.LayerBNScale, lay.BNScale+memory.Addr(bnOff))
		lay.LayerBNShift = append(lay.LayerBNShift, lay.BNShift+memory.Addr(bnOff))
		wOff += memory.Addr(l.Cfg.WeightLen())
		bnOff += l.Cfg.BNLen()
	}
	return lay
}

// Addresses returns the five engine addresses for layer i, with the
// ping-pong feature-map swap applied.
func (lay Layout) Addresses(i int) engine.Addresses {
	in, out := lay.Ping, lay.Pong
	if i%2 == 1 {
		in, out = out, in
	}
	return engine.Addresses{
		Input:   in,
		Output:  out,
		Weights: lay.LayerWeights[i],
		BNScale: lay.LayerBNScale[i],
		BNShift: lay.LayerBNShift[i],
	}
}

// OutputAddr returns the region holding the final output after nLayers runs.
func (lay Layout) OutputAddr(nLayers int) memory.Addr {
	if nLayers%2 == 1 {
		return lay.Pong
	}
	return lay.Ping
}
