// Package network describes a full convolutional network as an ordered list
// of layer configurations, and plans the bulk-memory layout a driver needs
// to run it layer by layer.
package network

import (
	"errors"
	"fmt"

	"github.com/samcharles93/tileflow/internal/engine"
)

// ErrInvalidNetwork reports a network description whose layers do not form
// a runnable chain.
var ErrInvalidNetwork = errors.New("invalid network description")

// Layer is one entry in a network: a name for logs and tooling plus the
// layer configuration handed to the engine.
type Layer struct {
	Name string
	Cfg  engine.LayerConfig
}

// Network is a complete feed-forward network description. Anchors and class
// count only matter for detection networks whose final layer feeds the
// decoder; they may be zero for plain feature extractors.
type Network struct {
	Name       string
	NumClasses int
	// Anchors holds (width, height) pairs in grid-cell units.
	Anchors []float64
	Layers  []Layer
}

// NumAnchors returns the number of anchor boxes.
func (n *Network) NumAnchors() int { return len(n.Anchors) / 2 }

// Validate checks every layer configuration and the chaining between
// consecutive layers: each layer's input shape must equal its predecessor's
// output shape, after pooling where the predecessor pools.
func (n *Network) Validate() error {
	if len(n.Layers) == 0 {
		return fmt.Errorf("%w: no layers", ErrInvalidNetwork)
	}
	if len(n.Anchors)%2 != 0 {
		return fmt.Errorf("%w: anchors must be (w,h) pairs, got %d values",
			ErrInvalidNetwork, len(n.Anchors))
	}

	for i, l := range n.Layers {
		if err := l.Cfg.Validate(); err != nil {
			return fmt.Errorf("layer %d (%s): %w", i, l.Name, err)
		}
		if i == 0 {
			continue
		}
		prev := n.Layers[i-1].Cfg
		ch, h, w := layerOutputShape(prev)
		if l.Cfg.InChannels != ch || l.Cfg.InHeight != h || l.Cfg.InWidth != w {
			return fmt.Errorf("%w: layer %d (%s) expects %dx%dx%d input, layer %d produces %dx%dx%d",
				ErrInvalidNetwork, i, l.Name,
				l.Cfg.InChannels, l.Cfg.InHeight, l.Cfg.InWidth, i-1, ch, h, w)
		}
	}

	if n.NumClasses > 0 {
		want := n.NumAnchors() * (5 + n.NumClasses)
		last := n.Layers[len(n.Layers)-1].Cfg
		if last.OutChannels != want {
			return fmt.Errorf("%w: final layer has %d channels, %d anchors x (5+%d classes) needs %d",
				ErrInvalidNetwork, last.OutChannels, n.NumAnchors(), n.NumClasses, want)
		}
	}
	return nil
}

// InputShape returns the (channels, height, width) of the network input.
func (n *Network) InputShape() (ch, h, w int) {
	first := n.Layers[0].Cfg
	return first.InChannels, first.InHeight, first.InWidth
}

// OutputShape returns the (channels, height, width) of the final layer's
// output, after its pooling pass if it has one.
func (n *Network) OutputShape() (ch, h, w int) {
	return layerOutputShape(n.Layers[len(n.Layers)-1].Cfg)
}

// WeightWords returns the total weight storage across all layers, in words.
func (n *Network) WeightWords() int {
	total := 0
	for _, l := range n.Layers {
		total += l.Cfg.WeightLen()
	}
	return total
}

// BNWords returns the per-parameter batch-norm storage across all layers,
// in words. Scale and shift each need this much.
func (n *Network) BNWords() int {
	total := 0
	for _, l := range n.Layers {
		total += l.Cfg.BNLen()
	}
	return total
}

func layerOutputShape(cfg engine.LayerConfig) (ch, h, w int) {
	if cfg.Kind.Pools() {
		h, w = cfg.PooledDims()
	} else {
		h, w = cfg.OutputDims()
	}
	return cfg.OutChannels, h, w
}
