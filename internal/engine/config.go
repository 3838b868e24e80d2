package engine

import (
	"errors"
	"fmt"
)

// ErrInvalidLayerConfig reports a layer configuration the tile scheduler
// cannot run. It is raised before a run starts, never mid-tile.
var ErrInvalidLayerConfig = errors.New("invalid layer config")

// LayerKind selects which post-convolution operations a layer applies.
type LayerKind int

const (
	// KindConvBNAct is convolution, folded batch-norm, LeakyReLU.
	KindConvBNAct LayerKind = iota
	// KindConvBNActPool adds a 2x2/stride-2 max-pool pass after the layer.
	KindConvBNActPool
	// KindConvOnly skips batch-norm and activation (identity). Used by the
	// network's output layer.
	KindConvOnly
)

func (k LayerKind) String() string {
	switch k {
	case KindConvBNAct:
		return "conv_bn_act"
	case KindConvBNActPool:
		return "conv_bn_act_pool"
	case KindConvOnly:
		return "conv_only"
	default:
		return fmt.Sprintf("LayerKind(%d)", int(k))
	}
}

// ParseLayerKind converts a layer kind name to its LayerKind.
func ParseLayerKind(s string) (LayerKind, error) {
	switch s {
	case "conv_bn_act":
		return KindConvBNAct, nil
	case "conv_bn_act_pool":
		return KindConvBNActPool, nil
	case "conv_only":
		return KindConvOnly, nil
	default:
		return 0, fmt.Errorf("%w: unknown layer kind %q", ErrInvalidLayerConfig, s)
	}
}

// Pools reports whether the layer runs the max-pool pass.
func (k LayerKind) Pools() bool { return k == KindConvBNActPool }

// LayerConfig describes one convolution layer run.
type LayerConfig struct {
	Kind        LayerKind
	InChannels  int
	OutChannels int
	InHeight    int
	InWidth     int
	KernelSize  int // 1 or 3
	Stride      int // 1 or 2
	Padding     int // 0 or 1
}

// OutputDims computes the convolution output height and width:
// (in + 2*padding - kernel) / stride + 1, integer division.
func (c LayerConfig) OutputDims() (h, w int) {
	h = (c.InHeight + 2*c.Padding - c.KernelSize) / c.Stride
	w = (c.InWidth + 2*c.Padding - c.KernelSize) / c.Stride
	return h + 1, w + 1
}

// PooledDims computes the max-pool output dimensions (floor division). Odd
// trailing rows and columns are dropped.
func (c LayerConfig) PooledDims() (h, w int) {
	oh, ow := c.OutputDims()
	return oh / 2, ow / 2
}

// Validate rejects configurations the engine cannot run. It must pass before
// a run starts; the tile loop itself has no failure path.
func (c LayerConfig) Validate() error {
	switch c.Kind {
	case KindConvBNAct, KindConvBNActPool, KindConvOnly:
	default:
		return fmt.Errorf("%w: unknown layer kind %d", ErrInvalidLayerConfig, int(c.Kind))
	}
	if c.InChannels <= 0 || c.OutChannels <= 0 {
		return fmt.Errorf("%w: channels %dx%d", ErrInvalidLayerConfig, c.InChannels, c.OutChannels)
	}
	if c.InHeight <= 0 || c.InWidth <= 0 {
		return fmt.Errorf("%w: input %dx%d", ErrInvalidLayerConfig, c.InHeight, c.InWidth)
	}
	if c.KernelSize != 1 && c.KernelSize != 3 {
		return fmt.Errorf("%w: kernel size %d", ErrInvalidLayerConfig, c.KernelSize)
	}
	if c.Stride != 1 && c.Stride != 2 {
		return fmt.Errorf("%w: stride %d", ErrInvalidLayerConfig, c.Stride)
	}
	if c.Padding != 0 && c.Padding != 1 {
		return fmt.Errorf("%w: padding %d", ErrInvalidLayerConfig, c.Padding)
	}
	oh, ow := c.OutputDims()
	if oh <= 0 || ow <= 0 {
		return fmt.Errorf("%w: non-positive output %dx%d", ErrInvalidLayerConfig, oh, ow)
	}
	return nil
}

// InputLen, OutputLen, WeightLen and BNLen give the bulk-memory footprints of
// a layer's tensors in words.

func (c LayerConfig) InputLen() int { return c.InChannels * c.InHeight * c.InWidth }

func (c LayerConfig) OutputLen() int {
	oh, ow := c.OutputDims()
	return c.OutChannels * oh * ow
}

func (c LayerConfig) WeightLen() int {
	return c.OutChannels * c.InChannels * c.KernelSize * c.KernelSize
}

func (c LayerConfig) BNLen() int { return c.OutChannels }
