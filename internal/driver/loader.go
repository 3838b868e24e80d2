package driver

import (
	"fmt"

	"github.com/samcharles93/tileflow/internal/engine"
	"github.com/samcharles93/tileflow/internal/fixed"
	"github.com/samcharles93/tileflow/internal/memory"
	"github.com/samcharles93/tileflow/internal/network"
	"github.com/samcharles93/tileflow/internal/tensor"
	"github.com/samcharles93/tileflow/pkg/bundle"
)

// Model is a network loaded into a planned memory bank, ready to run.
type Model struct {
	Net    *network.Network
	Bank   *memory.Bank
	Layout network.Layout
}

// LoadBundle opens a weight bundle and stages its payloads into a freshly
// planned bank.
func LoadBundle(path string) (*Model, error) {
	bf, err := bundle.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = bf.Close() }()

	meta, err := bf.Metadata()
	if err != nil {
		return nil, err
	}
	n, err := MetaNetwork(meta)
	if err != nil {
		return nil, err
	}

	weights, err := bf.Words(bundle.SectionWeights)
	if err != nil {
		return nil, err
	}
	scale, err := bf.Words(bundle.SectionBNScale)
	if err != nil {
		return nil, err
	}
	shift, err := bf.Words(bundle.SectionBNShift)
	if err != nil {
		return nil, err
	}
	return NewModel(n, weights, scale, shift)
}

// NewModel plans a layout for a validated network and stages the parameter
// payloads into a new bank.
func NewModel(n *network.Network, weights, bnScale, bnShift []int16) (*Model, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	if len(weights) != n.WeightWords() {
		return nil, fmt.Errorf("%w: weight payload has %d words, network needs %d",
			bundle.ErrCorruptFile, len(weights), n.WeightWords())
	}
	if len(bnScale) != n.BNWords() || len(bnShift) != n.BNWords() {
		return nil, fmt.Errorf("%w: batch-norm payloads have %d/%d words, network needs %d",
			bundle.ErrCorruptFile, len(bnScale), len(bnShift), n.BNWords())
	}

	lay := network.PlanLayout(n)
	bank := memory.NewBank(lay.TotalWords)

	copyWords(bank.Words(lay.Weights, len(weights)), weights)
	copyWords(bank.Words(lay.BNScale, len(bnScale)), bnScale)
	copyWords(bank.Words(lay.BNShift, len(bnShift)), bnShift)

	return &Model{Net: n, Bank: bank, Layout: lay}, nil
}

// InputMap returns the channel-major view over the first layer's input
// region.
func (m *Model) InputMap() tensor.FeatureMap {
	ch, h, w := m.Net.InputShape()
	return tensor.FeatureMap{
		Bank: m.Bank, Base: m.Layout.Addresses(0).Input,
		Channels: ch, Height: h, Width: w,
	}
}

// OutputMap returns the view over the final feature map. Valid after a
// completed RunNetwork.
func (m *Model) OutputMap() tensor.FeatureMap {
	ch, h, w := m.Net.OutputShape()
	return tensor.FeatureMap{
		Bank: m.Bank, Base: m.Layout.OutputAddr(len(m.Net.Layers)),
		Channels: ch, Height: h, Width: w,
	}
}

// Weights returns the staged weight tensor of layer i.
func (m *Model) Weights(i int) tensor.WeightTensor {
	cfg := m.Net.Layers[i].Cfg
	return tensor.WeightTensor{
		Bank: m.Bank, Base: m.Layout.LayerWeights[i],
		OutCh: cfg.OutChannels, InCh: cfg.InChannels, K: cfg.KernelSize,
	}
}

// SetInput copies a quantized input image into the first layer's input
// region.
func (m *Model) SetInput(words []fixed.Word) error {
	fm := m.InputMap()
	if len(words) != fm.Len() {
		return fmt.Errorf("input has %d words, network expects %dx%dx%d",
			len(words), fm.Channels, fm.Height, fm.Width)
	}
	copy(fm.Words(), words)
	return nil
}

// SetInputFloats quantizes a float input image into the first layer's input
// region.
func (m *Model) SetInputFloats(vals []float32) error {
	fm := m.InputMap()
	if len(vals) != fm.Len() {
		return fmt.Errorf("input has %d values, network expects %dx%dx%d",
			len(vals), fm.Channels, fm.Height, fm.Width)
	}
	fm.FromFloats(vals)
	return nil
}

// Output returns the final feature map after a completed RunNetwork.
func (m *Model) Output() []fixed.Word { return m.OutputMap().Words() }

// OutputFloats dequantizes the final feature map into a fresh slice.
func (m *Model) OutputFloats() []float32 { return m.OutputMap().Floats() }

// MetaNetwork converts bundle metadata into a validated network.
func MetaNetwork(meta *bundle.Metadata) (*network.Network, error) {
	n := &network.Network{
		Name:       meta.Name,
		NumClasses: meta.Classes,
		Anchors:    meta.Anchors,
	}
	for i, l := range meta.Layers {
		kind, err := engine.ParseLayerKind(l.Kind)
		if err != nil {
			return nil, fmt.Errorf("layer %d (%s): %w", i, l.Name, err)
		}
		n.Layers = append(n.Layers, network.Layer{
			Name: l.Name,
			Cfg: engine.LayerConfig{
				Kind:        kind,
				InChannels:  l.InChannels,
				OutChannels: l.OutChannels,
				InHeight:    l.InHeight,
				InWidth:     l.InWidth,
				KernelSize:  l.Kernel,
				Stride:      l.Stride,
				Padding:     l.Padding,
			},
		})
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

// NetworkMeta is the inverse of MetaNetwork, for pack tooling.
func NetworkMeta(n *network.Network) *bundle.Metadata {
	meta := &bundle.Metadata{
		Name:    n.Name,
		Classes: n.NumClasses,
		Anchors: n.Anchors,
	}
	for _, l := range n.Layers {
		meta.Layers = append(meta.Layers, bundle.LayerMeta{
			Name:        l.Name,
			Kind:        l.Cfg.Kind.String(),
			InChannels:  l.Cfg.InChannels,
			OutChannels: l.Cfg.OutChannels,
			InHeight:    l.Cfg.InHeight,
			InWidth:     l.Cfg.InWidth,
			Kernel:      l.Cfg.KernelSize,
			Stride:      l.Cfg.Stride,
			Padding:     l.Cfg.Padding,
		})
	}
	return meta
}

func copyWords(dst []fixed.Word, src []int16) {
	for i, v := range src {
		dst[i] = fixed.Word(v)
	}
}
