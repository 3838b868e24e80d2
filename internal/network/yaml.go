package network

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/samcharles93/tileflow/internal/engine"
)

// yamlNetwork is the on-disk schema. Layer shapes are spelled out in full
// rather than inferred, so a description file is also a readable record of
// the network.
type yamlNetwork struct {
	Name    string      `yaml:"name"`
	Classes int         `yaml:"classes"`
	Anchors []float64   `yaml:"anchors"`
	Layers  []yamlLayer `yaml:"layers"`
}

type yamlLayer struct {
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"`
	InChannels  int    `yaml:"in_channels"`
	OutChannels int    `yaml:"out_channels"`
	InHeight    int    `yaml:"in_height"`
	InWidth     int    `yaml:"in_width"`
	Kernel      int    `yaml:"kernel"`
	Stride      int    `yaml:"stride"`
	Padding     int    `yaml:"padding"`
}

// Parse decodes and validates a YAML network description.
func Parse(data []byte) (*Network, error) {
	var doc yamlNetwork
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse network description: %w", err)
	}

	n := &Network{
		Name:       doc.Name,
		NumClasses: doc.Classes,
		Anchors:    doc.Anchors,
	}
	for i, l := range doc.Layers {
		kind, err := engine.ParseLayerKind(l.Kind)
		if err != nil {
			return nil, fmt.Errorf("layer %d (%s): %w", i, l.Name, err)
		}
		n.Layers = append(n.Layers, Layer{
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

// Load reads and parses a network description file.
func Load(path string) (*Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read network description: %w", err)
	}
	return Parse(data)
}

// Marshal encodes a network back into the YAML schema.
func Marshal(n *Network) ([]byte, error) {
	doc := yamlNetwork{
		Name:    n.Name,
		Classes: n.NumClasses,
		Anchors: n.Anchors,
	}
	for _, l := range n.Layers {
		doc.Layers = append(doc.Layers, yamlLayer{
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
	return yaml.Marshal(doc)
}
