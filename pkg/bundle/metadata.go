package bundle

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Metadata is the JSON payload of the network description section. It
// mirrors the network description schema so a bundle is self-describing:
// the payload layout of the weight and batch-norm sections follows from
// the layer list alone.
type Metadata struct {
	Name    string      `json:"name"`
	Classes int         `json:"classes,omitempty"`
	Anchors []float64   `json:"anchors,omitempty"`
	Layers  []LayerMeta `json:"layers"`
}

// LayerMeta is one layer's shape record.
type LayerMeta struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	InChannels  int    `json:"in_channels"`
	OutChannels int    `json:"out_channels"`
	InHeight    int    `json:"in_height"`
	InWidth     int    `json:"in_width"`
	Kernel      int    `json:"kernel"`
	Stride      int    `json:"stride"`
	Padding     int    `json:"padding"`
}

// WeightWords returns the layer's weight payload size in words.
func (l LayerMeta) WeightWords() int {
	return l.OutChannels * l.InChannels * l.Kernel * l.Kernel
}

// WeightWords returns the total weight payload size in words.
func (m *Metadata) WeightWords() int {
	total := 0
	for _, l := range m.Layers {
		total += l.WeightWords()
	}
	return total
}

// BNWords returns the total size in words of each batch-norm parameter
// payload.
func (m *Metadata) BNWords() int {
	total := 0
	for _, l := range m.Layers {
		total += l.OutChannels
	}
	return total
}

func marshalMetadata(m *Metadata) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode bundle metadata: %w", err)
	}
	return data, nil
}

func unmarshalMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: bad metadata: %v", ErrCorruptFile, err)
	}
	if len(m.Layers) == 0 {
		return nil, fmt.Errorf("%w: metadata has no layers", ErrCorruptFile)
	}
	return &m, nil
}
