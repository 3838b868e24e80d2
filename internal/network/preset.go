package network

import "github.com/samcharles93/tileflow/internal/engine"

// TinyYOLO returns the built-in 7-layer Tiny-YOLO detection network:
// 224x224x3 in, 7x7x125 out (5 anchors x (5 + 20 VOC classes)).
func TinyYOLO() *Network {
	conv := func(name string, kind engine.LayerKind, inCh, outCh, size, kernel, pad int) Layer {
		return Layer{
			Name: name,
			Cfg: engine.LayerConfig{
				Kind:        kind,
				InChannels:  inCh,
				OutChannels: outCh,
				InHeight:    size,
				InWidth:     size,
				KernelSize:  kernel,
				Stride:      1,
				Padding:     pad,
			},
		}
	}

	return &Network{
		Name:       "tiny-yolo",
		NumClasses: 20,
		Anchors: []float64{
			1.08, 1.19,
			3.42, 4.41,
			6.63, 11.38,
			9.42, 5.11,
			16.62, 10.52,
		},
		Layers: []Layer{
			conv("conv1", engine.KindConvBNActPool, 3, 16, 224, 3, 1),
			conv("conv2", engine.KindConvBNActPool, 16, 32, 112, 3, 1),
			conv("conv3", engine.KindConvBNActPool, 32, 64, 56, 3, 1),
			conv("conv4", engine.KindConvBNActPool, 64, 128, 28, 3, 1),
			conv("conv5", engine.KindConvBNAct, 128, 256, 14, 3, 1),
			conv("conv6", engine.KindConvBNActPool, 256, 512, 14, 3, 1),
			conv("conv7", engine.KindConvOnly, 512, 125, 7, 1, 0),
		},
	}
}
