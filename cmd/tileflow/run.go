package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tileflow/internal/driver"
	"github.com/samcharles93/tileflow/internal/engine"
	"github.com/samcharles93/tileflow/internal/fixed"
	"github.com/samcharles93/tileflow/internal/postprocess"
	"github.com/samcharles93/tileflow/internal/ref"
	"github.com/samcharles93/tileflow/internal/tensor"
)

func runCmd() *cli.Command {
	var (
		inputPath  string
		randSeed   int64
		confThresh float64
		nmsThresh  float64
		reference  bool
		rawOut     bool
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Run one inference from a weight bundle",
		Flags: append(append(commonBundleFlags(), tileFlags()...),
			&cli.StringFlag{
				Name:        "input",
				Aliases:     []string{"i"},
				Usage:       "input feature map (.json float array or .bin little-endian int16 words)",
				Destination: &inputPath,
			},
			&cli.Int64Flag{
				Name:        "rand",
				Usage:       "fill the input with seeded random values instead of reading a file",
				Value:       -1,
				Destination: &randSeed,
			},
			&cli.Float64Flag{
				Name:        "conf",
				Usage:       "detection confidence threshold",
				Value:       0.25,
				Destination: &confThresh,
			},
			&cli.Float64Flag{
				Name:        "nms",
				Usage:       "non-maximum suppression IoU threshold",
				Value:       0.45,
				Destination: &nmsThresh,
			},
			&cli.BoolFlag{
				Name:        "reference",
				Usage:       "also run the float reference and report the max output error",
				Destination: &reference,
			},
			&cli.BoolFlag{
				Name:        "raw",
				Usage:       "print the raw output feature map instead of detections",
				Destination: &rawOut,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyRunConfig(cmd, LoadConfig())
			ctx, log, err := newLogger(ctx)
			if err != nil {
				return err
			}
			if bundlePath == "" {
				return fmt.Errorf("--bundle is required")
			}

			model, err := driver.LoadBundle(bundlePath)
			if err != nil {
				return err
			}
			n := model.Net
			ch, h, w := n.InputShape()
			log.Info("bundle loaded",
				"network", n.Name,
				"layers", len(n.Layers),
				"input", fmt.Sprintf("%dx%dx%d", ch, h, w),
			)

			input, err := loadInput(inputPath, randSeed, ch*h*w)
			if err != nil {
				return err
			}
			if err := model.SetInput(input); err != nil {
				return err
			}

			d := driver.New(engine.New(tileLimits(), log), log)
			if err := d.RunNetwork(ctx, n, model.Bank, model.Layout); err != nil {
				return err
			}
			out := model.Output()

			if reference {
				maxErr := referenceError(model, input, out)
				log.Info("float reference comparison", "max_abs_error", maxErr)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")

			if rawOut || n.NumClasses == 0 {
				outVals := model.OutputFloats()
				raw := make([]float64, len(outVals))
				for i, v := range outVals {
					raw[i] = float64(v)
				}
				return enc.Encode(raw)
			}

			_, gh, gw := n.OutputShape()
			dets := postprocess.Run(out, postprocess.Config{
				GridH:         gh,
				GridW:         gw,
				Classes:       n.NumClasses,
				Anchors:       n.Anchors,
				InputSize:     h,
				ConfThreshold: confThresh,
				NMSThreshold:  nmsThresh,
			})
			log.Info("decode complete", "detections", len(dets))
			return enc.Encode(dets)
		},
	}
}

func loadInput(path string, randSeed int64, want int) ([]fixed.Word, error) {
	if path == "" {
		if randSeed < 0 {
			return nil, fmt.Errorf("either --input or --rand is required")
		}
		words := make([]fixed.Word, want)
		tensor.FillRand(words, randSeed)
		return words, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var words []fixed.Word
	switch filepath.Ext(path) {
	case ".json":
		var vals []float64
		if err := json.Unmarshal(data, &vals); err != nil {
			return nil, fmt.Errorf("parse input %s: %w", path, err)
		}
		words = make([]fixed.Word, len(vals))
		for i, v := range vals {
			words[i] = fixed.FromFloat(v)
		}
	default:
		if len(data)%2 != 0 {
			return nil, fmt.Errorf("input %s: odd byte count", path)
		}
		words = make([]fixed.Word, len(data)/2)
		for i := range words {
			words[i] = fixed.Word(int16(binary.LittleEndian.Uint16(data[2*i:])))
		}
	}
	if len(words) != want {
		return nil, fmt.Errorf("input has %d words, network expects %d", len(words), want)
	}
	return words, nil
}

// referenceError runs the dequantized network through the float reference
// and returns the max absolute difference against the fixed-point output.
func referenceError(model *driver.Model, input, out []fixed.Word) float64 {
	cur := dequant(input)
	for li, l := range model.Net.Layers {
		cfg := l.Cfg
		weights := dequant(model.Weights(li).Words())
		cur = ref.Conv2D(cur, weights, cfg.InChannels, cfg.InHeight, cfg.InWidth,
			cfg.OutChannels, cfg.KernelSize, cfg.Stride, cfg.Padding)

		oh, ow := cfg.OutputDims()
		if cfg.Kind != engine.KindConvOnly {
			scale := dequant(model.Bank.Words(model.Layout.LayerBNScale[li], cfg.BNLen()))
			shift := dequant(model.Bank.Words(model.Layout.LayerBNShift[li], cfg.BNLen()))
			ref.BatchNormLeaky(cur, scale, shift, cfg.OutChannels, oh, ow, 0.125)
		}
		if cfg.Kind.Pools() {
			cur = ref.MaxPool2x2(cur, cfg.OutChannels, oh, ow)
		}
	}

	var maxErr float64
	for i := range out {
		err := out[i].Float() - float64(cur[i])
		if err < 0 {
			err = -err
		}
		if err > maxErr {
			maxErr = err
		}
	}
	return maxErr
}

func dequant(words []fixed.Word) []float32 {
	out := make([]float32, len(words))
	for i, w := range words {
		out[i] = float32(w.Float())
	}
	return out
}
