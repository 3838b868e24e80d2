package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tileflow/internal/driver"
	"github.com/samcharles93/tileflow/internal/fixed"
	"github.com/samcharles93/tileflow/internal/network"
	"github.com/samcharles93/tileflow/internal/tensor"
	"github.com/samcharles93/tileflow/pkg/bundle"
)

func packCmd() *cli.Command {
	var (
		netPath     string
		preset      string
		outPath     string
		weightsPath string
		scalePath   string
		shiftPath   string
		randSeed    int64
	)

	return &cli.Command{
		Name:  "pack",
		Usage: "Build a .tfb weight bundle from a network description and parameter payloads",
		Flags: append(commonBundleFlags(),
			&cli.StringFlag{
				Name:        "network",
				Aliases:     []string{"n"},
				Usage:       "network description YAML",
				Destination: &netPath,
			},
			&cli.StringFlag{
				Name:        "preset",
				Usage:       "built-in network preset (tiny-yolo)",
				Destination: &preset,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output bundle path",
				Value:       "weights.tfb",
				Destination: &outPath,
			},
			&cli.StringFlag{
				Name:        "weights",
				Usage:       "raw little-endian int16 weight payload",
				Destination: &weightsPath,
			},
			&cli.StringFlag{
				Name:        "bn-scale",
				Usage:       "raw little-endian int16 batch-norm scale payload",
				Destination: &scalePath,
			},
			&cli.StringFlag{
				Name:        "bn-shift",
				Usage:       "raw little-endian int16 batch-norm shift payload",
				Destination: &shiftPath,
			},
			&cli.Int64Flag{
				Name:        "rand",
				Usage:       "fill payloads with seeded random values (for test bundles)",
				Value:       -1,
				Destination: &randSeed,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_, log, err := newLogger(ctx)
			if err != nil {
				return err
			}

			n, err := resolveNetwork(netPath, preset)
			if err != nil {
				return err
			}

			var weights, scale, shift []int16
			if randSeed >= 0 {
				weights = randPayload(n.WeightWords(), randSeed)
				scale = randPayload(n.BNWords(), randSeed+1)
				shift = randPayload(n.BNWords(), randSeed+2)
			} else {
				if weights, err = readPayload(weightsPath, n.WeightWords()); err != nil {
					return fmt.Errorf("weights: %w", err)
				}
				if scale, err = readPayload(scalePath, n.BNWords()); err != nil {
					return fmt.Errorf("bn-scale: %w", err)
				}
				if shift, err = readPayload(shiftPath, n.BNWords()); err != nil {
					return fmt.Errorf("bn-shift: %w", err)
				}
			}

			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			w, err := bundle.NewWriter(f)
			if err != nil {
				return err
			}
			if err := w.WriteMetadata(driver.NetworkMeta(n)); err != nil {
				return err
			}
			if err := w.WriteWords(bundle.SectionWeights, weights); err != nil {
				return err
			}
			if err := w.WriteWords(bundle.SectionBNScale, scale); err != nil {
				return err
			}
			if err := w.WriteWords(bundle.SectionBNShift, shift); err != nil {
				return err
			}
			if err := w.Finalise(); err != nil {
				return err
			}

			log.Info("bundle written",
				"path", outPath,
				"network", n.Name,
				"weight_words", len(weights),
			)
			return nil
		},
	}
}

func resolveNetwork(netPath, preset string) (*network.Network, error) {
	switch {
	case netPath != "" && preset != "":
		return nil, fmt.Errorf("--network and --preset are mutually exclusive")
	case netPath != "":
		return network.Load(netPath)
	case preset == "tiny-yolo":
		return network.TinyYOLO(), nil
	case preset != "":
		return nil, fmt.Errorf("unknown preset %q", preset)
	default:
		return nil, fmt.Errorf("either --network or --preset is required")
	}
}

func readPayload(path string, want int) ([]int16, error) {
	if path == "" {
		return nil, fmt.Errorf("payload path is required (or use --rand)")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) != 2*want {
		return nil, fmt.Errorf("%s holds %d words, network needs %d", path, len(data)/2, want)
	}
	out := make([]int16, want)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return out, nil
}

func randPayload(n int, seed int64) []int16 {
	words := make([]fixed.Word, n)
	tensor.FillRand(words, seed)
	out := make([]int16, n)
	for i, w := range words {
		out[i] = int16(w)
	}
	return out
}
