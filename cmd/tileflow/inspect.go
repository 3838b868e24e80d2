package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tileflow/internal/driver"
	"github.com/samcharles93/tileflow/internal/network"
	"github.com/samcharles93/tileflow/pkg/bundle"
)

func inspectCmd() *cli.Command {
	var (
		showSections bool
		showLayout   bool
		asJSON       bool
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Show the contents of a .tfb weight bundle",
		Flags: append(commonBundleFlags(),
			&cli.BoolFlag{
				Name:        "sections",
				Usage:       "list raw file sections",
				Destination: &showSections,
			},
			&cli.BoolFlag{
				Name:        "layout",
				Usage:       "show the planned memory layout",
				Destination: &showLayout,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "emit metadata as JSON",
				Destination: &asJSON,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyRunConfig(cmd, LoadConfig())
			if bundlePath == "" {
				return fmt.Errorf("--bundle is required")
			}
			bf, err := bundle.Open(bundlePath)
			if err != nil {
				return err
			}
			defer func() { _ = bf.Close() }()

			meta, err := bf.Metadata()
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(meta)
			}

			fmt.Printf("bundle:  %s\n", bundlePath)
			fmt.Printf("format:  v%d.%d\n", bf.Header.Major, bf.Header.Minor)
			fmt.Printf("network: %s\n", meta.Name)
			if meta.Classes > 0 {
				fmt.Printf("classes: %d (%d anchors)\n", meta.Classes, len(meta.Anchors)/2)
			}
			fmt.Printf("layers:  %d\n\n", len(meta.Layers))

			fmt.Printf("%-8s %-18s %-14s %-10s %s\n", "NAME", "KIND", "INPUT", "KERNEL", "WEIGHTS")
			for _, l := range meta.Layers {
				fmt.Printf("%-8s %-18s %-14s %-10s %d\n",
					l.Name, l.Kind,
					fmt.Sprintf("%dx%dx%d", l.InChannels, l.InHeight, l.InWidth),
					fmt.Sprintf("%dx%d s%d p%d", l.Kernel, l.Kernel, l.Stride, l.Padding),
					l.WeightWords(),
				)
			}

			if showSections {
				fmt.Printf("\n%-8s %-10s %-12s %s\n", "TYPE", "VERSION", "OFFSET", "SIZE")
				for _, s := range bf.Sections {
					fmt.Printf("0x%04x   %-10d %-12d %d\n", s.Type, s.Version, s.Offset, s.Size)
				}
			}

			if showLayout {
				n, err := driver.MetaNetwork(meta)
				if err != nil {
					return err
				}
				lay := network.PlanLayout(n)
				fmt.Printf("\nmemory layout (%d words, %d KiB):\n", lay.TotalWords, lay.TotalWords*2/1024)
				fmt.Printf("  ping     %8d  (%d words)\n", lay.Ping, lay.FeatureWords)
				fmt.Printf("  pong     %8d  (%d words)\n", lay.Pong, lay.FeatureWords)
				fmt.Printf("  weights  %8d  (%d words)\n", lay.Weights, n.WeightWords())
				fmt.Printf("  bn scale %8d  (%d words)\n", lay.BNScale, n.BNWords())
				fmt.Printf("  bn shift %8d  (%d words)\n", lay.BNShift, n.BNWords())
			}
			return nil
		},
	}
}
