package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tileflow/internal/engine"
	"github.com/samcharles93/tileflow/internal/logger"
)

var (
	bundlePath string
	logLevel   string
	logFormat  string

	tileOutCh int64
	tileInCh  int64
	tileRows  int64
	tileCols  int64
)

func commonBundleFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "bundle",
			Aliases:     []string{"b"},
			Usage:       "path to .tfb weight bundle",
			Destination: &bundlePath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json)",
			Value:       "pretty",
			Destination: &logFormat,
		},
	}
}

func tileFlags() []cli.Flag {
	lim := engine.DefaultTileLimits()
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "tile-out-channels",
			Usage:       "output channels per tile",
			Value:       int64(lim.MaxOutChannels),
			Destination: &tileOutCh,
		},
		&cli.Int64Flag{
			Name:        "tile-in-channels",
			Usage:       "input channels per accumulation pass",
			Value:       int64(lim.MaxInChannels),
			Destination: &tileInCh,
		},
		&cli.Int64Flag{
			Name:        "tile-rows",
			Usage:       "output rows per tile",
			Value:       int64(lim.MaxRows),
			Destination: &tileRows,
		},
		&cli.Int64Flag{
			Name:        "tile-cols",
			Usage:       "output columns per tile",
			Value:       int64(lim.MaxCols),
			Destination: &tileCols,
		},
	}
}

func tileLimits() engine.TileLimits {
	return engine.TileLimits{
		MaxOutChannels: int(tileOutCh),
		MaxInChannels:  int(tileInCh),
		MaxRows:        int(tileRows),
		MaxCols:        int(tileCols),
	}
}

func newLogger(ctx context.Context) (context.Context, logger.Logger, error) {
	level := logger.ParseLevel(logLevel)
	var log logger.Logger
	switch logFormat {
	case "json":
		log = logger.JSON(os.Stderr, level)
	case "pretty", "":
		log = logger.Pretty(os.Stderr, level)
	default:
		return ctx, nil, fmt.Errorf("log format: unknown %q", logFormat)
	}
	return logger.WithContext(ctx, log), log, nil
}
