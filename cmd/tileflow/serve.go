package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tileflow/internal/api"
	"github.com/samcharles93/tileflow/internal/driver"
	"github.com/samcharles93/tileflow/internal/engine"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		rateRPS     float64
		rateBurst   int64
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve inference over HTTP",
		Flags: append(append(commonBundleFlags(), tileFlags()...),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Float64Flag{
				Name:        "rate",
				Usage:       "max inference submissions per second (0 = unlimited)",
				Value:       0,
				Destination: &rateRPS,
			},
			&cli.Int64Flag{
				Name:        "rate-burst",
				Usage:       "rate limiter burst",
				Value:       4,
				Destination: &rateBurst,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := LoadConfig()
			applyServeConfig(cmd, cfg, &addr)
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
			drv := driver.New(engine.New(tileLimits(), log), log)
			runner := api.NewRunner(model, drv)

			server := api.NewServer(api.NewJobStore(), runner)
			if rateRPS > 0 {
				server.SetRateLimit(rateRPS, int(rateBurst))
			}

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting server",
				"address", addr,
				"network", model.Net.Name,
			)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
