package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/geohash-tiler/internal/core/router"
	"github.com/mohammed-shakir/geohash-tiler/internal/core/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tiler over HTTP",
		Long: `Start the HTTP API:
  GET  /healthz, /readyz, /metrics
  GET  /v1/cells?bbox=minLon,minLat,maxLon,maxLat&precision=
  POST /v1/split?bbox=...&ts=&precision=&min_coverage=&boundary=   (body: image)
  GET  /v1/index/h3/{cell}

When METRICS_ENABLED is true a second listener on METRICS_ADDR serves a
private registry with runtime collectors.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "listen address (ADDR)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cfg, "serve", cmd.ErrOrStderr())
	log.Info("starting tiler",
		"addr", cfg.Addr,
		"version", Version,
		"layer", cfg.Layer,
		"precision", cfg.Precision,
		"sink", string(cfg.SinkDriver),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out, err := openSink(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			log.Warn("close sink", "err", err)
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	if cfg.MetricsEnabled {
		p := newMetrics(cfg)
		g.Go(func() error { return p.Serve(ctx, log) })
	}
	g.Go(func() error {
		h := router.New(log, cfg, out.sink, out.index)
		return server.Run(ctx, cfg, log, h, out.deps)
	})
	return g.Wait()
}
