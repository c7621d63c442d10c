// Package server exposes the tiler over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/geohash-tiler/internal/core/config"
	"github.com/mohammed-shakir/geohash-tiler/internal/core/health"
	middleware "github.com/mohammed-shakir/geohash-tiler/internal/core/middleware"
	"github.com/mohammed-shakir/geohash-tiler/internal/core/router"
)

// NewHandler builds the routed handler. deps are pinged by /readyz.
func NewHandler(cfg config.Config, logger *slog.Logger, h *router.Handlers, deps map[string]health.Pinger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger, cfg.Layer))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(cfg.SinkOpTimeout, deps))
	r.Get(cfg.MetricsPath, promhttp.Handler().ServeHTTP)
	h.Mount(r)
	return r
}

// Run serves until ctx is done, then drains in-flight splits.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, h *router.Handlers, deps map[string]health.Pinger) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(cfg, logger, h, deps),
		ReadHeaderTimeout: 5 * time.Second,
		// uploads can be large
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "err", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
