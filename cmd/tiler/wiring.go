package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mohammed-shakir/geohash-tiler/internal/cache/redisstore"
	"github.com/mohammed-shakir/geohash-tiler/internal/core/config"
	"github.com/mohammed-shakir/geohash-tiler/internal/core/health"
	"github.com/mohammed-shakir/geohash-tiler/internal/core/observability"
	"github.com/mohammed-shakir/geohash-tiler/internal/core/router"
	"github.com/mohammed-shakir/geohash-tiler/internal/logger"
	"github.com/mohammed-shakir/geohash-tiler/internal/metrics"
	"github.com/mohammed-shakir/geohash-tiler/internal/sink"
	"github.com/mohammed-shakir/geohash-tiler/internal/sink/dedupe"
	"github.com/mohammed-shakir/geohash-tiler/internal/sink/kafkasink"
	"github.com/mohammed-shakir/geohash-tiler/internal/sink/natssink"
	"github.com/mohammed-shakir/geohash-tiler/internal/sink/redissink"
)

func newLogger(cfg config.Config, component string, out io.Writer) *slog.Logger {
	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Layer:     cfg.Layer,
		Component: component,
	}, out)
	observability.SetLayer(cfg.Layer)
	observability.ExposeBuildInfo(Version)
	return logger.NewSlog(&zl)
}

// outputs is the configured sink plus what the server needs to look tiles
// up and report readiness.
type outputs struct {
	sink  sink.Sink
	index router.IndexLookup
	deps  map[string]health.Pinger
}

func (o outputs) Close() error { return sink.Close(o.sink) }

func openSink(ctx context.Context, cfg config.Config, log *slog.Logger) (outputs, error) {
	var out outputs
	switch cfg.SinkDriver {
	case config.SinkNone, "":
		out.sink = sink.Discard
	case config.SinkRedis:
		store, err := redisstore.New(ctx, cfg.Redis.Addr,
			redisstore.WithReadTimeout(cfg.SinkOpTimeout),
			redisstore.WithWriteTimeout(cfg.SinkOpTimeout),
		)
		if err != nil {
			return out, fmt.Errorf("redis sink: %w", err)
		}
		rs := redissink.New(store, redissink.Config{
			Layer:     cfg.Layer,
			TTL:       cfg.Redis.TileTTL,
			H3Res:     cfg.Redis.H3Res,
			OpTimeout: cfg.SinkOpTimeout,
		}, log)
		out.sink = rs
		if cfg.Redis.H3Res > 0 {
			out.index = rs
		}
		out.deps = map[string]health.Pinger{"redis": store}
	case config.SinkKafka:
		ks, err := kafkasink.New(cfg.Kafka.Brokers, kafkasink.Config{
			Topic: cfg.Kafka.Topic,
			Layer: cfg.Layer,
			Queue: cfg.Kafka.Queue,
		}, log)
		if err != nil {
			return out, err
		}
		out.sink = ks
	case config.SinkNATS:
		ns, err := natssink.New(natssink.Config{
			URL:     cfg.NATS.URL,
			Subject: cfg.NATS.Subject,
			Layer:   cfg.Layer,
			Stream:  cfg.NATS.Stream,
			MaxAge:  cfg.NATS.MaxAge,
		}, log)
		if err != nil {
			return out, err
		}
		out.sink = ns
	default:
		return out, fmt.Errorf("unknown sink driver %q", cfg.SinkDriver)
	}

	if cfg.DedupeSize > 0 {
		out.sink = dedupe.New(out.sink, cfg.Layer, cfg.DedupeSize)
	}
	log.Info("sink ready", "driver", string(cfg.SinkDriver), "dedupe", cfg.DedupeSize)
	return out, nil
}

func newMetrics(cfg config.Config) *metrics.Provider {
	return metrics.Init(metrics.Config{
		Enabled: cfg.MetricsEnabled,
		Addr:    cfg.MetricsAddr,
		Path:    cfg.MetricsPath,
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
}
