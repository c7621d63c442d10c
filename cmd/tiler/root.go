package main

import (
	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/geohash-tiler/internal/core/config"
	"github.com/mohammed-shakir/geohash-tiler/internal/coverage"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tiler",
		Short: "Split georeferenced images into geohash tiles",
		Long: `tiler cuts a raster with a known lat/lon footprint into tiles whose
bounds are exactly geohash cells, and hands every tile to a sink
(redis, kafka, nats or none).

Settings come from the environment (TILE_PRECISION, SINK_DRIVER, ...);
flags override them.`,
		SilenceUsage: true,
		Version:      Version,
	}

	pf := root.PersistentFlags()
	pf.String("layer", "", "layer name tiles are stored under (TILE_LAYER)")
	pf.IntP("precision", "p", 0, "geohash precision 1..12 (TILE_PRECISION)")
	pf.Float64("min-coverage", 0, "minimum cell coverage in [0,1] (TILE_MIN_COVERAGE)")
	pf.String("boundary", "", "inclusive|exclusive threshold comparison (TILE_COVERAGE_BOUNDARY)")
	pf.IntP("workers", "w", 0, "parallel tile extraction (SPLIT_WORKERS)")
	pf.String("sink", "", "none|redis|kafka|nats (SINK_DRIVER)")
	pf.String("log-level", "", "debug|info|warn|error (LOG_LEVEL)")
	pf.Bool("log-console", false, "human readable logs (LOG_CONSOLE)")

	root.AddCommand(newSplitCmd(), newCellsCmd(), newServeCmd(), newEvictorCmd())
	return root
}

// loadConfig reads the environment, applies flags that were set explicitly
// and validates the result.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.FromEnv()
	f := cmd.Flags()

	if f.Changed("layer") {
		cfg.Layer, _ = f.GetString("layer")
	}
	if f.Changed("precision") {
		cfg.Precision, _ = f.GetInt("precision")
	}
	if f.Changed("min-coverage") {
		cfg.MinCoverage, _ = f.GetFloat64("min-coverage")
	}
	if f.Changed("boundary") {
		s, _ := f.GetString("boundary")
		b, err := coverage.ParseBoundary(s)
		if err != nil {
			return cfg, err
		}
		cfg.CoverageBoundary = b
	}
	if f.Changed("workers") {
		cfg.Workers, _ = f.GetInt("workers")
	}
	if f.Changed("sink") {
		s, _ := f.GetString("sink")
		cfg.SinkDriver = config.SinkDriver(s)
	}
	if f.Changed("log-level") {
		cfg.LogLevel, _ = f.GetString("log-level")
	}
	if f.Changed("log-console") {
		cfg.LogConsole, _ = f.GetBool("log-console")
	}
	if f.Lookup("addr") != nil && f.Changed("addr") {
		cfg.Addr, _ = f.GetString("addr")
	}

	return cfg, cfg.Validate()
}
