package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	orbjson "github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/geohash-tiler/internal/cache/keys"
	"github.com/mohammed-shakir/geohash-tiler/internal/core/model"
	"github.com/mohammed-shakir/geohash-tiler/internal/export/geojson"
	mylog "github.com/mohammed-shakir/geohash-tiler/internal/logger"
	"github.com/mohammed-shakir/geohash-tiler/internal/mapper/geohash"
	"github.com/mohammed-shakir/geohash-tiler/internal/raster"
	"github.com/mohammed-shakir/geohash-tiler/internal/sink"
	"github.com/mohammed-shakir/geohash-tiler/internal/splitter"
)

type splitSummary struct {
	ImageID       string         `json:"image_id"`
	Source        string         `json:"source"`
	Format        string         `json:"format"`
	Width         int            `json:"width"`
	Height        int            `json:"height"`
	Channels      int            `json:"channels"`
	Precision     int            `json:"precision"`
	Timestamp     int64          `json:"ts"`
	Stats         splitter.Stats `json:"stats"`
	ValidFraction *float64       `json:"valid_fraction,omitempty"`
	Elapsed       string         `json:"elapsed"`
}

func newSplitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "split IMAGE",
		Short: "Split one image into geohash tiles",
		Long: `Decode IMAGE (png, jpeg, gif, tiff, bmp or webp), georeference it with
--bbox and send every accepted tile to the configured sink.

Examples:
  tiler split ortho.tif --bbox 17.9,59.3,18.2,59.4 -p 7
  tiler split scene.png --bbox 0,0,40,20 -p 2 --min-coverage 0 --out ./tiles`,
		Args: cobra.ExactArgs(1),
		RunE: runSplit,
	}
	f := cmd.Flags()
	f.String("bbox", "", "image footprint as minLon,minLat,maxLon,maxLat (required)")
	f.Int64("ts", 0, "capture time in epoch milliseconds (default: file modification time)")
	f.String("out", "", "also write every tile as <dir>/<geohash>.png")
	f.String("geojson", "", "also write the emitted tile footprints as a GeoJSON file")
	_ = cmd.MarkFlagRequired("bbox")
	return cmd
}

func runSplit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cfg, "split", cmd.ErrOrStderr())

	rawBBox, _ := cmd.Flags().GetString("bbox")
	box, err := model.ParseBBox(rawBBox)
	if err != nil {
		return fmt.Errorf("--bbox: %w", err)
	}
	if _, err := geohash.New().Limit(box, cfg.Precision, cfg.MaxCells); err != nil {
		return fmt.Errorf("%w; lower the precision or raise TILE_MAX_CELLS", err)
	}

	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	ts, _ := cmd.Flags().GetInt64("ts")
	if !cmd.Flags().Changed("ts") {
		if st, err := os.Stat(path); err == nil {
			ts = st.ModTime().UnixMilli()
		}
	}

	img, format, err := raster.Decode(bytes.NewReader(data), box, ts)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	imageID := keys.Fingerprint(data, []byte(box.String()), []byte(strconv.FormatInt(ts, 10)))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = mylog.WithImageID(ctx, imageID)

	out, err := openSink(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			log.Warn("close sink", "err", err)
		}
	}()

	sinks := []sink.Sink{out.sink}
	if dir, _ := cmd.Flags().GetString("out"); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		sinks = append(sinks, pngDir(dir))
	}
	var fc *orbjson.FeatureCollection
	if p, _ := cmd.Flags().GetString("geojson"); p != "" {
		fc = orbjson.NewFeatureCollection()
		fc.Append(geojson.Footprint(box))
		sinks = append(sinks, sink.Func(func(_ context.Context, t model.Tile) error {
			fc.Append(geojson.Tile(t))
			return nil
		}))
	}
	var valid *sink.Tally
	if cfg.NoData >= 0 {
		valid = &sink.Tally{NoData: byte(cfg.NoData)}
		sinks = append(sinks, valid)
	}

	opts := splitter.Options{Precision: cfg.Precision, Threshold: cfg.Threshold(), Workers: cfg.Workers}
	start := time.Now()
	stats, err := splitter.New(log, nil).Run(ctx, img, opts, sink.Tee(sinks...))
	if err != nil {
		return err
	}

	if fc != nil {
		p, _ := cmd.Flags().GetString("geojson")
		if err := writeJSONFile(p, fc); err != nil {
			return err
		}
	}

	sum := splitSummary{
		ImageID:   imageID,
		Source:    path,
		Format:    format,
		Width:     img.Width,
		Height:    img.Height,
		Channels:  img.Channels,
		Precision: opts.Precision,
		Timestamp: ts,
		Stats:     stats,
		Elapsed:   time.Since(start).Round(time.Millisecond).String(),
	}
	if valid != nil && valid.Tiles() > 0 {
		v := valid.MeanValid()
		sum.ValidFraction = &v
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}

// pngDir writes each tile as <dir>/<geohash>.png.
func pngDir(dir string) sink.Sink {
	return sink.Func(func(_ context.Context, t model.Tile) error {
		f, err := os.Create(filepath.Join(dir, t.Cell.ID+".png"))
		if err != nil {
			return err
		}
		if err := raster.WritePNG(f, t); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	})
}

func writeJSONFile(path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
