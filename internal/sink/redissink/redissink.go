// Package redissink stores encoded tiles in Redis and, optionally, indexes
// them by the H3 cells their footprint touches.
package redissink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/geohash-tiler/internal/cache/cellindex"
	"github.com/mohammed-shakir/geohash-tiler/internal/cache/keys"
	"github.com/mohammed-shakir/geohash-tiler/internal/cache/redisstore"
	"github.com/mohammed-shakir/geohash-tiler/internal/core/model"
	"github.com/mohammed-shakir/geohash-tiler/internal/core/observability"
	h3mapper "github.com/mohammed-shakir/geohash-tiler/internal/mapper/h3"
	"github.com/mohammed-shakir/geohash-tiler/internal/tilecodec"
)

var ErrIndexDisabled = errors.New("redissink: h3 index disabled")

type Config struct {
	Layer string
	TTL   time.Duration
	// H3Res is the index resolution; 0 disables the index.
	H3Res     int
	OpTimeout time.Duration
}

type Sink struct {
	cfg    Config
	store  *redisstore.Client
	index  cellindex.CellIndex
	h3     *h3mapper.Mapper
	logger *slog.Logger
}

func New(store *redisstore.Client, cfg Config, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Sink{cfg: cfg, store: store, logger: logger}
	if cfg.H3Res > 0 {
		s.index = cellindex.NewRedisIndex(store)
		s.h3 = h3mapper.New()
	}
	return s
}

// Send writes the tile under its versioned key, moves the cell's latest
// pointer to it and records it in the H3 index.
func (s *Sink) Send(ctx context.Context, t model.Tile) error {
	start := time.Now()
	err := s.send(ctx, t)
	observability.ObserveSinkOp("redis", err, time.Since(start).Seconds())
	return err
}

func (s *Sink) send(ctx context.Context, t model.Tile) error {
	if s.cfg.OpTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.OpTimeout)
		defer cancel()
	}

	payload, err := tilecodec.Encode(t)
	if err != nil {
		return fmt.Errorf("redissink encode %s: %w", t.Cell.ID, err)
	}
	tileKey := keys.TileKey(s.cfg.Layer, t.Cell.ID, t.Timestamp)

	kv := map[string][]byte{
		tileKey: payload,
		keys.LatestKey(s.cfg.Layer, t.Cell.ID): []byte(tileKey),
	}
	if err := s.store.MSetWithTTL(ctx, kv, s.cfg.TTL); err != nil {
		return fmt.Errorf("redissink store %s: %w", t.Cell.ID, err)
	}

	if s.index == nil {
		return nil
	}
	cells, err := s.h3.CellsForBox(t.Cell.Box, s.cfg.H3Res)
	if err != nil {
		return fmt.Errorf("redissink h3 cells for %s: %w", t.Cell.ID, err)
	}
	if err := s.index.Add(ctx, s.cfg.Layer, s.cfg.H3Res, cells, tileKey, s.cfg.TTL); err != nil {
		return fmt.Errorf("redissink index %s: %w", t.Cell.ID, err)
	}
	s.logger.Debug("tile stored", "key", tileKey, "h3_cells", len(cells), "bytes", len(payload))
	return nil
}

// Latest loads the newest stored tile for a geohash cell.
func (s *Sink) Latest(ctx context.Context, geohash string) (model.Tile, bool, error) {
	ptrKey := keys.LatestKey(s.cfg.Layer, geohash)
	ptr, err := s.store.MGet(ctx, []string{ptrKey})
	if err != nil {
		return model.Tile{}, false, err
	}
	tileKey, ok := ptr[ptrKey]
	if !ok {
		return model.Tile{}, false, nil
	}
	tiles, err := s.Load(ctx, string(tileKey))
	if err != nil || len(tiles) == 0 {
		return model.Tile{}, false, err
	}
	return tiles[0], true, nil
}

// Load decodes the tiles stored under tileKeys, skipping expired ones.
func (s *Sink) Load(ctx context.Context, tileKeys ...string) ([]model.Tile, error) {
	raw, err := s.store.MGet(ctx, tileKeys)
	if err != nil {
		return nil, err
	}
	out := make([]model.Tile, 0, len(raw))
	for _, k := range tileKeys {
		b, ok := raw[k]
		if !ok {
			continue
		}
		t, err := tilecodec.Decode(b)
		if err != nil {
			return nil, fmt.Errorf("redissink load %q: %w", k, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Lookup returns the keys of tiles indexed under an H3 cell of any
// resolution. Index sets outlive purged tiles until their TTL, so keys whose
// tile is gone are left out.
func (s *Sink) Lookup(ctx context.Context, h3Cell string) ([]string, error) {
	if s.index == nil {
		return nil, ErrIndexDisabled
	}
	cells, err := s.h3.Resolve(h3Cell, s.cfg.H3Res)
	if err != nil {
		return nil, err
	}
	indexed, err := s.index.Get(ctx, s.cfg.Layer, s.cfg.H3Res, cells...)
	if err != nil {
		return nil, err
	}
	return s.store.Existing(ctx, indexed)
}

func (s *Sink) Close() error { return s.store.Close() }
