package redissink

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/geohash-tiler/internal/cache/keys"
	"github.com/mohammed-shakir/geohash-tiler/internal/cache/redisstore"
	"github.com/mohammed-shakir/geohash-tiler/internal/core/model"
	"github.com/mohammed-shakir/geohash-tiler/internal/mapper/geohash"
	h3mapper "github.com/mohammed-shakir/geohash-tiler/internal/mapper/h3"
)

func newSink(t *testing.T, cfg Config) (*Sink, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	store, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	s := New(store, cfg, nil)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func testTile(t *testing.T, id string, ts int64) model.Tile {
	t.Helper()
	box, err := geohash.Decode(id)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return model.Tile{
		Cell:      model.GeohashCell{ID: id, Precision: len(id), Box: box},
		Coverage:  1,
		Timestamp: ts,
		Width:     2,
		Height:    2,
		Channels:  1,
		Pix:       []byte{1, 2, 3, byte(ts)},
	}
}

func TestSend_StoresVersionedTileAndLatest(t *testing.T) {
	s, mr := newSink(t, Config{Layer: "ortho", TTL: time.Hour})
	ctx := context.Background()

	if err := s.Send(ctx, testTile(t, "u6scd", 1)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := s.Send(ctx, testTile(t, "u6scd", 2)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	for _, k := range []string{keys.TileKey("ortho", "u6scd", 1), keys.TileKey("ortho", "u6scd", 2)} {
		if !mr.Exists(k) {
			t.Fatalf("missing key %s", k)
		}
		if ttl := mr.TTL(k); ttl <= 0 || ttl > time.Hour {
			t.Fatalf("ttl for %s = %v", k, ttl)
		}
	}

	got, ok, err := s.Latest(ctx, "u6scd")
	if err != nil || !ok {
		t.Fatalf("Latest ok=%v err=%v", ok, err)
	}
	if got.Timestamp != 2 || !bytes.Equal(got.Pix, []byte{1, 2, 3, 2}) {
		t.Fatalf("latest=%+v", got)
	}

	if _, ok, err := s.Latest(ctx, "u6sce"); ok || err != nil {
		t.Fatalf("unknown cell ok=%v err=%v", ok, err)
	}
}

func TestSend_IndexesByH3(t *testing.T) {
	const res = 6
	s, _ := newSink(t, Config{Layer: "ortho", TTL: time.Hour, H3Res: res})
	ctx := context.Background()

	tile := testTile(t, "u6scd", 7)
	if err := s.Send(ctx, tile); err != nil {
		t.Fatalf("Send: %v", err)
	}

	lat, lon := tile.Cell.Box.Center()
	cell, err := h3mapper.New().CellForPoint(lat, lon, res)
	if err != nil {
		t.Fatalf("CellForPoint: %v", err)
	}
	want := keys.TileKey("ortho", "u6scd", 7)

	got, err := s.Lookup(ctx, cell)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(got) != 1 || got[0] != want {
		t.Fatalf("Lookup=%v want [%s]", got, want)
	}

	// a finer query cell resolves to its parent at the index resolution
	m := h3mapper.New()
	fine, err := m.CellForPoint(lat, lon, res+2)
	if err != nil {
		t.Fatalf("CellForPoint: %v", err)
	}
	parent, err := m.ToParent(fine, res)
	if err != nil {
		t.Fatalf("ToParent: %v", err)
	}
	indexed, err := m.CellsForBox(tile.Cell.Box, res)
	if err != nil {
		t.Fatalf("CellsForBox: %v", err)
	}
	fromFine, err := s.Lookup(ctx, fine)
	if err != nil {
		t.Fatalf("fine Lookup: %v", err)
	}
	if slices.Contains(indexed, parent) != (len(fromFine) == 1) {
		t.Fatalf("fine Lookup=%v, parent %s indexed=%v", fromFine, parent, indexed)
	}

	tiles, err := s.Load(ctx, got...)
	if err != nil || len(tiles) != 1 || tiles[0].Cell.ID != "u6scd" {
		t.Fatalf("Load=%v err=%v", tiles, err)
	}
}

func TestLookup_SkipsPurgedTiles(t *testing.T) {
	const res = 6
	s, mr := newSink(t, Config{Layer: "ortho", TTL: time.Hour, H3Res: res})
	ctx := context.Background()

	older, newer := testTile(t, "u6scd", 7), testTile(t, "u6scd", 8)
	for _, tl := range []model.Tile{older, newer} {
		if err := s.Send(ctx, tl); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	lat, lon := older.Cell.Box.Center()
	cell, err := h3mapper.New().CellForPoint(lat, lon, res)
	if err != nil {
		t.Fatalf("CellForPoint: %v", err)
	}

	// what a purge of capture 7 deletes; the index set keeps the member
	mr.Del(keys.TileKey("ortho", "u6scd", 7))

	got, err := s.Lookup(ctx, cell)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	want := []string{keys.TileKey("ortho", "u6scd", 8)}
	if !slices.Equal(got, want) {
		t.Fatalf("Lookup=%v want %v", got, want)
	}
	members, _ := mr.Members(keys.IndexKey("ortho", res, cell))
	if len(members) != 2 {
		t.Fatalf("index members=%v want both versions until TTL", members)
	}
}

func TestLookup_IndexDisabled(t *testing.T) {
	s, _ := newSink(t, Config{Layer: "ortho"})
	if _, err := s.Lookup(context.Background(), "861f1d48fffffff"); !errors.Is(err, ErrIndexDisabled) {
		t.Fatalf("err=%v want ErrIndexDisabled", err)
	}
}

func TestSend_StoreFailureIsReported(t *testing.T) {
	s, mr := newSink(t, Config{Layer: "ortho", OpTimeout: 200 * time.Millisecond})
	mr.SetError("LOADING")
	if err := s.Send(context.Background(), testTile(t, "u6scd", 1)); err == nil {
		t.Fatalf("expected error when redis fails")
	}
}
