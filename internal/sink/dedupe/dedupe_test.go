package dedupe

import (
	"context"
	"errors"
	"testing"

	"github.com/mohammed-shakir/geohash-tiler/internal/core/model"
	"github.com/mohammed-shakir/geohash-tiler/internal/sink"
)

func tile(id string, ts int64) model.Tile {
	return model.Tile{Cell: model.GeohashCell{ID: id, Precision: len(id)}, Timestamp: ts}
}

func TestDedupe_ForwardsOnlyNewerCaptures(t *testing.T) {
	var got sink.Collector
	d := New(&got, "ortho", 16)
	ctx := context.Background()

	for _, tl := range []model.Tile{
		tile("u4pru", 10),
		tile("u4pru", 10), // duplicate
		tile("u4pru", 5),  // older
		tile("u4prv", 5),  // other cell
		tile("u4pru", 11), // newer
	} {
		if err := d.Send(ctx, tl); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	tiles := got.Tiles()
	if len(tiles) != 3 {
		t.Fatalf("forwarded=%d want 3", len(tiles))
	}
	if tiles[2].Cell.ID != "u4pru" || tiles[2].Timestamp != 11 {
		t.Fatalf("last forwarded=%+v", tiles[2])
	}
}

func TestDedupe_FailedSendIsRetried(t *testing.T) {
	boom := errors.New("down")
	fail := true
	n := 0
	next := sink.Func(func(context.Context, model.Tile) error {
		n++
		if fail {
			return boom
		}
		return nil
	})
	d := New(next, "ortho", 0)

	if err := d.Send(context.Background(), tile("s", 1)); !errors.Is(err, boom) {
		t.Fatalf("err=%v want %v", err, boom)
	}
	fail = false
	if err := d.Send(context.Background(), tile("s", 1)); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if n != 2 {
		t.Fatalf("next called %d times want 2", n)
	}
}

func TestDedupe_EvictionForgets(t *testing.T) {
	var got sink.Collector
	d := New(&got, "ortho", 1)
	ctx := context.Background()

	_ = d.Send(ctx, tile("a", 1))
	_ = d.Send(ctx, tile("b", 1)) // evicts a
	_ = d.Send(ctx, tile("a", 1))

	if n := len(got.Tiles()); n != 3 {
		t.Fatalf("forwarded=%d want 3 after eviction", n)
	}
}
