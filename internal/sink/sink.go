// Package sink defines where cut tiles go.
package sink

import (
	"context"
	"sync"

	"github.com/mohammed-shakir/geohash-tiler/internal/core/model"
)

// Sink receives tiles one at a time, in enumeration order. Send must not
// retain t.Pix after returning unless it owns a copy.
type Sink interface {
	Send(ctx context.Context, t model.Tile) error
}

// Closer is implemented by sinks holding network resources.
type Closer interface {
	Close() error
}

type Func func(ctx context.Context, t model.Tile) error

func (f Func) Send(ctx context.Context, t model.Tile) error { return f(ctx, t) }

// Discard drops every tile.
var Discard Sink = Func(func(context.Context, model.Tile) error { return nil })

// Collector keeps every tile in memory. Used by tests and small CLI runs.
type Collector struct {
	mu    sync.Mutex
	tiles []model.Tile
}

func (c *Collector) Send(_ context.Context, t model.Tile) error {
	c.mu.Lock()
	c.tiles = append(c.tiles, t)
	c.mu.Unlock()
	return nil
}

func (c *Collector) Tiles() []model.Tile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Tile(nil), c.tiles...)
}

// Tee fans each tile out to every sink in order, stopping at the first error.
func Tee(sinks ...Sink) Sink {
	return Func(func(ctx context.Context, t model.Tile) error {
		for _, s := range sinks {
			if err := s.Send(ctx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes s if it holds resources.
func Close(s Sink) error {
	if c, ok := s.(Closer); ok {
		return c.Close()
	}
	return nil
}

// Tally counts tiles and averages their share of valid pixels, where a
// pixel with every channel equal to NoData is invalid.
type Tally struct {
	NoData byte

	mu    sync.Mutex
	tiles int
	valid float64
}

func (t *Tally) Send(_ context.Context, tile model.Tile) error {
	f := tile.ValidFraction(t.NoData)
	t.mu.Lock()
	t.tiles++
	t.valid += f
	t.mu.Unlock()
	return nil
}

func (t *Tally) Tiles() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tiles
}

// MeanValid is the average valid fraction over all tiles seen, or 0.
func (t *Tally) MeanValid() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tiles == 0 {
		return 0
	}
	return t.valid / float64(t.tiles)
}
