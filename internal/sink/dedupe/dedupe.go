// Package dedupe drops tiles that are not newer than the last tile forwarded
// for the same geohash cell.
package dedupe

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/geohash-tiler/internal/core/model"
	"github.com/mohammed-shakir/geohash-tiler/internal/core/observability"
	"github.com/mohammed-shakir/geohash-tiler/internal/sink"
)

const DefaultSize = 4096

type Sink struct {
	next  sink.Sink
	layer string

	mu  sync.Mutex
	lru *lru.Cache[string, int64]
}

// New wraps next. Only the size most recently seen cells are remembered, so
// a cell evicted from the cache is forwarded again.
func New(next sink.Sink, layer string, size int) *Sink {
	if size <= 0 {
		size = DefaultSize
	}
	c, _ := lru.New[string, int64](size)
	return &Sink{next: next, layer: layer, lru: c}
}

// shouldForward is true when ts is newer than the last forwarded capture.
func (s *Sink) shouldForward(key string, ts int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lru.Get(key); ok && ts <= last {
		return false
	}
	return true
}

func (s *Sink) remember(key string, ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lru.Get(key); ok && ts <= last {
		return
	}
	s.lru.Add(key, ts)
}

func (s *Sink) Send(ctx context.Context, t model.Tile) error {
	key := s.layer + "/" + t.Cell.ID
	if !s.shouldForward(key, t.Timestamp) {
		observability.IncSinkSkip("dedupe")
		return nil
	}
	if err := s.next.Send(ctx, t); err != nil {
		// not remembered, so a retry is forwarded
		return err
	}
	s.remember(key, t.Timestamp)
	return nil
}

func (s *Sink) Close() error { return sink.Close(s.next) }
