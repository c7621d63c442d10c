// Package kafkaconsumer applies tile eviction events read from a Kafka
// consumer group to the tile store.
package kafkaconsumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/geohash-tiler/internal/cache/keys"
	obs "github.com/mohammed-shakir/geohash-tiler/internal/core/observability"
	"github.com/mohammed-shakir/geohash-tiler/internal/invalidation"
	mylog "github.com/mohammed-shakir/geohash-tiler/internal/logger"
	"github.com/mohammed-shakir/geohash-tiler/internal/mapper/geohash"
)

// MaxCellsPerEvent bounds how many cells one bbox event may expand to.
const MaxCellsPerEvent = 100_000

var ErrTooManyCells = errors.New("eviction covers too many cells")

// Store is the part of the tile store evictions need.
type Store interface {
	Del(ctx context.Context, keys ...string) error
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	store  Store
	grid   *geohash.Grid
}

func New(cfg Config, logger *slog.Logger, store Store) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{cfg: cfg, logger: logger, store: store, grid: geohash.New()}
}

// Start consumes eviction events until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.store == nil {
		return errors.New("kafkaconsumer: missing tile store")
	}

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, c.cfg.sarama())
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	ctx = mylog.WithComponent(ctx, "evictor")
	handler := &groupHandler{process: c.ProcessOne}

	c.logger.InfoContext(ctx, "eviction consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
			obs.IncConsumerError("consume")
			c.logger.ErrorContext(ctx, "kafka consumer error",
				"err", err, "brokers", c.cfg.Brokers, "topic", c.cfg.Topic)
		}
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "eviction consumer shutting down")
			return nil
		case <-time.After(c.cfg.RetryBackoff):
		}
	}
}

// ProcessOne applies a single eviction message.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()

	ev, err := invalidation.Parse(msg.Value)
	if err != nil {
		obs.IncConsumerError("decode")
		c.logger.ErrorContext(ctx, "bad eviction event",
			"err", err,
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
		if c.cfg.SkipInvalid {
			return nil
		}
		return fmt.Errorf("decode: %w", err)
	}
	ctx = mylog.WithLayer(ctx, ev.Layer)

	cells, err := c.CellsFor(ev)
	if err != nil {
		obs.ObserveEviction(ev.Op, ev.Layer, 0, time.Since(start).Seconds(), err)
		return fmt.Errorf("derive cells: %w", err)
	}

	delKeys := KeysFor(ev, cells)
	if len(delKeys) == 0 {
		obs.ObserveEviction(ev.Op, ev.Layer, 0, time.Since(start).Seconds(), nil)
		return nil
	}

	if err := c.store.Del(ctx, delKeys...); err != nil {
		obs.IncConsumerError("redis_del")
		obs.ObserveEviction(ev.Op, ev.Layer, 0, time.Since(start).Seconds(), err)
		return fmt.Errorf("redis del: %w", err)
	}

	obs.ObserveEviction(ev.Op, ev.Layer, len(delKeys), time.Since(start).Seconds(), nil)
	c.logger.InfoContext(ctx, "evicted tiles",
		"op", ev.Op, "cells", len(cells), "keys", len(delKeys), "source", ev.Source)
	return nil
}

// CellsFor lists the geohash cells an event names, sorted and unique.
func (c *Consumer) CellsFor(ev invalidation.Event) ([]string, error) {
	if ev.BBox == nil {
		out := slices.Clone(ev.Geohashes)
		slices.Sort(out)
		return slices.Compact(out), nil
	}

	box, err := ev.BBox.GeoBox()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, p := range ev.Precisions {
		n, err := c.grid.Count(box, p)
		if err != nil {
			return nil, err
		}
		if int64(len(out))+n > MaxCellsPerEvent {
			return nil, fmt.Errorf("%w: more than %d", ErrTooManyCells, MaxCellsPerEvent)
		}
		seq, err := c.grid.CellsFor(box, p)
		if err != nil {
			return nil, err
		}
		for cell := range seq {
			out = append(out, cell.ID)
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// KeysFor lists the Redis keys an event deletes for cells. H3 index sets are
// left to their TTL; lookups skip members whose tile is gone.
func KeysFor(ev invalidation.Event, cells []string) []string {
	per := 1
	if ev.Op == invalidation.OpPurge {
		per = 2
	}
	out := make([]string, 0, len(cells)*per)
	for _, gh := range cells {
		out = append(out, keys.LatestKey(ev.Layer, gh))
		if ev.Op == invalidation.OpPurge {
			out = append(out, keys.TileKey(ev.Layer, gh, ev.CaptureTS))
		}
	}
	return out
}
