// Package cellindex records which stored tiles touch each H3 cell.
package cellindex

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammed-shakir/geohash-tiler/internal/cache/keys"
	"github.com/mohammed-shakir/geohash-tiler/internal/cache/redisstore"
)

type CellIndex interface {
	// Add records tileKey under every H3 cell in cells.
	Add(ctx context.Context, layer string, res int, cells []string, tileKey string, ttl time.Duration) error

	// Get returns the sorted tile keys recorded under any of cells.
	Get(ctx context.Context, layer string, res int, cells ...string) ([]string, error)

	Clear(ctx context.Context, layer string, res int, cells ...string) error
}

type redisCellIndex struct {
	cli *redisstore.Client
}

func NewRedisIndex(cli *redisstore.Client) CellIndex {
	return &redisCellIndex{cli: cli}
}

func indexKeys(layer string, res int, cells []string) []string {
	out := make([]string, 0, len(cells))
	seen := make(map[string]struct{}, len(cells))
	for _, c := range cells {
		k := keys.IndexKey(layer, res, c)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func (ci *redisCellIndex) Add(
	ctx context.Context,
	layer string,
	res int,
	cells []string,
	tileKey string,
	ttl time.Duration,
) error {
	if len(cells) == 0 || tileKey == "" {
		return nil
	}
	if err := ci.cli.SAddWithTTL(ctx, indexKeys(layer, res, cells), ttl, tileKey); err != nil {
		return fmt.Errorf("cellindex add %q: %w", tileKey, err)
	}
	return nil
}

func (ci *redisCellIndex) Get(ctx context.Context, layer string, res int, cells ...string) ([]string, error) {
	if len(cells) == 0 {
		return nil, nil
	}
	out, err := ci.cli.SUnion(ctx, indexKeys(layer, res, cells)...)
	if err != nil {
		return nil, fmt.Errorf("cellindex get: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (ci *redisCellIndex) Clear(ctx context.Context, layer string, res int, cells ...string) error {
	if len(cells) == 0 {
		return nil
	}
	if err := ci.cli.Del(ctx, indexKeys(layer, res, cells)...); err != nil {
		return fmt.Errorf("cellindex clear: %w", err)
	}
	return nil
}
