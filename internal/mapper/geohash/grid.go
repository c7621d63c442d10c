// Package geohash enumerates geohash grid cells over a bounding box.
package geohash

import (
	"fmt"
	"iter"
	"math"

	"github.com/mohammed-shakir/geohash-tiler/internal/core/model"
)

type Grid struct{}

func New() *Grid { return &Grid{} }

// span is a half-open range of row/column indices on the global grid.
type span struct {
	row0, row1 int64
	col0, col1 int64
	dLat, dLon float64
}

func spanFor(box model.GeoBox, p int) span {
	dLat, dLon := CellSize(p)
	latBits, lonBits := Bits(p)
	rows, cols := int64(1)<<latBits, int64(1)<<lonBits

	s := span{
		row0: int64(math.Floor((box.MinLat + 90) / dLat)),
		row1: int64(math.Ceil((box.MaxLat + 90) / dLat)),
		col0: int64(math.Floor((box.MinLon + 180) / dLon)),
		col1: int64(math.Ceil((box.MaxLon + 180) / dLon)),
		dLat: dLat,
		dLon: dLon,
	}
	s.row0 = max(s.row0, 0)
	s.col0 = max(s.col0, 0)
	s.row1 = min(s.row1, rows)
	s.col1 = min(s.col1, cols)
	return s
}

// CellsFor yields every cell at precision p whose interior overlaps box,
// row by row from south to north and west to east inside a row. The
// sequence can be ranged over any number of times.
func (g *Grid) CellsFor(box model.GeoBox, p int) (iter.Seq[model.GeohashCell], error) {
	if err := ValidatePrecision(p); err != nil {
		return nil, err
	}
	if _, err := model.NewGeoBox(box.MinLat, box.MaxLat, box.MinLon, box.MaxLon); err != nil {
		return nil, err
	}
	s := spanFor(box, p)

	return func(yield func(model.GeohashCell) bool) {
		for row := s.row0; row < s.row1; row++ {
			for col := s.col0; col < s.col1; col++ {
				cell, err := cellAt(row, col, p, s)
				if err != nil {
					// indices come from a validated box, so this is unreachable
					panic(fmt.Sprintf("geohash: cell (%d,%d) p=%d: %v", row, col, p, err))
				}
				// float rounding at the box edges can add a row/column that only touches
				if _, ok := cell.Box.Intersect(box); !ok {
					continue
				}
				if !yield(cell) {
					return
				}
			}
		}
	}, nil
}

// Count is an upper bound on the number of cells CellsFor yields.
func (g *Grid) Count(box model.GeoBox, p int) (int64, error) {
	if err := ValidatePrecision(p); err != nil {
		return 0, err
	}
	s := spanFor(box, p)
	if s.row1 <= s.row0 || s.col1 <= s.col0 {
		return 0, nil
	}
	return (s.row1 - s.row0) * (s.col1 - s.col0), nil
}

// Limit is Count, failing with ErrTooManyCells above limit. A limit <= 0
// disables the check.
func (g *Grid) Limit(box model.GeoBox, p int, limit int64) (int64, error) {
	n, err := g.Count(box, p)
	if err != nil {
		return 0, err
	}
	if limit > 0 && n > limit {
		return n, fmt.Errorf("%w: %d cells at precision %d, limit %d", model.ErrTooManyCells, n, p, limit)
	}
	return n, nil
}

func cellAt(row, col int64, p int, s span) (model.GeohashCell, error) {
	box := model.GeoBox{
		MinLat: -90 + float64(row)*s.dLat,
		MaxLat: -90 + float64(row+1)*s.dLat,
		MinLon: -180 + float64(col)*s.dLon,
		MaxLon: -180 + float64(col+1)*s.dLon,
	}
	lat, lon := box.Center()
	id, err := Encode(lat, lon, p)
	if err != nil {
		return model.GeohashCell{}, err
	}
	return model.GeohashCell{ID: id, Precision: p, Box: box}, nil
}
