// Package h3mapper maps geohash tile footprints onto H3 cells, so tiles can
// be looked up by H3 cell as well as by geohash.
package h3mapper

import (
	"errors"
	"fmt"
	"sort"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/geohash-tiler/internal/core/model"
)

// ErrInvalidCell is returned for strings that are not valid H3 indexes.
var ErrInvalidCell = errors.New("invalid h3 cell")

type Mapper struct{}

func New() *Mapper { return &Mapper{} }

// CellsForBox returns the sorted H3 cells at res whose centers fall inside
// box, plus the cell holding the box center. A box smaller than one H3 cell
// therefore still maps to exactly one cell.
func (m *Mapper) CellsForBox(box model.GeoBox, res int) ([]string, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	outer := h3.GeoLoop{
		{Lat: box.MinLat, Lng: box.MinLon},
		{Lat: box.MinLat, Lng: box.MaxLon},
		{Lat: box.MaxLat, Lng: box.MaxLon},
		{Lat: box.MaxLat, Lng: box.MinLon},
	}
	indexes, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: outer}, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}

	lat, lon := box.Center()
	center, err := h3.LatLngToCell(h3.NewLatLng(lat, lon), res)
	if err != nil {
		return nil, fmt.Errorf("h3 center cell: %w", err)
	}
	indexes = append(indexes, center)

	out := make([]string, 0, len(indexes))
	seen := make(map[string]struct{}, len(indexes))
	for _, idx := range indexes {
		s := idx.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Mapper) CellForPoint(lat, lon float64, res int) (string, error) {
	if err := validateRes(res); err != nil {
		return "", err
	}
	c, err := h3.LatLngToCell(h3.NewLatLng(lat, lon), res)
	if err != nil {
		return "", fmt.Errorf("h3 cell for (%v,%v): %w", lat, lon, err)
	}
	return c.String(), nil
}

// Resolve returns the cells at indexRes that make up cell: its parent when
// cell is finer, its children when coarser, or cell itself.
func (m *Mapper) Resolve(cell string, indexRes int) ([]string, error) {
	c, err := parseCell(cell)
	if err != nil {
		return nil, err
	}
	switch res := c.Resolution(); {
	case res > indexRes:
		p, err := m.ToParent(cell, indexRes)
		if err != nil {
			return nil, err
		}
		return []string{p}, nil
	case res < indexRes:
		return m.ToChildren(cell, indexRes)
	default:
		return []string{c.String()}, nil
	}
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

func parseCell(cell string) (h3.Cell, error) {
	var c h3.Cell
	if err := c.UnmarshalText([]byte(cell)); err != nil {
		return 0, fmt.Errorf("%w %q: %v", ErrInvalidCell, cell, err)
	}
	if !c.IsValid() {
		return 0, fmt.Errorf("%w %q", ErrInvalidCell, cell)
	}
	return c, nil
}
