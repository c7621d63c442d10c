// Package model defines core domain types shared across the tiler.
package model

import (
	"fmt"
	"math"
)

// GeoBox is an axis-aligned lat/lon rectangle in degrees. The zero value is
// not valid; build one with NewGeoBox.
type GeoBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

func NewGeoBox(minLat, maxLat, minLon, maxLon float64) (GeoBox, error) {
	for _, v := range [...]float64{minLat, maxLat, minLon, maxLon} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return GeoBox{}, fmt.Errorf("%w: non-finite coordinate", ErrInvalidBounds)
		}
	}
	switch {
	case minLat < -90 || maxLat > 90:
		return GeoBox{}, fmt.Errorf("%w: latitude outside [-90,90] (%g..%g)", ErrInvalidBounds, minLat, maxLat)
	case minLon < -180 || maxLon > 180:
		return GeoBox{}, fmt.Errorf("%w: longitude outside [-180,180] (%g..%g)", ErrInvalidBounds, minLon, maxLon)
	case !(minLat < maxLat):
		return GeoBox{}, fmt.Errorf("%w: min_lat %g must be < max_lat %g", ErrInvalidBounds, minLat, maxLat)
	case !(minLon < maxLon):
		return GeoBox{}, fmt.Errorf("%w: min_lon %g must be < max_lon %g", ErrInvalidBounds, minLon, maxLon)
	}
	return GeoBox{MinLat: minLat, MaxLat: maxLat, MinLon: minLon, MaxLon: maxLon}, nil
}

// MustGeoBox panics on invalid input. Intended for tests and constants.
func MustGeoBox(minLat, maxLat, minLon, maxLon float64) GeoBox {
	b, err := NewGeoBox(minLat, maxLat, minLon, maxLon)
	if err != nil {
		panic(err)
	}
	return b
}

// Intersect returns the overlap of b and o. Boxes that only share an edge
// or a corner do not intersect.
func (b GeoBox) Intersect(o GeoBox) (GeoBox, bool) {
	out := GeoBox{
		MinLat: math.Max(b.MinLat, o.MinLat),
		MaxLat: math.Min(b.MaxLat, o.MaxLat),
		MinLon: math.Max(b.MinLon, o.MinLon),
		MaxLon: math.Min(b.MaxLon, o.MaxLon),
	}
	if !(out.MinLat < out.MaxLat) || !(out.MinLon < out.MaxLon) {
		return GeoBox{}, false
	}
	return out, true
}

// Area is the planar area in square degrees. It ignores the shrinking of
// longitude towards the poles and is only meaningful as a ratio between
// boxes at the same latitude.
func (b GeoBox) Area() float64 {
	return (b.MaxLat - b.MinLat) * (b.MaxLon - b.MinLon)
}

func (b GeoBox) Contains(o GeoBox) bool {
	return o.MinLat >= b.MinLat && o.MaxLat <= b.MaxLat &&
		o.MinLon >= b.MinLon && o.MaxLon <= b.MaxLon
}

func (b GeoBox) Center() (lat, lon float64) {
	return (b.MinLat + b.MaxLat) / 2, (b.MinLon + b.MaxLon) / 2
}

func (b GeoBox) LatSpan() float64 { return b.MaxLat - b.MinLat }
func (b GeoBox) LonSpan() float64 { return b.MaxLon - b.MinLon }

// String uses the minLon,minLat,maxLon,maxLat order of WMS/WFS bbox params.
func (b GeoBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// GeohashCell is one geohash grid cell. Box is fully determined by ID.
type GeohashCell struct {
	ID        string
	Precision int
	Box       GeoBox
}

type Cells []GeohashCell

func (cs Cells) IDs() []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}
