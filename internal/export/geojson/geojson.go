// Package geojson renders geohash cells and tiles as GeoJSON feature
// collections, for inspecting a tiling on a map.
package geojson

import (
	"iter"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geohash-tiler/internal/core/model"
	"github.com/mohammed-shakir/geohash-tiler/internal/coverage"
)

// Polygon is the closed ring of box, counter-clockwise from the south-west
// corner.
func Polygon(box model.GeoBox) orb.Polygon {
	return orb.Bound{
		Min: orb.Point{box.MinLon, box.MinLat},
		Max: orb.Point{box.MaxLon, box.MaxLat},
	}.ToPolygon()
}

// Cells describes every candidate cell of a split over imageBox: its
// coverage and whether th accepts it.
func Cells(imageBox model.GeoBox, cells iter.Seq[model.GeohashCell], th coverage.Threshold) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for c := range cells {
		cov := coverage.Coverage(imageBox, c)
		f := geojson.NewFeature(Polygon(c.Box))
		f.ID = c.ID
		f.Properties["geohash"] = c.ID
		f.Properties["precision"] = c.Precision
		f.Properties["coverage"] = cov
		f.Properties["accepted"] = th.Accept(cov)
		fc.Append(f)
	}
	return fc
}

// Tile describes an emitted tile and where it was cut from.
func Tile(t model.Tile) *geojson.Feature {
	f := geojson.NewFeature(Polygon(t.Cell.Box))
	f.ID = t.Cell.ID
	f.Properties["geohash"] = t.Cell.ID
	f.Properties["precision"] = t.Cell.Precision
	f.Properties["coverage"] = t.Coverage
	f.Properties["ts"] = t.Timestamp
	f.Properties["pixels"] = []int{t.Rect.Min.X, t.Rect.Min.Y, t.Rect.Max.X, t.Rect.Max.Y}
	return f
}

// Footprint is the image footprint as a single feature.
func Footprint(box model.GeoBox) *geojson.Feature {
	f := geojson.NewFeature(Polygon(box))
	f.Properties["kind"] = "footprint"
	return f
}
