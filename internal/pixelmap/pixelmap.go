// Package pixelmap maps between geographic boxes and pixel rectangles of a
// north-up raster whose footprint is an axis-aligned GeoBox.
package pixelmap

import (
	"fmt"
	"image"
	"math"

	"github.com/mohammed-shakir/geohash-tiler/internal/core/model"
)

// ToPixel returns the half-open pixel rectangle covering geo inside a
// width x height raster spanning img. Minimums round down and maximums round
// up, so the rectangle never drops area the geo box covers; neighbouring
// tiles may share one pixel row or column. Results are clamped to the
// raster, and an empty clamped rectangle is ErrDegenerateRegion.
func ToPixel(geo, img model.GeoBox, width, height int) (image.Rectangle, error) {
	if width <= 0 || height <= 0 {
		return image.Rectangle{}, fmt.Errorf("%w: raster %dx%d", model.ErrDegenerateRegion, width, height)
	}
	lonSpan := img.LonSpan()
	latSpan := img.LatSpan()
	w, h := float64(width), float64(height)

	x0 := math.Floor((geo.MinLon - img.MinLon) / lonSpan * w)
	x1 := math.Ceil((geo.MaxLon - img.MinLon) / lonSpan * w)
	// row 0 is the northern edge
	y0 := math.Floor((img.MaxLat - geo.MaxLat) / latSpan * h)
	y1 := math.Ceil((img.MaxLat - geo.MinLat) / latSpan * h)

	r := image.Rectangle{
		Min: image.Point{X: clamp(x0, width), Y: clamp(y0, height)},
		Max: image.Point{X: clamp(x1, width), Y: clamp(y1, height)},
	}
	if r.Dx() <= 0 || r.Dy() <= 0 {
		return image.Rectangle{}, fmt.Errorf("%w: %v maps to %v in %dx%d", model.ErrDegenerateRegion, geo, r, width, height)
	}
	return r, nil
}

// ToGeo is the inverse of ToPixel: the geographic box covered by the pixels
// of r. Because ToPixel rounds outward, ToGeo(ToPixel(g)) contains g clipped
// to the image.
func ToGeo(r image.Rectangle, img model.GeoBox, width, height int) model.GeoBox {
	lonPerPx := img.LonSpan() / float64(width)
	latPerPx := img.LatSpan() / float64(height)
	return model.GeoBox{
		MinLon: img.MinLon + float64(r.Min.X)*lonPerPx,
		MaxLon: img.MinLon + float64(r.Max.X)*lonPerPx,
		MaxLat: img.MaxLat - float64(r.Min.Y)*latPerPx,
		MinLat: img.MaxLat - float64(r.Max.Y)*latPerPx,
	}
}

// PixelToGeo returns the lat/lon of the top-left corner of pixel (x, y).
func PixelToGeo(x, y int, img model.GeoBox, width, height int) (lat, lon float64) {
	lon = img.MinLon + float64(x)*img.LonSpan()/float64(width)
	lat = img.MaxLat - float64(y)*img.LatSpan()/float64(height)
	return lat, lon
}

func clamp(v float64, hi int) int {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= float64(hi):
		return hi
	default:
		return int(v)
	}
}
