// Package coverage computes how much of a geohash cell an image footprint
// covers and decides whether that is enough to cut a tile.
package coverage

import (
	"fmt"
	"math"
	"strings"

	"github.com/mohammed-shakir/geohash-tiler/internal/core/model"
)

// Coverage is area(image ∩ cell) / area(cell), in [0, 1]. It is exactly 1
// when the image contains the cell. Areas are planar square degrees.
func Coverage(imageBox model.GeoBox, cell model.GeohashCell) float64 {
	overlap, ok := imageBox.Intersect(cell.Box)
	if !ok {
		return 0
	}
	if overlap == cell.Box {
		return 1
	}
	cellArea := cell.Box.Area()
	if cellArea <= 0 {
		return 0
	}
	return math.Min(overlap.Area()/cellArea, 1)
}

type Boundary int

const (
	// Inclusive accepts coverage >= Min.
	Inclusive Boundary = iota
	// Exclusive accepts coverage > Min.
	Exclusive
)

func (b Boundary) String() string {
	switch b {
	case Inclusive:
		return "inclusive"
	case Exclusive:
		return "exclusive"
	default:
		return fmt.Sprintf("boundary(%d)", int(b))
	}
}

func ParseBoundary(s string) (Boundary, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "inclusive", "incl", "gte":
		return Inclusive, nil
	case "exclusive", "excl", "gt":
		return Exclusive, nil
	default:
		return Inclusive, fmt.Errorf("%w: unknown boundary %q (want inclusive|exclusive)", model.ErrInvalidCoverage, s)
	}
}

// Threshold decides which cells are cut. The zero value accepts every
// overlapping cell; Default accepts fully covered cells only.
type Threshold struct {
	Min      float64
	Boundary Boundary
}

func Default() Threshold { return Threshold{Min: 1, Boundary: Inclusive} }

func (t Threshold) Validate() error {
	if math.IsNaN(t.Min) || t.Min < 0 || t.Min > 1 {
		return fmt.Errorf("%w: min_coverage %v outside [0,1]", model.ErrInvalidCoverage, t.Min)
	}
	if t.Boundary != Inclusive && t.Boundary != Exclusive {
		return fmt.Errorf("%w: %v", model.ErrInvalidCoverage, t.Boundary)
	}
	return nil
}

// Accept reports whether cov passes the threshold. Zero coverage never
// passes: a cell the image does not overlap has nothing to cut.
func (t Threshold) Accept(cov float64) bool {
	if cov <= 0 {
		return false
	}
	if t.Boundary == Exclusive {
		return cov > t.Min
	}
	return cov >= t.Min
}
