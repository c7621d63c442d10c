// Package mapper enumerates grid cells covering geographic boxes.
package mapper

import (
	"iter"

	"github.com/mohammed-shakir/geohash-tiler/internal/core/model"
)

// Interface is implemented by geohash.Grid.
type Interface interface {
	CellsFor(box model.GeoBox, precision int) (iter.Seq[model.GeohashCell], error)
}
