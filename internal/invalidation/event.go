// Package invalidation defines tile eviction events: requests to forget the
// current tiles of a region, usually because a newer capture is on its way
// or the old one was withdrawn.
package invalidation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mohammed-shakir/geohash-tiler/internal/core/model"
	"github.com/mohammed-shakir/geohash-tiler/internal/mapper/geohash"
)

const (
	// OpEvict drops the latest pointer of each cell; tile versions stay
	// until their TTL.
	OpEvict = "evict"
	// OpPurge also deletes the tile version captured at CaptureTS.
	OpPurge = "purge"
)

type Event struct {
	Version int       `json:"version"`
	Op      string    `json:"op"`
	Layer   string    `json:"layer"`
	TS      time.Time `json:"ts"`
	Source  string    `json:"source,omitempty"`
	// CaptureTS is the tile timestamp, in epoch ms, a purge removes.
	CaptureTS int64 `json:"capture_ts,omitempty"`

	// Exactly one of BBox and Geohashes is set. BBox is expanded to the
	// cells of every listed precision.
	BBox       *BBox    `json:"bbox,omitempty"`
	Precisions []int    `json:"precisions,omitempty"`
	Geohashes  []string `json:"geohashes,omitempty"`
}

type BBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

func (b BBox) GeoBox() (model.GeoBox, error) {
	return model.NewGeoBox(b.MinLat, b.MaxLat, b.MinLon, b.MaxLon)
}

func Parse(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, ev.Validate()
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case OpEvict:
	case OpPurge:
		if e.CaptureTS <= 0 {
			return fmt.Errorf("capture_ts is required for purge")
		}
	default:
		return fmt.Errorf("op must be evict|purge")
	}
	if strings.TrimSpace(e.Layer) == "" {
		return fmt.Errorf("layer is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}

	hasBBox := e.BBox != nil
	hasCells := len(e.Geohashes) > 0
	if hasBBox == hasCells {
		return fmt.Errorf("exactly one of bbox or geohashes is required")
	}
	if hasBBox {
		if _, err := e.BBox.GeoBox(); err != nil {
			return fmt.Errorf("bbox: %w", err)
		}
		if len(e.Precisions) == 0 {
			return fmt.Errorf("precisions are required with bbox")
		}
		for _, p := range e.Precisions {
			if err := geohash.ValidatePrecision(p); err != nil {
				return err
			}
		}
		return nil
	}
	for _, gh := range e.Geohashes {
		if _, err := geohash.Decode(gh); err != nil {
			return fmt.Errorf("geohash %q: %w", gh, err)
		}
	}
	return nil
}
