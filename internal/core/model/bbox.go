package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ParseBBox reads minLon,minLat,maxLon,maxLat with an optional trailing
// EPSG:4326.
func ParseBBox(raw string) (GeoBox, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return GeoBox{}, errors.New("missing required parameter: bbox")
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 4 && len(parts) != 5 {
		return GeoBox{}, errors.New("expected minLon,minLat,maxLon,maxLat[,EPSG:4326]")
	}
	if len(parts) == 5 {
		if srid := strings.ToUpper(strings.TrimSpace(parts[4])); srid != "EPSG:4326" {
			return GeoBox{}, fmt.Errorf("only EPSG:4326 is supported (got %q)", srid)
		}
	}
	var v [4]float64
	for i, name := range [...]string{"minLon", "minLat", "maxLon", "maxLat"} {
		f, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return GeoBox{}, fmt.Errorf("%s: parse float: %w", name, err)
		}
		v[i] = f
	}
	return NewGeoBox(v[1], v[3], v[0], v[2])
}
