package geohash

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/mohammed-shakir/geohash-tiler/internal/core/model"
)

const (
	base32       = "0123456789bcdefghjkmnpqrstuvwxyz"
	bitsPerChar  = 5
	MaxPrecision = 12
)

var ErrInvalidGeohash = errors.New("invalid geohash")

func ValidatePrecision(p int) error {
	if p < 1 || p > MaxPrecision {
		return fmt.Errorf("%w: %d (must be 1..%d)", model.ErrInvalidPrecision, p, MaxPrecision)
	}
	return nil
}

// Bits returns how many of the 5*p interleaved bits go to each axis.
// Interleaving starts with longitude, so longitude gets the odd bit.
func Bits(p int) (latBits, lonBits int) {
	total := bitsPerChar * p
	return total / 2, (total + 1) / 2
}

// CellSize returns the cell height and width in degrees at precision p.
func CellSize(p int) (dLat, dLon float64) {
	latBits, lonBits := Bits(p)
	return math.Ldexp(180, -latBits), math.Ldexp(360, -lonBits)
}

// Encode returns the geohash of length p containing (lat, lon). Points on a
// split line fall into the upper/eastern half.
func Encode(lat, lon float64, p int) (string, error) {
	if err := ValidatePrecision(p); err != nil {
		return "", err
	}
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return "", fmt.Errorf("%w: point (%g, %g) outside geohash range", model.ErrInvalidBounds, lat, lon)
	}

	minLat, maxLat := -90.0, 90.0
	minLon, maxLon := -180.0, 180.0

	var b strings.Builder
	b.Grow(p)
	even := true
	for b.Len() < p {
		ch := 0
		for bit := bitsPerChar - 1; bit >= 0; bit-- {
			if even {
				mid := (minLon + maxLon) / 2
				if lon >= mid {
					ch |= 1 << bit
					minLon = mid
				} else {
					maxLon = mid
				}
			} else {
				mid := (minLat + maxLat) / 2
				if lat >= mid {
					ch |= 1 << bit
					minLat = mid
				} else {
					maxLat = mid
				}
			}
			even = !even
		}
		b.WriteByte(base32[ch])
	}
	return b.String(), nil
}

// Decode returns the cell box of a geohash id.
func Decode(id string) (model.GeoBox, error) {
	if err := ValidatePrecision(len(id)); err != nil {
		return model.GeoBox{}, err
	}
	minLat, maxLat := -90.0, 90.0
	minLon, maxLon := -180.0, 180.0

	even := true
	for i := 0; i < len(id); i++ {
		idx := strings.IndexByte(base32, id[i])
		if idx < 0 {
			return model.GeoBox{}, fmt.Errorf("%w: %q has bad character %q", ErrInvalidGeohash, id, id[i])
		}
		for bit := bitsPerChar - 1; bit >= 0; bit-- {
			on := (idx>>bit)&1 == 1
			if even {
				mid := (minLon + maxLon) / 2
				if on {
					minLon = mid
				} else {
					maxLon = mid
				}
			} else {
				mid := (minLat + maxLat) / 2
				if on {
					minLat = mid
				} else {
					maxLat = mid
				}
			}
			even = !even
		}
	}
	return model.GeoBox{MinLat: minLat, MaxLat: maxLat, MinLon: minLon, MaxLon: maxLon}, nil
}
