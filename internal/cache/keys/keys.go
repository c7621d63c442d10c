// Package keys builds the Redis keys tiles and the H3 index are stored under.
package keys

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// TileKey is the key for one tile version:
//
//	tile:<layer>:<precision>:<geohash>:<ts>
//
// The geohash is already key-safe. ts is the capture time in epoch ms, so
// newer captures of the same cell never overwrite older ones.
func TileKey(layer, geohash string, ts int64) string {
	return "tile:" + sanitizeLayer(strings.TrimSpace(layer)) + ":" +
		strconv.Itoa(len(geohash)) + ":" + geohash + ":" + strconv.FormatInt(ts, 10)
}

// LatestKey points at the newest TileKey for a cell.
func LatestKey(layer, geohash string) string {
	return "tile:" + sanitizeLayer(strings.TrimSpace(layer)) + ":" +
		strconv.Itoa(len(geohash)) + ":" + geohash + ":latest"
}

// IndexKey is the set of tile keys whose footprint touches an H3 cell.
func IndexKey(layer string, res int, cell string) string {
	return fmt.Sprintf("idx:%s:h3:%d:%s", sanitizeLayer(strings.TrimSpace(layer)), res, strings.ToLower(cell))
}

// Fingerprint is a short content hash, used to name uploaded images in logs
// and in the split summary.
func Fingerprint(parts ...[]byte) string {
	d := xxhash.New()
	for _, p := range parts {
		_, _ = d.Write(p)
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

func sanitizeLayer(s string) string {
	if s == "" {
		return "default"
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// ':' separates key segments, so it is replaced too
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r < unicode.MaxASCII && unicode.IsDigit(r))
}
