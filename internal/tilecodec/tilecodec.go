// Package tilecodec is the binary wire form of a tile, shared by the redis,
// kafka and nats sinks.
//
// Layout, all integers big-endian:
//
//	magic "GHTL" | version u8 | channels u8 | precision u8 | idLen u8 | id
//	width u32 | height u32 | rectX u32 | rectY u32
//	minLat maxLat minLon maxLon coverage f64 | ts i64
//	pixLen u32 | pix | xxhash64 of everything before it
package tilecodec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/geohash-tiler/internal/core/model"
)

const (
	Version     = 1
	ContentType = "application/x-geohash-tile"
)

var magic = [4]byte{'G', 'H', 'T', 'L'}

var ErrCorrupt = errors.New("tilecodec: corrupt tile")

// fixed part after the id
const fixedLen = 4*4 + 8*5 + 8 + 4

func Encode(t model.Tile) ([]byte, error) {
	if len(t.Cell.ID) == 0 || len(t.Cell.ID) > math.MaxUint8 {
		return nil, fmt.Errorf("tilecodec: bad geohash %q", t.Cell.ID)
	}
	if t.Channels <= 0 || t.Channels > math.MaxUint8 {
		return nil, fmt.Errorf("tilecodec: bad channel count %d", t.Channels)
	}
	if t.Width < 0 || t.Height < 0 || len(t.Pix) != t.Width*t.Height*t.Channels {
		return nil, fmt.Errorf("tilecodec: %w: %d bytes for %dx%dx%d", model.ErrBufferMismatch, len(t.Pix), t.Width, t.Height, t.Channels)
	}

	n := 4 + 4 + len(t.Cell.ID) + fixedLen + len(t.Pix) + 8
	buf := bytes.NewBuffer(make([]byte, 0, n))
	buf.Write(magic[:])
	buf.WriteByte(Version)
	buf.WriteByte(byte(t.Channels))
	buf.WriteByte(byte(t.Cell.Precision))
	buf.WriteByte(byte(len(t.Cell.ID)))
	buf.WriteString(t.Cell.ID)

	var scratch [8]byte
	putU32 := func(v int) {
		binary.BigEndian.PutUint32(scratch[:4], uint32(v))
		buf.Write(scratch[:4])
	}
	putF64 := func(v float64) {
		binary.BigEndian.PutUint64(scratch[:], math.Float64bits(v))
		buf.Write(scratch[:])
	}

	putU32(t.Width)
	putU32(t.Height)
	putU32(t.Rect.Min.X)
	putU32(t.Rect.Min.Y)
	putF64(t.Cell.Box.MinLat)
	putF64(t.Cell.Box.MaxLat)
	putF64(t.Cell.Box.MinLon)
	putF64(t.Cell.Box.MaxLon)
	putF64(t.Coverage)
	binary.BigEndian.PutUint64(scratch[:], uint64(t.Timestamp))
	buf.Write(scratch[:])
	putU32(len(t.Pix))
	buf.Write(t.Pix)

	binary.BigEndian.PutUint64(scratch[:], xxhash.Sum64(buf.Bytes()))
	buf.Write(scratch[:])
	return buf.Bytes(), nil
}

// Decode parses b into a tile that owns its pixels. Any framing or checksum
// problem is reported as ErrCorrupt.
func Decode(b []byte) (model.Tile, error) {
	if len(b) < 8+fixedLen+8 {
		return model.Tile{}, fmt.Errorf("%w: %d bytes", ErrCorrupt, len(b))
	}
	body, sum := b[:len(b)-8], binary.BigEndian.Uint64(b[len(b)-8:])
	if xxhash.Sum64(body) != sum {
		return model.Tile{}, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	if !bytes.Equal(body[:4], magic[:]) {
		return model.Tile{}, fmt.Errorf("%w: bad magic %q", ErrCorrupt, body[:4])
	}
	if v := body[4]; v != Version {
		return model.Tile{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	channels := int(body[5])
	precision := int(body[6])
	idLen := int(body[7])
	r := body[8:]
	if len(r) < idLen+fixedLen {
		return model.Tile{}, fmt.Errorf("%w: truncated header", ErrCorrupt)
	}
	id := string(r[:idLen])
	r = r[idLen:]

	u32 := func() int {
		v := binary.BigEndian.Uint32(r)
		r = r[4:]
		return int(v)
	}
	f64 := func() float64 {
		v := math.Float64frombits(binary.BigEndian.Uint64(r))
		r = r[8:]
		return v
	}

	t := model.Tile{Channels: channels}
	t.Width = u32()
	t.Height = u32()
	x0, y0 := u32(), u32()
	t.Rect = image.Rect(x0, y0, x0+t.Width, y0+t.Height)
	t.Cell = model.GeohashCell{ID: id, Precision: precision}
	t.Cell.Box.MinLat = f64()
	t.Cell.Box.MaxLat = f64()
	t.Cell.Box.MinLon = f64()
	t.Cell.Box.MaxLon = f64()
	t.Coverage = f64()
	t.Timestamp = int64(binary.BigEndian.Uint64(r))
	r = r[8:]
	pixLen := u32()

	if pixLen != len(r) || pixLen != t.Width*t.Height*t.Channels {
		return model.Tile{}, fmt.Errorf("%w: pixel length %d (have %d, want %dx%dx%d)", ErrCorrupt, pixLen, len(r), t.Width, t.Height, t.Channels)
	}
	t.Pix = append([]byte(nil), r...)
	return t, nil
}
