package model

import (
	"fmt"
	"image"
)

// RawImage is a decoded, row-major raster with its footprint and capture
// time. It is read-only once built; tiles copy out of Pix.
type RawImage struct {
	Width     int
	Height    int
	Channels  int
	Pix       []byte
	Box       GeoBox
	Timestamp int64 // epoch milliseconds
}

func NewRawImage(width, height, channels int, pix []byte, box GeoBox, ts int64) (*RawImage, error) {
	img := &RawImage{
		Width:     width,
		Height:    height,
		Channels:  channels,
		Pix:       pix,
		Box:       box,
		Timestamp: ts,
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return img, nil
}

// Validate re-checks the buffer invariant, for images built as literals.
func (r *RawImage) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil image", ErrBufferMismatch)
	}
	if r.Width <= 0 || r.Height <= 0 || r.Channels <= 0 || r.Channels > 255 {
		return fmt.Errorf("%w: width=%d height=%d channels=%d", ErrBufferMismatch, r.Width, r.Height, r.Channels)
	}
	if want := r.Width * r.Height * r.Channels; len(r.Pix) != want {
		return fmt.Errorf("%w: len=%d want %d (%dx%dx%d)", ErrBufferMismatch, len(r.Pix), want, r.Width, r.Height, r.Channels)
	}
	if _, err := NewGeoBox(r.Box.MinLat, r.Box.MaxLat, r.Box.MinLon, r.Box.MaxLon); err != nil {
		return err
	}
	return nil
}

// SubImage copies the pixels inside rect into a new buffer. rect must lie
// within the image bounds.
func (r *RawImage) SubImage(rect image.Rectangle) []byte {
	w, h := rect.Dx(), rect.Dy()
	rowLen := w * r.Channels
	out := make([]byte, rowLen*h)
	stride := r.Width * r.Channels
	for y := 0; y < h; y++ {
		src := (rect.Min.Y+y)*stride + rect.Min.X*r.Channels
		copy(out[y*rowLen:(y+1)*rowLen], r.Pix[src:src+rowLen])
	}
	return out
}

func (r *RawImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, r.Width, r.Height)
}

// Tile is the pixel sub-region cut for one geohash cell. It owns Pix.
type Tile struct {
	Cell      GeohashCell
	Coverage  float64
	Timestamp int64
	Width     int
	Height    int
	Channels  int
	Pix       []byte
	// Rect is where the tile was cut from in the source raster.
	Rect image.Rectangle
}

// ValidFraction is the share of pixels whose channels are not all equal to
// nodata. A tile without pixels reports 0.
func (t Tile) ValidFraction(nodata byte) float64 {
	if t.Channels <= 0 || len(t.Pix) == 0 {
		return 0
	}
	n := len(t.Pix) / t.Channels
	valid := 0
	for i := 0; i < n; i++ {
		px := t.Pix[i*t.Channels : (i+1)*t.Channels]
		for _, v := range px {
			if v != nodata {
				valid++
				break
			}
		}
	}
	return float64(valid) / float64(n)
}
