// Package raster turns decoded images into RawImages and tiles back into
// images. PNG, JPEG, GIF, TIFF, BMP and WebP inputs are recognised.
package raster

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/mohammed-shakir/geohash-tiler/internal/core/model"
)

// Decode reads an encoded image and georeferences it with box. It returns
// the detected format name.
func Decode(r io.Reader, box model.GeoBox, ts int64) (*model.RawImage, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	raw, err := FromImage(img, box, ts)
	if err != nil {
		return nil, format, err
	}
	return raw, format, nil
}

// FromImage copies img into a row-major buffer. Grayscale images keep one
// channel; everything else becomes non-premultiplied RGBA.
func FromImage(img image.Image, box model.GeoBox, ts int64) (*model.RawImage, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: empty image %v", model.ErrBufferMismatch, b)
	}

	switch img.(type) {
	case *image.Gray, *image.Gray16:
		g := image.NewGray(image.Rect(0, 0, w, h))
		draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
		return model.NewRawImage(w, h, 1, packed(g.Pix, g.Stride, w, h), box, ts)
	default:
		n := image.NewNRGBA(image.Rect(0, 0, w, h))
		draw.Draw(n, n.Bounds(), img, b.Min, draw.Src)
		return model.NewRawImage(w, h, 4, packed(n.Pix, n.Stride, w*4, h), box, ts)
	}
}

// packed drops row padding.
func packed(pix []byte, stride, rowLen, h int) []byte {
	if stride == rowLen {
		return pix[:rowLen*h]
	}
	out := make([]byte, rowLen*h)
	for y := range h {
		copy(out[y*rowLen:(y+1)*rowLen], pix[y*stride:y*stride+rowLen])
	}
	return out
}

// ToImage wraps a tile's pixels as an image. One, three and four channel
// tiles are supported.
func ToImage(t model.Tile) (image.Image, error) {
	r := image.Rect(0, 0, t.Width, t.Height)
	if len(t.Pix) != t.Width*t.Height*t.Channels {
		return nil, fmt.Errorf("%w: tile %s", model.ErrBufferMismatch, t.Cell.ID)
	}
	switch t.Channels {
	case 1:
		return &image.Gray{Pix: t.Pix, Stride: t.Width, Rect: r}, nil
	case 4:
		return &image.NRGBA{Pix: t.Pix, Stride: t.Width * 4, Rect: r}, nil
	case 3:
		n := image.NewNRGBA(r)
		for i, j := 0, 0; i < len(t.Pix); i, j = i+3, j+4 {
			n.Pix[j], n.Pix[j+1], n.Pix[j+2], n.Pix[j+3] = t.Pix[i], t.Pix[i+1], t.Pix[i+2], 0xff
		}
		return n, nil
	default:
		return nil, fmt.Errorf("raster: %d-channel tiles have no image form", t.Channels)
	}
}

// WritePNG encodes a tile as PNG.
func WritePNG(w io.Writer, t model.Tile) error {
	img, err := ToImage(t)
	if err != nil {
		return err
	}
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode png %s: %w", t.Cell.ID, err)
	}
	return nil
}
