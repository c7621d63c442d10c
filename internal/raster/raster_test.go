package raster

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"golang.org/x/image/tiff"

	"github.com/mohammed-shakir/geohash-tiler/internal/core/model"
)

var box = model.GeoBox{MinLat: 10, MaxLat: 11, MinLon: 20, MaxLon: 22}

func TestFromImage_GrayKeepsOneChannel(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 3, 2))
	for i := range g.Pix {
		g.Pix[i] = byte(10 * i)
	}
	raw, err := FromImage(g, box, 5)
	if err != nil {
		t.Fatalf("FromImage: %v", err)
	}
	if raw.Channels != 1 || raw.Width != 3 || raw.Height != 2 || raw.Timestamp != 5 {
		t.Fatalf("raw=%dx%dx%d ts=%d", raw.Width, raw.Height, raw.Channels, raw.Timestamp)
	}
	if !bytes.Equal(raw.Pix, []byte{0, 10, 20, 30, 40, 50}) {
		t.Fatalf("pix=%v", raw.Pix)
	}
}

func TestFromImage_SubImageDropsPadding(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	src.Set(1, 1, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
	src.Set(2, 2, color.NRGBA{R: 4, G: 5, B: 6, A: 255})
	sub := src.SubImage(image.Rect(1, 1, 3, 3))

	raw, err := FromImage(sub, box, 0)
	if err != nil {
		t.Fatalf("FromImage: %v", err)
	}
	if raw.Channels != 4 || len(raw.Pix) != 2*2*4 {
		t.Fatalf("raw=%dx%dx%d len=%d", raw.Width, raw.Height, raw.Channels, len(raw.Pix))
	}
	if !bytes.Equal(raw.Pix[:4], []byte{1, 2, 3, 255}) || !bytes.Equal(raw.Pix[12:], []byte{4, 5, 6, 255}) {
		t.Fatalf("pix=%v", raw.Pix)
	}
}

func TestDecode_PNGAndTIFF(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 5, 4))
	for i := range src.Pix {
		src.Pix[i] = 0xff
	}

	var pngBuf, tiffBuf bytes.Buffer
	if err := png.Encode(&pngBuf, src); err != nil {
		t.Fatalf("png: %v", err)
	}
	if err := tiff.Encode(&tiffBuf, src, nil); err != nil {
		t.Fatalf("tiff: %v", err)
	}

	for want, buf := range map[string]*bytes.Buffer{"png": &pngBuf, "tiff": &tiffBuf} {
		raw, format, err := Decode(buf, box, 1)
		if err != nil {
			t.Fatalf("%s: %v", want, err)
		}
		if format != want || raw.Width != 5 || raw.Height != 4 {
			t.Fatalf("format=%s size=%dx%d", format, raw.Width, raw.Height)
		}
	}
}

func TestDecode_RejectsGarbageAndBadBox(t *testing.T) {
	if _, _, err := Decode(bytes.NewReader([]byte("not an image")), box, 0); err == nil {
		t.Fatalf("expected decode error")
	}

	var buf bytes.Buffer
	_ = png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1)))
	bad := model.GeoBox{MinLat: 5, MaxLat: 1, MinLon: 0, MaxLon: 1}
	if _, _, err := Decode(&buf, bad, 0); !errors.Is(err, model.ErrInvalidBounds) {
		t.Fatalf("err=%v want ErrInvalidBounds", err)
	}
}

func TestWritePNG_RoundTrip(t *testing.T) {
	tile := model.Tile{
		Cell:     model.GeohashCell{ID: "s"},
		Width:    2,
		Height:   1,
		Channels: 3,
		Pix:      []byte{1, 2, 3, 4, 5, 6},
	}
	var buf bytes.Buffer
	if err := WritePNG(&buf, tile); err != nil {
		t.Fatalf("WritePNG: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("png decode: %v", err)
	}
	r, g, b, a := img.At(1, 0).RGBA()
	if r>>8 != 4 || g>>8 != 5 || b>>8 != 6 || a>>8 != 255 {
		t.Fatalf("pixel=(%d,%d,%d,%d)", r>>8, g>>8, b>>8, a>>8)
	}

	tile.Channels = 2
	tile.Pix = tile.Pix[:4]
	if err := WritePNG(&buf, tile); err == nil {
		t.Fatalf("expected error for two-channel tile")
	}
}
