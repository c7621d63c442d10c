package geohash

import (
	"errors"
	"math"
	"reflect"
	"slices"
	"testing"

	"github.com/mohammed-shakir/geohash-tiler/internal/core/model"
)

func TestCellSize_MatchesInterleaving(t *testing.T) {
	want := map[int][2]float64{
		1: {45.0, 45.0},
		2: {5.625, 11.25},
		3: {1.40625, 1.40625},
		4: {0.17578125, 0.3515625},
		5: {0.0439453125, 0.0439453125},
		6: {0.0054931640625, 0.010986328125},
	}
	for p, w := range want {
		dLat, dLon := CellSize(p)
		if dLat != w[0] || dLon != w[1] {
			t.Fatalf("CellSize(%d)=(%v,%v) want (%v,%v)", p, dLat, dLon, w[0], w[1])
		}
	}
}

func TestEncode_KnownVectors(t *testing.T) {
	got, err := Encode(42.6, -5.6, 5)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if got != "ezs42" {
		t.Fatalf("Encode=%q want ezs42", got)
	}

	got, err = Encode(57.64911, 10.40744, 11)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if got != "u4pruydqqvj" {
		t.Fatalf("Encode=%q want u4pruydqqvj", got)
	}
}

func TestDecode_ContainsEncodedPoint(t *testing.T) {
	box, err := Decode("ezs42")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !(box.MinLat <= 42.6 && 42.6 <= box.MaxLat && box.MinLon <= -5.6 && -5.6 <= box.MaxLon) {
		t.Fatalf("decoded box %+v does not contain the source point", box)
	}
	dLat, dLon := CellSize(5)
	if box.LatSpan() != dLat || box.LonSpan() != dLon {
		t.Fatalf("decoded spans (%v,%v) want (%v,%v)", box.LatSpan(), box.LonSpan(), dLat, dLon)
	}
}

func TestDecode_Errors(t *testing.T) {
	if _, err := Decode(""); !errors.Is(err, model.ErrInvalidPrecision) {
		t.Fatalf("empty id: err=%v want ErrInvalidPrecision", err)
	}
	if _, err := Decode("0123456789bcd"); !errors.Is(err, model.ErrInvalidPrecision) {
		t.Fatalf("13 chars: err=%v want ErrInvalidPrecision", err)
	}
	if _, err := Decode("ezsa2"); !errors.Is(err, ErrInvalidGeohash) {
		t.Fatalf("bad char: err=%v want ErrInvalidGeohash", err)
	}
}

func TestCellsFor_InvalidPrecision(t *testing.T) {
	g := New()
	bb := model.MustGeoBox(0, 1, 0, 1)
	for _, p := range []int{0, -1, 13} {
		if _, err := g.CellsFor(bb, p); !errors.Is(err, model.ErrInvalidPrecision) {
			t.Fatalf("p=%d err=%v want ErrInvalidPrecision", p, err)
		}
	}
}

func TestCellsFor_UnitBoxPrecision1(t *testing.T) {
	g := New()
	seq, err := g.CellsFor(model.MustGeoBox(0, 1, 0, 1), 1)
	if err != nil {
		t.Fatalf("CellsFor: %v", err)
	}
	cells := slices.Collect(seq)
	if len(cells) != 1 {
		t.Fatalf("got %d cells want 1: %+v", len(cells), cells)
	}
	c := cells[0]
	if c.ID != "s" || c.Precision != 1 {
		t.Fatalf("cell=%+v want id s", c)
	}
	want := model.GeoBox{MinLat: 0, MaxLat: 45, MinLon: 0, MaxLon: 45}
	if c.Box != want {
		t.Fatalf("box=%+v want %+v", c.Box, want)
	}
}

func TestCellsFor_RowMajorSouthToNorth(t *testing.T) {
	g := New()
	seq, err := g.CellsFor(model.MustGeoBox(-10, 10, -10, 10), 1)
	if err != nil {
		t.Fatalf("CellsFor: %v", err)
	}
	got := model.Cells(slices.Collect(seq)).IDs()
	want := []string{"7", "k", "e", "s"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order=%v want %v", got, want)
	}
}

func TestCellsFor_RestartableAndDeterministic(t *testing.T) {
	g := New()
	bb := model.MustGeoBox(59.30, 59.40, 17.95, 18.15)
	seq, err := g.CellsFor(bb, 5)
	if err != nil {
		t.Fatalf("CellsFor: %v", err)
	}
	a := slices.Collect(seq)
	b := slices.Collect(seq)
	if len(a) == 0 {
		t.Fatalf("expected cells")
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("second pass differs from the first")
	}

	n, err := g.Count(bb, 5)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if int64(len(a)) > n {
		t.Fatalf("Count=%d is below yielded %d", n, len(a))
	}

	seen := map[string]struct{}{}
	for _, c := range a {
		if _, ok := seen[c.ID]; ok {
			t.Fatalf("duplicate cell %s", c.ID)
		}
		seen[c.ID] = struct{}{}
		if _, ok := c.Box.Intersect(bb); !ok {
			t.Fatalf("cell %s does not overlap the box", c.ID)
		}
	}
}

func TestCellsFor_EdgeAlignedBoxExcludesNeighbours(t *testing.T) {
	g := New()
	// exactly one precision-1 cell; neighbours only touch it
	seq, err := g.CellsFor(model.MustGeoBox(0, 45, 0, 45), 1)
	if err != nil {
		t.Fatalf("CellsFor: %v", err)
	}
	if ids := model.Cells(slices.Collect(seq)).IDs(); !reflect.DeepEqual(ids, []string{"s"}) {
		t.Fatalf("ids=%v want [s]", ids)
	}
}

func TestCellsFor_IDRoundTrip(t *testing.T) {
	g := New()
	boxes := []model.GeoBox{
		model.MustGeoBox(42.5, 42.7, -5.7, -5.5),
		model.MustGeoBox(-33.9, -33.8, 151.1, 151.3),
		model.MustGeoBox(89.5, 90, 179.5, 180),
		model.MustGeoBox(-90, -89.8, -180, -179.7),
	}
	for _, bb := range boxes {
		for _, p := range []int{1, 3, 4, 6} {
			seq, err := g.CellsFor(bb, p)
			if err != nil {
				t.Fatalf("CellsFor(%v,%d): %v", bb, p, err)
			}
			for c := range seq {
				if len(c.ID) != c.Precision {
					t.Fatalf("id %q length != precision %d", c.ID, c.Precision)
				}
				dec, err := Decode(c.ID)
				if err != nil {
					t.Fatalf("Decode(%q): %v", c.ID, err)
				}
				if !closeBox(dec, c.Box, 1e-9) {
					t.Fatalf("Decode(%q)=%+v want %+v", c.ID, dec, c.Box)
				}
			}
		}
	}
}

func TestCellsFor_HighPrecisionSmallBox(t *testing.T) {
	g := New()
	bb := model.MustGeoBox(57.649110, 57.649112, 10.407440, 10.407442)
	seq, err := g.CellsFor(bb, 12)
	if err != nil {
		t.Fatalf("CellsFor: %v", err)
	}
	n := 0
	for c := range seq {
		n++
		if len(c.ID) != 12 {
			t.Fatalf("id %q has wrong length", c.ID)
		}
	}
	if n == 0 {
		t.Fatalf("expected at least one precision-12 cell")
	}
}

func closeBox(a, b model.GeoBox, tol float64) bool {
	return math.Abs(a.MinLat-b.MinLat) <= tol && math.Abs(a.MaxLat-b.MaxLat) <= tol &&
		math.Abs(a.MinLon-b.MinLon) <= tol && math.Abs(a.MaxLon-b.MaxLon) <= tol
}

func TestLimit(t *testing.T) {
	g := New()
	box := model.GeoBox{MinLat: 0, MaxLat: 20, MinLon: 0, MaxLon: 40}

	n, err := g.Limit(box, 2, 16)
	if err != nil || n != 16 {
		t.Fatalf("Limit at the count: n=%d err=%v", n, err)
	}
	if _, err := g.Limit(box, 2, 15); !errors.Is(err, model.ErrTooManyCells) {
		t.Fatalf("err=%v want ErrTooManyCells", err)
	}
	if n, err := g.Limit(box, 12, 0); err != nil || n <= 1_000_000 {
		t.Fatalf("limit 0 must disable the check: n=%d err=%v", n, err)
	}

	unit := model.GeoBox{MinLat: 0, MaxLat: 1, MinLon: 0, MaxLon: 1}
	if _, err := g.Limit(unit, 12, 1_000_000); !errors.Is(err, model.ErrTooManyCells) {
		t.Fatalf("1x1 degree at precision 12: err=%v want ErrTooManyCells", err)
	}
	if _, err := g.Limit(box, 13, 10); !errors.Is(err, model.ErrInvalidPrecision) {
		t.Fatalf("err=%v want ErrInvalidPrecision", err)
	}
}
