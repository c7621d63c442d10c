package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geohash-tiler/internal/core/config"
	"github.com/mohammed-shakir/geohash-tiler/internal/core/model"
	h3mapper "github.com/mohammed-shakir/geohash-tiler/internal/mapper/h3"
	"github.com/mohammed-shakir/geohash-tiler/internal/sink"
)

func testConfig() config.Config {
	cfg := config.FromEnv()
	cfg.Layer = "ortho"
	cfg.Precision = 2
	cfg.MinCoverage = 1
	cfg.Workers = 1
	cfg.NoData = -1
	cfg.MaxUploadBytes = 1 << 20
	return cfg
}

func testRouter(cfg config.Config, dst sink.Sink, idx IndexLookup) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	New(logger, cfg, dst, idx).Mount(r)
	return r
}

// 80x40 white PNG; over lon 0..40 lat 0..20 that is two pixels per degree.
func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 80, 40))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png: %v", err)
	}
	return buf.Bytes()
}

func TestHandleCells_GeoJSON(t *testing.T) {
	h := testRouter(testConfig(), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/cells?bbox=0,0,40,20&precision=2", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Fatalf("content-type=%q", ct)
	}
	fc, err := geojson.UnmarshalFeatureCollection(rr.Body.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	// 16 candidate cells plus the footprint
	if len(fc.Features) != 17 {
		t.Fatalf("features=%d want 17", len(fc.Features))
	}
	accepted := 0
	for _, f := range fc.Features {
		if ok, _ := f.Properties["accepted"].(bool); ok {
			accepted++
		}
	}
	if accepted != 9 {
		t.Fatalf("accepted=%d want 9", accepted)
	}
}

func TestHandleCells_BadParams(t *testing.T) {
	h := testRouter(testConfig(), nil, nil)
	for _, q := range []string{
		"bbox=0,0,40",
		"bbox=0,0,40,20&precision=13",
		"bbox=0,0,40,20&precision=two",
		"bbox=0,0,40,20&min_coverage=1.5",
		"bbox=0,0,40,20&boundary=sideways",
		"bbox=0,0,40,20&precision=9",
	} {
		req := httptest.NewRequest(http.MethodGet, "/v1/cells?"+q, nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d want 400", q, rr.Code)
		}
	}
}

func TestHandleSplit_SendsTilesAndSummarises(t *testing.T) {
	cfg := testConfig()
	cfg.NoData = 0
	col := &sink.Collector{}
	h := testRouter(cfg, col, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/split?bbox=0,0,40,20&ts=5", bytes.NewReader(testPNG(t)))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var got splitResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Format != "png" || got.Width != 80 || got.Height != 40 || got.Channels != 4 {
		t.Fatalf("summary=%+v", got)
	}
	if got.Stats.Candidates != 16 || got.Stats.Emitted != 9 || got.Stats.SkippedCoverage != 7 {
		t.Fatalf("stats=%+v", got.Stats)
	}
	if len(got.ImageID) != 16 || got.Timestamp != 5 || got.Boundary != "inclusive" {
		t.Fatalf("summary=%+v", got)
	}
	if got.ValidFraction == nil || *got.ValidFraction != 1 {
		t.Fatalf("valid_fraction=%v want 1", got.ValidFraction)
	}

	tiles := col.Tiles()
	if len(tiles) != 9 {
		t.Fatalf("sink got %d tiles want 9", len(tiles))
	}
	for _, tl := range tiles {
		if tl.Timestamp != 5 || tl.Cell.Precision != 2 || tl.Coverage != 1 {
			t.Fatalf("tile=%s ts=%d p=%d cov=%v", tl.Cell.ID, tl.Timestamp, tl.Cell.Precision, tl.Coverage)
		}
	}
}

func TestHandleSplit_ThresholdOverride(t *testing.T) {
	col := &sink.Collector{}
	h := testRouter(testConfig(), col, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/split?bbox=0,0,40,20&min_coverage=0", bytes.NewReader(testPNG(t)))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if n := len(col.Tiles()); n != 16 {
		t.Fatalf("tiles=%d want 16", n)
	}
	if strings.Contains(rr.Body.String(), "valid_fraction") {
		t.Fatalf("valid_fraction reported without nodata: %s", rr.Body.String())
	}
}

func TestHandleSplit_Errors(t *testing.T) {
	cfg := testConfig()
	cfg.MaxUploadBytes = 64
	h := testRouter(cfg, nil, nil)

	cases := []struct {
		name  string
		query string
		body  []byte
		want  int
	}{
		{"no bbox", "", []byte("x"), http.StatusBadRequest},
		{"bad ts", "bbox=0,0,40,20&ts=soon", []byte("x"), http.StatusBadRequest},
		{"empty body", "bbox=0,0,40,20", nil, http.StatusBadRequest},
		{"not an image", "bbox=0,0,40,20", []byte("definitely not an image"), http.StatusUnsupportedMediaType},
		{"too large", "bbox=0,0,40,20", bytes.Repeat([]byte{1}, 65), http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/v1/split?"+tc.query, bytes.NewReader(tc.body))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != tc.want {
			t.Fatalf("%s: status=%d want %d (%s)", tc.name, rr.Code, tc.want, rr.Body.String())
		}
	}
}

func TestHandleSplit_TooManyCellsRejectedBeforeDecoding(t *testing.T) {
	col := &sink.Collector{}
	cfg := testConfig()
	cfg.MaxCells = 1_000_000
	h := testRouter(cfg, col, nil)

	// a 1x1 degree box at precision 12 has about 1.8e13 candidate cells
	req := httptest.NewRequest(http.MethodPost, "/v1/split?bbox=0,0,1,1&precision=12&min_coverage=0", bytes.NewReader(testPNG(t)))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want 400 (%s)", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "too many candidate cells") {
		t.Fatalf("body=%q", rr.Body.String())
	}
	if n := len(col.Tiles()); n != 0 {
		t.Fatalf("sink got %d tiles", n)
	}

	// the limit is inclusive: 16 candidates pass at 16 and fail at 15
	cfg.MaxCells = 16
	req = httptest.NewRequest(http.MethodPost, "/v1/split?bbox=0,0,40,20&precision=2", bytes.NewReader(testPNG(t)))
	rr = httptest.NewRecorder()
	testRouter(cfg, nil, nil).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200 at the limit", rr.Code)
	}
	cfg.MaxCells = 15
	req = httptest.NewRequest(http.MethodPost, "/v1/split?bbox=0,0,40,20&precision=2", bytes.NewReader(testPNG(t)))
	rr = httptest.NewRecorder()
	testRouter(cfg, nil, nil).ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want 400 above the limit", rr.Code)
	}
}

func TestHandleSplit_SinkFailureIsBadGateway(t *testing.T) {
	boom := errors.New("broker down")
	failing := sink.Func(func(context.Context, model.Tile) error { return boom })
	h := testRouter(testConfig(), failing, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/split?bbox=0,0,40,20", bytes.NewReader(testPNG(t)))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status=%d want 502", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "broker down") {
		t.Fatalf("body=%q", rr.Body.String())
	}
}

type fakeIndex struct {
	keys    []string
	err     error
	lastArg string
}

func (f *fakeIndex) Lookup(_ context.Context, cell string) ([]string, error) {
	f.lastArg = cell
	return f.keys, f.err
}

func TestHandleH3Index(t *testing.T) {
	idx := &fakeIndex{keys: []string{"tile:ortho:5:u4pru:1"}}
	h := testRouter(testConfig(), nil, idx)

	req := httptest.NewRequest(http.MethodGet, "/v1/index/h3/871f1b5a9ffffff?layer=ortho", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if idx.lastArg != "871f1b5a9ffffff" {
		t.Fatalf("lookup arg=%q", idx.lastArg)
	}
	var body struct {
		Cell string   `json:"cell"`
		Keys []string `json:"keys"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Cell != "871f1b5a9ffffff" || len(body.Keys) != 1 {
		t.Fatalf("body=%+v", body)
	}
}

func TestHandleH3Index_Statuses(t *testing.T) {
	cases := []struct {
		name string
		idx  IndexLookup
		path string
		want int
	}{
		{"no index", nil, "/v1/index/h3/871f1b5a9ffffff", http.StatusNotImplemented},
		{"other layer", &fakeIndex{}, "/v1/index/h3/871f1b5a9ffffff?layer=dem", http.StatusNotFound},
		{"bad cell", &fakeIndex{err: fmt.Errorf("%w %q", h3mapper.ErrInvalidCell, "zz")}, "/v1/index/h3/zz", http.StatusBadRequest},
		{"store down", &fakeIndex{err: errors.New("dial tcp: refused")}, "/v1/index/h3/871f1b5a9ffffff", http.StatusBadGateway},
	}
	for _, tc := range cases {
		h := testRouter(testConfig(), nil, tc.idx)
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != tc.want {
			t.Fatalf("%s: status=%d want %d", tc.name, rr.Code, tc.want)
		}
	}
}
