package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/geohash-tiler/internal/cache/keys"
	"github.com/mohammed-shakir/geohash-tiler/internal/core/config"
	"github.com/mohammed-shakir/geohash-tiler/internal/core/model"
	"github.com/mohammed-shakir/geohash-tiler/internal/core/observability"
	"github.com/mohammed-shakir/geohash-tiler/internal/coverage"
	"github.com/mohammed-shakir/geohash-tiler/internal/export/geojson"
	mylog "github.com/mohammed-shakir/geohash-tiler/internal/logger"
	"github.com/mohammed-shakir/geohash-tiler/internal/mapper/geohash"
	h3mapper "github.com/mohammed-shakir/geohash-tiler/internal/mapper/h3"
	"github.com/mohammed-shakir/geohash-tiler/internal/raster"
	"github.com/mohammed-shakir/geohash-tiler/internal/sink"
	"github.com/mohammed-shakir/geohash-tiler/internal/sink/redissink"
	"github.com/mohammed-shakir/geohash-tiler/internal/splitter"
)

// maxListedCells caps /v1/cells responses.
const maxListedCells = 50_000

// IndexLookup resolves an H3 cell to the keys of tiles stored under it.
type IndexLookup interface {
	Lookup(ctx context.Context, h3Cell string) ([]string, error)
}

type Handlers struct {
	logger   *slog.Logger
	cfg      config.Config
	grid     *geohash.Grid
	splitter *splitter.Splitter
	sink     sink.Sink
	index    IndexLookup
}

// New wires the tiler handlers. dst receives tiles from POST /v1/split and
// may be nil to discard them; index may be nil when no H3 index is kept.
func New(logger *slog.Logger, cfg config.Config, dst sink.Sink, index IndexLookup) *Handlers {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if dst == nil {
		dst = sink.Discard
	}
	grid := geohash.New()
	return &Handlers{
		logger:   logger,
		cfg:      cfg,
		grid:     grid,
		splitter: splitter.New(logger, grid),
		sink:     dst,
		index:    index,
	}
}

// Mount registers the /v1 routes on r.
func (h *Handlers) Mount(r chi.Router) {
	r.Get("/v1/cells", h.HandleCells)
	r.Post("/v1/split", h.HandleSplit)
	r.Get("/v1/index/h3/{cell}", h.HandleH3Index)
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func observed(route string, fn func(w http.ResponseWriter, r *http.Request)) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		fn(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

// HandleCells lists the candidate cells of a box with their coverage.
func (h *Handlers) HandleCells(w http.ResponseWriter, r *http.Request) {
	observed("/v1/cells", h.cells)(w, r)
}

func (h *Handlers) cells(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	box, err := model.ParseBBox(q.Get("bbox"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid bbox: %v", err), http.StatusBadRequest)
		return
	}
	opts, err := h.splitOptions(q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if _, err := h.grid.Limit(box, opts.Precision, maxListedCells); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	seq, err := h.grid.CellsFor(box, opts.Precision)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	fc := geojson.Cells(box, seq, opts.Threshold)
	fc.Append(geojson.Footprint(box))
	writeJSON(w, http.StatusOK, "application/geo+json", fc)
}

type splitResponse struct {
	ImageID       string         `json:"image_id"`
	Format        string         `json:"format"`
	Width         int            `json:"width"`
	Height        int            `json:"height"`
	Channels      int            `json:"channels"`
	Precision     int            `json:"precision"`
	MinCoverage   float64        `json:"min_coverage"`
	Boundary      string         `json:"boundary"`
	Timestamp     int64          `json:"ts"`
	Stats         splitter.Stats `json:"stats"`
	ValidFraction *float64       `json:"valid_fraction,omitempty"`
}

// HandleSplit decodes the request body as an image georeferenced by bbox,
// splits it and sends every tile to the configured sink.
func (h *Handlers) HandleSplit(w http.ResponseWriter, r *http.Request) {
	observed("/v1/split", h.split)(w, r)
}

func (h *Handlers) split(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	box, err := model.ParseBBox(q.Get("bbox"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid bbox: %v", err), http.StatusBadRequest)
		return
	}
	opts, err := h.splitOptions(q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := h.grid.Limit(box, opts.Precision, h.cfg.MaxCells); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	ts := time.Now().UnixMilli()
	if v := strings.TrimSpace(q.Get("ts")); v != "" {
		if ts, err = strconv.ParseInt(v, 10, 64); err != nil {
			http.Error(w, "invalid ts: must be an integer", http.StatusBadRequest)
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			http.Error(w, fmt.Sprintf("image larger than %d bytes", mbe.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		http.Error(w, "empty body: expected an encoded image", http.StatusBadRequest)
		return
	}

	imageID := keys.Fingerprint(body, []byte(box.String()), []byte(strconv.FormatInt(ts, 10)))
	ctx := mylog.WithImageID(r.Context(), imageID)
	ctx = mylog.WithLayer(ctx, h.cfg.Layer)

	img, format, err := raster.Decode(bytes.NewReader(body), box, ts)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusUnsupportedMediaType
		}
		http.Error(w, err.Error(), status)
		return
	}

	dst := h.sink
	var valid *sink.Tally
	if h.cfg.NoData >= 0 && h.cfg.NoData <= 255 {
		valid = &sink.Tally{NoData: byte(h.cfg.NoData)}
		dst = sink.Tee(dst, valid)
	}

	stats, err := h.splitter.Run(ctx, img, opts, dst)
	if err != nil {
		h.logger.ErrorContext(ctx, "split failed", "err", err, "emitted", stats.Emitted)
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			// anything else came back from the sink
			status = http.StatusBadGateway
		}
		http.Error(w, err.Error(), status)
		return
	}
	h.logger.InfoContext(ctx, "split done",
		"format", format,
		"precision", opts.Precision,
		"emitted", stats.Emitted,
		"candidates", stats.Candidates,
	)

	out := splitResponse{
		ImageID:     imageID,
		Format:      format,
		Width:       img.Width,
		Height:      img.Height,
		Channels:    img.Channels,
		Precision:   opts.Precision,
		MinCoverage: opts.Threshold.Min,
		Boundary:    opts.Threshold.Boundary.String(),
		Timestamp:   ts,
		Stats:       stats,
	}
	if valid != nil && valid.Tiles() > 0 {
		f := valid.MeanValid()
		out.ValidFraction = &f
	}
	writeJSON(w, http.StatusOK, "application/json", out)
}

// HandleH3Index lists tile keys indexed under an H3 cell.
func (h *Handlers) HandleH3Index(w http.ResponseWriter, r *http.Request) {
	observed("/v1/index/h3/{cell}", h.h3Index)(w, r)
}

func (h *Handlers) h3Index(w http.ResponseWriter, r *http.Request) {
	if h.index == nil {
		http.Error(w, redissink.ErrIndexDisabled.Error(), http.StatusNotImplemented)
		return
	}
	if layer := strings.TrimSpace(r.URL.Query().Get("layer")); layer != "" && layer != h.cfg.Layer {
		http.Error(w, fmt.Sprintf("layer %q is not served here", layer), http.StatusNotFound)
		return
	}
	cell := chi.URLParam(r, "cell")

	tileKeys, err := h.index.Lookup(r.Context(), cell)
	switch {
	case errors.Is(err, redissink.ErrIndexDisabled):
		http.Error(w, err.Error(), http.StatusNotImplemented)
		return
	case errors.Is(err, h3mapper.ErrInvalidCell):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if tileKeys == nil {
		tileKeys = []string{}
	}
	writeJSON(w, http.StatusOK, "application/json", map[string]any{
		"cell":  cell,
		"layer": h.cfg.Layer,
		"keys":  tileKeys,
	})
}

// splitOptions reads precision, min_coverage and boundary, falling back to
// the configured defaults.
func (h *Handlers) splitOptions(q url.Values) (splitter.Options, error) {
	opts := splitter.Options{
		Precision: h.cfg.Precision,
		Threshold: h.cfg.Threshold(),
		Workers:   h.cfg.Workers,
	}
	if v := strings.TrimSpace(q.Get("precision")); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return opts, errors.New("invalid precision: must be an integer")
		}
		if err := geohash.ValidatePrecision(p); err != nil {
			return opts, err
		}
		opts.Precision = p
	}
	if v := strings.TrimSpace(q.Get("min_coverage")); v != "" {
		f, err := parseFloat(v)
		if err != nil {
			return opts, fmt.Errorf("invalid min_coverage: %w", err)
		}
		opts.Threshold.Min = f
	}
	if v := q.Get("boundary"); v != "" {
		b, err := coverage.ParseBoundary(v)
		if err != nil {
			return opts, err
		}
		opts.Threshold.Boundary = b
	}
	if err := opts.Threshold.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return f, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidBounds),
		errors.Is(err, model.ErrInvalidPrecision),
		errors.Is(err, model.ErrInvalidCoverage),
		errors.Is(err, model.ErrTooManyCells):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrBufferMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, contentType string, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "err", err)
	}
}
