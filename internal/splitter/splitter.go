// Package splitter cuts a georeferenced raster into one tile per geohash cell
// that the raster covers well enough.
//
// Cells are visited in grid order (south to north, west to east). For each
// cell the coverage of the raster footprint is compared with the threshold;
// accepted cells are mapped to pixels and copied out. Tiles are produced
// lazily, so a caller that stops early never pays for the rest of the grid.
package splitter

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/geohash-tiler/internal/core/model"
	"github.com/mohammed-shakir/geohash-tiler/internal/core/observability"
	"github.com/mohammed-shakir/geohash-tiler/internal/coverage"
	"github.com/mohammed-shakir/geohash-tiler/internal/mapper"
	"github.com/mohammed-shakir/geohash-tiler/internal/mapper/geohash"
	"github.com/mohammed-shakir/geohash-tiler/internal/pixelmap"
	"github.com/mohammed-shakir/geohash-tiler/internal/sink"
)

// Stage names a step of a split, used as a log field.
type Stage string

const (
	StageInitialized Stage = "initialized"
	StageEnumerating Stage = "enumerating"
	StageEvaluating  Stage = "evaluating"
	StageExtracting  Stage = "extracting"
	StageSkipping    Stage = "skipping"
	StageDone        Stage = "done"
)

// outcome labels for tiler_cells_total
const (
	outcomeEmitted    = "emitted"
	outcomeCoverage   = "skipped_coverage"
	outcomeDegenerate = "skipped_degenerate"
)

type Options struct {
	Precision int
	Threshold coverage.Threshold
	// Workers bounds parallel extraction in Run; values below 2 run inline.
	Workers int
}

func DefaultOptions(precision int) Options {
	return Options{Precision: precision, Threshold: coverage.Default(), Workers: 1}
}

type Stats struct {
	Candidates        int `json:"candidates"`
	Emitted           int `json:"emitted"`
	SkippedCoverage   int `json:"skipped_coverage"`
	SkippedDegenerate int `json:"skipped_degenerate"`
}

func (s *Stats) add(oc string) {
	s.Candidates++
	switch oc {
	case outcomeEmitted:
		s.Emitted++
	case outcomeCoverage:
		s.SkippedCoverage++
	case outcomeDegenerate:
		s.SkippedDegenerate++
	}
}

type Splitter struct {
	logger *slog.Logger
	grid   mapper.Interface
	now    func() time.Time // for tests
}

// New returns a splitter over grid. A nil grid means the geohash grid.
func New(logger *slog.Logger, grid mapper.Interface) *Splitter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if grid == nil {
		grid = geohash.New()
	}
	return &Splitter{logger: logger, grid: grid, now: time.Now}
}

func (s *Splitter) prepare(img *model.RawImage, opts Options) (iter.Seq[model.GeohashCell], error) {
	if err := geohash.ValidatePrecision(opts.Precision); err != nil {
		return nil, err
	}
	if err := opts.Threshold.Validate(); err != nil {
		return nil, err
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	cells, err := s.grid.CellsFor(img.Box, opts.Precision)
	if err != nil {
		return nil, fmt.Errorf("enumerate cells: %w", err)
	}
	s.logger.Debug("split prepared",
		"stage", StageInitialized,
		"precision", opts.Precision,
		"min_coverage", opts.Threshold.Min,
		"boundary", opts.Threshold.Boundary.String(),
		"width", img.Width, "height", img.Height, "channels", img.Channels)
	return cells, nil
}

// Split returns the lazy tile sequence for img. Arguments are validated
// before any cell is visited. The sequence may be ranged over repeatedly
// and yields the same tiles each time.
func (s *Splitter) Split(img *model.RawImage, opts Options) (iter.Seq[model.Tile], error) {
	cells, err := s.prepare(img, opts)
	if err != nil {
		return nil, err
	}
	return func(yield func(model.Tile) bool) {
		start := s.now()
		var st Stats
		defer func() {
			s.finish(opts.Precision, st, start)
		}()
		for cell := range cells {
			t, oc := s.evaluate(img, cell, opts.Threshold)
			st.add(oc)
			if oc != outcomeEmitted {
				continue
			}
			if !yield(t) {
				return
			}
		}
	}, nil
}

// evaluate decides one cell and extracts its tile when accepted.
func (s *Splitter) evaluate(img *model.RawImage, cell model.GeohashCell, th coverage.Threshold) (model.Tile, string) {
	start := s.now()
	cov := coverage.Coverage(img.Box, cell)
	if !th.Accept(cov) {
		observability.ObserveCell(outcomeCoverage, 0)
		return model.Tile{}, outcomeCoverage
	}

	// the cell may hang over the raster edge; ToPixel clamps it
	rect, err := pixelmap.ToPixel(cell.Box, img.Box, img.Width, img.Height)
	if err != nil {
		s.logger.Debug("degenerate pixel region", "stage", StageSkipping, "geohash", cell.ID, "err", err)
		observability.ObserveCell(outcomeDegenerate, 0)
		return model.Tile{}, outcomeDegenerate
	}

	t := model.Tile{
		Cell:      cell,
		Coverage:  cov,
		Timestamp: img.Timestamp,
		Width:     rect.Dx(),
		Height:    rect.Dy(),
		Channels:  img.Channels,
		Pix:       img.SubImage(rect),
		Rect:      rect,
	}
	dur := time.Since(start)
	observability.ObserveCell(outcomeEmitted, dur.Seconds())
	observability.AddTileBytes(len(t.Pix))
	return t, outcomeEmitted
}

func (s *Splitter) finish(precision int, st Stats, start time.Time) {
	dur := time.Since(start)
	observability.ObserveSplit(precision, dur.Seconds())
	s.logger.Debug("split finished",
		"stage", StageDone,
		"candidates", st.Candidates,
		"emitted", st.Emitted,
		"skipped_coverage", st.SkippedCoverage,
		"skipped_degenerate", st.SkippedDegenerate,
		"dur", dur.String())
}

// Run drains the tile sequence into dst and reports what happened to every
// candidate cell. With opts.Workers > 1 extraction runs in parallel but dst
// still sees tiles in grid order. A cancelled ctx or a failing dst stops the
// run; tiles are only ever sent whole.
func (s *Splitter) Run(ctx context.Context, img *model.RawImage, opts Options, dst sink.Sink) (Stats, error) {
	cells, err := s.prepare(img, opts)
	if err != nil {
		return Stats{}, err
	}
	if dst == nil {
		dst = sink.Discard
	}
	start := s.now()
	var st Stats
	defer func() { s.finish(opts.Precision, st, start) }()

	if opts.Workers < 2 {
		for cell := range cells {
			if err := ctx.Err(); err != nil {
				return st, err
			}
			t, oc := s.evaluate(img, cell, opts.Threshold)
			st.add(oc)
			if oc != outcomeEmitted {
				continue
			}
			if err := dst.Send(ctx, t); err != nil {
				return st, fmt.Errorf("send tile %s: %w", t.Cell.ID, err)
			}
		}
		return st, nil
	}

	err = s.runParallel(ctx, img, cells, opts, dst, &st)
	return st, err
}

type result struct {
	tile    model.Tile
	outcome string
}

type job struct {
	cell model.GeohashCell
	slot chan result
}

// runParallel hands cells to a worker pool. Each job carries a one-slot
// channel and the slots are queued in grid order, so the consumer reads
// results in order while workers finish out of order. At most
// 2*Workers tiles are held in memory.
func (s *Splitter) runParallel(
	ctx context.Context,
	img *model.RawImage,
	cells iter.Seq[model.GeohashCell],
	opts Options,
	dst sink.Sink,
	st *Stats,
) error {
	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan job, opts.Workers)
	order := make(chan chan result, opts.Workers)

	g.Go(func() error {
		defer close(jobs)
		defer close(order)
		s.logger.Debug("enumerating cells", "stage", StageEnumerating, "workers", opts.Workers)
		for cell := range cells {
			j := job{cell: cell, slot: make(chan result, 1)}
			select {
			case jobs <- j:
			case <-gctx.Done():
				return gctx.Err()
			}
			select {
			case order <- j.slot:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for range opts.Workers {
		g.Go(func() error {
			for j := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}
				t, oc := s.evaluate(img, j.cell, opts.Threshold)
				j.slot <- result{tile: t, outcome: oc}
			}
			return nil
		})
	}

	g.Go(func() error {
		for slot := range order {
			var r result
			select {
			case r = <-slot:
			case <-gctx.Done():
				return gctx.Err()
			}
			st.add(r.outcome)
			if r.outcome != outcomeEmitted {
				continue
			}
			if err := dst.Send(gctx, r.tile); err != nil {
				return fmt.Errorf("send tile %s: %w", r.tile.Cell.ID, err)
			}
		}
		return nil
	})

	return g.Wait()
}

// Cursor is a pull-style view of a split for callers that cannot use a
// range loop. Stop must be called when done.
type Cursor struct {
	next func() (model.Tile, bool)
	stop func()
	cur  model.Tile
	done bool
}

func (s *Splitter) Cursor(img *model.RawImage, opts Options) (*Cursor, error) {
	seq, err := s.Split(img, opts)
	if err != nil {
		return nil, err
	}
	next, stop := iter.Pull(seq)
	return &Cursor{next: next, stop: stop}, nil
}

// Next advances to the next tile and reports whether there is one.
func (c *Cursor) Next() bool {
	if c.done {
		return false
	}
	t, ok := c.next()
	if !ok {
		c.done = true
		c.cur = model.Tile{}
		return false
	}
	c.cur = t
	return true
}

// Tile is the tile Next last advanced to.
func (c *Cursor) Tile() model.Tile { return c.cur }

func (c *Cursor) Stop() {
	c.done = true
	c.stop()
}
