package model

import "errors"

var (
	ErrInvalidBounds    = errors.New("invalid bounds")
	ErrInvalidPrecision = errors.New("invalid geohash precision")
	ErrInvalidCoverage  = errors.New("invalid coverage threshold")
	// ErrDegenerateRegion marks a geo overlap that rounds to an empty pixel
	// rectangle. The splitter recovers from it by skipping the cell.
	ErrDegenerateRegion = errors.New("degenerate pixel region")
	ErrBufferMismatch   = errors.New("pixel buffer does not match dimensions")
	ErrTooManyCells     = errors.New("too many candidate cells")
)
