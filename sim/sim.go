// Package sim implements a two-dimensional Transmission-Line-Matrix (TLM)
// acoustic wave engine.
//
// The padded grid stores four directional pulses per cell in two
// generations. Each tick runs, strictly in order:
//
//	calc -> apply sources -> sample microphones -> advance
//
// Walls and the absorbing boundary ring are precomputed into per-cell
// caches that are rebuilt only when their configuration changes.
package sim

import (
	"errors"
	"math"
)

// PropagationSpeed is the numeric wave speed of the TLM mesh in m/s.
// A 2D TLM mesh propagates at c/sqrt(2), so the physical speed of sound
// is scaled up to compensate.
const PropagationSpeed = 343.2 * math.Sqrt2

// Defaults.
const (
	DefaultWidth      = 400
	DefaultHeight     = 400
	DefaultDeltaL     = 0.001
	DefaultMicHistory = 1 << 16
)

// Errors.
var (
	ErrInvalidDimensions = errors.New("sim: invalid grid dimensions")
	ErrInvalidBoundary   = errors.New("sim: invalid boundary configuration")
	ErrInvalidDeltaL     = errors.New("sim: invalid spatial step")
	ErrOutOfBounds       = errors.New("sim: coordinate outside simulation region")
	ErrInvalidGeometry   = errors.New("sim: invalid wall geometry")
	ErrInvalidSource     = errors.New("sim: invalid source")
	ErrNotFound          = errors.New("sim: entity not found")
	ErrUnsupportedScene  = errors.New("sim: unsupported scene version")
)

// DeltaT returns the seconds per tick for a spatial step in metres.
func DeltaT(deltaL float64) float64 {
	return deltaL / PropagationSpeed
}
