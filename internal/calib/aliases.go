// Package calib drives a distortion calibration: it centroids every nominal
// grid point across a set of shifted exposures, corrects the nominal
// positions by cross-exposure consensus and fits a distortion basis to the
// result.
//
// The aliases below let callers use the pipeline without importing the
// component packages. Code that needs more than the pipeline surface should
// import them directly:
//
//	calib/geom, calib/exposure, calib/basis
package calib

import (
	"github.com/banshee-data/distortion/internal/calib/basis"
	"github.com/banshee-data/distortion/internal/calib/exposure"
	"github.com/banshee-data/distortion/internal/calib/geom"
)

// ── Geometry ─────────────────────────────────────────────────────────

type Vec2D = geom.Vec2D
type Grid = geom.Grid

var NewHexGrid = geom.NewHexGrid

// ── Exposures ────────────────────────────────────────────────────────

type Image = exposure.Image
type Centroid = exposure.Centroid

var NewImage = exposure.NewImage

// ── Basis ────────────────────────────────────────────────────────────

type Basis = basis.Basis
type BasisKind = basis.Kind
type Extent = basis.Extent
type Solver = basis.Solver
type SolveStats = basis.Stats

// ── Errors ───────────────────────────────────────────────────────────

var (
	ErrGeometry     = geom.ErrGeometry
	ErrMeasurement  = exposure.ErrMeasurement
	ErrLinalg       = basis.ErrLinalg
	ErrPrecondition = basis.ErrPrecondition
)
