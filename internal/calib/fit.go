package calib

import (
	"github.com/banshee-data/distortion/internal/calib/basis"
	"github.com/banshee-data/distortion/internal/calib/exposure"
	"github.com/banshee-data/distortion/internal/calib/geom"
)

// Fit builds a basis of the given family and solves it against ms.
func Fit(kind basis.Kind, param int, extent basis.Extent, ms []exposure.Centroid, solver basis.Solver) (basis.Basis, basis.Stats, error) {
	b, err := basis.New(kind, param, extent)
	if err != nil {
		return nil, basis.Stats{}, err
	}
	stats, err := solver.Solve(b, ms)
	if err != nil {
		Opsf("%s(%d) fit over %d measurements failed: %v", kind, param, len(ms), err)
		return nil, stats, err
	}
	Diagf("%s(%d) fit: %d rows, %d active functions, cond %.3g, rms %.4g px",
		kind, param, stats.Rows, stats.Active, stats.Cond, stats.RMS)
	return b, stats, nil
}

// FitDifferential is Fit using only displacements between exposures of the
// same point, as returned by MeasureGrouped. The fitted model has no
// constant term.
func FitDifferential(kind basis.Kind, param int, extent basis.Extent, groups [][]exposure.Centroid, solver basis.Solver) (basis.Basis, basis.Stats, error) {
	b, err := basis.New(kind, param, extent)
	if err != nil {
		return nil, basis.Stats{}, err
	}
	stats, err := solver.SolveDifferential(b, groups)
	if err != nil {
		Opsf("%s(%d) differential fit over %d points failed: %v", kind, param, len(groups), err)
		return nil, stats, err
	}
	Diagf("%s(%d) differential fit: %d pairs, %d active functions, cond %.3g, rms %.4g px",
		kind, param, stats.Rows, stats.Active, stats.Cond, stats.RMS)
	return b, stats, nil
}

// Evaluate returns the modelled displacement at pos.
func Evaluate(b basis.Basis, pos geom.Vec2D) geom.Vec2D {
	return basis.Eval(b, pos)
}

// Flatten concatenates grouped measurements point-major.
func Flatten(groups [][]exposure.Centroid) []exposure.Centroid {
	var out []exposure.Centroid
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
