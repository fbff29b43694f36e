// Package testutil provides shared test helpers and synthetic exposure
// fixtures for the calibration packages.
package testutil

import (
	"errors"
	"math"
	"testing"

	"github.com/banshee-data/distortion/internal/calib/geom"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertErrorIs fails the test unless err wraps target.
func AssertErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error wrapping %v, got nil", target)
	}
	if !errors.Is(err, target) {
		t.Fatalf("error %v does not wrap %v", err, target)
	}
}

// AssertVecNear fails the test if got differs from want by more than tol in
// either component.
func AssertVecNear(t *testing.T, want, got geom.Vec2D, tol float64) {
	t.Helper()
	if math.Abs(want.X-got.X) > tol || math.Abs(want.Y-got.Y) > tol {
		t.Errorf("vector = %v, want %v (tol %g)", got, want, tol)
	}
}

// Source is a single-pixel point source.
type Source struct {
	X, Y int
	Flux float64
}

// PointSources returns a row-major width x height buffer that is zero except
// at the given sources. Sources outside the buffer are ignored.
func PointSources(width, height int, sources ...Source) []float64 {
	buf := make([]float64, width*height)
	for _, s := range sources {
		if s.X < 0 || s.Y < 0 || s.X >= width || s.Y >= height {
			continue
		}
		buf[s.Y*width+s.X] += s.Flux
	}
	return buf
}
