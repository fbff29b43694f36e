// Package geom holds the geometry primitives shared by the calibration
// packages: a 2D vector in image-pixel units and the parametric pinhole grid
// that generates nominal calibration-point positions.
package geom

import (
	"fmt"
	"math"
)

// Vec2D is a position or displacement in image-pixel units.
type Vec2D struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Add returns v + o.
func (v Vec2D) Add(o Vec2D) Vec2D {
	return Vec2D{X: v.X + o.X, Y: v.Y + o.Y}
}

// Sub returns v - o.
func (v Vec2D) Sub(o Vec2D) Vec2D {
	return Vec2D{X: v.X - o.X, Y: v.Y - o.Y}
}

// Scale returns v * s.
func (v Vec2D) Scale(s float64) Vec2D {
	return Vec2D{X: v.X * s, Y: v.Y * s}
}

// Norm returns the Euclidean length of v.
func (v Vec2D) Norm() float64 {
	return math.Hypot(v.X, v.Y)
}

// IsFinite reports whether both components are neither NaN nor infinite.
func (v Vec2D) IsFinite() bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0)
}

func (v Vec2D) String() string {
	return fmt.Sprintf("(%.4f, %.4f)", v.X, v.Y)
}
