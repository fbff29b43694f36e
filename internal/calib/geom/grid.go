package geom

import (
	"errors"
	"fmt"
	"math"
)

// ErrGeometry is returned for invalid grid parameters or extents.
var ErrGeometry = errors.New("invalid geometry")

// GridKind tags the lattice variant of a Grid.
type GridKind string

const (
	// GridHex is a hexagonal lattice: a square lattice sheared by half a pitch
	// per row with rows spaced pitch*sqrt(3)/2 apart.
	GridHex GridKind = "hex"
)

// maxLatticePoints bounds the candidate lattice size so a tiny pitch on a
// large extent fails instead of allocating without limit.
const maxLatticePoints = 1 << 28

// Grid parameterises the calibration pattern.
type Grid struct {
	Kind     GridKind `json:"kind" yaml:"kind"`
	Pitch    float64  `json:"pitch" yaml:"pitch"`       // pixels
	Rotation float64  `json:"rotation" yaml:"rotation"` // radians
	Offset   Vec2D    `json:"offset" yaml:"offset"`     // pixels
}

// NewHexGrid returns a hexagonal grid with the given pitch, rotation and offset.
func NewHexGrid(pitch, rotation float64, offset Vec2D) Grid {
	return Grid{Kind: GridHex, Pitch: pitch, Rotation: rotation, Offset: offset}
}

// Validate checks the grid parameters.
func (g Grid) Validate() error {
	switch g.Kind {
	case GridHex, "":
	default:
		return fmt.Errorf("%w: unknown grid kind %q", ErrGeometry, g.Kind)
	}
	if math.IsNaN(g.Pitch) || math.IsInf(g.Pitch, 0) || g.Pitch <= 0 {
		return fmt.Errorf("%w: pitch must be positive and finite, got %v", ErrGeometry, g.Pitch)
	}
	if math.IsNaN(g.Rotation) || math.IsInf(g.Rotation, 0) {
		return fmt.Errorf("%w: rotation must be finite, got %v", ErrGeometry, g.Rotation)
	}
	if !g.Offset.IsFinite() {
		return fmt.Errorf("%w: offset must be finite, got %v", ErrGeometry, g.Offset)
	}
	return nil
}

// Shifted returns a copy of g with its offset moved by d. The points of the
// result are the points of g translated by d, up to the extent boundary.
func (g Grid) Shifted(d Vec2D) Grid {
	g.Offset = g.Offset.Add(d)
	return g
}

// AllPoints enumerates every grid point inside [0,width) x [0,height).
//
// The order is fixed: lattice index i ascending in the outer loop, j
// ascending in the inner loop, filtered after transformation. Exposures are
// paired by regenerating the same sequence, so callers may rely on it.
func (g Grid) AllPoints(width, height int) ([]Vec2D, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: extent must be positive, got %dx%d", ErrGeometry, width, height)
	}

	m, err := g.latticeRadius(width, height)
	if err != nil {
		return nil, err
	}

	sinR, cosR := math.Sincos(g.Rotation)
	rowScale := math.Sqrt(3) / 2
	cx := float64(width/2) - 0.5
	cy := float64(height/2) - 0.5
	w, h := float64(width), float64(height)

	var points []Vec2D
	for i := -m; i <= m; i++ {
		for j := -m; j <= m; j++ {
			// square lattice in pixel units
			sx := float64(i) * g.Pitch
			sy := float64(j) * g.Pitch
			// shear into a hex lattice
			hx := sx + 0.5*sy
			hy := sy * rowScale
			// rotate, then offset, then centre on the extent
			x := hx*cosR - hy*sinR + g.Offset.X + cx
			y := hx*sinR + hy*cosR + g.Offset.Y + cy
			if x >= 0 && x < w && y >= 0 && y < h {
				points = append(points, Vec2D{X: x, Y: y})
			}
		}
	}
	return points, nil
}

// latticeRadius returns the index half-width m such that every lattice point
// with max(|i|,|j|) > m lies outside the extent. A hex lattice point with index
// (i,j) has norm at least pitch*sqrt(3)/2*max(|i|,|j|).
func (g Grid) latticeRadius(width, height int) (int, error) {
	reach := math.Hypot(
		float64(width)/2+math.Abs(g.Offset.X)+1,
		float64(height)/2+math.Abs(g.Offset.Y)+1,
	)
	m := math.Ceil(reach/(g.Pitch*math.Sqrt(3)/2)) + 1
	side := 2*m + 1
	if side*side > maxLatticePoints {
		return 0, fmt.Errorf("%w: pitch %v too small for %dx%d extent", ErrGeometry, g.Pitch, width, height)
	}
	return int(m), nil
}
