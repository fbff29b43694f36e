// Package basis implements the distortion models fitted by the calibrator:
// finite families of scalar basis functions of image position, each owning
// one 2D coefficient per function, plus the least-squares solver that fits
// those coefficients to a measured displacement field.
//
// Two families exist, Polynomial and Fourier. Both satisfy Basis, so callers
// that must be generic over the family hold a Basis; callers that know the
// family use the concrete type directly.
package basis

import (
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/distortion/internal/calib/geom"
)

var (
	// ErrLinalg is returned when the least-squares system is singular or too
	// ill-conditioned to trust.
	ErrLinalg = errors.New("linear algebra failure")

	// ErrPrecondition is returned for inputs that cannot be solved at all:
	// too few measurements, non-finite values, or a coefficient vector of the
	// wrong length.
	ErrPrecondition = errors.New("precondition violated")
)

// Kind names a basis family.
type Kind string

const (
	KindPolynomial Kind = "poly"
	KindFourier    Kind = "fourier"
)

// ParseKind accepts the family names used in configs and flags.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "poly", "polynomial":
		return KindPolynomial, nil
	case "fourier":
		return KindFourier, nil
	}
	return "", fmt.Errorf("%w: unknown basis kind %q", ErrPrecondition, s)
}

// Extent is the image size a basis normalises positions against.
type Extent struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Validate checks the extent is usable for normalisation.
func (e Extent) Validate() error {
	if e.Width <= 0 || e.Height <= 0 {
		return fmt.Errorf("%w: basis extent must be positive, got %dx%d", geom.ErrGeometry, e.Width, e.Height)
	}
	return nil
}

// Basis is a fixed, ordered family of scalar functions with one 2D
// coefficient each. NumCoeffs never changes after construction.
type Basis interface {
	Kind() Kind
	// NumCoeffs is the number of basis functions.
	NumCoeffs() int
	// Sample evaluates basis function index at an image position. Positions
	// are normalised by the family before evaluation. index must be in
	// [0, NumCoeffs).
	Sample(pos geom.Vec2D, index int) float64
	// Coeffs returns a copy of the coefficient vector.
	Coeffs() []geom.Vec2D
	// SetCoeffs replaces the coefficient vector; the length must equal
	// NumCoeffs.
	SetCoeffs(c []geom.Vec2D) error
}

// structuralZero is implemented by families with functions that vanish
// everywhere, for example a sine of zero frequency. Those functions carry no
// information and are left out of a fit.
type structuralZero interface {
	IsZero(index int) bool
}

// constantTerm is implemented by families with a function that is constant
// over the image. A differential fit cannot observe it.
type constantTerm interface {
	IsConstant(index int) bool
}

// New constructs an empty basis of the given family. param is the
// polynomial degree or the Fourier maximum frequency.
func New(kind Kind, param int, extent Extent) (Basis, error) {
	switch kind {
	case KindPolynomial:
		return NewPolynomial(param, extent)
	case KindFourier:
		return NewFourier(param, extent)
	}
	return nil, fmt.Errorf("%w: unknown basis kind %q", ErrPrecondition, kind)
}

// Eval returns the modelled displacement at pos: the sum over every index of
// coefficient times sample.
func Eval(b Basis, pos geom.Vec2D) geom.Vec2D {
	var out geom.Vec2D
	for i, c := range b.Coeffs() {
		out = out.Add(c.Scale(b.Sample(pos, i)))
	}
	return out
}

// ExportCoeffs flattens the coefficients to ordered (x, y) pairs for an
// external persistence layer.
func ExportCoeffs(b Basis) [][2]float64 {
	c := b.Coeffs()
	out := make([][2]float64, len(c))
	for i, v := range c {
		out[i] = [2]float64{v.X, v.Y}
	}
	return out
}

// ImportCoeffs loads coefficients previously produced by ExportCoeffs.
func ImportCoeffs(b Basis, pairs [][2]float64) error {
	c := make([]geom.Vec2D, len(pairs))
	for i, p := range pairs {
		c[i] = geom.Vec2D{X: p[0], Y: p[1]}
	}
	return b.SetCoeffs(c)
}

// coeffVec is the coefficient storage shared by the families.
type coeffVec []geom.Vec2D

func (c coeffVec) copyOut() []geom.Vec2D {
	out := make([]geom.Vec2D, len(c))
	copy(out, c)
	return out
}

func (c coeffVec) load(in []geom.Vec2D) error {
	if len(in) != len(c) {
		return fmt.Errorf("%w: coefficient vector has %d entries, basis has %d", ErrPrecondition, len(in), len(c))
	}
	copy(c, in)
	return nil
}

func checkIndex(index, n int) {
	if index < 0 || index >= n {
		panic(fmt.Sprintf("basis: index %d out of range [0,%d)", index, n))
	}
}
