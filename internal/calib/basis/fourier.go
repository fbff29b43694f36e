package basis

import (
	"fmt"
	"math"

	"github.com/banshee-data/distortion/internal/calib/geom"
)

// Fourier is the separable trigonometric family. For m = index/4 the
// frequencies are fx = pi*((m/F)%F) and fy = pi*(m%F), and index%4 picks
// cos*cos, cos*sin, sin*cos or sin*sin of (fx*x/width, fy*y/height).
//
// Sine terms at zero frequency vanish everywhere; IsZero reports them so a
// fit can leave them out.
type Fourier struct {
	MaxFreq int
	Extent  Extent
	coeffs  coeffVec
}

// NewFourier returns a zero-coefficient Fourier basis with 4*F*F functions.
func NewFourier(maxFreq int, extent Extent) (*Fourier, error) {
	if maxFreq < 1 {
		return nil, fmt.Errorf("%w: fourier max frequency must be at least 1, got %d", ErrPrecondition, maxFreq)
	}
	if err := extent.Validate(); err != nil {
		return nil, err
	}
	return &Fourier{
		MaxFreq: maxFreq,
		Extent:  extent,
		coeffs:  make(coeffVec, 4*maxFreq*maxFreq),
	}, nil
}

func (f *Fourier) Kind() Kind { return KindFourier }

func (f *Fourier) NumCoeffs() int { return len(f.coeffs) }

func (f *Fourier) Coeffs() []geom.Vec2D { return f.coeffs.copyOut() }

func (f *Fourier) SetCoeffs(c []geom.Vec2D) error { return f.coeffs.load(c) }

// Eval is shorthand for the package-level Eval.
func (f *Fourier) Eval(pos geom.Vec2D) geom.Vec2D { return Eval(f, pos) }

// freqs returns the integer frequency multipliers of index.
func (f *Fourier) freqs(index int) (kx, ky int) {
	m := index / 4
	return (m / f.MaxFreq) % f.MaxFreq, m % f.MaxFreq
}

func (f *Fourier) Sample(pos geom.Vec2D, index int) float64 {
	checkIndex(index, len(f.coeffs))
	kx, ky := f.freqs(index)
	ax := math.Pi * float64(kx) * pos.X / float64(f.Extent.Width)
	ay := math.Pi * float64(ky) * pos.Y / float64(f.Extent.Height)

	switch index % 4 {
	case 0:
		return math.Cos(ax) * math.Cos(ay)
	case 1:
		return math.Cos(ax) * math.Sin(ay)
	case 2:
		return math.Sin(ax) * math.Cos(ay)
	default:
		return math.Sin(ax) * math.Sin(ay)
	}
}

// IsZero reports whether function index is identically zero.
func (f *Fourier) IsZero(index int) bool {
	kx, ky := f.freqs(index)
	sinX := index%4 >= 2
	sinY := index%4 == 1 || index%4 == 3
	return (sinX && kx == 0) || (sinY && ky == 0)
}

// IsConstant reports whether function index is the constant cos(0)*cos(0).
func (f *Fourier) IsConstant(index int) bool {
	kx, ky := f.freqs(index)
	return index%4 == 0 && kx == 0 && ky == 0
}
