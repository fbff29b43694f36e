package basis

import (
	"fmt"
	"math"

	"github.com/banshee-data/distortion/internal/calib/geom"
)

// Polynomial is the bivariate homogeneous-polynomial family x^k * y^(n-k)
// for 1 <= n <= Degree and 0 <= k <= n, in triangular order. The constant
// term is excluded. Positions are recentred on the extent centre and scaled
// by half the extent, so the image spans [-1, 1) on each axis.
type Polynomial struct {
	Degree int
	Extent Extent
	coeffs coeffVec
}

// NewPolynomial returns a zero-coefficient polynomial basis.
func NewPolynomial(degree int, extent Extent) (*Polynomial, error) {
	if degree < 1 {
		return nil, fmt.Errorf("%w: polynomial degree must be at least 1, got %d", ErrPrecondition, degree)
	}
	if err := extent.Validate(); err != nil {
		return nil, err
	}
	return &Polynomial{
		Degree: degree,
		Extent: extent,
		coeffs: make(coeffVec, degree*(degree+3)/2),
	}, nil
}

func (p *Polynomial) Kind() Kind { return KindPolynomial }

func (p *Polynomial) NumCoeffs() int { return len(p.coeffs) }

func (p *Polynomial) Coeffs() []geom.Vec2D { return p.coeffs.copyOut() }

func (p *Polynomial) SetCoeffs(c []geom.Vec2D) error { return p.coeffs.load(c) }

// Eval is shorthand for the package-level Eval.
func (p *Polynomial) Eval(pos geom.Vec2D) geom.Vec2D { return Eval(p, pos) }

func (p *Polynomial) normalise(pos geom.Vec2D) (float64, float64) {
	hx := float64(p.Extent.Width) / 2
	hy := float64(p.Extent.Height) / 2
	return (pos.X - hx) / hx, (pos.Y - hy) / hy
}

// Sample evaluates x^k * y^(n-k) for the (n, k) of index.
func (p *Polynomial) Sample(pos geom.Vec2D, index int) float64 {
	checkIndex(index, len(p.coeffs))
	n, k := PolyOrder(index)
	x, y := p.normalise(pos)
	return ipow(x, k) * ipow(y, n-k)
}

// PolyOrder maps a basis index to its total order n and x exponent k:
// n = floor((-1 + sqrt(1 + 8(index+1))) / 2), k = index + 1 - n(n+1)/2.
func PolyOrder(index int) (n, k int) {
	m := index + 1
	n = int(math.Floor((-1 + math.Sqrt(1+8*float64(m))) / 2))
	// guard the float estimate at triangular-number boundaries
	for n > 0 && n*(n+1)/2 > m {
		n--
	}
	for (n+1)*(n+2)/2 <= m {
		n++
	}
	return n, m - n*(n+1)/2
}

// ipow is x^e for small non-negative e, with 0^0 == 1.
func ipow(x float64, e int) float64 {
	r := 1.0
	for ; e > 0; e-- {
		r *= x
	}
	return r
}
