package basis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/distortion/internal/calib/exposure"
	"github.com/banshee-data/distortion/internal/calib/geom"
)

// Method selects the factorisation used to solve the least-squares system.
type Method int

const (
	// MethodNormal solves the normal equations FᵀF c = Fᵀb by Cholesky.
	MethodNormal Method = iota
	// MethodQR factorises F directly. Slower, but loses half as many digits
	// on high-order polynomial fits.
	MethodQR
)

func (m Method) String() string {
	switch m {
	case MethodNormal:
		return "normal"
	case MethodQR:
		return "qr"
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// DefaultCondLimit bounds the condition number of the factorised matrix:
// the Gram matrix FᵀF for MethodNormal, F itself for MethodQR.
const DefaultCondLimit = 1e15

// Solver fits basis coefficients to measured displacements. The zero value
// solves the normal equations with DefaultCondLimit and no regularisation.
//
// The normal equations square the condition number of the design matrix,
// so a system with cond(F) near 1e4 already loses about eight digits.
// Higher Fourier frequencies and high polynomial degrees should use
// MethodQR, which factorises F directly.
type Solver struct {
	Method Method
	// Ridge adds Ridge*I to the Gram matrix. Zero disables it.
	Ridge float64
	// CondLimit rejects systems whose factorised matrix has a larger
	// condition number. Zero means DefaultCondLimit.
	CondLimit float64
}

// Stats describes a completed solve.
type Stats struct {
	Rows   int     `json:"rows"`
	Active int     `json:"active"`
	Cond   float64 `json:"cond"`
	RMS    float64 `json:"rms"`
}

func (s Solver) condLimit() float64 {
	if s.CondLimit > 0 {
		return s.CondLimit
	}
	return DefaultCondLimit
}

// Solve fits b to the displacement cog - pos of every measurement, minimising
// the sum of squared residuals. Functions that are identically zero are left
// out and given zero coefficients. b is only modified on success.
func (s Solver) Solve(b Basis, ms []exposure.Centroid) (Stats, error) {
	active := activeIndices(b, false)
	if len(active) == 0 {
		return Stats{}, fmt.Errorf("%w: basis has no observable functions", ErrPrecondition)
	}
	if len(ms) < len(active) {
		return Stats{}, fmt.Errorf("%w: %w: %d measurements for %d basis functions", ErrLinalg, ErrPrecondition, len(ms), len(active))
	}

	f := mat.NewDense(len(ms), len(active), nil)
	rhs := mat.NewDense(len(ms), 2, nil)
	for i, m := range ms {
		if !m.Cog.IsFinite() || !m.Pos.IsFinite() {
			return Stats{}, fmt.Errorf("%w: measurement %d is not finite (pos %v, cog %v)", ErrPrecondition, i, m.Pos, m.Cog)
		}
		for a, idx := range active {
			f.Set(i, a, b.Sample(m.Pos, idx))
		}
		d := m.Residual()
		rhs.Set(i, 0, d.X)
		rhs.Set(i, 1, d.Y)
	}
	return s.solveRows(b, active, f, rhs)
}

// SolveDifferential fits b from displacements between exposures of the same
// grid point. groups[p][j] is point p seen in exposure j; every pair (j, k)
// contributes cog_k - cog_j - (pos_k - pos_j) against
// sample(pos_k) - sample(pos_j). The constant function is unobservable this
// way and is left out along with the structural zeros.
func (s Solver) SolveDifferential(b Basis, groups [][]exposure.Centroid) (Stats, error) {
	active := activeIndices(b, true)
	if len(active) == 0 {
		return Stats{}, fmt.Errorf("%w: basis has no functions observable from differences", ErrPrecondition)
	}

	rows := 0
	for _, g := range groups {
		rows += len(g) * (len(g) - 1) / 2
	}
	if rows < len(active) {
		return Stats{}, fmt.Errorf("%w: %w: %d exposure pairs for %d basis functions", ErrLinalg, ErrPrecondition, rows, len(active))
	}

	f := mat.NewDense(rows, len(active), nil)
	rhs := mat.NewDense(rows, 2, nil)
	r := 0
	for p, g := range groups {
		for _, m := range g {
			if !m.Cog.IsFinite() || !m.Pos.IsFinite() {
				return Stats{}, fmt.Errorf("%w: point %d has a non-finite measurement (pos %v, cog %v)", ErrPrecondition, p, m.Pos, m.Cog)
			}
		}
		for j := 0; j < len(g); j++ {
			for k := j + 1; k < len(g); k++ {
				d := g[k].Residual().Sub(g[j].Residual())
				for a, idx := range active {
					f.Set(r, a, b.Sample(g[k].Pos, idx)-b.Sample(g[j].Pos, idx))
				}
				rhs.Set(r, 0, d.X)
				rhs.Set(r, 1, d.Y)
				r++
			}
		}
	}
	return s.solveRows(b, active, f, rhs)
}

func (s Solver) solveRows(b Basis, active []int, f, rhs *mat.Dense) (Stats, error) {
	var (
		c    *mat.Dense
		cond float64
		err  error
	)
	switch s.Method {
	case MethodNormal:
		c, cond, err = s.solveNormal(f, rhs)
	case MethodQR:
		c, cond, err = s.solveQR(f, rhs)
	default:
		return Stats{}, fmt.Errorf("%w: unknown solve method %v", ErrPrecondition, s.Method)
	}
	if err != nil {
		return Stats{}, err
	}

	coeffs := make([]geom.Vec2D, b.NumCoeffs())
	for a, idx := range active {
		v := geom.Vec2D{X: c.At(a, 0), Y: c.At(a, 1)}
		if !v.IsFinite() {
			return Stats{}, fmt.Errorf("%w: coefficient %d is not finite", ErrLinalg, idx)
		}
		coeffs[idx] = v
	}
	if err := b.SetCoeffs(coeffs); err != nil {
		return Stats{}, err
	}

	rows, _ := f.Dims()
	var fitted, resid mat.Dense
	fitted.Mul(f, c)
	resid.Sub(rhs, &fitted)
	return Stats{Rows: rows, Active: len(active), Cond: cond, RMS: rmsRows(&resid)}, nil
}

func (s Solver) solveNormal(f, rhs *mat.Dense) (*mat.Dense, float64, error) {
	_, cols := f.Dims()

	var gram mat.SymDense
	gram.SymOuterK(1, f.T())
	if s.Ridge > 0 {
		for i := 0; i < cols; i++ {
			gram.SetSym(i, i, gram.At(i, i)+s.Ridge)
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(&gram); !ok {
		return nil, math.Inf(1), fmt.Errorf("%w: gram matrix is not positive definite", ErrLinalg)
	}
	cond := chol.Cond()
	if math.IsNaN(cond) || cond > s.condLimit() {
		return nil, cond, fmt.Errorf("%w: gram matrix condition number %.3g exceeds %.3g", ErrLinalg, cond, s.condLimit())
	}

	var ftb, c mat.Dense
	ftb.Mul(f.T(), rhs)
	if err := chol.SolveTo(&c, &ftb); err != nil {
		return nil, cond, fmt.Errorf("%w: cholesky solve: %w", ErrLinalg, err)
	}
	return &c, cond, nil
}

func (s Solver) solveQR(f, rhs *mat.Dense) (*mat.Dense, float64, error) {
	rows, cols := f.Dims()
	a, b := f, rhs
	if s.Ridge > 0 {
		// Stack sqrt(ridge)*I under F and zeros under b, which is the same
		// problem as adding ridge*I to the Gram matrix.
		a = mat.NewDense(rows+cols, cols, nil)
		a.Slice(0, rows, 0, cols).(*mat.Dense).Copy(f)
		lambda := math.Sqrt(s.Ridge)
		for i := 0; i < cols; i++ {
			a.Set(rows+i, i, lambda)
		}
		b = mat.NewDense(rows+cols, 2, nil)
		b.Slice(0, rows, 0, 2).(*mat.Dense).Copy(rhs)
	}

	var qr mat.QR
	qr.Factorize(a)
	cond := qr.Cond()
	if math.IsNaN(cond) || cond > s.condLimit() {
		return nil, cond, fmt.Errorf("%w: design matrix condition number %.3g exceeds %.3g", ErrLinalg, cond, s.condLimit())
	}

	var c mat.Dense
	if err := qr.SolveTo(&c, false, b); err != nil {
		return nil, cond, fmt.Errorf("%w: qr solve: %w", ErrLinalg, err)
	}
	return &c, cond, nil
}

// activeIndices lists the basis functions that enter the linear system.
func activeIndices(b Basis, differential bool) []int {
	zero, _ := b.(structuralZero)
	constant, _ := b.(constantTerm)
	out := make([]int, 0, b.NumCoeffs())
	for i := 0; i < b.NumCoeffs(); i++ {
		if zero != nil && zero.IsZero(i) {
			continue
		}
		if differential && constant != nil && constant.IsConstant(i) {
			continue
		}
		out = append(out, i)
	}
	return out
}

// Residuals returns, per measurement, the displacement the fitted basis
// fails to explain, (cog - pos) - Eval(pos), and their root-mean-square
// length.
func Residuals(b Basis, ms []exposure.Centroid) ([]geom.Vec2D, float64) {
	out := make([]geom.Vec2D, len(ms))
	sq := make([]float64, len(ms))
	for i, m := range ms {
		out[i] = m.Residual().Sub(Eval(b, m.Pos))
		sq[i] = out[i].X*out[i].X + out[i].Y*out[i].Y
	}
	if len(sq) == 0 {
		return out, 0
	}
	return out, math.Sqrt(floats.Sum(sq) / float64(len(sq)))
}

func rmsRows(m *mat.Dense) float64 {
	rows, _ := m.Dims()
	if rows == 0 {
		return 0
	}
	x := mat.Col(nil, 0, m)
	y := mat.Col(nil, 1, m)
	return math.Sqrt((floats.Dot(x, x) + floats.Dot(y, y)) / float64(rows))
}
