// Package synth renders synthetic pinhole-mask exposures with a known
// distortion, for validating the calibration pipeline end to end.
package synth

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/banshee-data/distortion/internal/calib/basis"
	"github.com/banshee-data/distortion/internal/calib/exposure"
	"github.com/banshee-data/distortion/internal/calib/geom"
)

// Generator describes the simulated bench.
type Generator struct {
	Width, Height int
	Grid          geom.Grid
	Truth         basis.Basis // applied at the shifted pinhole position; nil for none

	Flux         float64 // total counts per pinhole image
	PSFSigma     float64 // Gaussian PSF width in pixels; 0 renders a bilinear spot
	PinholeSigma float64 // per-pinhole placement error in pixels, fixed across exposures
	Background   float64 // constant added to every pixel

	rng *rand.Rand
}

// NewGenerator returns a generator with a 30000 count bilinear spot per
// pinhole and no placement error. seed fixes the placement error draw.
func NewGenerator(width, height int, grid geom.Grid, truth basis.Basis, seed int64) *Generator {
	return &Generator{
		Width:  width,
		Height: height,
		Grid:   grid,
		Truth:  truth,
		Flux:   30000,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// RingShifts returns n stage shifts of the given length at equally spaced
// angles starting from the +x axis.
func RingShifts(n int, radius float64) []geom.Vec2D {
	out := make([]geom.Vec2D, n)
	for i := range out {
		theta := 2 * math.Pi * float64(i) / float64(n)
		out[i] = geom.Vec2D{X: radius * math.Cos(theta), Y: radius * math.Sin(theta)}
	}
	return out
}

// Exposures renders one image per shift. Pinhole p lands at
// p + err_p + s + Truth(p + err_p + s), where err_p is drawn once.
func (g *Generator) Exposures(shifts ...geom.Vec2D) ([]*exposure.Image, error) {
	if g.Flux <= 0 || math.IsNaN(g.Flux) {
		return nil, fmt.Errorf("%w: flux must be positive, got %v", geom.ErrGeometry, g.Flux)
	}
	if g.PSFSigma < 0 || g.PinholeSigma < 0 {
		return nil, fmt.Errorf("%w: sigmas must be non-negative", geom.ErrGeometry)
	}
	points, err := g.Grid.AllPoints(g.Width, g.Height)
	if err != nil {
		return nil, err
	}

	if g.rng == nil {
		g.rng = rand.New(rand.NewSource(1))
	}
	placed := make([]geom.Vec2D, len(points))
	for i, p := range points {
		placed[i] = p
		if g.PinholeSigma > 0 {
			placed[i] = p.Add(geom.Vec2D{X: g.rng.NormFloat64(), Y: g.rng.NormFloat64()}.Scale(g.PinholeSigma))
		}
	}

	images := make([]*exposure.Image, len(shifts))
	for j, s := range shifts {
		img := exposure.NewImage(g.Width, g.Height, s)
		if g.Background != 0 {
			for k := range img.Data {
				img.Data[k] = g.Background
			}
		}
		for _, p := range placed {
			at := p.Add(s)
			if g.Truth != nil {
				at = at.Add(basis.Eval(g.Truth, at))
			}
			g.render(img, at)
		}
		images[j] = img
	}
	return images, nil
}

func (g *Generator) render(img *exposure.Image, at geom.Vec2D) {
	if g.PSFSigma == 0 {
		img.AddSpot(at.X, at.Y, g.Flux)
		return
	}
	// Pixel-sampled Gaussian over +-4 sigma, normalised to Flux over the
	// pixels it covers.
	r := int(math.Ceil(4 * g.PSFSigma))
	cx, cy := int(math.Round(at.X)), int(math.Round(at.Y))
	inv := 1 / (2 * g.PSFSigma * g.PSFSigma)

	var sum float64
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			x, y := float64(cx+dx)-at.X, float64(cy+dy)-at.Y
			sum += math.Exp(-(x*x + y*y) * inv)
		}
	}
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			px, py := cx+dx, cy+dy
			if px < 0 || py < 0 || px >= g.Width || py >= g.Height {
				continue
			}
			x, y := float64(px)-at.X, float64(py)-at.Y
			img.Data[py*g.Width+px] += g.Flux * math.Exp(-(x*x+y*y)*inv) / sum
		}
	}
}
