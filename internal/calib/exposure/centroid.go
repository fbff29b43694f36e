package exposure

import (
	"errors"
	"fmt"

	"github.com/banshee-data/distortion/internal/calib/geom"
)

// ErrMeasurement marks a centroid window with no pixels or no positive flux.
// Such a measurement is filterable, never fatal.
var ErrMeasurement = errors.New("invalid centroid measurement")

// Centroid is one measured calibration point.
type Centroid struct {
	Cog  geom.Vec2D `json:"cog"`  // flux-weighted measured position
	Flux float64    `json:"flux"` // summed intensity within the window
	Pos  geom.Vec2D `json:"pos"`  // nominal position, rewritten by consensus correction
}

// Valid reports whether the centroid came from a window with positive flux.
func (c Centroid) Valid() bool {
	return c.Flux > 0 && c.Cog.IsFinite()
}

// Residual returns Cog - Pos, the displacement this measurement observes.
func (c Centroid) Residual() geom.Vec2D {
	return c.Cog.Sub(c.Pos)
}

// Cog computes the flux-weighted centroid of the circular window of the
// given radius around point. The window is centred on the pixel obtained by
// truncating point toward zero and contains every offset (dx,dy) in
// [-radius,radius]^2 with dx*dx+dy*dy <= radius*radius that lands inside the
// image.
//
// If the window is empty or its flux is not positive, the returned centroid
// has Cog == Pos == point and the error wraps ErrMeasurement. The image is
// assumed to have passed Validate.
func (im *Image) Cog(point geom.Vec2D, radius int) (Centroid, error) {
	if radius < 0 {
		return Centroid{}, fmt.Errorf("%w: centroid radius must be non-negative, got %d", geom.ErrGeometry, radius)
	}
	if !point.IsFinite() {
		return Centroid{}, fmt.Errorf("%w: centroid point must be finite, got %v", geom.ErrGeometry, point)
	}

	sumX, sumY, flux, n := im.window(int(point.X), int(point.Y), radius)
	c := Centroid{Cog: point, Flux: flux, Pos: point}
	if n == 0 {
		return c, fmt.Errorf("%w: window around %v is outside the image", ErrMeasurement, point)
	}
	if flux <= 0 {
		return c, fmt.Errorf("%w: window around %v has flux %g", ErrMeasurement, point, flux)
	}
	c.Cog = geom.Vec2D{X: sumX / flux, Y: sumY / flux}
	return c, nil
}

// window returns the first moments, total flux and pixel count of the
// window centred on (xc, yc).
func (im *Image) window(xc, yc, radius int) (sumX, sumY, flux float64, n int) {
	w, h := im.Shape[1], im.Shape[0]
	r2 := radius * radius
	for dx := -radius; dx <= radius; dx++ {
		for dy := -radius; dy <= radius; dy++ {
			if dx*dx+dy*dy > r2 {
				continue
			}
			px, py := xc+dx, yc+dy
			if px < 0 || py < 0 || px >= w || py >= h {
				continue
			}
			v := im.Data[py*w+px]
			sumX += float64(px) * v
			sumY += float64(py) * v
			flux += v
			n++
		}
	}
	return sumX, sumY, flux, n
}

// Cogs centroids every grid point of this exposure, shifted by the exposure
// shift, in grid order. Points whose window is invalid are kept with their
// Flux as measured so the caller can filter them by threshold.
func (im *Image) Cogs(grid geom.Grid, radius int) ([]Centroid, error) {
	if err := im.Validate(); err != nil {
		return nil, err
	}
	points, err := grid.AllPoints(im.Width(), im.Height())
	if err != nil {
		return nil, err
	}
	out := make([]Centroid, 0, len(points))
	for _, p := range points {
		c, err := im.Cog(p.Add(im.Shift), radius)
		if err != nil && !errors.Is(err, ErrMeasurement) {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
