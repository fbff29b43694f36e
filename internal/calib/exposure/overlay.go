package exposure

import (
	"math"

	"github.com/banshee-data/distortion/internal/calib/geom"
)

const circleSamples = 1000

// DrawCircles adds value along a circle of the given radius around every
// grid point of this exposure (shifted by the exposure shift). It is used to
// check grid alignment by eye before a run.
func (im *Image) DrawCircles(grid geom.Grid, radius, value float64) error {
	if err := im.Validate(); err != nil {
		return err
	}
	points, err := grid.AllPoints(im.Width(), im.Height())
	if err != nil {
		return err
	}
	w, h := im.Width(), im.Height()
	for _, p := range points {
		c := p.Add(im.Shift)
		for i := 0; i < circleSamples; i++ {
			theta := 2 * math.Pi * float64(i) / circleSamples
			x := c.X + math.Cos(theta)*radius
			y := c.Y + math.Sin(theta)*radius
			if x < 0 || y < 0 {
				continue
			}
			px, py := int(x), int(y)
			if px >= w || py >= h {
				continue
			}
			im.Data[py*w+px] += value
		}
	}
	return nil
}
