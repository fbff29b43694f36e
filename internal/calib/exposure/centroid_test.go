package exposure

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/distortion/internal/calib/geom"
	"github.com/banshee-data/distortion/internal/testutil"
)

func newTestImage(w, h int, data []float64) *Image {
	return &Image{Data: data, Shape: [2]int{h, w}}
}

func TestCog_SinglePointSourceExact(t *testing.T) {
	const w, h = 32, 24
	img := newTestImage(w, h, testutil.PointSources(w, h, testutil.Source{X: 11, Y: 7, Flux: 1}))

	for r := 0; r <= 6; r++ {
		c, err := img.Cog(geom.Vec2D{X: 11, Y: 7}, r)
		require.NoError(t, err, "radius %d", r)
		assert.Equal(t, geom.Vec2D{X: 11, Y: 7}, c.Cog, "radius %d", r)
		assert.Equal(t, 1.0, c.Flux, "radius %d", r)
		assert.Equal(t, geom.Vec2D{X: 11, Y: 7}, c.Pos, "radius %d", r)
	}
}

func TestCog_TruncatesQueryPoint(t *testing.T) {
	const w, h = 16, 16
	img := newTestImage(w, h, testutil.PointSources(w, h, testutil.Source{X: 5, Y: 5, Flux: 3}))

	// (5.9, 5.9) truncates to (5,5), so a zero radius still sees the source.
	c, err := img.Cog(geom.Vec2D{X: 5.9, Y: 5.9}, 0)
	require.NoError(t, err)
	assert.Equal(t, 3.0, c.Flux)
	assert.Equal(t, geom.Vec2D{X: 5, Y: 5}, c.Cog)
	assert.Equal(t, geom.Vec2D{X: 5.9, Y: 5.9}, c.Pos)
}

func TestCog_SubPixelSpot(t *testing.T) {
	const w, h = 40, 40
	img := NewImage(w, h, geom.Vec2D{})
	img.AddSpot(20.3, 18.6, 500)

	c, err := img.Cog(geom.Vec2D{X: 20, Y: 19}, 3)
	require.NoError(t, err)
	assert.InDelta(t, 500, c.Flux, 1e-9)
	testutil.AssertVecNear(t, geom.Vec2D{X: 20.3, Y: 18.6}, c.Cog, 1e-9)
}

func TestCog_CircularWindow(t *testing.T) {
	// Corner pixel (2,2) of the 5x5 square lies outside radius 2; (2,0) lies on it.
	const w, h = 9, 9
	img := newTestImage(w, h, testutil.PointSources(w, h,
		testutil.Source{X: 6, Y: 6, Flux: 10},
		testutil.Source{X: 6, Y: 4, Flux: 1},
	))

	c, err := img.Cog(geom.Vec2D{X: 4, Y: 4}, 2)
	require.NoError(t, err)
	assert.Equal(t, 1.0, c.Flux)
	assert.Equal(t, geom.Vec2D{X: 6, Y: 4}, c.Cog)
}

func TestCog_FluxAdditivity(t *testing.T) {
	const w, h = 30, 30
	buf := make([]float64, w*h)
	for i := range buf {
		buf[i] = float64((i*7919)%13) + 0.5
	}
	img := newTestImage(w, h, buf)

	// The radius-4 disc is the disjoint union of the radius-2 disc and the
	// annulus between them; sum the annulus by hand.
	centre := geom.Vec2D{X: 15, Y: 15}
	inner, err := img.Cog(centre, 2)
	require.NoError(t, err)
	outer, err := img.Cog(centre, 4)
	require.NoError(t, err)

	var annulus float64
	for dx := -4; dx <= 4; dx++ {
		for dy := -4; dy <= 4; dy++ {
			d2 := dx*dx + dy*dy
			if d2 > 4 && d2 <= 16 {
				annulus += img.At(15+dx, 15+dy)
			}
		}
	}
	assert.InDelta(t, inner.Flux+annulus, outer.Flux, 1e-9)
}

func TestCog_EdgeClipping(t *testing.T) {
	const w, h = 10, 10
	buf := make([]float64, w*h)
	for i := range buf {
		buf[i] = 1
	}
	img := newTestImage(w, h, buf)

	// Radius 1 at the corner keeps (0,0), (1,0), (0,1).
	c, err := img.Cog(geom.Vec2D{X: 0, Y: 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, 3.0, c.Flux)
	testutil.AssertVecNear(t, geom.Vec2D{X: 1.0 / 3, Y: 1.0 / 3}, c.Cog, 1e-12)
}

func TestCog_MeasurementErrors(t *testing.T) {
	const w, h = 10, 10
	img := newTestImage(w, h, make([]float64, w*h))

	tests := []struct {
		name  string
		point geom.Vec2D
	}{
		{"zero_flux", geom.Vec2D{X: 5, Y: 5}},
		{"outside_image", geom.Vec2D{X: 50, Y: -40}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := img.Cog(tt.point, 2)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMeasurement))
			assert.False(t, c.Valid())
			assert.False(t, math.IsNaN(c.Cog.X) || math.IsNaN(c.Cog.Y), "cog must not be NaN")
			assert.Equal(t, tt.point, c.Cog)
		})
	}
}

func TestCog_NegativeFluxIsInvalid(t *testing.T) {
	const w, h = 5, 5
	img := newTestImage(w, h, testutil.PointSources(w, h, testutil.Source{X: 2, Y: 2, Flux: -4}))
	_, err := img.Cog(geom.Vec2D{X: 2, Y: 2}, 1)
	assert.True(t, errors.Is(err, ErrMeasurement))
}

func TestCog_GeometryErrors(t *testing.T) {
	img := newTestImage(4, 4, make([]float64, 16))

	_, err := img.Cog(geom.Vec2D{X: 1, Y: 1}, -1)
	assert.True(t, errors.Is(err, geom.ErrGeometry))

	_, err = img.Cog(geom.Vec2D{X: math.NaN(), Y: 1}, 1)
	assert.True(t, errors.Is(err, geom.ErrGeometry))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		img  *Image
		ok   bool
	}{
		{"ok", newTestImage(3, 2, make([]float64, 6)), true},
		{"nil", nil, false},
		{"short_buffer", newTestImage(3, 2, make([]float64, 5)), false},
		{"zero_shape", newTestImage(0, 2, nil), false},
		{"nan_shift", &Image{Data: make([]float64, 4), Shape: [2]int{2, 2}, Shift: geom.Vec2D{X: math.NaN()}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.img.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, geom.ErrGeometry), "got %v", err)
			}
		})
	}
}

func TestCogs_FollowsShiftedGrid(t *testing.T) {
	const w, h = 256, 256
	grid := geom.NewHexGrid(100, 0, geom.Vec2D{})
	points, err := grid.AllPoints(w, h)
	require.NoError(t, err)

	shift := geom.Vec2D{X: 4, Y: -3}
	img := NewImage(w, h, shift)
	for _, p := range points {
		q := p.Add(shift)
		img.Set(int(q.X), int(q.Y), 250)
	}

	cogs, err := img.Cogs(grid, 3)
	require.NoError(t, err)
	require.Len(t, cogs, len(points))
	for i, c := range cogs {
		q := points[i].Add(shift)
		assert.Equal(t, 250.0, c.Flux)
		assert.Equal(t, geom.Vec2D{X: float64(int(q.X)), Y: float64(int(q.Y))}, c.Cog)
		assert.Equal(t, q, c.Pos)
	}
}

func TestDrawCircles(t *testing.T) {
	const w, h = 256, 256
	img := NewImage(w, h, geom.Vec2D{})
	grid := geom.NewHexGrid(100, 0, geom.Vec2D{})
	require.NoError(t, img.DrawCircles(grid, 10, 1))

	var total float64
	for _, v := range img.Data {
		total += v
	}
	// Seven circles, each fully inside the image, 1000 samples each.
	assert.Equal(t, 7000.0, total)

	// Centres stay untouched.
	assert.Equal(t, 0.0, img.At(127, 127))
}
