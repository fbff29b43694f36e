// Package exposure holds one calibration exposure in memory and extracts
// flux-weighted centroids of the pinhole images in it.
package exposure

import (
	"fmt"
	"math"

	"github.com/banshee-data/distortion/internal/calib/geom"
)

// Image is a single exposure. Data is row-major, indexed row*width+col, and
// Shape is numpy style: [height, width].
type Image struct {
	Data  []float64
	Shape [2]int
	Shift geom.Vec2D // known stage offset of this exposure, pixels
}

// NewImage allocates a zeroed width x height exposure with the given shift.
func NewImage(width, height int, shift geom.Vec2D) *Image {
	if width < 0 || height < 0 {
		width, height = 0, 0
	}
	return &Image{
		Data:  make([]float64, width*height),
		Shape: [2]int{height, width},
		Shift: shift,
	}
}

// Width returns the number of columns.
func (im *Image) Width() int { return im.Shape[1] }

// Height returns the number of rows.
func (im *Image) Height() int { return im.Shape[0] }

// Validate checks that the buffer matches the shape and the shift is usable.
func (im *Image) Validate() error {
	if im == nil {
		return fmt.Errorf("%w: nil image", geom.ErrGeometry)
	}
	h, w := im.Shape[0], im.Shape[1]
	if h <= 0 || w <= 0 {
		return fmt.Errorf("%w: image shape must be positive, got %dx%d", geom.ErrGeometry, w, h)
	}
	if len(im.Data) != h*w {
		return fmt.Errorf("%w: image buffer has %d values, shape %dx%d needs %d",
			geom.ErrGeometry, len(im.Data), w, h, h*w)
	}
	if !im.Shift.IsFinite() {
		return fmt.Errorf("%w: image shift must be finite, got %v", geom.ErrGeometry, im.Shift)
	}
	return nil
}

// At returns the pixel value at column x, row y. The caller keeps x and y in
// range.
func (im *Image) At(x, y int) float64 {
	return im.Data[y*im.Shape[1]+x]
}

// Set writes the pixel value at column x, row y.
func (im *Image) Set(x, y int, v float64) {
	im.Data[y*im.Shape[1]+x] = v
}

// AddSpot splats flux bilinearly over the four pixels around (x, y) so the
// first moment of those pixels is exactly (x, y). Pixels outside the image
// are dropped.
func (im *Image) AddSpot(x, y, flux float64) {
	x0, y0 := math.Floor(x), math.Floor(y)
	fx, fy := x-x0, y-y0
	ix, iy := int(x0), int(y0)
	w, h := im.Width(), im.Height()
	splat := func(px, py int, weight float64) {
		if px < 0 || py < 0 || px >= w || py >= h || weight == 0 {
			return
		}
		im.Data[py*w+px] += flux * weight
	}
	splat(ix, iy, (1-fx)*(1-fy))
	splat(ix+1, iy, fx*(1-fy))
	splat(ix, iy+1, (1-fx)*fy)
	splat(ix+1, iy+1, fx*fy)
}

func (im *Image) String() string {
	return fmt.Sprintf("%dx%d, xshift %0.4f, yshift %0.4f", im.Shape[1], im.Shape[0], im.Shift.X, im.Shift.Y)
}
