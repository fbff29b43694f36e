package calib

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/distortion/internal/calib/exposure"
	"github.com/banshee-data/distortion/internal/calib/geom"
)

// MeasureOptions tunes Measure and MeasureGrouped.
type MeasureOptions struct {
	// Radius of the circular centroid window in pixels.
	Radius int
	// Threshold is the exclusive lower flux bound: a point survives only if
	// every exposure measures Flux > Threshold.
	Threshold float64
	// Workers bounds the number of points centroided concurrently. Zero
	// means runtime.GOMAXPROCS(0).
	Workers int
}

func (o MeasureOptions) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Measure centroids every grid point in every exposure and returns the
// surviving measurements flattened point-major: point 0 in exposures
// 0..E-1, then point 1, and so on. See MeasureGrouped for the rules.
func Measure(ctx context.Context, images []*exposure.Image, grid geom.Grid, radius int, threshold float64) ([]exposure.Centroid, error) {
	groups, err := MeasureGrouped(ctx, images, grid, MeasureOptions{Radius: radius, Threshold: threshold})
	if err != nil {
		return nil, err
	}
	return Flatten(groups), nil
}

// MeasureGrouped returns one slice per surviving grid point, holding that
// point's centroid in each exposure in input order.
//
// Nominal points come from grid over the extent of images[0]; exposure j
// is sampled at point + images[j].Shift. A point is dropped when any
// exposure yields an invalid window or flux at or below the threshold.
// Kept points get their nominal positions replaced by the consensus
// mean(cog_j - shift_j) + shift_j, which removes the placement error of the
// physical grid.
//
// An invalid image, grid or radius aborts the whole measurement. An empty
// image list yields nil, nil.
func MeasureGrouped(ctx context.Context, images []*exposure.Image, grid geom.Grid, opts MeasureOptions) ([][]exposure.Centroid, error) {
	if len(images) == 0 {
		return nil, nil
	}
	if opts.Radius < 0 {
		return nil, fmt.Errorf("%w: centroid radius must be non-negative, got %d", geom.ErrGeometry, opts.Radius)
	}
	for i, img := range images {
		if err := img.Validate(); err != nil {
			return nil, fmt.Errorf("exposure %d: %w", i, err)
		}
		if img.Shape != images[0].Shape {
			return nil, fmt.Errorf("%w: exposure %d is %dx%d, exposure 0 is %dx%d", geom.ErrGeometry,
				i, img.Width(), img.Height(), images[0].Width(), images[0].Height())
		}
	}

	points, err := grid.AllPoints(images[0].Width(), images[0].Height())
	if err != nil {
		return nil, err
	}

	slots := make([][]exposure.Centroid, len(points))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers())
	for i, p := range points {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			group, err := measurePoint(images, p, opts)
			if err != nil {
				return fmt.Errorf("point %d at %v: %w", i, p, err)
			}
			slots[i] = group
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		Opsf("measurement aborted: %v", err)
		return nil, err
	}

	groups := make([][]exposure.Centroid, 0, len(slots))
	for _, s := range slots {
		if s != nil {
			groups = append(groups, s)
		}
	}
	Diagf("measured %d of %d grid points across %d exposures (radius %d, threshold %g)",
		len(groups), len(points), len(images), opts.Radius, opts.Threshold)
	return groups, nil
}

// measurePoint returns the corrected centroids of one nominal point, or nil
// if the point is filtered out.
func measurePoint(images []*exposure.Image, p geom.Vec2D, opts MeasureOptions) ([]exposure.Centroid, error) {
	group := make([]exposure.Centroid, len(images))
	for j, img := range images {
		c, err := img.Cog(p.Add(img.Shift), opts.Radius)
		if errors.Is(err, exposure.ErrMeasurement) {
			Tracef("drop %v: exposure %d: %v", p, j, err)
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if !(c.Flux > opts.Threshold) {
			Tracef("drop %v: exposure %d flux %g <= %g", p, j, c.Flux, opts.Threshold)
			return nil, nil
		}
		group[j] = c
	}

	var consensus geom.Vec2D
	for j, c := range group {
		consensus = consensus.Add(c.Cog.Sub(images[j].Shift))
	}
	consensus = consensus.Scale(1 / float64(len(group)))
	for j := range group {
		group[j].Pos = consensus.Add(images[j].Shift)
	}
	return group, nil
}
