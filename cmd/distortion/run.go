package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"

	"github.com/banshee-data/distortion/internal/calib"
	"github.com/banshee-data/distortion/internal/calib/basis"
	"github.com/banshee-data/distortion/internal/calib/exposure"
	"github.com/banshee-data/distortion/internal/calib/geom"
	"github.com/banshee-data/distortion/internal/calib/report"
	"github.com/banshee-data/distortion/internal/calib/storage/sqlite"
	"github.com/banshee-data/distortion/internal/config"
	"github.com/banshee-data/distortion/internal/coords"
	"github.com/banshee-data/distortion/internal/fsutil"
)

// overlayValue is added along each alignment circle.
const overlayValue = 500

// result is one fitted calibration.
type result struct {
	model  basis.Basis
	extent basis.Extent
	grid   geom.Grid
	stats  basis.Stats
	images []*exposure.Image
	groups [][]exposure.Centroid
}

func run(ctx context.Context, fsys fsutil.FileSystem, o *options, stdout io.Writer) error {
	if o.runID != "" {
		b, err := loadStored(o.cfg.GetStorePath(), o.runID)
		if err != nil {
			return err
		}
		points, err := readCoordinates(fsys, o.coordinates)
		if err != nil {
			return err
		}
		if points == nil {
			return fmt.Errorf("a coordinates file is required with -run")
		}
		return coords.Write(stdout, points, func(p geom.Vec2D) geom.Vec2D { return calib.Evaluate(b, p) })
	}

	res, err := calibrate(ctx, fsys, o.cfg)
	if err != nil {
		return err
	}
	if err := writeOutputs(fsys, o.cfg, res); err != nil {
		return err
	}

	points, err := readCoordinates(fsys, o.coordinates)
	if err != nil {
		return err
	}
	if points == nil {
		if points, err = res.grid.AllPoints(res.extent.Width, res.extent.Height); err != nil {
			return err
		}
	}
	return coords.Write(stdout, points, func(p geom.Vec2D) geom.Vec2D { return calib.Evaluate(res.model, p) })
}

// calibrate loads the exposures, measures every pinhole and fits the model.
func calibrate(ctx context.Context, fsys fsutil.FileSystem, cfg *config.RunConfig) (*result, error) {
	entries, err := cfg.ResolveExposures(fsys)
	if err != nil {
		return nil, err
	}
	images, err := loadExposures(fsys, entries)
	if err != nil {
		return nil, err
	}
	log.Printf("loaded %d exposures of %s", len(images), images[0])

	grid := cfg.GetGrid()
	groups, err := calib.MeasureGrouped(ctx, images, grid, calib.MeasureOptions{
		Radius:    cfg.GetRadius(),
		Threshold: cfg.GetFluxThreshold(),
		Workers:   cfg.GetWorkers(),
	})
	if err != nil {
		return nil, fmt.Errorf("measure: %w", err)
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("no valid centroids, perhaps the threshold %g is too high", cfg.GetFluxThreshold())
	}

	extent := basis.Extent{Width: images[0].Width(), Height: images[0].Height()}
	kind, param := cfg.GetBasis(), cfg.GetBasisParam()
	var (
		model basis.Basis
		stats basis.Stats
	)
	if cfg.GetDifferential() {
		model, stats, err = calib.FitDifferential(kind, param, extent, groups, cfg.GetSolver())
	} else {
		model, stats, err = calib.Fit(kind, param, extent, calib.Flatten(groups), cfg.GetSolver())
	}
	if err != nil {
		return nil, fmt.Errorf("fit: %w", err)
	}
	log.Printf("fitted %s(%d) to %d pinholes: rms %.4g px, cond %.3g", kind, param, len(groups), stats.RMS, stats.Cond)

	return &result{
		model:  model,
		extent: extent,
		grid:   grid,
		stats:  stats,
		images: images,
		groups: groups,
	}, nil
}

// loadExposures decodes every entry. FITS files carry their shift in the
// header; the configured shift only applies to TIFF and PNG.
func loadExposures(fsys fsutil.FileSystem, entries []config.ExposureConfig) ([]*exposure.Image, error) {
	images := make([]*exposure.Image, len(entries))
	for i, e := range entries {
		f, err := fsys.Open(e.Path)
		if err != nil {
			return nil, fmt.Errorf("open exposure: %w", err)
		}
		var img *exposure.Image
		if exposure.IsFITS(e.Path) {
			img, err = exposure.DecodeFITS(f)
		} else {
			img, err = exposure.Decode(f, e.Shift)
		}
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Path, err)
		}
		if e.Shift != (geom.Vec2D{}) && img.Shift != e.Shift {
			log.Printf("%s: header shift %v overrides configured %v", e.Path, img.Shift, e.Shift)
		}
		images[i] = img
	}
	return images, nil
}

// readCoordinates returns nil when path is empty.
func readCoordinates(fsys fsutil.FileSystem, path string) ([]geom.Vec2D, error) {
	if path == "" {
		return nil, nil
	}
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open coordinates: %w", err)
	}
	defer f.Close()
	points, err := coords.Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if points == nil {
		points = []geom.Vec2D{}
	}
	return points, nil
}

func writeOutputs(fsys fsutil.FileSystem, cfg *config.RunConfig, res *result) error {
	ms := calib.Flatten(res.groups)

	if path := cfg.GetStorePath(); path != "" {
		store, err := sqlite.Open(path)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		r := sqlite.NewRun(res.model, cfg.GetBasisParam(), res.extent, res.stats)
		r.Grid = res.grid
		r.Radius = cfg.GetRadius()
		r.Threshold = cfg.GetFluxThreshold()
		r.Differential = cfg.GetDifferential()
		r.Exposures = len(res.images)
		r.Centroids = ms
		if err := store.SaveRun(r); err != nil {
			return fmt.Errorf("save run: %w", err)
		}
		log.Printf("stored run %s in %s", r.RunID, path)
	}

	if dir := cfg.GetReportDir(); dir != "" {
		paths, err := report.WriteDir(fsys, dir, res.model, res.extent, ms)
		if err != nil {
			return fmt.Errorf("report: %w", err)
		}
		log.Printf("wrote %v", paths)
	}

	if path := cfg.GetOverlayPath(); path != "" {
		if err := writeOverlay(fsys, path, res.images[0], res.grid, cfg.GetRadius()); err != nil {
			return fmt.Errorf("overlay: %w", err)
		}
		log.Printf("wrote overlay %s", path)
	}
	return nil
}

func writeOverlay(fsys fsutil.FileSystem, path string, first *exposure.Image, grid geom.Grid, radius int) error {
	img := &exposure.Image{
		Data:  append([]float64(nil), first.Data...),
		Shape: first.Shape,
		Shift: first.Shift,
	}
	if err := img.DrawCircles(grid, float64(radius), overlayValue); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	w, err := fsys.Create(path)
	if err != nil {
		return err
	}
	encode := img.EncodeTIFF
	if exposure.IsFITS(path) {
		encode = img.EncodeFITS
	}
	if err := encode(w); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// loadStored rebuilds a fitted model from the run store. id may be "latest".
func loadStored(path, id string) (basis.Basis, error) {
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	var r *sqlite.Run
	if id == "latest" {
		r, err = store.LatestRun()
	} else {
		r, err = store.GetRun(id)
	}
	if err != nil {
		return nil, err
	}
	log.Printf("evaluating stored run %s: %s(%d), rms %.4g px", r.RunID, r.Kind, r.Param, r.Stats.RMS)
	return r.Basis()
}
