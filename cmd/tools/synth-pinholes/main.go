// Command synth-pinholes writes a synthetic pinhole-mask exposure series
// with a known polynomial distortion, plus a run configuration for
// cmd/distortion that points at it.
package main

import (
	"flag"
	"fmt"
	"log"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/distortion/internal/calib/basis"
	"github.com/banshee-data/distortion/internal/calib/geom"
	"github.com/banshee-data/distortion/internal/calib/synth"
	"github.com/banshee-data/distortion/internal/config"
	"github.com/banshee-data/distortion/internal/fsutil"
)

func main() {
	out := flag.String("o", "bench", "output directory")
	width := flag.Int("width", 1024, "image width in pixels")
	height := flag.Int("height", 1024, "image height in pixels")
	pitch := flag.Float64("pitch", 100, "grid pitch in pixels")
	rotation := flag.Float64("rotation", 0, "grid rotation in radians")
	n := flag.Int("n", 3, "number of exposures, shifted around a ring")
	shiftRadius := flag.Float64("shift", 10, "ring shift length in pixels")
	shifts := flag.String("shifts", "", "explicit shifts \"x,y;x,y;...\", overrides -n and -shift")
	flux := flag.Float64("flux", 30000, "total counts per pinhole image")
	psf := flag.Float64("psf", 1.5, "Gaussian PSF sigma in pixels, 0 for a bilinear spot")
	pinhole := flag.Float64("pinhole-err", 1, "pinhole placement error sigma in pixels")
	degree := flag.Int("degree", 2, "polynomial degree of the true distortion")
	coeffs := flag.String("coeffs", "0,0;0,0;0,0;0,0;1,0", "true coefficients \"x,y;...\", zero padded")
	seed := flag.Int64("seed", 1234, "placement error seed")
	format := flag.String("format", "tiff", "exposure format: tiff, or fits with shifts in the header")
	flag.Parse()

	if err := generate(fsutil.OSFileSystem{}, params{
		dir:         *out,
		width:       *width,
		height:      *height,
		grid:        geom.NewHexGrid(*pitch, *rotation, geom.Vec2D{}),
		exposures:   *n,
		shiftRadius: *shiftRadius,
		shifts:      *shifts,
		flux:        *flux,
		psf:         *psf,
		pinhole:     *pinhole,
		degree:      *degree,
		coeffs:      *coeffs,
		seed:        *seed,
		format:      *format,
	}); err != nil {
		log.Fatalf("synth-pinholes: %v", err)
	}
}

type params struct {
	dir           string
	width, height int
	grid          geom.Grid
	exposures     int
	shiftRadius   float64
	shifts        string
	flux          float64
	psf           float64
	pinhole       float64
	degree        int
	coeffs        string
	seed          int64
	format        string
}

func generate(fsys fsutil.FileSystem, p params) error {
	extent := basis.Extent{Width: p.width, Height: p.height}
	truth, err := basis.NewPolynomial(p.degree, extent)
	if err != nil {
		return err
	}
	c, err := config.ParseVectors(p.coeffs)
	if err != nil {
		return fmt.Errorf("-coeffs: %w", err)
	}
	if len(c) > truth.NumCoeffs() {
		return fmt.Errorf("-coeffs: %d values for a degree %d polynomial with %d terms", len(c), p.degree, truth.NumCoeffs())
	}
	full := make([]geom.Vec2D, truth.NumCoeffs())
	copy(full, c)
	if err := truth.SetCoeffs(full); err != nil {
		return err
	}

	shifts, err := config.ParseVectors(p.shifts)
	if err != nil {
		return fmt.Errorf("-shifts: %w", err)
	}
	if shifts == nil {
		shifts = synth.RingShifts(p.exposures, p.shiftRadius)
	}

	g := synth.NewGenerator(p.width, p.height, p.grid, truth, p.seed)
	g.Flux = p.flux
	g.PSFSigma = p.psf
	g.PinholeSigma = p.pinhole
	images, err := g.Exposures(shifts...)
	if err != nil {
		return err
	}
	write, ext := synth.WriteTIFFs, ".tif"
	switch p.format {
	case "", "tiff":
	case "fits":
		write, ext = synth.WriteFITS, ".fits"
	default:
		return fmt.Errorf("-format: want tiff or fits, got %q", p.format)
	}
	entries, err := write(fsys, p.dir, "pinholes", images)
	if err != nil {
		return err
	}

	// A PSF spreads flux past a tight window, so size the defaults to it.
	radius := max(3, int(4*p.psf+0.5)+int(2*p.pinhole+0.5))
	pitch, rotation := p.grid.Pitch, p.grid.Rotation
	threshold := p.flux / 2
	degree := p.degree
	differential := true
	cfg := config.RunConfig{
		Grid:          &config.GridConfig{Pitch: &pitch, Rotation: &rotation},
		Radius:        &radius,
		FluxThreshold: &threshold,
		Degree:        &degree,
		Differential:  &differential,
	}
	// Inputs are named relative to run.yaml, which sits beside them.
	if ext == ".fits" {
		pattern := "pinholes_*" + ext
		cfg.Pattern = &pattern
	} else {
		for _, e := range entries {
			e.Path = filepath.Base(e.Path)
			cfg.Exposures = append(cfg.Exposures, e)
		}
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	path := filepath.Join(p.dir, "run.yaml")
	if err := fsys.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	log.Printf("wrote %d exposures and %s", len(entries), path)
	return nil
}
