// Command distortion measures a pinhole-mask exposure series, fits a
// distortion model and maps coordinates through it.
//
//	distortion [flags] <pattern> [coordinates]
//
// Each output line is "x,y,dx,dy,". Without a coordinates file the model is
// evaluated at the grid points of the first exposure. FITS exposures take
// their shifts from the XSHIFT and YSHIFT header cards; TIFF and PNG
// exposures need -shifts or a config file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/distortion/internal/calib"
	"github.com/banshee-data/distortion/internal/config"
	"github.com/banshee-data/distortion/internal/fsutil"
	"github.com/banshee-data/distortion/internal/monitoring"
	"github.com/banshee-data/distortion/internal/version"
)

// options is the parsed command line.
type options struct {
	cfg         *config.RunConfig
	coordinates string
	runID       string
	verbose     bool
	trace       bool
}

func parseArgs(fsys fsutil.FileSystem, args []string) (*options, error) {
	fs := flag.NewFlagSet("distortion", flag.ContinueOnError)
	var (
		configPath   = fs.String("config", "", "run configuration file (.json, .yaml or .yml)")
		gridPath     = fs.String("grid", "", "grid description file, overrides the configured grid")
		radius       = fs.Int("radius", config.DefaultRadius, "centroid window radius in pixels")
		thresh       = fs.Float64("thresh", config.DefaultFluxThreshold, "exclusive minimum flux per pinhole image")
		basisKind    = fs.String("basis", config.DefaultBasis, "distortion basis: poly or fourier")
		degree       = fs.Int("degree", config.DefaultDegree, "polynomial degree")
		freq         = fs.Int("freq", config.DefaultMaxFreq, "Fourier maximum frequency")
		method       = fs.String("method", config.DefaultMethod, "least-squares method: normal or qr")
		ridge        = fs.Float64("ridge", 0, "ridge regularisation weight")
		differential = fs.Bool("differential", false, "fit displacements between exposures only")
		shifts       = fs.String("shifts", "", "stage shifts paired with the sorted matches, \"x,y;x,y;...\"")
		workers      = fs.Int("workers", 0, "concurrent centroid workers, 0 for GOMAXPROCS")
		store        = fs.String("store", "", "SQLite run store to record the fit in")
		runID        = fs.String("run", "", "evaluate a stored run (ID or \"latest\") instead of fitting")
		reportDir    = fs.String("report", "", "directory for the quiver PNG and residual HTML")
		overlay      = fs.String("overlay", "", "write the first exposure with grid circles (.fits for FITS, else TIFF)")
		verbose      = fs.Bool("v", false, "log run diagnostics to stderr")
		trace        = fs.Bool("trace", false, "log per-point decisions to stderr")
		showVersion  = fs.Bool("version", false, "print version and exit")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *showVersion {
		return nil, errVersion
	}

	cfg := config.EmptyRunConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadRunConfig(fsys, *configPath); err != nil {
			return nil, err
		}
	}

	// Flags given explicitly win over the file.
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["radius"] {
		cfg.Radius = radius
	}
	if set["thresh"] {
		cfg.FluxThreshold = thresh
	}
	if set["basis"] {
		cfg.Basis = basisKind
	}
	if set["degree"] {
		cfg.Degree = degree
	}
	if set["freq"] {
		cfg.MaxFreq = freq
	}
	if set["method"] {
		cfg.Method = method
	}
	if set["ridge"] {
		cfg.Ridge = ridge
	}
	if set["differential"] {
		cfg.Differential = differential
	}
	if set["workers"] {
		cfg.Workers = workers
	}
	if set["store"] {
		cfg.StorePath = store
	}
	if set["report"] {
		cfg.ReportDir = reportDir
	}
	if set["overlay"] {
		cfg.OverlayPath = overlay
	}
	if set["shifts"] {
		s, err := config.ParseVectors(*shifts)
		if err != nil {
			return nil, fmt.Errorf("-shifts: %w", err)
		}
		cfg.Shifts = s
	}
	if *gridPath != "" {
		g, err := config.LoadGridConfig(fsys, *gridPath)
		if err != nil {
			return nil, fmt.Errorf("-grid: %w", err)
		}
		cfg.Grid = g
	}

	o := &options{cfg: cfg, runID: *runID, verbose: *verbose, trace: *trace}
	rest := fs.Args()
	if o.runID != "" {
		// A stored run needs no exposures; the only argument is the
		// coordinates file.
		if len(rest) > 1 {
			return nil, fmt.Errorf("usage: distortion -store db -run id [coordinates]")
		}
		if len(rest) == 1 {
			o.coordinates = rest[0]
		}
		if cfg.GetStorePath() == "" {
			return nil, fmt.Errorf("-run needs -store")
		}
	} else {
		if len(rest) > 2 {
			return nil, fmt.Errorf("usage: distortion [flags] <pattern> [coordinates]")
		}
		if len(rest) >= 1 {
			p := rest[0]
			cfg.Pattern = &p
			cfg.Exposures = nil
		}
		if len(rest) == 2 {
			o.coordinates = rest[1]
		}
		if cfg.GetPattern() == "" && len(cfg.Exposures) == 0 {
			return nil, fmt.Errorf("usage: distortion [flags] <pattern> [coordinates]")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return o, nil
}

var errVersion = errors.New("version requested")

func main() {
	fsys := fsutil.OSFileSystem{}
	o, err := parseArgs(fsys, os.Args[1:])
	if errors.Is(err, errVersion) {
		fmt.Println(version.String())
		return
	}
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("distortion: %v", err)
	}

	lw := calib.LogWriters{Ops: os.Stderr}
	monitoring.SetOutput(nil)
	if o.verbose {
		lw.Diag = os.Stderr
		monitoring.SetOutput(os.Stderr)
	}
	if o.trace {
		lw.Trace = os.Stderr
	}
	calib.SetLogWriters(lw)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, fsys, o, os.Stdout); err != nil {
		log.Fatalf("distortion: %v", err)
	}
}
