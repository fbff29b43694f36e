package config

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/distortion/internal/calib/basis"
	"github.com/banshee-data/distortion/internal/calib/geom"
	"github.com/banshee-data/distortion/internal/fsutil"
)

// Defaults applied by the Get* accessors when a field is omitted.
const (
	DefaultPitch         = 100.0
	DefaultRadius        = 10
	DefaultFluxThreshold = 10000.0
	DefaultBasis         = "poly"
	DefaultDegree        = 3
	DefaultMaxFreq       = 3
	DefaultMethod        = "normal"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// GridConfig describes the pinhole mask. Offset and rotation default to zero.
type GridConfig struct {
	Kind     *string     `json:"kind,omitempty" yaml:"kind,omitempty"`
	Pitch    *float64    `json:"pitch,omitempty" yaml:"pitch,omitempty"`       // pixels
	Rotation *float64    `json:"rotation,omitempty" yaml:"rotation,omitempty"` // radians
	Offset   *geom.Vec2D `json:"offset,omitempty" yaml:"offset,omitempty"`     // pixels
}

// gridFile also accepts the externally tagged form
//
//	Hex:
//	  pitch: 100
//	  rotation: 0
//	  offset: {x: 0, y: 0}
type gridFile struct {
	GridConfig `yaml:",inline"`
	Hex        *GridConfig `json:"Hex,omitempty" yaml:"Hex,omitempty"`
}

// ExposureConfig names one exposure file and its stage shift in pixels.
type ExposureConfig struct {
	Path  string     `json:"path" yaml:"path"`
	Shift geom.Vec2D `json:"shift" yaml:"shift"`
}

// RunConfig is the full calibration run configuration. Every scalar is a
// pointer so a partial file only overrides what it names.
type RunConfig struct {
	Grid     *GridConfig `json:"grid,omitempty" yaml:"grid,omitempty"`
	GridFile *string     `json:"grid_file,omitempty" yaml:"grid_file,omitempty"`

	// Measurement
	Radius        *int     `json:"radius,omitempty" yaml:"radius,omitempty"`
	FluxThreshold *float64 `json:"flux_threshold,omitempty" yaml:"flux_threshold,omitempty"`
	Workers       *int     `json:"workers,omitempty" yaml:"workers,omitempty"`

	// Model and solver
	Basis        *string  `json:"basis,omitempty" yaml:"basis,omitempty"` // "poly" or "fourier"
	Degree       *int     `json:"degree,omitempty" yaml:"degree,omitempty"`
	MaxFreq      *int     `json:"max_freq,omitempty" yaml:"max_freq,omitempty"`
	Method       *string  `json:"method,omitempty" yaml:"method,omitempty"` // "normal" or "qr"
	Ridge        *float64 `json:"ridge,omitempty" yaml:"ridge,omitempty"`
	CondLimit    *float64 `json:"cond_limit,omitempty" yaml:"cond_limit,omitempty"`
	Differential *bool    `json:"differential,omitempty" yaml:"differential,omitempty"`

	// Inputs. Exposures wins over Pattern; with Pattern, Shifts pairs with the
	// sorted matches by index.
	Exposures []ExposureConfig `json:"exposures,omitempty" yaml:"exposures,omitempty"`
	Pattern   *string          `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Shifts    []geom.Vec2D     `json:"shifts,omitempty" yaml:"shifts,omitempty"`

	// Outputs
	StorePath   *string `json:"store_path,omitempty" yaml:"store_path,omitempty"`
	ReportDir   *string `json:"report_dir,omitempty" yaml:"report_dir,omitempty"`
	OverlayPath *string `json:"overlay_path,omitempty" yaml:"overlay_path,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyRunConfig returns a RunConfig with all fields unset.
func EmptyRunConfig() *RunConfig {
	return &RunConfig{}
}

// readFile applies the path and size checks shared by every loader and
// returns the contents with the lower-cased extension.
func readFile(fsys fsutil.FileSystem, path string) ([]byte, string, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, "", fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	info, err := fsys.Stat(cleanPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, "", fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := fsys.ReadFile(cleanPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read config file: %w", err)
	}
	return data, ext, nil
}

func decode(data []byte, ext string, v any) error {
	if ext == ".json" {
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to parse config JSON: %w", err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return nil
}

// LoadRunConfig loads and validates a run configuration. Relative input
// paths (grid_file, exposure paths and the pattern) are resolved against
// the config file's directory. A grid_file replaces any inline grid.
// Output paths stay relative to the working directory.
func LoadRunConfig(fsys fsutil.FileSystem, path string) (*RunConfig, error) {
	data, ext, err := readFile(fsys, path)
	if err != nil {
		return nil, err
	}
	cfg := EmptyRunConfig()
	if err := decode(data, ext, cfg); err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	for i := range cfg.Exposures {
		cfg.Exposures[i].Path = resolve(dir, cfg.Exposures[i].Path)
	}
	if cfg.Pattern != nil && *cfg.Pattern != "" {
		cfg.Pattern = ptrString(resolve(dir, *cfg.Pattern))
	}

	if cfg.GridFile != nil && *cfg.GridFile != "" {
		g, err := LoadGridConfig(fsys, resolve(dir, *cfg.GridFile))
		if err != nil {
			return nil, fmt.Errorf("grid_file: %w", err)
		}
		cfg.Grid = g
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// LoadGridConfig loads a standalone grid description, flat or tagged.
func LoadGridConfig(fsys fsutil.FileSystem, path string) (*GridConfig, error) {
	data, ext, err := readFile(fsys, path)
	if err != nil {
		return nil, err
	}
	var f gridFile
	if err := decode(data, ext, &f); err != nil {
		return nil, err
	}
	g := f.GridConfig
	if f.Hex != nil {
		g = *f.Hex
		g.Kind = ptrString(string(geom.GridHex))
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid grid: %w", err)
	}
	return &g, nil
}

// Validate checks the grid parameters against the geometry rules.
func (g *GridConfig) Validate() error {
	if g.Pitch != nil && (*g.Pitch <= 0 || math.IsNaN(*g.Pitch) || math.IsInf(*g.Pitch, 0)) {
		return fmt.Errorf("pitch must be positive and finite, got %v", *g.Pitch)
	}
	return g.Grid().Validate()
}

// GetPitch returns the pitch or the default.
func (g *GridConfig) GetPitch() float64 {
	if g == nil || g.Pitch == nil {
		return DefaultPitch
	}
	return *g.Pitch
}

// GetRotation returns the rotation or zero.
func (g *GridConfig) GetRotation() float64 {
	if g == nil || g.Rotation == nil {
		return 0
	}
	return *g.Rotation
}

// GetOffset returns the offset or the origin.
func (g *GridConfig) GetOffset() geom.Vec2D {
	if g == nil || g.Offset == nil {
		return geom.Vec2D{}
	}
	return *g.Offset
}

// Grid builds the geometry value described by g.
func (g *GridConfig) Grid() geom.Grid {
	grid := geom.NewHexGrid(g.GetPitch(), g.GetRotation(), g.GetOffset())
	if g != nil && g.Kind != nil {
		grid.Kind = geom.GridKind(strings.ToLower(*g.Kind))
	}
	return grid
}

// Validate checks that the configuration values are valid.
func (c *RunConfig) Validate() error {
	if c.Grid != nil {
		if err := c.Grid.Validate(); err != nil {
			return fmt.Errorf("grid: %w", err)
		}
	}
	if c.Radius != nil && *c.Radius < 0 {
		return fmt.Errorf("radius must be non-negative, got %d", *c.Radius)
	}
	if c.FluxThreshold != nil && math.IsNaN(*c.FluxThreshold) {
		return fmt.Errorf("flux_threshold must be a number")
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.Basis != nil {
		if _, err := basis.ParseKind(*c.Basis); err != nil {
			return fmt.Errorf("basis: %w", err)
		}
	}
	if c.Degree != nil && *c.Degree < 1 {
		return fmt.Errorf("degree must be at least 1, got %d", *c.Degree)
	}
	if c.MaxFreq != nil && *c.MaxFreq < 1 {
		return fmt.Errorf("max_freq must be at least 1, got %d", *c.MaxFreq)
	}
	if c.Method != nil {
		if _, err := ParseMethod(*c.Method); err != nil {
			return err
		}
	}
	if c.Ridge != nil && (*c.Ridge < 0 || math.IsNaN(*c.Ridge)) {
		return fmt.Errorf("ridge must be non-negative, got %v", *c.Ridge)
	}
	if c.CondLimit != nil && !(*c.CondLimit > 1) {
		return fmt.Errorf("cond_limit must be greater than 1, got %v", *c.CondLimit)
	}
	for i, e := range c.Exposures {
		if e.Path == "" {
			return fmt.Errorf("exposures[%d]: path is required", i)
		}
		if !e.Shift.IsFinite() {
			return fmt.Errorf("exposures[%d]: shift must be finite", i)
		}
	}
	for i, s := range c.Shifts {
		if !s.IsFinite() {
			return fmt.Errorf("shifts[%d] must be finite", i)
		}
	}
	return nil
}

// ParseMethod maps a method name to a solver method.
func ParseMethod(s string) (basis.Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal", "cholesky":
		return basis.MethodNormal, nil
	case "qr":
		return basis.MethodQR, nil
	}
	return 0, fmt.Errorf("method must be \"normal\" or \"qr\", got %q", s)
}

// ParseVectors reads a vector list such as stage shifts, written as
// "x,y;x,y;...". Whitespace around numbers is ignored and an empty string
// yields nil.
func ParseVectors(s string) ([]geom.Vec2D, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []geom.Vec2D
	for i, part := range strings.Split(s, ";") {
		xy := strings.Split(part, ",")
		if len(xy) != 2 {
			return nil, fmt.Errorf("vector %d: want \"x,y\", got %q", i, part)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(xy[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("vector %d: bad x %q", i, xy[0])
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(xy[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("vector %d: bad y %q", i, xy[1])
		}
		v := geom.Vec2D{X: x, Y: y}
		if !v.IsFinite() {
			return nil, fmt.Errorf("vector %d must be finite, got %v", i, v)
		}
		out = append(out, v)
	}
	return out, nil
}

// GetGrid returns the configured grid, with defaults for omitted fields.
func (c *RunConfig) GetGrid() geom.Grid {
	return c.Grid.Grid()
}

// GetRadius returns the centroid window radius or the default.
func (c *RunConfig) GetRadius() int {
	if c.Radius == nil {
		return DefaultRadius
	}
	return *c.Radius
}

// GetFluxThreshold returns the exclusive flux threshold or the default.
func (c *RunConfig) GetFluxThreshold() float64 {
	if c.FluxThreshold == nil {
		return DefaultFluxThreshold
	}
	return *c.FluxThreshold
}

// GetWorkers returns the worker bound; zero lets the pipeline choose.
func (c *RunConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetBasis returns the basis family or the default.
func (c *RunConfig) GetBasis() basis.Kind {
	name := DefaultBasis
	if c.Basis != nil {
		name = *c.Basis
	}
	k, err := basis.ParseKind(name)
	if err != nil {
		return basis.KindPolynomial
	}
	return k
}

// GetDegree returns the polynomial degree or the default.
func (c *RunConfig) GetDegree() int {
	if c.Degree == nil {
		return DefaultDegree
	}
	return *c.Degree
}

// GetMaxFreq returns the Fourier maximum frequency or the default.
func (c *RunConfig) GetMaxFreq() int {
	if c.MaxFreq == nil {
		return DefaultMaxFreq
	}
	return *c.MaxFreq
}

// GetBasisParam returns the degree or max frequency, whichever the basis
// family uses.
func (c *RunConfig) GetBasisParam() int {
	if c.GetBasis() == basis.KindFourier {
		return c.GetMaxFreq()
	}
	return c.GetDegree()
}

// GetSolver assembles the solver settings.
func (c *RunConfig) GetSolver() basis.Solver {
	s := basis.Solver{}
	if c.Method != nil {
		if m, err := ParseMethod(*c.Method); err == nil {
			s.Method = m
		}
	}
	if c.Ridge != nil {
		s.Ridge = *c.Ridge
	}
	if c.CondLimit != nil {
		s.CondLimit = *c.CondLimit
	}
	return s
}

// GetDifferential reports whether to fit exposure differences only.
func (c *RunConfig) GetDifferential() bool {
	if c.Differential == nil {
		return false
	}
	return *c.Differential
}

// GetPattern returns the exposure glob pattern or "".
func (c *RunConfig) GetPattern() string {
	if c.Pattern == nil {
		return ""
	}
	return *c.Pattern
}

// GetStorePath returns the run store path or "".
func (c *RunConfig) GetStorePath() string {
	if c.StorePath == nil {
		return ""
	}
	return *c.StorePath
}

// GetReportDir returns the report directory or "".
func (c *RunConfig) GetReportDir() string {
	if c.ReportDir == nil {
		return ""
	}
	return *c.ReportDir
}

// GetOverlayPath returns the overlay TIFF path or "".
func (c *RunConfig) GetOverlayPath() string {
	if c.OverlayPath == nil {
		return ""
	}
	return *c.OverlayPath
}

// ResolveExposures pairs exposure paths with shifts. Explicit Exposures are
// returned as is; otherwise the sorted matches of Pattern are paired with
// Shifts by index, and a count mismatch is an error. With no Shifts at all
// every match gets a zero shift.
func (c *RunConfig) ResolveExposures(fsys fsutil.FileSystem) ([]ExposureConfig, error) {
	if len(c.Exposures) > 0 {
		return c.Exposures, nil
	}
	pattern := c.GetPattern()
	if pattern == "" {
		return nil, fmt.Errorf("no exposures configured: set exposures or pattern")
	}
	paths, err := fsys.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("pattern %q matched no files", pattern)
	}
	if len(c.Shifts) > 0 && len(c.Shifts) != len(paths) {
		return nil, fmt.Errorf("pattern %q matched %d files but %d shifts are configured", pattern, len(paths), len(c.Shifts))
	}
	out := make([]ExposureConfig, len(paths))
	for i, p := range paths {
		out[i].Path = p
		if len(c.Shifts) > 0 {
			out[i].Shift = c.Shifts[i]
		}
	}
	return out, nil
}
