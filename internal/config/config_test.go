package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/distortion/internal/calib/basis"
	"github.com/banshee-data/distortion/internal/calib/geom"
	"github.com/banshee-data/distortion/internal/fsutil"
)

func TestEmptyRunConfig_Defaults(t *testing.T) {
	cfg := EmptyRunConfig()

	if cfg.GetRadius() != DefaultRadius {
		t.Errorf("GetRadius() = %d, want %d", cfg.GetRadius(), DefaultRadius)
	}
	if cfg.GetFluxThreshold() != DefaultFluxThreshold {
		t.Errorf("GetFluxThreshold() = %v, want %v", cfg.GetFluxThreshold(), DefaultFluxThreshold)
	}
	if cfg.GetBasis() != basis.KindPolynomial {
		t.Errorf("GetBasis() = %q, want poly", cfg.GetBasis())
	}
	if cfg.GetBasisParam() != DefaultDegree {
		t.Errorf("GetBasisParam() = %d, want %d", cfg.GetBasisParam(), DefaultDegree)
	}
	if cfg.GetDifferential() {
		t.Error("GetDifferential() = true, want false")
	}
	if s := cfg.GetSolver(); s != (basis.Solver{}) {
		t.Errorf("GetSolver() = %+v, want zero value", s)
	}
	want := geom.NewHexGrid(DefaultPitch, 0, geom.Vec2D{})
	if g := cfg.GetGrid(); g != want {
		t.Errorf("GetGrid() = %+v, want %+v", g, want)
	}
	if cfg.GetPattern() != "" || cfg.GetStorePath() != "" || cfg.GetReportDir() != "" || cfg.GetOverlayPath() != "" {
		t.Error("expected empty paths by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on empty config: %v", err)
	}
}

func TestLoadRunConfig_JSON(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	testJSON := `{
  "grid": {"pitch": 250, "rotation": 0.01, "offset": {"x": 3, "y": -1.5}},
  "radius": 30,
  "flux_threshold": 5000,
  "basis": "fourier",
  "max_freq": 4,
  "method": "qr",
  "ridge": 1e-6,
  "differential": true,
  "pattern": "/data/img_*.tif",
  "shifts": [{"x": 0, "y": 0}, {"x": 100, "y": 0}]
}`
	if err := mfs.WriteFile("/cfg/run.json", []byte(testJSON), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadRunConfig(mfs, "/cfg/run.json")
	if err != nil {
		t.Fatalf("LoadRunConfig: %v", err)
	}

	if g := cfg.GetGrid(); g.Pitch != 250 || g.Rotation != 0.01 || g.Offset != (geom.Vec2D{X: 3, Y: -1.5}) {
		t.Errorf("GetGrid() = %+v", g)
	}
	if cfg.GetRadius() != 30 || cfg.GetFluxThreshold() != 5000 {
		t.Errorf("radius/threshold = %d/%v", cfg.GetRadius(), cfg.GetFluxThreshold())
	}
	if cfg.GetBasis() != basis.KindFourier || cfg.GetBasisParam() != 4 {
		t.Errorf("basis = %q(%d), want fourier(4)", cfg.GetBasis(), cfg.GetBasisParam())
	}
	if s := cfg.GetSolver(); s.Method != basis.MethodQR || s.Ridge != 1e-6 {
		t.Errorf("GetSolver() = %+v", s)
	}
	if !cfg.GetDifferential() {
		t.Error("GetDifferential() = false, want true")
	}
	if len(cfg.Shifts) != 2 || cfg.Shifts[1].X != 100 {
		t.Errorf("Shifts = %v", cfg.Shifts)
	}
}

func TestLoadRunConfig_YAMLWithGridFile(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	_ = mfs.WriteFile("/cfg/grid.yaml", []byte("Hex:\n  pitch: 120.5\n  rotation: 0.2\n  offset:\n    x: 1\n    y: 2\n"), 0o644)
	_ = mfs.WriteFile("/cfg/run.yml", []byte(`grid_file: grid.yaml
radius: 12
degree: 5
exposures:
  - path: /data/a.tif
    shift: {x: 0, y: 0}
  - path: /data/b.tif
    shift: {x: -50, y: 25}
`), 0o644)

	cfg, err := LoadRunConfig(mfs, "/cfg/run.yml")
	if err != nil {
		t.Fatalf("LoadRunConfig: %v", err)
	}
	want := geom.Grid{Kind: geom.GridHex, Pitch: 120.5, Rotation: 0.2, Offset: geom.Vec2D{X: 1, Y: 2}}
	if g := cfg.GetGrid(); g != want {
		t.Errorf("GetGrid() = %+v, want %+v", g, want)
	}
	if cfg.GetDegree() != 5 || cfg.GetRadius() != 12 {
		t.Errorf("degree/radius = %d/%d", cfg.GetDegree(), cfg.GetRadius())
	}

	exps, err := cfg.ResolveExposures(mfs)
	if err != nil {
		t.Fatalf("ResolveExposures: %v", err)
	}
	if len(exps) != 2 || exps[1].Path != "/data/b.tif" || exps[1].Shift != (geom.Vec2D{X: -50, Y: 25}) {
		t.Errorf("ResolveExposures = %+v", exps)
	}
}

func TestLoadRunConfig_RelativeInputsFollowConfigFile(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	_ = mfs.WriteFile("bench/run.yaml", []byte(`exposures:
  - path: pinholes_000.tif
  - path: /abs/pinholes_001.tif
pattern: pinholes_*.fits
store_path: runs.db
`), 0o644)

	cfg, err := LoadRunConfig(mfs, "bench/run.yaml")
	if err != nil {
		t.Fatalf("LoadRunConfig: %v", err)
	}
	if got := cfg.Exposures[0].Path; got != filepath.Join("bench", "pinholes_000.tif") {
		t.Errorf("relative exposure path = %q", got)
	}
	if got := cfg.Exposures[1].Path; got != "/abs/pinholes_001.tif" {
		t.Errorf("absolute exposure path = %q", got)
	}
	if got := cfg.GetPattern(); got != filepath.Join("bench", "pinholes_*.fits") {
		t.Errorf("pattern = %q", got)
	}
	if got := cfg.GetStorePath(); got != "runs.db" {
		t.Errorf("store path = %q, outputs stay relative to the working directory", got)
	}

	// From inside the config directory the paths stay as written.
	_ = mfs.WriteFile("run.yaml", []byte("exposures:\n  - path: pinholes_000.tif\n"), 0o644)
	cfg, err = LoadRunConfig(mfs, "run.yaml")
	if err != nil {
		t.Fatalf("LoadRunConfig: %v", err)
	}
	if got := cfg.Exposures[0].Path; got != "pinholes_000.tif" {
		t.Errorf("exposure path = %q", got)
	}
}

func TestLoadGridConfig_Flat(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	_ = mfs.WriteFile("/grid.json", []byte(`{"kind": "hex", "pitch": 80}`), 0o644)

	g, err := LoadGridConfig(mfs, "/grid.json")
	if err != nil {
		t.Fatalf("LoadGridConfig: %v", err)
	}
	if g.GetPitch() != 80 || g.GetRotation() != 0 || g.GetOffset() != (geom.Vec2D{}) {
		t.Errorf("grid = %+v", g.Grid())
	}
}

func TestLoadGridConfig_Invalid(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	_ = mfs.WriteFile("/zero.yaml", []byte("Hex:\n  pitch: 0\n"), 0o644)
	_ = mfs.WriteFile("/square.yaml", []byte("kind: square\npitch: 10\n"), 0o644)

	for _, p := range []string{"/zero.yaml", "/square.yaml"} {
		if _, err := LoadGridConfig(mfs, p); err == nil {
			t.Errorf("LoadGridConfig(%q): expected error", p)
		}
	}

	_, err := LoadGridConfig(mfs, "/square.yaml")
	if !errors.Is(err, geom.ErrGeometry) {
		t.Errorf("unknown kind error = %v, want ErrGeometry", err)
	}
}

func TestLoadRunConfig_Errors(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	_ = mfs.WriteFile("/bad.json", []byte(`{"radius": "wide"`), 0o644)
	_ = mfs.WriteFile("/bad.yaml", []byte("radius: [1, 2\n"), 0o644)
	_ = mfs.WriteFile("/run.toml", []byte("radius = 3\n"), 0o644)
	_ = mfs.WriteFile("/neg.json", []byte(`{"radius": -1}`), 0o644)
	_ = mfs.WriteFile("/nogrid.json", []byte(`{"grid_file": "missing.yaml"}`), 0o644)
	_ = mfs.WriteFile("/big.json", make([]byte, maxFileSize+1), 0o644)

	for _, p := range []string{"/bad.json", "/bad.yaml", "/run.toml", "/neg.json", "/nogrid.json", "/big.json", "/absent.json"} {
		if _, err := LoadRunConfig(mfs, p); err == nil {
			t.Errorf("LoadRunConfig(%q): expected error", p)
		}
	}
}

func TestLoadRunConfig_OSFileSystem(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	if err := os.WriteFile(path, []byte("radius: 7\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := LoadRunConfig(fsutil.OSFileSystem{}, path)
	if err != nil {
		t.Fatalf("LoadRunConfig: %v", err)
	}
	if cfg.GetRadius() != 7 {
		t.Errorf("GetRadius() = %d, want 7", cfg.GetRadius())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     RunConfig
		wantErr bool
	}{
		{"empty", RunConfig{}, false},
		{"zero_radius", RunConfig{Radius: ptrInt(0)}, false},
		{"negative_radius", RunConfig{Radius: ptrInt(-2)}, true},
		{"nan_threshold", RunConfig{FluxThreshold: ptrFloat64(math.NaN())}, true},
		{"negative_threshold", RunConfig{FluxThreshold: ptrFloat64(-1)}, false},
		{"unknown_basis", RunConfig{Basis: ptrString("zernike")}, true},
		{"zero_degree", RunConfig{Degree: ptrInt(0)}, true},
		{"zero_freq", RunConfig{MaxFreq: ptrInt(0)}, true},
		{"unknown_method", RunConfig{Method: ptrString("svd")}, true},
		{"negative_ridge", RunConfig{Ridge: ptrFloat64(-1)}, true},
		{"cond_limit_one", RunConfig{CondLimit: ptrFloat64(1)}, true},
		{"negative_workers", RunConfig{Workers: ptrInt(-1)}, true},
		{"bad_pitch", RunConfig{Grid: &GridConfig{Pitch: ptrFloat64(-3)}}, true},
		{"inf_rotation", RunConfig{Grid: &GridConfig{Rotation: ptrFloat64(math.Inf(1))}}, true},
		{"exposure_without_path", RunConfig{Exposures: []ExposureConfig{{}}}, true},
		{"nan_shift", RunConfig{Shifts: []geom.Vec2D{{X: math.NaN()}}}, true},
		{"differential", RunConfig{Differential: ptrBool(true)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestResolveExposures_Pattern(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	for _, n := range []string{"/d/img_1.tif", "/d/img_0.tif", "/d/img_2.tif"} {
		_ = mfs.WriteFile(n, []byte{0}, 0o644)
	}

	cfg := &RunConfig{
		Pattern: ptrString("/d/img_*.tif"),
		Shifts:  []geom.Vec2D{{X: 0}, {X: 10}, {X: 20}},
	}
	exps, err := cfg.ResolveExposures(mfs)
	if err != nil {
		t.Fatalf("ResolveExposures: %v", err)
	}
	for i, e := range exps {
		if e.Path != filepath.Join("/d", "img_"+string(rune('0'+i))+".tif") || e.Shift.X != float64(10*i) {
			t.Errorf("exposure %d = %+v", i, e)
		}
	}

	cfg.Shifts = cfg.Shifts[:2]
	if _, err := cfg.ResolveExposures(mfs); err == nil {
		t.Error("expected error for shift count mismatch")
	}

	cfg.Shifts = nil
	exps, err = cfg.ResolveExposures(mfs)
	if err != nil || len(exps) != 3 || exps[2].Shift != (geom.Vec2D{}) {
		t.Errorf("zero-shift resolve = %+v, %v", exps, err)
	}

	cfg.Pattern = ptrString("/d/*.png")
	if _, err := cfg.ResolveExposures(mfs); err == nil {
		t.Error("expected error when nothing matches")
	}

	if _, err := EmptyRunConfig().ResolveExposures(mfs); err == nil {
		t.Error("expected error with no inputs configured")
	}
}

func TestParseVectors(t *testing.T) {
	got, err := ParseVectors(" 0,0; 3, 0 ;0,-2.5")
	if err != nil {
		t.Fatalf("ParseVectors: %v", err)
	}
	want := []geom.Vec2D{{}, {X: 3}, {Y: -2.5}}
	if len(got) != len(want) {
		t.Fatalf("got %d shifts, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("shift %d = %v, want %v", i, got[i], want[i])
		}
	}

	if got, err := ParseVectors(""); err != nil || got != nil {
		t.Errorf("ParseVectors(\"\") = %v, %v", got, err)
	}
	for _, bad := range []string{"1", "1,2,3", "a,1", "1,b", "1,2;", "NaN,0", "Inf,0"} {
		if _, err := ParseVectors(bad); err == nil {
			t.Errorf("ParseVectors(%q) succeeded, want error", bad)
		}
	}
}
