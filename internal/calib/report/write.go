package report

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/banshee-data/distortion/internal/calib/basis"
	"github.com/banshee-data/distortion/internal/calib/exposure"
	"github.com/banshee-data/distortion/internal/fsutil"
)

// File names written by WriteDir.
const (
	QuiverFile    = "distortion.png"
	ResidualsFile = "residuals.html"
)

// WriteDir renders both reports into dir, creating it if needed, and
// returns the written paths.
func WriteDir(fsys fsutil.FileSystem, dir string, b basis.Basis, extent basis.Extent, ms []exposure.Centroid) ([]string, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}

	var png, html bytes.Buffer
	if err := Quiver(&png, b, extent, ms, QuiverOptions{}); err != nil {
		return nil, err
	}
	if err := Residuals(&html, b, extent, ms, ResidualOptions{}); err != nil {
		return nil, err
	}

	out := []string{filepath.Join(dir, QuiverFile), filepath.Join(dir, ResidualsFile)}
	for i, data := range [][]byte{png.Bytes(), html.Bytes()} {
		if err := fsys.WriteFile(out[i], data, 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", out[i], err)
		}
	}
	return out, nil
}
