package synth

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/banshee-data/distortion/internal/calib/exposure"
	"github.com/banshee-data/distortion/internal/config"
	"github.com/banshee-data/distortion/internal/fsutil"
)

// WriteTIFFs encodes images as dir/<prefix>_NNN.tif and returns the matching
// exposure entries for a run configuration.
func WriteTIFFs(fsys fsutil.FileSystem, dir, prefix string, images []*exposure.Image) ([]config.ExposureConfig, error) {
	return writeSeries(fsys, dir, prefix, ".tif", images, (*exposure.Image).EncodeTIFF)
}

// WriteFITS encodes images as dir/<prefix>_NNN.fits with each shift in the
// header cards, so the series loads without configured shifts.
func WriteFITS(fsys fsutil.FileSystem, dir, prefix string, images []*exposure.Image) ([]config.ExposureConfig, error) {
	return writeSeries(fsys, dir, prefix, ".fits", images, (*exposure.Image).EncodeFITS)
}

func writeSeries(fsys fsutil.FileSystem, dir, prefix, ext string, images []*exposure.Image,
	encode func(*exposure.Image, io.Writer) error) ([]config.ExposureConfig, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	out := make([]config.ExposureConfig, len(images))
	for i, img := range images {
		path := filepath.Join(dir, fmt.Sprintf("%s_%03d%s", prefix, i, ext))
		w, err := fsys.Create(path)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", path, err)
		}
		if err := encode(img, w); err != nil {
			w.Close()
			return nil, fmt.Errorf("encode %s: %w", path, err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("close %s: %w", path, err)
		}
		out[i] = config.ExposureConfig{Path: path, Shift: img.Shift}
	}
	return out, nil
}
