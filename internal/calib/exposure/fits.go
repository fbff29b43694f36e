package exposure

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/astrogo/fitsio"

	"github.com/banshee-data/distortion/internal/calib/geom"
)

// ErrFITS marks a FITS exposure without the primary image or header cards
// a calibration frame needs.
var ErrFITS = errors.New("invalid FITS exposure")

// Header cards carrying the stage offset of a FITS exposure, in pixels.
const (
	CardXShift = "XSHIFT"
	CardYShift = "YSHIFT"
)

// IsFITS reports whether path names a FITS file by its extension.
func IsFITS(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fits", ".fit", ".fts":
		return true
	}
	return false
}

// DecodeFITS reads the primary HDU of a FITS file. The image must be two
// dimensional; NAXIS1 is the width and NAXIS2 the height. The shift comes
// from the XSHIFT and YSHIFT cards, which are required and may be integer
// or real. Integer pixels are scaled by BSCALE and BZERO when present.
func DecodeFITS(r io.Reader) (*Image, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFITS, err)
	}
	defer f.Close()

	if len(f.HDUs()) == 0 {
		return nil, fmt.Errorf("%w: no primary HDU", ErrFITS)
	}
	hdu, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("%w: primary HDU is not an image", ErrFITS)
	}
	hdr := hdu.Header()

	axes := hdr.Axes()
	if len(axes) != 2 {
		return nil, fmt.Errorf("%w: expected NAXIS == 2, got %d", ErrFITS, len(axes))
	}
	w, h := axes[0], axes[1]
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: invalid NAXIS1 x NAXIS2 %dx%d", ErrFITS, w, h)
	}

	var shift geom.Vec2D
	if shift.X, err = cardFloat(hdr, CardXShift); err != nil {
		return nil, err
	}
	if shift.Y, err = cardFloat(hdr, CardYShift); err != nil {
		return nil, err
	}

	data, err := readPixels(hdu, hdr.Bitpix(), w*h)
	if err != nil {
		return nil, err
	}
	if hdr.Bitpix() > 0 {
		scale, zero := 1.0, 0.0
		if hdr.Get("BSCALE") != nil {
			if scale, err = cardFloat(hdr, "BSCALE"); err != nil {
				return nil, err
			}
		}
		if hdr.Get("BZERO") != nil {
			if zero, err = cardFloat(hdr, "BZERO"); err != nil {
				return nil, err
			}
		}
		if scale != 1 || zero != 0 {
			for i, v := range data {
				data[i] = zero + scale*v
			}
		}
	}

	im := &Image{Data: data, Shape: [2]int{h, w}, Shift: shift}
	if err := im.Validate(); err != nil {
		return nil, fmt.Errorf("decode fits exposure: %w", err)
	}
	return im, nil
}

// readPixels reads n pixels into a slice of the type BITPIX names and
// widens them to float64.
func readPixels(img fitsio.Image, bitpix, n int) ([]float64, error) {
	out := make([]float64, n)
	var err error
	switch bitpix {
	case 8:
		raw := make([]uint8, n)
		if err = img.Read(&raw); err == nil {
			for i, v := range raw {
				out[i] = float64(v)
			}
		}
	case 16:
		raw := make([]int16, n)
		if err = img.Read(&raw); err == nil {
			for i, v := range raw {
				out[i] = float64(v)
			}
		}
	case 32:
		raw := make([]int32, n)
		if err = img.Read(&raw); err == nil {
			for i, v := range raw {
				out[i] = float64(v)
			}
		}
	case 64:
		raw := make([]int64, n)
		if err = img.Read(&raw); err == nil {
			for i, v := range raw {
				out[i] = float64(v)
			}
		}
	case -32:
		raw := make([]float32, n)
		if err = img.Read(&raw); err == nil {
			for i, v := range raw {
				out[i] = float64(v)
			}
		}
	case -64:
		err = img.Read(&out)
	default:
		return nil, fmt.Errorf("%w: unsupported BITPIX %d", ErrFITS, bitpix)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read pixels: %v", ErrFITS, err)
	}
	return out, nil
}

// cardFloat returns the numeric value of a required header card.
func cardFloat(hdr *fitsio.Header, name string) (float64, error) {
	card := hdr.Get(name)
	if card == nil {
		return 0, fmt.Errorf("%w: missing %s in header", ErrFITS, name)
	}
	switch v := card.Value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("%w: %s must be an integer or real, got %T", ErrFITS, name, card.Value)
	}
}

// EncodeFITS writes the exposure as a single 64-bit float primary HDU with
// the shift in the XSHIFT and YSHIFT cards, so DecodeFITS restores it
// exactly.
func (im *Image) EncodeFITS(w io.Writer) error {
	if err := im.Validate(); err != nil {
		return err
	}
	f, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("create fits: %w", err)
	}

	hdu := fitsio.NewImage(-64, []int{im.Width(), im.Height()})
	defer hdu.Close()
	err = hdu.Header().Append(
		fitsio.Card{Name: CardXShift, Value: im.Shift.X, Comment: "stage shift along NAXIS1 [px]"},
		fitsio.Card{Name: CardYShift, Value: im.Shift.Y, Comment: "stage shift along NAXIS2 [px]"},
	)
	if err != nil {
		f.Close()
		return fmt.Errorf("fits header: %w", err)
	}
	if err := hdu.Write(im.Data); err != nil {
		f.Close()
		return fmt.Errorf("fits data: %w", err)
	}
	if err := f.Write(hdu); err != nil {
		f.Close()
		return fmt.Errorf("write fits: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close fits: %w", err)
	}
	return nil
}
