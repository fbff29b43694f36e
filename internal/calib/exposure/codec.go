package exposure

import (
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"io"
	"math"

	"golang.org/x/image/tiff"

	"github.com/banshee-data/distortion/internal/calib/geom"
)

// Decode reads a grayscale TIFF or PNG exposure. Colour images are reduced
// to 16-bit luminance. The container carries no stage metadata, so the
// shift is supplied by the caller.
func Decode(r io.Reader, shift geom.Vec2D) (*Image, error) {
	src, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode exposure: %w", err)
	}
	b := src.Bounds()
	im := NewImage(b.Dx(), b.Dy(), shift)

	switch g := src.(type) {
	case *image.Gray16:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				im.Set(x, y, float64(g.Gray16At(b.Min.X+x, b.Min.Y+y).Y))
			}
		}
	case *image.Gray:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				im.Set(x, y, float64(g.GrayAt(b.Min.X+x, b.Min.Y+y).Y))
			}
		}
	default:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				c := color.Gray16Model.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
				im.Set(x, y, float64(c.Y))
			}
		}
	}

	if err := im.Validate(); err != nil {
		return nil, fmt.Errorf("decode %s exposure: %w", format, err)
	}
	return im, nil
}

// ToGray16 converts the exposure to a 16-bit image, rounding and clamping
// each value into [0, 65535].
func (im *Image) ToGray16() *image.Gray16 {
	w, h := im.Width(), im.Height()
	g := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := math.Round(im.At(x, y))
			switch {
			case math.IsNaN(v) || v < 0:
				v = 0
			case v > math.MaxUint16:
				v = math.MaxUint16
			}
			g.SetGray16(x, y, color.Gray16{Y: uint16(v)})
		}
	}
	return g
}

// EncodeTIFF writes the exposure as a deflate-compressed 16-bit TIFF.
func (im *Image) EncodeTIFF(w io.Writer) error {
	if err := im.Validate(); err != nil {
		return err
	}
	if err := tiff.Encode(w, im.ToGray16(), &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return fmt.Errorf("encode tiff: %w", err)
	}
	return nil
}
