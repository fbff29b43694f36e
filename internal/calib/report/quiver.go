// Package report renders diagnostics for a fitted distortion model: a
// quiver plot of the modelled field and an interactive residual scatter.
package report

import (
	"fmt"
	"image/color"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/distortion/internal/calib/basis"
	"github.com/banshee-data/distortion/internal/calib/exposure"
	"github.com/banshee-data/distortion/internal/calib/geom"
)

// DefaultCells is the number of quiver arrows along each axis.
const DefaultCells = 16

// QuiverOptions controls the PNG field plot.
type QuiverOptions struct {
	Title  string
	Cells  int       // arrows per axis, DefaultCells when zero
	Width  vg.Length // 8 inches when zero
	Height vg.Length // 8 inches when zero
}

// field samples a basis on a regular lattice over the extent.
type field struct {
	b      basis.Basis
	extent basis.Extent
	cells  int
	max    float64
}

func newField(b basis.Basis, extent basis.Extent, cells int) *field {
	f := &field{b: b, extent: extent, cells: cells}
	for c := 0; c < cells; c++ {
		for r := 0; r < cells; r++ {
			v := f.Vector(c, r)
			f.max = math.Max(f.max, math.Hypot(v.X, v.Y))
		}
	}
	return f
}

func (f *field) Dims() (c, r int) { return f.cells, f.cells }

func (f *field) X(c int) float64 { return (float64(c) + 0.5) * float64(f.extent.Width) / float64(f.cells) }

func (f *field) Y(r int) float64 { return (float64(r) + 0.5) * float64(f.extent.Height) / float64(f.cells) }

func (f *field) Vector(c, r int) plotter.XY {
	d := basis.Eval(f.b, geom.Vec2D{X: f.X(c), Y: f.Y(r)})
	return plotter.XY{X: d.X, Y: d.Y}
}

// Quiver writes a PNG of the displacement field modelled by b over extent,
// with the measured positions of ms overlaid. Arrow lengths are scaled to
// the cell size; the title carries the largest sampled magnitude.
func Quiver(w io.Writer, b basis.Basis, extent basis.Extent, ms []exposure.Centroid, o QuiverOptions) error {
	if err := extent.Validate(); err != nil {
		return err
	}
	cells := o.Cells
	if cells <= 0 {
		cells = DefaultCells
	}
	width, height := o.Width, o.Height
	if width == 0 {
		width = 8 * vg.Inch
	}
	if height == 0 {
		height = 8 * vg.Inch
	}

	f := newField(b, extent, cells)

	p := plot.New()
	title := o.Title
	if title == "" {
		title = fmt.Sprintf("%s distortion", b.Kind())
	}
	p.Title.Text = fmt.Sprintf("%s (max %.3g px)", title, f.max)
	p.X.Label.Text = "x (px)"
	p.Y.Label.Text = "y (px)"
	p.X.Min, p.X.Max = 0, float64(extent.Width)
	p.Y.Min, p.Y.Max = 0, float64(extent.Height)
	// Image rows grow downward.
	p.Y.Scale = plot.InvertedScale{Normalizer: p.Y.Scale}
	p.Add(plotter.NewGrid())

	// A zero field has nothing to normalise arrows against.
	if f.max > 0 {
		arrows := plotter.NewField(f)
		arrows.LineStyle.Width = vg.Points(1)
		arrows.LineStyle.Color = color.RGBA{R: 31, G: 104, B: 142, A: 255}
		p.Add(arrows)
	}

	if len(ms) > 0 {
		pts := make(plotter.XYs, len(ms))
		for i, m := range ms {
			pts[i] = plotter.XY{X: m.Pos.X, Y: m.Pos.Y}
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("measurement scatter: %w", err)
		}
		s.GlyphStyle.Color = color.RGBA{R: 253, G: 231, B: 37, A: 255}
		s.GlyphStyle.Radius = vg.Points(1.5)
		p.Add(s)
		p.Legend.Add("measured", s)
		p.Legend.Top = true
	}

	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("render quiver: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write quiver: %w", err)
	}
	return nil
}
