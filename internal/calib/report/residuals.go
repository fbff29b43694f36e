package report

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/distortion/internal/calib/basis"
	"github.com/banshee-data/distortion/internal/calib/exposure"
)

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// ResidualOptions controls the HTML residual page.
type ResidualOptions struct {
	Title      string
	AssetsHost string // echarts asset prefix, library default when empty
}

// Residuals writes an HTML page with two scatters of the fit residuals of
// ms under b: residual magnitude over the image plane, and the residual
// vectors themselves.
func Residuals(w io.Writer, b basis.Basis, extent basis.Extent, ms []exposure.Centroid, o ResidualOptions) error {
	res, rms := basis.Residuals(b, ms)

	title := o.Title
	if title == "" {
		title = "Fit residuals"
	}
	init := opts.Initialization{PageTitle: title, Width: "900px", Height: "900px"}
	if o.AssetsHost != "" {
		init.AssetsHost = o.AssetsHost
	}

	plane := make([]opts.ScatterData, 0, len(res))
	vecs := make([]opts.ScatterData, 0, len(res))
	var maxMag, pad float64
	for i, r := range res {
		mag := r.Norm()
		maxMag = max(maxMag, mag)
		pad = max(pad, math.Abs(r.X), math.Abs(r.Y))
		p := ms[i].Pos
		plane = append(plane, opts.ScatterData{Value: []interface{}{p.X, p.Y, mag}})
		vecs = append(vecs, opts.ScatterData{Value: []interface{}{r.X, r.Y, mag}})
	}
	if pad == 0 {
		pad = 1
	}
	pad *= 1.1

	subtitle := fmt.Sprintf("%s n=%d rms=%.4g px", b.Kind(), len(res), rms)
	visual := opts.VisualMap{
		Show:       opts.Bool(true),
		Calculable: opts.Bool(true),
		Min:        0,
		Max:        float32(maxMag),
		Dimension:  "2",
		InRange:    &opts.VisualMapInRange{Color: viridis},
	}

	planeChart := charts.NewScatter()
	planeChart.SetGlobalOptions(
		charts.WithInitializationOpts(init),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: extent.Width, Name: "x (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: extent.Height, Name: "y (px)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(visual),
	)
	planeChart.AddSeries("|residual|", plane, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))

	vecChart := charts.NewScatter()
	vecChart.SetGlobalOptions(
		charts.WithInitializationOpts(init),
		charts.WithTitleOpts(opts.Title{Title: "Residual vectors", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "dx (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "dy (px)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(visual),
	)
	vecChart.AddSeries("residual", vecs, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))

	page := components.NewPage()
	page.PageTitle = title
	if o.AssetsHost != "" {
		page.SetAssetsHost(o.AssetsHost)
	}
	page.AddCharts(planeChart, vecChart)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render residuals: %w", err)
	}
	return nil
}
