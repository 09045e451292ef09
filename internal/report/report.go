// Package report renders training results as charts for the HTTP API.
package report

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/expression.report/internal/expression/training"
)

// ErrNoResult is returned when there is no confusion matrix to chart.
var ErrNoResult = errors.New("no training result")

// AssetsHost is where rendered pages load the echarts runtime from. Empty
// means the go-echarts default CDN.
var AssetsHost = ""

var heatmapPalette = []string{"#440154", "#3e4989", "#26828e", "#35b779", "#b5de2b", "#fde725"}

func checkShape(labels []string, confusion mat.Matrix) error {
	if confusion == nil || len(labels) == 0 {
		return ErrNoResult
	}
	r, c := confusion.Dims()
	if r != len(labels) || c != len(labels) {
		return fmt.Errorf("confusion matrix is %dx%d for %d labels", r, c, len(labels))
	}
	return nil
}

// ConfusionHeatmap writes an HTML page with the confusion matrix as an
// echarts heatmap. True labels run down the Y axis, predictions across X.
func ConfusionHeatmap(w io.Writer, labels []string, confusion mat.Matrix, accuracy float64) error {
	if err := checkShape(labels, confusion); err != nil {
		return err
	}

	n := len(labels)
	data := make([]opts.HeatMapData, 0, n*n)
	maxCount := 1.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := confusion.At(i, j)
			if v > maxCount {
				maxCount = v
			}
			data = append(data, opts.HeatMapData{Value: [3]interface{}{j, i, v}})
		}
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Expression confusion matrix", Width: "800px", Height: "700px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Confusion matrix", Subtitle: fmt.Sprintf("labels=%d accuracy=%.2f%%", n, 100*accuracy)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Data: labels, Name: "predicted", NameLocation: "middle", NameGap: 30}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: labels, Name: "true", NameLocation: "middle", NameGap: 60}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxCount),
			InRange:    &opts.VisualMapInRange{Color: heatmapPalette},
		}),
	)
	hm.SetXAxis(labels)
	hm.AddSeries("confusion", data)

	return hm.Render(w)
}

// ErrorRateChart writes a PNG bar chart of the per-label error percentage.
func ErrorRateChart(w io.Writer, labels []string, confusion mat.Matrix) error {
	if err := checkShape(labels, confusion); err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = "Error rate per label"
	p.Y.Label.Text = "error (%)"
	p.Y.Min = 0
	p.Y.Max = 100

	bars, err := plotter.NewBarChart(plotter.Values(training.ErrorRates(confusion)), vg.Points(24))
	if err != nil {
		return fmt.Errorf("build bar chart: %w", err)
	}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalX(labels...)

	wt, err := p.WriterTo(6*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render error chart: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write error chart: %w", err)
	}
	return nil
}
