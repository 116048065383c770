package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// RenderHTML writes a page with the PSNR and residual noise of every image,
// one line per stage on a shared step axis.
func RenderHTML(w io.Writer, title string, series []Series) error {
	var steps []string
	for _, s := range series {
		for _, pt := range s.Points {
			steps = append(steps, s.Stage+" "+pt.Label())
		}
	}
	if len(steps) == 0 {
		return fmt.Errorf("no points to render")
	}

	psnr := newLine(title, "PSNR", steps)
	noise := newLine("Residual noise", "Jy/beam", steps)

	offset := 0
	for _, s := range series {
		psnrData := gapData(len(steps))
		noiseData := gapData(len(steps))
		for j, pt := range s.Points {
			psnrData[offset+j] = opts.LineData{Value: pt.PSNR, Name: string(pt.Outcome)}
			noiseData[offset+j] = opts.LineData{Value: pt.Stdv, Name: string(pt.Outcome)}
		}
		offset += len(s.Points)

		name := fmt.Sprintf("%s (%s)", s.Stage, s.CalMode)
		psnr.AddSeries(name, psnrData)
		noise.AddSeries(name, noiseData)
	}

	page := components.NewPage()
	page.PageTitle = title
	page.AddCharts(psnr, noise)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}

func newLine(title, yName string, steps []string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "1200px", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Step"}),
		charts.WithYAxisOpts(opts.YAxis{Name: yName, Scale: opts.Bool(true)}),
	)
	line.SetXAxis(steps)
	return line
}

// gapData returns n empty points; echarts skips "-" values.
func gapData(n int) []opts.LineData {
	out := make([]opts.LineData, n)
	for i := range out {
		out[i] = opts.LineData{Value: "-"}
	}
	return out
}
