package report

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/selfcal/internal/selfcal"
)

// SavePSNRPlot writes a PNG of PSNR against step, one line per stage.
// Rolled-back images are drawn as crosses.
func SavePSNRPlot(path string, series []Series) error {
	p := plot.New()
	p.Title.Text = "Self-calibration PSNR"
	p.X.Label.Text = "Step"
	p.Y.Label.Text = "PSNR"
	p.Legend.Top = true

	colors := generateColors(len(series))
	step := 0
	for i, s := range series {
		if len(s.Points) == 0 {
			continue
		}
		kept := make(plotter.XYs, 0, len(s.Points))
		var rejected plotter.XYs
		for _, pt := range s.Points {
			xy := plotter.XY{X: float64(step), Y: pt.PSNR}
			step++
			if pt.Outcome == selfcal.OutcomeRolledBack {
				rejected = append(rejected, xy)
				continue
			}
			kept = append(kept, xy)
		}

		if len(kept) > 0 {
			if err := addStageLine(p, s, kept, colors[i]); err != nil {
				return err
			}
		}

		if len(rejected) > 0 {
			rej, err := plotter.NewScatter(rejected)
			if err != nil {
				return fmt.Errorf("failed to create rollback points for %s: %w", s.Stage, err)
			}
			rej.Color = colors[i]
			rej.Shape = draw.CrossGlyph{}
			rej.Radius = vg.Points(4)
			p.Add(rej)
		}
	}
	if step == 0 {
		return fmt.Errorf("no points to plot")
	}
	p.Add(plotter.NewGrid())

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

func addStageLine(p *plot.Plot, s Series, kept plotter.XYs, c color.Color) error {
	line, err := plotter.NewLine(kept)
	if err != nil {
		return fmt.Errorf("failed to create line for %s: %w", s.Stage, err)
	}
	line.Color = c
	line.Width = vg.Points(1.5)
	points, err := plotter.NewScatter(kept)
	if err != nil {
		return fmt.Errorf("failed to create points for %s: %w", s.Stage, err)
	}
	points.Color = c
	points.Shape = draw.CircleGlyph{}
	p.Add(line, points)
	p.Legend.Add(fmt.Sprintf("%s (%s)", s.Stage, s.CalMode), line, points)
	return nil
}

// generateColors creates a palette of distinct colors for stage lines
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.45)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	c := (1 - math.Abs(2*l-1)) * s
	x := c * (1 - math.Abs(math.Mod(h*6, 2)-1))
	m := l - c/2

	var rf, gf, bf float64
	switch {
	case h < 1.0/6:
		rf, gf, bf = c, x, 0
	case h < 2.0/6:
		rf, gf, bf = x, c, 0
	case h < 3.0/6:
		rf, gf, bf = 0, c, x
	case h < 4.0/6:
		rf, gf, bf = 0, x, c
	case h < 5.0/6:
		rf, gf, bf = x, 0, c
	default:
		rf, gf, bf = c, 0, x
	}
	return uint8((rf + m) * 255), uint8((gf + m) * 255), uint8((bf + m) * 255)
}
