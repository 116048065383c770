package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/selfcal/internal/monitoring"
	"github.com/banshee-data/selfcal/internal/report"
	"github.com/banshee-data/selfcal/internal/security"
)

// ReportPaths returns the PNG and HTML report paths for a run name.
func ReportPaths(dir, name string) (png, html string) {
	base := security.SanitizeName(name)
	return filepath.Join(dir, base+"_psnr.png"), filepath.Join(dir, base+"_report.html")
}

// writeReports renders the PSNR plot and the HTML page into dir.
func writeReports(ctx context.Context, dir, name string, series []report.Series) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	pngPath, htmlPath := ReportPaths(dir, name)
	for _, p := range []string{pngPath, htmlPath} {
		if err := security.ValidatePathWithinDirectory(p, dir); err != nil {
			return nil, fmt.Errorf("report path: %w", err)
		}
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		return report.SavePSNRPlot(pngPath, series)
	})
	g.Go(func() error {
		f, err := os.Create(htmlPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", htmlPath, err)
		}
		if err := report.RenderHTML(f, name+" self-calibration", series); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	monitoring.Logf("[pipeline] Wrote %s and %s", pngPath, htmlPath)
	return []string{pngPath, htmlPath}, nil
}
