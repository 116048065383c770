package selfcal

import (
	"context"
	"fmt"
	"strings"

	"github.com/banshee-data/selfcal/internal/casa"
	"github.com/banshee-data/selfcal/internal/monitoring"
)

// OutputOptions control Output.
type OutputOptions struct {
	// Overwrite replaces existing output datasets.
	Overwrite bool
	// StatWt also writes a reweighted copy of the output.
	StatWt bool
}

// OutputResult names the datasets Output wrote.
type OutputResult struct {
	Vis       string
	StatWtVis string
}

// OutputPath returns the split dataset name for vis.
func OutputPath(vis string) string {
	return strings.TrimSuffix(vis, ".ms") + ".selfcal.ms"
}

// StatWtPath returns the reweighted copy name for an output dataset.
func StatWtPath(outputVis string) string {
	return strings.TrimSuffix(outputVis, ".ms") + "_statwt.ms"
}

// Output splits the corrected column of the current dataset into a new
// dataset. With SubtractSource the model is subtracted from the live dataset
// first.
func (s *Selfcal) Output(ctx context.Context, opts OutputOptions) (*OutputResult, error) {
	if !s.ran {
		return nil, ErrNotRun
	}
	if s.cfg.SubtractSource {
		if err := s.env.Toolkit.UVSub(ctx, s.visfile); err != nil {
			return nil, fmt.Errorf("uvsub %s: %w", s.visfile, err)
		}
	}

	outputVis := OutputPath(s.visfile)
	if err := s.clearOutput(outputVis, opts.Overwrite); err != nil {
		return nil, err
	}
	if err := s.env.Toolkit.Split(ctx, s.visfile, outputVis, "corrected"); err != nil {
		return nil, fmt.Errorf("split %s: %w", s.visfile, err)
	}
	monitoring.Logf("[selfcal] Wrote %s", outputVis)
	res := &OutputResult{Vis: outputVis}

	if !opts.StatWt {
		return res, nil
	}
	statwtVis := StatWtPath(outputVis)
	if err := s.clearOutput(statwtVis, opts.Overwrite); err != nil {
		return nil, err
	}
	if err := s.env.FS.CopyDir(outputVis, statwtVis); err != nil {
		return nil, fmt.Errorf("copy %s to %s: %w", outputVis, statwtVis, err)
	}
	if err := s.env.Toolkit.StatWt(ctx, statwtVis, strings.ToLower(casa.ColumnData)); err != nil {
		return nil, fmt.Errorf("statwt %s: %w", statwtVis, err)
	}
	monitoring.Logf("[selfcal] Wrote %s", statwtVis)
	res.StatWtVis = statwtVis
	return res, nil
}

func (s *Selfcal) clearOutput(path string, overwrite bool) error {
	if !s.env.FS.Exists(path) {
		return nil
	}
	if !overwrite {
		return fmt.Errorf("%w: %s", ErrOutputExists, path)
	}
	if err := s.env.FS.RemoveAll(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
