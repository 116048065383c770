package imager

import (
	"context"
	"fmt"

	"github.com/banshee-data/selfcal/internal/casa"
	"github.com/banshee-data/selfcal/internal/monitoring"
)

// ScriptRunner runs casa statements in one session. casa.Runner satisfies it.
type ScriptRunner interface {
	Exec(ctx context.Context, stmts ...casa.Statement) (string, error)
}

// StatsFunc computes image statistics from exported FITS files.
type StatsFunc func(imagePath, residualPath, estimator string) (Stats, error)

// Clean images with casa's tclean and exports the restored and residual
// images to FITS for measurement. The FITS files must be readable from this
// process, so a remote casa host needs a shared filesystem.
type Clean struct {
	base
	Runner ScriptRunner
	// DryRun skips measuring; Run returns zero Stats.
	DryRun bool
	// Stats defaults to StatsFromFITS.
	Stats StatsFunc
}

// NewClean creates a tclean imager. params is used as is, not copied.
func NewClean(runner ScriptRunner, params *Params) (*Clean, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid imager parameters: %w", err)
	}
	return &Clean{base: base{params: params}, Runner: runner, Stats: StatsFromFITS}, nil
}

// Run images vis into imagename.
func (c *Clean) Run(ctx context.Context, vis, imagename string) (Stats, error) {
	p := c.params
	if err := p.Validate(); err != nil {
		return Stats{}, fmt.Errorf("invalid imager parameters: %w", err)
	}

	imageExt, residualExt := ".image", ".residual"
	if p.Deconvolver == "mtmfs" {
		imageExt, residualExt = ".image.tt0", ".residual.tt0"
	}
	imageFITS := imagename + imageExt + ".fits"
	residualFITS := imagename + residualExt + ".fits"

	stmts := []casa.Statement{
		// tclean resumes from existing products, so start clean.
		casa.NewCall("rmtables", "tablenames", tcleanProducts(imagename)),
		tcleanCall(p, vis, imagename),
		casa.NewCall("exportfits", "imagename", imagename+imageExt, "fitsimage", imageFITS, "overwrite", true),
		casa.NewCall("exportfits", "imagename", imagename+residualExt, "fitsimage", residualFITS, "overwrite", true),
	}
	if _, err := c.Runner.Exec(ctx, stmts...); err != nil {
		return Stats{}, fmt.Errorf("tclean %s: %w", imagename, err)
	}

	if c.DryRun {
		monitoring.Logf("[imager] dry run, no statistics for %s", imagename)
		return Stats{}, nil
	}

	statsFn := c.Stats
	if statsFn == nil {
		statsFn = StatsFromFITS
	}
	s, err := statsFn(imageFITS, residualFITS, p.NoiseEstimator)
	if err != nil {
		return Stats{}, fmt.Errorf("measure %s: %w", imagename, err)
	}
	return s, nil
}

func tcleanProducts(imagename string) []string {
	exts := []string{".image", ".residual", ".model", ".psf", ".pb", ".sumwt", ".mask",
		".image.tt0", ".residual.tt0", ".model.tt0", ".psf.tt0", ".pb.tt0", ".sumwt.tt0"}
	out := make([]string, len(exts))
	for i, e := range exts {
		out[i] = imagename + e
	}
	return out
}

func tcleanCall(p *Params, vis, imagename string) casa.Call {
	c := casa.NewCall("tclean", "vis", vis, "imagename", imagename)
	if p.Field != "" {
		c = c.With("field", p.Field)
	}
	if p.Spw != "" {
		c = c.With("spw", p.Spw)
	}
	if p.PhaseCenter != "" {
		c = c.With("phasecenter", p.PhaseCenter)
	}
	c = c.With("datacolumn", p.DataColumn).
		With("specmode", p.SpecMode).
		With("imsize", p.ImSize).
		With("cell", p.Cell).
		With("deconvolver", p.Deconvolver)
	if len(p.Scales) > 0 {
		c = c.With("scales", p.Scales)
	}
	c = c.With("weighting", p.Weighting)
	if p.Weighting == "briggs" {
		c = c.With("robust", p.Robust)
	}
	c = c.With("niter", p.Niter).With("gain", p.Gain)
	if p.Threshold != "" {
		c = c.With("threshold", p.Threshold)
	}
	if p.NSigma > 0 {
		c = c.With("nsigma", p.NSigma)
	}
	return c.With("savemodel", p.SaveModel).With("interactive", false)
}
