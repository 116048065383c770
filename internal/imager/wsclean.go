package imager

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/selfcal/internal/command"
	"github.com/banshee-data/selfcal/internal/monitoring"
)

// WSClean images with the wsclean binary, which writes FITS directly.
type WSClean struct {
	base
	Executor *command.Executor
	Binary   string
	Stats    StatsFunc
}

// NewWSClean creates a wsclean imager. params is used as is, not copied.
func NewWSClean(exec *command.Executor, binary string, params *Params) (*WSClean, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid imager parameters: %w", err)
	}
	if params.Deconvolver == "mtmfs" {
		return nil, fmt.Errorf("invalid imager parameters: wsclean does not support deconvolver mtmfs")
	}
	if binary == "" {
		binary = "wsclean"
	}
	return &WSClean{base: base{params: params}, Executor: exec, Binary: binary, Stats: StatsFromFITS}, nil
}

// Run images vis into imagename.
func (w *WSClean) Run(ctx context.Context, vis, imagename string) (Stats, error) {
	p := w.params
	if err := p.Validate(); err != nil {
		return Stats{}, fmt.Errorf("invalid imager parameters: %w", err)
	}
	args, err := wscleanArgs(p, vis, imagename)
	if err != nil {
		return Stats{}, err
	}
	if p.Spw != "" {
		monitoring.Logf("[imager] wsclean ignores spw selection %q", p.Spw)
	}

	cmd := command.ShellJoin(append([]string{w.Binary}, args...)...)
	if out, err := w.Executor.Run(ctx, cmd); err != nil {
		return Stats{}, fmt.Errorf("wsclean %s: %w: %s", imagename, err, lastLine(out))
	}
	if w.Executor.DryRun {
		return Stats{}, nil
	}

	statsFn := w.Stats
	if statsFn == nil {
		statsFn = StatsFromFITS
	}
	s, err := statsFn(imagename+"-image.fits", imagename+"-residual.fits", p.NoiseEstimator)
	if err != nil {
		return Stats{}, fmt.Errorf("measure %s: %w", imagename, err)
	}
	return s, nil
}

func wscleanArgs(p *Params, vis, imagename string) ([]string, error) {
	scale, err := wscleanScale(p.Cell)
	if err != nil {
		return nil, err
	}

	args := []string{
		"-name", imagename,
		"-size", strconv.Itoa(p.ImSize[0]), strconv.Itoa(p.ImSize[1]),
		"-scale", scale,
		"-niter", strconv.Itoa(p.Niter),
		"-gain", formatFloat(p.Gain),
	}

	switch p.Weighting {
	case "briggs":
		args = append(args, "-weight", "briggs", formatFloat(p.Robust))
	default:
		args = append(args, "-weight", p.Weighting)
	}

	if p.Threshold != "" {
		jy, err := parseFluxJy(p.Threshold)
		if err != nil {
			return nil, err
		}
		args = append(args, "-threshold", formatFloat(jy))
	}
	if p.NSigma > 0 {
		args = append(args, "-auto-threshold", formatFloat(p.NSigma))
	}
	if p.Deconvolver == "multiscale" {
		scales := make([]string, len(p.Scales))
		for i, s := range p.Scales {
			scales[i] = strconv.Itoa(s)
		}
		args = append(args, "-multiscale", "-multiscale-scales", strings.Join(scales, ","))
	}
	if p.Field != "" {
		args = append(args, "-field", p.Field)
	}
	if p.PhaseCenter != "" {
		ra, dec, err := splitPhaseCenter(p.PhaseCenter)
		if err != nil {
			return nil, err
		}
		args = append(args, "-shift", ra, dec)
	}

	column := "DATA"
	if p.DataColumn == "corrected" {
		column = "CORRECTED_DATA"
	}
	args = append(args, "-data-column", column)
	if p.SaveModel == "none" {
		args = append(args, "-no-update-model-required")
	}

	return append(args, vis), nil
}

// wscleanScale converts a casa cell ("0.05arcsec") to wsclean's unit names.
func wscleanScale(cell string) (string, error) {
	units := []struct{ casa, wsclean string }{
		{"arcsec", "asec"},
		{"arcmin", "amin"},
		{"deg", "deg"},
	}
	for _, u := range units {
		if strings.HasSuffix(cell, u.casa) {
			v := strings.TrimSpace(strings.TrimSuffix(cell, u.casa))
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				return "", fmt.Errorf("invalid cell %q", cell)
			}
			return v + u.wsclean, nil
		}
	}
	return "", fmt.Errorf("invalid cell %q: unit must be arcsec, arcmin or deg", cell)
}

// parseFluxJy parses a casa flux quantity such as "0.1mJy" into Jy.
func parseFluxJy(q string) (float64, error) {
	units := []struct {
		suffix  string
		divisor float64
	}{
		{"uJy", 1e6},
		{"mJy", 1e3},
		{"Jy", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(q, u.suffix) {
			v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(q, u.suffix)), 64)
			if err != nil {
				return 0, fmt.Errorf("invalid threshold %q", q)
			}
			return v / u.divisor, nil
		}
	}
	return 0, fmt.Errorf("invalid threshold %q: unit must be Jy, mJy or uJy", q)
}

// splitPhaseCenter extracts RA and Dec from "J2000 19h24m51.05 -29d14m30.1".
func splitPhaseCenter(pc string) (string, string, error) {
	fields := strings.Fields(pc)
	if len(fields) == 3 {
		fields = fields[1:]
	}
	if len(fields) != 2 {
		return "", "", fmt.Errorf("invalid phasecenter %q", pc)
	}
	return fields[0], fields[1], nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func lastLine(out string) string {
	out = strings.TrimSpace(out)
	if i := strings.LastIndexByte(out, '\n'); i >= 0 {
		return out[i+1:]
	}
	return out
}
