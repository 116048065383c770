package imager

import (
	"fmt"
	"sort"

	"github.com/banshee-data/selfcal/internal/config"
)

// Noise estimators for the residual image.
const (
	NoiseStd = "std"
	NoiseRMS = "rms"
	NoiseMAD = "mad"
)

// Params is the imaging configuration shared by all backends. Names in Set
// and IsParam follow tclean's keyword names.
type Params struct {
	Field          string
	Spw            string
	PhaseCenter    string
	Output         string
	ImSize         []int
	Cell           string
	Niter          int
	Threshold      string
	NSigma         float64
	Weighting      string
	Robust         float64
	Gain           float64
	Deconvolver    string
	Scales         []int
	SpecMode       string
	DataColumn     string
	SaveModel      string
	NoiseEstimator string
}

// DefaultParams returns parameters for a shallow continuum image. Output and
// Cell depend on the observation and have no useful default.
func DefaultParams() *Params {
	return &Params{
		ImSize:         []int{512, 512},
		Niter:          100,
		Weighting:      "briggs",
		Robust:         0.5,
		Gain:           0.1,
		Deconvolver:    "hogbom",
		SpecMode:       "mfs",
		DataColumn:     "corrected",
		SaveModel:      "modelcolumn",
		NoiseEstimator: NoiseStd,
	}
}

// Clone returns a deep copy.
func (p *Params) Clone() *Params {
	c := *p
	c.ImSize = append([]int(nil), p.ImSize...)
	c.Scales = append([]int(nil), p.Scales...)
	return &c
}

var paramNames = map[string]bool{
	"field":           true,
	"spw":             true,
	"phasecenter":     true,
	"output":          true,
	"imsize":          true,
	"cell":            true,
	"niter":           true,
	"threshold":       true,
	"nsigma":          true,
	"weighting":       true,
	"robust":          true,
	"gain":            true,
	"deconvolver":     true,
	"scales":          true,
	"specmode":        true,
	"datacolumn":      true,
	"savemodel":       true,
	"noise_estimator": true,
}

// IsParam reports whether name is a settable imaging parameter.
func IsParam(name string) bool {
	return paramNames[name]
}

// ParamNames returns the settable parameter names, sorted.
func ParamNames() []string {
	out := make([]string, 0, len(paramNames))
	for n := range paramNames {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Set assigns one parameter by name. Values may be any of the loose types
// accepted by the config.As* helpers.
func (p *Params) Set(name string, value any) error {
	var err error
	switch name {
	case "field":
		p.Field, err = config.AsString(value)
	case "spw":
		p.Spw, err = config.AsString(value)
	case "phasecenter":
		p.PhaseCenter, err = config.AsString(value)
	case "output":
		p.Output, err = config.AsString(value)
	case "imsize":
		var size []int
		size, err = config.AsIntSlice(value)
		if err == nil && len(size) == 1 {
			size = []int{size[0], size[0]}
		}
		p.ImSize = size
	case "cell":
		p.Cell, err = config.AsString(value)
	case "niter":
		p.Niter, err = config.AsInt(value)
	case "threshold":
		p.Threshold, err = config.AsString(value)
	case "nsigma":
		p.NSigma, err = config.AsFloat(value)
	case "weighting":
		p.Weighting, err = config.AsString(value)
	case "robust":
		p.Robust, err = config.AsFloat(value)
	case "gain":
		p.Gain, err = config.AsFloat(value)
	case "deconvolver":
		p.Deconvolver, err = config.AsString(value)
	case "scales":
		p.Scales, err = config.AsIntSlice(value)
	case "specmode":
		p.SpecMode, err = config.AsString(value)
	case "datacolumn":
		p.DataColumn, err = config.AsString(value)
	case "savemodel":
		p.SaveModel, err = config.AsString(value)
	case "noise_estimator":
		p.NoiseEstimator, err = config.AsString(value)
	default:
		return fmt.Errorf("unknown imager parameter %q", name)
	}
	if err != nil {
		return fmt.Errorf("imager parameter %s: %w", name, err)
	}
	return nil
}

// Validate checks the parameters before any imaging is attempted.
func (p *Params) Validate() error {
	if p.Output == "" {
		return fmt.Errorf("output must be set")
	}
	if p.Cell == "" {
		return fmt.Errorf("cell must be set")
	}
	if len(p.ImSize) != 2 || p.ImSize[0] <= 0 || p.ImSize[1] <= 0 {
		return fmt.Errorf("imsize must be two positive integers, got %v", p.ImSize)
	}
	if p.Niter < 0 {
		return fmt.Errorf("niter must be non-negative, got %d", p.Niter)
	}
	if p.Gain <= 0 || p.Gain > 1 {
		return fmt.Errorf("gain must be in (0, 1], got %g", p.Gain)
	}
	if p.NSigma < 0 {
		return fmt.Errorf("nsigma must be non-negative, got %g", p.NSigma)
	}
	if err := oneOf("weighting", p.Weighting, "natural", "uniform", "briggs"); err != nil {
		return err
	}
	if err := oneOf("deconvolver", p.Deconvolver, "hogbom", "clark", "multiscale", "mtmfs"); err != nil {
		return err
	}
	if p.Deconvolver == "multiscale" && len(p.Scales) == 0 {
		return fmt.Errorf("multiscale deconvolver needs scales")
	}
	if err := oneOf("specmode", p.SpecMode, "mfs", "cont", "cube"); err != nil {
		return err
	}
	if err := oneOf("datacolumn", p.DataColumn, "data", "corrected"); err != nil {
		return err
	}
	if err := oneOf("savemodel", p.SaveModel, "none", "virtual", "modelcolumn"); err != nil {
		return err
	}
	return oneOf("noise_estimator", p.NoiseEstimator, NoiseStd, NoiseRMS, NoiseMAD)
}

func oneOf(name, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %v, got %q", name, allowed, value)
}
