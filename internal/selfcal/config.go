package selfcal

import (
	"fmt"
	"sort"

	"github.com/banshee-data/selfcal/internal/config"
)

// Config holds the options of one calibration stage. Start from
// DefaultConfig; zero values of the string and count options also fall back
// to the defaults, but a zero MinSNR is kept.
type Config struct {
	Visfile string

	Refant      string
	Spwmap      []int
	MinBlPerAnt int
	GainType    string
	UVRange     string
	Solint      []string
	Combine     string
	MinSNR      float64
	ApplyMode   string
	Interp      string
	// Solnorm normalises amplitude solutions. nil means true for amplitude
	// stages. Phase stages never normalise.
	Solnorm *bool

	FlagMode         string
	FlagDataset      bool
	FlagTimeDevScale float64
	FlagFreqDevScale float64

	RestorePSNR    bool
	SubtractSource bool
	WantPlot       bool

	// CaltableDir is where tables are written; empty means the working directory.
	CaltableDir string
	// PlotDir is where solution plots go; empty means CaltableDir.
	PlotDir string
	// PruneCopies removes dataset copies this stage made once they are no
	// longer current or the rollback target.
	PruneCopies bool

	// VarchangeImager and VarchangeSelfcal override a parameter per
	// iteration; every list must be len(Solint) long.
	VarchangeImager  map[string][]any
	VarchangeSelfcal map[string][]any

	InputCaltable string
	// Incremental selects chained solving for AmpPhasecal.
	Incremental bool

	// DryRun accepts every iteration without a PSNR decision; a dry-run
	// imager reports no statistics to compare.
	DryRun bool

	// Previous is read during construction only.
	Previous Stage
}

// DefaultConfig returns the stock stage options.
func DefaultConfig() Config {
	return Config{
		MinBlPerAnt:      4,
		GainType:         "T",
		MinSNR:           3.0,
		ApplyMode:        "calflag",
		Interp:           "linear",
		FlagMode:         "rflag",
		FlagTimeDevScale: 4.0,
		FlagFreqDevScale: 4.0,
	}
}

var gainTypes = []string{"G", "T", "GSPLINE"}

var applyModes = []string{"calflag", "calflagstrict", "trial", "flagonly", "flagonlystrict", "calonly"}

// solveParams are the options that per-iteration overrides may change.
type solveParams struct {
	Refant           string
	Spwmap           []int
	MinBlPerAnt      int
	GainType         string
	UVRange          string
	Combine          string
	MinSNR           float64
	ApplyMode        string
	Interp           string
	Solnorm          bool
	FlagMode         string
	FlagDataset      bool
	FlagTimeDevScale float64
	FlagFreqDevScale float64
}

func newSolveParams(cfg Config, solnormDefault bool) solveParams {
	d := DefaultConfig()
	p := solveParams{
		Refant:           cfg.Refant,
		Spwmap:           append([]int(nil), cfg.Spwmap...),
		MinBlPerAnt:      cfg.MinBlPerAnt,
		GainType:         cfg.GainType,
		UVRange:          cfg.UVRange,
		Combine:          cfg.Combine,
		MinSNR:           cfg.MinSNR,
		ApplyMode:        cfg.ApplyMode,
		Interp:           cfg.Interp,
		Solnorm:          solnormDefault,
		FlagMode:         cfg.FlagMode,
		FlagDataset:      cfg.FlagDataset,
		FlagTimeDevScale: cfg.FlagTimeDevScale,
		FlagFreqDevScale: cfg.FlagFreqDevScale,
	}
	if cfg.Solnorm != nil {
		p.Solnorm = *cfg.Solnorm
	}
	if p.MinBlPerAnt == 0 {
		p.MinBlPerAnt = d.MinBlPerAnt
	}
	if p.GainType == "" {
		p.GainType = d.GainType
	}
	if p.ApplyMode == "" {
		p.ApplyMode = d.ApplyMode
	}
	if p.Interp == "" {
		p.Interp = d.Interp
	}
	if p.FlagMode == "" {
		p.FlagMode = d.FlagMode
	}
	if p.FlagTimeDevScale == 0 {
		p.FlagTimeDevScale = d.FlagTimeDevScale
	}
	if p.FlagFreqDevScale == 0 {
		p.FlagFreqDevScale = d.FlagFreqDevScale
	}
	return p
}

func (p solveParams) clone() solveParams {
	p.Spwmap = append([]int(nil), p.Spwmap...)
	return p
}

func (p solveParams) validate() error {
	if !contains(gainTypes, p.GainType) {
		return fmt.Errorf("%w: gaintype must be one of %v, got %q", ErrInvalidOption, gainTypes, p.GainType)
	}
	if !contains(applyModes, p.ApplyMode) {
		return fmt.Errorf("%w: applymode must be one of %v, got %q", ErrInvalidOption, applyModes, p.ApplyMode)
	}
	if p.MinBlPerAnt < 1 {
		return fmt.Errorf("%w: minblperant must be positive, got %d", ErrInvalidOption, p.MinBlPerAnt)
	}
	if p.MinSNR < 0 {
		return fmt.Errorf("%w: minsnr must be non-negative, got %g", ErrInvalidOption, p.MinSNR)
	}
	return nil
}

// SelfcalParamNames lists the keys accepted in VarchangeSelfcal.
func SelfcalParamNames() []string {
	names := make([]string, 0, len(selfcalSetters))
	for n := range selfcalSetters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var selfcalSetters = map[string]func(p *solveParams, v any) error{
	"refant": func(p *solveParams, v any) (err error) {
		p.Refant, err = config.AsString(v)
		return err
	},
	"spwmap": func(p *solveParams, v any) (err error) {
		p.Spwmap, err = config.AsIntSlice(v)
		return err
	},
	"minblperant": func(p *solveParams, v any) (err error) {
		p.MinBlPerAnt, err = config.AsInt(v)
		return err
	},
	"gaintype": func(p *solveParams, v any) (err error) {
		p.GainType, err = config.AsString(v)
		return err
	},
	"uvrange": func(p *solveParams, v any) (err error) {
		p.UVRange, err = config.AsString(v)
		return err
	},
	"combine": func(p *solveParams, v any) (err error) {
		p.Combine, err = config.AsString(v)
		return err
	},
	"minsnr": func(p *solveParams, v any) (err error) {
		p.MinSNR, err = config.AsFloat(v)
		return err
	},
	"applymode": func(p *solveParams, v any) (err error) {
		p.ApplyMode, err = config.AsString(v)
		return err
	},
	"interp": func(p *solveParams, v any) (err error) {
		p.Interp, err = config.AsString(v)
		return err
	},
	"solnorm": func(p *solveParams, v any) (err error) {
		p.Solnorm, err = config.AsBool(v)
		return err
	},
	"flag_mode": func(p *solveParams, v any) (err error) {
		p.FlagMode, err = config.AsString(v)
		return err
	},
	"flag_dataset": func(p *solveParams, v any) (err error) {
		p.FlagDataset, err = config.AsBool(v)
		return err
	},
	"flag_timedevscale": func(p *solveParams, v any) (err error) {
		p.FlagTimeDevScale, err = config.AsFloat(v)
		return err
	},
	"flag_freqdevscale": func(p *solveParams, v any) (err error) {
		p.FlagFreqDevScale, err = config.AsFloat(v)
		return err
	},
}

func (p *solveParams) set(name string, v any) error {
	setter, ok := selfcalSetters[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownVarchange, name)
	}
	if err := setter(p, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidOption, name, err)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string][]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
