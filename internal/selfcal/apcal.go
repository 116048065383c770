package selfcal

import (
	"context"
	"strconv"
)

// AmpPhasecal solves amplitude and phase together. When incremental, each
// table is solved and applied on top of the previous one and becomes the
// next iteration's input; otherwise every table stands alone.
type AmpPhasecal struct {
	*Selfcal
	incremental bool
}

var _ Stage = (*AmpPhasecal)(nil)

// NewAmpPhasecal validates cfg and returns an amplitude and phase
// calibration stage. It needs a previous stage or an input caltable; the
// incremental mode also needs the chain to provide a table.
func NewAmpPhasecal(cfg Config, env Env) (*AmpPhasecal, error) {
	if cfg.Previous == nil && cfg.InputCaltable == "" {
		return nil, ErrMissingChainInput
	}
	s, err := newSelfcal(cfg, env, CalModeAmpPhase, true)
	if err != nil {
		return nil, err
	}
	if cfg.Incremental && s.inputCaltable == "" {
		return nil, ErrMissingChainInput
	}
	return &AmpPhasecal{Selfcal: s, incremental: cfg.Incremental}, nil
}

// Incremental reports whether tables chain onto each other.
func (a *AmpPhasecal) Incremental() bool { return a.incremental }

// Run performs the amplitude and phase self-calibration loop.
func (a *AmpPhasecal) Run(ctx context.Context) error {
	if err := a.begin(); err != nil {
		return err
	}
	if err := a.initRun(ctx, a.imageName("_before_ap")); err != nil {
		return err
	}

	for i, solint := range a.cfg.Solint {
		caltable := a.caltablePath("apcal", i)
		st := step{
			index:    i,
			solint:   solint,
			caltable: caltable,
			version:  "before_apcal_" + strconv.Itoa(i),
			image:    a.imageName("_ap" + strconv.Itoa(i)),
			apply:    []string{caltable},
			yaxis:    "amp",
			plotMin:  0,
			plotMax:  2,
		}
		if a.incremental {
			input := a.inputCaltable
			st.prior = []string{input}
			st.apply = []string{input, caltable}
			st.after = func() { a.inputCaltable = caltable }
			st.undo = func() { a.inputCaltable = input }
		}

		stop, err := a.iterate(ctx, st)
		if err != nil {
			return err
		}
		if stop {
			break
		}
	}
	return nil
}
