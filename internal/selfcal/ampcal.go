package selfcal

import (
	"context"
	"strconv"
)

// Ampcal solves amplitude-only gains on top of an earlier solution. Each
// iteration applies the original input table together with the new one;
// the input table never advances.
type Ampcal struct {
	*Selfcal
}

var _ Stage = (*Ampcal)(nil)

// NewAmpcal validates cfg and returns an amplitude calibration stage. It
// needs a previous stage or an input caltable, and the chain must provide a
// table to apply on.
func NewAmpcal(cfg Config, env Env) (*Ampcal, error) {
	if cfg.Previous == nil && cfg.InputCaltable == "" {
		return nil, ErrMissingChainInput
	}
	s, err := newSelfcal(cfg, env, CalModeAmp, true)
	if err != nil {
		return nil, err
	}
	if s.inputCaltable == "" {
		return nil, ErrMissingChainInput
	}
	return &Ampcal{Selfcal: s}, nil
}

// Run performs the amplitude self-calibration loop.
func (a *Ampcal) Run(ctx context.Context) error {
	if err := a.begin(); err != nil {
		return err
	}
	if err := a.initRun(ctx, a.imageName("_before_amp")); err != nil {
		return err
	}

	for i, solint := range a.cfg.Solint {
		caltable := a.caltablePath("ampcal", i)
		stop, err := a.iterate(ctx, step{
			index:    i,
			solint:   solint,
			caltable: caltable,
			version:  "before_ampcal_" + strconv.Itoa(i),
			image:    a.imageName("_amp" + strconv.Itoa(i)),
			prior:    []string{a.inputCaltable},
			apply:    []string{a.inputCaltable, caltable},
			yaxis:    "amp",
			plotMin:  0,
			plotMax:  2,
		})
		if err != nil {
			return err
		}
		if stop {
			break
		}
	}
	return nil
}
