package selfcal

import (
	"context"
	"strconv"
)

// Phasecal solves phase-only gains. Every run images the starting state
// first, even when chained, and applies only the table just solved.
type Phasecal struct {
	*Selfcal
}

var _ Stage = (*Phasecal)(nil)

// NewPhasecal validates cfg and returns a phase calibration stage.
func NewPhasecal(cfg Config, env Env) (*Phasecal, error) {
	s, err := newSelfcal(cfg, env, CalModePhase, false)
	if err != nil {
		return nil, err
	}
	return &Phasecal{Selfcal: s}, nil
}

// Run performs the phase self-calibration loop.
func (p *Phasecal) Run(ctx context.Context) error {
	if err := p.begin(); err != nil {
		return err
	}
	if err := p.saveSelfcal(ctx, "before_selfcal", true); err != nil {
		return err
	}
	p.versions = append(p.versions, "before_selfcal")
	if err := p.imageBaseline(ctx, p.imageName("_original")); err != nil {
		return err
	}

	for i, solint := range p.cfg.Solint {
		caltable := p.caltablePath("pcal", i)
		stop, err := p.iterate(ctx, step{
			index:    i,
			solint:   solint,
			caltable: caltable,
			version:  "before_phasecal_" + strconv.Itoa(i),
			image:    p.imageName("_ph" + strconv.Itoa(i)),
			apply:    []string{caltable},
			yaxis:    "phase",
			plotMin:  -180,
			plotMax:  180,
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
