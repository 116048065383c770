// Package selfcal runs iterative self-calibration of a visibility dataset.
//
// A stage solves gains for each solution interval in turn, applies them,
// re-images and compares the peak signal-to-noise ratio with the previous
// image. When RestorePSNR is set a regression restores the flag snapshot
// taken before the apply and ends the stage early; an improvement is
// committed by copying the dataset so the next iteration has a clean
// rollback target.
//
// Phasecal, Ampcal and AmpPhasecal differ in the calibration mode and in how
// they chain onto an earlier stage's solution.
package selfcal

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/selfcal/internal/casa"
	"github.com/banshee-data/selfcal/internal/fsutil"
	"github.com/banshee-data/selfcal/internal/imager"
	"github.com/banshee-data/selfcal/internal/monitoring"
)

// Calibration modes.
const (
	CalModePhase    = "p"
	CalModeAmp      = "a"
	CalModeAmpPhase = "ap"
)

// Outcome describes what happened to an imaged state.
type Outcome string

const (
	OutcomeBaseline   Outcome = "baseline"
	OutcomeCommitted  Outcome = "committed"
	OutcomeAccepted   Outcome = "accepted"
	OutcomeRolledBack Outcome = "rolled_back"
)

// IterationResult is reported to the Observer after every image. Index is -1
// for the baseline image.
type IterationResult struct {
	CalMode  string
	Index    int
	Solint   string
	Caltable string
	Version  string
	Image    string
	Visfile  string
	Stats    imager.Stats
	Outcome  Outcome
}

// Observer receives iteration results as they happen.
type Observer interface {
	IterationDone(r IterationResult)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(r IterationResult)

func (f ObserverFunc) IterationDone(r IterationResult) { f(r) }

// Env holds the collaborators a stage drives.
type Env struct {
	Imager  imager.Imager
	Toolkit casa.Toolkit
	// FS defaults to the OS filesystem.
	FS       fsutil.FileSystem
	Observer Observer
}

// Stage is one self-calibration stage.
type Stage interface {
	Run(ctx context.Context) error
	Output(ctx context.Context, opts OutputOptions) (*OutputResult, error)

	CalMode() string
	Visfile() string
	Caltables() []string
	PSNRHistory() []float64
	InputCaltable() string
	Applied() []string
	Stopped() bool
}

// Selfcal holds the state shared by the calibration strategies.
type Selfcal struct {
	cfg     Config
	env     Env
	calmode string
	params  solveParams

	visfile       string
	baseVis       string
	backup        string
	inputCaltable string
	chained       bool
	// applied is the table list whose solutions the current dataset carries;
	// priorApplied is the list before the running iteration.
	applied      []string
	priorApplied []string

	caltables []string
	versions  []string
	psnr      []float64
	copies    []string

	ran     bool
	stopped bool
}

func newSelfcal(cfg Config, env Env, calmode string, solnormDefault bool) (*Selfcal, error) {
	if env.Imager == nil {
		return nil, ErrNilImager
	}
	if env.Toolkit == nil {
		return nil, ErrNilToolkit
	}
	if env.FS == nil {
		env.FS = fsutil.OSFileSystem{}
	}

	previous := cfg.Previous
	cfg.Previous = nil

	if cfg.Visfile == "" && previous != nil {
		cfg.Visfile = previous.Visfile()
	}
	if cfg.Visfile == "" {
		return nil, ErrEmptyVisfile
	}
	if len(cfg.Solint) == 0 {
		return nil, ErrNoSolint
	}
	cfg.Solint = append([]string(nil), cfg.Solint...)

	s := &Selfcal{
		cfg:     cfg,
		env:     env,
		calmode: calmode,
		params:  newSolveParams(cfg, solnormDefault),
		visfile: cfg.Visfile,
		baseVis: cfg.Visfile,
		backup:  cfg.Visfile,
	}
	if calmode == CalModePhase {
		s.params.Solnorm = false
	}
	if err := s.params.validate(); err != nil {
		return nil, err
	}
	if err := s.validateVarchange(); err != nil {
		return nil, err
	}

	s.initSelfcal(previous)
	if cfg.InputCaltable != "" {
		s.inputCaltable = cfg.InputCaltable
	}
	if s.inputCaltable != "" && !env.FS.Exists(s.inputCaltable) {
		return nil, fmt.Errorf("%w: %s", ErrCaltableNotFound, s.inputCaltable)
	}
	if cfg.SubtractSource && env.Imager.PhaseCenter() == "" {
		return nil, ErrSubtractSourcePhaseCenter
	}
	return s, nil
}

// initSelfcal seeds the chain input from the previous stage. Only the last
// caltable and the last PSNR are read; the previous stage is not kept.
func (s *Selfcal) initSelfcal(previous Stage) {
	if previous == nil {
		return
	}
	s.chained = true
	s.applied = previous.Applied()
	if tables := previous.Caltables(); len(tables) > 0 {
		s.inputCaltable = tables[len(tables)-1]
	}
	if h := previous.PSNRHistory(); len(h) > 0 {
		s.psnr = []float64{h[len(h)-1]}
	}
}

func (s *Selfcal) validateVarchange() error {
	loops := len(s.cfg.Solint)
	for _, name := range sortedKeys(s.cfg.VarchangeImager) {
		if !imager.IsParam(name) {
			return fmt.Errorf("%w: imager parameter %q", ErrUnknownVarchange, name)
		}
		if n := len(s.cfg.VarchangeImager[name]); n != loops {
			return fmt.Errorf("%w: varchange_imager[%s] has %d values for %d solints", ErrVarchangeLength, name, n, loops)
		}
	}
	for _, name := range sortedKeys(s.cfg.VarchangeSelfcal) {
		if _, ok := selfcalSetters[name]; !ok {
			return fmt.Errorf("%w: selfcal parameter %q", ErrUnknownVarchange, name)
		}
		if n := len(s.cfg.VarchangeSelfcal[name]); n != loops {
			return fmt.Errorf("%w: varchange_selfcal[%s] has %d values for %d solints", ErrVarchangeLength, name, n, loops)
		}
	}

	// Dry-run every iteration's overrides on scratch copies.
	for i := 0; i < loops; i++ {
		if len(s.cfg.VarchangeImager) > 0 {
			p := s.env.Imager.Params().Clone()
			for _, name := range sortedKeys(s.cfg.VarchangeImager) {
				if err := p.Set(name, s.cfg.VarchangeImager[name][i]); err != nil {
					return fmt.Errorf("%w: iteration %d: %v", ErrInvalidOption, i, err)
				}
			}
			if err := p.Validate(); err != nil {
				return fmt.Errorf("%w: iteration %d: %v", ErrInvalidOption, i, err)
			}
		}
		if len(s.cfg.VarchangeSelfcal) > 0 {
			p := s.params.clone()
			for _, name := range sortedKeys(s.cfg.VarchangeSelfcal) {
				if err := p.set(name, s.cfg.VarchangeSelfcal[name][i]); err != nil {
					return fmt.Errorf("iteration %d: %w", i, err)
				}
			}
			if err := p.validate(); err != nil {
				return fmt.Errorf("iteration %d: %w", i, err)
			}
		}
	}
	return nil
}

// CalMode returns "p", "a" or "ap".
func (s *Selfcal) CalMode() string { return s.calmode }

// Visfile returns the current dataset path.
func (s *Selfcal) Visfile() string { return s.visfile }

// InputCaltable returns the table the stage chains onto, if any.
func (s *Selfcal) InputCaltable() string { return s.inputCaltable }

// Applied returns a copy of the tables last applied to the current dataset.
func (s *Selfcal) Applied() []string { return append([]string(nil), s.applied...) }

// Stopped reports whether the stage ended early on a PSNR regression.
func (s *Selfcal) Stopped() bool { return s.stopped }

// Loops returns the number of configured solution intervals.
func (s *Selfcal) Loops() int { return len(s.cfg.Solint) }

// Caltables returns a copy of the surviving calibration tables.
func (s *Selfcal) Caltables() []string { return append([]string(nil), s.caltables...) }

// CaltableVersions returns a copy of the flag snapshot names.
func (s *Selfcal) CaltableVersions() []string { return append([]string(nil), s.versions...) }

// PSNRHistory returns a copy of the PSNR history.
func (s *Selfcal) PSNRHistory() []float64 { return append([]float64(nil), s.psnr...) }

func (s *Selfcal) begin() error {
	if s.ran {
		return ErrAlreadyRun
	}
	s.ran = true
	return nil
}

func (s *Selfcal) notify(r IterationResult) {
	if s.env.Observer == nil {
		return
	}
	r.CalMode = s.calmode
	s.env.Observer.IterationDone(r)
}

// applyVarchange sets iteration i's overrides. Values were checked at
// construction.
func (s *Selfcal) applyVarchange(i int) error {
	for _, name := range sortedKeys(s.cfg.VarchangeImager) {
		if err := s.env.Imager.Params().Set(name, s.cfg.VarchangeImager[name][i]); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(s.cfg.VarchangeSelfcal) {
		if err := s.params.set(name, s.cfg.VarchangeSelfcal[name][i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Selfcal) caltablePath(prefix string, i int) string {
	return filepath.Join(s.cfg.CaltableDir, prefix+strconv.Itoa(i))
}

func (s *Selfcal) imageName(suffix string) string {
	return s.env.Imager.Output() + suffix
}

// isModelInDataset reports whether the dataset has a MODEL_DATA column.
func (s *Selfcal) isModelInDataset(ctx context.Context) (bool, error) {
	cols, err := s.env.Toolkit.ColumnNames(ctx, s.visfile)
	if err != nil {
		return false, fmt.Errorf("colnames %s: %w", s.visfile, err)
	}
	for _, c := range cols {
		if c == casa.ColumnModel {
			return true, nil
		}
	}
	return false, nil
}

// initRun images the starting state unless a chained dataset already
// carries a model. The baseline replaces any inherited history.
func (s *Selfcal) initRun(ctx context.Context, imagename string) error {
	if s.chained {
		hasModel, err := s.isModelInDataset(ctx)
		if err != nil {
			return err
		}
		if hasModel {
			return nil
		}
	}
	return s.imageBaseline(ctx, imagename)
}

func (s *Selfcal) imageBaseline(ctx context.Context, imagename string) error {
	stats, err := s.image(ctx, imagename)
	if err != nil {
		return err
	}
	s.psnr = []float64{stats.PSNR}
	monitoring.Logf("[selfcal] Baseline %s - PSNR: %v", imagename, stats.PSNR)
	s.notify(IterationResult{
		Index:   -1,
		Image:   imagename,
		Visfile: s.visfile,
		Stats:   stats,
		Outcome: OutcomeBaseline,
	})
	return nil
}

func (s *Selfcal) image(ctx context.Context, imagename string) (imager.Stats, error) {
	stats, err := s.env.Imager.Run(ctx, s.visfile, imagename)
	if err != nil {
		return imager.Stats{}, fmt.Errorf("image %s: %w", imagename, err)
	}
	return stats, nil
}

// solve writes a fresh caltable, replacing any table of the same name.
func (s *Selfcal) solve(ctx context.Context, caltable, solint string, prior []string) error {
	if err := s.env.Toolkit.RmTables(ctx, caltable); err != nil {
		return fmt.Errorf("rmtables %s: %w", caltable, err)
	}
	p := casa.GainCalParams{
		Vis:         s.visfile,
		Caltable:    caltable,
		Field:       s.env.Imager.Field(),
		Spw:         s.env.Imager.Spw(),
		UVRange:     s.params.UVRange,
		GainType:    s.params.GainType,
		Refant:      s.params.Refant,
		CalMode:     s.calmode,
		Combine:     s.params.Combine,
		Solint:      solint,
		MinSNR:      s.params.MinSNR,
		MinBlPerAnt: s.params.MinBlPerAnt,
		Solnorm:     s.params.Solnorm,
	}
	if len(prior) > 0 {
		p.GainTable = prior
		p.SpwMap = s.spwMaps(len(prior))
	}
	if err := s.env.Toolkit.GainCal(ctx, p); err != nil {
		return fmt.Errorf("gaincal %s: %w", filepath.Base(caltable), err)
	}

	rows, err := s.env.Toolkit.NRows(ctx, caltable)
	if err != nil {
		return fmt.Errorf("nrows %s: %w", caltable, err)
	}
	if rows == 0 {
		monitoring.Logf("[selfcal] Warning: %s has no solutions", caltable)
	}
	return nil
}

func (s *Selfcal) plot(ctx context.Context, caltable, yaxis string, plotRange []float64) error {
	if !s.cfg.WantPlot {
		return nil
	}
	dir := s.cfg.PlotDir
	if dir == "" {
		dir = s.cfg.CaltableDir
	}
	p := casa.PlotCalParams{
		Caltable:  caltable,
		XAxis:     "time",
		YAxis:     yaxis,
		PlotRange: plotRange,
		FigFile:   filepath.Join(dir, filepath.Base(caltable)+"_"+yaxis+".png"),
	}
	if err := s.env.Toolkit.PlotCal(ctx, p); err != nil {
		return fmt.Errorf("plot %s: %w", caltable, err)
	}
	return nil
}

func (s *Selfcal) apply(ctx context.Context, tables []string) error {
	p := casa.ApplyCalParams{
		Vis:       s.visfile,
		Field:     s.env.Imager.Field(),
		Spw:       s.env.Imager.Spw(),
		GainTable: tables,
		SpwMap:    s.spwMaps(len(tables)),
		Interp:    s.params.Interp,
		ApplyMode: s.params.ApplyMode,
	}
	if err := s.env.Toolkit.ApplyCal(ctx, p); err != nil {
		return fmt.Errorf("applycal %s: %w", strings.Join(tables, ","), err)
	}
	return nil
}

// spwMaps repeats the spw map once per applied table.
func (s *Selfcal) spwMaps(n int) [][]int {
	if len(s.params.Spwmap) == 0 {
		return nil
	}
	out := make([][]int, n)
	for i := range out {
		out[i] = append([]int(nil), s.params.Spwmap...)
	}
	return out
}

// flagDataset flags outliers of the calibrated residual when enabled.
func (s *Selfcal) flagDataset(ctx context.Context) error {
	if !s.params.FlagDataset {
		return nil
	}
	p := casa.FlagDataParams{
		Vis:          s.visfile,
		Field:        s.env.Imager.Field(),
		Spw:          s.env.Imager.Spw(),
		Mode:         s.params.FlagMode,
		DataColumn:   "residual",
		TimeDevScale: s.params.FlagTimeDevScale,
		FreqDevScale: s.params.FlagFreqDevScale,
		Action:       "apply",
		FlagBackup:   true,
	}
	if err := s.env.Toolkit.FlagData(ctx, p); err != nil {
		return fmt.Errorf("flagdata %s: %w", s.visfile, err)
	}
	return nil
}

// step is one solve/apply/image cycle of a strategy.
type step struct {
	index    int
	solint   string
	caltable string
	version  string
	image    string
	prior    []string
	apply    []string
	yaxis    string
	plotMax  float64
	plotMin  float64
	// after runs once the tables are applied.
	after func()
	// undo runs when the iteration is rolled back.
	undo func()
}

// iterate runs one cycle and reports whether the stage must stop.
func (s *Selfcal) iterate(ctx context.Context, st step) (bool, error) {
	if err := s.applyVarchange(st.index); err != nil {
		return false, err
	}
	if err := s.solve(ctx, st.caltable, st.solint, st.prior); err != nil {
		return false, err
	}
	s.caltables = append(s.caltables, st.caltable)

	if err := s.plot(ctx, st.caltable, st.yaxis, []float64{0, 0, st.plotMin, st.plotMax}); err != nil {
		return false, err
	}

	if err := s.saveSelfcal(ctx, st.version, true); err != nil {
		return false, err
	}
	s.versions = append(s.versions, st.version)

	if err := s.apply(ctx, st.apply); err != nil {
		return false, err
	}
	s.priorApplied = s.applied
	s.applied = append([]string(nil), st.apply...)
	if st.after != nil {
		st.after()
	}
	if err := s.flagDataset(ctx); err != nil {
		return false, err
	}

	stats, err := s.image(ctx, st.image)
	if err != nil {
		return false, err
	}
	s.psnr = append(s.psnr, stats.PSNR)
	monitoring.Logf("[selfcal] Solint: %s - PSNR: %v", st.solint, stats.PSNR)
	monitoring.Logf("[selfcal] Noise: %v - Peak: %v", stats.Stdv, stats.Peak)

	return s.finishIteration(ctx, st, stats)
}
