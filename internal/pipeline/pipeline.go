// Package pipeline builds a chain of self-calibration stages from a pipeline
// configuration and runs it, recording every stage and iteration.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/banshee-data/selfcal/internal/casa"
	"github.com/banshee-data/selfcal/internal/config"
	"github.com/banshee-data/selfcal/internal/fsutil"
	"github.com/banshee-data/selfcal/internal/imager"
	"github.com/banshee-data/selfcal/internal/monitoring"
	"github.com/banshee-data/selfcal/internal/report"
	"github.com/banshee-data/selfcal/internal/selfcal"
	"github.com/banshee-data/selfcal/internal/store"
)

// Options supplies the collaborators a Pipeline drives. Nil Toolkit and
// Imager are built from the configuration by New.
type Options struct {
	Toolkit casa.Toolkit
	Imager  imager.Imager
	// FS defaults to the OS filesystem.
	FS fsutil.FileSystem
	// Store, when set, receives run, stage and iteration records.
	Store *store.Store
	// Verbose enables command-level debug logging.
	Verbose bool
}

// Pipeline runs the configured stages in order, each chained onto the last.
type Pipeline struct {
	cfg  *config.PipelineConfig
	opts Options
	last selfcal.Stage
}

// StageSummary is the final state of one stage.
type StageSummary struct {
	CalMode   string
	Visfile   string
	Caltables []string
	PSNR      []float64
	Stopped   bool
	StageID   string
}

// Result describes a finished run.
type Result struct {
	RunID   string
	Stages  []StageSummary
	Output  *selfcal.OutputResult
	Reports []string
}

// New validates cfg and fills in the collaborators opts leaves unset.
func New(cfg *config.PipelineConfig, opts Options) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("pipeline: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	if opts.Toolkit == nil || opts.Imager == nil {
		env, err := BuildEnv(cfg, opts.Verbose)
		if err != nil {
			return nil, err
		}
		if opts.Toolkit == nil {
			opts.Toolkit = env.Toolkit
		}
		if opts.Imager == nil {
			opts.Imager = env.Imager
		}
	}
	return &Pipeline{cfg: cfg, opts: opts}, nil
}

// Run executes every stage. A failing stage ends the run; stages after it are
// not attempted. The returned Result holds whatever completed.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	res := &Result{}
	var collector report.Collector

	if p.opts.Store != nil {
		cfgJSON, err := json.Marshal(p.cfg)
		if err != nil {
			return nil, fmt.Errorf("encode config: %w", err)
		}
		run, err := p.opts.Store.InsertRun(p.cfg.GetName(), p.cfg.GetVis(), cfgJSON)
		if err != nil {
			return nil, err
		}
		res.RunID = run.RunID
		monitoring.Logf("[pipeline] Started run %s for %s", run.RunID, p.cfg.GetVis())
	}

	runErr := p.runStages(ctx, res, &collector)
	if runErr == nil && p.cfg.GetOutputEnabled() && len(res.Stages) > 0 {
		runErr = p.output(ctx, res)
	}
	if dir := p.cfg.GetReportDir(); dir != "" && len(res.Stages) > 0 {
		paths, err := writeReports(ctx, dir, p.cfg.GetName(), collector.Series())
		if err != nil {
			monitoring.Logf("[pipeline] Report failed: %v", err)
			if runErr == nil {
				runErr = err
			}
		}
		res.Reports = paths
	}

	if p.opts.Store != nil {
		status, msg := store.StatusComplete, ""
		if runErr != nil {
			status, msg = store.StatusError, runErr.Error()
		}
		var outVis, statwtVis string
		if res.Output != nil {
			outVis, statwtVis = res.Output.Vis, res.Output.StatWtVis
		}
		if err := p.opts.Store.CompleteRun(res.RunID, status, outVis, statwtVis, msg); err != nil {
			monitoring.Logf("[pipeline] Failed to complete run %s: %v", res.RunID, err)
			if runErr == nil {
				runErr = err
			}
		}
	}
	return res, runErr
}

func (p *Pipeline) runStages(ctx context.Context, res *Result, collector *report.Collector) error {
	var previous selfcal.Stage
	for i, sc := range p.cfg.Stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := "stage" + strconv.Itoa(i)
		obs := &fanout{}
		obs.add(collector.Stage(name, sc.Mode))

		scfg := p.stageConfig(i, previous)
		if err := p.opts.FS.MkdirAll(scfg.CaltableDir, 0755); err != nil {
			return fmt.Errorf("%s: create %s: %w", name, scfg.CaltableDir, err)
		}
		stage, err := NewStage(sc.Mode, scfg, selfcal.Env{
			Imager:   p.opts.Imager,
			Toolkit:  p.opts.Toolkit,
			FS:       p.opts.FS,
			Observer: obs,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}

		var recorder *store.StageRecorder
		summary := StageSummary{CalMode: stage.CalMode()}
		if p.opts.Store != nil {
			rec, err := p.opts.Store.InsertStage(res.RunID, i, stage, sc.Solint)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			summary.StageID = rec.StageID
			recorder = store.NewStageRecorder(p.opts.Store, rec.StageID)
			obs.add(recorder)
		}

		monitoring.Logf("[pipeline] Running %s (%s) on %s", name, sc.Mode, stage.Visfile())
		runErr := stage.Run(ctx)
		if recorder != nil {
			if err := recorder.Err(); err != nil && runErr == nil {
				runErr = err
			}
			if err := p.opts.Store.CompleteStage(summary.StageID, stage, runErr); err != nil {
				monitoring.Logf("[pipeline] Failed to complete %s: %v", name, err)
			}
		}

		summary.Visfile = stage.Visfile()
		summary.Caltables = stage.Caltables()
		summary.PSNR = stage.PSNRHistory()
		summary.Stopped = stage.Stopped()
		res.Stages = append(res.Stages, summary)
		if runErr != nil {
			return fmt.Errorf("%s: %w", name, runErr)
		}
		monitoring.Logf("[pipeline] Finished %s: %d caltables, PSNR %v", name, len(summary.Caltables), summary.PSNR)
		previous = stage
	}
	p.last = previous
	return nil
}

func (p *Pipeline) output(ctx context.Context, res *Result) error {
	out, err := p.last.Output(ctx, selfcal.OutputOptions{
		Overwrite: p.cfg.GetOutputOverwrite(),
		StatWt:    p.cfg.GetOutputStatWt(),
	})
	if err != nil {
		return fmt.Errorf("output: %w", err)
	}
	res.Output = out
	return nil
}

// stageConfig resolves the engine configuration for stage i.
func (p *Pipeline) stageConfig(i int, previous selfcal.Stage) selfcal.Config {
	sc := p.cfg.Stages[i]
	cfg := SelfcalConfig(p.cfg.StageSelfcal(i))
	cfg.Solint = append([]string(nil), sc.Solint...)
	cfg.Incremental = sc.GetIncremental()
	cfg.VarchangeImager = sc.VarchangeImager
	cfg.VarchangeSelfcal = sc.VarchangeSelfcal
	cfg.CaltableDir = filepath.Join(p.cfg.GetCaltableDir(), "stage"+strconv.Itoa(i))
	cfg.DryRun = p.cfg.GetCASADryRun()
	if previous == nil {
		cfg.Visfile = p.cfg.GetVis()
	} else {
		cfg.Previous = previous
	}
	return cfg
}

// NewStage constructs the strategy for mode.
func NewStage(mode string, cfg selfcal.Config, env selfcal.Env) (selfcal.Stage, error) {
	switch mode {
	case selfcal.CalModePhase:
		return selfcal.NewPhasecal(cfg, env)
	case selfcal.CalModeAmp:
		return selfcal.NewAmpcal(cfg, env)
	case selfcal.CalModeAmpPhase:
		return selfcal.NewAmpPhasecal(cfg, env)
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", selfcal.ErrInvalidOption, mode)
	}
}

// SelfcalConfig converts a configuration section to engine options. Unset
// fields keep the engine defaults.
func SelfcalConfig(sc *config.SelfcalConfig) selfcal.Config {
	cfg := selfcal.DefaultConfig()
	if sc == nil {
		return cfg
	}
	if sc.Refant != nil {
		cfg.Refant = *sc.Refant
	}
	if sc.Spwmap != nil {
		cfg.Spwmap = append([]int(nil), sc.Spwmap...)
	}
	if sc.MinBlPerAnt != nil {
		cfg.MinBlPerAnt = *sc.MinBlPerAnt
	}
	if sc.GainType != nil {
		cfg.GainType = *sc.GainType
	}
	if sc.UVRange != nil {
		cfg.UVRange = *sc.UVRange
	}
	if sc.Combine != nil {
		cfg.Combine = *sc.Combine
	}
	if sc.MinSNR != nil {
		cfg.MinSNR = *sc.MinSNR
	}
	if sc.ApplyMode != nil {
		cfg.ApplyMode = *sc.ApplyMode
	}
	if sc.Interp != nil {
		cfg.Interp = *sc.Interp
	}
	if sc.Solnorm != nil {
		v := *sc.Solnorm
		cfg.Solnorm = &v
	}
	if sc.FlagMode != nil {
		cfg.FlagMode = *sc.FlagMode
	}
	if sc.FlagDataset != nil {
		cfg.FlagDataset = *sc.FlagDataset
	}
	if sc.FlagTimeDevScale != nil {
		cfg.FlagTimeDevScale = *sc.FlagTimeDevScale
	}
	if sc.FlagFreqDevScale != nil {
		cfg.FlagFreqDevScale = *sc.FlagFreqDevScale
	}
	if sc.RestorePSNR != nil {
		cfg.RestorePSNR = *sc.RestorePSNR
	}
	if sc.SubtractSource != nil {
		cfg.SubtractSource = *sc.SubtractSource
	}
	if sc.WantPlot != nil {
		cfg.WantPlot = *sc.WantPlot
	}
	if sc.InputCaltable != nil {
		cfg.InputCaltable = *sc.InputCaltable
	}
	return cfg
}

// fanout forwards results to several observers.
type fanout struct {
	observers []selfcal.Observer
}

func (f *fanout) add(o selfcal.Observer) { f.observers = append(f.observers, o) }

func (f *fanout) IterationDone(r selfcal.IterationResult) {
	for _, o := range f.observers {
		o.IterationDone(r)
	}
}
