package pipeline

import (
	"fmt"
	"sort"

	"github.com/banshee-data/selfcal/internal/casa"
	"github.com/banshee-data/selfcal/internal/command"
	"github.com/banshee-data/selfcal/internal/config"
	"github.com/banshee-data/selfcal/internal/imager"
	"github.com/banshee-data/selfcal/internal/monitoring"
)

// Env is the toolkit and imager built from a configuration.
type Env struct {
	Executor *command.Executor
	Toolkit  *casa.Runner
	Imager   imager.Imager
}

// BuildEnv creates the CASA runner and the configured imager. Both share one
// executor, so a remote CASA host also runs wsclean.
func BuildEnv(cfg *config.PipelineConfig, verbose bool) (*Env, error) {
	exec := command.NewExecutor(cfg.GetCASAHost(), cfg.GetCASASSHUser(), cfg.GetCASASSHKey(), cfg.GetCASADryRun())
	exec.SetLogger(monitoring.DebugLogger{Verbose: verbose, Tag: "exec"})
	runner := casa.NewRunner(exec, cfg.GetCASAPath(), cfg.GetCASAScriptDir())

	params, err := ImagerParams(cfg)
	if err != nil {
		return nil, err
	}

	env := &Env{Executor: exec, Toolkit: runner}
	switch kind := cfg.GetImagerKind(); kind {
	case config.ImagerTClean:
		c, err := imager.NewClean(runner, params)
		if err != nil {
			return nil, err
		}
		c.DryRun = exec.DryRun
		env.Imager = c
	case config.ImagerWSClean:
		w, err := imager.NewWSClean(exec, cfg.GetImagerBinary(), params)
		if err != nil {
			return nil, err
		}
		env.Imager = w
	default:
		return nil, fmt.Errorf("unknown imager kind %q", kind)
	}
	if !exec.IsLocal() {
		monitoring.Logf("[pipeline] CASA runs on %s; image FITS files must be on a shared filesystem", exec.Host)
	}
	return env, nil
}

// ImagerParams lays the configured imager parameters over the defaults. The
// image name defaults to the run name.
func ImagerParams(cfg *config.PipelineConfig) (*imager.Params, error) {
	params := imager.DefaultParams()
	params.Output = cfg.GetName()

	overrides := cfg.GetImagerParams()
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := params.Set(name, overrides[name]); err != nil {
			return nil, fmt.Errorf("imager.params: %w", err)
		}
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("imager.params: %w", err)
	}
	return params, nil
}
