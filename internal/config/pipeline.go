// Package config loads the self-calibration pipeline description: the dataset,
// the imager, the chain of calibration stages and where to run CASA.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Stage modes.
const (
	ModePhase     = "p"
	ModeAmp       = "a"
	ModeAmpPhase  = "ap"
	ImagerTClean  = "tclean"
	ImagerWSClean = "wsclean"
)

// PipelineConfig is the root of a pipeline file. Every scalar is a pointer so
// omitted keys fall back to the defaults returned by the Get* methods.
type PipelineConfig struct {
	Vis         *string `json:"vis,omitempty" yaml:"vis,omitempty"`
	Name        *string `json:"name,omitempty" yaml:"name,omitempty"`
	CaltableDir *string `json:"caltable_dir,omitempty" yaml:"caltable_dir,omitempty"`
	DBPath      *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	ReportDir   *string `json:"report_dir,omitempty" yaml:"report_dir,omitempty"`

	Imager  *ImagerConfig  `json:"imager,omitempty" yaml:"imager,omitempty"`
	Selfcal *SelfcalConfig `json:"selfcal,omitempty" yaml:"selfcal,omitempty"`
	Stages  []StageConfig  `json:"stages" yaml:"stages"`
	Output  *OutputConfig  `json:"output,omitempty" yaml:"output,omitempty"`
	CASA    *CASAConfig    `json:"casa,omitempty" yaml:"casa,omitempty"`
}

// ImagerConfig selects the imaging backend. Params holds imager parameters by
// their tclean names (imsize, cell, niter, ...).
type ImagerConfig struct {
	Kind   *string        `json:"kind,omitempty" yaml:"kind,omitempty"`
	Binary *string        `json:"binary,omitempty" yaml:"binary,omitempty"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// SelfcalConfig carries the solver, apply and flagging options. The top-level
// section provides defaults that each stage may override.
type SelfcalConfig struct {
	Refant           *string  `json:"refant,omitempty" yaml:"refant,omitempty"`
	Spwmap           []int    `json:"spwmap,omitempty" yaml:"spwmap,omitempty"`
	MinBlPerAnt      *int     `json:"minblperant,omitempty" yaml:"minblperant,omitempty"`
	GainType         *string  `json:"gaintype,omitempty" yaml:"gaintype,omitempty"`
	UVRange          *string  `json:"uvrange,omitempty" yaml:"uvrange,omitempty"`
	Combine          *string  `json:"combine,omitempty" yaml:"combine,omitempty"`
	MinSNR           *float64 `json:"minsnr,omitempty" yaml:"minsnr,omitempty"`
	ApplyMode        *string  `json:"applymode,omitempty" yaml:"applymode,omitempty"`
	Interp           *string  `json:"interp,omitempty" yaml:"interp,omitempty"`
	FlagMode         *string  `json:"flag_mode,omitempty" yaml:"flag_mode,omitempty"`
	FlagDataset      *bool    `json:"flag_dataset,omitempty" yaml:"flag_dataset,omitempty"`
	FlagTimeDevScale *float64 `json:"flag_timedevscale,omitempty" yaml:"flag_timedevscale,omitempty"`
	FlagFreqDevScale *float64 `json:"flag_freqdevscale,omitempty" yaml:"flag_freqdevscale,omitempty"`
	RestorePSNR      *bool    `json:"restore_psnr,omitempty" yaml:"restore_psnr,omitempty"`
	SubtractSource   *bool    `json:"subtract_source,omitempty" yaml:"subtract_source,omitempty"`
	WantPlot         *bool    `json:"want_plot,omitempty" yaml:"want_plot,omitempty"`
	InputCaltable    *string  `json:"input_caltable,omitempty" yaml:"input_caltable,omitempty"`
	Solnorm          *bool    `json:"solnorm,omitempty" yaml:"solnorm,omitempty"`
}

// StageConfig is one calibration stage of the chain.
type StageConfig struct {
	Mode             string           `json:"mode" yaml:"mode"`
	Solint           []string         `json:"solint" yaml:"solint"`
	Incremental      *bool            `json:"incremental,omitempty" yaml:"incremental,omitempty"`
	VarchangeImager  map[string][]any `json:"varchange_imager,omitempty" yaml:"varchange_imager,omitempty"`
	VarchangeSelfcal map[string][]any `json:"varchange_selfcal,omitempty" yaml:"varchange_selfcal,omitempty"`
	Selfcal          *SelfcalConfig   `json:"selfcal,omitempty" yaml:"selfcal,omitempty"`
}

// OutputConfig controls the final split of the calibrated dataset.
type OutputConfig struct {
	Enabled   *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	StatWt    *bool `json:"statwt,omitempty" yaml:"statwt,omitempty"`
	Overwrite *bool `json:"overwrite,omitempty" yaml:"overwrite,omitempty"`
}

// CASAConfig says where and how CASA is run.
type CASAConfig struct {
	Path      *string `json:"path,omitempty" yaml:"path,omitempty"`
	Host      *string `json:"host,omitempty" yaml:"host,omitempty"`
	SSHUser   *string `json:"ssh_user,omitempty" yaml:"ssh_user,omitempty"`
	SSHKey    *string `json:"ssh_key,omitempty" yaml:"ssh_key,omitempty"`
	DryRun    *bool   `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	ScriptDir *string `json:"script_dir,omitempty" yaml:"script_dir,omitempty"`
}

func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }

// EmptyPipelineConfig returns a PipelineConfig with all fields unset.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// LoadPipelineConfig loads a PipelineConfig from a .json, .yaml or .yml file.
// The file must be under 1MB. The result is validated before it is returned.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPipelineConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the structural parts of the configuration. Per-stage
// consistency (override lengths, chain inputs) is checked when the stages
// are constructed.
func (c *PipelineConfig) Validate() error {
	if c.GetVis() == "" {
		return fmt.Errorf("vis must be set")
	}
	if len(c.Stages) == 0 {
		return fmt.Errorf("at least one stage is required")
	}

	switch kind := c.GetImagerKind(); kind {
	case ImagerTClean, ImagerWSClean:
	default:
		return fmt.Errorf("imager.kind must be %q or %q, got %q", ImagerTClean, ImagerWSClean, kind)
	}

	for i, st := range c.Stages {
		switch st.Mode {
		case ModePhase, ModeAmp, ModeAmpPhase:
		default:
			return fmt.Errorf("stages[%d]: mode must be one of p, a, ap, got %q", i, st.Mode)
		}
		if len(st.Solint) == 0 {
			return fmt.Errorf("stages[%d]: solint must not be empty", i)
		}
		if st.Mode != ModeAmpPhase && st.Incremental != nil {
			return fmt.Errorf("stages[%d]: incremental only applies to ap stages", i)
		}
		if err := st.Selfcal.validate(); err != nil {
			return fmt.Errorf("stages[%d]: %w", i, err)
		}
	}

	if err := c.Selfcal.validate(); err != nil {
		return fmt.Errorf("selfcal: %w", err)
	}
	return nil
}

func (s *SelfcalConfig) validate() error {
	if s == nil {
		return nil
	}
	if s.MinBlPerAnt != nil && *s.MinBlPerAnt < 1 {
		return fmt.Errorf("minblperant must be positive, got %d", *s.MinBlPerAnt)
	}
	if s.MinSNR != nil && *s.MinSNR < 0 {
		return fmt.Errorf("minsnr must be non-negative, got %g", *s.MinSNR)
	}
	if s.FlagTimeDevScale != nil && *s.FlagTimeDevScale <= 0 {
		return fmt.Errorf("flag_timedevscale must be positive, got %g", *s.FlagTimeDevScale)
	}
	if s.FlagFreqDevScale != nil && *s.FlagFreqDevScale <= 0 {
		return fmt.Errorf("flag_freqdevscale must be positive, got %g", *s.FlagFreqDevScale)
	}
	return nil
}

// GetVis returns the input dataset path.
func (c *PipelineConfig) GetVis() string {
	if c.Vis == nil {
		return ""
	}
	return *c.Vis
}

// GetName returns the run label, defaulting to the dataset's base name.
func (c *PipelineConfig) GetName() string {
	if c.Name != nil && *c.Name != "" {
		return *c.Name
	}
	return strings.TrimSuffix(filepath.Base(c.GetVis()), ".ms")
}

// GetCaltableDir returns the directory calibration tables are written to.
// Empty means the working directory.
func (c *PipelineConfig) GetCaltableDir() string {
	if c.CaltableDir == nil {
		return ""
	}
	return *c.CaltableDir
}

// GetDBPath returns the run history database path; empty disables it.
func (c *PipelineConfig) GetDBPath() string {
	if c.DBPath == nil {
		return ""
	}
	return *c.DBPath
}

// GetReportDir returns where plots are written; empty disables reports.
func (c *PipelineConfig) GetReportDir() string {
	if c.ReportDir == nil {
		return ""
	}
	return *c.ReportDir
}

// GetImagerKind returns the imaging backend.
func (c *PipelineConfig) GetImagerKind() string {
	if c.Imager == nil || c.Imager.Kind == nil || *c.Imager.Kind == "" {
		return ImagerTClean // default
	}
	return *c.Imager.Kind
}

// GetImagerBinary returns the wsclean executable.
func (c *PipelineConfig) GetImagerBinary() string {
	if c.Imager == nil || c.Imager.Binary == nil || *c.Imager.Binary == "" {
		return "wsclean" // default
	}
	return *c.Imager.Binary
}

// GetImagerParams returns the imager parameter overrides, never nil.
func (c *PipelineConfig) GetImagerParams() map[string]any {
	if c.Imager == nil || c.Imager.Params == nil {
		return map[string]any{}
	}
	return c.Imager.Params
}

// GetOutputEnabled reports whether the final calibrated split is produced.
func (c *PipelineConfig) GetOutputEnabled() bool {
	if c.Output == nil || c.Output.Enabled == nil {
		return true // default
	}
	return *c.Output.Enabled
}

// GetOutputStatWt reports whether statwt runs on a copy of the output.
func (c *PipelineConfig) GetOutputStatWt() bool {
	if c.Output == nil || c.Output.StatWt == nil {
		return false
	}
	return *c.Output.StatWt
}

// GetOutputOverwrite reports whether an existing output may be replaced.
func (c *PipelineConfig) GetOutputOverwrite() bool {
	if c.Output == nil || c.Output.Overwrite == nil {
		return false
	}
	return *c.Output.Overwrite
}

// GetCASAPath returns the casa executable.
func (c *PipelineConfig) GetCASAPath() string {
	if c.CASA == nil || c.CASA.Path == nil || *c.CASA.Path == "" {
		return "casa" // default
	}
	return *c.CASA.Path
}

// GetCASAHost returns the host CASA runs on; empty means local.
func (c *PipelineConfig) GetCASAHost() string {
	if c.CASA == nil || c.CASA.Host == nil {
		return ""
	}
	return *c.CASA.Host
}

// GetCASASSHUser returns the ssh user for a remote CASA host.
func (c *PipelineConfig) GetCASASSHUser() string {
	if c.CASA == nil || c.CASA.SSHUser == nil {
		return ""
	}
	return *c.CASA.SSHUser
}

// GetCASASSHKey returns the ssh identity file for a remote CASA host.
func (c *PipelineConfig) GetCASASSHKey() string {
	if c.CASA == nil || c.CASA.SSHKey == nil {
		return ""
	}
	return *c.CASA.SSHKey
}

// GetCASADryRun reports whether CASA commands are only printed.
func (c *PipelineConfig) GetCASADryRun() bool {
	if c.CASA == nil || c.CASA.DryRun == nil {
		return false
	}
	return *c.CASA.DryRun
}

// GetCASAScriptDir returns where generated CASA scripts are written.
func (c *PipelineConfig) GetCASAScriptDir() string {
	if c.CASA == nil || c.CASA.ScriptDir == nil || *c.CASA.ScriptDir == "" {
		return os.TempDir() // default
	}
	return *c.CASA.ScriptDir
}

// SetCASAPath overrides the casa executable (flags and environment).
func (c *PipelineConfig) SetCASAPath(path string) {
	if c.CASA == nil {
		c.CASA = &CASAConfig{}
	}
	c.CASA.Path = ptrString(path)
}

// SetCASAHost overrides the CASA host.
func (c *PipelineConfig) SetCASAHost(host string) {
	if c.CASA == nil {
		c.CASA = &CASAConfig{}
	}
	c.CASA.Host = ptrString(host)
}

// SetCASADryRun overrides dry-run mode.
func (c *PipelineConfig) SetCASADryRun(dryRun bool) {
	if c.CASA == nil {
		c.CASA = &CASAConfig{}
	}
	c.CASA.DryRun = ptrBool(dryRun)
}

// StageSelfcal returns the selfcal options for stage i: the stage's own
// section laid over the shared section.
func (c *PipelineConfig) StageSelfcal(i int) *SelfcalConfig {
	return MergeSelfcal(c.Selfcal, c.Stages[i].Selfcal)
}

// MergeSelfcal returns a new SelfcalConfig holding base with every field set
// in over replacing it. Either argument may be nil.
func MergeSelfcal(base, over *SelfcalConfig) *SelfcalConfig {
	out := &SelfcalConfig{}
	if base != nil {
		*out = *base
		out.Spwmap = append([]int(nil), base.Spwmap...)
	}
	if over == nil {
		return out
	}
	if over.Refant != nil {
		out.Refant = over.Refant
	}
	if over.Spwmap != nil {
		out.Spwmap = append([]int(nil), over.Spwmap...)
	}
	if over.MinBlPerAnt != nil {
		out.MinBlPerAnt = over.MinBlPerAnt
	}
	if over.GainType != nil {
		out.GainType = over.GainType
	}
	if over.UVRange != nil {
		out.UVRange = over.UVRange
	}
	if over.Combine != nil {
		out.Combine = over.Combine
	}
	if over.MinSNR != nil {
		out.MinSNR = over.MinSNR
	}
	if over.ApplyMode != nil {
		out.ApplyMode = over.ApplyMode
	}
	if over.Interp != nil {
		out.Interp = over.Interp
	}
	if over.FlagMode != nil {
		out.FlagMode = over.FlagMode
	}
	if over.FlagDataset != nil {
		out.FlagDataset = over.FlagDataset
	}
	if over.FlagTimeDevScale != nil {
		out.FlagTimeDevScale = over.FlagTimeDevScale
	}
	if over.FlagFreqDevScale != nil {
		out.FlagFreqDevScale = over.FlagFreqDevScale
	}
	if over.RestorePSNR != nil {
		out.RestorePSNR = over.RestorePSNR
	}
	if over.SubtractSource != nil {
		out.SubtractSource = over.SubtractSource
	}
	if over.WantPlot != nil {
		out.WantPlot = over.WantPlot
	}
	if over.InputCaltable != nil {
		out.InputCaltable = over.InputCaltable
	}
	if over.Solnorm != nil {
		out.Solnorm = over.Solnorm
	}
	return out
}

// GetIncremental reports whether an ap stage chains its own tables.
func (s StageConfig) GetIncremental() bool {
	if s.Incremental == nil {
		return false
	}
	return *s.Incremental
}
