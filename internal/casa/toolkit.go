// Package casa wraps the CASA tasks used by self-calibration: gain solving,
// calibration apply, flag versioning, flagging and dataset splitting.
//
// Toolkit is the seam between the calibration engine and CASA. Runner drives
// a real casa installation by generating scripts; Fake keeps everything in
// memory for tests.
package casa

import (
	"context"
	"fmt"
)

// FlagVersionMode selects the flagmanager operation.
type FlagVersionMode string

const (
	FlagVersionSave    FlagVersionMode = "save"
	FlagVersionRestore FlagVersionMode = "restore"
	FlagVersionDelete  FlagVersionMode = "delete"
	FlagVersionList    FlagVersionMode = "list"
)

// Column names of a measurement set main table.
const (
	ColumnData      = "DATA"
	ColumnModel     = "MODEL_DATA"
	ColumnCorrected = "CORRECTED_DATA"
)

// Toolkit is the set of CASA tasks the calibration engine calls.
type Toolkit interface {
	GainCal(ctx context.Context, p GainCalParams) error
	ApplyCal(ctx context.Context, p ApplyCalParams) error
	FlagManager(ctx context.Context, vis string, mode FlagVersionMode, versionName string) error
	ClearCal(ctx context.Context, vis string) error
	DelMod(ctx context.Context, vis string, otf, scr bool) error
	FlagData(ctx context.Context, p FlagDataParams) error
	Split(ctx context.Context, vis, outputVis, dataColumn string) error
	StatWt(ctx context.Context, vis, dataColumn string) error
	UVSub(ctx context.Context, vis string) error
	RmTables(ctx context.Context, table string) error

	// ColumnNames lists the columns of a table, e.g. to look for MODEL_DATA.
	ColumnNames(ctx context.Context, table string) ([]string, error)
	// NRows returns the number of rows in a table.
	NRows(ctx context.Context, table string) (int, error)

	PlotCal(ctx context.Context, p PlotCalParams) error
}

// GainCalParams are the gaincal arguments.
type GainCalParams struct {
	Vis         string
	Caltable    string
	Field       string
	Spw         string
	UVRange     string
	GainType    string
	Refant      string
	CalMode     string
	Combine     string
	Solint      string
	MinSNR      float64
	MinBlPerAnt int
	Solnorm     bool
	// GainTable lists previously derived tables applied on the fly.
	GainTable []string
	SpwMap    [][]int
}

// ApplyCalParams are the applycal arguments. calwt and flagbackup are always
// false; the engine snapshots flags itself.
type ApplyCalParams struct {
	Vis       string
	Field     string
	Spw       string
	GainTable []string
	GainField []string
	SpwMap    [][]int
	Interp    string
	ApplyMode string
}

// FlagDataParams are the flagdata arguments for automatic flagging.
type FlagDataParams struct {
	Vis          string
	Field        string
	Spw          string
	Mode         string
	DataColumn   string
	TimeDevScale float64
	FreqDevScale float64
	Action       string
	FlagBackup   bool
}

// PlotCalParams describe a calibration solution plot.
type PlotCalParams struct {
	Caltable  string
	XAxis     string
	YAxis     string
	PlotRange []float64
	FigFile   string
}

// TaskError reports a CASA run that failed. Output holds the tail of the
// combined casa output.
type TaskError struct {
	Task   string
	Output string
	Err    error
}

func (e *TaskError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("casa %s: %v", e.Task, e.Err)
	}
	return fmt.Sprintf("casa %s: %v: %s", e.Task, e.Err, e.Output)
}

func (e *TaskError) Unwrap() error { return e.Err }
