package casa

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/banshee-data/selfcal/internal/fsutil"
)

var (
	_ Toolkit = (*Runner)(nil)
	_ Toolkit = (*Fake)(nil)
)

// FakeCall records one Toolkit call made against a Fake. Params holds the
// typed parameter record for tasks that take one, otherwise a small struct
// with the positional arguments.
type FakeCall struct {
	Task   string
	Vis    string
	Params any
}

// FlagManagerArgs is recorded for flagmanager calls.
type FlagManagerArgs struct {
	Mode        FlagVersionMode
	VersionName string
}

// DelModArgs is recorded for delmod calls.
type DelModArgs struct {
	OTF, Scr bool
}

// SplitArgs is recorded for split and statwt calls.
type SplitArgs struct {
	OutputVis  string
	DataColumn string
}

// Fake is an in-memory Toolkit. Datasets and tables are directories in FS;
// flag versions are stored the way casa stores them, under
// <vis>.flagversions/flags.<name>, and columns as marker files inside the
// dataset, so copying a dataset carries its columns but not its versions.
type Fake struct {
	mu sync.Mutex

	FS    fsutil.FileSystem
	Calls []FakeCall
	// FailOn makes the named task return the error.
	FailOn map[string]error
	// DefaultRows is the row count of a freshly solved table.
	DefaultRows int

	rows map[string]int
}

// NewFake creates a Fake backed by fs.
func NewFake(fs fsutil.FileSystem) *Fake {
	return &Fake{
		FS:          fs,
		FailOn:      make(map[string]error),
		DefaultRows: 10,
		rows:        make(map[string]int),
	}
}

// AddDataset creates a dataset with the given columns (DATA if none given).
func (f *Fake) AddDataset(vis string, columns ...string) error {
	if len(columns) == 0 {
		columns = []string{ColumnData}
	}
	if err := f.FS.MkdirAll(vis, 0755); err != nil {
		return err
	}
	return f.SetColumns(vis, columns...)
}

// SetColumns adds columns to a dataset.
func (f *Fake) SetColumns(vis string, columns ...string) error {
	for _, c := range columns {
		if err := f.FS.WriteFile(filepath.Join(vis, c), nil, 0644); err != nil {
			return err
		}
	}
	return nil
}

// SetRows overrides the row count reported for a table.
func (f *Fake) SetRows(table string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[filepath.Clean(table)] = n
}

// HasFlagVersion reports whether the named flag version exists for vis.
func (f *Fake) HasFlagVersion(vis, name string) bool {
	return f.FS.Exists(flagVersionPath(vis, name))
}

// Tasks returns the task names called so far, in order.
func (f *Fake) Tasks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Calls))
	for i, c := range f.Calls {
		out[i] = c.Task
	}
	return out
}

// CallsTo returns the recorded calls of one task.
func (f *Fake) CallsTo(task string) []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []FakeCall
	for _, c := range f.Calls {
		if c.Task == task {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) record(task, vis string, params any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, FakeCall{Task: task, Vis: vis, Params: params})
	if err := f.FailOn[task]; err != nil {
		return err
	}
	return nil
}

func (f *Fake) requireTable(task, table string) error {
	if !f.FS.Exists(table) {
		return &TaskError{Task: task, Err: fmt.Errorf("table %s does not exist", table)}
	}
	return nil
}

func flagVersionPath(vis, name string) string {
	return filepath.Join(filepath.Clean(vis)+".flagversions", "flags."+name)
}

// GainCal creates the caltable.
func (f *Fake) GainCal(ctx context.Context, p GainCalParams) error {
	if err := f.record("gaincal", p.Vis, p); err != nil {
		return err
	}
	if err := f.requireTable("gaincal", p.Vis); err != nil {
		return err
	}
	for _, t := range p.GainTable {
		if err := f.requireTable("gaincal", t); err != nil {
			return err
		}
	}
	if f.FS.Exists(p.Caltable) {
		return &TaskError{Task: "gaincal", Err: fmt.Errorf("output table %s exists", p.Caltable)}
	}
	if err := f.FS.MkdirAll(p.Caltable, 0755); err != nil {
		return err
	}
	f.mu.Lock()
	if _, ok := f.rows[filepath.Clean(p.Caltable)]; !ok {
		f.rows[filepath.Clean(p.Caltable)] = f.DefaultRows
	}
	f.mu.Unlock()
	return nil
}

// ApplyCal marks the dataset as having a corrected column.
func (f *Fake) ApplyCal(ctx context.Context, p ApplyCalParams) error {
	if err := f.record("applycal", p.Vis, p); err != nil {
		return err
	}
	if err := f.requireTable("applycal", p.Vis); err != nil {
		return err
	}
	for _, t := range p.GainTable {
		if err := f.requireTable("applycal", t); err != nil {
			return err
		}
	}
	return f.SetColumns(p.Vis, ColumnCorrected)
}

// FlagManager keeps versions as directories next to the dataset. Saving an
// existing name fails; deleting a missing one is a no-op.
func (f *Fake) FlagManager(ctx context.Context, vis string, mode FlagVersionMode, versionName string) error {
	if err := f.record("flagmanager", vis, FlagManagerArgs{Mode: mode, VersionName: versionName}); err != nil {
		return err
	}
	if err := f.requireTable("flagmanager", vis); err != nil {
		return err
	}
	p := flagVersionPath(vis, versionName)
	switch mode {
	case FlagVersionSave:
		if f.FS.Exists(p) {
			return &TaskError{Task: "flagmanager", Err: fmt.Errorf("version %s already exists", versionName)}
		}
		return f.FS.MkdirAll(p, 0755)
	case FlagVersionRestore:
		if !f.FS.Exists(p) {
			return &TaskError{Task: "flagmanager", Err: fmt.Errorf("version %s not found", versionName)}
		}
		return nil
	case FlagVersionDelete:
		return f.FS.RemoveAll(p)
	case FlagVersionList:
		return nil
	default:
		return &TaskError{Task: "flagmanager", Err: fmt.Errorf("unknown mode %q", mode)}
	}
}

// ClearCal resets calibration of the dataset.
func (f *Fake) ClearCal(ctx context.Context, vis string) error {
	if err := f.record("clearcal", vis, nil); err != nil {
		return err
	}
	return f.requireTable("clearcal", vis)
}

// DelMod removes MODEL_DATA when scr is set.
func (f *Fake) DelMod(ctx context.Context, vis string, otf, scr bool) error {
	if err := f.record("delmod", vis, DelModArgs{OTF: otf, Scr: scr}); err != nil {
		return err
	}
	if err := f.requireTable("delmod", vis); err != nil {
		return err
	}
	if scr {
		return f.FS.RemoveAll(filepath.Join(vis, ColumnModel))
	}
	return nil
}

// FlagData records the flagging request.
func (f *Fake) FlagData(ctx context.Context, p FlagDataParams) error {
	if err := f.record("flagdata", p.Vis, p); err != nil {
		return err
	}
	return f.requireTable("flagdata", p.Vis)
}

// Split copies the dataset; outputVis must not exist.
func (f *Fake) Split(ctx context.Context, vis, outputVis, dataColumn string) error {
	if err := f.record("split", vis, SplitArgs{OutputVis: outputVis, DataColumn: dataColumn}); err != nil {
		return err
	}
	if err := f.requireTable("split", vis); err != nil {
		return err
	}
	if f.FS.Exists(outputVis) {
		return &TaskError{Task: "split", Err: fmt.Errorf("%s already exists", outputVis)}
	}
	return f.AddDataset(outputVis, ColumnData)
}

// StatWt records the reweighting.
func (f *Fake) StatWt(ctx context.Context, vis, dataColumn string) error {
	if err := f.record("statwt", vis, SplitArgs{DataColumn: dataColumn}); err != nil {
		return err
	}
	return f.requireTable("statwt", vis)
}

// UVSub records the model subtraction.
func (f *Fake) UVSub(ctx context.Context, vis string) error {
	if err := f.record("uvsub", vis, nil); err != nil {
		return err
	}
	return f.requireTable("uvsub", vis)
}

// RmTables removes a table.
func (f *Fake) RmTables(ctx context.Context, table string) error {
	if err := f.record("rmtables", table, nil); err != nil {
		return err
	}
	return f.FS.RemoveAll(table)
}

// ColumnNames reports the marker columns present in table.
func (f *Fake) ColumnNames(ctx context.Context, table string) ([]string, error) {
	if err := f.record("colnames", table, nil); err != nil {
		return nil, err
	}
	if err := f.requireTable("colnames", table); err != nil {
		return nil, err
	}
	var cols []string
	for _, c := range []string{ColumnData, ColumnModel, ColumnCorrected} {
		if f.FS.Exists(filepath.Join(table, c)) {
			cols = append(cols, c)
		}
	}
	return cols, nil
}

// NRows returns the row count of a solved table.
func (f *Fake) NRows(ctx context.Context, table string) (int, error) {
	if err := f.record("nrows", table, nil); err != nil {
		return 0, err
	}
	if err := f.requireTable("nrows", table); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[filepath.Clean(table)], nil
}

// PlotCal writes an empty figure file when one is requested.
func (f *Fake) PlotCal(ctx context.Context, p PlotCalParams) error {
	if err := f.record("plotms", p.Caltable, p); err != nil {
		return err
	}
	if err := f.requireTable("plotms", p.Caltable); err != nil {
		return err
	}
	if p.FigFile != "" {
		return f.FS.WriteFile(p.FigFile, nil, 0644)
	}
	return nil
}
