package casa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/banshee-data/selfcal/internal/command"
	"github.com/banshee-data/selfcal/internal/monitoring"
)

// errNoResult is returned when a probe script printed no result line.
var errNoResult = errors.New("no result in casa output")

// maxOutputTail bounds how much casa output is kept in a TaskError.
const maxOutputTail = 2048

// Runner implements Toolkit by writing a Python script per task and running
// it with casa in non-interactive mode. Every call starts a fresh casa
// process, so tasks never share interpreter state.
type Runner struct {
	Executor *command.Executor
	// CASAPath is the casa executable on the executor's host.
	CASAPath string
	// ScriptDir is where scripts are written on the executor's host.
	ScriptDir string
	// KeepScripts leaves generated scripts in place for inspection.
	KeepScripts bool
}

// NewRunner creates a Runner.
func NewRunner(exec *command.Executor, casaPath, scriptDir string) *Runner {
	return &Runner{Executor: exec, CASAPath: casaPath, ScriptDir: scriptDir}
}

// Exec runs the statements in one casa session and returns its output.
func (r *Runner) Exec(ctx context.Context, stmts ...Statement) (string, error) {
	task := taskName(stmts)
	script := RenderScript(stmts...)
	// Scripts live on the executor's host, so join with forward slashes.
	scriptPath := path.Join(r.ScriptDir, "selfcal-"+uuid.NewString()+".py")

	if err := r.Executor.WriteFile(ctx, scriptPath, script); err != nil {
		return "", fmt.Errorf("write casa script for %s: %w", task, err)
	}

	cmd := command.ShellJoin(r.casaPath(), "--nogui", "--nologger", "--agg", "-c", scriptPath)
	monitoring.Logf("[casa] %s", task)
	out, err := r.Executor.Run(ctx, cmd)

	if !r.KeepScripts && !r.Executor.DryRun {
		if _, rmErr := r.Executor.Run(ctx, "rm -f "+command.ShellQuote(scriptPath)); rmErr != nil {
			monitoring.Logf("[casa] failed to remove %s: %v", scriptPath, rmErr)
		}
	}

	if err != nil {
		return out, &TaskError{Task: task, Output: tail(out), Err: err}
	}
	if msg, ok := findMarker(out, errorMarker); ok {
		return out, &TaskError{Task: task, Output: tail(out), Err: errors.New(msg)}
	}
	return out, nil
}

// Probe runs the statements and decodes the JSON result line into v.
func (r *Runner) Probe(ctx context.Context, v any, stmts ...Statement) error {
	out, err := r.Exec(ctx, stmts...)
	if err != nil {
		return err
	}
	raw, ok := findMarker(out, resultMarker)
	if !ok {
		return &TaskError{Task: taskName(stmts), Output: tail(out), Err: errNoResult}
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode casa result: %w", err)
	}
	return nil
}

func (r *Runner) casaPath() string {
	if r.CASAPath == "" {
		return "casa"
	}
	return r.CASAPath
}

// GainCal solves for gains.
func (r *Runner) GainCal(ctx context.Context, p GainCalParams) error {
	_, err := r.Exec(ctx, p.call())
	return err
}

// ApplyCal applies calibration tables to the corrected column.
func (r *Runner) ApplyCal(ctx context.Context, p ApplyCalParams) error {
	_, err := r.Exec(ctx, p.call())
	return err
}

// FlagManager saves, restores, deletes or lists flag versions.
func (r *Runner) FlagManager(ctx context.Context, vis string, mode FlagVersionMode, versionName string) error {
	c := NewCall("flagmanager", "vis", vis, "mode", string(mode))
	if mode != FlagVersionList {
		c = c.With("versionname", versionName)
	}
	_, err := r.Exec(ctx, c)
	return err
}

// ClearCal resets the corrected and model columns.
func (r *Runner) ClearCal(ctx context.Context, vis string) error {
	_, err := r.Exec(ctx, NewCall("clearcal", "vis", vis))
	return err
}

// DelMod removes the virtual model (otf) and/or the MODEL_DATA column (scr).
func (r *Runner) DelMod(ctx context.Context, vis string, otf, scr bool) error {
	_, err := r.Exec(ctx, NewCall("delmod", "vis", vis, "otf", otf, "scr", scr))
	return err
}

// FlagData runs automatic flagging.
func (r *Runner) FlagData(ctx context.Context, p FlagDataParams) error {
	_, err := r.Exec(ctx, p.call())
	return err
}

// Split writes dataColumn of vis to a new dataset.
func (r *Runner) Split(ctx context.Context, vis, outputVis, dataColumn string) error {
	_, err := r.Exec(ctx, NewCall("split", "vis", vis, "outputvis", outputVis, "datacolumn", dataColumn))
	return err
}

// StatWt recomputes visibility weights from the scatter of dataColumn.
func (r *Runner) StatWt(ctx context.Context, vis, dataColumn string) error {
	_, err := r.Exec(ctx, NewCall("statwt", "vis", vis, "datacolumn", dataColumn))
	return err
}

// UVSub subtracts the model from the corrected column.
func (r *Runner) UVSub(ctx context.Context, vis string) error {
	_, err := r.Exec(ctx, NewCall("uvsub", "vis", vis))
	return err
}

// RmTables deletes a table; a missing table is not an error.
func (r *Runner) RmTables(ctx context.Context, table string) error {
	_, err := r.Exec(ctx, NewCall("rmtables", "tablenames", table))
	return err
}

// ColumnNames lists the columns of table.
func (r *Runner) ColumnNames(ctx context.Context, table string) ([]string, error) {
	if r.Executor.DryRun {
		return nil, nil
	}
	var cols []string
	err := r.Probe(ctx, &cols,
		Code("tb.open("+PyLiteral(table)+")"),
		Code("cols = tb.colnames()"),
		Code("tb.close()"),
		ResultProbe("cols"),
	)
	return cols, err
}

// NRows returns the number of rows in table.
func (r *Runner) NRows(ctx context.Context, table string) (int, error) {
	if r.Executor.DryRun {
		return 0, nil
	}
	var n int
	err := r.Probe(ctx, &n,
		Code("tb.open("+PyLiteral(table)+")"),
		Code("n = tb.nrows()"),
		Code("tb.close()"),
		ResultProbe("n"),
	)
	return n, err
}

// PlotCal plots calibration solutions to a file.
func (r *Runner) PlotCal(ctx context.Context, p PlotCalParams) error {
	_, err := r.Exec(ctx, p.call())
	return err
}

func taskName(stmts []Statement) string {
	var names []string
	for _, s := range stmts {
		if c, ok := s.(Call); ok {
			names = append(names, c.Task)
		}
	}
	if len(names) == 0 {
		return "script"
	}
	return strings.Join(names, "+")
}

// findMarker returns the rest of the last output line starting with marker.
func findMarker(out, marker string) (string, bool) {
	lines := strings.Split(out, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, marker) {
			return strings.TrimSpace(strings.TrimPrefix(line, marker)), true
		}
	}
	return "", false
}

func tail(out string) string {
	out = strings.TrimSpace(out)
	if len(out) <= maxOutputTail {
		return out
	}
	return "..." + out[len(out)-maxOutputTail:]
}
