package casa

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/selfcal/internal/fsutil"
)

func newFakeWithDataset(t *testing.T) (*Fake, *fsutil.MemoryFileSystem) {
	t.Helper()
	fs := fsutil.NewMemoryFileSystem()
	f := NewFake(fs)
	require.NoError(t, f.AddDataset("/w/t.ms"))
	return f, fs
}

func TestFakeFlagVersions(t *testing.T) {
	f, _ := newFakeWithDataset(t)
	ctx := context.Background()

	require.NoError(t, f.FlagManager(ctx, "/w/t.ms", FlagVersionSave, "before_selfcal"))
	assert.True(t, f.HasFlagVersion("/w/t.ms", "before_selfcal"))

	err := f.FlagManager(ctx, "/w/t.ms", FlagVersionSave, "before_selfcal")
	assert.Error(t, err, "saving an existing version must fail")

	require.NoError(t, f.FlagManager(ctx, "/w/t.ms", FlagVersionRestore, "before_selfcal"))
	assert.Error(t, f.FlagManager(ctx, "/w/t.ms", FlagVersionRestore, "missing"))

	require.NoError(t, f.FlagManager(ctx, "/w/t.ms", FlagVersionDelete, "before_selfcal"))
	assert.False(t, f.HasFlagVersion("/w/t.ms", "before_selfcal"))
	require.NoError(t, f.FlagManager(ctx, "/w/t.ms", FlagVersionDelete, "before_selfcal"), "delete of a missing version is a no-op")

	assert.Error(t, f.FlagManager(ctx, "/w/none.ms", FlagVersionSave, "x"))
}

func TestFakeVersionsNotCopiedWithDataset(t *testing.T) {
	f, fs := newFakeWithDataset(t)
	ctx := context.Background()

	require.NoError(t, f.SetColumns("/w/t.ms", ColumnModel))
	require.NoError(t, f.FlagManager(ctx, "/w/t.ms", FlagVersionSave, "v0"))
	require.NoError(t, fs.CopyDir("/w/t.ms", "/w/t_p0.ms"))

	cols, err := f.ColumnNames(ctx, "/w/t_p0.ms")
	require.NoError(t, err)
	assert.Equal(t, []string{ColumnData, ColumnModel}, cols)
	assert.False(t, f.HasFlagVersion("/w/t_p0.ms", "v0"))
}

func TestFakeGainCalAndApply(t *testing.T) {
	f, fs := newFakeWithDataset(t)
	ctx := context.Background()

	require.NoError(t, f.GainCal(ctx, GainCalParams{Vis: "/w/t.ms", Caltable: "/w/cal/pcal0", CalMode: "p"}))
	assert.True(t, fs.Exists("/w/cal/pcal0"))

	n, err := f.NRows(ctx, "/w/cal/pcal0")
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	// Re-solving into an existing table fails like casa does.
	assert.Error(t, f.GainCal(ctx, GainCalParams{Vis: "/w/t.ms", Caltable: "/w/cal/pcal0"}))

	// A prior table that does not exist is rejected.
	assert.Error(t, f.GainCal(ctx, GainCalParams{Vis: "/w/t.ms", Caltable: "/w/cal/ampcal0", GainTable: []string{"/w/cal/nope"}}))

	require.NoError(t, f.ApplyCal(ctx, ApplyCalParams{Vis: "/w/t.ms", GainTable: []string{"/w/cal/pcal0"}}))
	cols, err := f.ColumnNames(ctx, "/w/t.ms")
	require.NoError(t, err)
	assert.Contains(t, cols, ColumnCorrected)

	assert.Error(t, f.ApplyCal(ctx, ApplyCalParams{Vis: "/w/t.ms", GainTable: []string{"/w/cal/nope"}}))

	require.NoError(t, f.RmTables(ctx, "/w/cal/pcal0"))
	assert.False(t, fs.Exists("/w/cal/pcal0"))
	require.NoError(t, f.GainCal(ctx, GainCalParams{Vis: "/w/t.ms", Caltable: "/w/cal/pcal0"}))
}

func TestFakeSetRows(t *testing.T) {
	f, _ := newFakeWithDataset(t)
	ctx := context.Background()

	f.SetRows("/w/pcal0", 0)
	require.NoError(t, f.GainCal(ctx, GainCalParams{Vis: "/w/t.ms", Caltable: "/w/pcal0"}))
	n, err := f.NRows(ctx, "/w/pcal0")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.NRows(ctx, "/w/missing")
	assert.Error(t, err)
}

func TestFakeDelMod(t *testing.T) {
	f, _ := newFakeWithDataset(t)
	ctx := context.Background()
	require.NoError(t, f.SetColumns("/w/t.ms", ColumnModel))

	require.NoError(t, f.DelMod(ctx, "/w/t.ms", true, false))
	cols, _ := f.ColumnNames(ctx, "/w/t.ms")
	assert.Contains(t, cols, ColumnModel, "otf only keeps MODEL_DATA")

	require.NoError(t, f.DelMod(ctx, "/w/t.ms", true, true))
	cols, _ = f.ColumnNames(ctx, "/w/t.ms")
	assert.NotContains(t, cols, ColumnModel)
}

func TestFakeSplit(t *testing.T) {
	f, fs := newFakeWithDataset(t)
	ctx := context.Background()

	require.NoError(t, f.Split(ctx, "/w/t.ms", "/w/t.selfcal.ms", "corrected"))
	assert.True(t, fs.Exists("/w/t.selfcal.ms"))
	assert.Error(t, f.Split(ctx, "/w/t.ms", "/w/t.selfcal.ms", "corrected"))

	require.NoError(t, f.StatWt(ctx, "/w/t.selfcal.ms", "data"))
	assert.Error(t, f.StatWt(ctx, "/w/none.ms", "data"))

	calls := f.CallsTo("split")
	require.Len(t, calls, 2)
	assert.Equal(t, SplitArgs{OutputVis: "/w/t.selfcal.ms", DataColumn: "corrected"}, calls[0].Params)
}

func TestFakeFailOn(t *testing.T) {
	f, _ := newFakeWithDataset(t)
	boom := errors.New("gaincal exploded")
	f.FailOn["gaincal"] = boom

	err := f.GainCal(context.Background(), GainCalParams{Vis: "/w/t.ms", Caltable: "/w/pcal0"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"gaincal"}, f.Tasks(), "failed calls are still recorded")
}

func TestFakePlotCal(t *testing.T) {
	f, fs := newFakeWithDataset(t)
	ctx := context.Background()
	require.NoError(t, f.GainCal(ctx, GainCalParams{Vis: "/w/t.ms", Caltable: "/w/pcal0"}))

	require.NoError(t, f.PlotCal(ctx, PlotCalParams{Caltable: "/w/pcal0", FigFile: "/w/plots/pcal0.png"}))
	assert.True(t, fs.Exists("/w/plots/pcal0.png"))
	assert.Error(t, f.PlotCal(ctx, PlotCalParams{Caltable: "/w/none"}))
}

func TestFakeUVSubAndClearCal(t *testing.T) {
	f, _ := newFakeWithDataset(t)
	ctx := context.Background()

	require.NoError(t, f.UVSub(ctx, "/w/t.ms"))
	require.NoError(t, f.ClearCal(ctx, "/w/t.ms"))
	require.NoError(t, f.FlagData(ctx, FlagDataParams{Vis: "/w/t.ms", Mode: "rflag"}))
	assert.Error(t, f.FlagData(ctx, FlagDataParams{Vis: "/w/none.ms", Mode: "rflag"}))
	assert.Equal(t, []string{"uvsub", "clearcal", "flagdata", "flagdata"}, f.Tasks())
}
