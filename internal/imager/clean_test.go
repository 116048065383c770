package imager

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/selfcal/internal/casa"
	"github.com/banshee-data/selfcal/internal/testutil"
)

type recordingRunner struct {
	scripts [][]casa.Statement
	err     error
}

func (r *recordingRunner) Exec(ctx context.Context, stmts ...casa.Statement) (string, error) {
	r.scripts = append(r.scripts, stmts)
	return "", r.err
}

func (r *recordingRunner) rendered() []string {
	var out []string
	for _, s := range r.scripts[len(r.scripts)-1] {
		out = append(out, s.Python())
	}
	return out
}

func TestNewCleanValidates(t *testing.T) {
	_, err := NewClean(&recordingRunner{}, DefaultParams())
	assert.ErrorContains(t, err, "invalid imager parameters")
}

func TestCleanRun(t *testing.T) {
	runner := &recordingRunner{}
	p := validParams()
	p.PhaseCenter = "J2000 19h24m51.05 -29d14m30.1"
	c, err := NewClean(runner, p)
	require.NoError(t, err)

	var gotImage, gotResidual, gotEstimator string
	c.Stats = func(imagePath, residualPath, estimator string) (Stats, error) {
		gotImage, gotResidual, gotEstimator = imagePath, residualPath, estimator
		return Stats{Peak: 2, Stdv: 0.01, PSNR: 200}, nil
	}

	s, err := c.Run(context.Background(), "t_p0.ms", "J1924_ph1")
	require.NoError(t, err)
	assert.Equal(t, 200.0, s.PSNR)
	assert.Equal(t, "J1924_ph1.image.fits", gotImage)
	assert.Equal(t, "J1924_ph1.residual.fits", gotResidual)
	assert.Equal(t, NoiseStd, gotEstimator)

	lines := runner.rendered()
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "rmtables(tablenames=['J1924_ph1.image', "))
	assert.Equal(t, "tclean(vis='t_p0.ms', imagename='J1924_ph1', phasecenter='J2000 19h24m51.05 -29d14m30.1', "+
		"datacolumn='corrected', specmode='mfs', imsize=[512, 512], cell='0.05arcsec', deconvolver='hogbom', "+
		"weighting='briggs', robust=0.5, niter=100, gain=0.1, savemodel='modelcolumn', interactive=False)", lines[1])
	assert.Equal(t, "exportfits(imagename='J1924_ph1.image', fitsimage='J1924_ph1.image.fits', overwrite=True)", lines[2])
	assert.Equal(t, "exportfits(imagename='J1924_ph1.residual', fitsimage='J1924_ph1.residual.fits', overwrite=True)", lines[3])
}

func TestCleanRunMTMFS(t *testing.T) {
	runner := &recordingRunner{}
	p := validParams()
	p.Deconvolver = "mtmfs"
	p.Weighting = "natural"
	p.NSigma = 3
	c, err := NewClean(runner, p)
	require.NoError(t, err)
	c.Stats = func(imagePath, residualPath, estimator string) (Stats, error) {
		assert.Equal(t, "img.image.tt0.fits", imagePath)
		assert.Equal(t, "img.residual.tt0.fits", residualPath)
		return Stats{}, nil
	}

	_, err = c.Run(context.Background(), "t.ms", "img")
	require.NoError(t, err)
	tclean := runner.rendered()[1]
	assert.NotContains(t, tclean, "robust")
	assert.Contains(t, tclean, "nsigma=3.0")
}

func TestCleanRunParamsChangeBetweenRuns(t *testing.T) {
	runner := &recordingRunner{}
	c, err := NewClean(runner, validParams())
	require.NoError(t, err)
	c.Stats = func(string, string, string) (Stats, error) { return Stats{}, nil }

	require.NoError(t, c.Params().Set("niter", 2000))
	_, err = c.Run(context.Background(), "t.ms", "img")
	require.NoError(t, err)
	assert.Contains(t, runner.rendered()[1], "niter=2000")

	require.NoError(t, c.Params().Set("weighting", "bogus"))
	_, err = c.Run(context.Background(), "t.ms", "img")
	assert.ErrorContains(t, err, "weighting")
}

func TestCleanRunErrors(t *testing.T) {
	boom := errors.New("tclean crashed")
	c, err := NewClean(&recordingRunner{err: boom}, validParams())
	require.NoError(t, err)
	_, err = c.Run(context.Background(), "t.ms", "img")
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "tclean img")

	c, err = NewClean(&recordingRunner{}, validParams())
	require.NoError(t, err)
	c.Stats = func(string, string, string) (Stats, error) { return Stats{}, errNoPixels }
	_, err = c.Run(context.Background(), "t.ms", "img")
	assert.ErrorIs(t, err, errNoPixels)
}

func TestCleanRunDryRun(t *testing.T) {
	c, err := NewClean(&recordingRunner{}, validParams())
	require.NoError(t, err)
	c.DryRun = true
	c.Stats = func(string, string, string) (Stats, error) {
		t.Fatal("stats must not be read in a dry run")
		return Stats{}, nil
	}
	s, err := c.Run(context.Background(), "t.ms", "img")
	require.NoError(t, err)
	assert.Zero(t, s)
}

func TestCleanRunReadsExportedFITS(t *testing.T) {
	dir := t.TempDir()
	imagename := filepath.Join(dir, "J1924_original")
	testutil.WriteFITS(t, imagename+".image.fits", testutil.PointSource(4, 4, 0, 3), 4, 4)
	testutil.WriteFITS(t, imagename+".residual.fits", []float32{1, -1, 1, -1, 1, -1, 1, -1, 1, -1, 1, -1, 1, -1, 1, -1}, 4, 4)

	p := validParams()
	p.NoiseEstimator = NoiseRMS
	c, err := NewClean(&recordingRunner{}, p)
	require.NoError(t, err)

	s, err := c.Run(context.Background(), "t.ms", imagename)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, s.Peak, 1e-9)
	assert.InDelta(t, 1.0, s.Stdv, 1e-9)
	assert.InDelta(t, 3.0, s.PSNR, 1e-9)
}

func TestImagerAccessors(t *testing.T) {
	p := validParams()
	p.Field = "J1924-2914"
	p.Spw = "0,1"
	p.PhaseCenter = "J2000 0h 0d"
	c, err := NewClean(&recordingRunner{}, p)
	require.NoError(t, err)

	assert.Same(t, p, c.Params())
	assert.Equal(t, "J1924-2914", c.Field())
	assert.Equal(t, "0,1", c.Spw())
	assert.Equal(t, "J1924", c.Output())
	assert.Equal(t, "J2000 0h 0d", c.PhaseCenter())
}
