package imager

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/selfcal/internal/command"
)

func TestWSCleanArgs(t *testing.T) {
	p := validParams()
	p.Deconvolver = "multiscale"
	p.Scales = []int{0, 5, 15}
	p.Threshold = "0.1mJy"
	p.NSigma = 3
	p.Field = "2"
	p.PhaseCenter = "J2000 19h24m51.05 -29d14m30.1"
	p.SaveModel = "none"

	args, err := wscleanArgs(p, "t.ms", "J1924_ph0")
	require.NoError(t, err)
	want := []string{
		"-name", "J1924_ph0",
		"-size", "512", "512",
		"-scale", "0.05asec",
		"-niter", "100",
		"-gain", "0.1",
		"-weight", "briggs", "0.5",
		"-threshold", "0.0001",
		"-auto-threshold", "3",
		"-multiscale", "-multiscale-scales", "0,5,15",
		"-field", "2",
		"-shift", "19h24m51.05", "-29d14m30.1",
		"-data-column", "CORRECTED_DATA",
		"-no-update-model-required",
		"t.ms",
	}
	assert.Equal(t, want, args)
}

func TestWSCleanArgsErrors(t *testing.T) {
	p := validParams()
	p.Cell = "0.05rad"
	_, err := wscleanArgs(p, "t.ms", "x")
	assert.ErrorContains(t, err, "invalid cell")

	p = validParams()
	p.Threshold = "5sigma"
	_, err = wscleanArgs(p, "t.ms", "x")
	assert.ErrorContains(t, err, "invalid threshold")

	p = validParams()
	p.PhaseCenter = "somewhere"
	_, err = wscleanArgs(p, "t.ms", "x")
	assert.ErrorContains(t, err, "invalid phasecenter")
}

func TestWSCleanScale(t *testing.T) {
	tests := map[string]string{
		"0.05arcsec": "0.05asec",
		"1arcmin":    "1amin",
		"0.01deg":    "0.01deg",
	}
	for in, want := range tests {
		got, err := wscleanScale(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := wscleanScale("xarcsec")
	assert.Error(t, err)
}

func TestParseFluxJy(t *testing.T) {
	v, err := parseFluxJy("20uJy")
	require.NoError(t, err)
	assert.InDelta(t, 2e-5, v, 1e-12)
	v, err = parseFluxJy("1.5Jy")
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)
	_, err = parseFluxJy("mJy")
	assert.Error(t, err)
}

func TestNewWSCleanRejectsMTMFS(t *testing.T) {
	p := validParams()
	p.Deconvolver = "mtmfs"
	_, err := NewWSClean(&command.Executor{}, "", p)
	assert.ErrorContains(t, err, "mtmfs")
}

func TestWSCleanRun(t *testing.T) {
	builder := command.NewMockCommandBuilder()
	exec := &command.Executor{Builder: builder}
	w, err := NewWSClean(exec, "/opt/wsclean", validParams())
	require.NoError(t, err)
	assert.Equal(t, "/opt/wsclean", w.Binary)

	w.Stats = func(imagePath, residualPath, estimator string) (Stats, error) {
		assert.Equal(t, "/img/J1924_ph0-image.fits", imagePath)
		assert.Equal(t, "/img/J1924_ph0-residual.fits", residualPath)
		return Stats{PSNR: 42}, nil
	}

	s, err := w.Run(context.Background(), "/data/t.ms", "/img/J1924_ph0")
	require.NoError(t, err)
	assert.Equal(t, 42.0, s.PSNR)

	cmd := builder.LastCommand()
	require.NotNil(t, cmd)
	require.True(t, cmd.IsShell)
	assert.True(t, strings.HasPrefix(cmd.Args[1], "/opt/wsclean -name /img/J1924_ph0 -size 512 512"))
	assert.True(t, strings.HasSuffix(cmd.Args[1], " /data/t.ms"))
}

func TestWSCleanRunFailure(t *testing.T) {
	builder := command.NewMockCommandBuilder()
	builder.SetNextExecutor(&command.MockCommandExecutor{
		Output: []byte("Reading data\nError: no such column CORRECTED_DATA\n"),
		Err:    errors.New("exit status 1"),
	})
	w, err := NewWSClean(&command.Executor{Builder: builder}, "", validParams())
	require.NoError(t, err)
	assert.Equal(t, "wsclean", w.Binary)

	_, err = w.Run(context.Background(), "t.ms", "img")
	assert.ErrorContains(t, err, "no such column CORRECTED_DATA")
}

func TestWSCleanRunDryRun(t *testing.T) {
	w, err := NewWSClean(&command.Executor{DryRun: true}, "", validParams())
	require.NoError(t, err)
	w.Stats = func(string, string, string) (Stats, error) {
		t.Fatal("stats must not be read in a dry run")
		return Stats{}, nil
	}
	s, err := w.Run(context.Background(), "t.ms", "img")
	require.NoError(t, err)
	assert.Zero(t, s)
}
