// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/astrogo/fitsio"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// WriteFITS writes a width x height BITPIX -32 image to path, creating parent
// directories. data is laid out row by row.
func WriteFITS(t *testing.T, path string, data []float32, width, height int) {
	t.Helper()
	if len(data) != width*height {
		t.Fatalf("WriteFITS: %d pixels for %dx%d image", len(data), width, height)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("WriteFITS: %v", err)
	}

	w, err := os.Create(path)
	if err != nil {
		t.Fatalf("WriteFITS: %v", err)
	}
	defer w.Close()

	f, err := fitsio.Create(w)
	if err != nil {
		t.Fatalf("WriteFITS: %v", err)
	}
	defer f.Close()

	im := fitsio.NewImage(-32, []int{width, height})
	defer im.Close()

	if err := im.Write(data); err != nil {
		t.Fatalf("WriteFITS: %v", err)
	}
	if err := f.Write(im); err != nil {
		t.Fatalf("WriteFITS: %v", err)
	}
}

// PointSource returns a width x height image of constant background with a
// single bright pixel at its centre.
func PointSource(width, height int, background, peak float32) []float32 {
	data := make([]float32, width*height)
	for i := range data {
		data[i] = background
	}
	data[(height/2)*width+width/2] = peak
	return data
}
