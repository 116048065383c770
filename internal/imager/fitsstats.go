package imager

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/astrogo/fitsio"
	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// madScale converts a median absolute deviation to a Gaussian sigma.
const madScale = 1.4826

var errNoPixels = errors.New("no finite pixels")

// ReadFITS returns the pixels of the primary image HDU of a FITS file as
// float64, flattened in file order.
func ReadFITS(path string) ([]float64, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	f, err := fitsio.Open(r)
	if err != nil {
		return nil, fmt.Errorf("open fits %s: %w", path, err)
	}
	defer f.Close()

	img, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("fits %s: primary HDU is not an image", path)
	}

	n := 1
	for _, ax := range img.Header().Axes() {
		n *= ax
	}
	data := make([]float64, n)
	if err := img.Read(&data); err != nil {
		return nil, fmt.Errorf("read fits %s: %w", path, err)
	}
	return data, nil
}

// StatsFromFITS reads the restored image and the residual image and computes
// their statistics. The two files are read concurrently.
func StatsFromFITS(imagePath, residualPath, estimator string) (Stats, error) {
	var image, residual []float64

	var g errgroup.Group
	g.Go(func() error {
		var err error
		image, err = ReadFITS(imagePath)
		return err
	})
	g.Go(func() error {
		var err error
		residual, err = ReadFITS(residualPath)
		return err
	})
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	return ComputeStats(image, residual, estimator)
}

// ComputeStats returns the peak of image, the noise of residual measured with
// estimator, and their ratio. Non-finite pixels (blanked regions outside the
// primary beam) are ignored. A zero noise yields a PSNR of 0.
func ComputeStats(image, residual []float64, estimator string) (Stats, error) {
	img := finite(image)
	res := finite(residual)
	if len(img) == 0 {
		return Stats{}, fmt.Errorf("image: %w", errNoPixels)
	}
	if len(res) == 0 {
		return Stats{}, fmt.Errorf("residual: %w", errNoPixels)
	}

	peak := floats.Max(img)

	var noise float64
	switch estimator {
	case NoiseStd, "":
		if len(res) > 1 {
			noise = stat.StdDev(res, nil)
		}
	case NoiseRMS:
		noise = math.Sqrt(floats.Dot(res, res) / float64(len(res)))
	case NoiseMAD:
		mad, err := stats.MedianAbsoluteDeviation(res)
		if err != nil {
			return Stats{}, fmt.Errorf("residual mad: %w", err)
		}
		noise = mad * madScale
	default:
		return Stats{}, fmt.Errorf("unknown noise estimator %q", estimator)
	}

	s := Stats{Peak: peak, Stdv: noise}
	if noise > 0 {
		s.PSNR = peak / noise
	}
	return s, nil
}

func finite(x []float64) []float64 {
	out := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}
