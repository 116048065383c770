// Package imager produces an image of a visibility dataset and measures its
// quality. The self-calibration engine only needs the peak brightness, the
// residual noise and their ratio (PSNR) for each image it asks for.
package imager

import "context"

// Stats summarises one image.
type Stats struct {
	Peak float64
	Stdv float64
	PSNR float64
}

// Imager images a dataset. The dataset path is passed on every call so the
// caller owns which copy of the data is current.
type Imager interface {
	// Run images vis into imagename and returns the image statistics.
	Run(ctx context.Context, vis, imagename string) (Stats, error)
	// Params exposes the mutable parameters for per-iteration overrides.
	Params() *Params

	Field() string
	Spw() string
	Output() string
	PhaseCenter() string
}

// base implements the accessor half of Imager.
type base struct {
	params *Params
}

func (b *base) Params() *Params     { return b.params }
func (b *base) Field() string       { return b.params.Field }
func (b *base) Spw() string         { return b.params.Spw }
func (b *base) Output() string      { return b.params.Output }
func (b *base) PhaseCenter() string { return b.params.PhaseCenter }

var (
	_ Imager = (*Clean)(nil)
	_ Imager = (*WSClean)(nil)
	_ Imager = (*MockImager)(nil)
)
