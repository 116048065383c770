package imager

import (
	"context"
	"sync"
)

// MockImager returns a scripted PSNR sequence. Once the sequence is
// exhausted the last value repeats. Peak is PSNR times Stdv.
type MockImager struct {
	base

	mu   sync.Mutex
	psnr []float64
	// Stdv is the noise reported with every result.
	Stdv float64
	// Err, when set, is returned by every Run.
	Err error
	// OnRun is called before each result is returned.
	OnRun func(vis, imagename string)

	Calls []MockRun
}

// MockRun records one Run call together with the parameters in force.
type MockRun struct {
	Vis       string
	Imagename string
	Params    Params
}

// NewMockImager creates a MockImager returning psnr in order.
func NewMockImager(params *Params, psnr ...float64) *MockImager {
	if params == nil {
		params = DefaultParams()
		params.Output = "mock"
		params.Cell = "0.1arcsec"
	}
	return &MockImager{base: base{params: params}, psnr: psnr, Stdv: 1e-4}
}

// Run returns the next scripted result.
func (m *MockImager) Run(ctx context.Context, vis, imagename string) (Stats, error) {
	m.mu.Lock()
	i := len(m.Calls)
	m.Calls = append(m.Calls, MockRun{Vis: vis, Imagename: imagename, Params: *m.params.Clone()})
	hook := m.OnRun
	m.mu.Unlock()

	if hook != nil {
		hook(vis, imagename)
	}
	if m.Err != nil {
		return Stats{}, m.Err
	}

	var psnr float64
	if len(m.psnr) > 0 {
		if i >= len(m.psnr) {
			i = len(m.psnr) - 1
		}
		psnr = m.psnr[i]
	}
	return Stats{Peak: psnr * m.Stdv, Stdv: m.Stdv, PSNR: psnr}, nil
}

// Runs returns the number of Run calls.
func (m *MockImager) Runs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
