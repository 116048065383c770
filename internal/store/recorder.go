package store

import (
	"sync"

	"github.com/banshee-data/selfcal/internal/monitoring"
	"github.com/banshee-data/selfcal/internal/selfcal"
)

// StageRecorder writes every iteration of a stage to the store. Write
// failures do not interrupt calibration; the first one is kept in Err.
type StageRecorder struct {
	store   *Store
	stageID string

	mu  sync.Mutex
	err error
}

var _ selfcal.Observer = (*StageRecorder)(nil)

// NewStageRecorder returns an observer that records into stageID.
func NewStageRecorder(s *Store, stageID string) *StageRecorder {
	return &StageRecorder{store: s, stageID: stageID}
}

// IterationDone implements selfcal.Observer.
func (r *StageRecorder) IterationDone(res selfcal.IterationResult) {
	rec := &IterationRecord{
		StageID:   r.stageID,
		Iteration: res.Index,
		Solint:    res.Solint,
		Caltable:  res.Caltable,
		Version:   res.Version,
		Image:     res.Image,
		Vis:       res.Visfile,
		Peak:      res.Stats.Peak,
		Stdv:      res.Stats.Stdv,
		PSNR:      res.Stats.PSNR,
		Outcome:   string(res.Outcome),
	}
	if err := r.store.InsertIteration(rec); err != nil {
		monitoring.Logf("[store] %v", err)
		r.mu.Lock()
		if r.err == nil {
			r.err = err
		}
		r.mu.Unlock()
	}
}

// Err returns the first write failure, if any.
func (r *StageRecorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
