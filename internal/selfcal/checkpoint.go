package selfcal

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/selfcal/internal/casa"
	"github.com/banshee-data/selfcal/internal/imager"
	"github.com/banshee-data/selfcal/internal/monitoring"
)

// saveSelfcal snapshots the dataset flags under version. With overwrite an
// existing snapshot of that name is deleted first.
func (s *Selfcal) saveSelfcal(ctx context.Context, version string, overwrite bool) error {
	if overwrite {
		if err := s.env.Toolkit.FlagManager(ctx, s.visfile, casa.FlagVersionDelete, version); err != nil {
			return fmt.Errorf("flagmanager delete %s: %w", version, err)
		}
	}
	if err := s.env.Toolkit.FlagManager(ctx, s.visfile, casa.FlagVersionSave, version); err != nil {
		return fmt.Errorf("flagmanager save %s: %w", version, err)
	}
	return nil
}

// restoreSelfcal restores the flag snapshot and clears the calibration and
// model the rolled-back iteration left behind. Images already written stay
// on disk.
func (s *Selfcal) restoreSelfcal(ctx context.Context, version string) error {
	if err := s.env.Toolkit.FlagManager(ctx, s.visfile, casa.FlagVersionRestore, version); err != nil {
		return fmt.Errorf("flagmanager restore %s: %w", version, err)
	}
	if err := s.env.Toolkit.ClearCal(ctx, s.visfile); err != nil {
		return fmt.Errorf("clearcal %s: %w", s.visfile, err)
	}
	if err := s.env.Toolkit.DelMod(ctx, s.visfile, true, true); err != nil {
		return fmt.Errorf("delmod %s: %w", s.visfile, err)
	}
	return nil
}

// finishIteration decides between keeping and retracting the iteration that
// was just imaged. It returns true when the stage must stop.
func (s *Selfcal) finishIteration(ctx context.Context, st step, stats imager.Stats) (bool, error) {
	result := IterationResult{
		Index:    st.index,
		Solint:   st.solint,
		Caltable: st.caltable,
		Version:  st.version,
		Image:    st.image,
		Stats:    stats,
	}
	if !s.cfg.RestorePSNR || s.cfg.DryRun {
		if s.cfg.DryRun && s.cfg.RestorePSNR {
			monitoring.Logf("[selfcal] Dry run, keeping iteration %d without a PSNR check", st.index)
		}
		result.Visfile = s.visfile
		result.Outcome = OutcomeAccepted
		s.notify(result)
		return false, nil
	}

	n := len(s.psnr)
	if n > 1 && s.psnr[n-1] <= s.psnr[n-2] {
		monitoring.Logf("[selfcal] PSNR did not improve (%v <= %v), restoring %s", s.psnr[n-1], s.psnr[n-2], st.version)
		if err := s.restoreSelfcal(ctx, s.versions[len(s.versions)-1]); err != nil {
			return false, err
		}
		// Without a committed copy the restore hit the dataset the stage
		// started from, so its earlier calibration has to be put back.
		if s.visfile == s.backup && len(s.priorApplied) > 0 {
			if err := s.apply(ctx, s.priorApplied); err != nil {
				return false, err
			}
			monitoring.Logf("[selfcal] Re-applied %s to %s", strings.Join(s.priorApplied, ","), s.visfile)
		}
		s.applied = s.priorApplied
		s.caltables = s.caltables[:len(s.caltables)-1]
		s.versions = s.versions[:len(s.versions)-1]
		s.psnr = s.psnr[:n-1]
		if st.undo != nil {
			st.undo()
		}
		s.visfile = s.backup
		s.stopped = true

		result.Visfile = s.visfile
		result.Outcome = OutcomeRolledBack
		s.notify(result)
		return true, nil
	}

	if err := s.commit(st.index); err != nil {
		return false, err
	}
	result.Visfile = s.visfile
	result.Outcome = OutcomeCommitted
	s.notify(result)
	return false, nil
}

// commit copies the improved dataset to an iteration-tagged path and makes
// the copy current. The path it leaves becomes the rollback target.
func (s *Selfcal) commit(i int) error {
	dst := strings.TrimSuffix(s.baseVis, ".ms") + "_" + s.calmode + strconv.Itoa(i) + ".ms"
	if err := s.env.FS.RemoveAll(dst); err != nil {
		return fmt.Errorf("remove %s: %w", dst, err)
	}
	if err := s.env.FS.CopyDir(s.visfile, dst); err != nil {
		return fmt.Errorf("copy %s to %s: %w", s.visfile, dst, err)
	}
	s.backup = s.visfile
	s.visfile = dst
	s.copies = append(s.copies, dst)
	monitoring.Logf("[selfcal] Committed iteration %d to %s", i, dst)

	if s.cfg.PruneCopies {
		return s.prune()
	}
	return nil
}

// prune removes copies made by this stage that are neither current nor the
// rollback target.
func (s *Selfcal) prune() error {
	kept := s.copies[:0]
	for _, c := range s.copies {
		if c == s.visfile || c == s.backup {
			kept = append(kept, c)
			continue
		}
		if err := s.env.FS.RemoveAll(c); err != nil {
			return fmt.Errorf("prune %s: %w", c, err)
		}
		if err := s.env.FS.RemoveAll(c + ".flagversions"); err != nil {
			return fmt.Errorf("prune %s: %w", c, err)
		}
		monitoring.Logf("[selfcal] Pruned %s", c)
	}
	s.copies = kept
	return nil
}
