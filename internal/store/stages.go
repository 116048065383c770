package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/selfcal/internal/selfcal"
)

// StageRecord is one calibration stage of a run.
type StageRecord struct {
	StageID       string     `json:"stage_id"`
	RunID         string     `json:"run_id"`
	Position      int        `json:"position"`
	CalMode       string     `json:"calmode"`
	Solints       []string   `json:"solints"`
	InputVis      string     `json:"input_vis"`
	InputCaltable string     `json:"input_caltable,omitempty"`
	FinalVis      string     `json:"final_vis,omitempty"`
	FinalCaltable string     `json:"final_caltable,omitempty"`
	PSNRHistory   []float64  `json:"psnr_history,omitempty"`
	Stopped       bool       `json:"stopped"`
	Status        string     `json:"status"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// IterationRecord is one imaged state of a stage. Iteration is -1 for the
// baseline image.
type IterationRecord struct {
	ID         int64     `json:"id"`
	StageID    string    `json:"stage_id"`
	Iteration  int       `json:"iteration"`
	Solint     string    `json:"solint,omitempty"`
	Caltable   string    `json:"caltable,omitempty"`
	Version    string    `json:"version,omitempty"`
	Image      string    `json:"image"`
	Vis        string    `json:"vis"`
	Peak       float64   `json:"peak"`
	Stdv       float64   `json:"stdv"`
	PSNR       float64   `json:"psnr"`
	Outcome    string    `json:"outcome"`
	RecordedAt time.Time `json:"recorded_at"`
}

// InsertStage records a constructed stage before it runs.
func (s *Store) InsertStage(runID string, position int, stage selfcal.Stage, solints []string) (*StageRecord, error) {
	rec := &StageRecord{
		StageID:       uuid.NewString(),
		RunID:         runID,
		Position:      position,
		CalMode:       stage.CalMode(),
		Solints:       append([]string(nil), solints...),
		InputVis:      stage.Visfile(),
		InputCaltable: stage.InputCaltable(),
		Status:        StatusRunning,
		StartedAt:     s.now(),
	}
	solintsJSON, err := json.Marshal(rec.Solints)
	if err != nil {
		return nil, err
	}
	query := `
		INSERT INTO selfcal_stages (
			stage_id, run_id, position, calmode, solints, input_vis, input_caltable, status, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err = retryOnBusy(func() error {
		_, err := s.db.Exec(query,
			rec.StageID,
			runID,
			position,
			rec.CalMode,
			string(solintsJSON),
			rec.InputVis,
			nullStr(rec.InputCaltable),
			rec.Status,
			formatTime(rec.StartedAt),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("inserting stage %d of run %s: %w", position, runID, err)
	}
	return rec, nil
}

// CompleteStage stores the final state of a stage.
func (s *Store) CompleteStage(stageID string, stage selfcal.Stage, runErr error) error {
	status := StatusComplete
	var errMsg string
	if runErr != nil {
		status = StatusError
		errMsg = runErr.Error()
	}
	var finalCaltable string
	if tables := stage.Caltables(); len(tables) > 0 {
		finalCaltable = tables[len(tables)-1]
	}
	history, err := json.Marshal(stage.PSNRHistory())
	if err != nil {
		return err
	}

	query := `
		UPDATE selfcal_stages
		SET final_vis = ?, final_caltable = ?, psnr_history = ?, stopped = ?, status = ?, error = ?, completed_at = ?
		WHERE stage_id = ?
	`
	completed := s.now()
	err = retryOnBusy(func() error {
		_, err := s.db.Exec(query,
			stage.Visfile(),
			nullStr(finalCaltable),
			string(history),
			stage.Stopped(),
			status,
			nullStr(errMsg),
			formatTime(completed),
			stageID,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("completing stage %s: %w", stageID, err)
	}
	return nil
}

// ListStages returns the stages of a run in order.
func (s *Store) ListStages(runID string) ([]StageRecord, error) {
	query := `
		SELECT stage_id, run_id, position, calmode, solints, input_vis, input_caltable,
		       final_vis, final_caltable, psnr_history, stopped, status, error, started_at, completed_at
		FROM selfcal_stages
		WHERE run_id = ?
		ORDER BY position
	`
	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("listing stages of run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []StageRecord
	for rows.Next() {
		var rec StageRecord
		var solints, startedAt string
		var inputCaltable, finalVis, finalCaltable, history, errMsg, completedAt sql.NullString
		if err := rows.Scan(
			&rec.StageID, &rec.RunID, &rec.Position, &rec.CalMode, &solints, &rec.InputVis, &inputCaltable,
			&finalVis, &finalCaltable, &history, &rec.Stopped, &rec.Status, &errMsg, &startedAt, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning stage: %w", err)
		}
		if err := json.Unmarshal([]byte(solints), &rec.Solints); err != nil {
			return nil, fmt.Errorf("decoding solints of stage %s: %w", rec.StageID, err)
		}
		if history.Valid && history.String != "" {
			if err := json.Unmarshal([]byte(history.String), &rec.PSNRHistory); err != nil {
				return nil, fmt.Errorf("decoding psnr history of stage %s: %w", rec.StageID, err)
			}
		}
		rec.InputCaltable = inputCaltable.String
		rec.FinalVis = finalVis.String
		rec.FinalCaltable = finalCaltable.String
		rec.Error = errMsg.String
		if rec.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if rec.CompletedAt, err = parseNullTime(completedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// InsertIteration appends one iteration result and sets rec.ID.
func (s *Store) InsertIteration(rec *IterationRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = s.now()
	}
	query := `
		INSERT INTO selfcal_iterations (
			stage_id, iteration, solint, caltable, version, image, vis, peak, stdv, psnr, outcome, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err := retryOnBusy(func() error {
		res, err := s.db.Exec(query,
			rec.StageID,
			rec.Iteration,
			nullStr(rec.Solint),
			nullStr(rec.Caltable),
			nullStr(rec.Version),
			rec.Image,
			rec.Vis,
			rec.Peak,
			rec.Stdv,
			rec.PSNR,
			rec.Outcome,
			formatTime(rec.RecordedAt),
		)
		if err != nil {
			return err
		}
		rec.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting iteration %d of stage %s: %w", rec.Iteration, rec.StageID, err)
	}
	return nil
}

// ListIterations returns the iterations of a stage in recording order.
func (s *Store) ListIterations(stageID string) ([]IterationRecord, error) {
	query := `
		SELECT id, stage_id, iteration, solint, caltable, version, image, vis, peak, stdv, psnr, outcome, recorded_at
		FROM selfcal_iterations
		WHERE stage_id = ?
		ORDER BY id
	`
	rows, err := s.db.Query(query, stageID)
	if err != nil {
		return nil, fmt.Errorf("listing iterations of stage %s: %w", stageID, err)
	}
	defer rows.Close()

	var out []IterationRecord
	for rows.Next() {
		var rec IterationRecord
		var solint, caltable, version sql.NullString
		var recordedAt string
		if err := rows.Scan(
			&rec.ID, &rec.StageID, &rec.Iteration, &solint, &caltable, &version,
			&rec.Image, &rec.Vis, &rec.Peak, &rec.Stdv, &rec.PSNR, &rec.Outcome, &recordedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning iteration: %w", err)
		}
		rec.Solint = solint.String
		rec.Caltable = caltable.String
		rec.Version = version.String
		if rec.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetStage returns one stage.
func (s *Store) GetStage(stageID string) (*StageRecord, error) {
	var runID string
	err := s.db.QueryRow(`SELECT run_id FROM selfcal_stages WHERE stage_id = ?`, stageID).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stage %s: %w", stageID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting stage %s: %w", stageID, err)
	}
	stages, err := s.ListStages(runID)
	if err != nil {
		return nil, err
	}
	for i := range stages {
		if stages[i].StageID == stageID {
			return &stages[i], nil
		}
	}
	return nil, fmt.Errorf("stage %s: %w", stageID, ErrNotFound)
}
