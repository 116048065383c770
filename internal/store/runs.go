package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunRecord is one pipeline run.
type RunRecord struct {
	RunID       string          `json:"run_id"`
	Name        string          `json:"name"`
	Vis         string          `json:"vis"`
	Status      string          `json:"status"`
	Config      json.RawMessage `json:"config,omitempty"`
	OutputVis   string          `json:"output_vis,omitempty"`
	StatWtVis   string          `json:"statwt_vis,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// InsertRun records the start of a run and returns it with a fresh ID.
func (s *Store) InsertRun(name, vis string, config json.RawMessage) (*RunRecord, error) {
	rec := &RunRecord{
		RunID:     uuid.NewString(),
		Name:      name,
		Vis:       vis,
		Status:    StatusRunning,
		Config:    config,
		StartedAt: s.now(),
	}
	query := `
		INSERT INTO selfcal_runs (run_id, name, vis, status, config_json, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	var cfg *string
	if len(config) > 0 {
		c := string(config)
		cfg = &c
	}
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(query, rec.RunID, name, vis, rec.Status, cfg, formatTime(rec.StartedAt))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("inserting run %s: %w", name, err)
	}
	return rec, nil
}

// CompleteRun sets the final status, the output datasets and any error.
func (s *Store) CompleteRun(runID, status, outputVis, statwtVis, errMsg string) error {
	query := `
		UPDATE selfcal_runs
		SET status = ?, output_vis = ?, statwt_vis = ?, error = ?, completed_at = ?
		WHERE run_id = ?
	`
	completed := s.now()
	var n int64
	err := retryOnBusy(func() error {
		res, err := s.db.Exec(query, status, nullStr(outputVis), nullStr(statwtVis), nullStr(errMsg), formatTime(completed), runID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("completing run %s: %w", runID, err)
	}
	if n == 0 {
		return fmt.Errorf("completing run %s: %w", runID, ErrNotFound)
	}
	return nil
}

const runColumns = `run_id, name, vis, status, config_json, output_vis, statwt_vis, error, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var rec RunRecord
	var cfg, outputVis, statwtVis, errMsg, completedAt sql.NullString
	var startedAt string
	if err := row.Scan(&rec.RunID, &rec.Name, &rec.Vis, &rec.Status, &cfg, &outputVis, &statwtVis, &errMsg, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	if cfg.Valid {
		rec.Config = json.RawMessage(cfg.String)
	}
	rec.OutputVis = outputVis.String
	rec.StatWtVis = statwtVis.String
	rec.Error = errMsg.String

	var err error
	if rec.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if rec.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetRun returns one run.
func (s *Store) GetRun(runID string) (*RunRecord, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM selfcal_runs WHERE run_id = ?`, runID)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting run %s: %w", runID, err)
	}
	return rec, nil
}

// ListRuns returns the most recent runs first. limit <= 0 means no limit.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM selfcal_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}
