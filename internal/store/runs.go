package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"newsdigest/internal/apperror"
	"newsdigest/internal/model"
)

// CreateRun inserts a new RunRecord in state Scrape and returns its id.
func (s *Store) CreateRun(ctx context.Context, windowHours, topN int, startedAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO runs (started_at, window_hours, top_n, state, counters_json) VALUES (?, ?, ?, ?, '{}')`,
		toNullTime(startedAt), windowHours, topN, string(model.RunScrape))
	if err != nil {
		return 0, &apperror.StoreError{Op: "create_run", Err: err}
	}
	return res.LastInsertId()
}

// UpdateRunState persists a stage transition plus the counters accumulated
// so far; this is the "persists a RunRecord update" step of every
// orchestrator transition.
func (s *Store) UpdateRunState(ctx context.Context, runID int64, state model.RunState, counters model.StageCounters) error {
	payload, err := json.Marshal(counters)
	if err != nil {
		return &apperror.StoreError{Op: "marshal_counters", Err: err}
	}
	_, err = s.db.ExecContext(ctx, `UPDATE runs SET state = ?, counters_json = ? WHERE run_id = ?`,
		string(state), string(payload), runID)
	if err != nil {
		return &apperror.StoreError{Op: "update_run_state", Err: err}
	}
	return nil
}

// FinishRun marks a run terminal and records an error summary, if any.
func (s *Store) FinishRun(ctx context.Context, runID int64, state model.RunState, errSummary string, finishedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET state = ?, error_summary = ?, finished_at = ? WHERE run_id = ?`,
		string(state), nullString(errSummary), toNullTime(finishedAt), runID)
	if err != nil {
		return &apperror.StoreError{Op: "finish_run", Err: err}
	}
	return nil
}

// Run reads a RunRecord by id.
func (s *Store) Run(ctx context.Context, runID int64) (*model.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT run_id, started_at, finished_at, window_hours, top_n, state, counters_json, error_summary FROM runs WHERE run_id = ?`, runID)
	return scanRun(row)
}

// LastRun returns the most recently started run, or ErrNotFound if none
// exist yet — used by stats().
func (s *Store) LastRun(ctx context.Context) (*model.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT run_id, started_at, finished_at, window_hours, top_n, state, counters_json, error_summary FROM runs ORDER BY run_id DESC LIMIT 1`)
	return scanRun(row)
}

func scanRun(row *sql.Row) (*model.RunRecord, error) {
	rr := &model.RunRecord{}
	var started string
	var finished, errSummary sql.NullString
	var countersJSON string
	var state string
	if err := row.Scan(&rr.RunID, &started, &finished, &rr.WindowHours, &rr.TopN, &state, &countersJSON, &errSummary); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, &apperror.StoreError{Op: "scan_run", Err: err}
	}
	rr.StartedAt = parseTime(started)
	rr.FinishedAt = parseTime(finished.String)
	rr.State = model.RunState(state)
	rr.ErrorSummary = errSummary.String
	_ = json.Unmarshal([]byte(countersJSON), &rr.Counters)
	return rr, nil
}
