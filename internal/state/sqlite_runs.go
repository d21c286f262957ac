package state

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tabwright-labs/tabwright/pkg/core"
)

// CreateRun inserts a new workflow run. A missing ID, status, phase, or
// start time is filled in before the insert.
func (s *SQLiteStore) CreateRun(run *core.WorkflowRun) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	if run.ID == "" {
		run.ID = generateID()
	}
	if run.Status == "" {
		run.Status = core.RunStatusRunning
	}
	if run.Phase == "" {
		run.Phase = core.PhaseClarify
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	s.logger.Debug("creating run",
		slog.String("id", run.ID),
		slog.String("request_id", run.RequestID))

	_, err := s.db.Exec(
		`INSERT INTO workflow_runs (id, request_id, summary, phase, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.RequestID, run.Summary, string(run.Phase), string(run.Status), run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(id string) (*core.WorkflowRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	row := s.db.QueryRow(
		`SELECT id, request_id, summary, phase, status, error, started_at, completed_at
		 FROM workflow_runs WHERE id = ?`,
		id,
	)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns retrieves the most recent runs, newest first, up to the given
// limit. A limit of zero or less lists everything.
func (s *SQLiteStore) ListRuns(limit int) ([]*core.WorkflowRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.Query(
		`SELECT id, request_id, summary, phase, status, error, started_at, completed_at
		 FROM workflow_runs ORDER BY started_at DESC, id LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*core.WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// UpdateRunPhase records the phase a run has advanced to.
func (s *SQLiteStore) UpdateRunPhase(id string, phase core.Phase) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	result, err := s.db.Exec(
		`UPDATE workflow_runs SET phase = ? WHERE id = ?`,
		string(phase), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update run phase: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

// CompleteRun marks a run as finished with the given status.
func (s *SQLiteStore) CompleteRun(id string, status core.RunStatus, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	now := time.Now().UTC()
	var errorPtr *string
	if errMsg != "" {
		errorPtr = &errMsg
	}

	result, err := s.db.Exec(
		`UPDATE workflow_runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(status), now, errorPtr, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*core.WorkflowRun, error) {
	run := &core.WorkflowRun{}
	var phase, status string
	var errMsg sql.NullString
	var completedAt sql.NullTime

	err := sc.Scan(&run.ID, &run.RequestID, &run.Summary, &phase, &status, &errMsg, &run.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	run.Phase = core.Phase(phase)
	run.Status = core.RunStatus(status)
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}

	return run, nil
}
