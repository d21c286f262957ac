package state

import (
	"database/sql"
	"fmt"

	"github.com/tabwright-labs/tabwright/pkg/core"
)

// RecordAttempt inserts a healing attempt together with its test results in
// a single transaction.
func (s *SQLiteStore) RecordAttempt(runID string, att *core.ExecutionAttempt) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	if att.ID == "" {
		att.ID = generateID()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var rootCause, corrected any
	var confidence any
	if att.Diagnosis != nil {
		rootCause = att.Diagnosis.RootCause
		corrected = att.Diagnosis.CorrectedExpression
		confidence = att.Diagnosis.Confidence
	}

	_, err = tx.Exec(
		`INSERT INTO heal_attempts (id, run_id, step_ordinal, ordinal, expression, applied,
		 root_cause, corrected_expression, confidence, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		att.ID, runID, att.StepOrdinal, att.Ordinal, att.Expression, att.Applied,
		rootCause, corrected, confidence, att.StartedAt, att.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert attempt: %w", err)
	}

	for _, tr := range att.Tests {
		_, err = tx.Exec(
			`INSERT INTO test_results (run_id, attempt_id, name, passed, message, duration_ms, executed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, att.ID, tr.Name, tr.Passed, tr.Message, tr.DurationMS, tr.ExecutedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert attempt test result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ListAttempts retrieves a run's healing attempts, ordered by step then
// attempt ordinal, each with its test results rebuilt.
func (s *SQLiteStore) ListAttempts(runID string) ([]*core.ExecutionAttempt, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT id, step_ordinal, ordinal, expression, applied,
		 root_cause, corrected_expression, confidence, started_at, completed_at
		 FROM heal_attempts WHERE run_id = ? ORDER BY step_ordinal, ordinal`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*core.ExecutionAttempt
	byID := make(map[string]*core.ExecutionAttempt)
	for rows.Next() {
		att := &core.ExecutionAttempt{}
		var rootCause, corrected sql.NullString
		var confidence sql.NullFloat64
		var completedAt sql.NullTime

		err := rows.Scan(&att.ID, &att.StepOrdinal, &att.Ordinal, &att.Expression, &att.Applied,
			&rootCause, &corrected, &confidence, &att.StartedAt, &completedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}

		if rootCause.Valid {
			att.Diagnosis = &core.DiagnosisRecord{
				RootCause:           rootCause.String,
				CorrectedExpression: corrected.String,
				Confidence:          confidence.Float64,
			}
		}
		if completedAt.Valid {
			t := completedAt.Time
			att.CompletedAt = &t
		}

		attempts = append(attempts, att)
		byID[att.ID] = att
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attachAttemptTests(runID, byID); err != nil {
		return nil, err
	}

	return attempts, nil
}

// attachAttemptTests loads every attempt-linked test result for a run and
// distributes them onto the attempts in insertion order.
func (s *SQLiteStore) attachAttemptTests(runID string, byID map[string]*core.ExecutionAttempt) error {
	if len(byID) == 0 {
		return nil
	}

	rows, err := s.db.Query(
		`SELECT attempt_id, name, passed, message, duration_ms, executed_at
		 FROM test_results WHERE run_id = ? AND attempt_id IS NOT NULL ORDER BY id`,
		runID,
	)
	if err != nil {
		return fmt.Errorf("failed to list attempt test results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var attemptID string
		var tr core.TestResult

		err := rows.Scan(&attemptID, &tr.Name, &tr.Passed, &tr.Message, &tr.DurationMS, &tr.ExecutedAt)
		if err != nil {
			return fmt.Errorf("failed to scan attempt test result: %w", err)
		}

		if att, ok := byID[attemptID]; ok {
			att.Tests = append(att.Tests, tr)
		}
	}

	return rows.Err()
}
