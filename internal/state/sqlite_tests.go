package state

import (
	"fmt"

	"github.com/tabwright-labs/tabwright/pkg/core"
)

// RecordTestResult stores a run-level test outcome tagged with the phase
// that produced it.
func (s *SQLiteStore) RecordTestResult(runID string, phase core.Phase, result core.TestResult) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	_, err := s.db.Exec(
		`INSERT INTO test_results (run_id, phase, name, passed, message, duration_ms, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, string(phase), result.Name, result.Passed, result.Message, result.DurationMS, result.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record test result: %w", err)
	}

	return nil
}

// ListTestResults retrieves the run-level test outcomes recorded for a phase,
// in the order they were recorded. Attempt-linked results are excluded; they
// are returned by ListAttempts.
func (s *SQLiteStore) ListTestResults(runID string, phase core.Phase) ([]core.TestResult, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT name, passed, message, duration_ms, executed_at
		 FROM test_results WHERE run_id = ? AND phase = ? AND attempt_id IS NULL ORDER BY id`,
		runID, string(phase),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list test results: %w", err)
	}
	defer rows.Close()

	var results []core.TestResult
	for rows.Next() {
		var tr core.TestResult
		if err := rows.Scan(&tr.Name, &tr.Passed, &tr.Message, &tr.DurationMS, &tr.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan test result: %w", err)
		}
		results = append(results, tr)
	}

	return results, rows.Err()
}
