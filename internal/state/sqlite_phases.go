package state

import (
	"database/sql"
	"fmt"

	"github.com/tabwright-labs/tabwright/pkg/core"
)

// RecordPhase appends a phase transition record to a run's audit trail.
func (s *SQLiteStore) RecordPhase(runID string, rec *core.PhaseRecord) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	_, err := s.db.Exec(
		`INSERT INTO phase_records (run_id, phase, status, detail, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, string(rec.Phase), string(rec.Status), rec.Detail, rec.StartedAt, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record phase: %w", err)
	}

	return nil
}

// ListPhases retrieves a run's phase records in the order they were recorded.
func (s *SQLiteStore) ListPhases(runID string) ([]*core.PhaseRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT phase, status, detail, started_at, completed_at
		 FROM phase_records WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list phases: %w", err)
	}
	defer rows.Close()

	var records []*core.PhaseRecord
	for rows.Next() {
		rec := &core.PhaseRecord{}
		var phase, status string
		var completedAt sql.NullTime

		if err := rows.Scan(&phase, &status, &rec.Detail, &rec.StartedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan phase record: %w", err)
		}

		rec.Phase = core.Phase(phase)
		rec.Status = core.PhaseStatus(status)
		if completedAt.Valid {
			t := completedAt.Time
			rec.CompletedAt = &t
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}
