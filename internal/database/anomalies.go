package database

import (
	"database/sql"
	"fmt"
	"time"
)

// RecordAnomaly stores a watchdog alarm or alert. An empty runID records it without a run.
func (db *DB) RecordAnomaly(runID string, kind AnomalyKind, message string, occurredAt time.Time) error {
	var run interface{}
	if runID != "" {
		run = runID
	}

	_, err := db.conn.Exec(`
		INSERT INTO anomalies (run_id, kind, message, occurred_at)
		VALUES (?, ?, ?, ?)
	`, run, string(kind), message, occurredAt.UTC())

	if err != nil {
		return fmt.Errorf("failed to record anomaly: %w", err)
	}
	return nil
}

// GetAnomalies returns recent anomalies, newest first. An empty runID returns all of them.
func (db *DB) GetAnomalies(runID string, limit int) ([]*Anomaly, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if runID == "" {
		rows, err = db.conn.Query(`
			SELECT id, run_id, kind, message, occurred_at
			FROM anomalies
			ORDER BY occurred_at DESC, id DESC
			LIMIT ?
		`, limit)
	} else {
		rows, err = db.conn.Query(`
			SELECT id, run_id, kind, message, occurred_at
			FROM anomalies
			WHERE run_id = ?
			ORDER BY occurred_at DESC, id DESC
			LIMIT ?
		`, runID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get anomalies: %w", err)
	}
	defer rows.Close()

	var anomalies []*Anomaly
	for rows.Next() {
		var a Anomaly
		var run sql.NullString
		var kind string
		if err := rows.Scan(&a.ID, &run, &kind, &a.Message, &a.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan anomaly: %w", err)
		}
		a.Kind = AnomalyKind(kind)
		if run.Valid {
			a.RunID = &run.String
		}
		anomalies = append(anomalies, &a)
	}
	return anomalies, rows.Err()
}
