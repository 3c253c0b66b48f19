package database

import (
	"database/sql"
	"fmt"
	"time"
)

// RecordFailure stores an archived failure screenshot for a run
func (db *DB) RecordFailure(runID, tag, screenshotPath string, thumbnail []byte, occurredAt time.Time) (int64, error) {
	var path interface{}
	if screenshotPath != "" {
		path = screenshotPath
	}

	result, err := db.conn.Exec(`
		INSERT INTO failures (
			run_id,
			tag,
			screenshot_path,
			thumbnail,
			occurred_at
		) VALUES (?, ?, ?, ?, ?)
	`, runID, tag, path, thumbnail, occurredAt.UTC())

	if err != nil {
		return 0, fmt.Errorf("failed to record failure: %w", err)
	}

	return result.LastInsertId()
}

// GetFailures returns the failures recorded for a run, oldest first
func (db *DB) GetFailures(runID string) ([]*Failure, error) {
	rows, err := db.conn.Query(`
		SELECT id, run_id, tag, screenshot_path, thumbnail, occurred_at
		FROM failures
		WHERE run_id = ?
		ORDER BY occurred_at, id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get failures: %w", err)
	}
	defer rows.Close()

	var failures []*Failure
	for rows.Next() {
		var f Failure
		var path sql.NullString
		if err := rows.Scan(&f.ID, &f.RunID, &f.Tag, &path, &f.Thumbnail, &f.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		if path.Valid {
			f.ScreenshotPath = &path.String
		}
		failures = append(failures, &f)
	}
	return failures, rows.Err()
}

// CountFailuresByTag returns how often each failure tag occurred in a run
func (db *DB) CountFailuresByTag(runID string) (map[string]int, error) {
	rows, err := db.conn.Query(`
		SELECT tag, COUNT(*)
		FROM failures
		WHERE run_id = ?
		GROUP BY tag
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to count failures: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var tag string
		var n int
		if err := rows.Scan(&tag, &n); err != nil {
			return nil, err
		}
		counts[tag] = n
	}
	return counts, rows.Err()
}
