package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a run ID has no row
var ErrRunNotFound = errors.New("run not found")

// StartRun records the start of a task run and returns its ID
func (db *DB) StartRun(taskName, taskPath string, totalRounds int, startedAt time.Time) (string, error) {
	id := uuid.NewString()

	var path interface{}
	if taskPath != "" {
		path = taskPath
	}

	_, err := db.conn.Exec(`
		INSERT INTO runs (
			id,
			task_name,
			task_path,
			status,
			total_rounds,
			started_at
		) VALUES (?, ?, ?, 'running', ?, ?)
	`, id, taskName, path, totalRounds, startedAt.UTC())

	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}

	return id, nil
}

// UpdateRunTotals stores the running outcome counts of a run
func (db *DB) UpdateRunTotals(runID string, roundsCompleted, success, failure, skipped int) error {
	result, err := db.conn.Exec(`
		UPDATE runs
		SET rounds_completed = ?,
		    total_success = ?,
		    total_failure = ?,
		    total_skipped = ?
		WHERE id = ?
	`, roundsCompleted, success, failure, skipped, runID)

	if err != nil {
		return fmt.Errorf("failed to update run totals: %w", err)
	}

	return requireRow(result, runID)
}

// FinishRun marks a run with its terminal status
func (db *DB) FinishRun(runID string, status RunStatus, completedAt time.Time, errorMessage string) error {
	if status == RunStatusRunning {
		return fmt.Errorf("cannot finish run %s with status %q", runID, status)
	}

	var msg interface{}
	if errorMessage != "" {
		msg = errorMessage
	}

	return db.ExecTx(func(tx *sql.Tx) error {
		var startedAt time.Time
		err := tx.QueryRow(`SELECT started_at FROM runs WHERE id = ?`, runID).Scan(&startedAt)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		if err != nil {
			return fmt.Errorf("failed to load run: %w", err)
		}

		duration := completedAt.Sub(startedAt)
		if duration < 0 {
			duration = 0
		}

		_, err = tx.Exec(`
			UPDATE runs
			SET status = ?,
			    completed_at = ?,
			    duration_ms = ?,
			    error_message = ?
			WHERE id = ?
		`, string(status), completedAt.UTC(), duration.Milliseconds(), msg, runID)

		if err != nil {
			return fmt.Errorf("failed to finish run: %w", err)
		}
		return nil
	})
}

// GetRun retrieves a run by ID
func (db *DB) GetRun(runID string) (*Run, error) {
	row := db.conn.QueryRow(`
		SELECT `+runColumns+`
		FROM runs
		WHERE id = ?
	`, runID)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns returns the most recent runs, newest first
func (db *DB) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.conn.Query(`
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// GetRunSummary aggregates outcome counts over every recorded run
func (db *DB) GetRunSummary() (*RunSummary, error) {
	var s RunSummary
	err := db.conn.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'finished' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'stopped' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(total_success), 0),
			COALESCE(SUM(total_failure), 0),
			COALESCE(SUM(total_skipped), 0)
		FROM runs
	`).Scan(
		&s.TotalRuns,
		&s.FinishedRuns,
		&s.StoppedRuns,
		&s.ErrorRuns,
		&s.TotalSuccess,
		&s.TotalFailure,
		&s.TotalSkipped,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize runs: %w", err)
	}
	return &s, nil
}

// DeleteRunsBefore removes runs started before cutoff along with their rounds and failures
func (db *DB) DeleteRunsBefore(cutoff time.Time) (int64, error) {
	result, err := db.conn.Exec(`DELETE FROM runs WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	return result.RowsAffected()
}

// RecordRound stores the outcome counts of one completed round
func (db *DB) RecordRound(runID string, round Round) error {
	_, err := db.conn.Exec(`
		INSERT INTO rounds (
			run_id,
			round_number,
			success,
			failure,
			skipped,
			completed_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`, runID, round.RoundNumber, round.Success, round.Failure, round.Skipped, round.CompletedAt.UTC())

	if err != nil {
		return fmt.Errorf("failed to record round %d: %w", round.RoundNumber, err)
	}
	return nil
}

// GetRounds returns the rounds of a run in order
func (db *DB) GetRounds(runID string) ([]*Round, error) {
	rows, err := db.conn.Query(`
		SELECT id, run_id, round_number, success, failure, skipped, completed_at
		FROM rounds
		WHERE run_id = ?
		ORDER BY round_number
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get rounds: %w", err)
	}
	defer rows.Close()

	var rounds []*Round
	for rows.Next() {
		var r Round
		if err := rows.Scan(&r.ID, &r.RunID, &r.RoundNumber, &r.Success, &r.Failure, &r.Skipped, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		rounds = append(rounds, &r)
	}
	return rounds, rows.Err()
}

const runColumns = `
			id,
			task_name,
			task_path,
			status,
			total_rounds,
			rounds_completed,
			total_success,
			total_failure,
			total_skipped,
			started_at,
			completed_at,
			duration_ms,
			error_message`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var status string
	var taskPath sql.NullString
	var completedAt sql.NullTime
	var durationMs sql.NullInt64
	var errorMessage sql.NullString

	err := row.Scan(
		&run.ID,
		&run.TaskName,
		&taskPath,
		&status,
		&run.TotalRounds,
		&run.RoundsCompleted,
		&run.TotalSuccess,
		&run.TotalFailure,
		&run.TotalSkipped,
		&run.StartedAt,
		&completedAt,
		&durationMs,
		&errorMessage,
	)
	if err != nil {
		return nil, err
	}

	run.Status = RunStatus(status)

	// Handle nullable fields
	if taskPath.Valid {
		run.TaskPath = &taskPath.String
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if durationMs.Valid {
		run.DurationMs = &durationMs.Int64
	}
	if errorMessage.Valid {
		run.ErrorMessage = &errorMessage.String
	}

	return &run, nil
}

func requireRow(result sql.Result, runID string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}
