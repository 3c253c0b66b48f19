package database

import (
	"time"
)

// RunStatus mirrors the terminal scheduler states stored in the runs table
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusFinished RunStatus = "finished"
	RunStatusStopped  RunStatus = "stopped"
	RunStatusError    RunStatus = "error"
)

// Run represents a single execution of a task file
type Run struct {
	ID       string    `db:"id"`
	TaskName string    `db:"task_name"`
	TaskPath *string   `db:"task_path"`
	Status   RunStatus `db:"status"`

	// Totals
	TotalRounds     int `db:"total_rounds"`
	RoundsCompleted int `db:"rounds_completed"`
	TotalSuccess    int `db:"total_success"`
	TotalFailure    int `db:"total_failure"`
	TotalSkipped    int `db:"total_skipped"`

	// Timestamps
	StartedAt   time.Time  `db:"started_at"`
	CompletedAt *time.Time `db:"completed_at"`
	DurationMs  *int64     `db:"duration_ms"`

	ErrorMessage *string `db:"error_message"`
}

// Duration returns the recorded run duration, or zero while running
func (r *Run) Duration() time.Duration {
	if r.DurationMs == nil {
		return 0
	}
	return time.Duration(*r.DurationMs) * time.Millisecond
}

// Round represents the outcome counts of one completed round
type Round struct {
	ID          int       `db:"id"`
	RunID       string    `db:"run_id"`
	RoundNumber int       `db:"round_number"`
	Success     int       `db:"success"`
	Failure     int       `db:"failure"`
	Skipped     int       `db:"skipped"`
	CompletedAt time.Time `db:"completed_at"`
}

// Failure represents an archived failure screenshot
type Failure struct {
	ID             int       `db:"id"`
	RunID          string    `db:"run_id"`
	Tag            string    `db:"tag"`
	ScreenshotPath *string   `db:"screenshot_path"`
	Thumbnail      []byte    `db:"thumbnail"`
	OccurredAt     time.Time `db:"occurred_at"`
}

// AnomalyKind classifies rows in the anomalies table
type AnomalyKind string

const (
	AnomalyFreeze      AnomalyKind = "freeze"
	AnomalyInactivity  AnomalyKind = "inactivity"
	AnomalyException   AnomalyKind = "exception"
	AnomalyFailureRate AnomalyKind = "failure_rate"
	AnomalyError       AnomalyKind = "error"
)

// Anomaly represents a watchdog alarm or alert raised during a run
type Anomaly struct {
	ID         int         `db:"id"`
	RunID      *string     `db:"run_id"`
	Kind       AnomalyKind `db:"kind"`
	Message    string      `db:"message"`
	OccurredAt time.Time   `db:"occurred_at"`
}

// RunSummary aggregates the history across all runs
type RunSummary struct {
	TotalRuns    int
	FinishedRuns int
	StoppedRuns  int
	ErrorRuns    int
	TotalSuccess int
	TotalFailure int
	TotalSkipped int
}
