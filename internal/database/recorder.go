package database

import (
	"fmt"
	"image"
	"sync"
	"time"

	"jordanella.com/autoclick-vision/internal/logging"
	"jordanella.com/autoclick-vision/internal/scheduler"
)

// Archiver stores a failure frame and returns its path and a thumbnail
type Archiver interface {
	Save(frame *image.RGBA, tag string) (path string, thumbnail []byte, err error)
}

// RunRecorder persists one run's history from scheduler sinks
type RunRecorder struct {
	db       *DB
	archiver Archiver
	logger   *logging.Logger
	now      func() time.Time

	mu        sync.Mutex
	runID     string
	rounds    int
	committed scheduler.RoundStats
	current   scheduler.RoundStats
	closed    bool // current round already recorded
	finished  bool

	saves sync.WaitGroup
}

// NewRunRecorder creates a recorder. archiver may be nil, in which case
// failures are recorded without a screenshot.
func NewRunRecorder(db *DB, archiver Archiver) *RunRecorder {
	return &RunRecorder{
		db:       db,
		archiver: archiver,
		logger:   logging.NewLogger("RunRecorder"),
		now:      time.Now,
	}
}

// WithClock overrides the time source
func (r *RunRecorder) WithClock(now func() time.Time) *RunRecorder {
	r.now = now
	return r
}

// Begin inserts the run row; call it before starting the scheduler
func (r *RunRecorder) Begin(task scheduler.TaskSpec, taskPath string) (string, error) {
	id, err := r.db.StartRun(task.Name, taskPath, task.LoopCount, r.now())
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.runID = id
	r.rounds = 0
	r.committed = scheduler.RoundStats{}
	r.current = scheduler.RoundStats{}
	r.closed = false
	r.finished = false
	r.mu.Unlock()

	return id, nil
}

// RunID returns the current run ID, or "" before Begin
func (r *RunRecorder) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}

// Sinks returns the scheduler sinks that feed this recorder
func (r *RunRecorder) Sinks() scheduler.Sinks {
	return scheduler.Sinks{
		State:             r.onState,
		Stats:             r.onStats,
		FailureScreenshot: r.onFailure,
	}
}

// ErrorHandler stores run errors on the run row and as anomalies
func (r *RunRecorder) ErrorHandler() scheduler.ErrorHandler {
	return func(err error) {
		if err == nil {
			return
		}
		id := r.RunID()
		if id == "" {
			return
		}
		if _, dbErr := r.db.Conn().Exec(`UPDATE runs SET error_message = ? WHERE id = ?`, err.Error(), id); dbErr != nil {
			r.logger.Error("Failed to store run error", dbErr)
		}
		if dbErr := r.db.RecordAnomaly(id, AnomalyError, err.Error(), r.now()); dbErr != nil {
			r.logger.Error("Failed to record anomaly", dbErr)
		}
	}
}

// RecordAnomaly stores an anomaly against the current run
func (r *RunRecorder) RecordAnomaly(kind AnomalyKind, message string) {
	if err := r.db.RecordAnomaly(r.RunID(), kind, message, r.now()); err != nil {
		r.logger.Error("Failed to record anomaly", err)
	}
}

// Wait blocks until pending screenshot saves have been written
func (r *RunRecorder) Wait() {
	r.saves.Wait()
}

func (r *RunRecorder) onStats(stats scheduler.RunStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.runID == "" || r.finished {
		return
	}

	switch {
	case stats.RoundsCompleted > r.rounds:
		round := Round{
			RoundNumber: stats.RoundsCompleted,
			Success:     stats.Round.Success,
			Failure:     stats.Round.Failure,
			Skipped:     stats.Round.Skipped,
			CompletedAt: r.now(),
		}
		r.rounds = stats.RoundsCompleted
		r.committed.Success += round.Success
		r.committed.Failure += round.Failure
		r.committed.Skipped += round.Skipped
		r.current = scheduler.RoundStats{}
		r.closed = true

		if err := r.db.RecordRound(r.runID, round); err != nil {
			r.logger.Error("Failed to record round", err)
		}
		r.storeTotals()
	case r.closed:
		// The next round opens with zeroed counts
		if stats.Round == (scheduler.RoundStats{}) {
			r.closed = false
		}
	default:
		r.current = stats.Round
	}
}

func (r *RunRecorder) onState(state scheduler.State) {
	var status RunStatus
	switch state {
	case scheduler.StateFinished:
		status = RunStatusFinished
	case scheduler.StateStopped:
		status = RunStatusStopped
	case scheduler.StateError:
		status = RunStatusError
	default:
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.runID == "" || r.finished {
		return
	}
	r.finished = true

	if !r.closed {
		r.committed.Success += r.current.Success
		r.committed.Failure += r.current.Failure
		r.committed.Skipped += r.current.Skipped
		r.current = scheduler.RoundStats{}
	}
	r.storeTotals()

	if err := r.db.FinishRun(r.runID, status, r.now(), ""); err != nil {
		r.logger.Error("Failed to finish run", err)
	}
}

func (r *RunRecorder) storeTotals() {
	c := r.committed
	if err := r.db.UpdateRunTotals(r.runID, r.rounds, c.Success, c.Failure, c.Skipped); err != nil {
		r.logger.Error("Failed to update run totals", err)
	}
}

func (r *RunRecorder) onFailure(frame *image.RGBA, tag string) {
	id := r.RunID()
	if id == "" {
		return
	}
	occurredAt := r.now()

	r.saves.Add(1)
	go func() {
		defer r.saves.Done()

		var path string
		var thumb []byte
		if r.archiver != nil {
			var err error
			path, thumb, err = r.archiver.Save(frame, tag)
			if err != nil {
				r.logger.Error(fmt.Sprintf("Failed to archive screenshot %s", tag), err)
			}
		}
		if _, err := r.db.RecordFailure(id, tag, path, thumb, occurredAt); err != nil {
			r.logger.Error("Failed to record failure", err)
		}
	}()
}
