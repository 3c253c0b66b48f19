package main

import (
	"context"
	"fmt"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"jordanella.com/autoclick-vision/internal/archive"
	"jordanella.com/autoclick-vision/internal/clicker"
	"jordanella.com/autoclick-vision/internal/config"
	"jordanella.com/autoclick-vision/internal/cv"
	"jordanella.com/autoclick-vision/internal/database"
	"jordanella.com/autoclick-vision/internal/events"
	"jordanella.com/autoclick-vision/internal/logging"
	"jordanella.com/autoclick-vision/internal/monitor"
	"jordanella.com/autoclick-vision/internal/scheduler"
	"jordanella.com/autoclick-vision/internal/taskfile"
)

// anomalyInterval throttles failure rate rows in the history database
const anomalyInterval = time.Minute

// summaryErrors is how many reports the run summary lists
const summaryErrors = 3

// host wires the scheduler to its collaborators for the run command
type host struct {
	settings *config.Settings
	out      io.Writer
	logFile  *os.File
	logger   *logging.Logger

	bus      *events.DefaultEventBus
	eventLog *logging.EventLogger
	reporter *logging.ErrorReporter
	db       *database.DB
	recorder *database.RunRecorder
	watchdog *monitor.Watchdog
	failures *monitor.FailureRateMonitor
	sched    *scheduler.Scheduler

	chain chan string

	alertMu   sync.Mutex
	lastAlert time.Time
}

func newHost(settings *config.Settings, out io.Writer) (*host, error) {
	h := &host{
		settings: settings,
		out:      out,
		chain:    make(chan string, 1),
	}
	if settings.Logging.LogFile {
		logFile, err := logging.OpenLogFile(settings.Logging.LogDir, "autoclick")
		if err != nil {
			return nil, err
		}
		h.logFile = logFile
	}
	h.logger = h.newLogger("Host")

	db, err := database.OpenAndMigrate(settings.Storage.DatabasePath)
	if err != nil {
		h.Close()
		return nil, err
	}
	db.SetLogger(h.newLogger("Database"))
	h.db = db

	shots := archive.New(settings.Storage.ScreenshotDir, h.newLogger("Archive"))
	h.recorder = database.NewRunRecorder(db, shots)

	h.bus = events.NewOrderedEventBus(256)
	if settings.Logging.EventLog {
		eventLog, err := logging.NewEventLogger(h.bus, settings.Logging.LogDir)
		if err != nil {
			h.Close()
			return nil, err
		}
		h.eventLog = eventLog
	}

	h.reporter = logging.NewErrorReporter().SetLogger(h.newLogger("ErrorReporter"))
	h.reporter.OnError(logging.ErrorSeverityHigh, h.publishError)
	h.reporter.OnError(logging.ErrorSeverityCritical, h.publishError)

	h.watchdog = monitor.NewWatchdog(settings.WatchdogConfig(), h.newLogger("Watchdog")).
		OnFreeze(h.onFreeze).
		OnInactivity(h.onInactivity).
		OnException(h.onException)

	h.failures = monitor.NewFailureRateMonitor(
		settings.Alerts.FailureRateThreshold,
		settings.Alerts.FailureRateWindow,
		settings.Alerts.FailureRateMinSamples,
		h.onFailureRate,
	)

	capture := cv.NewScreenCapture(cv.NewScreenBackend, settings.Capture.MonitorIndex)
	if err := capture.SetMonitor(settings.Capture.MonitorIndex); err != nil {
		h.Close()
		return nil, err
	}

	opts := settings.SchedulerOptions()
	h.sched = scheduler.New(scheduler.Deps{
		OpenCapture: func() (scheduler.Frames, error) {
			handle, err := capture.NewHandle()
			if err != nil {
				return nil, err
			}
			return handle, nil
		},
		Matcher:      cv.NewMatcher(settings.MatcherConfig()),
		Clicker:      clicker.New(settings.ClickerConfig(), h.newLogger("Clicker")),
		Sinks:        h.sinks(),
		ErrorHandler: h.onRunError,
		Logger:       h.newLogger("Scheduler"),
	}, opts)

	return h, nil
}

func (h *host) newLogger(component string) *logging.Logger {
	logger := logging.NewLogger(component).
		SetMinLevel(h.settings.Logging.Level).
		SetOutputs(h.out)
	if h.logFile != nil {
		logger.AddOutput(h.logFile)
	}
	return logger
}

func (h *host) sinks() scheduler.Sinks {
	local := scheduler.Sinks{
		// Every log line is forward progress
		Log: func(string) { h.watchdog.Heartbeat() },
		ChainTask: func(ref string) {
			select {
			case h.chain <- ref:
			default:
			}
		},
		Recognition: h.failures.Record,
		Activity:    h.watchdog.ReportActivity,
	}
	return local.
		Merge(scheduler.BusSinks(h.bus)).
		Merge(h.recorder.Sinks())
}

// Run executes the task at path and follows its chain until the chain
// ends, the context is cancelled, or a run ends in error
func (h *host) Run(ctx context.Context, path string, watch bool) error {
	task, err := taskfile.Load(path)
	if err != nil {
		return err
	}

	for task != nil {
		next, err := h.runOnce(ctx, task, watch)
		if err != nil {
			return err
		}
		task = next
	}
	return nil
}

// runOnce runs one task and returns the task to run next, if any
func (h *host) runOnce(ctx context.Context, task *taskfile.Task, watch bool) (*taskfile.Task, error) {
	spec := task.Spec
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := taskfile.Check(spec); err != nil {
		h.logger.Warn(fmt.Sprintf("Task %s: %v", spec.Name, err))
	}

	reloads := make(chan *taskfile.Task, 1)
	if watch {
		w, err := taskfile.NewWatcher(task.Path, h.newLogger("TaskWatcher"))
		if err != nil {
			return nil, err
		}
		w.OnChange(func(t *taskfile.Task) {
			select {
			case reloads <- t:
			default:
			}
		}).OnError(h.reporter.Handler(logging.ErrorCategoryConfig, "TaskWatcher"))
		if err := w.Start(); err != nil {
			return nil, err
		}
		defer w.Stop()
	}

	// Drop a chain request left over from an interrupted run
	select {
	case <-h.chain:
	default:
	}

	runID, err := h.recorder.Begin(spec, task.Path)
	if err != nil {
		return nil, err
	}
	h.reporter.Clear()
	h.failures.Reset()
	if h.settings.Watchdog.Enabled {
		h.watchdog.Start()
		defer h.watchdog.Stop()
	}

	h.logger.InfoWithContext("Starting run", map[string]interface{}{
		"task":   spec.Name,
		"run_id": runID,
		"path":   task.Path,
	})
	if !h.sched.Start(spec) {
		return nil, fmt.Errorf("scheduler refused task %s", spec.Name)
	}
	done := h.sched.Done()

	var next *taskfile.Task
	select {
	case <-ctx.Done():
		h.logger.Info("Interrupted, stopping run")
		h.sched.Stop()
		<-done
	case reloaded := <-reloads:
		h.logger.Info(fmt.Sprintf("Task file changed, restarting %s", reloaded.Spec.Name))
		h.sched.Stop()
		<-done
		next = reloaded
	case <-done:
	}
	h.recorder.Wait()

	var runErr error
	if h.sched.State() == scheduler.StateError {
		runErr = fmt.Errorf("run %s ended in error", runID)
		h.reporter.ReportCriticalError(logging.ErrorCategoryScheduler, "Host", "Run ended in error", runErr,
			map[string]interface{}{"task": spec.Name, "run_id": runID})
	}
	h.printSummary(runID)

	if ctx.Err() != nil {
		return nil, nil
	}
	if runErr != nil {
		return nil, runErr
	}
	if next != nil {
		return next, nil
	}

	select {
	case ref := <-h.chain:
		chained, err := taskfile.Load(ref)
		if err != nil {
			return nil, fmt.Errorf("chained task: %w", err)
		}
		return chained, nil
	default:
		return nil, nil
	}
}

func (h *host) printSummary(runID string) {
	run, err := h.db.GetRun(runID)
	if err != nil {
		h.logger.Error("Failed to load run summary", err)
		return
	}
	fmt.Fprintf(h.out, "%s: %s after %s, rounds %d, success %d, failure %d, skipped %d\n",
		run.TaskName, run.Status, run.Duration().Round(time.Second), run.RoundsCompleted,
		run.TotalSuccess, run.TotalFailure, run.TotalSkipped)
	writeErrorSummary(h.out, h.reporter)
}

// writeErrorSummary lists what the error reporter collected during a run
func writeErrorSummary(w io.Writer, reporter *logging.ErrorReporter) {
	stats := reporter.GetErrorStats()
	if stats["total"] == 0 {
		return
	}
	fmt.Fprintf(w, "%d errors reported (critical %d, high %d, medium %d, low %d)\n",
		stats["total"], stats["severity_critical"], stats["severity_high"],
		stats["severity_medium"], stats["severity_low"])
	for _, r := range reporter.GetRecentErrors(summaryErrors) {
		msg := r.Message
		if r.Error != nil {
			msg = fmt.Sprintf("%s: %v", msg, r.Error)
		}
		fmt.Fprintf(w, "  [%s] %s %s\n", r.Severity, r.Component, msg)
	}
}

// publishError forwards serious reports to the event bus so they reach the
// event log
func (h *host) publishError(r *logging.ErrorReport) {
	err := r.Error
	if err == nil {
		err = errors.New(r.Message)
	}
	h.bus.Publish(events.NewErrorEvent(string(r.Category), r.Component, err, r.Context))
}

func (h *host) onRunError(err error) {
	h.recorder.ErrorHandler()(err)
	h.watchdog.ReportException(err)
}

func (h *host) onFreeze(elapsed time.Duration) {
	msg := fmt.Sprintf("No heartbeat for %s", elapsed.Round(time.Second))
	h.logger.Warn(msg)
	h.bus.Publish(events.NewWatchdogEvent(events.EventTypeWatchdogFreeze, elapsed))
	h.recorder.RecordAnomaly(database.AnomalyFreeze, msg)
}

func (h *host) onInactivity(elapsed time.Duration) {
	msg := fmt.Sprintf("No successful recognition for %s", elapsed.Round(time.Second))
	h.logger.Warn(msg)
	h.bus.Publish(events.NewWatchdogEvent(events.EventTypeWatchdogInactivity, elapsed))
	h.recorder.RecordAnomaly(database.AnomalyInactivity, msg)
}

func (h *host) onException(err error) {
	h.reporter.ReportErrorWithContext(logging.ErrorCategoryScheduler, logging.ErrorSeverityHigh, "Scheduler",
		"Run loop exception", err, map[string]interface{}{"run_id": h.recorder.RunID()})
	h.bus.Publish(events.NewWatchdogExceptionEvent(err))
}

func (h *host) onFailureRate(rate float64, failures, total int) {
	msg := fmt.Sprintf("High failure rate: %.0f%% (%d/%d)", rate*100, failures, total)
	h.logger.Warn(msg)
	h.bus.Publish(events.NewFailureRateAlertEvent(rate, failures, total))

	h.alertMu.Lock()
	due := time.Since(h.lastAlert) >= anomalyInterval
	if due {
		h.lastAlert = time.Now()
	}
	h.alertMu.Unlock()
	if due {
		h.recorder.RecordAnomaly(database.AnomalyFailureRate, msg)
	}
}

// Close releases everything the host opened
func (h *host) Close() {
	if h.sched != nil {
		if h.sched.IsRunning() {
			h.sched.Stop()
		}
		h.sched.Wait()
	}
	if h.watchdog != nil {
		h.watchdog.Stop()
	}
	if h.recorder != nil {
		h.recorder.Wait()
	}
	// Drain queued events before the event log file closes
	if h.bus != nil {
		h.bus.Stop()
	}
	if h.eventLog != nil {
		h.eventLog.Close()
	}
	if h.db != nil {
		h.db.Close()
	}
	if h.logFile != nil {
		h.logFile.Close()
	}
}
