package logging

import (
	"bytes"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/autoclick-vision/internal/events"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
		err  bool
	}{
		{"debug", LogLevelDebug, false},
		{" Info ", LogLevelInfo, false},
		{"WARNING", LogLevelWarn, false},
		{"error", LogLevelError, false},
		{"", LogLevelInfo, false},
		{"loud", LogLevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoggerLevelsAndFormat(t *testing.T) {
	var buf, file bytes.Buffer
	logger := NewLogger("Capture").SetOutputs(&buf).SetMinLevel(LogLevelWarn).AddOutput(&file)

	logger.Info("hidden")
	logger.WarnWithContext("slow grab", map[string]interface{}{"ms": 40, "display": 2})
	logger.Error("grab failed", errors.New("no display"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WARN [Capture] slow grab | display=2 ms=40")
	assert.Contains(t, out, "ERROR [Capture] grab failed | error=no display")
	assert.Equal(t, "Capture", logger.Component())
	assert.Equal(t, out, file.String(), "every output gets the same lines")
}

func TestOpenLogFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	f, err := OpenLogFile(dir, "autoclick")
	require.NoError(t, err)

	NewLogger("Host").SetOutputs(f).Info("hello")
	require.NoError(t, f.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "autoclick_*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "INFO [Host] hello")
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	NewLogger("Scheduler").SetOutputs(&buf).WithContext(map[string]interface{}{"task": "daily"}).Info("started")
	assert.Contains(t, buf.String(), "started | task=daily")
}

func TestEventLoggerSkipsBulkyPayloads(t *testing.T) {
	bus := events.NewOrderedEventBus(8)
	var buf bytes.Buffer
	el := NewEventLoggerTo(bus, &buf)

	bus.Publish(events.NewFailureScreenshotEvent("step0_rep0_a", image.NewRGBA(image.Rect(0, 0, 4, 4))))
	bus.Publish(events.NewWatchdogEvent(events.EventTypeWatchdogFreeze, 61*time.Second))
	bus.Stop()
	require.NoError(t, el.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Event: run.failure_screenshot | source=scheduler tag=step0_rep0_a")
	assert.NotContains(t, lines[0], "frame=")
	assert.Contains(t, lines[1], "elapsed=1m1s")
}

func TestEventLoggerFile(t *testing.T) {
	bus := events.NewOrderedEventBus(8)
	dir := t.TempDir()
	el, err := NewEventLogger(bus, dir)
	require.NoError(t, err)

	bus.Publish(events.NewRunChainEvent("next.yaml"))
	bus.Stop()
	require.NoError(t, el.Close())
}

func TestErrorReporter(t *testing.T) {
	var buf bytes.Buffer
	er := NewErrorReporter().SetLogger(NewLogger("ErrorReporter").SetOutputs(&buf)).SetMaxHistory(3)

	high := make(chan *ErrorReport, 4)
	er.OnError(ErrorSeverityHigh, func(r *ErrorReport) { high <- r })

	handle := er.Handler(ErrorCategoryScheduler, "Scheduler")
	handle(errors.New("panic in run loop"))
	handle(nil)
	er.ReportError(ErrorCategoryCapture, ErrorSeverityLow, "Capture", "retrying grab", errors.New("busy"))
	er.ReportCriticalError(ErrorCategoryDatabase, "Database", "cannot open", errors.New("locked"), nil)
	er.ReportErrorWithContext(ErrorCategoryWatchdog, ErrorSeverityMedium, "Watchdog", "freeze", errors.New("stalled"),
		map[string]interface{}{"elapsed": "61s"})

	select {
	case r := <-high:
		assert.Equal(t, ErrorCategoryScheduler, r.Category)
		assert.Equal(t, "Scheduler", r.Component)
	case <-time.After(time.Second):
		t.Fatal("high severity callback not invoked")
	}

	recent := er.GetRecentErrors(10)
	require.Len(t, recent, 3, "history is bounded")
	assert.Equal(t, ErrorCategoryCapture, recent[0].Category)

	stats := er.GetErrorStats()
	assert.Equal(t, 3, stats["total"])
	assert.Equal(t, 1, stats["category_database"])
	assert.Equal(t, 0, stats["category_scheduler"], "trimmed from history")
	assert.Equal(t, 1, stats["non_recoverable"])

	er.Clear()
	assert.Empty(t, er.GetRecentErrors(5))
	assert.Contains(t, buf.String(), "FATAL [ErrorReporter] cannot open")
}
