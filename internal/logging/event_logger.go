package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"jordanella.com/autoclick-vision/internal/events"
)

// EventLogger subscribes to event bus and logs all events
type EventLogger struct {
	logger          *Logger
	eventBus        events.EventBus
	subscriptionIDs []events.SubscriptionID
	logFile         *os.File
}

// NewEventLogger writes every event to a timestamped events_*.log file in logDir
func NewEventLogger(eventBus events.EventBus, logDir string) (*EventLogger, error) {
	logFile, err := OpenLogFile(logDir, "events")
	if err != nil {
		return nil, err
	}

	el := NewEventLoggerTo(eventBus, logFile)
	el.logFile = logFile
	return el, nil
}

// NewEventLoggerTo writes every event to w only
func NewEventLoggerTo(eventBus events.EventBus, w io.Writer) *EventLogger {
	el := &EventLogger{
		logger:   NewLogger("EventLogger").SetOutputs(w),
		eventBus: eventBus,
	}
	el.subscriptionIDs = make([]events.SubscriptionID, 0, len(events.AllEventTypes))
	for _, eventType := range events.AllEventTypes {
		el.subscriptionIDs = append(el.subscriptionIDs, eventBus.Subscribe(eventType, el.handleEvent))
	}
	return el
}

// handleEvent handles incoming events and logs them
func (el *EventLogger) handleEvent(event events.Event) {
	context := map[string]interface{}{
		"source": event.Source,
	}

	// Frames and other bulky payloads stay out of the log
	for k, v := range event.Data {
		if loggable(v) {
			context[k] = v
		}
	}

	el.logger.InfoWithContext(fmt.Sprintf("Event: %s", event.Type), context)
}

func loggable(v interface{}) bool {
	switch v.(type) {
	case string, bool, int, int64, float64, time.Duration, time.Time, error:
		return true
	}
	return false
}

// Close unsubscribes and closes the log file
func (el *EventLogger) Close() error {
	for _, id := range el.subscriptionIDs {
		el.eventBus.Unsubscribe(id)
	}
	el.subscriptionIDs = nil
	if el.logFile != nil {
		return el.logFile.Close()
	}
	return nil
}
