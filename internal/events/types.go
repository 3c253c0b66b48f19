package events

import "time"

// EventType represents different types of events in the system
type EventType string

const (
	// Run events
	EventTypeRunLog            EventType = "run.log"
	EventTypeRunStateChanged   EventType = "run.state_changed"
	EventTypeRunStats          EventType = "run.stats"
	EventTypeRunChain          EventType = "run.chain"
	EventTypeRecognition       EventType = "run.recognition"
	EventTypeFailureScreenshot EventType = "run.failure_screenshot"

	// Watchdog events
	EventTypeWatchdogFreeze     EventType = "watchdog.freeze"
	EventTypeWatchdogInactivity EventType = "watchdog.inactivity"
	EventTypeWatchdogException  EventType = "watchdog.exception"

	// Alert events
	EventTypeFailureRateAlert EventType = "alert.failure_rate"

	// Error events
	EventTypeError EventType = "error"
)

// AllEventTypes lists every type published by this module
var AllEventTypes = []EventType{
	EventTypeRunLog,
	EventTypeRunStateChanged,
	EventTypeRunStats,
	EventTypeRunChain,
	EventTypeRecognition,
	EventTypeFailureScreenshot,
	EventTypeWatchdogFreeze,
	EventTypeWatchdogInactivity,
	EventTypeWatchdogException,
	EventTypeFailureRateAlert,
	EventTypeError,
}

// Event represents a system event with metadata
type Event struct {
	Type      EventType              // Type of event
	Source    string                 // Component that emitted event (e.g., "scheduler", "watchdog")
	Timestamp time.Time              // When the event occurred
	Data      map[string]interface{} // Event-specific data
}

// EventHandler is a function that processes an event
type EventHandler func(Event)

// SubscriptionID uniquely identifies a subscription
type SubscriptionID int64

// EventBus defines the interface for event pub/sub
type EventBus interface {
	// Subscribe registers a handler for a specific event type
	Subscribe(eventType EventType, handler EventHandler) SubscriptionID

	// Unsubscribe removes a subscription by ID
	Unsubscribe(id SubscriptionID)

	// Publish sends an event to all subscribers (blocking)
	Publish(event Event)

	// PublishAsync sends an event asynchronously (non-blocking)
	PublishAsync(event Event)

	// Stop stops the event bus and drains remaining events
	Stop()
}

// Helper functions to create common events

// NewRunLogEvent carries one timestamped scheduler log line
func NewRunLogEvent(line string) Event {
	return Event{
		Type:      EventTypeRunLog,
		Source:    "scheduler",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"line": line,
		},
	}
}

// NewRunStateChangedEvent creates a state change event
func NewRunStateChangedEvent(state string) Event {
	return Event{
		Type:      EventTypeRunStateChanged,
		Source:    "scheduler",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"state": state,
		},
	}
}

// NewRunStatsEvent creates a progress event
func NewRunStatsEvent(roundsCompleted, totalRounds, currentStep, totalSteps, success, failure, skipped int, elapsed time.Duration) Event {
	return Event{
		Type:      EventTypeRunStats,
		Source:    "scheduler",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"rounds_completed": roundsCompleted,
			"total_rounds":     totalRounds,
			"current_step":     currentStep,
			"total_steps":      totalSteps,
			"success":          success,
			"failure":          failure,
			"skipped":          skipped,
			"elapsed":          elapsed,
		},
	}
}

// NewRunChainEvent asks the host to load the next task
func NewRunChainEvent(ref string) Event {
	return Event{
		Type:      EventTypeRunChain,
		Source:    "scheduler",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"task": ref,
		},
	}
}

// NewRecognitionEvent reports one recognition decision
func NewRecognitionEvent(found bool) Event {
	return Event{
		Type:      EventTypeRecognition,
		Source:    "scheduler",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"found": found,
		},
	}
}

// NewFailureScreenshotEvent carries the frame that was examined when a
// button was given up on. frame is an *image.RGBA.
func NewFailureScreenshotEvent(tag string, frame interface{}) Event {
	return Event{
		Type:      EventTypeFailureScreenshot,
		Source:    "scheduler",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"tag":   tag,
			"frame": frame,
		},
	}
}

// NewWatchdogEvent creates a freeze or inactivity alarm
func NewWatchdogEvent(eventType EventType, elapsed time.Duration) Event {
	return Event{
		Type:      eventType,
		Source:    "watchdog",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"elapsed": elapsed,
		},
	}
}

// NewWatchdogExceptionEvent creates an exception report
func NewWatchdogExceptionEvent(err error) Event {
	return Event{
		Type:      EventTypeWatchdogException,
		Source:    "watchdog",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"error": err.Error(),
		},
	}
}

// NewFailureRateAlertEvent creates a failure rate alert
func NewFailureRateAlertEvent(rate float64, failures, total int) Event {
	return Event{
		Type:      EventTypeFailureRateAlert,
		Source:    "failure_rate_monitor",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"rate":     rate,
			"failures": failures,
			"total":    total,
		},
	}
}

// NewErrorEvent creates an error event
func NewErrorEvent(source, component string, err error, metadata map[string]interface{}) Event {
	data := map[string]interface{}{
		"source":    source,
		"component": component,
		"error":     err.Error(),
	}

	// Merge metadata
	for k, v := range metadata {
		data[k] = v
	}

	return Event{
		Type:      EventTypeError,
		Source:    source,
		Timestamp: time.Now(),
		Data:      data,
	}
}
