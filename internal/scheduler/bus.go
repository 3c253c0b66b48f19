package scheduler

import (
	"image"

	"jordanella.com/autoclick-vision/internal/events"
)

// BusSinks returns sinks that publish every run event to bus
func BusSinks(bus events.EventBus) Sinks {
	return Sinks{
		Log: func(line string) {
			bus.Publish(events.NewRunLogEvent(line))
		},
		State: func(state State) {
			bus.Publish(events.NewRunStateChangedEvent(state.String()))
		},
		Stats: func(s RunStats) {
			bus.Publish(events.NewRunStatsEvent(s.RoundsCompleted, s.TotalRounds, s.CurrentStep, s.TotalSteps,
				s.Round.Success, s.Round.Failure, s.Round.Skipped, s.Elapsed))
		},
		FailureScreenshot: func(frame *image.RGBA, tag string) {
			bus.Publish(events.NewFailureScreenshotEvent(tag, frame))
		},
		ChainTask: func(ref string) {
			bus.Publish(events.NewRunChainEvent(ref))
		},
		Recognition: func(found bool) {
			bus.Publish(events.NewRecognitionEvent(found))
		},
	}
}
