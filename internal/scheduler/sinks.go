package scheduler

import (
	"image"
)

// Sinks receive run events. Every field is optional. Sinks are called
// synchronously, mostly from the worker goroutine, and must not block or
// call back into the scheduler.
type Sinks struct {
	Log               func(line string)
	State             func(state State)
	Stats             func(stats RunStats)
	FailureScreenshot func(frame *image.RGBA, tag string)
	ChainTask         func(ref string)
	Recognition       func(found bool)
	// Activity fires on every successful recognition
	Activity func()
}

func (s Sinks) log(line string) {
	if s.Log != nil {
		s.Log(line)
	}
}

func (s Sinks) state(state State) {
	if s.State != nil {
		s.State(state)
	}
}

func (s Sinks) stats(stats RunStats) {
	if s.Stats != nil {
		s.Stats(stats)
	}
}

func (s Sinks) failureScreenshot(frame *image.RGBA, tag string) {
	if s.FailureScreenshot != nil && frame != nil {
		s.FailureScreenshot(frame, tag)
	}
}

func (s Sinks) chainTask(ref string) {
	if s.ChainTask != nil {
		s.ChainTask(ref)
	}
}

func (s Sinks) recognition(found bool) {
	if s.Recognition != nil {
		s.Recognition(found)
	}
	if found && s.Activity != nil {
		s.Activity()
	}
}

// Merge returns sinks that call s first and then other
func (s Sinks) Merge(other Sinks) Sinks {
	return Sinks{
		Log: func(line string) {
			s.log(line)
			other.log(line)
		},
		State: func(state State) {
			s.state(state)
			other.state(state)
		},
		Stats: func(stats RunStats) {
			s.stats(stats)
			other.stats(stats)
		},
		FailureScreenshot: func(frame *image.RGBA, tag string) {
			s.failureScreenshot(frame, tag)
			other.failureScreenshot(frame, tag)
		},
		ChainTask: func(ref string) {
			s.chainTask(ref)
			other.chainTask(ref)
		},
		Recognition: func(found bool) {
			if s.Recognition != nil {
				s.Recognition(found)
			}
			if other.Recognition != nil {
				other.Recognition(found)
			}
		},
		Activity: func() {
			if s.Activity != nil {
				s.Activity()
			}
			if other.Activity != nil {
				other.Activity()
			}
		},
	}
}
