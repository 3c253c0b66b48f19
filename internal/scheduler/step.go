package scheduler

import (
	"fmt"
	"image"
	"strings"

	"jordanella.com/autoclick-vision/internal/clicker"
	"jordanella.com/autoclick-vision/internal/cv"
)

type stepResult int

const (
	stepContinue stepResult = iota
	stepStopped
	stepAbort
)

// resolve maps the step's ids to buttons, dropping unknown ids
func (r *run) resolve(step StepSpec) []ButtonSpec {
	buttons := make([]ButtonSpec, 0, len(step.ButtonIDs))
	for _, id := range step.ButtonIDs {
		if b, ok := r.task.Button(id); ok {
			buttons = append(buttons, b)
		}
	}
	return buttons
}

func (s *Scheduler) executeStep(r *run, step StepSpec, idx int) (stepResult, error) {
	buttons := r.resolve(step)
	if len(buttons) == 0 {
		s.logf("Step %d: no valid buttons configured, skipping", idx+1)
		r.stats.Round.Skipped++
		return stepContinue, nil
	}

	repeat := max(1, step.Repeat)
	names := make([]string, len(buttons))
	for i, b := range buttons {
		names[i] = b.DisplayName()
	}
	s.logf("Step %d: [%s] x%d", idx+1, strings.Join(names, "/"), repeat)

	if step.Condition != ConditionNone {
		met, err := s.waitCondition(r, step, buttons)
		if err != nil {
			return stepContinue, err
		}
		if !met {
			if r.gate.stopped() {
				return stepStopped, nil
			}
			r.stats.Round.Skipped++
			return stepContinue, nil
		}
	}

	for rep := 0; rep < repeat; rep++ {
		if !r.gate.checkPauseOrStop() {
			return stepStopped, nil
		}

		r.frames.InvalidateCache()
		frame, err := r.frames.CaptureFrame(true)
		if err != nil {
			return stepContinue, fmt.Errorf("capture failed: %w", err)
		}

		hit, err := s.recognizeFirst(r, buttons, frame)
		if err != nil {
			return stepContinue, err
		}
		if hit == nil && r.gate.stopped() {
			return stepStopped, nil
		}

		if hit != nil {
			s.deps.Sinks.recognition(true)
			if err := s.perform(r, hit.button, hit.outcome); err != nil {
				return stepContinue, err
			}
			s.logf("  %s found (%.2f) at (%d,%d), clicked",
				hit.button.DisplayName(), hit.outcome.Confidence, hit.outcome.Center.X, hit.outcome.Center.Y)
			r.stats.Round.Success++
			r.consecutive = 0
		} else {
			r.consecutive++
			s.deps.Sinks.recognition(false)
			result, err := s.handleFailure(r, buttons[0], idx, rep, frame)
			if err != nil || result != stepContinue {
				return result, err
			}
		}

		if rep < repeat-1 {
			if !r.gate.sleep(step.IntraDelay.Sample(r.rng)) {
				return stepStopped, nil
			}
		}
	}

	if !r.gate.sleep(step.InterDelay.Sample(r.rng)) {
		return stepStopped, nil
	}
	return stepContinue, nil
}

// waitCondition polls until the step's condition holds or times out
func (s *Scheduler) waitCondition(r *run, step StepSpec, buttons []ButtonSpec) (bool, error) {
	timeout := step.ConditionTimeout
	if timeout <= 0 {
		timeout = DefaultConditionTimeout
	}
	deadline := s.opts.Now().Add(timeout)

	for s.opts.Now().Before(deadline) {
		if !r.gate.checkPauseOrStop() {
			return false, nil
		}

		r.frames.InvalidateCache()
		frame, err := r.frames.CaptureFrame(true)
		if err != nil {
			return false, fmt.Errorf("capture failed: %w", err)
		}

		foundAny := false
		for _, b := range buttons {
			if s.recognize(r, b, frame).Found {
				foundAny = true
				break
			}
		}

		switch step.Condition {
		case ConditionWaitAppear:
			if foundAny {
				return true, nil
			}
		case ConditionWaitDisappear:
			if !foundAny {
				return true, nil
			}
		case ConditionNone:
			return true, nil
		default:
			return false, fmt.Errorf("unknown condition %v", step.Condition)
		}

		if !r.gate.sleep(s.opts.ConditionPoll) {
			return false, nil
		}
	}

	s.logf("Condition timeout (%s) after %s", step.Condition, timeout)
	return false, nil
}

// handleFailure applies the primary button's failure policy to a miss
func (s *Scheduler) handleFailure(r *run, button ButtonSpec, idx, rep int, frame *image.RGBA) (stepResult, error) {
	name := button.DisplayName()
	tag := FailureTag(idx, rep, name)

	switch button.Policy {
	case PolicyRetry:
		found, last, err := s.retry(r, button, frame)
		if err != nil || r.gate.stopped() {
			return stepStopped, err
		}
		if found {
			return stepContinue, nil
		}
		s.logf("  %s not found after retries, skipping", name)
		r.stats.Round.Failure++
		s.deps.Sinks.failureScreenshot(last, tag)
		return stepContinue, nil

	case PolicySkip:
		s.logf("  %s not found, skipping", name)
		r.stats.Round.Skipped++
		return stepContinue, nil

	case PolicyAbort:
		found, last, err := s.retry(r, button, frame)
		if err != nil || r.gate.stopped() {
			return stepStopped, err
		}
		if found {
			return stepContinue, nil
		}
		s.logf("  %s not found, aborting task", name)
		r.stats.Round.Failure++
		s.deps.Sinks.failureScreenshot(last, tag)
		return stepAbort, nil

	case PolicyAlert:
		s.logf("  %s not found, alert triggered", name)
		r.stats.Round.Failure++
		s.deps.Sinks.failureScreenshot(frame, tag)
		return stepContinue, nil
	}
	return stepContinue, fmt.Errorf("unknown failure policy %v", button.Policy)
}

// retry re-captures and re-matches button up to RetryCount times. A hit is
// clicked and recorded. last is the most recent frame examined.
func (s *Scheduler) retry(r *run, button ButtonSpec, frame *image.RGBA) (found bool, last *image.RGBA, err error) {
	last = frame
	name := button.DisplayName()
	for attempt := 1; attempt <= button.RetryCount; attempt++ {
		if r.gate.stopped() {
			return false, last, nil
		}
		s.logf("  Retry %d/%d for %s", attempt, button.RetryCount, name)
		if !r.gate.sleep(button.RetryInterval) {
			return false, last, nil
		}

		fresh, err := r.frames.CaptureFrame(false)
		if err != nil {
			return false, last, fmt.Errorf("capture failed: %w", err)
		}
		last = fresh

		outcome := s.recognize(r, button, fresh)
		s.deps.Sinks.recognition(outcome.Found)
		if !outcome.Found {
			continue
		}
		if err := s.perform(r, button, outcome); err != nil {
			return false, last, err
		}
		r.stats.Round.Success++
		r.consecutive = 0
		s.logf("  %s found on retry (%.2f)", name, outcome.Confidence)
		return true, last, nil
	}
	return false, last, nil
}

// recognize matches one button against frame. A template that failed to
// load is never found.
func (s *Scheduler) recognize(r *run, button ButtonSpec, frame *image.RGBA) cv.MatchOutcome {
	tpl, err := r.templates.Get(button.ImagePath)
	if err != nil || tpl == nil {
		return cv.MatchOutcome{}
	}
	opts := []cv.Option{cv.WithConfidence(button.Confidence)}
	if button.Region != nil {
		opts = append(opts, cv.WithRegion(button.Region))
	}
	return s.deps.Matcher.Match(frame, tpl, opts...)
}

// perform clicks a hit, translating frame coordinates to the screen
func (s *Scheduler) perform(r *run, button ButtonSpec, outcome cv.MatchOutcome) error {
	origin := r.source.Origin()
	x, y := outcome.Center.X+origin.X, outcome.Center.Y+origin.Y

	var err error
	switch button.ClickKind {
	case ClickSingle:
		_, err = s.deps.Clicker.Click(x, y, clicker.ButtonLeft, 1, button.Offset)
	case ClickDouble:
		_, err = s.deps.Clicker.Click(x, y, clicker.ButtonLeft, 2, button.Offset)
	case ClickRight:
		_, err = s.deps.Clicker.Click(x, y, clicker.ButtonRight, 1, button.Offset)
	case ClickLongPress:
		_, err = s.deps.Clicker.LongPress(x, y, button.LongPress, clicker.ButtonLeft, button.Offset)
	default:
		return fmt.Errorf("unknown click kind %v", button.ClickKind)
	}
	if err != nil {
		return fmt.Errorf("%s click on %s failed: %w", button.ClickKind, button.DisplayName(), err)
	}
	return nil
}
