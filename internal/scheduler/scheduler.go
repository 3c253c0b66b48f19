package scheduler

import (
	"fmt"
	"image"
	"math/rand"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"jordanella.com/autoclick-vision/internal/clicker"
	"jordanella.com/autoclick-vision/internal/cv"
	"jordanella.com/autoclick-vision/internal/logging"
	"jordanella.com/autoclick-vision/pkg/templates"
)

// Frames is a capture handle owned by the worker goroutine
type Frames interface {
	cv.Capturer
	// Origin is the screen position of frame pixel (0,0)
	Origin() image.Point
	Close() error
}

// Recognizer locates a template inside a frame
type Recognizer interface {
	Match(frame, tpl *image.RGBA, opts ...cv.Option) cv.MatchOutcome
}

// Actuator performs pointer actions at screen coordinates
type Actuator interface {
	Click(x, y int, button clicker.Button, clicks int, offset int) (image.Point, error)
	LongPress(x, y int, duration time.Duration, button clicker.Button, offset int) (image.Point, error)
}

// Deps are the collaborators a scheduler drives
type Deps struct {
	// OpenCapture opens the worker's capture handle at the start of each run
	OpenCapture  func() (Frames, error)
	Matcher      Recognizer
	Clicker      Actuator
	LoadTemplate templates.Loader // cv.LoadTemplate when nil
	Sinks        Sinks
	ErrorHandler ErrorHandler
	Logger       *logging.Logger
}

// Options tune timing
type Options struct {
	FrameTTL      time.Duration // screenshot reuse window
	ConditionPoll time.Duration
	PoolSize      int // concurrent recognitions for multi-button steps
	Now           func() time.Time
	Rand          *rand.Rand
}

// DefaultOptions returns recommended settings
func DefaultOptions() Options {
	return Options{
		FrameTTL:      cv.DefaultFrameTTL,
		ConditionPoll: 300 * time.Millisecond,
		PoolSize:      4,
	}
}

// Scheduler runs a TaskSpec on a dedicated worker goroutine. Control
// methods are safe to call from any goroutine. Run state is owned by the
// worker and observed through snapshots.
type Scheduler struct {
	deps   Deps
	opts   Options
	logger *logging.Logger

	state    atomic.Int32
	snapshot atomic.Pointer[RunStats]

	ctrlMu sync.Mutex // serializes Start, Pause, Resume and Stop
	gate   *gate
	done   chan struct{}
}

// New creates a scheduler
func New(deps Deps, opts Options) *Scheduler {
	defaults := DefaultOptions()
	if opts.FrameTTL <= 0 {
		opts.FrameTTL = defaults.FrameTTL
	}
	if opts.ConditionPoll <= 0 {
		opts.ConditionPoll = defaults.ConditionPoll
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = defaults.PoolSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewLogger("Scheduler")
	}

	s := &Scheduler{
		deps:   deps,
		opts:   opts,
		logger: deps.Logger,
	}
	s.snapshot.Store(&RunStats{})
	return s
}

// State returns the current run state
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// IsRunning reports whether a run is in progress, paused or not
func (s *Scheduler) IsRunning() bool {
	return s.State().Active()
}

// Stats returns the latest published stats snapshot
func (s *Scheduler) Stats() RunStats {
	return *s.snapshot.Load()
}

// Done is closed when the current worker exits. Before any run it is
// already closed.
func (s *Scheduler) Done() <-chan struct{} {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()
	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

// Wait blocks until the current worker exits
func (s *Scheduler) Wait() {
	<-s.Done()
}

// Start begins running task. It is a no-op returning false while a run is
// in progress or when the task cannot run.
func (s *Scheduler) Start(task TaskSpec) bool {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()

	if s.State().Active() {
		s.logger.Warn("Scheduler already running")
		return false
	}
	if err := task.Validate(); err != nil {
		s.logger.Error("Refusing to start task", err)
		return false
	}

	// A stopped worker may still be unwinding; never run two at once
	if s.done != nil {
		<-s.done
	}

	r := &run{
		task: task,
		stats: RunStats{
			TotalRounds: task.LoopCount,
			TotalSteps:  len(task.Steps),
		},
		templates: templates.NewImageCache(s.deps.LoadTemplate),
		gate:      newGate(),
		rng:       s.opts.Rand,
	}
	snap := r.stats
	s.snapshot.Store(&snap)

	s.gate = r.gate
	s.done = make(chan struct{})
	s.setState(StateRunning)

	go s.work(r, s.done)
	return true
}

// Pause blocks the worker at its next checkpoint. Only valid while running.
func (s *Scheduler) Pause() bool {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()

	if !s.casState(StateRunning, StatePaused) {
		return false
	}
	s.gate.pause()
	s.logf("Task paused")
	return true
}

// Resume releases a paused worker. Only valid while paused.
func (s *Scheduler) Resume() bool {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()

	if !s.casState(StatePaused, StateRunning) {
		return false
	}
	s.gate.resume()
	s.logf("Task resumed")
	return true
}

// Stop cancels the run from any state. A paused worker is unblocked and
// every wait returns within one polling interval.
func (s *Scheduler) Stop() {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()

	if s.gate != nil {
		s.gate.forceStop()
	}
	switch s.State() {
	case StateIdle, StateRunning, StatePaused:
		s.setState(StateStopped)
		s.logf("Task stopped")
	}
}

func (s *Scheduler) setState(state State) {
	s.state.Store(int32(state))
	s.deps.Sinks.state(state)
}

func (s *Scheduler) casState(from, to State) bool {
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	s.deps.Sinks.state(to)
	return true
}

// finish moves an active run to state; a concurrent Stop wins
func (s *Scheduler) finish(state State) bool {
	for {
		current := s.State()
		if !current.Active() {
			return false
		}
		if s.casState(current, state) {
			return true
		}
	}
}

// logf logs a line and forwards it, timestamped, to the log sink
func (s *Scheduler) logf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	s.logger.Info(msg)
	s.deps.Sinks.log(fmt.Sprintf("[%s] %s", s.opts.Now().Format("15:04:05"), msg))
}

func (s *Scheduler) publishStats(r *run) {
	if !r.start.IsZero() {
		r.stats.Elapsed = s.opts.Now().Sub(r.start)
	}
	snap := r.stats
	s.snapshot.Store(&snap)
	s.deps.Sinks.stats(snap)
}

// run holds the state of one run. Only the worker goroutine touches it.
type run struct {
	task        TaskSpec
	stats       RunStats
	consecutive int
	start       time.Time

	gate      *gate
	source    Frames
	frames    *cv.FrameCache
	templates *templates.ImageCache
	rng       *rand.Rand
}

type runOutcome int

const (
	runFinished runOutcome = iota
	runDurationLimit
	runStopped
	runAborted
	runFailureLimit
)

func (s *Scheduler) work(r *run, done chan struct{}) {
	defer close(done)
	defer func() {
		if r.source == nil {
			return
		}
		if err := r.source.Close(); err != nil {
			s.logger.Error("Failed to close capture handle", err)
		}
	}()
	defer func() {
		if rec := recover(); rec != nil {
			s.fail(&PanicError{Value: rec, Stack: debug.Stack()})
		}
	}()

	outcome, err := s.execute(r)
	if err != nil {
		s.fail(err)
		return
	}

	switch outcome {
	case runFinished, runDurationLimit:
		if !s.finish(StateFinished) {
			s.logf("Task was stopped")
			return
		}
		s.logf("Task finished")
		if r.task.ChainTask != "" {
			s.logf("Chaining to next task: %s", r.task.ChainTask)
			s.deps.Sinks.chainTask(r.task.ChainTask)
		}
	case runAborted, runFailureLimit:
		r.gate.forceStop()
		s.finish(StateStopped)
		s.logf("Task was stopped")
	case runStopped:
		s.logf("Task was stopped")
	}
}

// fail moves an active run to Error and hands err to the injected handler.
// A run that was already stopped keeps its state; err is still reported.
func (s *Scheduler) fail(err error) {
	if !s.finish(StateError) {
		s.logger.Warn(fmt.Sprintf("Run failed after reaching %s", s.State()))
	}
	s.logf("Error: %v", err)
	s.logger.Error("Run loop failed", err)

	if s.deps.ErrorHandler == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("Error handler panicked", fmt.Errorf("%v", rec))
		}
	}()
	s.deps.ErrorHandler(err)
}

func (s *Scheduler) execute(r *run) (runOutcome, error) {
	task := r.task

	if task.ScheduledStart != "" {
		target, err := ParseScheduledStart(task.ScheduledStart)
		if err != nil {
			s.logf("Invalid scheduled start: %s", task.ScheduledStart)
		} else if wait := target.Sub(s.opts.Now()); wait > 0 {
			s.logf("Waiting until %s (%.0fs)", task.ScheduledStart, wait.Seconds())
			if !r.gate.sleep(wait) {
				return runStopped, nil
			}
		}
	}

	if s.deps.OpenCapture == nil {
		return runStopped, fmt.Errorf("no capture source configured")
	}
	source, err := s.deps.OpenCapture()
	if err != nil {
		return runStopped, fmt.Errorf("failed to open capture: %w", err)
	}
	r.source = source
	r.frames = cv.NewFrameCache(source, s.opts.FrameTTL).WithClock(s.opts.Now)

	// Decode every template up front so recognition workers only read the cache
	r.templates.OnLoadError(func(path string, err error) {
		s.logf("Template not found: %s (%v)", path, err)
	})
	_ = r.templates.Preload(task.TemplatePaths())

	s.logf("Starting task: %s", task.Name)
	r.start = s.opts.Now()
	defer s.publishStats(r)

	rounds := "unbounded"
	if task.LoopCount > 0 {
		rounds = fmt.Sprint(task.LoopCount)
	}

	for round := 1; task.LoopCount == 0 || round <= task.LoopCount; round++ {
		if !r.gate.checkPauseOrStop() {
			return runStopped, nil
		}
		if task.StopAfterDuration > 0 && s.opts.Now().Sub(r.start) >= task.StopAfterDuration {
			s.logf("Duration limit reached (%s)", task.StopAfterDuration)
			return runDurationLimit, nil
		}

		r.stats.RoundsCompleted = round - 1
		r.stats.Round = RoundStats{}
		s.logf("Round %d/%s", round, rounds)

		for i, step := range task.Steps {
			if r.gate.stopped() {
				return runStopped, nil
			}
			r.stats.CurrentStep = i + 1
			s.publishStats(r)

			result, err := s.executeStep(r, step, i)
			if err != nil {
				return runStopped, err
			}
			switch result {
			case stepStopped:
				return runStopped, nil
			case stepAbort:
				return runAborted, nil
			}

			if limit := task.StopAfterConsecutiveFailures; limit > 0 && r.consecutive >= limit {
				s.logf("Consecutive failure limit reached (%d failures)", r.consecutive)
				return runFailureLimit, nil
			}
		}

		r.stats.RoundsCompleted = round
		s.publishStats(r)
		rs := r.stats.Round
		s.logf("Round %d done: success=%d failure=%d skipped=%d", round, rs.Success, rs.Failure, rs.Skipped)

		if task.LoopCount == 0 || round < task.LoopCount {
			d := task.RoundInterval.Sample(r.rng)
			s.logf("Waiting %.1fs before next round", d.Seconds())
			if !r.gate.sleep(d) {
				return runStopped, nil
			}
		}
	}
	return runFinished, nil
}

var scheduledLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseScheduledStart accepts RFC 3339 or a local ISO timestamp
func ParseScheduledStart(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range scheduledLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid scheduled start %q", s)
}
