package scheduler

import (
	"bytes"
	"errors"
	"image"
	"math/rand"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/autoclick-vision/internal/clicker"
	"jordanella.com/autoclick-vision/internal/cv"
	"jordanella.com/autoclick-vision/internal/logging"
)

type fakeFrames struct {
	mu       sync.Mutex
	captures int
	closed   bool
	hook     func() error // runs before each capture, outside the lock
}

func (f *fakeFrames) CaptureFrame() (*image.RGBA, error) {
	if f.hook != nil {
		if err := f.hook(); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures++
	return image.NewRGBA(image.Rect(0, 0, 8, 8)), nil
}

func (f *fakeFrames) GetDimensions() (int, int) { return 8, 8 }
func (f *fakeFrames) Origin() image.Point       { return image.Pt(100, 50) }

func (f *fakeFrames) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// fakeMatcher answers per template path; found receives the 1-based call
// number for that path. delay is slept outside the lock so pool
// recognitions overlap.
type fakeMatcher struct {
	mu       sync.Mutex
	paths    map[*image.RGBA]string
	calls    map[string]int
	found    map[string]func(call int) bool
	delay    map[string]time.Duration
	center   map[string]cv.Point
	panic    bool
	inFlight int
	peak     int
}

func newFakeMatcher() *fakeMatcher {
	return &fakeMatcher{
		paths:  map[*image.RGBA]string{},
		calls:  map[string]int{},
		found:  map[string]func(int) bool{},
		delay:  map[string]time.Duration{},
		center: map[string]cv.Point{},
	}
}

func (m *fakeMatcher) load(path string) (*image.RGBA, error) {
	if path == "missing.png" {
		return nil, errors.New("no such file")
	}
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	m.mu.Lock()
	m.paths[img] = path
	m.mu.Unlock()
	return img, nil
}

func (m *fakeMatcher) Match(frame, tpl *image.RGBA, opts ...cv.Option) cv.MatchOutcome {
	m.mu.Lock()
	if m.panic {
		m.mu.Unlock()
		panic("matcher exploded")
	}
	path := m.paths[tpl]
	m.calls[path]++
	call := m.calls[path]
	fn := m.found[path]
	delay := m.delay[path]
	center, ok := m.center[path]
	if !ok {
		center = cv.Point{X: 3, Y: 4}
	}
	m.inFlight++
	m.peak = max(m.peak, m.inFlight)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()
	time.Sleep(delay)

	if fn == nil || !fn(call) {
		return cv.MatchOutcome{Confidence: 0.1}
	}
	return cv.MatchOutcome{Found: true, Confidence: 0.95, Center: center}
}

func (m *fakeMatcher) peakInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

func (m *fakeMatcher) callsFor(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[path]
}

func always(int) bool { return true }
func never(int) bool  { return false }

type click struct {
	at     image.Point
	button clicker.Button
	clicks int
	long   time.Duration
}

type fakeClicker struct {
	mu     sync.Mutex
	clicks []click
}

func (c *fakeClicker) Click(x, y int, button clicker.Button, clicks int, offset int) (image.Point, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clicks = append(c.clicks, click{at: image.Pt(x, y), button: button, clicks: clicks})
	return image.Pt(x, y), nil
}

func (c *fakeClicker) LongPress(x, y int, d time.Duration, button clicker.Button, offset int) (image.Point, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clicks = append(c.clicks, click{at: image.Pt(x, y), button: button, long: d})
	return image.Pt(x, y), nil
}

func (c *fakeClicker) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clicks)
}

// recorder collects everything the sinks receive
type recorder struct {
	mu          sync.Mutex
	lines       []string
	states      []State
	screenshots []string
	chained     []string
	recognition []bool
	activity    int
}

func (r *recorder) sinks() Sinks {
	return Sinks{
		Log: func(line string) {
			r.mu.Lock()
			r.lines = append(r.lines, line)
			r.mu.Unlock()
		},
		State: func(s State) {
			r.mu.Lock()
			r.states = append(r.states, s)
			r.mu.Unlock()
		},
		FailureScreenshot: func(frame *image.RGBA, tag string) {
			r.mu.Lock()
			r.screenshots = append(r.screenshots, tag)
			r.mu.Unlock()
		},
		ChainTask: func(ref string) {
			r.mu.Lock()
			r.chained = append(r.chained, ref)
			r.mu.Unlock()
		},
		Recognition: func(found bool) {
			r.mu.Lock()
			r.recognition = append(r.recognition, found)
			r.mu.Unlock()
		},
		Activity: func() {
			r.mu.Lock()
			r.activity++
			r.mu.Unlock()
		},
	}
}

func (r *recorder) logContains(pattern string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	re := regexp.MustCompile(pattern)
	n := 0
	for _, l := range r.lines {
		if re.MatchString(l) {
			n++
		}
	}
	return n
}

type harness struct {
	sched   *Scheduler
	frames  *fakeFrames
	matcher *fakeMatcher
	clicker *fakeClicker
	rec     *recorder
	errs    chan error
}

func newHarness(t *testing.T, tune ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		frames:  &fakeFrames{},
		matcher: newFakeMatcher(),
		clicker: &fakeClicker{},
		rec:     &recorder{},
		errs:    make(chan error, 4),
	}
	opts := Options{
		ConditionPoll: 5 * time.Millisecond,
		Rand:          rand.New(rand.NewSource(1)),
	}
	for _, fn := range tune {
		fn(&opts)
	}
	h.sched = New(Deps{
		OpenCapture:  func() (Frames, error) { return h.frames, nil },
		Matcher:      h.matcher,
		Clicker:      h.clicker,
		LoadTemplate: h.matcher.load,
		Sinks:        h.rec.sinks(),
		ErrorHandler: func(err error) { h.errs <- err },
		Logger:       logging.NewLogger("Scheduler").SetOutputs(&bytes.Buffer{}),
	}, opts)
	return h
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	select {
	case <-h.sched.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not finish")
	}
}

func quickButton(id string) ButtonSpec {
	b := NewButton(id, id, id+".png")
	b.RetryInterval = 0
	return b
}

func quickStep(repeat int, ids ...string) StepSpec {
	s := NewStep(ids...)
	s.Repeat = repeat
	s.IntraDelay = FixedDelay(0)
	s.InterDelay = FixedDelay(0)
	return s
}

func quickTask(buttons []ButtonSpec, steps ...StepSpec) TaskSpec {
	task := NewTask("test")
	task.Buttons = buttons
	task.Steps = steps
	task.LoopCount = 1
	task.RoundInterval = FixedDelay(0)
	return task
}

func TestRunClicksAndFinishes(t *testing.T) {
	h := newHarness(t)
	h.matcher.found["a.png"] = always

	task := quickTask([]ButtonSpec{quickButton("a")}, quickStep(3, "a"))
	task.LoopCount = 2
	require.True(t, h.sched.Start(task))
	h.wait(t)

	assert.Equal(t, StateFinished, h.sched.State())
	assert.Equal(t, 6, h.clicker.count())
	// frame coordinates are shifted by the capture origin
	assert.Equal(t, image.Pt(103, 54), h.clicker.clicks[0].at)
	assert.Equal(t, clicker.ButtonLeft, h.clicker.clicks[0].button)

	stats := h.sched.Stats()
	assert.Equal(t, 2, stats.RoundsCompleted)
	assert.Equal(t, 2, stats.TotalRounds)
	assert.Equal(t, 3, stats.Round.Success)
	assert.True(t, h.frames.closed)
	assert.Equal(t, 6, h.rec.activity)
	assert.Equal(t, []State{StateRunning, StateFinished}, h.rec.states)
}

func TestClickKindsDispatch(t *testing.T) {
	h := newHarness(t)
	for _, p := range []string{"d.png", "r.png", "l.png"} {
		h.matcher.found[p] = always
	}
	d, r, l := quickButton("d"), quickButton("r"), quickButton("l")
	d.ClickKind = ClickDouble
	r.ClickKind = ClickRight
	l.ClickKind = ClickLongPress
	l.LongPress = 2 * time.Second

	task := quickTask([]ButtonSpec{d, r, l}, quickStep(1, "d"), quickStep(1, "r"), quickStep(1, "l"))
	require.True(t, h.sched.Start(task))
	h.wait(t)

	require.Equal(t, 3, h.clicker.count())
	assert.Equal(t, 2, h.clicker.clicks[0].clicks)
	assert.Equal(t, clicker.ButtonRight, h.clicker.clicks[1].button)
	assert.Equal(t, 2*time.Second, h.clicker.clicks[2].long)
}

func TestStartIsNoopWhileRunning(t *testing.T) {
	h := newHarness(t)
	task := quickTask([]ButtonSpec{quickButton("a")}, quickStep(1, "a"))
	task.ScheduledStart = time.Now().Add(time.Hour).Format(time.RFC3339)

	require.True(t, h.sched.Start(task))
	assert.Equal(t, StateRunning, h.sched.State())
	assert.True(t, h.sched.IsRunning())
	assert.False(t, h.sched.Start(task))

	h.sched.Stop()
	h.wait(t)
	assert.Equal(t, StateStopped, h.sched.State())
	assert.False(t, h.sched.IsRunning())
	assert.Zero(t, h.matcher.callsFor("a.png"))
}

func TestStartRejectsEmptyTask(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.sched.Start(NewTask("empty")))
	assert.Equal(t, StateIdle, h.sched.State())
}

func TestPauseResumeTransitions(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.sched.Pause(), "pause from idle")
	assert.False(t, h.sched.Resume(), "resume from idle")

	h.matcher.found["a.png"] = always
	task := quickTask([]ButtonSpec{quickButton("a")}, quickStep(1, "a"))
	task.LoopCount = 0
	require.True(t, h.sched.Start(task))

	require.True(t, h.sched.Pause())
	assert.Equal(t, StatePaused, h.sched.State())
	assert.False(t, h.sched.Pause())
	assert.True(t, h.sched.IsRunning())

	// the worker settles at a checkpoint and stays there
	time.Sleep(30 * time.Millisecond)
	before := h.clicker.count()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, before, h.clicker.count())

	require.True(t, h.sched.Resume())
	assert.False(t, h.sched.Resume())
	assert.Eventually(t, func() bool { return h.clicker.count() > before }, time.Second, 5*time.Millisecond)

	h.sched.Stop()
	h.wait(t)
	assert.Equal(t, StateStopped, h.sched.State())
}

func TestStopUnblocksPausedWorker(t *testing.T) {
	h := newHarness(t)
	h.matcher.found["a.png"] = always
	task := quickTask([]ButtonSpec{quickButton("a")}, quickStep(1, "a"))
	task.LoopCount = 0
	require.True(t, h.sched.Start(task))
	require.True(t, h.sched.Pause())

	start := time.Now()
	h.sched.Stop()
	h.wait(t)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateStopped, h.sched.State())
}

func TestStopInterruptsRoundInterval(t *testing.T) {
	h := newHarness(t)
	h.matcher.found["a.png"] = always
	task := quickTask([]ButtonSpec{quickButton("a")}, quickStep(1, "a"))
	task.LoopCount = 3
	task.RoundInterval = FixedDelay(time.Hour)
	require.True(t, h.sched.Start(task))

	assert.Eventually(t, func() bool { return h.rec.logContains(`before next round`) == 1 }, time.Second, 5*time.Millisecond)
	h.sched.Stop()
	h.wait(t)
	assert.Equal(t, 1, h.clicker.count())
	assert.Empty(t, h.rec.chained)
}

func TestStopFromIdle(t *testing.T) {
	h := newHarness(t)
	h.sched.Stop()
	assert.Equal(t, StateStopped, h.sched.State())

	h.matcher.found["a.png"] = always
	require.True(t, h.sched.Start(quickTask([]ButtonSpec{quickButton("a")}, quickStep(1, "a"))))
	h.wait(t)
	assert.Equal(t, StateFinished, h.sched.State())
}

func TestAbortPolicyRetriesThenStops(t *testing.T) {
	h := newHarness(t)
	a := quickButton("a")
	a.Policy = PolicyAbort
	a.RetryCount = 2
	h.matcher.found["b.png"] = always

	task := quickTask([]ButtonSpec{a, quickButton("b")}, quickStep(1, "a"), quickStep(1, "b"))
	task.LoopCount = 5
	task.ChainTask = "next.yaml"
	require.True(t, h.sched.Start(task))
	h.wait(t)

	assert.Equal(t, StateStopped, h.sched.State())
	assert.Equal(t, 3, h.matcher.callsFor("a.png"))
	assert.Zero(t, h.matcher.callsFor("b.png"))
	assert.Equal(t, []string{"step0_rep0_a"}, h.rec.screenshots)
	assert.Equal(t, 1, h.sched.Stats().Round.Failure)
	assert.Empty(t, h.rec.chained)
}

func TestSkipNeverCountsFailure(t *testing.T) {
	h := newHarness(t)
	a := quickButton("a")
	a.Policy = PolicySkip

	require.True(t, h.sched.Start(quickTask([]ButtonSpec{a}, quickStep(3, "a"))))
	h.wait(t)

	stats := h.sched.Stats()
	assert.Equal(t, StateFinished, h.sched.State())
	assert.Equal(t, 3, stats.Round.Skipped)
	assert.Zero(t, stats.Round.Failure)
	assert.Empty(t, h.rec.screenshots)
}

func TestRetryPolicyHitOnRetry(t *testing.T) {
	h := newHarness(t)
	h.matcher.found["a.png"] = func(call int) bool { return call == 3 }

	require.True(t, h.sched.Start(quickTask([]ButtonSpec{quickButton("a")}, quickStep(1, "a"))))
	h.wait(t)

	stats := h.sched.Stats()
	assert.Equal(t, 1, stats.Round.Success)
	assert.Zero(t, stats.Round.Failure)
	assert.Equal(t, 1, h.clicker.count())
	assert.Equal(t, []bool{false, false, true}, h.rec.recognition)
}

func TestRetryPolicyExhausted(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.sched.Start(quickTask([]ButtonSpec{quickButton("a")}, quickStep(2, "a"))))
	h.wait(t)

	stats := h.sched.Stats()
	assert.Equal(t, StateFinished, h.sched.State())
	assert.Equal(t, 2, stats.Round.Failure)
	assert.Equal(t, 8, h.matcher.callsFor("a.png"))
	assert.Equal(t, []string{"step0_rep0_a", "step0_rep1_a"}, h.rec.screenshots)
}

func TestAlertPolicyContinues(t *testing.T) {
	h := newHarness(t)
	a := quickButton("a")
	a.Policy = PolicyAlert
	h.matcher.found["b.png"] = always

	require.True(t, h.sched.Start(quickTask([]ButtonSpec{a, quickButton("b")}, quickStep(1, "a"), quickStep(1, "b"))))
	h.wait(t)

	assert.Equal(t, 1, h.matcher.callsFor("a.png"))
	assert.Equal(t, 1, h.clicker.count())
	assert.Equal(t, 1, h.sched.Stats().Round.Failure)
	assert.Len(t, h.rec.screenshots, 1)
}

func TestConsecutiveFailureLimit(t *testing.T) {
	h := newHarness(t)
	miss := quickButton("miss")
	miss.Policy = PolicySkip
	h.matcher.found["hit.png"] = always
	h.matcher.found["after.png"] = always

	task := quickTask([]ButtonSpec{miss, quickButton("hit"), quickButton("after")},
		quickStep(1, "miss"), quickStep(1, "miss"), quickStep(1, "hit"),
		quickStep(1, "miss"), quickStep(1, "miss"), quickStep(1, "miss"),
		quickStep(1, "after"))
	task.StopAfterConsecutiveFailures = 3
	require.True(t, h.sched.Start(task))
	h.wait(t)

	assert.Equal(t, StateStopped, h.sched.State())
	assert.Equal(t, 5, h.matcher.callsFor("miss.png"))
	assert.Zero(t, h.matcher.callsFor("after.png"))
	assert.Equal(t, 6, h.sched.Stats().CurrentStep)
	assert.Equal(t, 1, h.rec.logContains(`Consecutive failure limit reached \(3 failures\)`))
}

func TestUnknownButtonsAreSkipped(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.sched.Start(quickTask(nil, quickStep(1, "ghost"))))
	h.wait(t)

	assert.Equal(t, StateFinished, h.sched.State())
	assert.Equal(t, 1, h.sched.Stats().Round.Skipped)
}

func TestMissingTemplateIsNeverFound(t *testing.T) {
	h := newHarness(t)
	b := NewButton("m", "m", "missing.png")
	b.Policy = PolicySkip

	require.True(t, h.sched.Start(quickTask([]ButtonSpec{b}, quickStep(3, "m"))))
	h.wait(t)

	assert.Equal(t, StateFinished, h.sched.State())
	assert.Equal(t, 3, h.sched.Stats().Round.Skipped)
	assert.Equal(t, 1, h.rec.logContains(`Template not found: missing\.png`))
}

func TestConditionWaitAppearTimesOut(t *testing.T) {
	h := newHarness(t)
	step := quickStep(1, "a")
	step.Condition = ConditionWaitAppear
	step.ConditionTimeout = 40 * time.Millisecond

	require.True(t, h.sched.Start(quickTask([]ButtonSpec{quickButton("a")}, step)))
	h.wait(t)

	assert.Equal(t, 1, h.sched.Stats().Round.Skipped)
	assert.Zero(t, h.clicker.count())
	assert.Greater(t, h.matcher.callsFor("a.png"), 1)
	assert.Equal(t, 1, h.rec.logContains(`Condition timeout \(wait_appear\)`))
}

func TestConditionWaitAppearMet(t *testing.T) {
	h := newHarness(t)
	h.matcher.found["a.png"] = func(call int) bool { return call >= 3 }
	step := quickStep(1, "a")
	step.Condition = ConditionWaitAppear

	require.True(t, h.sched.Start(quickTask([]ButtonSpec{quickButton("a")}, step)))
	h.wait(t)

	assert.Equal(t, 1, h.clicker.count())
	assert.Equal(t, 1, h.sched.Stats().Round.Success)
}

func TestConditionWaitDisappear(t *testing.T) {
	h := newHarness(t)
	h.matcher.found["gone.png"] = func(call int) bool { return call < 3 }
	h.matcher.found["a.png"] = always
	step := quickStep(1, "gone", "a")
	step.Condition = ConditionWaitDisappear
	step.ConditionTimeout = 50 * time.Millisecond

	require.True(t, h.sched.Start(quickTask([]ButtonSpec{quickButton("gone"), quickButton("a")}, step)))
	h.wait(t)

	// "a" is always visible, so not every candidate ever disappears
	assert.Equal(t, 1, h.sched.Stats().Round.Skipped)
	assert.Zero(t, h.clicker.count())
}

func TestConditionStopDuringWait(t *testing.T) {
	h := newHarness(t)
	step := quickStep(1, "a")
	step.Condition = ConditionWaitAppear
	step.ConditionTimeout = time.Hour

	require.True(t, h.sched.Start(quickTask([]ButtonSpec{quickButton("a")}, step)))
	assert.Eventually(t, func() bool { return h.matcher.callsFor("a.png") > 0 }, time.Second, time.Millisecond)
	h.sched.Stop()
	h.wait(t)
	assert.Equal(t, StateStopped, h.sched.State())
	assert.Zero(t, h.sched.Stats().Round.Skipped)
}

func TestMutuallyExclusiveStep(t *testing.T) {
	h := newHarness(t)
	h.matcher.found["b.png"] = always
	buttons := []ButtonSpec{quickButton("a"), quickButton("b"), quickButton("c")}

	require.True(t, h.sched.Start(quickTask(buttons, quickStep(2, "a", "b", "c"))))
	h.wait(t)

	assert.Equal(t, 2, h.clicker.count())
	assert.Equal(t, 2, h.sched.Stats().Round.Success)
	assert.Zero(t, h.sched.Stats().Round.Failure)
}

func poolTask(h *harness) TaskSpec {
	ids := []string{"a", "b", "m1", "m2", "m3", "m4", "m5"}
	buttons := make([]ButtonSpec, 0, len(ids))
	for _, id := range ids {
		buttons = append(buttons, quickButton(id))
		h.matcher.delay[id+".png"] = 50 * time.Millisecond
	}
	h.matcher.found["a.png"] = always
	h.matcher.found["b.png"] = always
	h.matcher.delay["a.png"] = 300 * time.Millisecond
	h.matcher.delay["b.png"] = 20 * time.Millisecond
	h.matcher.center["a.png"] = cv.Point{X: 1, Y: 1}
	h.matcher.center["b.png"] = cv.Point{X: 7, Y: 7}
	return quickTask(buttons, quickStep(1, ids...))
}

func TestMutuallyExclusiveFirstCompletionWins(t *testing.T) {
	h := newHarness(t)

	require.True(t, h.sched.Start(poolTask(h)))
	h.wait(t)

	// a is listed first but b answers first
	require.Equal(t, 1, h.clicker.count())
	assert.Equal(t, image.Pt(107, 57), h.clicker.clicks[0].at)
	assert.Equal(t, 1, h.sched.Stats().Round.Success)

	peak := h.matcher.peakInFlight()
	assert.GreaterOrEqual(t, peak, 2)
	assert.LessOrEqual(t, peak, DefaultOptions().PoolSize)
}

func TestPoolSizeBoundsConcurrentRecognition(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.PoolSize = 2 })

	require.True(t, h.sched.Start(poolTask(h)))
	h.wait(t)

	assert.Equal(t, StateFinished, h.sched.State())
	assert.LessOrEqual(t, h.matcher.peakInFlight(), 2)
	require.Equal(t, 1, h.clicker.count())
}

func TestMutuallyExclusiveMissUsesPrimaryPolicy(t *testing.T) {
	h := newHarness(t)
	a, b := quickButton("a"), quickButton("b")
	a.Policy = PolicySkip
	b.Policy = PolicyAbort

	require.True(t, h.sched.Start(quickTask([]ButtonSpec{a, b}, quickStep(1, "a", "b"))))
	h.wait(t)

	assert.Equal(t, StateFinished, h.sched.State())
	assert.Equal(t, 1, h.sched.Stats().Round.Skipped)
}

func TestChainFiresOnFinish(t *testing.T) {
	h := newHarness(t)
	h.matcher.found["a.png"] = always
	task := quickTask([]ButtonSpec{quickButton("a")}, quickStep(1, "a"))
	task.ChainTask = "next.yaml"

	require.True(t, h.sched.Start(task))
	h.wait(t)
	assert.Equal(t, []string{"next.yaml"}, h.rec.chained)
}

func TestDurationLimitFinishes(t *testing.T) {
	h := newHarness(t)
	var mu sync.Mutex
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)
	h.sched.opts.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Minute)
		return now
	}
	h.matcher.found["a.png"] = always

	task := quickTask([]ButtonSpec{quickButton("a")}, quickStep(1, "a"))
	task.LoopCount = 0
	task.StopAfterDuration = time.Minute
	task.ChainTask = "next.yaml"
	require.True(t, h.sched.Start(task))
	h.wait(t)

	assert.Equal(t, StateFinished, h.sched.State())
	assert.Zero(t, h.clicker.count())
	assert.Equal(t, []string{"next.yaml"}, h.rec.chained)
}

func TestPanicMovesToError(t *testing.T) {
	h := newHarness(t)
	h.matcher.panic = true

	require.True(t, h.sched.Start(quickTask([]ButtonSpec{quickButton("a")}, quickStep(1, "a"))))
	h.wait(t)

	assert.Equal(t, StateError, h.sched.State())
	select {
	case err := <-h.errs:
		var panicErr *PanicError
		assert.ErrorAs(t, err, &panicErr)
	default:
		t.Fatal("error handler not called")
	}
	assert.True(t, h.frames.closed)
}

func TestPanicInPoolMovesToError(t *testing.T) {
	h := newHarness(t)
	h.matcher.panic = true

	require.True(t, h.sched.Start(quickTask([]ButtonSpec{quickButton("a"), quickButton("b")}, quickStep(1, "a", "b"))))
	h.wait(t)
	assert.Equal(t, StateError, h.sched.State())
}

func TestCaptureOpenFailure(t *testing.T) {
	h := newHarness(t)
	h.sched.deps.OpenCapture = func() (Frames, error) { return nil, errors.New("no display") }

	require.True(t, h.sched.Start(quickTask([]ButtonSpec{quickButton("a")}, quickStep(1, "a"))))
	h.wait(t)
	assert.Equal(t, StateError, h.sched.State())
}

func TestInvalidScheduledStartIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.matcher.found["a.png"] = always
	task := quickTask([]ButtonSpec{quickButton("a")}, quickStep(1, "a"))
	task.ScheduledStart = "next tuesday"

	require.True(t, h.sched.Start(task))
	h.wait(t)
	assert.Equal(t, StateFinished, h.sched.State())
	assert.Equal(t, 1, h.rec.logContains(`Invalid scheduled start: next tuesday`))
}

func TestLogLinesAreTimestamped(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.sched.Start(quickTask(nil, quickStep(1, "x"))))
	h.wait(t)

	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	require.NotEmpty(t, h.rec.lines)
	for _, l := range h.rec.lines {
		assert.Regexp(t, `^\[\d{2}:\d{2}:\d{2}\] `, l)
	}
}

func TestFrameReusedWithinStepIteration(t *testing.T) {
	h := newHarness(t)
	h.matcher.found["a.png"] = always
	require.True(t, h.sched.Start(quickTask([]ButtonSpec{quickButton("a")}, quickStep(3, "a"))))
	h.wait(t)

	// one fresh capture per repeat
	assert.Equal(t, 3, h.frames.captures)
}

func TestErrorAfterStopKeepsStopped(t *testing.T) {
	h := newHarness(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.frames.hook = func() error {
		once.Do(func() { close(entered) })
		<-release
		return errors.New("display lost")
	}

	require.True(t, h.sched.Start(quickTask([]ButtonSpec{quickButton("a")}, quickStep(1, "a"))))
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("capture never started")
	}
	h.sched.Stop()
	close(release)
	h.wait(t)

	assert.Equal(t, StateStopped, h.sched.State())
	h.rec.mu.Lock()
	assert.Equal(t, []State{StateRunning, StateStopped}, h.rec.states)
	h.rec.mu.Unlock()

	select {
	case err := <-h.errs:
		assert.ErrorContains(t, err, "display lost")
	case <-time.After(time.Second):
		t.Fatal("error was not reported")
	}
}
