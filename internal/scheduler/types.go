package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"jordanella.com/autoclick-vision/internal/cv"
)

var (
	ErrNoSteps           = errors.New("task has no steps")
	ErrDuplicateButtonID = errors.New("duplicate button id")
)

// ClickKind is the pointer action performed on a hit
type ClickKind int

const (
	ClickSingle ClickKind = iota
	ClickDouble
	ClickRight
	ClickLongPress
)

func (k ClickKind) String() string {
	switch k {
	case ClickSingle:
		return "single"
	case ClickDouble:
		return "double"
	case ClickRight:
		return "right"
	case ClickLongPress:
		return "long_press"
	}
	return fmt.Sprintf("ClickKind(%d)", int(k))
}

// ParseClickKind converts a task file value into a ClickKind
func ParseClickKind(s string) (ClickKind, error) {
	switch normalize(s) {
	case "single", "":
		return ClickSingle, nil
	case "double":
		return ClickDouble, nil
	case "right":
		return ClickRight, nil
	case "long_press", "longpress":
		return ClickLongPress, nil
	}
	return ClickSingle, fmt.Errorf("unknown click kind %q", s)
}

// Condition is evaluated before a step runs
type Condition int

const (
	ConditionNone Condition = iota
	// ConditionWaitAppear waits until any candidate is on screen
	ConditionWaitAppear
	// ConditionWaitDisappear waits until no candidate is on screen
	ConditionWaitDisappear
)

func (c Condition) String() string {
	switch c {
	case ConditionNone:
		return "none"
	case ConditionWaitAppear:
		return "wait_appear"
	case ConditionWaitDisappear:
		return "wait_disappear"
	}
	return fmt.Sprintf("Condition(%d)", int(c))
}

// ParseCondition converts a task file value into a Condition
func ParseCondition(s string) (Condition, error) {
	switch normalize(s) {
	case "none", "":
		return ConditionNone, nil
	case "wait_appear", "appear":
		return ConditionWaitAppear, nil
	case "wait_disappear", "disappear":
		return ConditionWaitDisappear, nil
	}
	return ConditionNone, fmt.Errorf("unknown condition %q", s)
}

// FailurePolicy decides what happens when a button is not found
type FailurePolicy int

const (
	PolicyRetry FailurePolicy = iota
	PolicySkip
	PolicyAbort
	PolicyAlert
)

func (p FailurePolicy) String() string {
	switch p {
	case PolicyRetry:
		return "retry"
	case PolicySkip:
		return "skip"
	case PolicyAbort:
		return "abort"
	case PolicyAlert:
		return "alert"
	}
	return fmt.Sprintf("FailurePolicy(%d)", int(p))
}

// ParseFailurePolicy converts a task file value into a FailurePolicy
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch normalize(s) {
	case "retry", "":
		return PolicyRetry, nil
	case "skip":
		return PolicySkip, nil
	case "abort":
		return PolicyAbort, nil
	case "alert":
		return PolicyAlert, nil
	}
	return PolicyRetry, fmt.Errorf("unknown failure policy %q", s)
}

func normalize(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
}

// ButtonSpec describes one recognisable on-screen marker
type ButtonSpec struct {
	ID            string
	Name          string
	ImagePath     string
	Confidence    float64
	ClickKind     ClickKind
	Offset        int // jitter radius in pixels
	RetryCount    int
	RetryInterval time.Duration
	Region        *cv.Rect // search only inside this part of the frame
	Policy        FailurePolicy
	LongPress     time.Duration
}

// NewButton returns a button with the usual defaults
func NewButton(id, name, imagePath string) ButtonSpec {
	return ButtonSpec{
		ID:            id,
		Name:          name,
		ImagePath:     imagePath,
		Confidence:    0.8,
		ClickKind:     ClickSingle,
		RetryCount:    3,
		RetryInterval: 500 * time.Millisecond,
		Policy:        PolicyRetry,
		LongPress:     time.Second,
	}
}

// DisplayName is the name, or the id when unnamed
func (b ButtonSpec) DisplayName() string {
	if b.Name != "" {
		return b.Name
	}
	return b.ID
}

// StepSpec is one entry in the click sequence. Several button ids make the
// step mutually exclusive: the first one found is clicked.
type StepSpec struct {
	ButtonIDs        []string
	Repeat           int
	IntraDelay       DelayPolicy // between repeats
	InterDelay       DelayPolicy // after the step
	Condition        Condition
	ConditionTimeout time.Duration
}

// DefaultConditionTimeout bounds wait_appear / wait_disappear
const DefaultConditionTimeout = 30 * time.Second

// NewStep returns a single-repeat step with default delays
func NewStep(buttonIDs ...string) StepSpec {
	return StepSpec{
		ButtonIDs:        buttonIDs,
		Repeat:           1,
		ConditionTimeout: DefaultConditionTimeout,
	}
}

// TaskSpec is a complete automation task
type TaskSpec struct {
	Name          string
	Buttons       []ButtonSpec
	Steps         []StepSpec
	LoopCount     int // 0 runs until stopped
	RoundInterval DelayPolicy
	// ScheduledStart is an ISO timestamp; invalid values are logged and ignored
	ScheduledStart               string
	ChainTask                    string
	StopAfterConsecutiveFailures int           // 0 disables
	StopAfterDuration            time.Duration // 0 disables
}

// NewTask returns a task with the usual defaults
func NewTask(name string) TaskSpec {
	return TaskSpec{
		Name:          name,
		LoopCount:     50,
		RoundInterval: FixedDelay(10 * time.Second),
	}
}

// Button looks up a button by id
func (t *TaskSpec) Button(id string) (ButtonSpec, bool) {
	for _, b := range t.Buttons {
		if b.ID == id {
			return b, true
		}
	}
	return ButtonSpec{}, false
}

// ButtonNames maps each button's name (and id) to its id, for ParseSequence
func (t *TaskSpec) ButtonNames() map[string]string {
	names := make(map[string]string, 2*len(t.Buttons))
	for _, b := range t.Buttons {
		names[b.ID] = b.ID
	}
	for _, b := range t.Buttons {
		if b.Name != "" {
			names[b.Name] = b.ID
		}
	}
	return names
}

// TemplatePaths returns the distinct template paths in button order
func (t *TaskSpec) TemplatePaths() []string {
	seen := make(map[string]bool, len(t.Buttons))
	var paths []string
	for _, b := range t.Buttons {
		if b.ImagePath == "" || seen[b.ImagePath] {
			continue
		}
		seen[b.ImagePath] = true
		paths = append(paths, b.ImagePath)
	}
	return paths
}

// Validate checks the task can be run. Unknown button ids inside steps
// are allowed; those steps are skipped at run time.
func (t *TaskSpec) Validate() error {
	if len(t.Steps) == 0 {
		return ErrNoSteps
	}
	seen := make(map[string]bool, len(t.Buttons))
	for _, b := range t.Buttons {
		if seen[b.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateButtonID, b.ID)
		}
		seen[b.ID] = true
	}
	return nil
}

// State is the scheduler's run state
type State int32

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopped
	StateFinished
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	case StateFinished:
		return "finished"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Active reports whether a run is in progress
func (s State) Active() bool {
	return s == StateRunning || s == StatePaused
}

// RoundStats counts step outcomes within the current round
type RoundStats struct {
	Success int
	Failure int
	Skipped int
}

// RunStats is a snapshot of run progress
type RunStats struct {
	RoundsCompleted int
	TotalRounds     int // 0 when unbounded
	CurrentStep     int // 1-based
	TotalSteps      int
	Round           RoundStats
	Elapsed         time.Duration
}

// FailureTag names an archived failure screenshot
func FailureTag(step, rep int, name string) string {
	return fmt.Sprintf("step%d_rep%d_%s", step, rep, name)
}
