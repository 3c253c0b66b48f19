// Package taskfile loads automation tasks from YAML files.
package taskfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"jordanella.com/autoclick-vision/internal/cv"
	"jordanella.com/autoclick-vision/internal/scheduler"
)

var (
	// ErrUnknownButton marks a step that references a button the file does not define
	ErrUnknownButton = errors.New("unknown button")
	// ErrStepsAndSequence is returned when a file sets both steps and sequence
	ErrStepsAndSequence = errors.New("steps and sequence are mutually exclusive")
)

// File is the on-disk shape of a task
type File struct {
	Name    string   `yaml:"name"`
	Buttons []Button `yaml:"buttons"`
	Steps   []Step   `yaml:"steps,omitempty"`
	// Sequence is the text notation "A*3 -> B|C -> D", used instead of steps
	Sequence string `yaml:"sequence,omitempty"`

	LoopCount          *int     `yaml:"loop_count,omitempty"`
	RoundInterval      *float64 `yaml:"round_interval,omitempty"` // seconds, fixed
	RoundIntervalDelay *Delay   `yaml:"round_interval_delay,omitempty"`

	ScheduledStart               string  `yaml:"scheduled_start,omitempty"`
	ChainTaskPath                string  `yaml:"chain_task_path,omitempty"`
	StopAfterConsecutiveFailures int     `yaml:"stop_after_consecutive_failures,omitempty"`
	StopAfterDurationMinutes     float64 `yaml:"stop_after_duration_minutes,omitempty"`
}

// Button describes one template to look for
type Button struct {
	ID                string   `yaml:"id,omitempty"`
	Name              string   `yaml:"name,omitempty"`
	ImagePath         string   `yaml:"image_path"`
	Confidence        *float64 `yaml:"confidence,omitempty"`
	ClickType         string   `yaml:"click_type,omitempty"`
	ClickOffsetRange  int      `yaml:"click_offset_range,omitempty"`
	RetryCount        *int     `yaml:"retry_count,omitempty"`
	RetryInterval     *float64 `yaml:"retry_interval,omitempty"` // seconds
	Region            []int    `yaml:"region,omitempty"`         // x, y, w, h
	FallbackAction    string   `yaml:"fallback_action,omitempty"`
	LongPressDuration *float64 `yaml:"long_press_duration,omitempty"` // seconds
}

// Step is one entry of the click sequence
type Step struct {
	ButtonIDs        []string `yaml:"button_ids"`
	Repeat           *int     `yaml:"repeat,omitempty"`
	IntraDelay       *Delay   `yaml:"intra_delay,omitempty"`
	InterDelay       *Delay   `yaml:"inter_delay,omitempty"`
	Condition        string   `yaml:"condition,omitempty"`
	ConditionTimeout *float64 `yaml:"condition_timeout,omitempty"` // seconds
}

// Delay is a delay policy in seconds
type Delay struct {
	Mode       string  `yaml:"mode,omitempty"`
	FixedValue float64 `yaml:"fixed_value,omitempty"`
	RangeMin   float64 `yaml:"range_min,omitempty"`
	RangeMax   float64 `yaml:"range_max,omitempty"`
}

// Task is a loaded task file
type Task struct {
	Path string
	Spec scheduler.TaskSpec
}

// Load reads and converts the task file at path. Relative image and chain
// paths are resolved against the file's directory.
func Load(path string) (*Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file %s: %w", path, err)
	}

	spec, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("task file %s: %w", path, err)
	}
	if spec.Name == "" {
		spec.Name = trimExt(filepath.Base(path))
	}

	return &Task{Path: path, Spec: spec}, nil
}

// Parse converts YAML task data. baseDir resolves relative paths; empty leaves them as written.
func Parse(data []byte, baseDir string) (scheduler.TaskSpec, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return scheduler.TaskSpec{}, fmt.Errorf("failed to unmarshal task YAML: %w", err)
	}
	return f.Spec(baseDir)
}

// Spec converts the file into a runnable task
func (f *File) Spec(baseDir string) (scheduler.TaskSpec, error) {
	task := scheduler.NewTask(f.Name)

	for i, b := range f.Buttons {
		button, err := b.spec(baseDir)
		if err != nil {
			return task, fmt.Errorf("buttons[%d]: %w", i, err)
		}
		task.Buttons = append(task.Buttons, button)
	}

	switch {
	case len(f.Steps) > 0 && f.Sequence != "":
		return task, ErrStepsAndSequence
	case f.Sequence != "":
		task.Steps = scheduler.ParseSequence(f.Sequence, task.ButtonNames())
	default:
		for i, s := range f.Steps {
			step, err := s.spec()
			if err != nil {
				return task, fmt.Errorf("steps[%d]: %w", i, err)
			}
			task.Steps = append(task.Steps, step)
		}
	}

	if f.LoopCount != nil {
		if *f.LoopCount < 0 {
			return task, fmt.Errorf("loop_count must be >= 0, got %d", *f.LoopCount)
		}
		task.LoopCount = *f.LoopCount
	}
	switch {
	case f.RoundIntervalDelay != nil:
		d, err := f.RoundIntervalDelay.policy()
		if err != nil {
			return task, fmt.Errorf("round_interval_delay: %w", err)
		}
		task.RoundInterval = d
	case f.RoundInterval != nil:
		task.RoundInterval = scheduler.FixedDelay(seconds(*f.RoundInterval))
	}

	task.ScheduledStart = f.ScheduledStart
	task.ChainTask = resolve(baseDir, f.ChainTaskPath)
	task.StopAfterConsecutiveFailures = f.StopAfterConsecutiveFailures
	task.StopAfterDuration = time.Duration(f.StopAfterDurationMinutes * float64(time.Minute))

	if err := task.Validate(); err != nil {
		return task, err
	}
	return task, nil
}

func (b Button) spec(baseDir string) (scheduler.ButtonSpec, error) {
	id := b.ID
	if id == "" {
		id = uuid.NewString()[:8]
	}
	if b.ImagePath == "" {
		return scheduler.ButtonSpec{}, fmt.Errorf("button %s has no image_path", id)
	}

	button := scheduler.NewButton(id, b.Name, resolve(baseDir, b.ImagePath))

	if b.Confidence != nil {
		if *b.Confidence < 0 || *b.Confidence > 1 {
			return button, fmt.Errorf("confidence must be in [0,1], got %g", *b.Confidence)
		}
		button.Confidence = *b.Confidence
	}
	if b.ClickType != "" {
		kind, err := scheduler.ParseClickKind(b.ClickType)
		if err != nil {
			return button, err
		}
		button.ClickKind = kind
	}
	button.Offset = b.ClickOffsetRange
	if b.RetryCount != nil {
		button.RetryCount = max(0, *b.RetryCount)
	}
	if b.RetryInterval != nil {
		button.RetryInterval = seconds(*b.RetryInterval)
	}
	if len(b.Region) > 0 {
		if len(b.Region) != 4 {
			return button, fmt.Errorf("region must be [x, y, w, h], got %v", b.Region)
		}
		button.Region = &cv.Rect{X: b.Region[0], Y: b.Region[1], W: b.Region[2], H: b.Region[3]}
	}
	if b.FallbackAction != "" {
		policy, err := scheduler.ParseFailurePolicy(b.FallbackAction)
		if err != nil {
			return button, err
		}
		button.Policy = policy
	}
	if b.LongPressDuration != nil {
		button.LongPress = seconds(*b.LongPressDuration)
	}
	return button, nil
}

func (s Step) spec() (scheduler.StepSpec, error) {
	step := scheduler.NewStep(s.ButtonIDs...)
	if s.Repeat != nil {
		step.Repeat = max(1, *s.Repeat)
	}

	var err error
	if s.IntraDelay != nil {
		if step.IntraDelay, err = s.IntraDelay.policy(); err != nil {
			return step, fmt.Errorf("intra_delay: %w", err)
		}
	}
	if s.InterDelay != nil {
		if step.InterDelay, err = s.InterDelay.policy(); err != nil {
			return step, fmt.Errorf("inter_delay: %w", err)
		}
	}
	if s.Condition != "" {
		if step.Condition, err = scheduler.ParseCondition(s.Condition); err != nil {
			return step, err
		}
	}
	if s.ConditionTimeout != nil {
		step.ConditionTimeout = seconds(*s.ConditionTimeout)
	}
	return step, nil
}

func (d Delay) policy() (scheduler.DelayPolicy, error) {
	mode, err := scheduler.ParseDelayMode(d.Mode)
	if err != nil {
		return scheduler.DelayPolicy{}, err
	}
	switch mode {
	case scheduler.DelayFixed:
		return scheduler.FixedDelay(seconds(d.FixedValue)), nil
	case scheduler.DelayRange:
		return scheduler.RangeDelay(seconds(d.RangeMin), seconds(d.RangeMax)), nil
	}
	return scheduler.DefaultDelay(), nil
}

// Check reports step references to undefined buttons. Such steps still
// load and are skipped at run time.
func Check(task scheduler.TaskSpec) error {
	var errs []error
	for i, step := range task.Steps {
		for _, id := range step.ButtonIDs {
			if _, ok := task.Button(id); !ok {
				errs = append(errs, fmt.Errorf("step %d: %w %q", i+1, ErrUnknownButton, id))
			}
		}
	}
	return errors.Join(errs...)
}

// FromSpec converts a task back into its file form
func FromSpec(task scheduler.TaskSpec) File {
	f := File{
		Name:                         task.Name,
		LoopCount:                    ptr(task.LoopCount),
		RoundIntervalDelay:           delayOf(task.RoundInterval),
		ScheduledStart:               task.ScheduledStart,
		ChainTaskPath:                task.ChainTask,
		StopAfterConsecutiveFailures: task.StopAfterConsecutiveFailures,
		StopAfterDurationMinutes:     task.StopAfterDuration.Minutes(),
	}
	for _, b := range task.Buttons {
		button := Button{
			ID:                b.ID,
			Name:              b.Name,
			ImagePath:         b.ImagePath,
			Confidence:        ptr(b.Confidence),
			ClickType:         b.ClickKind.String(),
			ClickOffsetRange:  b.Offset,
			RetryCount:        ptr(b.RetryCount),
			RetryInterval:     ptr(b.RetryInterval.Seconds()),
			FallbackAction:    b.Policy.String(),
			LongPressDuration: ptr(b.LongPress.Seconds()),
		}
		if b.Region != nil {
			button.Region = []int{b.Region.X, b.Region.Y, b.Region.W, b.Region.H}
		}
		f.Buttons = append(f.Buttons, button)
	}
	for _, s := range task.Steps {
		f.Steps = append(f.Steps, Step{
			ButtonIDs:        s.ButtonIDs,
			Repeat:           ptr(s.Repeat),
			IntraDelay:       delayOf(s.IntraDelay),
			InterDelay:       delayOf(s.InterDelay),
			Condition:        s.Condition.String(),
			ConditionTimeout: ptr(s.ConditionTimeout.Seconds()),
		})
	}
	return f
}

// Save writes task to path as YAML
func Save(path string, task scheduler.TaskSpec) error {
	data, err := yaml.Marshal(FromSpec(task))
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create task directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write task file: %w", err)
	}
	return nil
}

func delayOf(d scheduler.DelayPolicy) *Delay {
	switch d.Mode {
	case scheduler.DelayFixed:
		return &Delay{Mode: "fixed", FixedValue: d.Fixed.Seconds()}
	case scheduler.DelayRange:
		return &Delay{Mode: "range", RangeMin: d.Min.Seconds(), RangeMax: d.Max.Seconds()}
	}
	return &Delay{Mode: "default"}
}

func resolve(baseDir, path string) string {
	if path == "" || baseDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}

func ptr[T any](v T) *T {
	return &v
}
