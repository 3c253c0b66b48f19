package clicker

import (
	"errors"
	"fmt"
	"image"
	"math/rand"
	"strings"
	"sync"
	"time"

	"jordanella.com/autoclick-vision/internal/logging"
)

// ErrLowLevelUnavailable is returned when low-level input injection is not
// supported on this platform
var ErrLowLevelUnavailable = errors.New("low-level input backend unavailable")

// DefaultOffset makes a call use the configured jitter radius
const DefaultOffset = -1

// Button identifies a mouse button
type Button int

const (
	ButtonLeft Button = iota
	ButtonRight
	ButtonMiddle
)

func (b Button) String() string {
	switch b {
	case ButtonLeft:
		return "left"
	case ButtonRight:
		return "right"
	case ButtonMiddle:
		return "middle"
	}
	return fmt.Sprintf("Button(%d)", int(b))
}

// Movement selects how the pointer travels to its target
type Movement int

const (
	// MoveInstant jumps straight to the target
	MoveInstant Movement = iota
	// MoveLinear glides along a straight line over a random duration
	MoveLinear
	// MoveBezier follows a randomly bent cubic curve
	MoveBezier
)

func (m Movement) String() string {
	switch m {
	case MoveInstant:
		return "instant"
	case MoveLinear:
		return "linear"
	case MoveBezier:
		return "bezier"
	}
	return fmt.Sprintf("Movement(%d)", int(m))
}

// ParseMovement converts a config value into a Movement
func ParseMovement(s string) (Movement, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "instant", "jump":
		return MoveInstant, nil
	case "linear", "":
		return MoveLinear, nil
	case "bezier", "curve":
		return MoveBezier, nil
	}
	return MoveLinear, fmt.Errorf("unknown movement %q", s)
}

// Backend injects pointer input
type Backend interface {
	Location() (x, y int)
	Move(x, y int) error
	Press(b Button) error
	Release(b Button) error
	// SupportsTimedMove is false for backends that can only jump
	SupportsTimedMove() bool
}

// Config configures the clicker
type Config struct {
	OffsetRange   int // jitter radius in pixels
	Movement      Movement
	DurationMin   time.Duration
	DurationMax   time.Duration
	BezierPoints  int
	LowLevelInput bool
}

// DefaultConfig returns recommended settings
func DefaultConfig() Config {
	return Config{
		OffsetRange:  0,
		Movement:     MoveLinear,
		DurationMin:  150 * time.Millisecond,
		DurationMax:  450 * time.Millisecond,
		BezierPoints: 30,
	}
}

// linearStep is the pause between straight-line waypoints
const linearStep = 10 * time.Millisecond

// Clicker moves the pointer and performs clicks with optional jitter and
// humanized movement
type Clicker struct {
	cfg     Config
	backend Backend
	logger  *logging.Logger
	sleep   func(time.Duration)

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a clicker. When low-level input is requested but unavailable,
// it logs a warning and falls back to the default backend.
func New(cfg Config, logger *logging.Logger) *Clicker {
	if logger == nil {
		logger = logging.NewLogger("Clicker")
	}
	backend := selectBackend(cfg, logger, NewLowLevelBackend)
	return NewWithBackend(cfg, backend, logger)
}

func selectBackend(cfg Config, logger *logging.Logger, lowLevel func() (Backend, error)) Backend {
	if !cfg.LowLevelInput {
		return NewRobotBackend()
	}
	b, err := lowLevel()
	if err != nil {
		logger.WarnWithContext("Low-level input unavailable, falling back to default backend",
			map[string]interface{}{"error": err.Error()})
		return NewRobotBackend()
	}
	return b
}

// NewWithBackend creates a clicker on an explicit backend
func NewWithBackend(cfg Config, backend Backend, logger *logging.Logger) *Clicker {
	if logger == nil {
		logger = logging.NewLogger("Clicker")
	}
	if cfg.DurationMax < cfg.DurationMin {
		cfg.DurationMax = cfg.DurationMin
	}
	if cfg.BezierPoints <= 0 {
		cfg.BezierPoints = 30
	}
	return &Clicker{
		cfg:     cfg,
		backend: backend,
		logger:  logger,
		sleep:   time.Sleep,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithRand replaces the random source
func (c *Clicker) WithRand(rng *rand.Rand) *Clicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rng = rng
	return c
}

// WithSleep replaces the sleep function used between waypoints and while
// holding a long press
func (c *Clicker) WithSleep(sleep func(time.Duration)) *Clicker {
	c.sleep = sleep
	return c
}

// Backend returns the active backend
func (c *Clicker) Backend() Backend {
	return c.backend
}

// Config returns the clicker configuration
func (c *Clicker) Config() Config {
	return c.cfg
}

// Click moves to (x, y) plus jitter and performs clicks presses of button.
// offset overrides the configured jitter radius unless it is DefaultOffset.
// Returns where the click landed.
func (c *Clicker) Click(x, y int, button Button, clicks int, offset int) (image.Point, error) {
	target := c.jitter(x, y, offset)
	c.logger.DebugWithContext("Click", map[string]interface{}{
		"x": x, "y": y, "tx": target.X, "ty": target.Y,
		"button": button.String(), "clicks": clicks,
	})

	if err := c.moveTo(target); err != nil {
		return target, err
	}
	for i := 0; i < clicks; i++ {
		if err := c.backend.Press(button); err != nil {
			return target, fmt.Errorf("press %s: %w", button, err)
		}
		if err := c.backend.Release(button); err != nil {
			return target, fmt.Errorf("release %s: %w", button, err)
		}
	}
	return target, nil
}

// SingleClick left-clicks once
func (c *Clicker) SingleClick(x, y, offset int) (image.Point, error) {
	return c.Click(x, y, ButtonLeft, 1, offset)
}

// DoubleClick left-clicks twice
func (c *Clicker) DoubleClick(x, y, offset int) (image.Point, error) {
	return c.Click(x, y, ButtonLeft, 2, offset)
}

// RightClick right-clicks once
func (c *Clicker) RightClick(x, y, offset int) (image.Point, error) {
	return c.Click(x, y, ButtonRight, 1, offset)
}

// LongPress moves to (x, y) plus jitter and holds button for duration
func (c *Clicker) LongPress(x, y int, duration time.Duration, button Button, offset int) (image.Point, error) {
	target := c.jitter(x, y, offset)
	c.logger.DebugWithContext("Long press", map[string]interface{}{
		"tx": target.X, "ty": target.Y, "duration": duration.String(),
	})

	if err := c.moveTo(target); err != nil {
		return target, err
	}
	if err := c.backend.Press(button); err != nil {
		return target, fmt.Errorf("press %s: %w", button, err)
	}
	c.sleep(duration)
	if err := c.backend.Release(button); err != nil {
		return target, fmt.Errorf("release %s: %w", button, err)
	}
	return target, nil
}

func (c *Clicker) jitter(x, y, offset int) image.Point {
	r := offset
	if r < 0 {
		r = c.cfg.OffsetRange
	}
	if r <= 0 {
		return image.Pt(x, y)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return image.Pt(x+c.rng.Intn(2*r+1)-r, y+c.rng.Intn(2*r+1)-r)
}

func (c *Clicker) randomDuration() time.Duration {
	span := c.cfg.DurationMax - c.cfg.DurationMin
	if span <= 0 {
		return c.cfg.DurationMin
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.DurationMin + time.Duration(c.rng.Int63n(int64(span)+1))
}

// moveTo travels to target with the configured movement. Backends without
// timed movement always jump.
func (c *Clicker) moveTo(target image.Point) error {
	if c.cfg.Movement == MoveInstant || !c.backend.SupportsTimedMove() {
		return c.move(target)
	}

	sx, sy := c.backend.Location()
	start := image.Pt(sx, sy)
	total := c.randomDuration()

	var path []image.Point
	switch c.cfg.Movement {
	case MoveBezier:
		c.mu.Lock()
		path = BezierPath(start, target, c.cfg.BezierPoints, c.rng)
		c.mu.Unlock()
	case MoveLinear:
		path = linearPath(start, target, max(1, int(total/linearStep)))
	default:
		return c.move(target)
	}

	segment := total / time.Duration(len(path))
	for _, p := range path {
		if err := c.move(p); err != nil {
			return err
		}
		c.sleep(segment)
	}
	return nil
}

func (c *Clicker) move(p image.Point) error {
	if err := c.backend.Move(p.X, p.Y); err != nil {
		return fmt.Errorf("move to %v: %w", p, err)
	}
	return nil
}

// linearPath returns steps evenly spaced points ending exactly at end
func linearPath(start, end image.Point, steps int) []image.Point {
	path := make([]image.Point, 0, steps)
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		path = append(path, image.Pt(
			start.X+int(float64(end.X-start.X)*t),
			start.Y+int(float64(end.Y-start.Y)*t),
		))
	}
	return path
}
