package scheduler

import (
	"fmt"
	"math/rand"
	"time"
)

// DelayMode selects how a DelayPolicy samples
type DelayMode int

const (
	// DelayDefault samples uniformly from the built-in default range
	DelayDefault DelayMode = iota
	DelayFixed
	DelayRange
)

func (m DelayMode) String() string {
	switch m {
	case DelayDefault:
		return "default"
	case DelayFixed:
		return "fixed"
	case DelayRange:
		return "range"
	}
	return fmt.Sprintf("DelayMode(%d)", int(m))
}

// ParseDelayMode converts a task file value into a DelayMode
func ParseDelayMode(s string) (DelayMode, error) {
	switch normalize(s) {
	case "default", "":
		return DelayDefault, nil
	case "fixed":
		return DelayFixed, nil
	case "range", "random":
		return DelayRange, nil
	}
	return DelayDefault, fmt.Errorf("unknown delay mode %q", s)
}

const (
	DefaultDelayMin = 200 * time.Millisecond
	DefaultDelayMax = 800 * time.Millisecond
)

// DelayPolicy produces a delay on every Sample. The zero value is the
// default random range.
type DelayPolicy struct {
	Mode  DelayMode
	Fixed time.Duration
	Min   time.Duration
	Max   time.Duration
}

// FixedDelay always returns d
func FixedDelay(d time.Duration) DelayPolicy {
	return DelayPolicy{Mode: DelayFixed, Fixed: d}
}

// RangeDelay samples uniformly from [min, max]
func RangeDelay(min, max time.Duration) DelayPolicy {
	return DelayPolicy{Mode: DelayRange, Min: min, Max: max}
}

// DefaultDelay samples uniformly from [DefaultDelayMin, DefaultDelayMax]
func DefaultDelay() DelayPolicy {
	return DelayPolicy{Mode: DelayDefault}
}

// Sample returns the next delay
func (d DelayPolicy) Sample(rng *rand.Rand) time.Duration {
	switch d.Mode {
	case DelayFixed:
		return max(0, d.Fixed)
	case DelayRange:
		return uniform(rng, d.Min, d.Max)
	default:
		return uniform(rng, DefaultDelayMin, DefaultDelayMax)
	}
}

func (d DelayPolicy) String() string {
	switch d.Mode {
	case DelayFixed:
		return fmt.Sprintf("fixed(%s)", d.Fixed)
	case DelayRange:
		return fmt.Sprintf("range(%s..%s)", d.Min, d.Max)
	default:
		return fmt.Sprintf("default(%s..%s)", DefaultDelayMin, DefaultDelayMax)
	}
}

func uniform(rng *rand.Rand, lo, hi time.Duration) time.Duration {
	if hi < lo {
		lo, hi = hi, lo
	}
	lo = max(0, lo)
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rng.Int63n(int64(hi-lo)+1))
}
