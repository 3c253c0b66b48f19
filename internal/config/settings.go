package config

import (
	"errors"
	"fmt"
	"time"

	"jordanella.com/autoclick-vision/internal/clicker"
	"jordanella.com/autoclick-vision/internal/cv"
	"jordanella.com/autoclick-vision/internal/logging"
	"jordanella.com/autoclick-vision/internal/monitor"
	"jordanella.com/autoclick-vision/internal/scheduler"
)

// Settings is the application configuration stored in settings.ini
type Settings struct {
	Capture   CaptureSettings
	Matcher   MatcherSettings
	Clicker   ClickerSettings
	Scheduler SchedulerSettings
	Watchdog  WatchdogSettings
	Alerts    AlertSettings
	Logging   LoggingSettings
	Storage   StorageSettings
}

type CaptureSettings struct {
	MonitorIndex int
	CacheTTL     time.Duration
}

type MatcherSettings struct {
	DefaultConfidence float64
	Grayscale         bool
	Mode              cv.MatchMode
	ScaleMin          float64
	ScaleMax          float64
	ScaleStep         float64
	MaxFeatures       int
	MinGoodMatches    int
	RatioTest         float64
	RansacThreshold   float64
}

type ClickerSettings struct {
	OffsetRange   int
	Movement      clicker.Movement
	DurationMin   time.Duration
	DurationMax   time.Duration
	BezierPoints  int
	LowLevelInput bool
}

type SchedulerSettings struct {
	ConditionPoll time.Duration
	PoolSize      int
}

type WatchdogSettings struct {
	Enabled           bool
	HeartbeatTimeout  time.Duration
	InactivityTimeout time.Duration
	CheckInterval     time.Duration
}

type AlertSettings struct {
	FailureRateThreshold  float64
	FailureRateWindow     int
	FailureRateMinSamples int
}

type LoggingSettings struct {
	Level    logging.LogLevel
	LogDir   string
	LogFile  bool // copy component logs to LogDir/autoclick_*.log
	EventLog bool
}

type StorageSettings struct {
	DatabasePath  string
	ScreenshotDir string
}

// NewDefaultSettings returns the settings used when no file exists
func NewDefaultSettings() *Settings {
	feat := cv.DefaultFeatureConfig()
	match := cv.DefaultMatcherConfig()
	click := clicker.DefaultConfig()
	sched := scheduler.DefaultOptions()
	wd := monitor.DefaultWatchdogConfig()

	return &Settings{
		Capture: CaptureSettings{
			MonitorIndex: 1,
			CacheTTL:     cv.DefaultFrameTTL,
		},
		Matcher: MatcherSettings{
			DefaultConfidence: match.DefaultConfidence,
			Grayscale:         match.Grayscale,
			Mode:              match.Mode,
			ScaleMin:          match.ScaleMin,
			ScaleMax:          match.ScaleMax,
			ScaleStep:         match.ScaleStep,
			MaxFeatures:       feat.MaxFeatures,
			MinGoodMatches:    feat.MinGoodMatches,
			RatioTest:         feat.RatioTest,
			RansacThreshold:   feat.RansacThreshold,
		},
		Clicker: ClickerSettings{
			OffsetRange:   click.OffsetRange,
			Movement:      click.Movement,
			DurationMin:   click.DurationMin,
			DurationMax:   click.DurationMax,
			BezierPoints:  click.BezierPoints,
			LowLevelInput: click.LowLevelInput,
		},
		Scheduler: SchedulerSettings{
			ConditionPoll: sched.ConditionPoll,
			PoolSize:      sched.PoolSize,
		},
		Watchdog: WatchdogSettings{
			Enabled:           true,
			HeartbeatTimeout:  wd.HeartbeatTimeout,
			InactivityTimeout: wd.InactivityTimeout,
			CheckInterval:     wd.CheckInterval,
		},
		Alerts: AlertSettings{
			FailureRateThreshold:  0.5,
			FailureRateWindow:     20,
			FailureRateMinSamples: 5,
		},
		Logging: LoggingSettings{
			Level:    logging.LogLevelInfo,
			LogDir:   "logs",
			LogFile:  true,
			EventLog: true,
		},
		Storage: StorageSettings{
			DatabasePath:  "autoclick.db",
			ScreenshotDir: "logs/screenshots",
		},
	}
}

// ApplyDefaults fills zero values with defaults. Booleans are left alone.
func (s *Settings) ApplyDefaults() {
	d := NewDefaultSettings()

	if s.Capture.CacheTTL <= 0 {
		s.Capture.CacheTTL = d.Capture.CacheTTL
	}

	m := &s.Matcher
	if m.DefaultConfidence <= 0 {
		m.DefaultConfidence = d.Matcher.DefaultConfidence
	}
	if m.ScaleMin <= 0 {
		m.ScaleMin = d.Matcher.ScaleMin
	}
	if m.ScaleMax <= 0 {
		m.ScaleMax = d.Matcher.ScaleMax
	}
	if m.ScaleStep <= 0 {
		m.ScaleStep = d.Matcher.ScaleStep
	}
	if m.MaxFeatures <= 0 {
		m.MaxFeatures = d.Matcher.MaxFeatures
	}
	if m.MinGoodMatches <= 0 {
		m.MinGoodMatches = d.Matcher.MinGoodMatches
	}
	if m.RatioTest <= 0 {
		m.RatioTest = d.Matcher.RatioTest
	}
	if m.RansacThreshold <= 0 {
		m.RansacThreshold = d.Matcher.RansacThreshold
	}

	c := &s.Clicker
	if c.DurationMin <= 0 {
		c.DurationMin = d.Clicker.DurationMin
	}
	if c.DurationMax <= 0 {
		c.DurationMax = d.Clicker.DurationMax
	}
	if c.BezierPoints <= 0 {
		c.BezierPoints = d.Clicker.BezierPoints
	}

	if s.Scheduler.ConditionPoll <= 0 {
		s.Scheduler.ConditionPoll = d.Scheduler.ConditionPoll
	}
	if s.Scheduler.PoolSize <= 0 {
		s.Scheduler.PoolSize = d.Scheduler.PoolSize
	}

	w := &s.Watchdog
	if w.HeartbeatTimeout <= 0 {
		w.HeartbeatTimeout = d.Watchdog.HeartbeatTimeout
	}
	if w.InactivityTimeout <= 0 {
		w.InactivityTimeout = d.Watchdog.InactivityTimeout
	}
	if w.CheckInterval <= 0 {
		w.CheckInterval = d.Watchdog.CheckInterval
	}

	a := &s.Alerts
	if a.FailureRateThreshold <= 0 {
		a.FailureRateThreshold = d.Alerts.FailureRateThreshold
	}
	if a.FailureRateWindow <= 0 {
		a.FailureRateWindow = d.Alerts.FailureRateWindow
	}
	if a.FailureRateMinSamples <= 0 {
		a.FailureRateMinSamples = d.Alerts.FailureRateMinSamples
	}

	if s.Logging.Level == "" {
		s.Logging.Level = d.Logging.Level
	}
	if s.Logging.LogDir == "" {
		s.Logging.LogDir = d.Logging.LogDir
	}
	if s.Storage.DatabasePath == "" {
		s.Storage.DatabasePath = d.Storage.DatabasePath
	}
	if s.Storage.ScreenshotDir == "" {
		s.Storage.ScreenshotDir = d.Storage.ScreenshotDir
	}
}

// Validate reports every inconsistent value at once
func (s *Settings) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(s.Capture.MonitorIndex >= 0, "Capture.MonitorIndex must be >= 0, got %d", s.Capture.MonitorIndex)
	check(s.Matcher.DefaultConfidence > 0 && s.Matcher.DefaultConfidence <= 1,
		"Matcher.DefaultConfidence must be in (0, 1], got %g", s.Matcher.DefaultConfidence)
	check(s.Matcher.ScaleMin <= s.Matcher.ScaleMax,
		"Matcher.ScaleMin %g exceeds ScaleMax %g", s.Matcher.ScaleMin, s.Matcher.ScaleMax)
	check(s.Matcher.RatioTest > 0 && s.Matcher.RatioTest < 1, "Matcher.RatioTest must be in (0, 1), got %g", s.Matcher.RatioTest)
	check(s.Clicker.OffsetRange >= 0, "Clicker.OffsetRange must be >= 0, got %d", s.Clicker.OffsetRange)
	check(s.Clicker.DurationMin <= s.Clicker.DurationMax,
		"Clicker.DurationMin %s exceeds DurationMax %s", s.Clicker.DurationMin, s.Clicker.DurationMax)
	check(s.Scheduler.PoolSize >= 1, "Scheduler.PoolSize must be >= 1, got %d", s.Scheduler.PoolSize)
	check(s.Alerts.FailureRateThreshold >= 0 && s.Alerts.FailureRateThreshold <= 1,
		"Alerts.FailureRateThreshold must be in [0, 1], got %g", s.Alerts.FailureRateThreshold)
	check(s.Alerts.FailureRateMinSamples <= s.Alerts.FailureRateWindow,
		"Alerts.FailureRateMinSamples %d exceeds window %d", s.Alerts.FailureRateMinSamples, s.Alerts.FailureRateWindow)
	_, err := logging.ParseLevel(string(s.Logging.Level))
	check(err == nil, "Logging.Level: %v", err)

	return errors.Join(errs...)
}

// MatcherConfig converts the matcher section
func (s *Settings) MatcherConfig() cv.MatcherConfig {
	features := cv.DefaultFeatureConfig()
	features.MaxFeatures = s.Matcher.MaxFeatures
	features.MinGoodMatches = s.Matcher.MinGoodMatches
	features.RatioTest = s.Matcher.RatioTest
	features.RansacThreshold = s.Matcher.RansacThreshold

	return cv.MatcherConfig{
		DefaultConfidence: s.Matcher.DefaultConfidence,
		Grayscale:         s.Matcher.Grayscale,
		Mode:              s.Matcher.Mode,
		ScaleMin:          s.Matcher.ScaleMin,
		ScaleMax:          s.Matcher.ScaleMax,
		ScaleStep:         s.Matcher.ScaleStep,
		Features:          features,
	}
}

// ClickerConfig converts the clicker section
func (s *Settings) ClickerConfig() clicker.Config {
	return clicker.Config{
		OffsetRange:   s.Clicker.OffsetRange,
		Movement:      s.Clicker.Movement,
		DurationMin:   s.Clicker.DurationMin,
		DurationMax:   s.Clicker.DurationMax,
		BezierPoints:  s.Clicker.BezierPoints,
		LowLevelInput: s.Clicker.LowLevelInput,
	}
}

// SchedulerOptions converts the capture and scheduler sections
func (s *Settings) SchedulerOptions() scheduler.Options {
	return scheduler.Options{
		FrameTTL:      s.Capture.CacheTTL,
		ConditionPoll: s.Scheduler.ConditionPoll,
		PoolSize:      s.Scheduler.PoolSize,
	}
}

// WatchdogConfig converts the watchdog section
func (s *Settings) WatchdogConfig() monitor.WatchdogConfig {
	return monitor.WatchdogConfig{
		HeartbeatTimeout:  s.Watchdog.HeartbeatTimeout,
		InactivityTimeout: s.Watchdog.InactivityTimeout,
		CheckInterval:     s.Watchdog.CheckInterval,
	}
}
