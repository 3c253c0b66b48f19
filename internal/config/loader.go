package config

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"gopkg.in/ini.v1"

	"jordanella.com/autoclick-vision/internal/clicker"
	"jordanella.com/autoclick-vision/internal/cv"
	"jordanella.com/autoclick-vision/internal/logging"
)

// LoadFromINI loads settings from an INI file. Missing keys take their
// defaults; unparseable enum values are errors.
func LoadFromINI(path string) (*Settings, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	d := NewDefaultSettings()
	s := &Settings{}

	section := cfg.Section("Capture")
	s.Capture.MonitorIndex = section.Key("MonitorIndex").MustInt(d.Capture.MonitorIndex)
	s.Capture.CacheTTL = millis(section.Key("CacheTTLMs").MustInt(int(d.Capture.CacheTTL / time.Millisecond)))

	section = cfg.Section("Matcher")
	s.Matcher.DefaultConfidence = section.Key("DefaultConfidence").MustFloat64(d.Matcher.DefaultConfidence)
	s.Matcher.Grayscale = section.Key("Grayscale").MustBool(d.Matcher.Grayscale)
	if s.Matcher.Mode, err = cv.ParseMatchMode(section.Key("Mode").MustString(d.Matcher.Mode.String())); err != nil {
		return nil, fmt.Errorf("[Matcher] Mode: %w", err)
	}
	s.Matcher.ScaleMin = section.Key("ScaleMin").MustFloat64(d.Matcher.ScaleMin)
	s.Matcher.ScaleMax = section.Key("ScaleMax").MustFloat64(d.Matcher.ScaleMax)
	s.Matcher.ScaleStep = section.Key("ScaleStep").MustFloat64(d.Matcher.ScaleStep)
	s.Matcher.MaxFeatures = section.Key("MaxFeatures").MustInt(d.Matcher.MaxFeatures)
	s.Matcher.MinGoodMatches = section.Key("MinGoodMatches").MustInt(d.Matcher.MinGoodMatches)
	s.Matcher.RatioTest = section.Key("RatioTest").MustFloat64(d.Matcher.RatioTest)
	s.Matcher.RansacThreshold = section.Key("RansacThreshold").MustFloat64(d.Matcher.RansacThreshold)

	section = cfg.Section("Clicker")
	s.Clicker.OffsetRange = section.Key("OffsetRange").MustInt(d.Clicker.OffsetRange)
	if s.Clicker.Movement, err = clicker.ParseMovement(section.Key("Movement").MustString(d.Clicker.Movement.String())); err != nil {
		return nil, fmt.Errorf("[Clicker] Movement: %w", err)
	}
	s.Clicker.DurationMin = seconds(section.Key("DurationMin").MustFloat64(d.Clicker.DurationMin.Seconds()))
	s.Clicker.DurationMax = seconds(section.Key("DurationMax").MustFloat64(d.Clicker.DurationMax.Seconds()))
	s.Clicker.BezierPoints = section.Key("BezierPoints").MustInt(d.Clicker.BezierPoints)
	s.Clicker.LowLevelInput = section.Key("LowLevelInput").MustBool(d.Clicker.LowLevelInput)

	section = cfg.Section("Scheduler")
	s.Scheduler.ConditionPoll = millis(section.Key("ConditionPollMs").MustInt(int(d.Scheduler.ConditionPoll / time.Millisecond)))
	s.Scheduler.PoolSize = section.Key("PoolSize").MustInt(d.Scheduler.PoolSize)

	section = cfg.Section("Watchdog")
	s.Watchdog.Enabled = section.Key("Enabled").MustBool(d.Watchdog.Enabled)
	s.Watchdog.HeartbeatTimeout = section.Key("HeartbeatTimeout").MustDuration(d.Watchdog.HeartbeatTimeout)
	s.Watchdog.InactivityTimeout = section.Key("InactivityTimeout").MustDuration(d.Watchdog.InactivityTimeout)
	s.Watchdog.CheckInterval = section.Key("CheckInterval").MustDuration(d.Watchdog.CheckInterval)

	section = cfg.Section("Alerts")
	s.Alerts.FailureRateThreshold = section.Key("FailureRateThreshold").MustFloat64(d.Alerts.FailureRateThreshold)
	s.Alerts.FailureRateWindow = section.Key("FailureRateWindow").MustInt(d.Alerts.FailureRateWindow)
	s.Alerts.FailureRateMinSamples = section.Key("FailureRateMinSamples").MustInt(d.Alerts.FailureRateMinSamples)

	section = cfg.Section("Logging")
	if s.Logging.Level, err = logging.ParseLevel(section.Key("Level").MustString(string(d.Logging.Level))); err != nil {
		return nil, fmt.Errorf("[Logging] Level: %w", err)
	}
	s.Logging.LogDir = section.Key("LogDir").MustString(d.Logging.LogDir)
	s.Logging.LogFile = section.Key("LogFile").MustBool(d.Logging.LogFile)
	s.Logging.EventLog = section.Key("EventLog").MustBool(d.Logging.EventLog)

	section = cfg.Section("Storage")
	s.Storage.DatabasePath = section.Key("DatabasePath").MustString(d.Storage.DatabasePath)
	s.Storage.ScreenshotDir = section.Key("ScreenshotDir").MustString(d.Storage.ScreenshotDir)

	s.ApplyDefaults()
	return s, nil
}

// SaveToINI saves settings to an INI file
func SaveToINI(path string, s *Settings) error {
	cfg := ini.Empty()

	section := cfg.Section("Capture")
	section.Key("MonitorIndex").SetValue(strconv.Itoa(s.Capture.MonitorIndex))
	section.Key("CacheTTLMs").SetValue(strconv.Itoa(int(s.Capture.CacheTTL / time.Millisecond)))

	section = cfg.Section("Matcher")
	section.Key("DefaultConfidence").SetValue(formatFloat(s.Matcher.DefaultConfidence))
	section.Key("Grayscale").SetValue(strconv.FormatBool(s.Matcher.Grayscale))
	section.Key("Mode").SetValue(s.Matcher.Mode.String())
	section.Key("ScaleMin").SetValue(formatFloat(s.Matcher.ScaleMin))
	section.Key("ScaleMax").SetValue(formatFloat(s.Matcher.ScaleMax))
	section.Key("ScaleStep").SetValue(formatFloat(s.Matcher.ScaleStep))
	section.Key("MaxFeatures").SetValue(strconv.Itoa(s.Matcher.MaxFeatures))
	section.Key("MinGoodMatches").SetValue(strconv.Itoa(s.Matcher.MinGoodMatches))
	section.Key("RatioTest").SetValue(formatFloat(s.Matcher.RatioTest))
	section.Key("RansacThreshold").SetValue(formatFloat(s.Matcher.RansacThreshold))

	section = cfg.Section("Clicker")
	section.Key("OffsetRange").SetValue(strconv.Itoa(s.Clicker.OffsetRange))
	section.Key("Movement").SetValue(s.Clicker.Movement.String())
	section.Key("DurationMin").SetValue(formatFloat(s.Clicker.DurationMin.Seconds()))
	section.Key("DurationMax").SetValue(formatFloat(s.Clicker.DurationMax.Seconds()))
	section.Key("BezierPoints").SetValue(strconv.Itoa(s.Clicker.BezierPoints))
	section.Key("LowLevelInput").SetValue(strconv.FormatBool(s.Clicker.LowLevelInput))

	section = cfg.Section("Scheduler")
	section.Key("ConditionPollMs").SetValue(strconv.Itoa(int(s.Scheduler.ConditionPoll / time.Millisecond)))
	section.Key("PoolSize").SetValue(strconv.Itoa(s.Scheduler.PoolSize))

	section = cfg.Section("Watchdog")
	section.Key("Enabled").SetValue(strconv.FormatBool(s.Watchdog.Enabled))
	section.Key("HeartbeatTimeout").SetValue(s.Watchdog.HeartbeatTimeout.String())
	section.Key("InactivityTimeout").SetValue(s.Watchdog.InactivityTimeout.String())
	section.Key("CheckInterval").SetValue(s.Watchdog.CheckInterval.String())

	section = cfg.Section("Alerts")
	section.Key("FailureRateThreshold").SetValue(formatFloat(s.Alerts.FailureRateThreshold))
	section.Key("FailureRateWindow").SetValue(strconv.Itoa(s.Alerts.FailureRateWindow))
	section.Key("FailureRateMinSamples").SetValue(strconv.Itoa(s.Alerts.FailureRateMinSamples))

	section = cfg.Section("Logging")
	section.Key("Level").SetValue(string(s.Logging.Level))
	section.Key("LogDir").SetValue(s.Logging.LogDir)
	section.Key("LogFile").SetValue(strconv.FormatBool(s.Logging.LogFile))
	section.Key("EventLog").SetValue(strconv.FormatBool(s.Logging.EventLog))

	section = cfg.Section("Storage")
	section.Key("DatabasePath").SetValue(s.Storage.DatabasePath)
	section.Key("ScreenshotDir").SetValue(s.Storage.ScreenshotDir)

	if err := cfg.SaveTo(path); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func seconds(f float64) time.Duration {
	return time.Duration(math.Round(f * float64(time.Second)))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
