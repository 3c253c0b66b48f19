package monitor

import "sync"

// FailureRateCallback receives the failure rate over the current window
type FailureRateCallback func(rate float64, failures, total int)

// FailureRateMonitor tracks recent recognition outcomes and alerts while
// the failure rate is at or above a threshold
type FailureRateMonitor struct {
	threshold  float64
	window     int
	minSamples int
	onAlert    FailureRateCallback

	history []bool // true = success
	mu      sync.Mutex
}

// NewFailureRateMonitor creates a monitor. Non-positive window or
// minSamples fall back to 20 and 5.
func NewFailureRateMonitor(threshold float64, window, minSamples int, onAlert FailureRateCallback) *FailureRateMonitor {
	if window <= 0 {
		window = 20
	}
	if minSamples <= 0 {
		minSamples = 5
	}
	return &FailureRateMonitor{
		threshold:  threshold,
		window:     window,
		minSamples: minSamples,
		onAlert:    onAlert,
	}
}

// Record adds one outcome and alerts on every record that leaves the
// window at or above the threshold
func (m *FailureRateMonitor) Record(success bool) {
	m.mu.Lock()
	m.history = append(m.history, success)
	if len(m.history) > m.window {
		m.history = m.history[len(m.history)-m.window:]
	}

	total := len(m.history)
	failures := 0
	for _, ok := range m.history {
		if !ok {
			failures++
		}
	}
	m.mu.Unlock()

	if total < m.minSamples {
		return
	}
	rate := float64(failures) / float64(total)
	if rate >= m.threshold && m.onAlert != nil {
		m.onAlert(rate, failures, total)
	}
}

// Reset forgets every recorded outcome
func (m *FailureRateMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
}

// Rate returns the current failure rate and window size
func (m *FailureRateMonitor) Rate() (float64, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return 0, 0
	}
	failures := 0
	for _, ok := range m.history {
		if !ok {
			failures++
		}
	}
	return float64(failures) / float64(len(m.history)), len(m.history)
}
