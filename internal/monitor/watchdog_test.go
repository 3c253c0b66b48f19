package monitor

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/autoclick-vision/internal/logging"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func quietLogger() *logging.Logger {
	return logging.NewLogger("Watchdog").SetOutputs(&bytes.Buffer{})
}

// newTestWatchdog returns a watchdog whose loop never ticks on its own;
// tests drive it through check
func newTestWatchdog() (*Watchdog, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	w := NewWatchdog(WatchdogConfig{
		HeartbeatTimeout:  60 * time.Second,
		InactivityTimeout: 120 * time.Second,
		CheckInterval:     time.Hour,
	}, quietLogger()).WithClock(clock.Now)
	return w, clock
}

func TestFreezeIsEdgeTriggered(t *testing.T) {
	w, clock := newTestWatchdog()
	var freezes []time.Duration
	w.OnFreeze(func(d time.Duration) { freezes = append(freezes, d) })
	w.Start()
	defer w.Stop()

	clock.Advance(30 * time.Second)
	w.check()
	assert.Empty(t, freezes)

	clock.Advance(31 * time.Second)
	w.check()
	w.check()
	clock.Advance(10 * time.Second)
	w.check()
	require.Len(t, freezes, 1, "fires once per crossing")
	assert.Equal(t, 61*time.Second, freezes[0])

	// a heartbeat re-arms the alarm
	w.Heartbeat()
	w.check()
	assert.Len(t, freezes, 1)
	clock.Advance(61 * time.Second)
	w.check()
	assert.Len(t, freezes, 2)
}

func TestInactivityIndependentOfHeartbeat(t *testing.T) {
	w, clock := newTestWatchdog()
	freezes, idles := 0, 0
	w.OnFreeze(func(time.Duration) { freezes++ }).OnInactivity(func(time.Duration) { idles++ })
	w.Start()
	defer w.Stop()

	for i := 0; i < 5; i++ {
		clock.Advance(30 * time.Second)
		w.Heartbeat()
		w.check()
	}
	assert.Zero(t, freezes)
	assert.Equal(t, 1, idles)

	w.ReportActivity()
	clock.Advance(121 * time.Second)
	w.Heartbeat()
	w.check()
	assert.Equal(t, 2, idles)
}

func TestStartResetsClocksAndRearms(t *testing.T) {
	w, clock := newTestWatchdog()
	freezes := 0
	w.OnFreeze(func(time.Duration) { freezes++ })
	w.Start()

	clock.Advance(2 * time.Minute)
	w.check()
	require.Equal(t, 1, freezes)
	w.Stop()

	w.Start()
	defer w.Stop()
	w.check()
	assert.Equal(t, 1, freezes, "clocks were reset")
	clock.Advance(61 * time.Second)
	w.check()
	assert.Equal(t, 2, freezes, "alarm was re-armed")
}

func TestPanickingCallbackDoesNotStopMonitor(t *testing.T) {
	w := NewWatchdog(WatchdogConfig{
		HeartbeatTimeout:  10 * time.Millisecond,
		InactivityTimeout: time.Hour,
		CheckInterval:     5 * time.Millisecond,
	}, quietLogger())

	var mu sync.Mutex
	calls := 0
	w.OnFreeze(func(time.Duration) {
		mu.Lock()
		calls++
		mu.Unlock()
		panic("callback failed")
	})
	w.Start()
	defer w.Stop()

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return calls
	}
	assert.Eventually(t, func() bool { return count() == 1 }, time.Second, 5*time.Millisecond)

	// the loop survives the panic and fires again after a heartbeat
	w.Heartbeat()
	assert.Eventually(t, func() bool { return count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestReportException(t *testing.T) {
	w, _ := newTestWatchdog()
	var got error
	w.OnException(func(err error) {
		got = err
		panic("ignored")
	})

	boom := errors.New("boom")
	w.ReportException(boom)
	w.ReportException(nil)
	assert.Equal(t, boom, got)
}

func TestStopIsIdempotent(t *testing.T) {
	w, _ := newTestWatchdog()
	w.Stop()
	w.Start()
	w.Start()
	w.Stop()
	w.Stop()
}

func TestFailureRateMonitor(t *testing.T) {
	type alert struct {
		rate            float64
		failures, total int
	}
	var alerts []alert
	m := NewFailureRateMonitor(0.5, 10, 5, func(rate float64, failures, total int) {
		alerts = append(alerts, alert{rate, failures, total})
	})

	for i := 0; i < 4; i++ {
		m.Record(false)
	}
	assert.Empty(t, alerts, "below minimum samples")

	m.Record(true)
	require.Len(t, alerts, 1)
	assert.Equal(t, alert{0.8, 4, 5}, alerts[0])

	for i := 0; i < 10; i++ {
		m.Record(true)
	}
	rate, total := m.Rate()
	assert.Zero(t, rate)
	assert.Equal(t, 10, total, "window bounds history")
	assert.Len(t, alerts, 4, "alerts while at or above threshold")

	m.Reset()
	_, total = m.Rate()
	assert.Zero(t, total)
}
