package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"jordanella.com/autoclick-vision/internal/logging"
)

// WatchdogConfig configures freeze and inactivity detection
type WatchdogConfig struct {
	HeartbeatTimeout  time.Duration // no heartbeat for this long => freeze
	InactivityTimeout time.Duration // no activity for this long => inactivity
	CheckInterval     time.Duration
}

// DefaultWatchdogConfig returns recommended settings
func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{
		HeartbeatTimeout:  60 * time.Second,
		InactivityTimeout: 120 * time.Second,
		CheckInterval:     5 * time.Second,
	}
}

// AlarmCallback receives how long the watched signal has been silent
type AlarmCallback func(elapsed time.Duration)

// ExceptionCallback receives errors forwarded with ReportException
type ExceptionCallback func(err error)

// Watchdog watches two signals from a running task: heartbeats (any
// forward progress, such as a log line) and activity (a successful
// recognition). Each alarm fires once when its signal goes quiet and
// re-arms when the signal is seen again.
type Watchdog struct {
	cfg    WatchdogConfig
	logger *logging.Logger
	now    func() time.Time

	onFreeze     AlarmCallback
	onInactivity AlarmCallback
	onException  ExceptionCallback

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	lastHeartbeat       time.Time
	lastActivity        time.Time
	freezeTriggered     bool
	inactivityTriggered bool
	mu                  sync.Mutex
}

// NewWatchdog creates a stopped watchdog. Zero config fields take defaults.
func NewWatchdog(cfg WatchdogConfig, logger *logging.Logger) *Watchdog {
	defaults := DefaultWatchdogConfig()
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = defaults.HeartbeatTimeout
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = defaults.InactivityTimeout
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaults.CheckInterval
	}
	if logger == nil {
		logger = logging.NewLogger("Watchdog")
	}
	return &Watchdog{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// OnFreeze sets the callback for a missing heartbeat
func (w *Watchdog) OnFreeze(fn AlarmCallback) *Watchdog {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onFreeze = fn
	return w
}

// OnInactivity sets the callback for missing activity
func (w *Watchdog) OnInactivity(fn AlarmCallback) *Watchdog {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onInactivity = fn
	return w
}

// OnException sets the callback for reported errors
func (w *Watchdog) OnException(fn ExceptionCallback) *Watchdog {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onException = fn
	return w
}

// WithClock replaces the time source
func (w *Watchdog) WithClock(now func() time.Time) *Watchdog {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.now = now
	return w
}

// Start resets both clocks, re-arms both alarms and begins monitoring.
// Starting a running watchdog only resets it.
func (w *Watchdog) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.lastHeartbeat = now
	w.lastActivity = now
	w.freezeTriggered = false
	w.inactivityTriggered = false

	if w.running {
		return
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.running = true
	w.wg.Add(1)
	go w.monitor(w.ctx)

	w.logger.InfoWithContext("Watchdog started", map[string]interface{}{
		"heartbeat_timeout":  w.cfg.HeartbeatTimeout,
		"inactivity_timeout": w.cfg.InactivityTimeout,
	})
}

// Stop stops monitoring and waits for the loop to exit
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info("Watchdog stopped")
}

// Heartbeat records forward progress and re-arms the freeze alarm
func (w *Watchdog) Heartbeat() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastHeartbeat = w.now()
	w.freezeTriggered = false
}

// ReportActivity records screen activity and re-arms the inactivity alarm
func (w *Watchdog) ReportActivity() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastActivity = w.now()
	w.inactivityTriggered = false
}

// ReportException forwards err to the exception callback
func (w *Watchdog) ReportException(err error) {
	if err == nil {
		return
	}
	w.logger.Error("Watchdog received exception", err)

	w.mu.Lock()
	fn := w.onException
	w.mu.Unlock()
	if fn != nil {
		w.safeCall("on_exception", func() { fn(err) })
	}
}

// Private
func (w *Watchdog) monitor(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check evaluates both alarms once. Callbacks run outside the lock.
func (w *Watchdog) check() {
	w.mu.Lock()
	now := w.now()
	var fire []func()

	if elapsed := now.Sub(w.lastHeartbeat); elapsed > w.cfg.HeartbeatTimeout && !w.freezeTriggered {
		w.freezeTriggered = true
		w.logger.Warn(fmt.Sprintf("Watchdog: no heartbeat for %.0fs, freeze detected", elapsed.Seconds()))
		if fn := w.onFreeze; fn != nil {
			fire = append(fire, func() { w.safeCall("on_freeze", func() { fn(elapsed) }) })
		}
	}

	if elapsed := now.Sub(w.lastActivity); elapsed > w.cfg.InactivityTimeout && !w.inactivityTriggered {
		w.inactivityTriggered = true
		w.logger.Warn(fmt.Sprintf("Watchdog: screen inactive for %.0fs", elapsed.Seconds()))
		if fn := w.onInactivity; fn != nil {
			fire = append(fire, func() { w.safeCall("on_inactivity", func() { fn(elapsed) }) })
		}
	}
	w.mu.Unlock()

	for _, f := range fire {
		f()
	}
}

// safeCall keeps a failing callback from killing the monitor loop
func (w *Watchdog) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error(fmt.Sprintf("Watchdog %s callback panicked", name), fmt.Errorf("%v", r))
		}
	}()
	fn()
}
