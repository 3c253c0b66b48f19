package scheduler

import (
	"context"
	"sync"
	"time"
)

// gate carries pause and stop signals from the control methods to the
// worker. The worker only blocks at its own checkpoints, never in the
// middle of a recognition.
type gate struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	resumed chan struct{} // non-nil while paused, closed on resume
}

func newGate() *gate {
	ctx, cancel := context.WithCancel(context.Background())
	return &gate{ctx: ctx, cancel: cancel}
}

// pause makes the next checkpoint block
func (g *gate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resumed == nil {
		g.resumed = make(chan struct{})
	}
}

// resume releases a worker blocked at a checkpoint
func (g *gate) resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resumed != nil {
		close(g.resumed)
		g.resumed = nil
	}
}

// forceStop cancels the run and unblocks a paused worker
func (g *gate) forceStop() {
	g.cancel()
}

func (g *gate) stopped() bool {
	return g.ctx.Err() != nil
}

// done is closed once the run is stopped
func (g *gate) done() <-chan struct{} {
	return g.ctx.Done()
}

// checkPauseOrStop blocks while paused.
// Returns true if execution should continue, false if stopped.
func (g *gate) checkPauseOrStop() bool {
	g.mu.Lock()
	resumed := g.resumed
	g.mu.Unlock()

	if resumed != nil {
		select {
		case <-resumed:
		case <-g.ctx.Done():
			return false
		}
	}
	return !g.stopped()
}

// sleep waits for d unless stopped first.
// Returns false if the run was stopped.
func (g *gate) sleep(d time.Duration) bool {
	if d <= 0 {
		return !g.stopped()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return !g.stopped()
	case <-g.ctx.Done():
		return false
	}
}
