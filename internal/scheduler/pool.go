package scheduler

import (
	"errors"
	"image"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"

	"jordanella.com/autoclick-vision/internal/cv"
)

type hit struct {
	button  ButtonSpec
	outcome cv.MatchOutcome
}

// errMatchFound cancels the remaining recognitions once one succeeds
var errMatchFound = errors.New("match found")

// recognizeFirst returns the first candidate found in frame. Several
// candidates are matched concurrently on a bounded pool and the first
// completion that hits wins, regardless of list order.
func (s *Scheduler) recognizeFirst(r *run, buttons []ButtonSpec, frame *image.RGBA) (*hit, error) {
	if len(buttons) == 1 {
		outcome := s.recognize(r, buttons[0], frame)
		if !outcome.Found {
			return nil, nil
		}
		return &hit{button: buttons[0], outcome: outcome}, nil
	}

	g, ctx := errgroup.WithContext(r.gate.ctx)
	g.SetLimit(min(len(buttons), s.opts.PoolSize))

	var mu sync.Mutex
	var winner *hit

	for _, b := range buttons {
		b := b
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = &PanicError{Value: rec, Stack: debug.Stack()}
				}
			}()
			if ctx.Err() != nil {
				return nil
			}

			outcome := s.recognize(r, b, frame)
			if !outcome.Found {
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			if winner == nil {
				winner = &hit{button: b, outcome: outcome}
			}
			return errMatchFound
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, errMatchFound) {
		return nil, err
	}
	return winner, nil
}
