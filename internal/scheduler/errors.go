package scheduler

import (
	"fmt"
)

// ErrorHandler receives errors that end a run. It replaces any global
// exception hook and is called from the worker goroutine.
type ErrorHandler func(err error)

// PanicError wraps a panic recovered inside the run loop
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in run loop: %v", e.Value)
}

// Unwrap exposes a panicked error value
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
