package scheduler

import (
	"fmt"

	"github.com/sourcegraph/conc/panics"
)

// PanicError wraps a recovered panic value together with the goroutine
// stack trace captured at the point of the panic.
//
// Schedulers never let a task panic kill a pool goroutine: the panic is
// converted to *PanicError, logged and returned joined from Close.
type PanicError struct {
	// Value is the original value passed to panic().
	Value any

	// Stack is the goroutine stack trace at the point of panic.
	Stack string
}

// Error returns a human-readable representation of the panic,
// including the value and the full stack trace.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", e.Value, e.Stack)
}

// Unwrap returns the panic value when it is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Try runs fn and converts a panic into a *PanicError.
func Try(fn func()) *PanicError {
	r := panics.Try(fn)
	if r == nil {
		return nil
	}
	return &PanicError{Value: r.Value, Stack: string(r.Stack)}
}
