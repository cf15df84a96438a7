package rx

import (
	"context"
	"errors"
	"fmt"

	"github.com/baxromumarov/rx/scheduler"
)

var (
	// ErrEmpty is returned by blocking operations on a sequence that
	// completed without a value.
	ErrEmpty = errors.New("rx: sequence completed without a value")

	// ErrTimeout is signalled by Timeout when no signal arrives in time.
	ErrTimeout = errors.New("rx: timeout waiting for signal")

	// ErrOverflow matches every *OverflowError.
	ErrOverflow = errors.New("rx: buffer overflow")

	// ErrInvalidDemand is signalled when Request is called with n <= 0.
	ErrInvalidDemand = errors.New("rx: request must be positive")

	// ErrAlreadySubscribed is signalled to a second subscriber of a
	// unicast sequence such as a group of GroupBy.
	ErrAlreadySubscribed = errors.New("rx: sequence allows a single subscriber")
)

// PanicError is a panic recovered from a user callback or a scheduled task.
type PanicError = scheduler.PanicError

// OverflowError reports that a producer outran its subscriber by more than
// the configured buffer.
type OverflowError struct {
	Capacity int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("rx: buffer overflow, more than %d items beyond demand", e.Capacity)
}

// Is makes errors.Is(err, ErrOverflow) hold for every *OverflowError.
func (e *OverflowError) Is(target error) bool {
	return target == ErrOverflow
}

// UserFunctionError wraps a failure of a user-supplied callback together
// with the name of the operator that invoked it. Panics inside callbacks are
// wrapped as a *PanicError cause.
type UserFunctionError struct {
	Op  string
	Err error
}

func (e *UserFunctionError) Error() string {
	return fmt.Sprintf("rx: %s: %v", e.Op, e.Err)
}

func (e *UserFunctionError) Unwrap() error {
	return e.Err
}

// IsUserFunctionError reports whether err (or any error in its chain) is a
// [*UserFunctionError].
func IsUserFunctionError(err error) bool {
	if err == nil {
		return false
	}
	var ue *UserFunctionError
	return errors.As(err, &ue)
}

// OpOf returns the operator name of the first [*UserFunctionError] in err's
// chain. Returns false if none is found.
func OpOf(err error) (string, bool) {
	var ue *UserFunctionError
	if errors.As(err, &ue) {
		return ue.Op, true
	}
	return "", false
}

// CauseOf unwraps the first [*UserFunctionError] in err's chain and returns
// its underlying cause. If err is not a UserFunctionError, it is returned
// as-is. Returns nil if err is nil.
func CauseOf(err error) error {
	if err == nil {
		return nil
	}
	var ue *UserFunctionError
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}

// ErrorClass partitions the errors a pipeline can signal.
type ErrorClass int

const (
	// ClassUpstream is an error produced by a source, passed through as-is.
	ClassUpstream ErrorClass = iota
	// ClassUserFunction is a failure or panic of a user callback.
	ClassUserFunction
	// ClassOverflow is a bounded buffer overrun.
	ClassOverflow
	// ClassSchedulerRejection is work refused by a scheduler.
	ClassSchedulerRejection
	// ClassCancellation is a context cancellation or deadline.
	ClassCancellation
	// ClassTimeout is a Timeout operator firing.
	ClassTimeout
)

func (c ErrorClass) String() string {
	switch c {
	case ClassUserFunction:
		return "user_function"
	case ClassOverflow:
		return "overflow"
	case ClassSchedulerRejection:
		return "scheduler_rejection"
	case ClassCancellation:
		return "cancellation"
	case ClassTimeout:
		return "timeout"
	default:
		return "upstream"
	}
}

// Classify reports the class of err.
func Classify(err error) ErrorClass {
	switch {
	case errors.Is(err, ErrOverflow):
		return ClassOverflow
	case errors.Is(err, ErrTimeout):
		return ClassTimeout
	case errors.Is(err, scheduler.ErrRejected), errors.Is(err, scheduler.ErrClosed):
		return ClassSchedulerRejection
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassCancellation
	case IsUserFunctionError(err):
		return ClassUserFunction
	default:
		return ClassUpstream
	}
}

type nonRetryable struct {
	err error
}

func (e *nonRetryable) Error() string { return e.err.Error() }
func (e *nonRetryable) Unwrap() error { return e.err }

// NonRetryable marks err so that RetryWhen never resubscribes on it.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryable{err: err}
}

// IsNonRetryable reports whether err was marked with [NonRetryable].
func IsNonRetryable(err error) bool {
	var nr *nonRetryable
	return errors.As(err, &nr)
}

// call invokes a user callback, converting a returned error or a panic into
// a *UserFunctionError for op.
func call[R any](op string, fn func() (R, error)) (R, error) {
	var (
		out R
		err error
	)
	if pe := scheduler.Try(func() { out, err = fn() }); pe != nil {
		var zero R
		return zero, &UserFunctionError{Op: op, Err: pe}
	}
	if err != nil {
		return out, &UserFunctionError{Op: op, Err: err}
	}
	return out, nil
}

// guard invokes a side-effect callback, converting a panic into a
// *UserFunctionError for op.
func guard(op string, fn func()) error {
	if pe := scheduler.Try(fn); pe != nil {
		return &UserFunctionError{Op: op, Err: pe}
	}
	return nil
}
