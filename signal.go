package rx

import (
	"context"
	"math"
	"sync/atomic"
)

// Unbounded is the demand value meaning "send everything".
const Unbounded int64 = math.MaxInt64

// DefaultBufferSize bounds internal queues that hold items beyond demand.
const DefaultBufferSize = 256

// Kind tags a [Signal].
type Kind int

const (
	KindNext Kind = iota
	KindComplete
	KindError
	// KindCancel is never delivered as a signal; DoFinally and Log report it
	// when the subscriber cancelled instead of receiving a terminal signal.
	KindCancel
)

func (k Kind) String() string {
	switch k {
	case KindNext:
		return "next"
	case KindComplete:
		return "complete"
	case KindError:
		return "error"
	case KindCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Signal is one event of a sequence: a value, completion or failure.
type Signal[T any] struct {
	Kind  Kind
	Value T
	Err   error
}

// NextSignal wraps a value.
func NextSignal[T any](v T) Signal[T] {
	return Signal[T]{Kind: KindNext, Value: v}
}

// CompleteSignal is the completion signal.
func CompleteSignal[T any]() Signal[T] {
	return Signal[T]{Kind: KindComplete}
}

// ErrorSignal wraps a terminal error.
func ErrorSignal[T any](err error) Signal[T] {
	return Signal[T]{Kind: KindError, Err: err}
}

// IsTerminal reports whether s ends the sequence.
func (s Signal[T]) IsTerminal() bool {
	return s.Kind == KindComplete || s.Kind == KindError
}

// Subscription is the demand channel from a subscriber back to its
// publisher. Both methods are safe to call from any goroutine.
type Subscription interface {
	// Request adds n to the outstanding demand. Requests saturate at
	// [Unbounded]; n <= 0 terminates the sequence with [ErrInvalidDemand].
	Request(n int64)

	// Cancel stops the flow of signals. It is idempotent. A value already
	// being handed to the subscriber when Cancel runs may still arrive;
	// nothing queued does.
	Cancel()
}

// Subscriber receives the signals of one subscription.
//
// OnSubscribe is called exactly once, first. OnNext is called at most as
// many times as demand was requested. At most one of OnError and
// OnComplete is called, last. Calls are never concurrent.
type Subscriber[T any] interface {
	OnSubscribe(s Subscription)
	OnNext(v T)
	OnError(err error)
	OnComplete()
}

// Publisher is anything that can be subscribed to.
type Publisher[T any] interface {
	SubscribeWith(ctx context.Context, s Subscriber[T])
}

// addCap adds two non-negative demands, saturating at Unbounded.
func addCap(a, b int64) int64 {
	if a > Unbounded-b {
		return Unbounded
	}
	return a + b
}

// addRequested atomically adds n to v with saturation and returns the
// previous value.
func addRequested(v *atomic.Int64, n int64) int64 {
	for {
		cur := v.Load()
		if cur == Unbounded {
			return Unbounded
		}
		if v.CompareAndSwap(cur, addCap(cur, n)) {
			return cur
		}
	}
}

// emptySubscription is handed to subscribers that are terminated before
// any source is attached.
type emptySubscription struct{}

func (emptySubscription) Request(int64) {}
func (emptySubscription) Cancel()       {}

// failWith signals err to a subscriber that has not been subscribed yet.
func failWith[T any](s Subscriber[T], err error) {
	s.OnSubscribe(emptySubscription{})
	s.OnError(err)
}
