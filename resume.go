package rx

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// arbiter is the Subscription handed downstream by stages that switch
// between upstream sources. It remembers unfulfilled demand and re-requests
// it from each new source.
type arbiter struct {
	mu        sync.Mutex
	current   Subscription
	requested int64
	cancelled bool
}

func (a *arbiter) set(s Subscription) {
	a.mu.Lock()
	if a.cancelled {
		a.mu.Unlock()
		s.Cancel()
		return
	}
	a.current = s
	r := a.requested
	a.mu.Unlock()

	if r > 0 {
		s.Request(r)
	}
}

func (a *arbiter) Request(n int64) {
	a.mu.Lock()
	if n > 0 {
		a.requested = addCap(a.requested, n)
	}
	cur := a.current
	a.mu.Unlock()

	if cur != nil {
		cur.Request(n)
	}
}

func (a *arbiter) produced() {
	a.mu.Lock()
	if a.requested != Unbounded && a.requested > 0 {
		a.requested--
	}
	a.mu.Unlock()
}

func (a *arbiter) Cancel() {
	a.mu.Lock()
	if a.cancelled {
		a.mu.Unlock()
		return
	}
	a.cancelled = true
	cur := a.current
	a.mu.Unlock()

	if cur != nil {
		cur.Cancel()
	}
}

func (a *arbiter) isCancelled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancelled
}

// resumePolicy decides, per subscription, whether a terminal signal of the
// current source is replaced by a subscription to another source.
type resumePolicy[T any] struct {
	onError    func(err error) (*Stream[T], error)
	onComplete func(seen bool) *Stream[T]
}

// resumeWith builds a stage that moves to the source chosen by the policy
// created for each subscription. Demand carries over through an arbiter, so
// the downstream never sees the switch.
func resumeWith[T any](src *Stream[T], policy func() resumePolicy[T]) *Stream[T] {
	return newStream(func(ctx context.Context, down Subscriber[T]) {
		r := &resumeStage[T]{
			ctx:    ctx,
			down:   down,
			arb:    &arbiter{},
			policy: policy(),
		}
		down.OnSubscribe(r.arb)
		r.subscribeTo(src)
	})
}

type resumeStage[T any] struct {
	ctx    context.Context
	down   Subscriber[T]
	arb    *arbiter
	policy resumePolicy[T]

	wip  atomic.Int32
	next *Stream[T]
	seen bool
	done bool
}

// subscribeTo trampolines resubscriptions so a source that fails
// synchronously does not grow the stack.
func (r *resumeStage[T]) subscribeTo(src *Stream[T]) {
	r.next = src
	if r.wip.Add(1) != 1 {
		return
	}
	for {
		if r.arb.isCancelled() {
			return
		}
		r.seen = false
		r.next.subscribe(r.ctx, r)
		if r.wip.Add(-1) == 0 {
			return
		}
	}
}

func (r *resumeStage[T]) OnSubscribe(s Subscription) {
	r.arb.set(s)
}

func (r *resumeStage[T]) OnNext(v T) {
	if r.done {
		return
	}
	r.seen = true
	r.arb.produced()
	r.down.OnNext(v)
}

func (r *resumeStage[T]) OnError(err error) {
	if r.done {
		onErrorDropped(err)
		return
	}
	if r.policy.onError != nil {
		next, perr := r.policy.onError(err)
		if perr != nil {
			err = perr
		} else if next != nil {
			r.subscribeTo(next)
			return
		}
	}
	r.done = true
	r.down.OnError(err)
}

func (r *resumeStage[T]) OnComplete() {
	if r.done {
		return
	}
	if r.policy.onComplete != nil {
		if next := r.policy.onComplete(r.seen); next != nil {
			r.subscribeTo(next)
			return
		}
	}
	r.done = true
	r.down.OnComplete()
}

// Retry resubscribes to the stream from scratch when it fails, at most n
// times. The source therefore runs at most n+1 times. A fallback placed
// before Retry hides errors from it.
func (s *Stream[T]) Retry(n int) *Stream[T] {
	if n < 0 {
		panic("rx: Retry requires non-negative n")
	}
	return resumeWith(s, func() resumePolicy[T] {
		attempts := 0
		return resumePolicy[T]{
			onError: func(error) (*Stream[T], error) {
				if attempts >= n {
					return nil, nil
				}
				attempts++
				return s, nil
			},
		}
	})
}

// RetryWhen resubscribes according to spec, waiting an exponentially growing
// delay between attempts. Errors marked with [NonRetryable] or rejected by
// spec.Filter are not retried.
func (s *Stream[T]) RetryWhen(spec RetrySpec) *Stream[T] {
	spec = spec.withDefaults()
	return resumeWith(s, func() resumePolicy[T] {
		attempt := 0
		return resumePolicy[T]{
			onError: func(err error) (*Stream[T], error) {
				if attempt >= spec.MaxAttempts || IsNonRetryable(err) {
					return nil, nil
				}
				if spec.Filter != nil {
					retry, ferr := call("retryWhen", func() (bool, error) { return spec.Filter(err), nil })
					if ferr != nil {
						return nil, ferr
					}
					if !retry {
						return nil, nil
					}
				}
				delay := spec.backoff(attempt)
				attempt++
				if delay <= 0 {
					return s, nil
				}
				return ThenMany(Timer(delay, spec.Scheduler).Stream(), s), nil
			},
		}
	})
}

// Repeat resubscribes when the stream completes, n more times.
func (s *Stream[T]) Repeat(n int) *Stream[T] {
	if n < 0 {
		panic("rx: Repeat requires non-negative n")
	}
	return resumeWith(s, func() resumePolicy[T] {
		runs := 0
		return resumePolicy[T]{
			onComplete: func(bool) *Stream[T] {
				if runs >= n {
					return nil
				}
				runs++
				return s
			},
		}
	})
}

// OnErrorResume switches to the stream fn returns for the error. Errors of
// the fallback pass through.
func (s *Stream[T]) OnErrorResume(fn func(err error) *Stream[T]) *Stream[T] {
	if fn == nil {
		panic("rx: OnErrorResume requires non-nil function")
	}
	return resumeWith(s, func() resumePolicy[T] {
		resumed := false
		return resumePolicy[T]{
			onError: func(err error) (*Stream[T], error) {
				if resumed {
					return nil, nil
				}
				resumed = true
				return call("onErrorResume", func() (*Stream[T], error) {
					next := fn(err)
					if next == nil {
						return nil, errors.New("fallback is nil")
					}
					return next, nil
				})
			},
		}
	})
}

// OnErrorReturn replaces an error with the single value v, then completes.
func (s *Stream[T]) OnErrorReturn(v T) *Stream[T] {
	return s.OnErrorResume(func(error) *Stream[T] { return Just(v) })
}

// OnErrorComplete turns an error into completion.
func (s *Stream[T]) OnErrorComplete() *Stream[T] {
	return s.OnErrorResume(func(error) *Stream[T] { return Empty[T]() })
}

// SwitchIfEmpty continues with alt when the stream completes without
// values.
func (s *Stream[T]) SwitchIfEmpty(alt *Stream[T]) *Stream[T] {
	if alt == nil {
		panic("rx: SwitchIfEmpty requires non-nil stream")
	}
	return resumeWith(s, func() resumePolicy[T] {
		switched := false
		return resumePolicy[T]{
			onComplete: func(seen bool) *Stream[T] {
				if seen || switched {
					return nil
				}
				switched = true
				return alt
			},
		}
	})
}
