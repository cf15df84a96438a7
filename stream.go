package rx

import (
	"context"
	"sync/atomic"
)

// Stream is a cold, restartable recipe for zero or more values. Every
// subscription runs the recipe from the start and owns its own state.
//
// Streams are immutable: operators return new streams and never modify the
// receiver, so a Stream may be shared and subscribed concurrently.
type Stream[T any] struct {
	subscribe func(ctx context.Context, s Subscriber[T])
}

func newStream[T any](fn func(ctx context.Context, s Subscriber[T])) *Stream[T] {
	return &Stream[T]{subscribe: fn}
}

// SubscribeWith attaches s with explicit demand control. The context is the
// subscription's context: values stored in it are visible to every stage
// and DeferContextual.
//
// Panics if s is nil.
func (s *Stream[T]) SubscribeWith(ctx context.Context, sub Subscriber[T]) {
	if sub == nil {
		panic("rx: SubscribeWith requires non-nil subscriber")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.subscribe(ctx, sub)
}

// FromPublisher adapts any [Publisher] to a Stream.
func FromPublisher[T any](p Publisher[T]) *Stream[T] {
	if p == nil {
		panic("rx: FromPublisher requires non-nil publisher")
	}
	if s, ok := p.(*Stream[T]); ok {
		return s
	}
	return newStream(p.SubscribeWith)
}

// lift builds an operator: every subscription to the result subscribes src
// with the subscriber op wraps around the downstream one.
func lift[T, R any](src *Stream[T], op func(ctx context.Context, down Subscriber[R]) Subscriber[T]) *Stream[R] {
	return newStream(func(ctx context.Context, down Subscriber[R]) {
		src.subscribe(ctx, op(ctx, down))
	})
}

// pull is the subscription of synchronous sources. Values are produced on
// the goroutine that requests them, one per unit of demand.
//
// end, when set, is asked after every value whether the sequence is over,
// so the terminal signal follows the last value without further demand.
type pull[T any] struct {
	down      Subscriber[T]
	next      func() (T, bool, error)
	end       func() (bool, error)
	stop      func()
	requested atomic.Int64
	stopped   atomic.Bool
	invalid   atomic.Bool
}

func subscribePull[T any](down Subscriber[T], next func() (T, bool, error), end func() (bool, error)) {
	down.OnSubscribe(&pull[T]{down: down, next: next, end: end})
}

func (p *pull[T]) Request(n int64) {
	if n <= 0 {
		p.invalid.Store(true)
		n = 1
	}
	if addRequested(&p.requested, n) != 0 {
		return
	}
	p.loop()
}

func (p *pull[T]) Cancel() {
	if p.stopped.CompareAndSwap(false, true) && p.stop != nil {
		p.stop()
	}
}

func (p *pull[T]) loop() {
	var emitted int64
	r := p.requested.Load()
	for {
		for emitted != r {
			if p.stopped.Load() {
				return
			}
			if p.invalid.Load() {
				p.stopped.Store(true)
				p.down.OnError(ErrInvalidDemand)
				return
			}

			v, ok, err := p.next()
			if p.stopped.Load() {
				return
			}
			if err != nil {
				p.stopped.Store(true)
				p.down.OnError(err)
				return
			}
			if !ok {
				p.stopped.Store(true)
				p.down.OnComplete()
				return
			}

			p.down.OnNext(v)
			if p.end != nil && !p.stopped.Load() {
				if done, err := p.end(); done {
					if p.stopped.Swap(true) {
						return
					}
					if err != nil {
						p.down.OnError(err)
					} else {
						p.down.OnComplete()
					}
					return
				}
			}
			if r != Unbounded {
				emitted++
			}
		}

		if p.stopped.Load() {
			return
		}
		r = p.requested.Load()
		if r == emitted {
			r = p.requested.Add(-emitted)
			if r == 0 {
				return
			}
			emitted = 0
		}
	}
}
