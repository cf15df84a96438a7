package rx

import "context"

// relay is the base of synchronous stages: demand and cancellation pass
// upstream unchanged, terminal signals pass downstream once.
type relay[T, R any] struct {
	down Subscriber[R]
	up   Subscription
	done bool
}

func (r *relay[T, R]) OnSubscribe(s Subscription) {
	r.up = s
	r.down.OnSubscribe(r)
}

func (r *relay[T, R]) Request(n int64) { r.up.Request(n) }
func (r *relay[T, R]) Cancel()         { r.up.Cancel() }

func (r *relay[T, R]) OnError(err error) {
	if r.done {
		onErrorDropped(err)
		return
	}
	r.done = true
	r.down.OnError(err)
}

func (r *relay[T, R]) OnComplete() {
	if r.done {
		return
	}
	r.done = true
	r.down.OnComplete()
}

// fail cancels upstream and signals err downstream.
func (r *relay[T, R]) fail(err error) {
	r.up.Cancel()
	r.OnError(err)
}

// Map transforms every value with fn. An error returned by fn, or a panic,
// cancels upstream and fails the stream with a *UserFunctionError.
func Map[T, R any](src *Stream[T], fn func(ctx context.Context, v T) (R, error)) *Stream[R] {
	if fn == nil {
		panic("rx: Map requires non-nil function")
	}
	return lift(src, func(ctx context.Context, down Subscriber[R]) Subscriber[T] {
		return &mapStage[T, R]{relay: relay[T, R]{down: down}, ctx: ctx, fn: fn}
	})
}

type mapStage[T, R any] struct {
	relay[T, R]
	ctx context.Context
	fn  func(context.Context, T) (R, error)
}

func (m *mapStage[T, R]) OnNext(v T) {
	if m.done {
		return
	}
	out, err := call("map", func() (R, error) { return m.fn(m.ctx, v) })
	if err != nil {
		m.fail(err)
		return
	}
	m.down.OnNext(out)
}

// Filter passes only values for which pred returns true. Every dropped
// value is replaced by a request for one more.
func (s *Stream[T]) Filter(pred func(T) bool) *Stream[T] {
	if pred == nil {
		panic("rx: Filter requires non-nil predicate")
	}
	return lift(s, func(_ context.Context, down Subscriber[T]) Subscriber[T] {
		return &filterStage[T]{relay: relay[T, T]{down: down}, pred: pred}
	})
}

type filterStage[T any] struct {
	relay[T, T]
	pred func(T) bool
}

func (f *filterStage[T]) OnNext(v T) {
	if f.done {
		return
	}
	keep, err := call("filter", func() (bool, error) { return f.pred(v), nil })
	if err != nil {
		f.fail(err)
		return
	}
	if keep {
		f.down.OnNext(v)
		return
	}
	f.up.Request(1)
}

// Take emits the first n values, then cancels upstream and completes.
func (s *Stream[T]) Take(n int64) *Stream[T] {
	if n < 0 {
		panic("rx: Take requires non-negative n")
	}
	return newStream(func(ctx context.Context, down Subscriber[T]) {
		if n == 0 {
			s.subscribe(ctx, &cancelAtOnce[T]{down: down})
			return
		}
		s.subscribe(ctx, &takeStage[T]{relay: relay[T, T]{down: down}, remaining: n, limit: n})
	})
}

// cancelAtOnce cancels its upstream as soon as it is subscribed and
// completes the downstream.
type cancelAtOnce[T any] struct {
	down Subscriber[T]
}

func (c *cancelAtOnce[T]) OnSubscribe(s Subscription) {
	s.Cancel()
	c.down.OnSubscribe(emptySubscription{})
	c.down.OnComplete()
}

func (c *cancelAtOnce[T]) OnNext(T)      {}
func (c *cancelAtOnce[T]) OnError(error) {}
func (c *cancelAtOnce[T]) OnComplete()   {}

type takeStage[T any] struct {
	relay[T, T]
	remaining int64
	limit     int64
}

func (t *takeStage[T]) OnSubscribe(s Subscription) {
	t.up = s
	t.down.OnSubscribe(t)
}

// Request never asks upstream for more than n in one call.
func (t *takeStage[T]) Request(n int64) {
	if n > t.limit {
		n = t.limit
	}
	t.up.Request(n)
}

func (t *takeStage[T]) OnNext(v T) {
	if t.done {
		return
	}
	t.remaining--
	t.down.OnNext(v)
	if t.remaining == 0 {
		t.up.Cancel()
		t.OnComplete()
	}
}

// TakeWhile emits values while pred holds and completes at the first value
// that fails it.
func (s *Stream[T]) TakeWhile(pred func(T) bool) *Stream[T] {
	if pred == nil {
		panic("rx: TakeWhile requires non-nil predicate")
	}
	return lift(s, func(_ context.Context, down Subscriber[T]) Subscriber[T] {
		return &takeWhileStage[T]{relay: relay[T, T]{down: down}, pred: pred}
	})
}

type takeWhileStage[T any] struct {
	relay[T, T]
	pred func(T) bool
}

func (t *takeWhileStage[T]) OnNext(v T) {
	if t.done {
		return
	}
	ok, err := call("takeWhile", func() (bool, error) { return t.pred(v), nil })
	if err != nil {
		t.fail(err)
		return
	}
	if !ok {
		t.up.Cancel()
		t.OnComplete()
		return
	}
	t.down.OnNext(v)
}

// Skip drops the first n values.
func (s *Stream[T]) Skip(n int64) *Stream[T] {
	if n < 0 {
		panic("rx: Skip requires non-negative n")
	}
	if n == 0 {
		return s
	}
	return lift(s, func(_ context.Context, down Subscriber[T]) Subscriber[T] {
		return &skipStage[T]{relay: relay[T, T]{down: down}, remaining: n}
	})
}

type skipStage[T any] struct {
	relay[T, T]
	remaining int64
}

func (k *skipStage[T]) OnNext(v T) {
	if k.done {
		return
	}
	if k.remaining > 0 {
		k.remaining--
		k.up.Request(1)
		return
	}
	k.down.OnNext(v)
}

// Distinct drops values equal to one already emitted.
func Distinct[T comparable](src *Stream[T]) *Stream[T] {
	return newStream(func(ctx context.Context, down Subscriber[T]) {
		seen := make(map[T]struct{})
		src.Filter(func(v T) bool {
			if _, dup := seen[v]; dup {
				return false
			}
			seen[v] = struct{}{}
			return true
		}).subscribe(ctx, down)
	})
}

// Scan emits every intermediate accumulation of fn, starting from initial.
// The first value emitted is fn(initial, firstItem).
func Scan[T, R any](src *Stream[T], initial R, fn func(acc R, v T) R) *Stream[R] {
	if fn == nil {
		panic("rx: Scan requires non-nil function")
	}
	return newStream(func(ctx context.Context, down Subscriber[R]) {
		acc := initial
		Map(src, func(_ context.Context, v T) (R, error) {
			acc = fn(acc, v)
			return acc, nil
		}).subscribe(ctx, down)
	})
}

// Buffer collects values into slices of n. The last slice may be shorter.
// A request for k slices becomes a request for k*n values.
func Buffer[T any](src *Stream[T], n int) *Stream[[]T] {
	if n <= 0 {
		panic("rx: Buffer requires n > 0")
	}
	return lift(src, func(_ context.Context, down Subscriber[[]T]) Subscriber[T] {
		return &bufferStage[T]{relay: relay[T, []T]{down: down}, size: n}
	})
}

type bufferStage[T any] struct {
	relay[T, []T]
	size int
	buf  []T
}

func (b *bufferStage[T]) OnSubscribe(s Subscription) {
	b.up = s
	b.down.OnSubscribe(b)
}

func (b *bufferStage[T]) Request(n int64) {
	if n <= 0 {
		b.up.Request(n)
		return
	}
	if n > Unbounded/int64(b.size) {
		b.up.Request(Unbounded)
		return
	}
	b.up.Request(n * int64(b.size))
}

func (b *bufferStage[T]) OnNext(v T) {
	if b.done {
		return
	}
	b.buf = append(b.buf, v)
	if len(b.buf) == b.size {
		out := b.buf
		b.buf = make([]T, 0, b.size)
		b.down.OnNext(out)
	}
}

func (b *bufferStage[T]) OnError(err error) {
	b.buf = nil
	b.relay.OnError(err)
}

func (b *bufferStage[T]) OnComplete() {
	if !b.done && len(b.buf) > 0 {
		out := b.buf
		b.buf = nil
		b.down.OnNext(out)
	}
	b.relay.OnComplete()
}

// OnErrorMap replaces the terminal error with fn(err).
func (s *Stream[T]) OnErrorMap(fn func(error) error) *Stream[T] {
	if fn == nil {
		panic("rx: OnErrorMap requires non-nil function")
	}
	return lift(s, func(_ context.Context, down Subscriber[T]) Subscriber[T] {
		return &errorMapStage[T]{relay: relay[T, T]{down: down}, fn: fn}
	})
}

type errorMapStage[T any] struct {
	relay[T, T]
	fn func(error) error
}

func (m *errorMapStage[T]) OnNext(v T) {
	if !m.done {
		m.down.OnNext(v)
	}
}

func (m *errorMapStage[T]) OnError(err error) {
	mapped, ferr := call("onErrorMap", func() (error, error) { return m.fn(err), nil })
	switch {
	case ferr != nil:
		m.relay.OnError(ferr)
	case mapped == nil:
		m.relay.OnError(err)
	default:
		m.relay.OnError(mapped)
	}
}

// ContextWrite makes key visible to every stage above this one through the
// subscription context.
func (s *Stream[T]) ContextWrite(key, value any) *Stream[T] {
	return newStream(func(ctx context.Context, down Subscriber[T]) {
		s.subscribe(context.WithValue(ctx, key, value), down)
	})
}

// IgnoreElements drops every value and keeps only the terminal signal.
func IgnoreElements[T, R any](src *Stream[T]) *Stream[R] {
	return lift(src, func(_ context.Context, down Subscriber[R]) Subscriber[T] {
		return &ignoreStage[T, R]{relay: relay[T, R]{down: down}}
	})
}

type ignoreStage[T, R any] struct {
	relay[T, R]
}

func (i *ignoreStage[T, R]) OnSubscribe(s Subscription) {
	i.up = s
	i.down.OnSubscribe(emptySubscriptionFor(s))
	s.Request(Unbounded)
}

func (i *ignoreStage[T, R]) OnNext(T) {}

// emptySubscriptionFor ignores requests but forwards cancellation.
func emptySubscriptionFor(s Subscription) Subscription {
	return cancelOnly{s}
}

type cancelOnly struct{ s Subscription }

func (c cancelOnly) Request(int64) {}
func (c cancelOnly) Cancel()       { c.s.Cancel() }
