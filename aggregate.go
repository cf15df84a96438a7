package rx

import "context"

// aggregate consumes the whole upstream and emits at most one value on
// completion, once the downstream asked for it.
func aggregate[T, A any](
	src *Stream[T],
	op string,
	init func() A,
	step func(acc A, v T) (A, error),
	result func(acc A, seen bool) (A, bool),
) *Stream[A] {
	return newStream(func(ctx context.Context, down Subscriber[A]) {
		st := &aggregateStage[T, A]{op: op, step: step, result: result}
		st.out = newEmitter(down)
		st.out.onCancel = func() { st.up.Cancel() }

		acc, err := call(op, func() (A, error) { return init(), nil })
		if err != nil {
			failWith(down, err)
			return
		}
		st.acc = acc
		src.subscribe(ctx, st)
	})
}

type aggregateStage[T, A any] struct {
	op     string
	step   func(A, T) (A, error)
	result func(A, bool) (A, bool)

	out  *emitter[A]
	up   Subscription
	acc  A
	seen bool
	done bool
}

func (a *aggregateStage[T, A]) OnSubscribe(s Subscription) {
	a.up = s
	a.out.down.OnSubscribe(a.out)
	s.Request(Unbounded)
}

func (a *aggregateStage[T, A]) OnNext(v T) {
	if a.done {
		return
	}
	next, err := call(a.op, func() (A, error) { return a.step(a.acc, v) })
	if err != nil {
		a.done = true
		a.up.Cancel()
		a.out.fail(err)
		return
	}
	a.acc = next
	a.seen = true
}

func (a *aggregateStage[T, A]) OnError(err error) {
	if a.done {
		onErrorDropped(err)
		return
	}
	a.done = true
	a.out.fail(err)
}

func (a *aggregateStage[T, A]) OnComplete() {
	if a.done {
		return
	}
	a.done = true
	if v, ok := a.result(a.acc, a.seen); ok {
		a.out.offer(v, nil)
	}
	a.out.complete()
}

func keepIfSeen[A any](acc A, seen bool) (A, bool) { return acc, seen }
func always[A any](acc A, _ bool) (A, bool)        { return acc, true }

// Reduce folds the values pairwise with fn and emits the result. An empty
// stream yields an empty Single.
func Reduce[T any](src *Stream[T], fn func(acc, v T) T) *Single[T] {
	if fn == nil {
		panic("rx: Reduce requires non-nil function")
	}
	folded := aggregate(src, "reduce",
		func() reduceState[T] { return reduceState[T]{} },
		func(acc reduceState[T], v T) (reduceState[T], error) {
			if !acc.set {
				return reduceState[T]{v: v, set: true}, nil
			}
			return reduceState[T]{v: fn(acc.v, v), set: true}, nil
		},
		keepIfSeen[reduceState[T]],
	)
	return singleOf(Map(folded, func(_ context.Context, st reduceState[T]) (T, error) {
		return st.v, nil
	}))
}

type reduceState[T any] struct {
	v   T
	set bool
}

// ReduceWith folds the values into an accumulator created by seed for every
// subscription, and emits it. An empty stream emits the seed.
func ReduceWith[T, A any](src *Stream[T], seed func() A, fn func(acc A, v T) A) *Single[A] {
	if seed == nil || fn == nil {
		panic("rx: ReduceWith requires non-nil functions")
	}
	return singleOf(aggregate(src, "reduceWith", seed,
		func(acc A, v T) (A, error) { return fn(acc, v), nil },
		always[A],
	))
}

// Count emits the number of values.
func (s *Stream[T]) Count() *Single[int64] {
	return singleOf(aggregate(s, "count",
		func() int64 { return 0 },
		func(n int64, _ T) (int64, error) { return n + 1, nil },
		always[int64],
	))
}

// CollectList emits every value as one slice. An empty stream emits an
// empty, non-nil slice.
func CollectList[T any](src *Stream[T]) *Single[[]T] {
	return singleOf(aggregate(src, "collectList",
		func() []T { return []T{} },
		func(acc []T, v T) ([]T, error) { return append(acc, v), nil },
		always[[]T],
	))
}

// Last emits the final value. An empty stream yields an empty Single.
func (s *Stream[T]) Last() *Single[T] {
	return singleOf(aggregate(s, "last",
		func() T {
			var zero T
			return zero
		},
		func(_ T, v T) (T, error) { return v, nil },
		keepIfSeen[T],
	))
}

// Next emits the first value and cancels the rest.
func (s *Stream[T]) Next() *Single[T] {
	return singleOf(s.Take(1))
}

// DefaultIfEmpty emits v when the stream completes without values.
func (s *Stream[T]) DefaultIfEmpty(v T) *Stream[T] {
	return s.SwitchIfEmpty(Just(v))
}

// Then ignores the values and signals only how the stream ended.
func (s *Stream[T]) Then() *Single[struct{}] {
	return singleOf(IgnoreElements[T, struct{}](s))
}

// ThenMany waits for src to complete, ignoring its values, then continues
// with next. An error of src skips next.
func ThenMany[T, R any](src *Stream[T], next *Stream[R]) *Stream[R] {
	if next == nil {
		panic("rx: ThenMany requires non-nil stream")
	}
	return IgnoreElements[T, R](src).SwitchIfEmpty(next)
}
