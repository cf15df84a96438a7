package rx

import (
	"context"
	"errors"
	"time"

	"github.com/baxromumarov/rx/chanx"
	"github.com/baxromumarov/rx/scheduler"
)

// Just emits the given values in order, then completes.
func Just[T any](items ...T) *Stream[T] {
	return FromSlice(items)
}

// FromSlice emits the elements of items in order, then completes. The slice
// is read at each subscription; do not modify it while subscribed.
func FromSlice[T any](items []T) *Stream[T] {
	if len(items) == 0 {
		return Empty[T]()
	}
	return newStream(func(_ context.Context, down Subscriber[T]) {
		i := 0
		subscribePull(down, func() (T, bool, error) {
			if i >= len(items) {
				var zero T
				return zero, false, nil
			}
			v := items[i]
			i++
			return v, true, nil
		}, func() (bool, error) {
			return i >= len(items), nil
		})
	})
}

// Range emits count consecutive integers starting at start.
// Panics if count < 0.
func Range(start, count int) *Stream[int] {
	if count < 0 {
		panic("rx: Range requires non-negative count")
	}
	if count == 0 {
		return Empty[int]()
	}
	return newStream(func(_ context.Context, down Subscriber[int]) {
		i := 0
		subscribePull(down, func() (int, bool, error) {
			if i >= count {
				return 0, false, nil
			}
			v := start + i
			i++
			return v, true, nil
		}, func() (bool, error) {
			return i >= count, nil
		})
	})
}

// Empty completes immediately without values.
func Empty[T any]() *Stream[T] {
	return newStream(func(_ context.Context, down Subscriber[T]) {
		down.OnSubscribe(emptySubscription{})
		down.OnComplete()
	})
}

// Error fails immediately with err.
func Error[T any](err error) *Stream[T] {
	if err == nil {
		panic("rx: Error requires non-nil error")
	}
	return newStream(func(_ context.Context, down Subscriber[T]) {
		failWith(down, err)
	})
}

// Never emits nothing and never terminates.
func Never[T any]() *Stream[T] {
	return newStream(func(_ context.Context, down Subscriber[T]) {
		down.OnSubscribe(emptySubscription{})
	})
}

// Defer calls factory once per subscription and subscribes to the stream it
// returns.
func Defer[T any](factory func() *Stream[T]) *Stream[T] {
	if factory == nil {
		panic("rx: Defer requires non-nil factory")
	}
	return DeferContextual(func(context.Context) *Stream[T] {
		return factory()
	})
}

// DeferContextual is Defer with access to the subscription context.
func DeferContextual[T any](factory func(ctx context.Context) *Stream[T]) *Stream[T] {
	if factory == nil {
		panic("rx: DeferContextual requires non-nil factory")
	}
	return newStream(func(ctx context.Context, down Subscriber[T]) {
		src, err := call("defer", func() (*Stream[T], error) {
			s := factory(ctx)
			if s == nil {
				return nil, errors.New("factory returned nil stream")
			}
			return s, nil
		})
		if err != nil {
			failWith(down, err)
			return
		}
		src.subscribe(ctx, down)
	})
}

// SyncSink receives the outcome of one Generate round.
type SyncSink[T any] struct {
	value    T
	hasValue bool
	done     bool
	err      error
}

// Next emits v. Calling it twice in one round panics.
func (s *SyncSink[T]) Next(v T) {
	if s.hasValue {
		panic("rx: Generate called Next twice in one round")
	}
	s.value = v
	s.hasValue = true
}

// Complete ends the sequence after the value of this round, if any.
func (s *SyncSink[T]) Complete() { s.done = true }

// Error fails the sequence after the value of this round, if any.
func (s *SyncSink[T]) Error(err error) {
	s.done = true
	s.err = err
}

// Generate produces values synchronously, one round per unit of demand.
// Each round receives the state returned by the previous one and must call
// Next, Complete or Error on the sink.
func Generate[S, T any](initial func() S, fn func(state S, sink *SyncSink[T]) S) *Stream[T] {
	if initial == nil || fn == nil {
		panic("rx: Generate requires non-nil functions")
	}
	return newStream(func(_ context.Context, down Subscriber[T]) {
		state, err := call("generate", func() (S, error) { return initial(), nil })
		if err != nil {
			failWith(down, err)
			return
		}

		var (
			finished bool
			finalErr error
		)
		subscribePull(down, func() (T, bool, error) {
			var zero T
			if finished {
				return zero, false, finalErr
			}

			sink := &SyncSink[T]{}
			next, err := call("generate", func() (S, error) { return fn(state, sink), nil })
			if err != nil {
				return zero, false, err
			}
			state = next

			if sink.done {
				finished, finalErr = true, sink.err
			}
			if sink.hasValue {
				return sink.value, true, nil
			}
			if finished {
				return zero, false, finalErr
			}
			return zero, false, &UserFunctionError{
				Op:  "generate",
				Err: errors.New("round produced no signal"),
			}
		}, func() (bool, error) {
			return finished, finalErr
		})
	})
}

// FromChan emits the values received from ch until it is closed. Receiving
// blocks, so the stream subscribes on the shared elastic scheduler.
func FromChan[T any](ch <-chan T) *Stream[T] {
	if ch == nil {
		panic("rx: FromChan requires non-nil channel")
	}
	src := newStream(func(ctx context.Context, down Subscriber[T]) {
		ctx, cancel := context.WithCancel(ctx)
		var (
			held T
			has  bool
		)
		down.OnSubscribe(&pull[T]{
			down: down,
			stop: cancel,
			next: func() (T, bool, error) {
				if has {
					v := held
					var zero T
					held, has = zero, false
					return v, true, nil
				}
				v, ok, err := chanx.Recv(ctx, ch)
				if !ok {
					cancel()
				}
				return v, ok, err
			},
			// Receives one value ahead so a closed channel completes the
			// stream right after its last value.
			end: func() (bool, error) {
				v, ok, err := chanx.Recv(ctx, ch)
				if !ok {
					cancel()
					return true, err
				}
				held, has = v, true
				return false, nil
			},
		})
	})
	return src.SubscribeOn(scheduler.DefaultElastic())
}

// Interval emits 0, 1, 2, ... every period on a worker of sched (the shared
// parallel scheduler when nil). Ticks that find no demand fail the stream
// with an *OverflowError.
func Interval(period time.Duration, sched scheduler.Scheduler) *Stream[int64] {
	if period <= 0 {
		panic("rx: Interval requires period > 0")
	}
	return newStream(func(_ context.Context, down Subscriber[int64]) {
		w := workerOf(sched)
		e := newEmitter[int64](down)
		e.capacity = 0
		e.onCancel = w.Dispose
		e.onDone = w.Dispose
		down.OnSubscribe(e)

		start := time.Now()
		var tick int64
		var next func()
		next = func() {
			v := tick
			tick++
			at := start.Add(time.Duration(tick) * period)
			_, err := w.ScheduleAfter(time.Until(at), func(err error) {
				if err != nil {
					e.abort(err)
					return
				}
				if e.emit(v) {
					next()
				}
			})
			if err != nil && !errors.Is(err, scheduler.ErrClosed) {
				e.abort(err)
			}
		}
		next()
	})
}

func workerOf(sched scheduler.Scheduler) scheduler.Worker {
	if sched == nil {
		sched = scheduler.Default()
	}
	return sched.NewWorker()
}
