package rx

import (
	"context"
	"errors"
	"time"

	"github.com/baxromumarov/rx/scheduler"
	"github.com/rs/zerolog"
)

// Single is a sequence of at most one value. It shares the demand protocol
// of [Stream] and converts to one with Stream.
type Single[T any] struct {
	s *Stream[T]
}

func singleOf[T any](s *Stream[T]) *Single[T] {
	return &Single[T]{s: s}
}

// Stream returns the Single as a Stream of zero or one value.
func (s *Single[T]) Stream() *Stream[T] {
	return s.s
}

// SubscribeWith attaches sub with explicit demand control.
func (s *Single[T]) SubscribeWith(ctx context.Context, sub Subscriber[T]) {
	s.s.SubscribeWith(ctx, sub)
}

// Subscribe starts the Single and calls onNext with its value, if any.
func (s *Single[T]) Subscribe(ctx context.Context, onNext func(T), opts ...SubscribeOption) Disposable {
	return s.s.Subscribe(ctx, onNext, opts...)
}

// FromCallable calls fn once per subscription and emits its result. A
// returned error is signalled unchanged; a panic becomes a
// *UserFunctionError.
func FromCallable[T any](fn func(ctx context.Context) (T, error)) *Single[T] {
	if fn == nil {
		panic("rx: FromCallable requires non-nil function")
	}
	return singleOf(newStream(func(ctx context.Context, down Subscriber[T]) {
		var (
			once  bool
			value T
		)
		subscribePull(down, func() (T, bool, error) {
			var zero T
			if once {
				return zero, false, nil
			}
			once = true

			var ferr error
			if pe := scheduler.Try(func() { value, ferr = fn(ctx) }); pe != nil {
				return zero, false, &UserFunctionError{Op: "fromCallable", Err: pe}
			}
			if ferr != nil {
				return zero, false, ferr
			}
			return value, true, nil
		}, func() (bool, error) {
			return once, nil
		})
	}))
}

// FromSupplier calls fn once per subscription and emits the value.
func FromSupplier[T any](fn func() T) *Single[T] {
	if fn == nil {
		panic("rx: FromSupplier requires non-nil function")
	}
	return FromCallable(func(context.Context) (T, error) { return fn(), nil })
}

// JustSingle emits v.
func JustSingle[T any](v T) *Single[T] {
	return singleOf(Just(v))
}

// JustOrEmpty emits *v, or nothing when v is nil.
func JustOrEmpty[T any](v *T) *Single[T] {
	if v == nil {
		return EmptySingle[T]()
	}
	return JustSingle(*v)
}

// EmptySingle completes without a value.
func EmptySingle[T any]() *Single[T] {
	return singleOf(Empty[T]())
}

// ErrorSingle fails with err.
func ErrorSingle[T any](err error) *Single[T] {
	return singleOf(Error[T](err))
}

// DeferSingle calls factory once per subscription.
func DeferSingle[T any](factory func() *Single[T]) *Single[T] {
	if factory == nil {
		panic("rx: DeferSingle requires non-nil factory")
	}
	return singleOf(Defer(func() *Stream[T] {
		s := factory()
		if s == nil {
			return nil
		}
		return s.s
	}))
}

// Timer emits 0 after d on a worker of sched (the shared parallel scheduler
// when nil).
func Timer(d time.Duration, sched scheduler.Scheduler) *Single[int64] {
	if d < 0 {
		panic("rx: Timer requires non-negative duration")
	}
	return singleOf(newStream(func(_ context.Context, down Subscriber[int64]) {
		w := workerOf(sched)
		e := newEmitter(down)
		e.onCancel = w.Dispose
		e.onDone = w.Dispose
		down.OnSubscribe(e)

		_, err := w.ScheduleAfter(d, func(err error) {
			if err != nil {
				e.abort(err)
				return
			}
			e.offer(0, nil)
			e.complete()
		})
		if err != nil {
			e.abort(err)
		}
	}))
}

// MapSingle transforms the value with fn.
func MapSingle[T, R any](s *Single[T], fn func(ctx context.Context, v T) (R, error)) *Single[R] {
	return singleOf(Map(s.s, fn))
}

// FlatMapSingle continues with the Single fn returns for the value.
func FlatMapSingle[T, R any](s *Single[T], fn func(ctx context.Context, v T) *Single[R]) *Single[R] {
	if fn == nil {
		panic("rx: FlatMapSingle requires non-nil function")
	}
	return singleOf(ConcatMap(s.s, func(ctx context.Context, v T) *Stream[R] {
		next := fn(ctx, v)
		if next == nil {
			return nil
		}
		return next.s
	}))
}

// FlatMapMany continues with the Stream fn returns for the value.
func FlatMapMany[T, R any](s *Single[T], fn func(ctx context.Context, v T) *Stream[R]) *Stream[R] {
	return ConcatMap(s.s, fn)
}

// ZipSingle waits for both values and emits them as a Pair. It is empty if
// either side is empty.
func ZipSingle[A, B any](a *Single[A], b *Single[B]) *Single[Pair[A, B]] {
	return singleOf(Zip(a.s, b.s))
}

// ZipSingleWith combines both values with fn.
func ZipSingleWith[A, B, R any](a *Single[A], b *Single[B], fn func(A, B) R) *Single[R] {
	return singleOf(ZipWith(a.s, b.s, fn))
}

// DelayUntil emits the value once the stream returned by trigger for it
// completes. The values of the trigger are ignored.
func DelayUntil[T, R any](s *Single[T], trigger func(ctx context.Context, v T) *Stream[R]) *Single[T] {
	if trigger == nil {
		panic("rx: DelayUntil requires non-nil function")
	}
	return singleOf(ConcatMap(s.s, func(ctx context.Context, v T) *Stream[T] {
		t := trigger(ctx, v)
		if t == nil {
			return Error[T](&UserFunctionError{Op: "delayUntil", Err: errNilStream})
		}
		return ThenMany(t, Just(v))
	}))
}

var errNilStream = errors.New("function returned nil stream")

// Filter empties the Single when pred rejects the value.
func (s *Single[T]) Filter(pred func(T) bool) *Single[T] {
	return singleOf(s.s.Filter(pred))
}

// SubscribeOn is [Stream.SubscribeOn] for a Single.
func (s *Single[T]) SubscribeOn(sched scheduler.Scheduler) *Single[T] {
	return singleOf(s.s.SubscribeOn(sched))
}

// PublishOn delivers the signals on a worker of sched.
func (s *Single[T]) PublishOn(sched scheduler.Scheduler) *Single[T] {
	return singleOf(s.s.PublishOn(sched, 1))
}

// Retry resubscribes up to n times after an error.
func (s *Single[T]) Retry(n int) *Single[T] {
	return singleOf(s.s.Retry(n))
}

// RetryWhen resubscribes after errors as spec allows.
func (s *Single[T]) RetryWhen(spec RetrySpec) *Single[T] {
	return singleOf(s.s.RetryWhen(spec))
}

// OnErrorReturn replaces an error with v.
func (s *Single[T]) OnErrorReturn(v T) *Single[T] {
	return singleOf(s.s.OnErrorReturn(v))
}

// OnErrorResume switches to the Single fn returns for the error.
func (s *Single[T]) OnErrorResume(fn func(err error) *Single[T]) *Single[T] {
	if fn == nil {
		panic("rx: OnErrorResume requires non-nil function")
	}
	return singleOf(s.s.OnErrorResume(func(err error) *Stream[T] {
		next := fn(err)
		if next == nil {
			return nil
		}
		return next.s
	}))
}

// OnErrorComplete turns an error into an empty completion.
func (s *Single[T]) OnErrorComplete() *Single[T] {
	return singleOf(s.s.OnErrorComplete())
}

// OnErrorMap replaces the error with the one fn returns.
func (s *Single[T]) OnErrorMap(fn func(error) error) *Single[T] {
	return singleOf(s.s.OnErrorMap(fn))
}

// Timeout fails with [ErrTimeout] when the Single does not terminate
// within d.
func (s *Single[T]) Timeout(d time.Duration, sched scheduler.Scheduler) *Single[T] {
	return singleOf(s.s.Timeout(d, sched))
}

// Delay shifts the value by d.
func (s *Single[T]) Delay(d time.Duration, sched scheduler.Scheduler) *Single[T] {
	return singleOf(s.s.DelayElements(d, sched))
}

// DoOnNext calls fn with the value before passing it on.
func (s *Single[T]) DoOnNext(fn func(T)) *Single[T] {
	return singleOf(s.s.DoOnNext(fn))
}

// DoOnError calls fn with the error before passing it on.
func (s *Single[T]) DoOnError(fn func(error)) *Single[T] {
	return singleOf(s.s.DoOnError(fn))
}

// DoOnSubscribe calls fn when a subscriber attaches.
func (s *Single[T]) DoOnSubscribe(fn func()) *Single[T] {
	return singleOf(s.s.DoOnSubscribe(fn))
}

// DoOnCancel calls fn when the subscriber cancels.
func (s *Single[T]) DoOnCancel(fn func()) *Single[T] {
	return singleOf(s.s.DoOnCancel(fn))
}

// DoFinally calls fn once with how the Single ended.
func (s *Single[T]) DoFinally(fn func(Kind)) *Single[T] {
	return singleOf(s.s.DoFinally(fn))
}

// Log records every signal passing through this point, tagged with name.
func (s *Single[T]) Log(name string) *Single[T] {
	return singleOf(s.s.Log(name))
}

// LogWith is Log with an explicit logger.
func (s *Single[T]) LogWith(name string, l zerolog.Logger) *Single[T] {
	return singleOf(s.s.LogWith(name, l))
}

// Cache runs the source once, on first subscription, and replays its
// outcome to every subscriber.
func (s *Single[T]) Cache() *Single[T] {
	return singleOf(s.s.Cache())
}

// DefaultIfEmpty emits v when the Single completes empty.
func (s *Single[T]) DefaultIfEmpty(v T) *Single[T] {
	return singleOf(s.s.DefaultIfEmpty(v))
}

// SwitchIfEmpty subscribes to alt when the Single completes empty.
func (s *Single[T]) SwitchIfEmpty(alt *Single[T]) *Single[T] {
	if alt == nil {
		panic("rx: SwitchIfEmpty requires non-nil single")
	}
	return singleOf(s.s.SwitchIfEmpty(alt.s))
}

// Repeat resubscribes n more times after completion, as a Stream.
func (s *Single[T]) Repeat(n int) *Stream[T] {
	return s.s.Repeat(n)
}

// ContextWrite stores value under key in the context seen upstream.
func (s *Single[T]) ContextWrite(key, value any) *Single[T] {
	return singleOf(s.s.ContextWrite(key, value))
}

// Then ignores the value and signals only how the Single ended.
func (s *Single[T]) Then() *Single[struct{}] {
	return s.s.Then()
}

// Block subscribes and waits for the value. Returns [ErrEmpty] when the
// Single completes without one.
func (s *Single[T]) Block(ctx context.Context) (T, error) {
	return s.s.BlockLast(ctx)
}

// BlockOptional is Block reporting emptiness as ok == false instead of an
// error.
func (s *Single[T]) BlockOptional(ctx context.Context) (v T, ok bool, err error) {
	v, err = s.s.BlockLast(ctx)
	if errors.Is(err, ErrEmpty) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	return v, true, nil
}
