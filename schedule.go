package rx

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/baxromumarov/rx/scheduler"
	"golang.org/x/time/rate"
)

// SubscribeOn subscribes to the stream on a worker of sched, and runs
// every upstream Request on that worker too. The hop closest to the source
// decides where the source runs: further SubscribeOn calls downstream only
// move the subscribe call itself.
//
// A scheduler rejecting the subscription fails the stream with its error.
func (s *Stream[T]) SubscribeOn(sched scheduler.Scheduler) *Stream[T] {
	return newStream(func(ctx context.Context, down Subscriber[T]) {
		w := workerOf(sched)
		st := &subscribeOnStage[T]{relay: relay[T, T]{down: down}, w: w}
		if _, err := w.Schedule(func() { s.subscribe(ctx, st) }); err != nil {
			w.Dispose()
			failWith(down, err)
		}
	})
}

type subscribeOnStage[T any] struct {
	relay[T, T]
	w scheduler.Worker
}

func (st *subscribeOnStage[T]) Request(n int64) {
	if _, err := st.w.Schedule(func() { st.up.Request(n) }); err != nil {
		// The worker is gone once the stream terminated or was cancelled,
		// so the request is answered on this goroutine.
		st.up.Request(n)
	}
}

func (st *subscribeOnStage[T]) Cancel() {
	st.up.Cancel()
	st.w.Dispose()
}

func (st *subscribeOnStage[T]) OnNext(v T) {
	if !st.done {
		st.down.OnNext(v)
	}
}

func (st *subscribeOnStage[T]) OnError(err error) {
	st.relay.OnError(err)
	st.w.Dispose()
}

func (st *subscribeOnStage[T]) OnComplete() {
	st.relay.OnComplete()
	st.w.Dispose()
}

// PublishOn delivers every signal below it on a worker of sched. Upstream
// is asked for prefetch values ahead and replenished as the downstream
// consumes them. An error is delivered after the values queued before it.
func (s *Stream[T]) PublishOn(sched scheduler.Scheduler, prefetch int) *Stream[T] {
	if prefetch <= 0 {
		panic("rx: PublishOn requires prefetch > 0")
	}
	return newStream(func(ctx context.Context, down Subscriber[T]) {
		w := workerOf(sched)
		st := newPrefetchStage(down, int64(prefetch))
		st.out.run = func(fn func()) error {
			_, err := w.Schedule(fn)
			return err
		}
		cancel := st.out.onCancel
		st.out.onCancel = func() {
			cancel()
			w.Dispose()
		}
		st.out.onDone = w.Dispose
		s.subscribe(ctx, st)
	})
}

// LimitRate caps every upstream request at n, asking for more once three
// quarters of the previous batch were consumed.
func (s *Stream[T]) LimitRate(n int) *Stream[T] {
	if n <= 0 {
		panic("rx: LimitRate requires n > 0")
	}
	return newStream(func(ctx context.Context, down Subscriber[T]) {
		s.subscribe(ctx, newPrefetchStage(down, int64(n)))
	})
}

// prefetchStage requests a fixed batch from upstream and hands values to
// an emitter, replenishing as they are delivered.
type prefetchStage[T any] struct {
	out      *emitter[T]
	prefetch int64
	limit    int64

	mu       sync.Mutex
	up       Subscription
	consumed int64
}

func newPrefetchStage[T any](down Subscriber[T], prefetch int64) *prefetchStage[T] {
	st := &prefetchStage[T]{prefetch: prefetch, limit: replenishAt(prefetch)}
	st.out = newEmitter(down)
	st.out.onCancel = func() {
		st.mu.Lock()
		up := st.up
		st.mu.Unlock()
		if up != nil {
			up.Cancel()
		}
	}
	return st
}

func (st *prefetchStage[T]) OnSubscribe(s Subscription) {
	st.mu.Lock()
	st.up = s
	st.mu.Unlock()
	st.out.down.OnSubscribe(st.out)
	s.Request(st.prefetch)
}

func (st *prefetchStage[T]) OnNext(v T)        { st.out.emitAck(v, st.ack) }
func (st *prefetchStage[T]) OnError(err error) { st.out.fail(err) }
func (st *prefetchStage[T]) OnComplete()       { st.out.complete() }

func (st *prefetchStage[T]) ack() {
	st.mu.Lock()
	st.consumed++
	if st.consumed < st.limit {
		st.mu.Unlock()
		return
	}
	n := st.consumed
	st.consumed = 0
	up := st.up
	st.mu.Unlock()
	up.Request(n)
}

// OnBackpressureBuffer requests everything from upstream and holds up to
// capacity values the downstream has not asked for yet. Past that the
// overflow strategy applies.
func (s *Stream[T]) OnBackpressureBuffer(capacity int, overflow Overflow) *Stream[T] {
	if capacity < 0 {
		panic("rx: OnBackpressureBuffer requires non-negative capacity")
	}
	return s.unboundedUpstream(func(e *emitter[T]) {
		e.capacity = capacity
		e.overflow = overflow
	})
}

// OnBackpressureDrop requests everything from upstream and drops the
// values that arrive without downstream demand, passing them to onDrop
// when it is not nil.
func (s *Stream[T]) OnBackpressureDrop(onDrop func(T)) *Stream[T] {
	return s.unboundedUpstream(func(e *emitter[T]) {
		e.capacity = 0
		e.overflow = OverflowDropLatest
		e.onDrop = onDrop
	})
}

func (s *Stream[T]) unboundedUpstream(configure func(e *emitter[T])) *Stream[T] {
	return newStream(func(ctx context.Context, down Subscriber[T]) {
		st := &bufferedStage[T]{}
		st.out = newEmitter(down)
		st.out.onCancel = st.cancel
		configure(st.out)
		s.subscribe(ctx, st)
	})
}

type bufferedStage[T any] struct {
	out *emitter[T]

	mu sync.Mutex
	up Subscription
}

func (st *bufferedStage[T]) OnSubscribe(s Subscription) {
	st.mu.Lock()
	st.up = s
	st.mu.Unlock()
	st.out.down.OnSubscribe(st.out)
	s.Request(Unbounded)
}

func (st *bufferedStage[T]) OnNext(v T)        { st.out.emit(v) }
func (st *bufferedStage[T]) OnError(err error) { st.out.fail(err) }
func (st *bufferedStage[T]) OnComplete()       { st.out.complete() }

func (st *bufferedStage[T]) cancel() {
	st.mu.Lock()
	up := st.up
	st.mu.Unlock()
	if up != nil {
		up.Cancel()
	}
}

// Timeout fails the stream with [ErrTimeout] when d passes without a
// signal, counted from subscription and from every value. The timers run
// on a worker of sched, the shared parallel scheduler when nil.
func (s *Stream[T]) Timeout(d time.Duration, sched scheduler.Scheduler) *Stream[T] {
	if d <= 0 {
		panic("rx: Timeout requires d > 0")
	}
	return newStream(func(ctx context.Context, down Subscriber[T]) {
		st := &timeoutStage[T]{d: d, w: workerOf(sched)}
		st.out = newEmitter(down)
		st.out.onRequest = st.request
		st.out.onCancel = st.cancel
		st.out.onDone = st.stop
		s.subscribe(ctx, st)
	})
}

type timeoutStage[T any] struct {
	d   time.Duration
	w   scheduler.Worker
	out *emitter[T]

	mu     sync.Mutex
	up     Subscription
	gen    uint64
	timer  scheduler.Handle
	closed bool
}

func (st *timeoutStage[T]) OnSubscribe(s Subscription) {
	st.mu.Lock()
	st.up = s
	st.mu.Unlock()
	st.out.down.OnSubscribe(st.out)
	st.arm()
}

func (st *timeoutStage[T]) OnNext(v T) {
	st.disarm()
	if st.out.emit(v) {
		st.arm()
	}
}

func (st *timeoutStage[T]) OnError(err error) {
	st.stop()
	st.out.fail(err)
}

func (st *timeoutStage[T]) OnComplete() {
	st.stop()
	st.out.complete()
}

// arm starts a timer for a new generation. Timers of older generations
// fire into nothing.
func (st *timeoutStage[T]) arm() {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.gen++
	gen := st.gen
	st.mu.Unlock()

	h, err := st.w.ScheduleAfter(st.d, func(err error) { st.fire(gen, err) })
	if err != nil {
		if !errors.Is(err, scheduler.ErrClosed) {
			st.out.abort(err)
		}
		return
	}
	st.mu.Lock()
	if st.gen == gen && !st.closed {
		st.timer = h
		st.mu.Unlock()
		return
	}
	st.mu.Unlock()
	h.Cancel()
}

func (st *timeoutStage[T]) disarm() {
	st.mu.Lock()
	st.gen++
	h := st.timer
	st.timer = nil
	st.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
}

// fire fails the stream with ErrTimeout, or with the scheduler's error when
// the timer could not run.
func (st *timeoutStage[T]) fire(gen uint64, err error) {
	st.mu.Lock()
	if st.gen != gen || st.closed {
		st.mu.Unlock()
		return
	}
	st.mu.Unlock()
	if err == nil {
		err = ErrTimeout
	}
	st.out.abort(err)
}

// stop disarms for good and releases the worker.
func (st *timeoutStage[T]) stop() {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.closed = true
	h := st.timer
	st.timer = nil
	st.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
	st.w.Dispose()
}

func (st *timeoutStage[T]) request(n int64) {
	st.mu.Lock()
	up := st.up
	st.mu.Unlock()
	if up != nil {
		up.Request(n)
	}
}

func (st *timeoutStage[T]) cancel() {
	st.mu.Lock()
	up := st.up
	st.mu.Unlock()
	if up != nil {
		up.Cancel()
	}
	st.stop()
}

// DelayElements shifts every value by d, keeping order. Values are delayed
// one after another, so the stream emits at most one value per d.
func (s *Stream[T]) DelayElements(d time.Duration, sched scheduler.Scheduler) *Stream[T] {
	if d < 0 {
		panic("rx: DelayElements requires non-negative duration")
	}
	return ConcatMap(s, func(_ context.Context, v T) *Stream[T] {
		return delayed(v, d, sched)
	})
}

func delayed[T any](v T, d time.Duration, sched scheduler.Scheduler) *Stream[T] {
	if d <= 0 {
		return Just(v)
	}
	return ThenMany(Timer(d, sched).Stream(), Just(v))
}

// RateLimit lets at most n values through per period, with bursts of up to
// n. Values over the limit are delayed, not dropped. Every subscription
// has its own token bucket.
func (s *Stream[T]) RateLimit(n int, per time.Duration) *Stream[T] {
	if n <= 0 || per <= 0 {
		panic("rx: RateLimit requires n > 0 and per > 0")
	}
	return Defer(func() *Stream[T] {
		limiter := rate.NewLimiter(rate.Every(per/time.Duration(n)), n)
		return ConcatMap(s, func(_ context.Context, v T) *Stream[T] {
			return delayed(v, limiter.Reserve().Delay(), nil)
		})
	})
}

// BufferTimeout collects values into slices of at most n, emitting a slice
// when it is full or d after its first value arrived, whichever comes
// first. Upstream is consumed without backpressure; at most
// [DefaultBufferSize] slices wait for demand before the stream fails with
// an *OverflowError.
func BufferTimeout[T any](src *Stream[T], n int, d time.Duration, sched scheduler.Scheduler) *Stream[[]T] {
	if n <= 0 {
		panic("rx: BufferTimeout requires n > 0")
	}
	if d <= 0 {
		panic("rx: BufferTimeout requires d > 0")
	}
	return newStream(func(ctx context.Context, down Subscriber[[]T]) {
		st := &bufferTimeoutStage[T]{size: n, d: d, w: workerOf(sched)}
		st.out = newEmitter(down)
		st.out.capacity = DefaultBufferSize
		st.out.overflow = OverflowFail
		st.out.onCancel = st.cancel
		st.out.onDone = st.w.Dispose
		src.subscribe(ctx, st)
	})
}

type bufferTimeoutStage[T any] struct {
	size int
	d    time.Duration
	w    scheduler.Worker
	out  *emitter[[]T]

	mu    sync.Mutex
	up    Subscription
	buf   []T
	gen   uint64
	timer scheduler.Handle
}

func (st *bufferTimeoutStage[T]) OnSubscribe(s Subscription) {
	st.mu.Lock()
	st.up = s
	st.mu.Unlock()
	st.out.down.OnSubscribe(st.out)
	s.Request(Unbounded)
}

func (st *bufferTimeoutStage[T]) OnNext(v T) {
	st.mu.Lock()
	st.buf = append(st.buf, v)
	var rejected error
	if len(st.buf) == 1 {
		gen := st.gen
		h, err := st.w.ScheduleAfter(st.d, func(err error) { st.flush(gen, err) })
		switch {
		case err == nil:
			st.timer = h
		case !errors.Is(err, scheduler.ErrClosed):
			rejected = err
		}
	}
	var timer scheduler.Handle
	if len(st.buf) >= st.size {
		timer = st.emitLocked()
	}
	st.mu.Unlock()

	if timer != nil {
		timer.Cancel()
	}
	if rejected != nil {
		st.out.abort(rejected)
		return
	}
	st.out.drain()
}

// emitLocked hands the current slice to the output and starts a new one.
// It returns the timer of the handed slice. Called with mu held.
func (st *bufferTimeoutStage[T]) emitLocked() scheduler.Handle {
	out := st.buf
	st.buf = nil
	st.gen++
	h := st.timer
	st.timer = nil
	if len(out) > 0 {
		st.out.offer(out, nil)
	}
	return h
}

// flush emits the slice of generation gen, or fails the stream with err
// when its timer could not run.
func (st *bufferTimeoutStage[T]) flush(gen uint64, err error) {
	st.mu.Lock()
	if st.gen != gen {
		st.mu.Unlock()
		return
	}
	if err != nil {
		st.buf = nil
		st.gen++
		st.timer = nil
		st.mu.Unlock()
		st.out.abort(err)
		return
	}
	st.emitLocked()
	st.mu.Unlock()
	st.out.drain()
}

func (st *bufferTimeoutStage[T]) OnError(err error) {
	st.mu.Lock()
	st.buf = nil
	st.gen++
	h := st.timer
	st.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
	st.out.fail(err)
}

func (st *bufferTimeoutStage[T]) OnComplete() {
	st.mu.Lock()
	h := st.emitLocked()
	st.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
	st.out.complete()
}

func (st *bufferTimeoutStage[T]) cancel() {
	st.mu.Lock()
	up := st.up
	st.gen++
	st.mu.Unlock()
	if up != nil {
		up.Cancel()
	}
	st.w.Dispose()
}
