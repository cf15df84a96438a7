package rx

import (
	"context"
	"sync"
)

// Pair holds two values paired from two streams.
// It is used by [Zip].
type Pair[A, B any] struct {
	First  A
	Second B
}

// Merge subscribes to every source at once and interleaves their values as
// they arrive. Order is preserved within each source only.
func Merge[T any](sources ...*Stream[T]) *Stream[T] {
	if len(sources) == 0 {
		return Empty[T]()
	}
	return FlatMap(FromSlice(sources), identityStream[T], len(sources))
}

// Concat emits every source in turn, subscribing to the next one only when
// the previous completed.
func Concat[T any](sources ...*Stream[T]) *Stream[T] {
	if len(sources) == 0 {
		return Empty[T]()
	}
	return ConcatMap(FromSlice(sources), identityStream[T])
}

func identityStream[T any](_ context.Context, s *Stream[T]) *Stream[T] { return s }

func toAny[T any](s *Stream[T]) *Stream[any] {
	return Map(s, func(_ context.Context, v T) (any, error) { return v, nil })
}

// Zip pairs the values of a and b by index. It completes as soon as either
// source completed and every value of it was paired; the other source is
// cancelled.
func Zip[A, B any](a *Stream[A], b *Stream[B]) *Stream[Pair[A, B]] {
	if a == nil || b == nil {
		panic("rx: Zip requires non-nil streams")
	}
	return Map(ZipAll(toAny(a), toAny(b)), func(_ context.Context, vs []any) (Pair[A, B], error) {
		return Pair[A, B]{First: vs[0].(A), Second: vs[1].(B)}, nil
	})
}

// ZipWith combines the values of a and b by index with fn.
func ZipWith[A, B, R any](a *Stream[A], b *Stream[B], fn func(A, B) R) *Stream[R] {
	if fn == nil {
		panic("rx: ZipWith requires non-nil function")
	}
	return Map(Zip(a, b), func(_ context.Context, p Pair[A, B]) (R, error) {
		return fn(p.First, p.Second), nil
	})
}

// ZipAll emits one slice per index holding the i-th value of every source.
// The shortest source decides the length; the first error fails the
// result and cancels every source.
func ZipAll[T any](sources ...*Stream[T]) *Stream[[]T] {
	if len(sources) == 0 {
		return Empty[[]T]()
	}
	return newStream(func(ctx context.Context, down Subscriber[[]T]) {
		z := &zipper[T]{
			limit: replenishAt(DefaultPrefetch),
			lanes: make([]*zipLane[T], len(sources)),
		}
		z.out = newEmitter(down)
		z.out.onCancel = z.cancelAll
		for i := range sources {
			z.lanes[i] = &zipLane[T]{z: z}
		}
		down.OnSubscribe(z.out)

		for i, src := range sources {
			if z.isDone() {
				return
			}
			src.subscribe(ctx, z.lanes[i])
		}
	})
}

type zipper[T any] struct {
	out   *emitter[[]T]
	limit int64

	mu       sync.Mutex
	lanes    []*zipLane[T]
	consumed int64
	done     bool
}

type zipLane[T any] struct {
	z     *zipper[T]
	sub   Subscription
	queue []T
	ended bool
}

func (l *zipLane[T]) OnSubscribe(s Subscription) {
	l.z.mu.Lock()
	if l.z.done {
		l.z.mu.Unlock()
		s.Cancel()
		return
	}
	l.sub = s
	l.z.mu.Unlock()
	s.Request(DefaultPrefetch)
}

func (l *zipLane[T]) OnNext(v T) {
	z := l.z
	z.mu.Lock()
	if z.done {
		z.mu.Unlock()
		return
	}
	l.queue = append(l.queue, v)
	z.collect()
	finished := z.exhausted()
	if finished {
		z.done = true
	}
	z.mu.Unlock()
	z.flush(finished)
}

func (l *zipLane[T]) OnError(err error) {
	z := l.z
	z.mu.Lock()
	if z.done {
		z.mu.Unlock()
		onErrorDropped(err)
		return
	}
	z.done = true
	z.mu.Unlock()
	z.out.abort(err)
}

func (l *zipLane[T]) OnComplete() {
	z := l.z
	z.mu.Lock()
	if z.done {
		z.mu.Unlock()
		return
	}
	l.ended = true
	finished := z.exhausted()
	if finished {
		z.done = true
	}
	z.mu.Unlock()
	z.flush(finished)
}

// collect moves complete tuples to the output. Called with mu held.
func (z *zipper[T]) collect() {
	for {
		for _, l := range z.lanes {
			if len(l.queue) == 0 {
				return
			}
		}
		tuple := make([]T, len(z.lanes))
		for i, l := range z.lanes {
			tuple[i] = l.queue[0]
			var zero T
			l.queue[0] = zero
			l.queue = l.queue[1:]
		}
		z.out.offer(tuple, z.ack)
	}
}

// exhausted reports whether an ended lane has nothing left to pair. Called
// with mu held.
func (z *zipper[T]) exhausted() bool {
	for _, l := range z.lanes {
		if l.ended && len(l.queue) == 0 {
			return true
		}
	}
	return false
}

func (z *zipper[T]) flush(finished bool) {
	if !finished {
		z.out.drain()
		return
	}
	z.cancelLanes()
	z.out.complete()
}

// ack replenishes every source once enough tuples were consumed. Acks run
// one at a time on the output's drain loop.
func (z *zipper[T]) ack() {
	z.mu.Lock()
	z.consumed++
	if z.consumed < z.limit || z.done {
		z.mu.Unlock()
		return
	}
	n := z.consumed
	z.consumed = 0
	subs := z.subs()
	z.mu.Unlock()

	for _, s := range subs {
		s.Request(n)
	}
}

func (z *zipper[T]) isDone() bool {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.done
}

func (z *zipper[T]) subs() []Subscription {
	subs := make([]Subscription, 0, len(z.lanes))
	for _, l := range z.lanes {
		if l.sub != nil {
			subs = append(subs, l.sub)
		}
	}
	return subs
}

func (z *zipper[T]) cancelLanes() {
	z.mu.Lock()
	subs := z.subs()
	z.mu.Unlock()
	for _, s := range subs {
		s.Cancel()
	}
}

func (z *zipper[T]) cancelAll() {
	z.mu.Lock()
	z.done = true
	z.mu.Unlock()
	z.cancelLanes()
}

// CombineLatest emits fn applied to the latest values of a and b whenever
// either emits, once both have emitted.
func CombineLatest[A, B, R any](a *Stream[A], b *Stream[B], fn func(A, B) R) *Stream[R] {
	if a == nil || b == nil {
		panic("rx: CombineLatest requires non-nil streams")
	}
	if fn == nil {
		panic("rx: CombineLatest requires non-nil function")
	}
	return CombineLatestAll(func(vs []any) R {
		return fn(vs[0].(A), vs[1].(B))
	}, toAny(a), toAny(b))
}

// CombineLatestAll emits fn applied to the latest value of every source
// whenever one of them emits, once each has emitted at least once. fn
// receives a fresh slice every time.
//
// It completes when every source completed. A source completing without a
// value completes the result at once, since no combination can exist.
func CombineLatestAll[T, R any](fn func([]T) R, sources ...*Stream[T]) *Stream[R] {
	if fn == nil {
		panic("rx: CombineLatestAll requires non-nil function")
	}
	if len(sources) == 0 {
		return Empty[R]()
	}
	return newStream(func(ctx context.Context, down Subscriber[R]) {
		c := &combiner[T, R]{
			fn:     fn,
			latest: make([]T, len(sources)),
			has:    make([]bool, len(sources)),
			lanes:  make([]*combineLane[T, R], len(sources)),
		}
		c.out = newEmitter(down)
		c.out.onCancel = c.cancelAll
		for i := range sources {
			c.lanes[i] = &combineLane[T, R]{c: c, idx: i, limit: replenishAt(DefaultPrefetch)}
		}
		down.OnSubscribe(c.out)

		for i, src := range sources {
			if c.isDone() {
				return
			}
			src.subscribe(ctx, c.lanes[i])
		}
	})
}

type combiner[T, R any] struct {
	fn  func([]T) R
	out *emitter[R]

	mu        sync.Mutex
	lanes     []*combineLane[T, R]
	latest    []T
	has       []bool
	seen      int
	completed int
	done      bool
}

type combineLane[T, R any] struct {
	c     *combiner[T, R]
	idx   int
	limit int64

	sub      Subscription
	consumed int64
}

func (l *combineLane[T, R]) OnSubscribe(s Subscription) {
	l.c.mu.Lock()
	if l.c.done {
		l.c.mu.Unlock()
		s.Cancel()
		return
	}
	l.sub = s
	l.c.mu.Unlock()
	s.Request(DefaultPrefetch)
}

func (l *combineLane[T, R]) OnNext(v T) {
	c := l.c
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.latest[l.idx] = v
	if !c.has[l.idx] {
		c.has[l.idx] = true
		c.seen++
	}
	if c.seen < len(c.lanes) {
		c.mu.Unlock()
		l.ack()
		return
	}
	snapshot := make([]T, len(c.latest))
	copy(snapshot, c.latest)
	// Combining under mu keeps the output in the order values arrived.
	out, err := call("combineLatest", func() (R, error) { return c.fn(snapshot), nil })
	if err == nil {
		c.out.offer(out, l.ack)
	}
	c.mu.Unlock()

	if err != nil {
		c.fail(err)
		return
	}
	c.out.drain()
}

// ack accounts for one consumed value of this lane.
func (l *combineLane[T, R]) ack() {
	l.c.mu.Lock()
	l.consumed++
	if l.consumed < l.limit || l.sub == nil {
		l.c.mu.Unlock()
		return
	}
	n := l.consumed
	l.consumed = 0
	s := l.sub
	l.c.mu.Unlock()
	s.Request(n)
}

func (l *combineLane[T, R]) OnError(err error) {
	l.c.fail(err)
}

func (l *combineLane[T, R]) OnComplete() {
	c := l.c
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.completed++
	finished := !c.has[l.idx] || c.completed == len(c.lanes)
	if finished {
		c.done = true
	}
	c.mu.Unlock()

	if finished {
		c.cancelLanes()
		c.out.complete()
	}
}

func (c *combiner[T, R]) fail(err error) {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		onErrorDropped(err)
		return
	}
	c.done = true
	c.mu.Unlock()
	c.out.abort(err)
}

func (c *combiner[T, R]) isDone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *combiner[T, R]) cancelLanes() {
	c.mu.Lock()
	subs := make([]Subscription, 0, len(c.lanes))
	for _, l := range c.lanes {
		if l.sub != nil {
			subs = append(subs, l.sub)
		}
	}
	c.mu.Unlock()
	for _, s := range subs {
		s.Cancel()
	}
}

func (c *combiner[T, R]) cancelAll() {
	c.mu.Lock()
	c.done = true
	c.mu.Unlock()
	c.cancelLanes()
}

// FirstWithValue subscribes to every source and mirrors the first one to
// emit a value, cancelling the others. When every source terminates
// without a value, the result fails with the last error seen, or completes
// if none failed.
func FirstWithValue[T any](sources ...*Stream[T]) *Stream[T] {
	switch len(sources) {
	case 0:
		return Empty[T]()
	case 1:
		return sources[0]
	}
	return newStream(func(ctx context.Context, down Subscriber[T]) {
		r := &race[T]{
			down:    down,
			winner:  -1,
			subs:    make([]Subscription, len(sources)),
			pending: len(sources),
		}
		down.OnSubscribe(r)
		for i, src := range sources {
			if r.isSettled() {
				return
			}
			src.subscribe(ctx, &racer[T]{r: r, idx: i})
		}
	})
}

type race[T any] struct {
	down Subscriber[T]

	mu        sync.Mutex
	subs      []Subscription
	requested int64
	winner    int
	pending   int
	lastErr   error
	cancelled bool
	finished  bool
}

func (r *race[T]) Request(n int64) {
	r.mu.Lock()
	if r.winner >= 0 {
		s := r.subs[r.winner]
		r.mu.Unlock()
		s.Request(n)
		return
	}
	if n > 0 {
		r.requested = addCap(r.requested, n)
	}
	subs := append([]Subscription(nil), r.subs...)
	r.mu.Unlock()

	for _, s := range subs {
		if s != nil {
			s.Request(n)
		}
	}
}

func (r *race[T]) Cancel() {
	r.mu.Lock()
	if r.cancelled {
		r.mu.Unlock()
		return
	}
	r.cancelled = true
	subs := append([]Subscription(nil), r.subs...)
	r.mu.Unlock()

	for _, s := range subs {
		if s != nil {
			s.Cancel()
		}
	}
}

func (r *race[T]) isSettled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled || r.winner >= 0 || r.finished
}

type racer[T any] struct {
	r   *race[T]
	idx int
	won bool
}

func (x *racer[T]) OnSubscribe(s Subscription) {
	r := x.r
	r.mu.Lock()
	if r.cancelled || (r.winner >= 0 && r.winner != x.idx) {
		r.mu.Unlock()
		s.Cancel()
		return
	}
	r.subs[x.idx] = s
	n := r.requested
	r.mu.Unlock()

	if n > 0 {
		s.Request(n)
	}
}

func (x *racer[T]) OnNext(v T) {
	if !x.won && !x.claim() {
		return
	}
	x.r.down.OnNext(v)
}

// claim makes this racer the winner and cancels the others.
func (x *racer[T]) claim() bool {
	r := x.r
	r.mu.Lock()
	if r.winner >= 0 || r.cancelled || r.finished {
		r.mu.Unlock()
		return false
	}
	r.winner = x.idx
	var losers []Subscription
	for i, s := range r.subs {
		if i != x.idx && s != nil {
			losers = append(losers, s)
		}
	}
	r.mu.Unlock()

	x.won = true
	for _, s := range losers {
		s.Cancel()
	}
	return true
}

func (x *racer[T]) OnError(err error) {
	if x.won {
		x.r.down.OnError(err)
		return
	}
	x.lose(err)
}

func (x *racer[T]) OnComplete() {
	if x.won {
		x.r.down.OnComplete()
		return
	}
	x.lose(nil)
}

// lose records a source that ended without a value. The last one to do so
// terminates the result.
func (x *racer[T]) lose(err error) {
	r := x.r
	r.mu.Lock()
	if r.winner >= 0 || r.finished {
		r.mu.Unlock()
		return
	}
	if err != nil {
		r.lastErr = err
	}
	r.pending--
	if r.pending > 0 {
		r.mu.Unlock()
		return
	}
	r.finished = true
	err = r.lastErr
	r.mu.Unlock()

	if err != nil {
		r.down.OnError(err)
		return
	}
	r.down.OnComplete()
}
