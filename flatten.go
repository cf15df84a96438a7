package rx

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultPrefetch is how many values FlatMap, Zip, CombineLatest and
// PublishOn request ahead from each upstream.
const DefaultPrefetch = 32

// replenishAt returns how many consumed values trigger a new request.
func replenishAt(prefetch int64) int64 {
	if prefetch == Unbounded {
		return Unbounded
	}
	if n := prefetch - prefetch/4; n > 0 {
		return n
	}
	return 1
}

// innerParent receives the signals of the inner streams of a flattening
// stage.
type innerParent[R any] interface {
	innerNext(in *inner[R], v R)
	innerError(in *inner[R], err error)
	innerComplete(in *inner[R])
}

// inner subscribes to one inner stream with a fixed prefetch and
// replenishes it as the merged output consumes its values.
type inner[R any] struct {
	parent innerParent[R]
	limit  int64

	mu        sync.Mutex
	sub       Subscription
	cancelled bool
	consumed  atomic.Int64

	// queue and done are owned by the parent's lock when the parent keeps
	// per-inner queues.
	queue []R
	done  bool
}

func newInner[R any](parent innerParent[R]) *inner[R] {
	return &inner[R]{parent: parent, limit: replenishAt(DefaultPrefetch)}
}

func (in *inner[R]) OnSubscribe(s Subscription) {
	in.mu.Lock()
	if in.cancelled {
		in.mu.Unlock()
		s.Cancel()
		return
	}
	in.sub = s
	in.mu.Unlock()
	s.Request(DefaultPrefetch)
}

func (in *inner[R]) OnNext(v R)        { in.parent.innerNext(in, v) }
func (in *inner[R]) OnError(err error) { in.parent.innerError(in, err) }
func (in *inner[R]) OnComplete()       { in.parent.innerComplete(in) }

// ack runs after one of this inner's values reached the downstream.
func (in *inner[R]) ack() {
	if in.consumed.Add(1) < in.limit {
		return
	}
	in.consumed.Store(0)

	in.mu.Lock()
	s := in.sub
	in.mu.Unlock()
	if s != nil {
		s.Request(in.limit)
	}
}

func (in *inner[R]) cancel() {
	in.mu.Lock()
	in.cancelled = true
	s := in.sub
	in.mu.Unlock()
	if s != nil {
		s.Cancel()
	}
}

// FlatMap maps every value to an inner stream and merges their values as
// they arrive. At most concurrency inner streams are subscribed at once;
// each completed inner admits the next upstream value.
//
// The first error from upstream, an inner stream or fn cancels everything.
// Values that already reached the output are delivered before it.
func FlatMap[T, R any](src *Stream[T], fn func(ctx context.Context, v T) *Stream[R], concurrency int) *Stream[R] {
	if fn == nil {
		panic("rx: FlatMap requires non-nil function")
	}
	if concurrency <= 0 {
		panic("rx: FlatMap requires concurrency > 0")
	}
	return newStream(func(ctx context.Context, down Subscriber[R]) {
		m := &merger[T, R]{
			flattener: flattener[T, R]{
				op:          "flatMap",
				ctx:         ctx,
				fn:          fn,
				concurrency: int64(concurrency),
				inners:      make(map[*inner[R]]struct{}),
			},
		}
		m.out = newEmitter(down)
		m.out.onCancel = m.cancelAll
		m.self = m
		src.subscribe(ctx, m)
	})
}

// ConcatMap maps every value to an inner stream and emits the inner streams
// one after another, in upstream order.
func ConcatMap[T, R any](src *Stream[T], fn func(ctx context.Context, v T) *Stream[R]) *Stream[R] {
	return FlatMap(src, fn, 1)
}

// FlatMapSequential subscribes to up to concurrency inner streams at once,
// like FlatMap, but emits their values in upstream order. Values of later
// inner streams wait until every earlier one completed.
func FlatMapSequential[T, R any](src *Stream[T], fn func(ctx context.Context, v T) *Stream[R], concurrency int) *Stream[R] {
	if fn == nil {
		panic("rx: FlatMapSequential requires non-nil function")
	}
	if concurrency <= 0 {
		panic("rx: FlatMapSequential requires concurrency > 0")
	}
	return newStream(func(ctx context.Context, down Subscriber[R]) {
		q := &sequencer[T, R]{
			flattener: flattener[T, R]{
				op:          "flatMapSequential",
				ctx:         ctx,
				fn:          fn,
				concurrency: int64(concurrency),
				inners:      make(map[*inner[R]]struct{}),
			},
		}
		q.out = newEmitter(down)
		q.out.onCancel = q.cancelAll
		q.self = q
		src.subscribe(ctx, q)
	})
}

// flattener is the upstream side shared by merger and sequencer.
type flattener[T, R any] struct {
	op          string
	ctx         context.Context
	fn          func(context.Context, T) *Stream[R]
	concurrency int64
	out         *emitter[R]
	self        innerParent[R]

	mu           sync.Mutex
	up           Subscription
	inners       map[*inner[R]]struct{}
	upstreamDone bool
	done         bool

	// added is called under mu with every new inner.
	added func(in *inner[R])
}

func (f *flattener[T, R]) OnSubscribe(s Subscription) {
	f.mu.Lock()
	f.up = s
	f.mu.Unlock()
	f.out.down.OnSubscribe(f.out)
	s.Request(f.concurrency)
}

func (f *flattener[T, R]) OnNext(v T) {
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()
	if done {
		return
	}

	src, err := call(f.op, func() (*Stream[R], error) {
		s := f.fn(f.ctx, v)
		if s == nil {
			return nil, errNilStream
		}
		return s, nil
	})
	if err != nil {
		f.fail(err)
		return
	}

	in := newInner(f.self)
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		return
	}
	f.inners[in] = struct{}{}
	if f.added != nil {
		f.added(in)
	}
	f.mu.Unlock()

	src.subscribe(f.ctx, in)
}

func (f *flattener[T, R]) OnError(err error) {
	f.fail(err)
}

func (f *flattener[T, R]) innerError(_ *inner[R], err error) {
	f.fail(err)
}

func (f *flattener[T, R]) fail(err error) {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		onErrorDropped(err)
		return
	}
	f.done = true
	f.mu.Unlock()
	f.cancelAll()
	f.out.fail(err)
}

func (f *flattener[T, R]) cancelAll() {
	f.mu.Lock()
	f.done = true
	up := f.up
	inners := make([]*inner[R], 0, len(f.inners))
	for in := range f.inners {
		inners = append(inners, in)
	}
	f.inners = make(map[*inner[R]]struct{})
	f.mu.Unlock()

	if up != nil {
		up.Cancel()
	}
	for _, in := range inners {
		in.cancel()
	}
}

type merger[T, R any] struct {
	flattener[T, R]
}

func (m *merger[T, R]) OnComplete() {
	m.mu.Lock()
	m.upstreamDone = true
	finished := len(m.inners) == 0 && !m.done
	m.mu.Unlock()
	if finished {
		m.out.complete()
	}
}

func (m *merger[T, R]) innerNext(in *inner[R], v R) {
	m.out.emitAck(v, in.ack)
}

func (m *merger[T, R]) innerComplete(in *inner[R]) {
	m.mu.Lock()
	if _, ok := m.inners[in]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.inners, in)
	finished := m.upstreamDone && len(m.inners) == 0
	more := !m.upstreamDone
	up := m.up
	m.mu.Unlock()

	switch {
	case finished:
		m.out.complete()
	case more:
		up.Request(1)
	}
}

// sequencer keeps the inners in upstream order and moves values from the
// head inner to the output only.
type sequencer[T, R any] struct {
	flattener[T, R]
	order []*inner[R]
}

func (q *sequencer[T, R]) OnSubscribe(s Subscription) {
	q.added = func(in *inner[R]) { q.order = append(q.order, in) }
	q.flattener.OnSubscribe(s)
}

func (q *sequencer[T, R]) OnComplete() {
	q.mu.Lock()
	q.upstreamDone = true
	q.mu.Unlock()
	q.drain()
}

func (q *sequencer[T, R]) innerNext(in *inner[R], v R) {
	q.mu.Lock()
	in.queue = append(in.queue, v)
	q.mu.Unlock()
	q.drain()
}

func (q *sequencer[T, R]) innerComplete(in *inner[R]) {
	q.mu.Lock()
	in.done = true
	q.mu.Unlock()
	q.drain()
}

func (q *sequencer[T, R]) drain() {
	var more int64

	q.mu.Lock()
	if q.done {
		q.mu.Unlock()
		return
	}
	for len(q.order) > 0 {
		head := q.order[0]
		// offer never calls out of the emitter, so it is safe under mu.
		for _, v := range head.queue {
			q.out.offer(v, head.ack)
		}
		head.queue = nil
		if !head.done {
			break
		}
		q.order[0] = nil
		q.order = q.order[1:]
		delete(q.inners, head)
		if !q.upstreamDone {
			more++
		}
	}
	finished := q.upstreamDone && len(q.order) == 0
	if finished {
		q.done = true
	}
	up := q.up
	q.mu.Unlock()

	if more > 0 {
		up.Request(more)
	}
	if finished {
		q.out.complete()
		return
	}
	q.out.drain()
}
