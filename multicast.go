package rx

import (
	"context"
	"sync"
)

// replayAll is the history size of a connection that replays every value.
const replayAll = -1

// ConnectableStream is a hot stream: its subscribers share one subscription
// to the source, which starts only when Connect is called.
//
// Each subscriber has its own queue of [DefaultBufferSize] values beyond
// its demand, plus room for the replayed history. A subscriber that falls
// further behind fails alone with an *OverflowError.
type ConnectableStream[T any] struct {
	*Stream[T]

	src     *Stream[T]
	history int

	mu   sync.Mutex
	conn *connection[T]
}

// Publish turns the stream into a ConnectableStream without history:
// subscribers receive only values emitted after they joined.
func (s *Stream[T]) Publish() *ConnectableStream[T] {
	return newConnectable(s, 0)
}

// Replay turns the stream into a ConnectableStream that replays the last n
// values to every subscriber on join, then continues live.
func (s *Stream[T]) Replay(n int) *ConnectableStream[T] {
	if n <= 0 {
		panic("rx: Replay requires n > 0")
	}
	return newConnectable(s, n)
}

// ReplayAll is Replay without a limit.
func (s *Stream[T]) ReplayAll() *ConnectableStream[T] {
	return newConnectable(s, replayAll)
}

func newConnectable[T any](src *Stream[T], history int) *ConnectableStream[T] {
	c := &ConnectableStream[T]{src: src, history: history}
	c.Stream = newStream(c.join)
	return c
}

// current returns the connection new subscribers join. A terminated
// connection without history is replaced, so the next Connect runs the
// source again. Called with mu held.
func (c *ConnectableStream[T]) current() *connection[T] {
	if c.conn == nil || (c.history == 0 && c.conn.isTerminated()) {
		c.conn = &connection[T]{
			limit: c.history,
			subs:  make(map[*emitter[T]]struct{}),
			done:  make(chan struct{}),
		}
	}
	return c.conn
}

func (c *ConnectableStream[T]) join(_ context.Context, down Subscriber[T]) {
	c.mu.Lock()
	conn := c.current()
	c.mu.Unlock()
	conn.join(down)
}

// claim marks the current connection as connected and returns it, or nil
// when it already was.
func (c *ConnectableStream[T]) claim() *connection[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn := c.current()
	if conn.connected {
		return nil
	}
	conn.connected = true
	return conn
}

// Connect subscribes to the source on behalf of every current and future
// subscriber. Calling it while connected returns the running connection.
// Cancelling ctx disposes the connection.
func (c *ConnectableStream[T]) Connect(ctx context.Context) Disposable {
	if ctx == nil {
		ctx = context.Background()
	}
	conn := c.claim()
	if conn == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.conn
	}
	conn.start(ctx, c.src)
	return conn
}

// AutoConnect returns a stream that connects once the n-th subscriber
// joined. With n <= 0 it connects immediately. It never disconnects.
func (c *ConnectableStream[T]) AutoConnect(n int) *Stream[T] {
	if n <= 0 {
		c.Connect(context.Background())
		return c.Stream
	}
	var (
		mu    sync.Mutex
		count int
	)
	return newStream(func(ctx context.Context, down Subscriber[T]) {
		c.join(ctx, down)

		mu.Lock()
		count++
		connect := count == n
		mu.Unlock()
		if connect {
			c.Connect(context.WithoutCancel(ctx))
		}
	})
}

// RefCount returns a stream that connects when n subscribers joined and
// disconnects when all of them left. A later wave of subscribers connects
// again, running the source from the start.
func (c *ConnectableStream[T]) RefCount(n int) *Stream[T] {
	if n <= 0 {
		panic("rx: RefCount requires n > 0")
	}
	r := &refCounter[T]{src: c, min: n}
	return newStream(r.subscribe)
}

// Share multicasts the stream to all concurrent subscribers. The first
// subscriber starts the source; when the last one leaves, or the source
// terminates, the next subscriber starts it again. Late subscribers miss
// values emitted before they joined.
func (s *Stream[T]) Share() *Stream[T] {
	return s.Publish().RefCount(1)
}

// Cache runs the source once, on first subscription, and replays every
// value and the terminal signal to every subscriber, including those
// arriving after termination.
func (s *Stream[T]) Cache() *Stream[T] {
	return s.ReplayAll().AutoConnect(1)
}

// CacheLast is Cache keeping only the last n values.
func (s *Stream[T]) CacheLast(n int) *Stream[T] {
	return s.Replay(n).AutoConnect(1)
}

type refCounter[T any] struct {
	src *ConnectableStream[T]
	min int

	mu    sync.Mutex
	count int
	conn  *connection[T]
}

func (r *refCounter[T]) subscribe(ctx context.Context, down Subscriber[T]) {
	r.mu.Lock()
	r.count++
	var start *connection[T]
	if r.count >= r.min && (r.conn == nil || r.conn.isTerminated()) {
		start = r.src.claim()
		if start != nil {
			r.conn = start
		}
	}
	r.mu.Unlock()

	var once sync.Once
	release := func(Kind) { once.Do(r.release) }
	r.src.Stream.peek(peekHooks[T]{onFinally: release}).subscribe(ctx, down)

	if start != nil {
		start.start(context.WithoutCancel(ctx), r.src.src)
	}
}

func (r *refCounter[T]) release() {
	r.mu.Lock()
	r.count--
	var stop *connection[T]
	if r.count == 0 && r.conn != nil {
		stop = r.conn
		r.conn = nil
	}
	r.mu.Unlock()

	if stop != nil {
		stop.Dispose()
	}
}

// connection is one run of the source shared by a set of subscribers.
type connection[T any] struct {
	limit int

	mu         sync.Mutex
	up         Subscription
	subs       map[*emitter[T]]struct{}
	history    []T
	connected  bool
	terminated bool
	err        error
	disposed   bool
	done       chan struct{}
	stopCtx    func() bool
}

func (c *connection[T]) start(ctx context.Context, src *Stream[T]) {
	stop := context.AfterFunc(ctx, c.Dispose)
	c.mu.Lock()
	c.stopCtx = stop
	c.mu.Unlock()
	src.subscribe(ctx, c)
}

// join registers down and replays the history to it. Registration and
// replay happen under one lock, so no live value falls between them.
func (c *connection[T]) join(down Subscriber[T]) {
	e := newEmitter(down)
	e.overflow = OverflowFail
	e.onCancel = func() { c.leave(e) }
	down.OnSubscribe(e)

	c.mu.Lock()
	e.capacity = DefaultBufferSize + len(c.history)
	for _, v := range c.history {
		e.offer(v, nil)
	}
	if c.terminated {
		e.finish(c.err)
	} else {
		c.subs[e] = struct{}{}
	}
	c.mu.Unlock()

	e.drain()
}

func (c *connection[T]) leave(e *emitter[T]) {
	c.mu.Lock()
	delete(c.subs, e)
	c.mu.Unlock()
}

func (c *connection[T]) OnSubscribe(s Subscription) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		s.Cancel()
		return
	}
	c.up = s
	c.mu.Unlock()
	s.Request(Unbounded)
}

func (c *connection[T]) OnNext(v T) {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return
	}
	switch {
	case c.limit == replayAll:
		c.history = append(c.history, v)
	case c.limit > 0:
		if len(c.history) == c.limit {
			var zero T
			c.history[0] = zero
			c.history = c.history[1:]
		}
		c.history = append(c.history, v)
	}
	subs := c.snapshot()
	for _, e := range subs {
		e.offer(v, nil)
	}
	c.mu.Unlock()

	for _, e := range subs {
		e.drain()
	}
}

func (c *connection[T]) OnError(err error) { c.terminate(err) }
func (c *connection[T]) OnComplete()       { c.terminate(nil) }

func (c *connection[T]) terminate(err error) {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		if err != nil {
			onErrorDropped(err)
		}
		return
	}
	c.terminated = true
	c.err = err
	subs := c.snapshot()
	c.subs = make(map[*emitter[T]]struct{})
	for _, e := range subs {
		e.finish(err)
	}
	stop := c.stopCtx
	c.mu.Unlock()

	close(c.done)
	if stop != nil {
		stop()
	}
	for _, e := range subs {
		e.drain()
	}
}

// snapshot returns the registered subscribers. Called with mu held.
func (c *connection[T]) snapshot() []*emitter[T] {
	subs := make([]*emitter[T], 0, len(c.subs))
	for e := range c.subs {
		subs = append(subs, e)
	}
	return subs
}

func (c *connection[T]) isTerminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminated
}

// Dispose cancels the source. Subscribers still registered fail with
// context.Canceled.
func (c *connection[T]) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	up := c.up
	terminated := c.terminated
	c.mu.Unlock()

	if terminated {
		return
	}

	if up != nil {
		up.Cancel()
	}
	c.terminate(context.Canceled)
}

func (c *connection[T]) IsDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed || c.terminated
}

func (c *connection[T]) Done() <-chan struct{} {
	return c.done
}
