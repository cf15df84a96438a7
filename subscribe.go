package rx

import (
	"context"
	"sync"
	"sync/atomic"
)

// Disposable is the handle of a running subscription or connection.
type Disposable interface {
	// Dispose cancels the subscription. It is idempotent.
	Dispose()
	IsDisposed() bool
	// Done is closed once the subscription terminated or was disposed.
	Done() <-chan struct{}
}

// SubscribeOption configures [Stream.Subscribe].
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	onError    func(error)
	onComplete func()
	batch      int64
}

// WithOnError handles the terminal error. Without it the error goes to the
// handler installed with [SetErrorHandler].
func WithOnError(fn func(error)) SubscribeOption {
	return func(c *subscribeConfig) {
		c.onError = fn
	}
}

// WithOnComplete is called when the sequence completes.
func WithOnComplete(fn func()) SubscribeOption {
	return func(c *subscribeConfig) {
		c.onComplete = fn
	}
}

// WithBatchRequest requests n values at a time instead of everything at
// once, asking for the next n after n were consumed.
// Panics if n <= 0.
func WithBatchRequest(n int64) SubscribeOption {
	if n <= 0 {
		panic("rx: WithBatchRequest requires n > 0")
	}
	return func(c *subscribeConfig) {
		c.batch = n
	}
}

// Subscribe starts the sequence and calls onNext for every value. onNext
// may be nil. Cancelling ctx disposes the subscription.
func (s *Stream[T]) Subscribe(ctx context.Context, onNext func(T), opts ...SubscribeOption) Disposable {
	var cfg subscribeConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	l := &lambdaSubscriber[T]{
		onNext: onNext,
		cfg:    cfg,
		done:   make(chan struct{}),
	}
	l.stop = context.AfterFunc(ctx, l.Dispose)
	s.subscribe(ctx, l)
	return l
}

type lambdaSubscriber[T any] struct {
	onNext func(T)
	cfg    subscribeConfig
	stop   func() bool

	mu       sync.Mutex
	sub      Subscription
	received int64

	disposed atomic.Bool
	finished atomic.Bool
	done     chan struct{}
}

func (l *lambdaSubscriber[T]) OnSubscribe(s Subscription) {
	l.mu.Lock()
	if l.sub != nil {
		l.mu.Unlock()
		s.Cancel()
		return
	}
	l.sub = s
	l.mu.Unlock()

	if l.disposed.Load() {
		s.Cancel()
		return
	}
	if l.cfg.batch > 0 {
		s.Request(l.cfg.batch)
	} else {
		s.Request(Unbounded)
	}
}

func (l *lambdaSubscriber[T]) OnNext(v T) {
	if l.finished.Load() || l.disposed.Load() {
		return
	}
	if l.onNext != nil {
		if err := guard("subscribe", func() { l.onNext(v) }); err != nil {
			l.cancelUpstream()
			l.OnError(err)
			return
		}
	}
	if l.cfg.batch > 0 {
		l.received++
		if l.received == l.cfg.batch {
			l.received = 0
			l.upstream().Request(l.cfg.batch)
		}
	}
}

func (l *lambdaSubscriber[T]) OnError(err error) {
	if !l.finish() {
		onErrorDropped(err)
		return
	}
	if l.cfg.onError == nil {
		onErrorDropped(err)
		return
	}
	if perr := guard("subscribe", func() { l.cfg.onError(err) }); perr != nil {
		onErrorDropped(perr)
	}
}

func (l *lambdaSubscriber[T]) OnComplete() {
	if !l.finish() || l.cfg.onComplete == nil {
		return
	}
	if err := guard("subscribe", l.cfg.onComplete); err != nil {
		onErrorDropped(err)
	}
}

func (l *lambdaSubscriber[T]) finish() bool {
	if !l.finished.CompareAndSwap(false, true) {
		return false
	}
	if l.stop != nil {
		l.stop()
	}
	close(l.done)
	return true
}

func (l *lambdaSubscriber[T]) upstream() Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sub == nil {
		return emptySubscription{}
	}
	return l.sub
}

func (l *lambdaSubscriber[T]) cancelUpstream() {
	l.upstream().Cancel()
}

func (l *lambdaSubscriber[T]) Dispose() {
	if !l.disposed.CompareAndSwap(false, true) {
		return
	}
	l.cancelUpstream()
	if l.finished.CompareAndSwap(false, true) {
		if l.stop != nil {
			l.stop()
		}
		close(l.done)
	}
}

func (l *lambdaSubscriber[T]) IsDisposed() bool {
	return l.disposed.Load() || l.finished.Load()
}

func (l *lambdaSubscriber[T]) Done() <-chan struct{} {
	return l.done
}
