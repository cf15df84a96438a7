package rx

import (
	"context"
	"sync"
)

// Sink is the push-style producer handle passed to the Create callback.
// All methods are safe to call from any goroutine.
type Sink[T any] interface {
	// Next offers v. It reports false when v was not accepted: the
	// subscription is cancelled or terminated, or the overflow strategy
	// dropped it.
	Next(v T) bool
	Complete()
	Error(err error)

	// Requested returns demand not yet covered by buffered values.
	Requested() int64
	IsCancelled() bool
	Context() context.Context

	// OnRequest registers fn to be called with every downstream request.
	OnRequest(fn func(n int64))
	// OnCancel registers fn to be called when the subscriber cancels or the
	// sink fails with an overflow.
	OnCancel(fn func())
}

// CreateOption configures [Create].
type CreateOption func(*createConfig)

type createConfig struct {
	bufferSize int
	overflow   Overflow
	onDrop     func(any)
}

// WithBufferSize sets how many values may wait beyond demand. Default is
// [DefaultBufferSize].
func WithBufferSize(n int) CreateOption {
	return func(c *createConfig) {
		if n < 0 {
			panic("rx: WithBufferSize requires non-negative size")
		}
		c.bufferSize = n
	}
}

// WithOverflow selects what happens when the buffer is full. Default is
// [OverflowFail].
func WithOverflow(o Overflow) CreateOption {
	return func(c *createConfig) {
		c.overflow = o
	}
}

// WithOnDrop registers fn to receive values discarded by a drop strategy.
func WithOnDrop(fn func(any)) CreateOption {
	return func(c *createConfig) {
		c.onDrop = fn
	}
}

// Create bridges push-style producers. fn runs once per subscription, after
// the subscriber was handed its Subscription, and may keep the sink to push
// from other goroutines.
//
// Values pushed beyond demand are buffered up to the configured size; past
// it the overflow strategy applies. The default fails fast with an
// *OverflowError.
func Create[T any](fn func(ctx context.Context, sink Sink[T]), opts ...CreateOption) *Stream[T] {
	if fn == nil {
		panic("rx: Create requires non-nil function")
	}
	cfg := createConfig{bufferSize: DefaultBufferSize, overflow: OverflowFail}
	for _, opt := range opts {
		opt(&cfg)
	}

	return newStream(func(ctx context.Context, down Subscriber[T]) {
		e := newEmitter(down)
		e.capacity = cfg.bufferSize
		e.overflow = cfg.overflow
		if cfg.onDrop != nil {
			e.onDrop = func(v T) { cfg.onDrop(v) }
		}

		s := &sink[T]{ctx: ctx, e: e}
		e.onRequest = s.requested
		e.onCancel = s.cancelled
		down.OnSubscribe(e)

		if err := guard("create", func() { fn(ctx, s) }); err != nil {
			e.abort(err)
		}
	})
}

type sink[T any] struct {
	ctx context.Context
	e   *emitter[T]

	mu        sync.Mutex
	onRequest func(int64)
	onCancel  []func()
}

func (s *sink[T]) Next(v T) bool   { return s.e.emit(v) }
func (s *sink[T]) Complete()       { s.e.complete() }
func (s *sink[T]) Error(err error) { s.e.fail(err) }

func (s *sink[T]) Requested() int64         { return s.e.outstanding() }
func (s *sink[T]) IsCancelled() bool        { return s.e.isCancelled() }
func (s *sink[T]) Context() context.Context { return s.ctx }

func (s *sink[T]) OnRequest(fn func(n int64)) {
	s.mu.Lock()
	s.onRequest = fn
	s.mu.Unlock()
}

func (s *sink[T]) OnCancel(fn func()) {
	s.mu.Lock()
	s.onCancel = append(s.onCancel, fn)
	s.mu.Unlock()
}

func (s *sink[T]) requested(n int64) {
	s.mu.Lock()
	fn := s.onRequest
	s.mu.Unlock()
	if fn != nil {
		fn(n)
	}
}

func (s *sink[T]) cancelled() {
	s.mu.Lock()
	fns := s.onCancel
	s.onCancel = nil
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
