package rx

import (
	"context"
	"sync"

	"github.com/baxromumarov/rx/chanx"
)

// blockingSubscriber bridges a subscription to a goroutine waiting on it.
type blockingSubscriber[T any] struct {
	limit  int64
	onNext func(T) error

	mu   sync.Mutex
	sub  Subscription
	seen int64
	err  error
	once sync.Once
	done chan struct{}
}

// await subscribes to src and blocks until it terminates, limit values were
// received, ctx is done, or onNext fails. onNext runs on the producing
// goroutine.
func await[T any](ctx context.Context, src *Stream[T], limit int64, onNext func(T) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	b := &blockingSubscriber[T]{
		limit:  limit,
		onNext: onNext,
		done:   make(chan struct{}),
	}
	src.subscribe(ctx, b)

	select {
	case <-b.done:
		return b.err
	case <-ctx.Done():
		b.cancel()
		b.finish(ctx.Err())
		<-b.done
		return b.err
	}
}

func (b *blockingSubscriber[T]) OnSubscribe(s Subscription) {
	b.mu.Lock()
	b.sub = s
	b.mu.Unlock()
	s.Request(b.limit)
}

func (b *blockingSubscriber[T]) OnNext(v T) {
	select {
	case <-b.done:
		return
	default:
	}

	b.mu.Lock()
	if b.seen >= b.limit {
		b.mu.Unlock()
		return
	}
	b.seen++
	reached := b.seen == b.limit && b.limit != Unbounded
	b.mu.Unlock()

	if err := b.onNext(v); err != nil {
		b.cancel()
		b.finish(err)
		return
	}
	if reached {
		b.cancel()
		b.finish(nil)
	}
}

func (b *blockingSubscriber[T]) OnError(err error) {
	if !b.finish(err) {
		onErrorDropped(err)
	}
}

func (b *blockingSubscriber[T]) OnComplete() { b.finish(nil) }

func (b *blockingSubscriber[T]) cancel() {
	b.mu.Lock()
	s := b.sub
	b.mu.Unlock()
	if s != nil {
		s.Cancel()
	}
}

func (b *blockingSubscriber[T]) finish(err error) bool {
	first := false
	b.once.Do(func() {
		first = true
		b.err = err
		close(b.done)
	})
	return first
}

// BlockFirst subscribes, waits for the first value and cancels the rest.
// Returns [ErrEmpty] when the stream completes without values.
func (s *Stream[T]) BlockFirst(ctx context.Context) (T, error) {
	var (
		first T
		found bool
	)
	err := await(ctx, s, 1, func(v T) error {
		first, found = v, true
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	if !found {
		return first, ErrEmpty
	}
	return first, nil
}

// BlockLast subscribes and waits for completion, returning the last value.
// Returns [ErrEmpty] when the stream completes without values.
func (s *Stream[T]) BlockLast(ctx context.Context) (T, error) {
	var (
		last  T
		found bool
	)
	err := await(ctx, s, Unbounded, func(v T) error {
		last, found = v, true
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	if !found {
		return last, ErrEmpty
	}
	return last, nil
}

// ToSlice subscribes and collects every value until completion.
func (s *Stream[T]) ToSlice(ctx context.Context) ([]T, error) {
	var items []T
	err := await(ctx, s, Unbounded, func(v T) error {
		items = append(items, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ForEach subscribes and calls fn for every value, cancelling the stream at
// the first error fn returns.
func (s *Stream[T]) ForEach(ctx context.Context, fn func(T) error) error {
	if fn == nil {
		panic("rx: ForEach requires non-nil function")
	}
	return await(ctx, s, Unbounded, func(v T) error {
		_, err := call("forEach", func() (struct{}, error) {
			return struct{}{}, fn(v)
		})
		return err
	})
}

// ToChan subscribes and sends every value to the returned channel, one
// value of demand at a time. The error channel receives the terminal error
// (nil on completion) and is then closed, like the value channel.
//
// Sends block the producing goroutine until the value is received or ctx is
// done.
func (s *Stream[T]) ToChan(ctx context.Context) (<-chan T, <-chan error) {
	if ctx == nil {
		ctx = context.Background()
	}
	out := chanx.NewOutlet[T](0)
	errCh := make(chan error, 1)
	s.subscribe(ctx, &chanSubscriber[T]{ctx: ctx, out: out, errCh: errCh})
	return out.Chan(), errCh
}

type chanSubscriber[T any] struct {
	ctx   context.Context
	out   *chanx.Outlet[T]
	errCh chan error
	once  sync.Once
	sub   Subscription
}

func (c *chanSubscriber[T]) OnSubscribe(s Subscription) {
	c.sub = s
	s.Request(1)
}

func (c *chanSubscriber[T]) OnNext(v T) {
	if err := c.out.Send(c.ctx, v); err != nil {
		c.sub.Cancel()
		c.close(err)
		return
	}
	c.sub.Request(1)
}

func (c *chanSubscriber[T]) OnError(err error) { c.close(err) }
func (c *chanSubscriber[T]) OnComplete()       { c.close(nil) }

func (c *chanSubscriber[T]) close(err error) {
	c.once.Do(func() {
		c.errCh <- err
		close(c.errCh)
		c.out.Close()
	})
}
