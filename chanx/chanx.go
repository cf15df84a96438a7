package chanx

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by [Outlet.Send] once the outlet has been closed.
var ErrClosed = errors.New("chanx: send on closed outlet")

// Recv receives a value from ch, unblocking early if ctx is canceled.
// It returns the value, a boolean indicating whether the channel is still
// open (false means ch was closed), and any context error.
func Recv[T any](ctx context.Context, ch <-chan T) (T, bool, error) {
	select {
	case v, ok := <-ch:
		return v, ok, nil
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}

// Outlet is the producing end of a channel with an idempotent close.
// Senders blocked in Send are released by Close instead of panicking on a
// closed channel.
type Outlet[T any] struct {
	ch     chan T
	closed chan struct{}
	once   sync.Once

	mu sync.RWMutex // held shared by senders, exclusively by close
}

// NewOutlet creates an outlet with the given buffer capacity.
func NewOutlet[T any](capacity int) *Outlet[T] {
	return &Outlet[T]{
		ch:     make(chan T, capacity),
		closed: make(chan struct{}),
	}
}

// Send delivers v, blocking while the buffer is full. It returns
// [ErrClosed] if the outlet is or becomes closed, or the context error.
func (o *Outlet[T]) Send(ctx context.Context, v T) error {
	o.mu.RLock()
	defer o.mu.RUnlock()

	select {
	case <-o.closed:
		return ErrClosed
	default:
	}

	select {
	case o.ch <- v:
		return nil
	case <-o.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the outlet. Only the first call has an effect.
func (o *Outlet[T]) Close() {
	o.once.Do(func() {
		close(o.closed)
		o.mu.Lock()
		close(o.ch)
		o.mu.Unlock()
	})
}

// Chan returns the receiving end. It is closed by Close.
func (o *Outlet[T]) Chan() <-chan T { return o.ch }
