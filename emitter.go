package rx

import "sync"

// Overflow selects what a bounded buffer does when a producer outruns
// demand by more than the buffer's capacity.
type Overflow int

const (
	// OverflowFail terminates the subscriber with an *OverflowError and
	// cancels the producer.
	OverflowFail Overflow = iota
	// OverflowDropLatest discards the incoming item.
	OverflowDropLatest
	// OverflowDropOldest discards the oldest buffered item.
	OverflowDropOldest
	// OverflowBuffer ignores the capacity and buffers without bound.
	OverflowBuffer
)

func (o Overflow) String() string {
	switch o {
	case OverflowDropLatest:
		return "drop_latest"
	case OverflowDropOldest:
		return "drop_oldest"
	case OverflowBuffer:
		return "buffer"
	default:
		return "error"
	}
}

type item[T any] struct {
	v   T
	ack func()
}

// emitter is the single writer in front of a downstream subscriber. Any
// number of goroutines may offer items and terminal signals; a queue-drain
// loop guarded by mu delivers them one at a time, only against requested
// demand. The emitter is also the Subscription the downstream sees.
//
// Hooks run outside the lock. ack callbacks run after the item was
// delivered and are how stages replenish their upstream.
type emitter[T any] struct {
	down Subscriber[T]

	// capacity is the number of items allowed beyond demand; < 0 means
	// unbounded.
	capacity int
	overflow Overflow
	onDrop   func(T)

	// delayErr delivers errors after queued items instead of discarding
	// them.
	delayErr bool

	// run, when set, executes drain loops on a scheduler worker instead of
	// the offering goroutine.
	run func(func()) error

	onRequest func(n int64)
	onCancel  func()
	onDone    func()

	mu            sync.Mutex
	queue         []item[T]
	dropped       []T
	requested     int64
	done          bool
	err           error
	terminated    bool
	cancelled     bool
	draining      bool
	pendingCancel bool
}

func newEmitter[T any](down Subscriber[T]) *emitter[T] {
	return &emitter[T]{down: down, capacity: -1, delayErr: true}
}

// Request implements Subscription.
func (e *emitter[T]) Request(n int64) {
	if n <= 0 {
		e.abort(ErrInvalidDemand)
		return
	}
	e.mu.Lock()
	if e.cancelled || e.terminated {
		e.mu.Unlock()
		return
	}
	e.requested = addCap(e.requested, n)
	e.mu.Unlock()

	if e.onRequest != nil {
		e.onRequest(n)
	}
	e.drain()
}

// Cancel implements Subscription.
func (e *emitter[T]) Cancel() {
	e.mu.Lock()
	if e.cancelled || e.terminated {
		e.mu.Unlock()
		return
	}
	e.cancelled = true
	e.queue = nil
	e.mu.Unlock()

	if e.onCancel != nil {
		e.onCancel()
	}
}

func (e *emitter[T]) isCancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

// outstanding returns demand not yet covered by queued items.
func (e *emitter[T]) outstanding() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.requested == Unbounded {
		return Unbounded
	}
	if r := e.requested - int64(len(e.queue)); r > 0 {
		return r
	}
	return 0
}

// offer queues v without draining. It reports whether v was accepted.
// Safe to call while holding locks the downstream may need: nothing
// outside the emitter runs until drain.
func (e *emitter[T]) offer(v T, ack func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done || e.cancelled {
		return false
	}

	if e.capacity >= 0 && e.overflow != OverflowBuffer &&
		int64(len(e.queue)) >= addCap(e.requested, int64(e.capacity)) {
		switch e.overflow {
		case OverflowDropLatest:
			if e.onDrop != nil {
				e.dropped = append(e.dropped, v)
			}
			return false
		case OverflowDropOldest:
			if len(e.queue) == 0 {
				if e.onDrop != nil {
					e.dropped = append(e.dropped, v)
				}
				return false
			}
			if e.onDrop != nil {
				e.dropped = append(e.dropped, e.queue[0].v)
			}
			e.queue[0] = item[T]{}
			e.queue = e.queue[1:]
		default:
			e.done = true
			e.err = &OverflowError{Capacity: e.capacity}
			e.queue = nil
			e.pendingCancel = true
			return false
		}
	}

	e.queue = append(e.queue, item[T]{v: v, ack: ack})
	return true
}

// finish records the terminal signal without draining. err == nil means
// completion.
func (e *emitter[T]) finish(err error) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done || e.cancelled {
		return false
	}
	e.done = true
	e.err = err
	if err != nil && !e.delayErr {
		e.queue = nil
	}
	return true
}

func (e *emitter[T]) emit(v T) bool {
	ok := e.offer(v, nil)
	e.drain()
	return ok
}

func (e *emitter[T]) emitAck(v T, ack func()) bool {
	ok := e.offer(v, ack)
	e.drain()
	return ok
}

func (e *emitter[T]) complete() {
	e.finish(nil)
	e.drain()
}

func (e *emitter[T]) fail(err error) {
	e.finish(err)
	e.drain()
}

// abort signals err ahead of any queued item and cancels the producer.
func (e *emitter[T]) abort(err error) {
	e.mu.Lock()
	if e.done || e.cancelled {
		e.mu.Unlock()
		return
	}
	e.done = true
	e.err = err
	e.queue = nil
	e.pendingCancel = true
	e.mu.Unlock()
	e.drain()
}

// attach binds a subscriber to an emitter created without one. Items
// offered before attach wait in the queue. Returns false if a subscriber
// is already bound.
func (e *emitter[T]) attach(down Subscriber[T]) bool {
	e.mu.Lock()
	if e.down != nil {
		e.mu.Unlock()
		return false
	}
	e.down = down
	e.mu.Unlock()

	down.OnSubscribe(e)
	e.drain()
	return true
}

func (e *emitter[T]) drain() {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return
	}
	e.draining = true
	e.mu.Unlock()

	if e.run != nil {
		err := e.run(e.loop)
		if err == nil {
			return
		}
		e.mu.Lock()
		if !e.done && !e.cancelled {
			e.done = true
			e.err = err
			e.queue = nil
			e.pendingCancel = true
		}
		e.mu.Unlock()
	}
	e.loop()
}

// loop runs with draining set and clears it before returning.
func (e *emitter[T]) loop() {
	e.mu.Lock()
	for {
		if e.pendingCancel || len(e.dropped) > 0 {
			cancel := e.pendingCancel
			dropped := e.dropped
			e.pendingCancel = false
			e.dropped = nil
			e.mu.Unlock()

			if cancel && e.onCancel != nil {
				e.onCancel()
			}
			for _, v := range dropped {
				e.onDrop(v)
			}

			e.mu.Lock()
			continue
		}

		if e.cancelled || e.down == nil || e.terminated {
			e.draining = false
			e.mu.Unlock()
			return
		}

		if len(e.queue) > 0 && e.requested > 0 {
			it := e.queue[0]
			e.queue[0] = item[T]{}
			e.queue = e.queue[1:]
			if e.requested != Unbounded {
				e.requested--
			}
			e.mu.Unlock()

			e.down.OnNext(it.v)
			if it.ack != nil {
				it.ack()
			}

			e.mu.Lock()
			continue
		}

		if e.done && len(e.queue) == 0 {
			e.terminated = true
			e.draining = false
			err := e.err
			e.mu.Unlock()

			if err != nil {
				e.down.OnError(err)
			} else {
				e.down.OnComplete()
			}
			if e.onDone != nil {
				e.onDone()
			}
			return
		}

		e.draining = false
		e.mu.Unlock()
		return
	}
}
