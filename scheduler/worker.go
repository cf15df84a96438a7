package scheduler

import (
	"sync"
	"time"
)

// laneBatch bounds how many tasks one drain runs before yielding the pool
// goroutine back to other lanes.
const laneBatch = 128

// lane is the Worker implementation shared by every scheduler. Tasks are
// appended to a private queue and drained by at most one pool task at a
// time, which gives FIFO order and mutual exclusion without pinning a
// goroutine to the lane.
type lane struct {
	acc    *accounting
	submit func(func()) error

	mu       sync.Mutex
	queue    []*task
	delayed  map[*task]struct{}
	active   bool
	disposed bool
}

func newLane(acc *accounting, submit func(func()) error) *lane {
	return &lane{acc: acc, submit: submit}
}

func (l *lane) Schedule(fn func()) (Handle, error) {
	t := newTask(fn)
	if err := l.enqueue(t); err != nil {
		return nil, err
	}
	return t, nil
}

func (l *lane) ScheduleAfter(d time.Duration, fn func(error)) (Handle, error) {
	t := newDelayedTask(fn)
	if d <= 0 {
		if err := l.enqueue(t); err != nil {
			return nil, err
		}
		return t, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.disposed {
		return nil, ErrClosed
	}
	if l.delayed == nil {
		l.delayed = make(map[*task]struct{})
	}
	l.delayed[t] = struct{}{}
	t.timer = time.AfterFunc(d, func() {
		l.mu.Lock()
		delete(l.delayed, t)
		l.mu.Unlock()
		if t.cancelled() {
			return
		}
		if err := l.enqueue(t); err != nil && !l.isDisposed() {
			l.acc.guard(func() { t.fail(err) })
		}
	})
	return t, nil
}

func (l *lane) enqueue(t *task) error {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.queue = append(l.queue, t)
	if l.active {
		l.mu.Unlock()
		return nil
	}
	l.active = true
	l.mu.Unlock()

	if err := l.submit(l.drain); err != nil {
		l.mu.Lock()
		for i, q := range l.queue {
			if q == t {
				l.queue = append(l.queue[:i], l.queue[i+1:]...)
				break
			}
		}
		// Tasks queued behind t were already accepted.
		if len(l.queue) > 0 {
			l.mu.Unlock()
			l.drain()
			return err
		}
		l.active = false
		l.mu.Unlock()
		return err
	}
	return nil
}

func (l *lane) drain() {
	for range laneBatch {
		l.mu.Lock()
		if len(l.queue) == 0 || l.disposed {
			l.queue = nil
			l.active = false
			l.mu.Unlock()
			return
		}
		t := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		if t.claim() {
			l.acc.guard(t.fn)
		}
	}

	if err := l.submit(l.drain); err != nil {
		// The pool refused the continuation; keep draining on this
		// goroutine so queued tasks are not stranded.
		l.drain()
	}
}

func (l *lane) isDisposed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disposed
}

func (l *lane) Dispose() {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		return
	}
	l.disposed = true
	queued := l.queue
	l.queue = nil
	delayed := l.delayed
	l.delayed = nil
	l.mu.Unlock()

	for _, t := range queued {
		t.Cancel()
	}
	for t := range delayed {
		t.Cancel()
	}
}
