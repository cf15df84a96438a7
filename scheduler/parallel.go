package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Parallel is a fixed-size pool of goroutines fed from a FIFO queue. It is
// the compute scheduler: size it to the number of CPUs and keep blocking
// work off it.
type Parallel struct {
	*accounting

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*task
	limit   int
	workers int
	closed  atomic.Bool
	wg      sync.WaitGroup
}

// NewParallel creates a pool with n goroutines. They start immediately and
// serve tasks until [Parallel.Close] is called.
// Panics if n <= 0.
func NewParallel(name string, n int, opts ...Option) *Parallel {
	if n <= 0 {
		panic("scheduler: NewParallel requires n > 0")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	p := &Parallel{
		accounting: newAccounting(name, cfg),
		limit:      cfg.queueSize,
		workers:    n,
	}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(n)
	for range n {
		go p.loop()
	}
	p.startTicker(cfg, p.Stats)

	return p
}

// NewSingle creates a pool backed by exactly one goroutine.
func NewSingle(name string, opts ...Option) *Parallel {
	return NewParallel(name, 1, opts...)
}

func (p *Parallel) loop() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed.Load() {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		t := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.run(t)
	}
}

func (p *Parallel) enqueue(t *task) error {
	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		p.refused()
		return ErrClosed
	}
	if p.limit > 0 && len(p.queue) >= p.limit {
		p.mu.Unlock()
		p.refused()
		return ErrRejected
	}
	p.queue = append(p.queue, t)
	p.accepted()
	p.mu.Unlock()
	p.cond.Signal()
	return nil
}

// Schedule queues fn for execution.
// Returns [ErrClosed] after Close, or [ErrRejected] when a bounded queue is
// full.
func (p *Parallel) Schedule(fn func()) (Handle, error) {
	t := newTask(fn)
	if err := p.enqueue(t); err != nil {
		return nil, err
	}
	return t, nil
}

// ScheduleAfter queues fn once d has elapsed. A queue that is full or
// closed by then is reported to fn.
func (p *Parallel) ScheduleAfter(d time.Duration, fn func(error)) (Handle, error) {
	if p.closed.Load() {
		p.refused()
		return nil, ErrClosed
	}
	t := newDelayedTask(fn)
	if d <= 0 {
		if err := p.enqueue(t); err != nil {
			return nil, err
		}
		return t, nil
	}
	t.timer = time.AfterFunc(d, func() {
		if t.cancelled() {
			return
		}
		if err := p.enqueue(t); err != nil {
			p.guard(func() { t.fail(err) })
		}
	})
	return t, nil
}

// NewWorker returns a serial lane running on this pool.
func (p *Parallel) NewWorker() Worker {
	return newLane(p.accounting, func(fn func()) error {
		return p.enqueue(&task{fn: fn})
	})
}

// Stats returns a point-in-time snapshot of pool activity.
// Safe to call concurrently.
func (p *Parallel) Stats() Stats {
	p.mu.Lock()
	depth := len(p.queue)
	p.mu.Unlock()
	return p.snapshot(depth, p.workers)
}

// Close stops accepting new tasks and waits for queued and in-flight tasks
// to finish. Returns the joined panics recovered from tasks.
// Safe to call multiple times.
func (p *Parallel) Close() error {
	p.mu.Lock()
	if p.closed.CompareAndSwap(false, true) {
		close(p.stop)
	}
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
	return p.err()
}

func (p *Parallel) String() string {
	return fmt.Sprintf("parallel(%s, %d)", p.name, p.workers)
}
