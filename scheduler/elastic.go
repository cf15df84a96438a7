package scheduler

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultIdleTTL is how long an idle elastic goroutine lives without work.
const DefaultIdleTTL = 60 * time.Second

// BoundedElastic grows goroutines on demand up to a cap and retires them
// after they sit idle for the configured TTL. It is the scheduler for
// blocking work. Tasks that find every goroutine busy wait in a queue of at
// most maxQueued entries; beyond that they are rejected.
type BoundedElastic struct {
	*accounting

	sem       *semaphore.Weighted
	maxWork   int
	maxQueued int
	ttl       time.Duration
	wake      chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup

	mu      sync.Mutex
	queue   []*task
	idle    int
	running int
	closed  bool
}

// NewBoundedElastic creates an elastic scheduler capped at maxWorkers
// goroutines and maxQueued waiting tasks.
// Panics if maxWorkers <= 0 or maxQueued < 0.
func NewBoundedElastic(name string, maxWorkers, maxQueued int, opts ...Option) *BoundedElastic {
	if maxWorkers <= 0 {
		panic("scheduler: NewBoundedElastic requires maxWorkers > 0")
	}
	if maxQueued < 0 {
		panic("scheduler: NewBoundedElastic requires maxQueued >= 0")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &BoundedElastic{
		accounting: newAccounting(name, cfg),
		sem:        semaphore.NewWeighted(int64(maxWorkers)),
		maxWork:    maxWorkers,
		maxQueued:  maxQueued,
		ttl:        cfg.idleTTL,
		wake:       make(chan struct{}, maxWorkers),
		done:       make(chan struct{}),
	}
	s.startTicker(cfg, s.Stats)
	return s
}

func (s *BoundedElastic) enqueue(t *task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.refused()
		return ErrClosed
	}

	switch {
	case s.idle > len(s.queue):
		s.queue = append(s.queue, t)
		select {
		case s.wake <- struct{}{}:
		default:
		}
	case s.sem.TryAcquire(1):
		s.queue = append(s.queue, t)
		s.running++
		s.wg.Add(1)
		go s.loop()
	case len(s.queue)-s.idle < s.maxQueued:
		s.queue = append(s.queue, t)
	default:
		s.refused()
		return ErrRejected
	}
	s.accepted()
	return nil
}

func (s *BoundedElastic) loop() {
	defer s.wg.Done()
	defer s.sem.Release(1)

	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			t := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()
			s.run(t)
			continue
		}
		if s.closed {
			s.running--
			s.mu.Unlock()
			return
		}
		s.idle++
		s.mu.Unlock()

		timer := time.NewTimer(s.ttl)
		expired := false
		select {
		case <-s.wake:
		case <-s.done:
		case <-timer.C:
			expired = true
		}
		timer.Stop()

		s.mu.Lock()
		s.idle--
		if expired && len(s.queue) == 0 {
			s.running--
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
}

// Schedule runs fn on an idle goroutine, a new one if under the cap, or
// queues it. Returns [ErrRejected] when the queue is full.
func (s *BoundedElastic) Schedule(fn func()) (Handle, error) {
	t := newTask(fn)
	if err := s.enqueue(t); err != nil {
		return nil, err
	}
	return t, nil
}

// ScheduleAfter queues fn once d has elapsed. A rejection at that point is
// reported to fn.
func (s *BoundedElastic) ScheduleAfter(d time.Duration, fn func(error)) (Handle, error) {
	t := newDelayedTask(fn)
	if d <= 0 {
		if err := s.enqueue(t); err != nil {
			return nil, err
		}
		return t, nil
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		s.refused()
		return nil, ErrClosed
	}
	t.timer = time.AfterFunc(d, func() {
		if t.cancelled() {
			return
		}
		if err := s.enqueue(t); err != nil {
			s.guard(func() { t.fail(err) })
		}
	})
	return t, nil
}

// NewWorker returns a serial lane running on this scheduler.
func (s *BoundedElastic) NewWorker() Worker {
	return newLane(s.accounting, func(fn func()) error {
		return s.enqueue(&task{fn: fn})
	})
}

// Stats returns a point-in-time snapshot of scheduler activity.
func (s *BoundedElastic) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(len(s.queue), s.running)
}

// Close stops accepting tasks and waits for queued and in-flight tasks to
// finish. Returns the joined panics recovered from tasks.
func (s *BoundedElastic) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.done)
		close(s.stop)
	}
	s.mu.Unlock()
	s.wg.Wait()
	return s.err()
}

func (s *BoundedElastic) String() string {
	return fmt.Sprintf("boundedElastic(%s, %d)", s.name, s.maxWork)
}
