package scheduler

import (
	"time"
)

var immediateScheduler = &immediate{
	accounting: newAccounting("immediate", defaultConfig()),
}

// Immediate returns the same-context scheduler: tasks run on the calling
// goroutine. Its workers trampoline, so a task scheduled from inside another
// task of the same worker runs after the current one returns instead of
// recursing.
func Immediate() Scheduler {
	return immediateScheduler
}

type immediate struct {
	*accounting
}

func (s *immediate) Schedule(fn func()) (Handle, error) {
	t := newTask(fn)
	s.accepted()
	s.run(t)
	return doneHandle{}, nil
}

func (s *immediate) ScheduleAfter(d time.Duration, fn func(error)) (Handle, error) {
	t := newDelayedTask(fn)
	s.accepted()
	if d <= 0 {
		s.run(t)
		return doneHandle{}, nil
	}
	t.timer = time.AfterFunc(d, func() { s.run(t) })
	return t, nil
}

func (s *immediate) NewWorker() Worker {
	return newLane(s.accounting, func(fn func()) error {
		fn()
		return nil
	})
}

func (s *immediate) Stats() Stats { return s.snapshot(0, 0) }

// Close is a no-op; the immediate scheduler owns no goroutines.
func (s *immediate) Close() error { return nil }

func (s *immediate) String() string { return "immediate" }
