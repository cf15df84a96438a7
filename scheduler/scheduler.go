package scheduler

import (
	"errors"
	"sync/atomic"
	"time"
)

var (
	// ErrRejected is returned when a bounded scheduler cannot accept more work.
	ErrRejected = errors.New("scheduler: task rejected, queue is full")

	// ErrClosed is returned when scheduling on a closed scheduler or a
	// disposed worker.
	ErrClosed = errors.New("scheduler: scheduler is closed")
)

// Scheduler is an execution resource that runs tasks at most once.
//
// Implementations never drop accepted work: a busy pool queues the task
// until a goroutine is free. A task that cannot be accepted is reported
// through the returned error instead.
type Scheduler interface {
	// Schedule runs fn as soon as the scheduler has capacity.
	Schedule(fn func()) (Handle, error)

	// ScheduleAfter runs fn(nil) once d has elapsed. When the scheduler
	// refuses the task at that point, fn runs on the timer goroutine with
	// the refusal error instead.
	ScheduleAfter(d time.Duration, fn func(error)) (Handle, error)

	// NewWorker returns a serial lane backed by this scheduler.
	NewWorker() Worker

	// Stats returns a point-in-time snapshot of scheduler activity.
	Stats() Stats

	// Close stops accepting tasks, waits for accepted tasks to finish and
	// returns the joined panics recovered while running them.
	Close() error

	String() string
}

// Worker is a serial execution lane. Tasks scheduled on the same worker run
// one at a time in submission order, never concurrently.
type Worker interface {
	Schedule(fn func()) (Handle, error)

	// ScheduleAfter behaves as [Scheduler.ScheduleAfter]. A task still
	// pending when the worker is disposed is dropped without a call.
	ScheduleAfter(d time.Duration, fn func(error)) (Handle, error)

	// Dispose cancels every pending task and rejects further scheduling
	// with [ErrClosed]. The task currently running, if any, is not
	// interrupted.
	Dispose()
}

// Handle refers to a scheduled task.
type Handle interface {
	// Cancel prevents the task from running. It reports whether this call
	// won the race against execution.
	Cancel() bool
}

const (
	taskPending int32 = iota
	taskStarted
	taskCancelled
)

type task struct {
	fn     func()
	reject func(error)
	state  atomic.Int32
	timer  *time.Timer
}

func newTask(fn func()) *task {
	if fn == nil {
		panic("scheduler: task must not be nil")
	}
	return &task{fn: fn}
}

func newDelayedTask(fn func(error)) *task {
	if fn == nil {
		panic("scheduler: task must not be nil")
	}
	return &task{fn: func() { fn(nil) }, reject: fn}
}

// fail hands err to the task owner unless the task was cancelled or ran.
func (t *task) fail(err error) {
	if t.claim() && t.reject != nil {
		t.reject(err)
	}
}

func (t *task) Cancel() bool {
	if !t.state.CompareAndSwap(taskPending, taskCancelled) {
		return false
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	return true
}

// claim moves the task to the started state. It fails when the task was
// cancelled or already ran.
func (t *task) claim() bool {
	return t.state.CompareAndSwap(taskPending, taskStarted)
}

func (t *task) cancelled() bool {
	return t.state.Load() == taskCancelled
}

// doneHandle is returned for tasks that already ran synchronously.
type doneHandle struct{}

func (doneHandle) Cancel() bool { return false }
