package scheduler

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParallelBasic(t *testing.T) {
	p := NewParallel("test", 4)

	var count atomic.Int32
	for range 10 {
		_, err := p.Schedule(func() { count.Add(1) })
		require.NoError(t, err)
	}

	require.NoError(t, p.Close(), "no task panicked; Close should return nil")
	assert.Equal(t, int32(10), count.Load(), "all 10 tasks should have executed")
}

func TestParallelConcurrencyLimit(t *testing.T) {
	const workers = 3
	p := NewParallel("test", workers)

	var (
		active    atomic.Int32
		maxActive atomic.Int32
	)

	for range 20 {
		_, err := p.Schedule(func() {
			cur := active.Add(1)
			for {
				old := maxActive.Load()
				if cur <= old || maxActive.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			active.Add(-1)
		})
		require.NoError(t, err)
	}

	require.NoError(t, p.Close())
	assert.LessOrEqual(t, maxActive.Load(), int32(workers))
}

func TestParallelBoundedQueueRejects(t *testing.T) {
	p := NewSingle("bounded", WithQueueSize(1))
	release := make(chan struct{})
	started := make(chan struct{})

	_, err := p.Schedule(func() {
		close(started)
		<-release
	})
	require.NoError(t, err)
	<-started

	_, err = p.Schedule(func() {})
	require.NoError(t, err, "one slot of queue is free")

	_, err = p.Schedule(func() {})
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, int64(1), p.Stats().Rejected)

	close(release)
	require.NoError(t, p.Close())
}

func TestScheduleAfterClose(t *testing.T) {
	p := NewParallel("closed", 1)
	require.NoError(t, p.Close())

	_, err := p.Schedule(func() {})
	assert.ErrorIs(t, err, ErrClosed)

	_, err = p.ScheduleAfter(time.Millisecond, func(error) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestScheduleAfterReportsRejection(t *testing.T) {
	p := NewSingle("full", WithQueueSize(1))
	release := make(chan struct{})
	started := make(chan struct{})
	_, err := p.Schedule(func() {
		close(started)
		<-release
	})
	require.NoError(t, err)
	<-started
	_, err = p.Schedule(func() {})
	require.NoError(t, err, "fills the queue")

	got := make(chan error, 1)
	_, err = p.ScheduleAfter(5*time.Millisecond, func(err error) { got <- err })
	require.NoError(t, err, "accepted while the delay runs")

	select {
	case err := <-got:
		assert.ErrorIs(t, err, ErrRejected)
	case <-time.After(time.Second):
		t.Fatal("rejection was not reported")
	}

	close(release)
	require.NoError(t, p.Close())
}

func TestWorkerScheduleAfterReportsClosedPool(t *testing.T) {
	p := NewParallel("closing", 1)
	w := p.NewWorker()

	got := make(chan error, 1)
	_, err := w.ScheduleAfter(20*time.Millisecond, func(err error) { got <- err })
	require.NoError(t, err)
	require.NoError(t, p.Close())

	select {
	case err := <-got:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("rejection was not reported")
	}
}

func TestCancelBeforeRun(t *testing.T) {
	p := NewSingle("cancel")
	release := make(chan struct{})
	_, err := p.Schedule(func() { <-release })
	require.NoError(t, err)

	var ran atomic.Bool
	h, err := p.Schedule(func() { ran.Store(true) })
	require.NoError(t, err)

	assert.True(t, h.Cancel(), "task is still queued")
	assert.False(t, h.Cancel(), "second cancel loses")

	close(release)
	require.NoError(t, p.Close())
	assert.False(t, ran.Load(), "cancelled task must not run")
}

func TestScheduleAfterDelaysAndCancels(t *testing.T) {
	p := NewParallel("timer", 2)
	defer p.Close()

	start := time.Now()
	done := make(chan time.Duration, 1)
	_, err := p.ScheduleAfter(20*time.Millisecond, func(err error) {
		assert.NoError(t, err)
		done <- time.Since(start)
	})
	require.NoError(t, err)

	select {
	case elapsed := <-done:
		assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("delayed task never ran")
	}

	var ran atomic.Bool
	h, err := p.ScheduleAfter(20*time.Millisecond, func(error) { ran.Store(true) })
	require.NoError(t, err)
	assert.True(t, h.Cancel())
	time.Sleep(40 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestPanicIsRecovered(t *testing.T) {
	var handled atomic.Int32
	p := NewParallel("panics", 2, WithPanicHandler(func(pe *PanicError) {
		handled.Add(1)
	}))

	_, err := p.Schedule(func() { panic("boom") })
	require.NoError(t, err)

	var after atomic.Bool
	_, err = p.Schedule(func() { after.Store(true) })
	require.NoError(t, err)

	err = p.Close()
	require.Error(t, err)

	var pe *PanicError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "boom", pe.Value)
	assert.NotEmpty(t, pe.Stack)
	assert.Equal(t, int32(1), handled.Load())
	assert.True(t, after.Load(), "pool must survive a panicking task")
	assert.Equal(t, int64(1), p.Stats().Panicked)
}

func TestWorkerIsSerialAndOrdered(t *testing.T) {
	p := NewParallel("lanes", 8)
	defer p.Close()

	w := p.NewWorker()
	defer w.Dispose()

	var (
		mu      sync.Mutex
		got     []int
		active  atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)
	for i := range 500 {
		wg.Add(1)
		_, err := w.Schedule(func() {
			defer wg.Done()
			if active.Add(1) > 1 {
				overlap.Store(true)
			}
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			active.Add(-1)
		})
		require.NoError(t, err)
	}
	wg.Wait()

	assert.False(t, overlap.Load(), "worker tasks must never overlap")
	require.Len(t, got, 500)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestWorkerDispose(t *testing.T) {
	p := NewSingle("dispose")
	defer p.Close()

	w := p.NewWorker()
	release := make(chan struct{})
	started := make(chan struct{})
	_, err := w.Schedule(func() {
		close(started)
		<-release
	})
	require.NoError(t, err)
	<-started

	var ran atomic.Bool
	_, err = w.Schedule(func() { ran.Store(true) })
	require.NoError(t, err)
	_, err = w.ScheduleAfter(time.Millisecond, func(error) { ran.Store(true) })
	require.NoError(t, err)

	w.Dispose()
	close(release)

	_, err = w.Schedule(func() {})
	assert.ErrorIs(t, err, ErrClosed)

	time.Sleep(20 * time.Millisecond)
	assert.False(t, ran.Load(), "tasks pending at dispose must not run")
}

func TestImmediateWorkerTrampolines(t *testing.T) {
	w := Immediate().NewWorker()
	defer w.Dispose()

	var order []string
	_, err := w.Schedule(func() {
		order = append(order, "outer-start")
		_, _ = w.Schedule(func() { order = append(order, "inner") })
		order = append(order, "outer-end")
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"outer-start", "outer-end", "inner"}, order)
}

func TestImmediateRunsInline(t *testing.T) {
	ran := false
	_, err := Immediate().Schedule(func() { ran = true })
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestBoundedElasticCapsWorkers(t *testing.T) {
	s := NewBoundedElastic("io", 2, 1)
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)

	for range 2 {
		_, err := s.Schedule(func() {
			started.Done()
			<-release
		})
		require.NoError(t, err)
	}
	started.Wait()
	assert.Equal(t, 2, s.Stats().Workers)

	_, err := s.Schedule(func() {})
	require.NoError(t, err, "queue has room for one task")

	_, err = s.Schedule(func() {})
	assert.ErrorIs(t, err, ErrRejected)

	close(release)
	require.NoError(t, s.Close())
	assert.Equal(t, int64(3), s.Stats().Completed)
}

func TestBoundedElasticRetiresIdleWorkers(t *testing.T) {
	s := NewBoundedElastic("ttl", 4, 10, WithIdleTTL(10*time.Millisecond))
	defer s.Close()

	done := make(chan struct{})
	_, err := s.Schedule(func() { close(done) })
	require.NoError(t, err)
	<-done

	assert.Eventually(t, func() bool {
		return s.Stats().Workers == 0
	}, time.Second, 5*time.Millisecond)
}

func TestStatsCallbackAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	var calls atomic.Int32
	p := NewParallel("metered", 2,
		WithRegisterer(reg),
		WithStatsInterval(5*time.Millisecond, func(Stats) { calls.Add(1) }),
	)

	for range 5 {
		_, err := p.Schedule(func() {})
		require.NoError(t, err)
	}
	assert.Eventually(t, func() bool { return calls.Load() > 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Close())

	count, err := testutil.GatherAndCount(reg, "rx_scheduler_tasks_completed_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	st := p.Stats()
	assert.Equal(t, int64(5), st.Submitted)
	assert.Equal(t, int64(5), st.Completed)
	assert.Equal(t, int64(0), st.InFlight)
}

func TestOptionValidation(t *testing.T) {
	assert.Panics(t, func() { NewParallel("x", 0) })
	assert.Panics(t, func() { NewBoundedElastic("x", 0, 1) })
	assert.Panics(t, func() { WithQueueSize(-1) })
	assert.Panics(t, func() { WithIdleTTL(0) })
	assert.Panics(t, func() { WithStatsInterval(0, func(Stats) {}) })
	assert.Panics(t, func() { WithPanicHandler(nil) })
}
