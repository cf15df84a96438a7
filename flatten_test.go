package rx

import (
	"context"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowerFirst delays value v by (4-v)*step, so 1 arrives last when the
// inner streams run concurrently.
func slowerFirst(step time.Duration) func(context.Context, int) *Stream[int] {
	return func(_ context.Context, v int) *Stream[int] {
		return Just(v).DelayElements(time.Duration(4-v)*step, nil)
	}
}

func TestConcatMapKeepsOrder(t *testing.T) {
	got, err := ConcatMap(Just(1, 2, 3), slowerFirst(20*time.Millisecond)).ToSlice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestFlatMapInterleaves(t *testing.T) {
	got, err := FlatMap(Just(1, 2, 3), slowerFirst(20*time.Millisecond), 3).ToSlice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 1}, got, "values arrive in completion order")
}

func TestFlatMapSequentialRunsConcurrentlyInOrder(t *testing.T) {
	start := time.Now()
	got, err := FlatMapSequential(Just(1, 2, 3), slowerFirst(40*time.Millisecond), 3).ToSlice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.Less(t, time.Since(start), 220*time.Millisecond, "inner streams overlap")
}

func TestFlatMapSequentialManyValues(t *testing.T) {
	got, err := FlatMapSequential(Range(0, 20), func(_ context.Context, v int) *Stream[int] {
		return Range(v*100, 50)
	}, 4).ToSlice(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 20*50)
	assert.True(t, sort.IntsAreSorted(got))
}

func TestFlatMapConcurrencyLimit(t *testing.T) {
	var active, peak atomic.Int32
	src := FlatMap(Range(0, 12), func(_ context.Context, v int) *Stream[int] {
		return Defer(func() *Stream[int] {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			return Just(v).DelayElements(5*time.Millisecond, nil).DoOnComplete(func() { active.Add(-1) })
		})
	}, 3)

	got, err := src.ToSlice(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 12)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestFlatMapInnerErrorCancelsAll(t *testing.T) {
	var cancelled atomic.Int32
	src := FlatMap(Just(1, 2), func(_ context.Context, v int) *Stream[int] {
		if v == 2 {
			return Error[int](errBoom)
		}
		return Never[int]().DoOnCancel(func() { cancelled.Add(1) })
	}, 2)

	_, err := src.ToSlice(context.Background())
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, int32(1), cancelled.Load(), "the running inner stream is cancelled")
}

func TestConcatDeliversQueuedValuesBeforeError(t *testing.T) {
	r := newRecorder[int](1)
	Concat(Range(0, 5), Error[int](errBoom)).SubscribeWith(context.Background(), r)
	assert.Equal(t, []int{0}, r.Values())
	assert.False(t, r.terminated(), "the error waits behind queued values")

	r.request(10)
	r.await(t)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, r.Values())
	assert.ErrorIs(t, r.Err(), errBoom)
}

func TestFlatMapSequentialDeliversQueuedValuesBeforeError(t *testing.T) {
	src := FlatMapSequential(Just(1, 2), func(_ context.Context, v int) *Stream[int] {
		if v == 2 {
			return Error[int](errBoom)
		}
		return Range(0, 3)
	}, 2)

	r := newRecorder[int](1)
	src.SubscribeWith(context.Background(), r)
	r.request(10)
	r.await(t)
	assert.Equal(t, []int{0, 1, 2}, r.Values())
	assert.ErrorIs(t, r.Err(), errBoom)
}

func TestFlatMapNilInnerFails(t *testing.T) {
	_, err := FlatMap(Just(1), func(context.Context, int) *Stream[int] { return nil }, 1).
		ToSlice(context.Background())
	op, ok := OpOf(err)
	require.True(t, ok)
	assert.Equal(t, "flatMap", op)
}

func TestFlatMapCancelStopsInners(t *testing.T) {
	var cancelled atomic.Bool
	src := FlatMap(Just(1), func(context.Context, int) *Stream[int] {
		return ticks(time.Millisecond).DoOnCancel(func() { cancelled.Store(true) })
	}, 1)

	got, err := src.Take(3).ToSlice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, got)
	assert.True(t, cancelled.Load())
}

func ticks(period time.Duration) *Stream[int] {
	return Map(Interval(period, nil), func(_ context.Context, v int64) (int, error) {
		return int(v), nil
	})
}

func TestFlatMapArgumentValidation(t *testing.T) {
	fn := func(context.Context, int) *Stream[int] { return nil }
	mustPanic(t, "FlatMap requires concurrency > 0", func() { FlatMap(Just(1), fn, 0) })
	mustPanic(t, "FlatMap requires non-nil function", func() { FlatMap[int, int](Just(1), nil, 1) })
	mustPanic(t, "FlatMapSequential requires concurrency > 0", func() { FlatMapSequential(Just(1), fn, 0) })
}
