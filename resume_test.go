package rx

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flaky fails its first n subscriptions and then emits v.
func flaky(n int32, v int) (*Stream[int], *atomic.Int32) {
	var attempts atomic.Int32
	return Defer(func() *Stream[int] {
		if attempts.Add(1) <= n {
			return Error[int](errBoom)
		}
		return Just(v)
	}), &attempts
}

func TestRetryRecovers(t *testing.T) {
	src, attempts := flaky(2, 7)

	v, err := src.Retry(3).BlockFirst(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, int32(3), attempts.Load(), "two failures then one success")
}

func TestRetryGivesUp(t *testing.T) {
	src, attempts := flaky(100, 7)

	_, err := src.Retry(2).BlockFirst(context.Background())
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, int32(3), attempts.Load(), "the source runs n+1 times")
}

func TestRetryZeroIsIdentity(t *testing.T) {
	src, attempts := flaky(1, 7)

	_, err := src.Retry(0).BlockFirst(context.Background())
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestFallbackBeforeRetryHidesErrors(t *testing.T) {
	src, attempts := flaky(100, 7)

	v, err := src.OnErrorReturn(-1).Retry(5).BlockFirst(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -1, v)
	assert.Equal(t, int32(1), attempts.Load(), "Retry never sees the error")
}

func TestRetryDoesNotRepeatDeliveredValues(t *testing.T) {
	var attempts atomic.Int32
	src := Defer(func() *Stream[int] {
		if attempts.Add(1) == 1 {
			return Concat(Just(1, 2), Error[int](errBoom))
		}
		return Just(3)
	})

	got, err := src.Retry(1).ToSlice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, got, "values from the failed run stay delivered")
}

func TestRetrySynchronousFailuresDoNotGrowStack(t *testing.T) {
	src, attempts := flaky(10000, 7)
	_, err := src.Retry(9999).BlockFirst(context.Background())
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, int32(10000), attempts.Load())
}

func TestRetryWhenWaitsBetweenAttempts(t *testing.T) {
	src, attempts := flaky(2, 7)
	spec := RetrySpec{MaxAttempts: 3, InitialDelay: 20 * time.Millisecond}

	start := time.Now()
	v, err := src.RetryWhen(spec).BlockFirst(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, int32(3), attempts.Load())
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond, "waits 20ms then 40ms")
}

func TestRetryWhenStopsOnNonRetryable(t *testing.T) {
	var attempts atomic.Int32
	src := Defer(func() *Stream[int] {
		attempts.Add(1)
		return Error[int](NonRetryable(errBoom))
	})

	_, err := src.RetryWhen(Backoff(5, time.Millisecond, time.Millisecond)).BlockFirst(context.Background())
	assert.ErrorIs(t, err, errBoom)
	assert.True(t, IsNonRetryable(err))
	assert.Equal(t, int32(1), attempts.Load())
}

func TestRetryWhenFilter(t *testing.T) {
	errTransient := errors.New("transient")
	var attempts atomic.Int32
	src := Defer(func() *Stream[int] {
		if attempts.Add(1) == 1 {
			return Error[int](errTransient)
		}
		return Error[int](errBoom)
	})

	spec := Backoff(5, time.Millisecond, time.Millisecond)
	spec.Filter = func(err error) bool { return errors.Is(err, errTransient) }

	_, err := src.RetryWhen(spec).BlockFirst(context.Background())
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, int32(2), attempts.Load(), "only the transient error is retried")
}

func TestRetryWhenFilterPanic(t *testing.T) {
	spec := RetrySpec{MaxAttempts: 1, Filter: func(error) bool { panic("filter") }}
	_, err := Error[int](errBoom).RetryWhen(spec).BlockFirst(context.Background())
	op, ok := OpOf(err)
	require.True(t, ok)
	assert.Equal(t, "retryWhen", op)
}

func TestRetrySpecBackoff(t *testing.T) {
	spec := RetrySpec{
		MaxAttempts:  10,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
	}.withDefaults()

	assert.Equal(t, 100*time.Millisecond, spec.backoff(0))
	assert.Equal(t, 200*time.Millisecond, spec.backoff(1))
	assert.Equal(t, 800*time.Millisecond, spec.backoff(3))
	assert.Equal(t, time.Second, spec.backoff(4), "capped at MaxDelay")
	assert.Equal(t, time.Second, spec.backoff(9))

	spec.AddJitter = true
	for range 20 {
		d := spec.backoff(1)
		assert.GreaterOrEqual(t, d, 200*time.Millisecond)
		assert.Less(t, d, 250*time.Millisecond)
	}
}

func TestRetrySpecDefaults(t *testing.T) {
	spec := DefaultRetrySpec()
	assert.Equal(t, 3, spec.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, spec.InitialDelay)
	assert.True(t, spec.AddJitter)

	fixed := RetrySpec{InitialDelay: time.Second, MaxDelay: time.Millisecond}.withDefaults()
	assert.Equal(t, time.Second, fixed.MaxDelay, "MaxDelay never falls below InitialDelay")
	assert.Equal(t, 2.0, fixed.Multiplier)

	mustPanic(t, "MaxAttempts must be non-negative", func() {
		RetrySpec{MaxAttempts: -1}.withDefaults()
	})
}

func TestRepeat(t *testing.T) {
	got, err := Just(1, 2).Repeat(2).ToSlice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 1, 2, 1, 2}, got)
}

func TestRepeatStopsOnError(t *testing.T) {
	var runs atomic.Int32
	src := Defer(func() *Stream[int] {
		if runs.Add(1) == 2 {
			return Error[int](errBoom)
		}
		return Just(1)
	})

	got, err := src.Repeat(5).ToSlice(context.Background())
	assert.ErrorIs(t, err, errBoom)
	assert.Nil(t, got)
	assert.Equal(t, int32(2), runs.Load())
}

func TestOnErrorResume(t *testing.T) {
	ctx := context.Background()

	got, err := Concat(Just(1), Error[int](errBoom)).
		OnErrorResume(func(err error) *Stream[int] { return Just(8, 9) }).
		ToSlice(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 8, 9}, got)

	_, err = Error[int](errBoom).
		OnErrorResume(func(error) *Stream[int] { return Error[int](context.Canceled) }).
		BlockFirst(ctx)
	assert.ErrorIs(t, err, context.Canceled, "errors of the fallback pass through")

	_, err = Error[int](errBoom).
		OnErrorResume(func(error) *Stream[int] { return nil }).
		BlockFirst(ctx)
	op, ok := OpOf(err)
	require.True(t, ok)
	assert.Equal(t, "onErrorResume", op)
}

func TestOnErrorComplete(t *testing.T) {
	got, err := Concat(Just(1), Error[int](errBoom)).OnErrorComplete().ToSlice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1}, got)
}

func TestDemandCarriesOverFallback(t *testing.T) {
	r := newRecorder[int](3)
	Concat(Just(1), Error[int](errBoom)).
		OnErrorResume(func(error) *Stream[int] { return Range(10, 5) }).
		SubscribeWith(context.Background(), r)

	assert.Equal(t, []int{1, 10, 11}, r.Values(), "the fallback gets the outstanding demand")
	r.request(10)
	r.await(t)
	assert.Equal(t, []int{1, 10, 11, 12, 13, 14}, r.Values())
}

func TestSwitchIfEmpty(t *testing.T) {
	ctx := context.Background()

	got, err := Empty[int]().SwitchIfEmpty(Just(4, 5)).ToSlice(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5}, got)

	got, err = Just(1).SwitchIfEmpty(Just(4, 5)).ToSlice(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, got)
}

func TestResumeArgumentValidation(t *testing.T) {
	s := Just(1)
	mustPanic(t, "Retry requires non-negative n", func() { s.Retry(-1) })
	mustPanic(t, "Repeat requires non-negative n", func() { s.Repeat(-1) })
	mustPanic(t, "OnErrorResume requires non-nil function", func() { s.OnErrorResume(nil) })
	mustPanic(t, "SwitchIfEmpty requires non-nil stream", func() { s.SwitchIfEmpty(nil) })
}
