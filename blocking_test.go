package rx

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockFirstCancelsTheRest(t *testing.T) {
	var cancelled atomic.Bool
	v, err := Range(1, 100).DoOnCancel(func() { cancelled.Store(true) }).BlockFirst(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.True(t, cancelled.Load())
}

func TestBlockLast(t *testing.T) {
	ctx := context.Background()

	v, err := Range(1, 5).BlockLast(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, v)

	_, err = Empty[int]().BlockLast(ctx)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestBlockingHonoursContext(t *testing.T) {
	var cancelled atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := Never[int]().DoOnCancel(func() { cancelled.Store(true) }).ToSlice(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, cancelled.Load(), "the subscription is cancelled with the context")
}

func TestForEachStopsAtFirstError(t *testing.T) {
	var seen []int
	err := Range(1, 10).ForEach(context.Background(), func(v int) error {
		seen = append(seen, v)
		if v == 3 {
			return errBoom
		}
		return nil
	})

	assert.ErrorIs(t, err, errBoom)
	op, _ := OpOf(err)
	assert.Equal(t, "forEach", op)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestToChan(t *testing.T) {
	values, errs := Range(0, 5).PublishOn(nil, 2).ToChan(context.Background())

	var got []int
	for v := range values {
		got = append(got, v)
	}
	require.NoError(t, <-errs)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestToChanError(t *testing.T) {
	values, errs := Concat(Just(1), Error[int](errBoom)).SubscribeOn(nil).ToChan(context.Background())

	var got []int
	for v := range values {
		got = append(got, v)
	}
	assert.Equal(t, []int{1}, got)
	assert.ErrorIs(t, <-errs, errBoom)
}

func TestToChanContextCancelReleasesProducer(t *testing.T) {
	var cancelled atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	values, errs := ticks(time.Millisecond).DoOnCancel(func() { cancelled.Store(true) }).ToChan(ctx)

	<-values
	cancel()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitTimeout):
		t.Fatal("producer was not released")
	}
	assert.True(t, cancelled.Load())
}

func TestSubscribeWithBatchRequest(t *testing.T) {
	var requests []int64
	done := make(chan struct{})
	var got []int

	Range(0, 10).
		DoOnRequest(func(n int64) { requests = append(requests, n) }).
		Subscribe(context.Background(), func(v int) { got = append(got, v) },
			WithBatchRequest(4),
			WithOnComplete(func() { close(done) }),
		)
	<-done

	assert.Len(t, got, 10)
	assert.Equal(t, []int64{4, 4, 4}, requests)
}

func TestSubscribeDispose(t *testing.T) {
	var (
		cancelled atomic.Bool
		count     atomic.Int32
	)
	d := ticks(time.Millisecond).
		DoOnCancel(func() { cancelled.Store(true) }).
		Subscribe(context.Background(), func(int) { count.Add(1) })

	require.Eventually(t, func() bool { return count.Load() >= 2 }, waitTimeout, time.Millisecond)
	d.Dispose()
	d.Dispose()

	assert.True(t, d.IsDisposed())
	assert.True(t, cancelled.Load())
	<-d.Done()
}

func TestSubscribeContextCancelDisposes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := Never[int]().Subscribe(ctx, nil)
	assert.False(t, d.IsDisposed())

	cancel()
	select {
	case <-d.Done():
	case <-time.After(waitTimeout):
		t.Fatal("not disposed")
	}
	assert.True(t, d.IsDisposed())
}

func TestSubscribeOnNextPanic(t *testing.T) {
	var got error
	d := Just(1, 2).Subscribe(context.Background(), func(int) { panic("consumer") },
		WithOnError(func(err error) { got = err }),
	)
	<-d.Done()

	op, ok := OpOf(got)
	require.True(t, ok)
	assert.Equal(t, "subscribe", op)
}
