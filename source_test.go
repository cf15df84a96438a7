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

var errBoom = errors.New("boom")

func TestColdSourceRunsPerSubscription(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	src := FromCallable(func(context.Context) (int32, error) {
		return calls.Add(1), nil
	})

	first, err := src.Block(ctx)
	require.NoError(t, err)
	second, err := src.Block(ctx)
	require.NoError(t, err)

	assert.Equal(t, int32(1), first)
	assert.Equal(t, int32(2), second, "every subscription runs the callable again")
}

func TestFromSupplierOncePerSubscription(t *testing.T) {
	var calls atomic.Int32
	src := FromSupplier(func() int32 { return calls.Add(1) })

	r := newRecorder[int32](Unbounded)
	src.SubscribeWith(context.Background(), r)
	r.await(t)

	assert.Equal(t, []int32{1}, r.Values())
	assert.Equal(t, int32(1), calls.Load())
}

func TestFromCallableErrorPassesThrough(t *testing.T) {
	_, err := FromCallable(func(context.Context) (int, error) {
		return 0, errBoom
	}).Block(context.Background())
	assert.Same(t, errBoom, err, "source errors are not wrapped")
	assert.Equal(t, ClassUpstream, Classify(err))
}

func TestFromCallablePanicIsWrapped(t *testing.T) {
	_, err := FromCallable(func(context.Context) (int, error) {
		panic("kaboom")
	}).Block(context.Background())

	require.Error(t, err)
	op, ok := OpOf(err)
	require.True(t, ok)
	assert.Equal(t, "fromCallable", op)

	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "kaboom", pe.Value)
}

func TestJustAndRange(t *testing.T) {
	ctx := context.Background()

	got, err := Just(1, 2, 3).ToSlice(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, got)

	got, err = Range(5, 3).ToSlice(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 6, 7}, got)

	got, err = Range(0, 0).ToSlice(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEmptyErrorNever(t *testing.T) {
	ctx := context.Background()

	_, err := Empty[int]().BlockFirst(ctx)
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = Error[int](errBoom).BlockFirst(ctx)
	assert.ErrorIs(t, err, errBoom)

	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = Never[int]().BlockFirst(tctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDeferCallsFactoryPerSubscription(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	src := Defer(func() *Stream[int32] {
		return Just(calls.Add(1))
	})

	for want := int32(1); want <= 3; want++ {
		v, err := src.BlockFirst(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
}

func TestDeferNilStreamFails(t *testing.T) {
	_, err := Defer(func() *Stream[int] { return nil }).BlockFirst(context.Background())
	assert.True(t, IsUserFunctionError(err))
}

type tenantKey struct{}

func TestDeferContextualSeesContextWrite(t *testing.T) {
	src := DeferContextual(func(ctx context.Context) *Stream[string] {
		tenant, _ := ctx.Value(tenantKey{}).(string)
		return Just(tenant)
	})

	v, err := src.ContextWrite(tenantKey{}, "acme").BlockFirst(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "acme", v)
}

func TestGenerate(t *testing.T) {
	fib := Generate(
		func() [2]int { return [2]int{0, 1} },
		func(s [2]int, sink *SyncSink[int]) [2]int {
			if s[0] > 20 {
				sink.Complete()
				return s
			}
			sink.Next(s[0])
			return [2]int{s[1], s[0] + s[1]}
		},
	)

	got, err := fib.ToSlice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 1, 2, 3, 5, 8, 13}, got)
}

func TestGenerateRespectsDemand(t *testing.T) {
	var rounds atomic.Int32
	src := Generate(
		func() int { return 0 },
		func(s int, sink *SyncSink[int]) int {
			rounds.Add(1)
			sink.Next(s)
			return s + 1
		},
	)

	r := newRecorder[int](2)
	src.SubscribeWith(context.Background(), r)
	assert.Equal(t, []int{0, 1}, r.Values())
	assert.Equal(t, int32(2), rounds.Load(), "one round per unit of demand")

	r.request(3)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, r.Values())
	r.cancel()
}

func TestGenerateWithoutSignalFails(t *testing.T) {
	src := Generate(
		func() int { return 0 },
		func(s int, _ *SyncSink[int]) int { return s },
	)
	_, err := src.BlockFirst(context.Background())
	assert.True(t, IsUserFunctionError(err))
}

func TestFromChan(t *testing.T) {
	ch := make(chan int)
	go func() {
		defer close(ch)
		for i := range 4 {
			ch <- i
		}
	}()

	got, err := FromChan(ch).ToSlice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, got)
}

func TestFromChanCancelUnblocks(t *testing.T) {
	ch := make(chan int)
	go func() { ch <- 1 }()

	v, err := FromChan(ch).BlockFirst(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestCreatePushesAgainstDemand(t *testing.T) {
	var sink Sink[int]
	src := Create(func(_ context.Context, s Sink[int]) { sink = s })

	r := newRecorder[int](2)
	src.SubscribeWith(context.Background(), r)

	for i := 1; i <= 5; i++ {
		assert.True(t, sink.Next(i))
	}
	assert.Equal(t, []int{1, 2}, r.Values(), "values beyond demand wait in the buffer")

	r.request(10)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, r.Values())
	assert.Equal(t, int64(7), sink.Requested())

	sink.Complete()
	r.await(t)
	assert.True(t, r.Completed())
}

func TestCreateOverflowFailsFast(t *testing.T) {
	var (
		sink      Sink[int]
		cancelled atomic.Bool
	)
	src := Create(func(_ context.Context, s Sink[int]) {
		sink = s
		s.OnCancel(func() { cancelled.Store(true) })
	}, WithBufferSize(2))

	r := newRecorder[int](1)
	src.SubscribeWith(context.Background(), r)

	assert.True(t, sink.Next(1))
	assert.True(t, sink.Next(2))
	assert.True(t, sink.Next(3))
	assert.False(t, sink.Next(4), "buffer of 2 beyond demand is full")

	r.await(t)
	assert.ErrorIs(t, r.Err(), ErrOverflow)
	var oe *OverflowError
	require.ErrorAs(t, r.Err(), &oe)
	assert.Equal(t, 2, oe.Capacity)
	assert.Equal(t, ClassOverflow, Classify(r.Err()))
	assert.True(t, cancelled.Load(), "overflow cancels the producer")
	assert.Equal(t, []int{1}, r.Values(), "the error is signalled ahead of buffered values")
}

func TestCreateDropOldest(t *testing.T) {
	var (
		sink    Sink[int]
		dropped []any
	)
	src := Create(func(_ context.Context, s Sink[int]) { sink = s },
		WithBufferSize(2),
		WithOverflow(OverflowDropOldest),
		WithOnDrop(func(v any) { dropped = append(dropped, v) }),
	)

	r := newRecorder[int](0)
	src.SubscribeWith(context.Background(), r)
	for i := 1; i <= 5; i++ {
		sink.Next(i)
	}
	r.request(10)
	sink.Complete()
	r.await(t)

	assert.Equal(t, []int{4, 5}, r.Values())
	assert.Equal(t, []any{1, 2, 3}, dropped)
}

func TestCreateDropLatest(t *testing.T) {
	var sink Sink[int]
	src := Create(func(_ context.Context, s Sink[int]) { sink = s },
		WithBufferSize(1),
		WithOverflow(OverflowDropLatest),
	)

	r := newRecorder[int](0)
	src.SubscribeWith(context.Background(), r)
	assert.True(t, sink.Next(1))
	assert.False(t, sink.Next(2))
	r.request(5)
	sink.Complete()
	r.await(t)

	assert.Equal(t, []int{1}, r.Values())
}

func TestCreateCallbackPanic(t *testing.T) {
	_, err := Create(func(context.Context, Sink[int]) {
		panic("bad producer")
	}).BlockFirst(context.Background())
	op, ok := OpOf(err)
	require.True(t, ok)
	assert.Equal(t, "create", op)
}

func TestInterval(t *testing.T) {
	got, err := Interval(5*time.Millisecond, nil).Take(3).ToSlice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2}, got)
}

func TestIntervalWithoutDemandOverflows(t *testing.T) {
	r := newRecorder[int64](1)
	Interval(2*time.Millisecond, nil).SubscribeWith(context.Background(), r)
	r.await(t)

	assert.Equal(t, []int64{0}, r.Values())
	assert.ErrorIs(t, r.Err(), ErrOverflow)
}

func TestSourceArgumentValidation(t *testing.T) {
	mustPanic(t, "Range requires non-negative count", func() { Range(0, -1) })
	mustPanic(t, "Error requires non-nil error", func() { Error[int](nil) })
	mustPanic(t, "Defer requires non-nil factory", func() { Defer[int](nil) })
	mustPanic(t, "Interval requires period > 0", func() { Interval(0, nil) })
	mustPanic(t, "FromChan requires non-nil channel", func() { FromChan[int](nil) })
	mustPanic(t, "WithBufferSize requires non-negative size", func() {
		Create(func(context.Context, Sink[int]) {}, WithBufferSize(-1))
	})
}
