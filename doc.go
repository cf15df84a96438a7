// Package rx provides demand-driven asynchronous sequences for Go.
//
// A sequence is a recipe for zero or more values. Nothing runs until a
// subscriber attaches; values then flow downstream only as fast as the
// subscriber asks for them. Two types cover the common shapes: [Stream]
// for zero or more values and [Single] for at most one.
//
//	n, err := rx.Map(rx.Range(1, 10), func(_ context.Context, v int) (int, error) {
//	    return v * v, nil
//	}).Filter(func(v int) bool { return v%2 == 0 }).
//	    Count().
//	    Block(ctx)
//
// Go has no generic methods, so operators that change the value type are
// package functions: [Map], [FlatMap], [ConcatMap], [FlatMapSequential],
// [Scan], [Zip], [CombineLatest], [GroupBy], [MapSingle], [FlatMapSingle].
//
// # Demand
//
// Subscribers drive the flow through [Subscription.Request]. No stage ever
// emits more values than were requested; [Unbounded] asks for everything.
// Stages that merge several producers serialize their output, so a
// [Subscriber] never sees concurrent calls. Requesting n <= 0 fails the
// sequence with [ErrInvalidDemand].
//
// Producers that cannot be slowed down, such as [Create] callbacks,
// [Interval] ticks and hot sources, buffer up to [DefaultBufferSize]
// values beyond demand and then apply an [Overflow] strategy. The default
// fails fast with an [*OverflowError].
//
// # Cold and Hot
//
// Every subscription to a [Stream] runs its recipe from the start. To
// share one run between subscribers use [Stream.Share] (live values only,
// restarts for a new wave of subscribers), [Stream.Cache] (replays every
// value, never restarts), or [Stream.Publish] and [Stream.Replay] for
// explicit [ConnectableStream.Connect] control.
//
// # Schedulers
//
// The [github.com/baxromumarov/rx/scheduler] subpackage provides the
// execution lanes sequences hop between. [Stream.SubscribeOn] moves the
// subscription, and with it the source, onto a scheduler; the hop closest
// to the source wins. [Stream.PublishOn] moves the delivery of every
// signal below it. Operators that need time ([Interval], [Timer],
// [Stream.Timeout], [Stream.DelayElements], [BufferTimeout]) take a
// scheduler too and fall back to the shared parallel one when it is nil.
//
// # Errors
//
// Callback failures and panics are wrapped in [*UserFunctionError] with
// the operator name; source errors pass through unchanged. [Classify]
// sorts any error into an [ErrorClass]. [Stream.Retry] and
// [Stream.RetryWhen] resubscribe from scratch; [Stream.OnErrorReturn],
// [Stream.OnErrorResume] and [Stream.OnErrorComplete] substitute a
// fallback. Errors nobody handles go to the handler installed with
// [SetErrorHandler], by default the package logger.
//
// # Blocking
//
// [Single.Block], [Stream.BlockFirst], [Stream.BlockLast],
// [Stream.ToSlice], [Stream.ForEach] and [Stream.ToChan] bridge sequences
// to ordinary Go code. They honour context cancellation.
package rx
