// Package scheduler provides the execution resources reactive pipelines hop
// between.
//
// Four implementations share one contract, [Scheduler]:
//
//   - [Immediate]: runs tasks on the calling goroutine.
//   - [Parallel]: a fixed pool for CPU-bound work, unbounded FIFO queue by
//     default.
//   - [NewSingle]: a pool of one goroutine.
//   - [BoundedElastic]: grows goroutines on demand up to a cap, retires idle
//     ones after a TTL, and rejects work once its queue is full.
//
// Every scheduler hands out serial lanes via NewWorker. Operators that must
// not run concurrently with themselves (publishOn, subscribeOn, timers) take
// a [Worker] for the lifetime of one subscription and dispose it at the end.
//
// Task panics never kill a pool goroutine. They are recovered as
// [*PanicError], logged with zerolog, counted in [Stats] and, when
// [WithRegisterer] is set, exported as Prometheus metrics.
//
// Shared instances are created lazily by [Default], [DefaultElastic] and
// [DefaultSingle], sized by a [Config] that may be loaded from YAML.
package scheduler
