package scheduler

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Option configures a scheduler.
type Option func(*config)

type config struct {
	queueSize     int
	idleTTL       time.Duration
	logger        zerolog.Logger
	onPanic       func(*PanicError)
	registerer    prometheus.Registerer
	onStats       func(Stats)
	statsInterval time.Duration
}

func defaultConfig() config {
	return config{
		idleTTL: DefaultIdleTTL,
		logger: zerolog.New(os.Stderr).With().
			Timestamp().
			Str("component", "scheduler").
			Logger(),
	}
}

// WithQueueSize bounds the number of queued tasks of a parallel or single
// scheduler. Zero, the default, means unbounded. Tasks beyond the bound are
// rejected with [ErrRejected].
func WithQueueSize(size int) Option {
	if size < 0 {
		panic("scheduler: WithQueueSize requires non-negative size")
	}
	return func(c *config) {
		c.queueSize = size
	}
}

// WithIdleTTL sets how long an idle elastic goroutine waits for work before
// exiting. Default is [DefaultIdleTTL].
func WithIdleTTL(ttl time.Duration) Option {
	if ttl <= 0 {
		panic("scheduler: WithIdleTTL requires ttl > 0")
	}
	return func(c *config) {
		c.idleTTL = ttl
	}
}

// WithLogger sets the logger used to report task panics.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithPanicHandler registers fn to be called with every recovered task panic.
func WithPanicHandler(fn func(*PanicError)) Option {
	if fn == nil {
		panic("scheduler: WithPanicHandler requires non-nil handler")
	}
	return func(c *config) {
		c.onPanic = fn
	}
}

// WithRegisterer exports the scheduler counters as Prometheus metrics
// labelled with the scheduler name.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *config) {
		c.registerer = reg
	}
}

// WithStatsInterval registers a periodic stats callback that fires every
// interval until the scheduler is closed.
//
// Panics if interval <= 0 or fn is nil.
func WithStatsInterval(interval time.Duration, fn func(Stats)) Option {
	if interval <= 0 {
		panic("scheduler: WithStatsInterval requires interval > 0")
	}
	if fn == nil {
		panic("scheduler: WithStatsInterval requires non-nil callback")
	}
	return func(c *config) {
		c.onStats = fn
		c.statsInterval = interval
	}
}
