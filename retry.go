package rx

import (
	"math/rand/v2"
	"time"

	"github.com/baxromumarov/rx/scheduler"
)

// RetrySpec configures [Stream.RetryWhen].
type RetrySpec struct {
	MaxAttempts  int           // resubscriptions after the first failure
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // upper bound of any delay
	Multiplier   float64       // growth factor between delays, typically 2
	AddJitter    bool          // add up to 25% random delay

	// Filter, when set, limits retries to errors it accepts.
	Filter func(error) bool

	// Scheduler runs the delays. Defaults to the shared parallel scheduler.
	Scheduler scheduler.Scheduler
}

// DefaultRetrySpec returns three retries starting at 100ms, doubling up to
// five seconds, with jitter.
func DefaultRetrySpec() RetrySpec {
	return RetrySpec{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Backoff returns a spec retrying n times with exponential backoff between
// initial and max.
func Backoff(n int, initial, max time.Duration) RetrySpec {
	spec := DefaultRetrySpec()
	spec.MaxAttempts = n
	spec.InitialDelay = initial
	spec.MaxDelay = max
	return spec
}

func (r RetrySpec) withDefaults() RetrySpec {
	if r.MaxAttempts < 0 {
		panic("rx: RetrySpec.MaxAttempts must be non-negative")
	}
	if r.InitialDelay < 0 || r.MaxDelay < 0 || r.Multiplier < 0 {
		panic("rx: RetrySpec delays and multiplier must be non-negative")
	}
	if r.Multiplier == 0 {
		r.Multiplier = 2.0
	}
	if r.Multiplier > 1000 {
		r.Multiplier = 1000
	}
	if r.MaxDelay > 0 && r.MaxDelay < r.InitialDelay {
		r.MaxDelay = r.InitialDelay
	}
	return r
}

// backoff returns the delay before retry number attempt, counting from 0.
func (r RetrySpec) backoff(attempt int) time.Duration {
	delay := float64(r.InitialDelay)
	for range attempt {
		delay *= r.Multiplier
		if r.MaxDelay > 0 && delay >= float64(r.MaxDelay) {
			delay = float64(r.MaxDelay)
			break
		}
	}
	d := time.Duration(delay)
	if r.AddJitter && d >= 4 {
		d += time.Duration(rand.Int64N(int64(d / 4)))
	}
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	return d
}
