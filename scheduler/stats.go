package scheduler

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Stats provides a point-in-time snapshot of scheduler activity.
type Stats struct {
	Submitted  int64 // tasks accepted
	Completed  int64 // tasks that ran to the end, panicking or not
	Panicked   int64 // tasks that panicked
	Rejected   int64 // tasks refused with ErrRejected or ErrClosed
	InFlight   int64 // tasks currently executing
	QueueDepth int   // tasks waiting for a goroutine
	Workers    int   // goroutines currently serving the scheduler
}

type metrics struct {
	submitted prometheus.Counter
	completed prometheus.Counter
	panicked  prometheus.Counter
	rejected  prometheus.Counter
	inFlight  prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer, name string) *metrics {
	labels := prometheus.Labels{"scheduler": name}
	counter := func(metric, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "rx",
			Subsystem:   "scheduler",
			Name:        metric,
			Help:        help,
			ConstLabels: labels,
		})
		return register(reg, c)
	}
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "rx",
		Subsystem:   "scheduler",
		Name:        "tasks_in_flight",
		Help:        "Tasks currently executing",
		ConstLabels: labels,
	})
	return &metrics{
		submitted: counter("tasks_submitted_total", "Tasks accepted by the scheduler"),
		completed: counter("tasks_completed_total", "Tasks that finished running"),
		panicked:  counter("tasks_panicked_total", "Tasks that panicked"),
		rejected:  counter("tasks_rejected_total", "Tasks refused by the scheduler"),
		inFlight:  register(reg, inFlight),
	}
}

// register returns the already registered collector when a scheduler with
// the same name was registered before.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// accounting is shared by every scheduler implementation: counters, panic
// recovery, logging and the optional stats ticker.
type accounting struct {
	name    string
	logger  zerolog.Logger
	onPanic func(*PanicError)
	metrics *metrics

	submitted atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64
	rejected  atomic.Int64
	inFlight  atomic.Int64

	errMu sync.Mutex
	errs  []error

	stop chan struct{}
}

func newAccounting(name string, cfg config) *accounting {
	a := &accounting{
		name:    name,
		logger:  cfg.logger.With().Str("scheduler", name).Logger(),
		onPanic: cfg.onPanic,
		stop:    make(chan struct{}),
	}
	if cfg.registerer != nil {
		a.metrics = newMetrics(cfg.registerer, name)
	}
	return a
}

func (a *accounting) startTicker(cfg config, stats func() Stats) {
	if cfg.onStats == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(cfg.statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cfg.onStats(stats())
			case <-a.stop:
				return
			}
		}
	}()
}

func (a *accounting) accepted() {
	a.submitted.Add(1)
	if a.metrics != nil {
		a.metrics.submitted.Inc()
	}
}

func (a *accounting) refused() {
	a.rejected.Add(1)
	if a.metrics != nil {
		a.metrics.rejected.Inc()
	}
}

// run executes an accepted task unless it was cancelled first.
func (a *accounting) run(t *task) {
	if !t.claim() {
		return
	}
	a.inFlight.Add(1)
	if a.metrics != nil {
		a.metrics.inFlight.Inc()
	}
	defer func() {
		a.inFlight.Add(-1)
		a.completed.Add(1)
		if a.metrics != nil {
			a.metrics.inFlight.Dec()
			a.metrics.completed.Inc()
		}
	}()
	a.guard(t.fn)
}

// guard runs fn and records a panic instead of propagating it.
func (a *accounting) guard(fn func()) {
	pe := Try(fn)
	if pe == nil {
		return
	}
	a.panicked.Add(1)
	if a.metrics != nil {
		a.metrics.panicked.Inc()
	}
	a.logger.Error().
		Interface("panic", pe.Value).
		Str("stack", pe.Stack).
		Msg("task panicked")
	if a.onPanic != nil {
		a.onPanic(pe)
	}
	a.errMu.Lock()
	a.errs = append(a.errs, pe)
	a.errMu.Unlock()
}

func (a *accounting) snapshot(queueDepth, workers int) Stats {
	return Stats{
		Submitted:  a.submitted.Load(),
		Completed:  a.completed.Load(),
		Panicked:   a.panicked.Load(),
		Rejected:   a.rejected.Load(),
		InFlight:   a.inFlight.Load(),
		QueueDepth: queueDepth,
		Workers:    workers,
	}
}

func (a *accounting) err() error {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	return errors.Join(a.errs...)
}
