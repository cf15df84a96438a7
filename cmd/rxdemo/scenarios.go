package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/baxromumarov/rx"
	"github.com/baxromumarov/rx/scheduler"
)

type scenario struct {
	name  string
	short string
	run   func(ctx context.Context, p *printer) error
}

var scenarios = []scenario{
	{name: "coldhot", short: "Cold, shared and cached sources", run: coldHot},
	{name: "flatmap", short: "FlatMap, ConcatMap and FlatMapSequential", run: flatMap},
	{name: "retry", short: "Retry, backoff and fallbacks", run: retry},
	{name: "schedule", short: "SubscribeOn and PublishOn hops", run: schedule},
	{name: "combine", short: "Zip, Merge, CombineLatest and FirstWithValue", run: combine},
	{name: "backpressure", short: "Demand, buffering and dropping", run: backpressure},
	{name: "group", short: "GroupBy and aggregation", run: group},
}

// printer serializes output of scenarios whose callbacks run on scheduler
// goroutines.
type printer struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "  "+format+"\n", args...)
}

// traced attaches the Log operator in verbose mode.
func traced[T any](p *printer, name string, s *rx.Stream[T]) *rx.Stream[T] {
	if !p.verbose {
		return s
	}
	return s.Log(name)
}

func coldHot(ctx context.Context, p *printer) error {
	runs := 0
	cold := rx.Defer(func() *rx.Stream[int] {
		runs++
		return rx.Range(1, 3)
	})
	for i := range 2 {
		got, err := traced(p, "cold", cold).ToSlice(ctx)
		if err != nil {
			return err
		}
		p.printf("cold subscriber %d: %v", i+1, got)
	}
	p.printf("cold source ran %d times", runs)

	ticks := rx.Interval(20*time.Millisecond, nil).Take(5)
	shared := traced(p, "shared", ticks).Share()
	early := shared.Subscribe(ctx, func(v int64) { p.printf("early subscriber: %d", v) })
	time.Sleep(50 * time.Millisecond)
	late := shared.Subscribe(ctx, func(v int64) { p.printf("late subscriber:  %d", v) })
	<-early.Done()
	<-late.Done()

	cachedRuns := 0
	cached := rx.FromCallable(func(context.Context) (string, error) {
		cachedRuns++
		return "expensive result", nil
	}).Cache()
	for range 3 {
		if _, err := cached.Block(ctx); err != nil {
			return err
		}
	}
	p.printf("cached callable ran %d time(s) for 3 subscribers", cachedRuns)
	return nil
}

func flatMap(ctx context.Context, p *printer) error {
	lookup := func(_ context.Context, id int) *rx.Stream[string] {
		delay := time.Duration(40-id*10) * time.Millisecond
		return rx.Just(fmt.Sprintf("user-%d", id)).DelayElements(delay, nil)
	}
	ids := rx.Range(1, 3)

	strategies := []struct {
		name string
		s    *rx.Stream[string]
	}{
		{"flatMap", rx.FlatMap(ids, lookup, 3)},
		{"concatMap", rx.ConcatMap(ids, lookup)},
		{"flatMapSequential", rx.FlatMapSequential(ids, lookup, 3)},
	}
	for _, st := range strategies {
		start := time.Now()
		got, err := traced(p, st.name, st.s).ToSlice(ctx)
		if err != nil {
			return err
		}
		p.printf("%-18s %v in %v", st.name, got, time.Since(start).Round(10*time.Millisecond))
	}
	return nil
}

var errUnavailable = errors.New("service unavailable")

func retry(ctx context.Context, p *printer) error {
	attempts := 0
	flaky := rx.Defer(func() *rx.Stream[string] {
		attempts++
		p.printf("attempt %d", attempts)
		if attempts < 3 {
			return rx.Error[string](errUnavailable)
		}
		return rx.Just("ok")
	})

	v, err := traced(p, "retryWhen", flaky).
		RetryWhen(rx.Backoff(5, 10*time.Millisecond, 100*time.Millisecond)).
		BlockFirst(ctx)
	if err != nil {
		return err
	}
	p.printf("recovered with %q after %d attempts", v, attempts)

	_, err = rx.Error[int](rx.NonRetryable(errUnavailable)).
		RetryWhen(rx.DefaultRetrySpec()).
		BlockFirst(ctx)
	p.printf("non-retryable error surfaces at once: %v (class %s)", err, rx.Classify(err))

	got, err := rx.Concat(rx.Just("a", "b"), rx.Error[string](errUnavailable)).
		OnErrorResume(func(err error) *rx.Stream[string] {
			p.printf("falling back after %v", err)
			return rx.Just("cached")
		}).
		ToSlice(ctx)
	if err != nil {
		return err
	}
	p.printf("with fallback: %v", got)
	return nil
}

func schedule(ctx context.Context, p *printer) error {
	elastic := scheduler.NewBoundedElastic("demo-io", 4, 16)
	defer elastic.Close()
	compute := scheduler.NewParallel("demo-compute", 2)
	defer compute.Close()

	src := rx.Defer(func() *rx.Stream[int] {
		p.printf("source subscribed")
		return rx.Range(1, 4)
	})
	squares := rx.Map(traced(p, "hops", src).SubscribeOn(elastic).PublishOn(compute, 2),
		func(_ context.Context, v int) (int, error) { return v * v, nil })

	if err := squares.ForEach(ctx, func(v int) error {
		p.printf("square %d", v)
		return nil
	}); err != nil {
		return err
	}

	s := elastic.Stats()
	p.printf("elastic scheduler: %d submitted, %d completed", s.Submitted, s.Completed)

	_, err := rx.Never[int]().Timeout(30*time.Millisecond, compute).BlockFirst(ctx)
	p.printf("timeout: %v", err)
	return nil
}

func combine(ctx context.Context, p *printer) error {
	names := rx.Just("ada", "grace", "linus")
	langs := rx.Just("analytical engine", "cobol", "c", "go")
	pairs, err := rx.ZipWith(names, langs, func(n, l string) string {
		return n + ": " + l
	}).ToSlice(ctx)
	if err != nil {
		return err
	}
	p.printf("zip: %s", strings.Join(pairs, ", "))

	fast := rx.Interval(10*time.Millisecond, nil).Take(3)
	slow := rx.Interval(25*time.Millisecond, nil).Take(2)
	merged, err := rx.Merge(fast, slow).ToSlice(ctx)
	if err != nil {
		return err
	}
	p.printf("merge: %v", merged)

	latest, err := rx.CombineLatest(fast, slow, func(a, b int64) string {
		return fmt.Sprintf("%d/%d", a, b)
	}).ToSlice(ctx)
	if err != nil {
		return err
	}
	p.printf("combineLatest: %v", latest)

	winner, err := rx.FirstWithValue(
		rx.Just("primary").DelayElements(50*time.Millisecond, nil),
		rx.Just("mirror").DelayElements(10*time.Millisecond, nil),
	).BlockFirst(ctx)
	if err != nil {
		return err
	}
	p.printf("first with value: %s", winner)
	return nil
}

func backpressure(ctx context.Context, p *printer) error {
	var mu sync.Mutex
	dropped := 0
	ticks := rx.Interval(time.Millisecond, nil).
		OnBackpressureDrop(func(int64) {
			mu.Lock()
			dropped++
			mu.Unlock()
		})
	got, err := rx.ConcatMap(ticks, func(_ context.Context, v int64) *rx.Stream[int64] {
		return rx.Just(v).DelayElements(5*time.Millisecond, nil)
	}).
		Take(5).
		ToSlice(ctx)
	if err != nil {
		return err
	}
	mu.Lock()
	p.printf("slow consumer received %v, %d ticks dropped", got, dropped)
	mu.Unlock()

	batches, err := rx.BufferTimeout(rx.Range(1, 10).LimitRate(4), 3, 50*time.Millisecond, nil).ToSlice(ctx)
	if err != nil {
		return err
	}
	p.printf("batches: %v", batches)

	start := time.Now()
	limited, err := rx.Range(1, 6).RateLimit(3, 100*time.Millisecond).ToSlice(ctx)
	if err != nil {
		return err
	}
	p.printf("rate limited %v in %v", limited, time.Since(start).Round(10*time.Millisecond))
	return nil
}

func group(ctx context.Context, p *printer) error {
	words := rx.Just("stream", "single", "scheduler", "publish", "prefetch", "retry")
	groups := rx.GroupBy(words, func(w string) byte { return w[0] })

	summaries, err := rx.FlatMap(groups, func(_ context.Context, g *rx.GroupedStream[byte, string]) *rx.Stream[string] {
		return rx.MapSingle(rx.CollectList(g.Stream), func(_ context.Context, ws []string) (string, error) {
			return fmt.Sprintf("%c: %s", g.Key, strings.Join(ws, " ")), nil
		}).Stream()
	}, 8).ToSlice(ctx)
	if err != nil {
		return err
	}
	for _, s := range summaries {
		p.printf("%s", s)
	}

	total, err := rx.Reduce(rx.Range(1, 100), func(a, b int) int { return a + b }).Block(ctx)
	if err != nil {
		return err
	}
	p.printf("sum 1..100 = %d", total)
	return nil
}
