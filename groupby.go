package rx

import (
	"context"
	"sync"
)

// GroupedStream is the sub-sequence of one key of [GroupBy]. It accepts a
// single subscriber; a second one fails with [ErrAlreadySubscribed].
type GroupedStream[K comparable, T any] struct {
	*Stream[T]
	Key K
}

// GroupBy splits the stream into one GroupedStream per key, emitted when
// the key first occurs. Groups are hot: they hold their values until their
// subscriber joins, and complete only when the source does.
//
// The source is consumed without backpressure. Cancelling the outer stream
// cancels the source and completes the open groups; cancelling a group
// drops it, and a later value with its key opens a new group.
func GroupBy[T any, K comparable](src *Stream[T], keyFn func(T) K) *Stream[*GroupedStream[K, T]] {
	if keyFn == nil {
		panic("rx: GroupBy requires non-nil key function")
	}
	return newStream(func(ctx context.Context, down Subscriber[*GroupedStream[K, T]]) {
		g := &grouper[T, K]{
			keyFn:  keyFn,
			groups: make(map[K]*emitter[T]),
		}
		g.out = newEmitter(down)
		g.out.onCancel = g.cancel
		src.subscribe(ctx, g)
	})
}

type grouper[T any, K comparable] struct {
	keyFn func(T) K
	out   *emitter[*GroupedStream[K, T]]

	mu     sync.Mutex
	up     Subscription
	groups map[K]*emitter[T]
	done   bool
}

func (g *grouper[T, K]) OnSubscribe(s Subscription) {
	g.mu.Lock()
	g.up = s
	g.mu.Unlock()
	g.out.down.OnSubscribe(g.out)
	s.Request(Unbounded)
}

func (g *grouper[T, K]) OnNext(v T) {
	key, err := call("groupBy", func() (K, error) { return g.keyFn(v), nil })
	if err != nil {
		g.mu.Lock()
		up := g.up
		g.mu.Unlock()
		up.Cancel()
		g.terminate(err)
		return
	}

	g.mu.Lock()
	if g.done {
		g.mu.Unlock()
		return
	}
	group, ok := g.groups[key]
	if !ok {
		group = g.open(key)
	}
	// A group always holds its first value by the time it is published.
	group.offer(v, nil)
	g.mu.Unlock()

	if !ok {
		g.out.emit(&GroupedStream[K, T]{Key: key, Stream: groupStream(group)})
	}
	group.drain()
}

// open creates the group of key. Called with mu held.
func (g *grouper[T, K]) open(key K) *emitter[T] {
	group := newEmitter[T](nil)
	group.onCancel = func() {
		g.mu.Lock()
		if g.groups[key] == group {
			delete(g.groups, key)
		}
		g.mu.Unlock()
	}
	g.groups[key] = group
	return group
}

func groupStream[T any](group *emitter[T]) *Stream[T] {
	return newStream(func(_ context.Context, down Subscriber[T]) {
		if !group.attach(down) {
			failWith(down, ErrAlreadySubscribed)
		}
	})
}

func (g *grouper[T, K]) OnError(err error) { g.terminate(err) }
func (g *grouper[T, K]) OnComplete()       { g.terminate(nil) }

// terminate ends every open group and the outer stream with err, or
// completes them when err is nil.
func (g *grouper[T, K]) terminate(err error) {
	g.mu.Lock()
	if g.done {
		g.mu.Unlock()
		if err != nil {
			onErrorDropped(err)
		}
		return
	}
	g.done = true
	groups := make([]*emitter[T], 0, len(g.groups))
	for _, group := range g.groups {
		groups = append(groups, group)
	}
	g.groups = nil
	g.mu.Unlock()

	for _, group := range groups {
		group.finish(err)
		group.drain()
	}
	if err != nil {
		g.out.fail(err)
		return
	}
	g.out.complete()
}

// cancel runs when the outer subscriber cancels.
func (g *grouper[T, K]) cancel() {
	g.mu.Lock()
	up := g.up
	g.mu.Unlock()
	if up != nil {
		up.Cancel()
	}
	g.terminate(nil)
}
