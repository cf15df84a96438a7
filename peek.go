package rx

import (
	"context"
	"sync"
)

// peekHooks are side effects attached to a stream without changing it.
type peekHooks[T any] struct {
	onSubscribe func()
	onNext      func(T)
	onError     func(error)
	onComplete  func()
	onRequest   func(int64)
	onCancel    func()
	onFinally   func(Kind)
}

func (s *Stream[T]) peek(h peekHooks[T]) *Stream[T] {
	return lift(s, func(_ context.Context, down Subscriber[T]) Subscriber[T] {
		return &peekStage[T]{relay: relay[T, T]{down: down}, hooks: h}
	})
}

type peekStage[T any] struct {
	relay[T, T]
	hooks   peekHooks[T]
	finally sync.Once
}

func (p *peekStage[T]) OnSubscribe(s Subscription) {
	p.up = s
	if h := p.hooks.onSubscribe; h != nil {
		if err := guard("doOnSubscribe", h); err != nil {
			s.Cancel()
			p.down.OnSubscribe(emptySubscription{})
			p.OnError(err)
			return
		}
	}
	p.down.OnSubscribe(p)
}

func (p *peekStage[T]) Request(n int64) {
	if h := p.hooks.onRequest; h != nil {
		if err := guard("doOnRequest", func() { h(n) }); err != nil {
			onErrorDropped(err)
		}
	}
	p.up.Request(n)
}

func (p *peekStage[T]) Cancel() {
	if h := p.hooks.onCancel; h != nil {
		if err := guard("doOnCancel", h); err != nil {
			onErrorDropped(err)
		}
	}
	p.up.Cancel()
	p.runFinally(KindCancel)
}

func (p *peekStage[T]) OnNext(v T) {
	if p.done {
		return
	}
	if h := p.hooks.onNext; h != nil {
		if err := guard("doOnNext", func() { h(v) }); err != nil {
			p.fail(err)
			return
		}
	}
	p.down.OnNext(v)
}

func (p *peekStage[T]) OnError(err error) {
	if p.done {
		onErrorDropped(err)
		return
	}
	if h := p.hooks.onError; h != nil {
		if herr := guard("doOnError", func() { h(err) }); herr != nil {
			onErrorDropped(herr)
		}
	}
	p.relay.OnError(err)
	p.runFinally(KindError)
}

func (p *peekStage[T]) OnComplete() {
	if p.done {
		return
	}
	if h := p.hooks.onComplete; h != nil {
		if err := guard("doOnComplete", h); err != nil {
			p.relay.OnError(err)
			p.runFinally(KindError)
			return
		}
	}
	p.relay.OnComplete()
	p.runFinally(KindComplete)
}

func (p *peekStage[T]) runFinally(k Kind) {
	h := p.hooks.onFinally
	if h == nil {
		return
	}
	p.finally.Do(func() {
		if err := guard("doFinally", func() { h(k) }); err != nil {
			onErrorDropped(err)
		}
	})
}

// DoOnNext calls fn with every value before passing it on. A panic in fn
// fails the stream.
func (s *Stream[T]) DoOnNext(fn func(T)) *Stream[T] {
	return s.peek(peekHooks[T]{onNext: fn})
}

// DoOnError calls fn with the terminal error before passing it on.
func (s *Stream[T]) DoOnError(fn func(error)) *Stream[T] {
	return s.peek(peekHooks[T]{onError: fn})
}

// DoOnComplete calls fn before passing completion on.
func (s *Stream[T]) DoOnComplete(fn func()) *Stream[T] {
	return s.peek(peekHooks[T]{onComplete: fn})
}

// DoOnSubscribe calls fn when the subscription is established.
func (s *Stream[T]) DoOnSubscribe(fn func()) *Stream[T] {
	return s.peek(peekHooks[T]{onSubscribe: fn})
}

// DoOnRequest calls fn with every request made by the downstream.
func (s *Stream[T]) DoOnRequest(fn func(n int64)) *Stream[T] {
	return s.peek(peekHooks[T]{onRequest: fn})
}

// DoOnCancel calls fn when the downstream cancels.
func (s *Stream[T]) DoOnCancel(fn func()) *Stream[T] {
	return s.peek(peekHooks[T]{onCancel: fn})
}

// DoOnEach calls fn with every signal, values and terminal alike.
func (s *Stream[T]) DoOnEach(fn func(Signal[T])) *Stream[T] {
	if fn == nil {
		panic("rx: DoOnEach requires non-nil function")
	}
	return s.peek(peekHooks[T]{
		onNext:     func(v T) { fn(NextSignal(v)) },
		onError:    func(err error) { fn(ErrorSignal[T](err)) },
		onComplete: func() { fn(CompleteSignal[T]()) },
	})
}

// DoFinally calls fn exactly once after the stream completed, failed or was
// cancelled, with the kind of ending. It runs after the downstream was
// signalled.
func (s *Stream[T]) DoFinally(fn func(Kind)) *Stream[T] {
	return s.peek(peekHooks[T]{onFinally: fn})
}
