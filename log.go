package rx

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Log records every signal, request and cancellation passing through this
// point with the package logger. Each subscription is tagged with a fresh
// correlation id so concurrent subscriptions can be told apart.
func (s *Stream[T]) Log(name string) *Stream[T] {
	return s.LogWith(name, Logger())
}

// LogWith is Log with an explicit logger.
func (s *Stream[T]) LogWith(name string, l zerolog.Logger) *Stream[T] {
	return newStream(func(ctx context.Context, down Subscriber[T]) {
		sl := l.With().
			Str("op", name).
			Str("sub", uuid.NewString()).
			Logger()

		s.peek(peekHooks[T]{
			onSubscribe: func() {
				sl.Info().Str("signal", "subscribe").Msg("onSubscribe")
			},
			onRequest: func(n int64) {
				ev := sl.Info().Str("signal", "request")
				if n == Unbounded {
					ev = ev.Str("n", "unbounded")
				} else {
					ev = ev.Int64("n", n)
				}
				ev.Msg("request")
			},
			onNext: func(v T) {
				sl.Info().Str("signal", KindNext.String()).Interface("value", v).Msg("onNext")
			},
			onError: func(err error) {
				sl.Error().Str("signal", KindError.String()).Err(err).Msg("onError")
			},
			onComplete: func() {
				sl.Info().Str("signal", KindComplete.String()).Msg("onComplete")
			},
			onCancel: func() {
				sl.Info().Str("signal", KindCancel.String()).Msg("cancel")
			},
		}).subscribe(ctx, down)
	})
}
