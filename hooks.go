package rx

import (
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var (
	logger       atomic.Pointer[zerolog.Logger]
	errorHandler atomic.Pointer[func(error)]
)

func init() {
	l := zerolog.New(os.Stderr).With().Timestamp().Str("component", "rx").Logger()
	logger.Store(&l)
}

// SetLogger replaces the package logger used by Log and by the default
// error handler.
func SetLogger(l zerolog.Logger) {
	logger.Store(&l)
}

// Logger returns the package logger.
func Logger() zerolog.Logger {
	return *logger.Load()
}

// SetErrorHandler installs fn as the destination of errors nobody handles:
// errors reaching a Subscribe call without an OnError option, and errors
// signalled after a subscription already terminated. Passing nil restores
// the default, which logs the error.
func SetErrorHandler(fn func(error)) {
	if fn == nil {
		errorHandler.Store(nil)
		return
	}
	errorHandler.Store(&fn)
}

func onErrorDropped(err error) {
	if fn := errorHandler.Load(); fn != nil {
		(*fn)(err)
		return
	}
	l := Logger()
	l.Error().
		Err(err).
		Str("class", Classify(err).String()).
		Msg("unhandled error")
}
