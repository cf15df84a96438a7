package rx

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

func mustPanic(t *testing.T, contains string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected panic")
		require.Contains(t, fmt.Sprint(r), contains)
	}()
	fn()
}

// recorder is a Subscriber that keeps every signal and lets the test drive
// demand by hand.
type recorder[T any] struct {
	initial int64

	mu        sync.Mutex
	sub       Subscription
	values    []T
	err       error
	completed bool
	done      chan struct{}
}

func newRecorder[T any](initial int64) *recorder[T] {
	return &recorder[T]{initial: initial, done: make(chan struct{})}
}

func (r *recorder[T]) OnSubscribe(s Subscription) {
	r.mu.Lock()
	r.sub = s
	r.mu.Unlock()
	if r.initial > 0 {
		s.Request(r.initial)
	}
}

func (r *recorder[T]) OnNext(v T) {
	r.mu.Lock()
	r.values = append(r.values, v)
	r.mu.Unlock()
}

func (r *recorder[T]) OnError(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	close(r.done)
}

func (r *recorder[T]) OnComplete() {
	r.mu.Lock()
	r.completed = true
	r.mu.Unlock()
	close(r.done)
}

func (r *recorder[T]) request(n int64) {
	r.mu.Lock()
	s := r.sub
	r.mu.Unlock()
	s.Request(n)
}

func (r *recorder[T]) cancel() {
	r.mu.Lock()
	s := r.sub
	r.mu.Unlock()
	s.Cancel()
}

func (r *recorder[T]) Values() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.values...)
}

func (r *recorder[T]) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *recorder[T]) Completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

func (r *recorder[T]) terminated() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// await waits for the terminal signal.
func (r *recorder[T]) await(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for terminal signal")
	}
}

// goid returns the id of the calling goroutine.
func goid() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	fields := bytes.Fields(buf)
	id, _ := strconv.ParseUint(string(fields[1]), 10, 64)
	return id
}
