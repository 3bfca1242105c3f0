package dispatch

import (
	"context"
	"sync"
)

// Future is a one-shot result slot. It is resolved after the operation's
// terminal callback has returned, so a successful Wait implies the callback
// already ran.
type Future[T any] struct {
	once   sync.Once
	done   chan struct{}
	result T
	err    error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) resolve(result T, err error) {
	f.once.Do(func() {
		f.result = result
		f.err = err
		close(f.done)
	})
}

// Done is closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the operation resolves or ctx ends. It returns the
// operation's own error when the operation failed.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
