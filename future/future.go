// Package future implements single-assignment results that
// are produced on one goroutine and awaited on others.
package future

import (
	"context"
	"sync"
	"time"
)

// Future is the eventual result of an asynchronous operation
type Future[T any] struct {
	once  sync.Once
	ready chan struct{} // Closed once the result is set
	value T
	err   error
}

// Resolver sets the result of a future. Only
// the first call has any effect.
type Resolver[T any] func(value T, err error)

// New creates a pending future and the function that resolves it
func New[T any]() (*Future[T], Resolver[T]) {
	f := &Future[T]{ready: make(chan struct{})}

	return f, f.resolve
}

// Resolved returns a future that is already resolved
func Resolved[T any](value T, err error) *Future[T] {
	f, resolve := New[T]()
	resolve(value, err)

	return f
}

// Failed returns a future that is already resolved with err
func Failed[T any](err error) *Future[T] {
	var zero T

	return Resolved(zero, err)
}

func (f *Future[T]) resolve(value T, err error) {
	f.once.Do(func() {
		f.value, f.err = value, err
		close(f.ready)
	})
}

// Done returns a channel that is closed once the result is available
func (f *Future[T]) Done() <-chan struct{} {
	return f.ready
}

// IsDone returns true if the result is available
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.ready:
		return true
	default:
		return false
	}
}

// Get waits for the result. It returns ctx.Err() if
// ctx is done first. The future stays pending in that case.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.ready:
		return f.value, f.err
	case <-ctx.Done():
		var zero T

		return zero, ctx.Err()
	}
}

// GetWithTimeout is like Get with a deadline timeout from now
func (f *Future[T]) GetWithTimeout(timeout time.Duration) (T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return f.Get(ctx)
}

// Then returns a future resolved with fn applied to the result of f.
// fn runs on its own goroutine once f resolves.
func Then[T, U any](f *Future[T], fn func(T, error) (U, error)) *Future[U] {
	next, resolve := New[U]()

	go func() {
		<-f.ready
		resolve(fn(f.value, f.err))
	}()

	return next
}

// All returns a future resolved once every future in futures is.
// Values keep the order of futures. The error is the first one
// encountered in that order.
func All[T any](futures ...*Future[T]) *Future[[]T] {
	all, resolve := New[[]T]()

	go func() {
		values := make([]T, len(futures))
		var firstErr error

		for i, f := range futures {
			<-f.ready
			values[i] = f.value

			if f.err != nil && firstErr == nil {
				firstErr = f.err
			}
		}

		resolve(values, firstErr)
	}()

	return all
}
