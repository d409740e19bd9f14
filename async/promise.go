// Package async converts callback-style completion into single-resolution
// asynchronous values.
//
// A Promise settles exactly once. Waiting on it never cancels the underlying
// operation: there is no timeout or cancellation anywhere in this package.
// Callers that need a deadline can select on Done together with their own
// timer and stop waiting, but the operation still runs to completion.
package async

import (
	"sync"
)

// Void is the value of promises that resolve empty.
type Void = struct{}

// Promise is a value that becomes available once, either as a value or as an
// error.
type Promise[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func newPromise[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

// Resolved returns a promise already settled with v.
func Resolved[T any](v T) *Promise[T] {
	p := newPromise[T]()
	p.settle(v, nil)
	return p
}

// Rejected returns a promise already settled with err.
func Rejected[T any](err error) *Promise[T] {
	p := newPromise[T]()
	var zero T
	p.settle(zero, err)
	return p
}

// settle records the outcome. It returns false if the promise had already
// settled, in which case the new outcome is discarded.
func (p *Promise[T]) settle(v T, err error) bool {
	settled := false
	p.once.Do(func() {
		p.value = v
		p.err = err
		settled = true
		close(p.done)
	})
	return settled
}

// Await blocks until the promise settles and returns its outcome.
func (p *Promise[T]) Await() (T, error) {
	<-p.done
	return p.value, p.err
}

// Done is closed once the promise has settled.
func (p *Promise[T]) Done() <-chan struct{} {
	return p.done
}

// Settled reports whether the outcome is available without blocking.
func (p *Promise[T]) Settled() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
