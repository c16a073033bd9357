package fiber

import (
	"context"
	"sync"
)

// Future is the result of work that completes outside the fiber.
// Result must only be called after Done is closed.
type Future interface {
	Done() <-chan struct{}
	Result() (any, error)
}

// Promise is a Future resolved by hand. The first Resolve or Reject wins.
type Promise struct {
	value any
	err   error
	done  chan struct{}
	once  sync.Once
}

// NewPromise creates an unresolved promise.
func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Resolve completes the promise with a value.
func (p *Promise) Resolve(v any) {
	p.once.Do(func() {
		p.value = v
		close(p.done)
	})
}

// Reject completes the promise with an error.
func (p *Promise) Reject(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

func (p *Promise) Done() <-chan struct{} { return p.done }

func (p *Promise) Result() (any, error) { return p.value, p.err }

// Go runs fn on a new goroutine and returns its future.
func Go(ctx context.Context, fn func(ctx context.Context) (any, error)) Future {
	p := NewPromise()
	go func() {
		v, err := fn(ctx)
		if err != nil {
			p.Reject(err)
			return
		}
		p.Resolve(v)
	}()
	return p
}

// Resolved returns a completed future holding v.
func Resolved(v any) Future {
	p := NewPromise()
	p.Resolve(v)
	return p
}

// Failed returns a completed future holding err.
func Failed(err error) Future {
	p := NewPromise()
	p.Reject(err)
	return p
}

// Ready reports whether fut has completed without blocking.
func Ready(fut Future) bool {
	select {
	case <-fut.Done():
		return true
	default:
		return false
	}
}

// Wait blocks until fut completes or ctx is done.
func Wait(ctx context.Context, fut Future) (any, error) {
	select {
	case <-fut.Done():
		return fut.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
