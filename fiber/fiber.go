package fiber

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/errors"
)

// State is the lifecycle state of a fiber.
type State int32

const (
	Created State = iota
	Running
	Suspended
	Completed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	// ErrNotReady is returned by Resume while the pending future is unresolved.
	ErrNotReady = &errors.Error{Phase: errors.PhaseRuntime, Kind: errors.KindNotReady}

	// ErrFinished is returned by Resume once the fiber has completed or been cancelled.
	ErrFinished = &errors.Error{Phase: errors.PhaseRuntime, Kind: errors.KindInvalidState, Detail: "fiber finished"}

	// ErrCancelled matches the unwind raised inside a cancelled fiber, including
	// when an engine has wrapped it into its own error.
	ErrCancelled = &errors.Error{Phase: errors.PhaseRuntime, Kind: errors.KindCanceled, Detail: "fiber cancelled"}
)

// PanicError carries a panic raised by a fiber body.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("fiber panic: %v", e.Value)
}

// Step is the outcome of one Resume: either a yielded future or completion.
type Step[T any] struct {
	Future Future
	Value  T
	Done   bool
}

// Yielded reports whether the fiber suspended on Future.
func (s Step[T]) Yielded() bool { return !s.Done && s.Future != nil }

// Option configures a fiber.
type Option func(*options)

type options struct {
	stackSize int
}

// WithStackSize records the requested stack size. Goroutine stacks grow on
// demand, so the value is informational.
func WithStackSize(n int) Option {
	return func(o *options) { o.stackSize = n }
}

type event struct {
	future Future
	done   bool
}

// Fiber runs body on its own stack. The body may suspend with Await; the
// driver sees the suspension as a yielded Step and resumes once the future
// has completed.
type Fiber[T any] struct {
	body      func(ctx context.Context) (T, error)
	pending   Future
	result    T
	err       error
	events    chan event
	resume    chan struct{}
	cancelled chan struct{}
	exited    chan struct{}
	opts      options
	mu        sync.Mutex
	state     atomic.Int32
}

// New creates a fiber in the Created state. The body does not start until
// the first Resume.
func New[T any](body func(ctx context.Context) (T, error), opts ...Option) *Fiber[T] {
	f := &Fiber[T]{
		body:      body,
		events:    make(chan event, 1),
		resume:    make(chan struct{}),
		cancelled: make(chan struct{}),
		exited:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(&f.opts)
	}
	return f
}

// State returns the current state.
func (f *Fiber[T]) State() State {
	return State(f.state.Load())
}

// StackSize returns the configured stack size, 0 if unset.
func (f *Fiber[T]) StackSize() int {
	return f.opts.stackSize
}

// Resume starts or continues the body and runs it until it suspends or
// returns. The first Resume's context is the body's context. When the body
// returns, the Step is Done and the error is the body's error.
func (f *Fiber[T]) Resume(ctx context.Context) (Step[T], error) {
	if f.State() == Running {
		return Step[T]{}, &errors.Error{Phase: errors.PhaseRuntime, Kind: errors.KindInvalidState, Detail: "fiber already running"}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.State() {
	case Completed, Cancelled:
		return Step[T]{}, ErrFinished
	case Created:
		f.state.Store(int32(Running))
		go f.run(ctx)
	case Suspended:
		if !Ready(f.pending) {
			return Step[T]{}, ErrNotReady
		}
		f.pending = nil
		f.state.Store(int32(Running))
		f.resume <- struct{}{}
	}

	ev := <-f.events
	if ev.done {
		f.state.Store(int32(Completed))
		return Step[T]{Done: true, Value: f.result}, f.err
	}
	f.pending = ev.future
	f.state.Store(int32(Suspended))
	return Step[T]{Future: ev.future}, nil
}

// Cancel stops the fiber. A suspended body is unwound: its pending Await
// panics with an internal sentinel so deferred calls run, and Cancel waits
// for the body to exit. Cancelling a fiber that never started or already
// finished only marks it.
func (f *Fiber[T]) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.State() {
	case Created:
		f.state.Store(int32(Cancelled))
	case Suspended:
		f.state.Store(int32(Cancelled))
		f.pending = nil
		close(f.cancelled)
		<-f.exited
		Logger().Debug("fiber cancelled while suspended")
	}
}

func (f *Fiber[T]) run(ctx context.Context) {
	defer close(f.exited)
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if IsUnwind(r) {
			return
		}
		f.err = &PanicError{Value: r, Stack: debug.Stack()}
		Logger().Debug("fiber body panicked", zap.Any("value", r))
		f.events <- event{done: true}
	}()

	f.result, f.err = f.body(withYielder(ctx, f))
	f.events <- event{done: true}
}

// yield hands fut to the driver and parks until resumed or cancelled.
func (f *Fiber[T]) yield(fut Future) {
	f.events <- event{future: fut}
	select {
	case <-f.resume:
	case <-f.cancelled:
		panic(unwind{})
	}
}

type yielder interface {
	yield(fut Future)
}

type yielderKey struct{}

func withYielder(ctx context.Context, y yielder) context.Context {
	return context.WithValue(ctx, yielderKey{}, y)
}

// InFiber reports whether ctx belongs to a fiber body, so Await would suspend.
func InFiber(ctx context.Context) bool {
	_, ok := ctx.Value(yielderKey{}).(yielder)
	return ok
}

// Await returns the result of fut. Inside a fiber body an unresolved future
// suspends the fiber and control returns to whoever called Resume. Outside
// a fiber Await blocks until fut completes or ctx is done.
func Await(ctx context.Context, fut Future) (any, error) {
	if Ready(fut) {
		return fut.Result()
	}
	y, ok := ctx.Value(yielderKey{}).(yielder)
	if !ok {
		return Wait(ctx, fut)
	}
	y.yield(fut)
	return fut.Result()
}

// unwind is the panic value used to unwind a cancelled fiber.
type unwind struct{}

func (unwind) Error() string { return "fiber unwound by cancel" }

func (unwind) Is(target error) bool { return target == error(ErrCancelled) }

// IsUnwind reports whether a recovered panic value is a cancellation unwind.
// Code that recovers panics on a fiber stack must re-panic such values.
func IsUnwind(r any) bool {
	_, ok := r.(unwind)
	return ok
}
