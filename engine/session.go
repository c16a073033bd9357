package engine

import (
	"context"
	"sync"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/fiber"
	"github.com/wippyai/wasm-embed/linker"
	"github.com/wippyai/wasm-embed/types"
)

type StepStatus int

const (
	StepContinue StepStatus = iota // suspended on Pending
	StepDone                       // call finished
)

func (s StepStatus) String() string {
	if s == StepDone {
		return "done"
	}
	return "continue"
}

// StepResult is the outcome of one CallSession.Step.
type StepResult struct {
	Pending fiber.Future
	Results []types.Value
	Status  StepStatus
}

// CallSession is an in-progress call that may suspend inside bridged host
// functions. Use CallAsync to create one and Step or Run to advance it.
type CallSession struct {
	ctx     context.Context
	fb      *fiber.Fiber[[]types.Value]
	err     error
	results []types.Value
	mu      sync.Mutex
	done    bool
}

// CallAsync prepares fn for stepwise execution. Nothing runs until the
// first Step. ctx is the context of the call itself; argument errors are
// reported by the first Step.
func (e *Executor) CallAsync(ctx context.Context, fn *linker.Function, args []types.Value) *CallSession {
	s := &CallSession{ctx: ctx}
	if fn == nil {
		s.fail(errors.InvalidInput(errors.PhaseRuntime, "nil function"))
		return s
	}
	if ft := fn.Type(); !ft.Matches(args) {
		s.fail(errors.FuncTypeMismatch(qualifiedName(fn), ft.String(), types.TypeList(args)))
		return s
	}

	var opts []fiber.Option
	if e.store != nil && e.store.Config() != nil {
		opts = append(opts, fiber.WithStackSize(e.store.Config().Fiber.StackSize))
	}
	s.fb = fiber.New(func(fctx context.Context) ([]types.Value, error) {
		return e.Call(fctx, fn, args)
	}, opts...)
	return s
}

func (s *CallSession) fail(err error) {
	s.err = err
	s.done = true
}

// Step runs the call until it suspends or finishes. A suspended session
// returns StepContinue with the future it waits on; calling Step again
// before that future completes returns fiber.ErrNotReady.
func (s *CallSession) Step(ctx context.Context) (StepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return StepResult{Status: StepDone, Results: s.results}, s.err
	}
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}

	step, err := s.fb.Resume(s.ctx)
	if step.Done {
		s.done = true
		s.results, s.err = step.Value, err
		return StepResult{Status: StepDone, Results: step.Value}, err
	}
	if err != nil {
		return StepResult{}, err
	}
	return StepResult{Status: StepContinue, Pending: step.Future}, nil
}

// Run drives the session to completion, blocking on each pending future.
// If ctx ends while waiting the session is cancelled.
func (s *CallSession) Run(ctx context.Context) ([]types.Value, error) {
	for {
		sr, err := s.Step(ctx)
		if err != nil {
			return nil, err
		}
		if sr.Status == StepDone {
			return sr.Results, nil
		}
		if _, err := fiber.Wait(ctx, sr.Pending); err != nil && !fiber.Ready(sr.Pending) {
			s.Cancel()
			return nil, err
		}
	}
}

// Cancel stops the session. A suspended call is unwound and later Steps
// report a canceled trap. Cancelling a finished session has no effect.
func (s *CallSession) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return
	}
	s.fb.Cancel()
	s.fail(&errors.Trap{Kind: errors.TrapCanceled, Cause: fiber.ErrCancelled})
}

// Done reports whether the session has finished or was cancelled.
func (s *CallSession) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}
