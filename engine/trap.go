package engine

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/fiber"
)

// trapMessages maps engine runtime error texts to trap kinds.
var trapMessages = []struct {
	text string
	kind errors.TrapKind
}{
	{"unreachable", errors.TrapUnreachable},
	{"out of bounds memory access", errors.TrapMemoryOutOfBounds},
	{"invalid table access", errors.TrapTableOutOfBounds},
	{"integer divide by zero", errors.TrapDivideByZero},
	{"integer overflow", errors.TrapIntegerOverflow},
	{"invalid conversion to integer", errors.TrapInvalidConversion},
	{"indirect call type mismatch", errors.TrapIndirectCall},
	{"stack overflow", errors.TrapStackOverflow},
}

// classify turns an engine call error into a *errors.HostFuncError or
// a *errors.Trap.
func classify(name string, err error) error {
	var he *errors.HostFuncError
	if stderrors.As(err, &he) {
		return he
	}

	trap := trapOf(err)
	Logger().Debug("call trapped",
		zap.String("function", name),
		zap.String("kind", string(trap.Kind)),
		zap.Error(err))
	return trap
}

func trapOf(err error) *errors.Trap {
	if stderrors.Is(err, fiber.ErrCancelled) {
		return &errors.Trap{Kind: errors.TrapCanceled, Cause: err}
	}

	var exit *sys.ExitError
	if stderrors.As(err, &exit) {
		switch exit.ExitCode() {
		case sys.ExitCodeContextCanceled:
			return &errors.Trap{Kind: errors.TrapCanceled, Cause: err}
		case sys.ExitCodeDeadlineExceeded:
			return &errors.Trap{Kind: errors.TrapDeadlineExceeded, Cause: err}
		default:
			return &errors.Trap{Kind: errors.TrapExit, ExitCode: exit.ExitCode(), Cause: err}
		}
	}

	switch {
	case stderrors.Is(err, context.Canceled):
		return &errors.Trap{Kind: errors.TrapCanceled, Cause: err}
	case stderrors.Is(err, context.DeadlineExceeded):
		return &errors.Trap{Kind: errors.TrapDeadlineExceeded, Cause: err}
	}

	msg := err.Error()
	if i := strings.Index(msg, "wasm error: "); i >= 0 {
		msg = msg[i+len("wasm error: "):]
		for _, m := range trapMessages {
			if strings.HasPrefix(msg, m.text) {
				return &errors.Trap{Kind: m.kind, Cause: err}
			}
		}
	}
	return &errors.Trap{Kind: errors.TrapUnknown, Cause: err}
}
