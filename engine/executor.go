package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/linker"
	"github.com/wippyai/wasm-embed/types"
)

const tracerName = "github.com/wippyai/wasm-embed/engine"

// Option configures an Executor.
type Option func(*Executor)

// WithTracerProvider records a span per call. The global provider is used
// by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Executor) {
		e.tracer = tp.Tracer(tracerName)
	}
}

// Executor calls functions of instances linked into a store.
type Executor struct {
	store  *linker.Store
	tracer trace.Tracer
}

// NewExecutor creates an executor for functions linked into store.
func NewExecutor(store *linker.Store, opts ...Option) *Executor {
	e := &Executor{
		store:  store,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the store the executor calls into.
func (e *Executor) Store() *linker.Store {
	return e.store
}

// Call invokes fn with args and returns its results.
//
// Arguments are checked against the signature first; a mismatch fails with
// ErrFuncTypeMismatch and the engine is not entered. A host function that
// was never linked is called directly.
func (e *Executor) Call(ctx context.Context, fn *linker.Function, args []types.Value) (results []types.Value, err error) {
	if fn == nil {
		return nil, errors.InvalidInput(errors.PhaseRuntime, "nil function")
	}
	name := qualifiedName(fn)
	ft := fn.Type()
	if !ft.Matches(args) {
		return nil, errors.FuncTypeMismatch(name, ft.String(), types.TypeList(args))
	}

	ctx, span := e.tracer.Start(ctx, "wasm.call", trace.WithAttributes(
		attribute.String("wasm.function", name),
		attribute.Int("wasm.params", len(args)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	ef := fn.Engine()
	if ef == nil {
		if fn.IsHost() {
			return fn.CallHost(ctx, args)
		}
		return nil, errors.Unsupported(errors.PhaseRuntime, "function "+name+" is not linked")
	}

	refs := fn.Refs()
	if refs == nil && e.store != nil {
		refs = e.store.Refs()
	}
	raw, err := types.EncodeValues(args, refs)
	if err != nil {
		return nil, err
	}
	nres := types.SlotCount(ft.Results)
	stack := make([]uint64, max(len(raw), nres))
	copy(stack, raw)

	if err := ef.CallWithStack(ctx, stack); err != nil {
		return nil, classify(name, err)
	}
	return types.DecodeValues(ft.Results, stack[:nres], refs)
}

// CallExport looks up the exported function name on inst and calls it.
// The instance is attached to the call context for host functions.
func (e *Executor) CallExport(ctx context.Context, inst *linker.Instance, name string, args ...types.Value) ([]types.Value, error) {
	fn, ok := inst.Function(name)
	if !ok {
		return nil, errors.NotFound(errors.PhaseRuntime, "function", name)
	}
	return e.Call(linker.WithInstance(ctx, inst), fn, args)
}

func qualifiedName(fn *linker.Function) string {
	switch {
	case fn.Name() == "":
		return "<host>"
	case fn.ModuleName() == "":
		return fn.Name()
	default:
		return fn.ModuleName() + "." + fn.Name()
	}
}
