package linker

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/fiber"
	"github.com/wippyai/wasm-embed/types"
)

// HostFunc implements a function in Go. args match the declared parameter
// types; the returned values must match the declared result types.
type HostFunc func(ctx context.Context, caller *Caller, args []types.Value) ([]types.Value, error)

// Caller is the instance that invoked a host function.
// Its module is nil when the function is called directly from Go.
type Caller struct {
	mod  api.Module
	refs types.Refs
}

// Module returns the calling module, or nil.
func (c *Caller) Module() api.Module { return c.mod }

// Refs returns the store's externref table.
func (c *Caller) Refs() types.Refs { return c.refs }

// Name returns the calling instance name.
func (c *Caller) Name() string {
	if c.mod == nil {
		return ""
	}
	return c.mod.Name()
}

// Memory returns the caller's memory, or nil.
func (c *Caller) Memory() api.Memory {
	if c.mod == nil {
		return nil
	}
	return c.mod.Memory()
}

// Read copies n bytes at offset out of the caller's memory.
func (c *Caller) Read(offset, n uint32) ([]byte, error) {
	mem := c.Memory()
	if mem == nil {
		return nil, errors.Runtime(errors.CodeNoCaller, stderrors.New("caller has no memory"))
	}
	buf, ok := mem.Read(offset, n)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseRuntime, []string{c.Name(), "memory"}, uint64(offset)+uint64(n), uint64(mem.Size()))
	}
	out := make([]byte, n)
	copy(out, buf)
	return out, nil
}

// Write copies data into the caller's memory at offset.
func (c *Caller) Write(offset uint32, data []byte) error {
	mem := c.Memory()
	if mem == nil {
		return errors.Runtime(errors.CodeNoCaller, stderrors.New("caller has no memory"))
	}
	if !mem.Write(offset, data) {
		return errors.OutOfBounds(errors.PhaseRuntime, []string{c.Name(), "memory"}, uint64(offset)+uint64(len(data)), uint64(mem.Size()))
	}
	return nil
}

type funcBinding struct {
	fn  api.Function
	typ types.FuncType
}

// Function is a host function or a function exported by an instance.
type Function struct {
	handle
	host  HostFunc
	typ   types.FuncType
	refs  types.Refs
	bound atomic.Pointer[funcBinding]
	async bool
}

// NewFunction creates an owned host function.
func NewFunction(ft types.FuncType, fn HostFunc) *Function {
	return &Function{typ: ft, host: fn}
}

// NewAsyncFunction creates an owned host function whose body runs on its own
// fiber per call, so it may suspend with fiber.Await.
func NewAsyncFunction(ft types.FuncType, fn HostFunc) *Function {
	return &Function{typ: ft, host: fn, async: true}
}

func newBoundFunction(module, name string, fn api.Function, refs types.Refs) *Function {
	f := &Function{refs: refs}
	f.init(module, name, Borrowed)
	f.bind(fn)
	f.typ = f.bound.Load().typ
	return f
}

// Kind returns types.KindFunction.
func (f *Function) Kind() types.ExternKind { return types.KindFunction }

// ExternType returns the signature.
func (f *Function) ExternType() types.ExternType { return f.Type() }

// Type returns the signature, read from the engine definition once bound.
func (f *Function) Type() types.FuncType {
	if b := f.bound.Load(); b != nil {
		return b.typ
	}
	return f.typ
}

// IsHost reports whether the function is implemented in Go.
func (f *Function) IsHost() bool { return f.host != nil }

// IsAsync reports whether the function runs on a bridged fiber.
func (f *Function) IsAsync() bool { return f.async }

// Engine returns the engine function, or nil before the function is linked.
func (f *Function) Engine() api.Function {
	if b := f.bound.Load(); b != nil {
		return b.fn
	}
	return nil
}

// Refs returns the externref table used for conversions, nil when unlinked.
func (f *Function) Refs() types.Refs { return f.refs }

// Release marks an owned function released.
func (f *Function) Release() {
	f.release()
}

// CallHost runs an unlinked host function directly, outside the engine.
func (f *Function) CallHost(ctx context.Context, args []types.Value) ([]types.Value, error) {
	if err := f.check("function"); err != nil {
		return nil, err
	}
	if f.host == nil {
		return nil, errors.Unsupported(errors.PhaseRuntime, "function is not a host function")
	}
	return f.invoke(ctx, &Caller{refs: f.refs}, args)
}

func (f *Function) bind(fn api.Function) {
	def := fn.Definition()
	f.bound.CompareAndSwap(nil, &funcBinding{
		fn:  fn,
		typ: types.Func(fromAPITypes(def.ParamTypes()), fromAPITypes(def.ResultTypes())),
	})
}

func (f *Function) qualifiedName() string {
	if f.module == "" {
		return f.name
	}
	return f.module + "." + f.name
}

// invoke runs the host body and checks its results.
func (f *Function) invoke(ctx context.Context, caller *Caller, args []types.Value) ([]types.Value, error) {
	var (
		results []types.Value
		err     error
	)
	if f.async {
		results, err = f.invokeAsync(ctx, caller, args)
	} else {
		results, err = f.invokeSync(ctx, caller, args)
	}
	if err != nil {
		return nil, f.hostError(err)
	}
	if !resultsMatch(f.typ.Results, results) {
		return nil, f.hostError(errors.Runtime(errors.CodeBadResult,
			fmt.Errorf("returned %s, declared %s", types.TypeList(results), f.typ)))
	}
	return results, nil
}

func (f *Function) invokeSync(ctx context.Context, caller *Caller, args []types.Value) (results []types.Value, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if fiber.IsUnwind(r) || isExit(r) {
			panic(r)
		}
		err = errors.Runtime(errors.CodePanic, &fiber.PanicError{Value: r, Stack: debug.Stack()})
	}()
	return f.host(ctx, caller, args)
}

// invokeAsync runs the body on a fiber. Suspensions are forwarded to ctx:
// they yield the enclosing fiber when there is one and block otherwise.
func (f *Function) invokeAsync(ctx context.Context, caller *Caller, args []types.Value) ([]types.Value, error) {
	fb := fiber.New(func(fctx context.Context) ([]types.Value, error) {
		return f.host(fctx, caller, args)
	})
	defer fb.Cancel()

	for {
		step, err := fb.Resume(ctx)
		if step.Done {
			var pe *fiber.PanicError
			if stderrors.As(err, &pe) {
				return nil, errors.Runtime(errors.CodePanic, err)
			}
			return step.Value, err
		}
		if err != nil {
			return nil, errors.Runtime(errors.CodeCanceled, err)
		}
		if _, err := fiber.Await(ctx, step.Future); err != nil && !fiber.Ready(step.Future) {
			return nil, errors.Runtime(errors.CodeCanceled, err)
		}
	}
}

// hostError normalizes err to a *HostFuncError carrying the function name.
// Exit errors pass through unchanged.
func (f *Function) hostError(err error) error {
	var exit *sys.ExitError
	if stderrors.As(err, &exit) {
		return exit
	}
	var he *errors.HostFuncError
	if !stderrors.As(err, &he) {
		return &errors.HostFuncError{Kind: errors.HostUser, Cause: err, Name: f.qualifiedName()}
	}
	if he.Name != "" {
		return err
	}
	named := *he
	named.Name = f.qualifiedName()
	return &named
}

// goFunc adapts the function to the engine calling convention. Failures are
// raised as panics, which the engine turns into call errors that still
// unwrap to the original error.
func (f *Function) goFunc() api.GoModuleFunc {
	if f.host == nil {
		return func(ctx context.Context, _ api.Module, stack []uint64) {
			fn := f.Engine()
			if fn == nil {
				panic(errors.Unsupported(errors.PhaseRuntime, "re-exported function is not bound"))
			}
			if err := fn.CallWithStack(ctx, stack); err != nil {
				panic(err)
			}
		}
	}

	params := f.typ.Params
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		args, err := types.DecodeValues(params, stack, f.refs)
		if err != nil {
			panic(f.hostError(errors.Runtime(errors.CodeBadArgs, err)))
		}
		results, err := f.invoke(ctx, &Caller{mod: mod, refs: f.refs}, args)
		if err != nil {
			panic(err)
		}
		raw, err := types.EncodeValues(results, f.refs)
		if err != nil {
			panic(f.hostError(errors.Runtime(errors.CodeBadResult, err)))
		}
		copy(stack, raw)
	}
}

func isExit(r any) bool {
	err, ok := r.(error)
	if !ok {
		return false
	}
	var exit *sys.ExitError
	return stderrors.As(err, &exit)
}

func resultsMatch(want []types.ValType, got []types.Value) bool {
	if len(want) != len(got) {
		return false
	}
	for i, v := range got {
		if v.Type() != want[i] {
			return false
		}
	}
	return true
}

// bindable reports whether the engine can pass t to and from Go.
func bindable(t types.ValType) bool {
	switch t {
	case types.I32, types.I64, types.F32, types.F64, types.ExternRef:
		return true
	}
	return false
}

func toAPITypes(ts []types.ValType) []api.ValueType {
	out := make([]api.ValueType, len(ts))
	for i, t := range ts {
		out[i] = api.ValueType(t)
	}
	return out
}

func fromAPITypes(ts []api.ValueType) []types.ValType {
	out := make([]types.ValType, len(ts))
	for i, t := range ts {
		out[i] = types.ValType(t)
	}
	return out
}
