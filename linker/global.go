package linker

import (
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/types"
)

type globalBinding struct {
	g api.Global
}

// Global is a global variable. A host-created global keeps its value in Go
// until it is linked.
type Global struct {
	handle
	refs  types.Refs
	bound atomic.Pointer[globalBinding]
	val   types.Value
	typ   types.GlobalType
}

// NewGlobal creates an owned global holding v.
func NewGlobal(gt types.GlobalType, v types.Value) (*Global, error) {
	if v.Type() != gt.Value {
		return nil, errors.TypeMismatch(errors.PhaseHost, nil, v.Type().String(), gt.Value.String())
	}
	return &Global{typ: gt, val: v}, nil
}

func newBoundGlobal(module, name string, g api.Global, refs types.Refs) *Global {
	gl := &Global{refs: refs}
	gl.init(module, name, Borrowed)
	gl.bound.Store(&globalBinding{g: g})
	gl.typ = engineGlobalType(g)
	return gl
}

func engineGlobalType(g api.Global) types.GlobalType {
	gt := types.GlobalType{Value: types.ValType(g.Type())}
	if _, ok := g.(api.MutableGlobal); ok {
		gt.Mutability = types.Var
	}
	return gt
}

// Kind returns types.KindGlobal.
func (g *Global) Kind() types.ExternKind { return types.KindGlobal }

// ExternType returns the global type.
func (g *Global) ExternType() types.ExternType { return g.typ }

// Type returns the value type and mutability.
func (g *Global) Type() types.GlobalType { return g.typ }

// Release drops the value of an owned, unlinked global.
func (g *Global) Release() {
	if g.release() {
		g.val = types.Value{}
	}
}

// attach routes the global to the engine global and stores the host value
// when the initializer could not express it.
func (g *Global) attach(eg api.Global, refs types.Refs) error {
	g.refs = refs
	val := g.val
	g.bound.Store(&globalBinding{g: eg})
	if !val.Type().IsRef() || val.IsNull() {
		return nil
	}
	mg, ok := eg.(api.MutableGlobal)
	if !ok {
		return errors.Unsupported(errors.PhaseLinking, "non-null reference in an immutable host global")
	}
	raw, err := types.EncodeValue(val, refs)
	if err != nil {
		return err
	}
	mg.Set(raw[0])
	return nil
}

// Get returns the current value.
func (g *Global) Get() (types.Value, error) {
	if err := g.check("global"); err != nil {
		return types.Value{}, err
	}
	b := g.bound.Load()
	if b == nil {
		return g.val, nil
	}
	if g.typ.Value == types.V128 {
		return types.Value{}, errors.Unsupported(errors.PhaseRuntime, "reading a v128 global")
	}
	v, _, err := types.DecodeValue(g.typ.Value, []uint64{b.g.Get()}, g.refs)
	return v, err
}

// Set stores v. Const globals and values of another type are rejected.
func (g *Global) Set(v types.Value) error {
	if err := g.check("global"); err != nil {
		return err
	}
	if g.typ.Mutability != types.Var {
		return errors.New(errors.PhaseRuntime, errors.KindImmutable).
			Path(g.path()...).
			WasmType(g.typ.String()).
			Detail("global is const").
			Build()
	}
	if v.Type() != g.typ.Value {
		return errors.TypeMismatch(errors.PhaseRuntime, g.path(), v.Type().String(), g.typ.Value.String())
	}
	b := g.bound.Load()
	if b == nil {
		g.val = v
		return nil
	}
	mg, ok := b.g.(api.MutableGlobal)
	if !ok {
		return errors.New(errors.PhaseRuntime, errors.KindImmutable).Path(g.path()...).Build()
	}
	raw, err := types.EncodeValue(v, g.refs)
	if err != nil {
		return err
	}
	if g.typ.Value == types.V128 {
		return errors.Unsupported(errors.PhaseRuntime, "writing a v128 global")
	}
	mg.Set(raw[0])
	return nil
}
