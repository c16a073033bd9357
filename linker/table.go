package linker

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/types"
	"github.com/wippyai/wasm-embed/wasm"
)

// MaxTableSize caps tables that declare no maximum.
const MaxTableSize = 10_000_000

type tableBinding struct {
	size, grow, get, set api.Function
}

// Table is a table of references. A host-created table keeps its elements
// in Go until it is linked; afterwards every operation goes to the engine
// through the instance's table accessor functions.
type Table struct {
	handle
	refs  types.Refs
	bound atomic.Pointer[tableBinding]
	elems []types.Value
	typ   types.TableType
}

// NewTable creates an owned table of tt.Min elements set to init.
func NewTable(tt types.TableType, init types.Value) (*Table, error) {
	if !tt.Elem.IsRef() {
		return nil, errors.InvalidInput(errors.PhaseHost, "table element type must be a reference, got "+tt.Elem.String())
	}
	if init.Type() != tt.Elem {
		return nil, errors.TypeMismatch(errors.PhaseHost, nil, init.Type().String(), tt.Elem.String())
	}
	if tt.Max != nil && tt.Min > *tt.Max {
		return nil, errors.InvalidInput(errors.PhaseHost, fmt.Sprintf("table min %d greater than max %d", tt.Min, *tt.Max))
	}
	if tt.Min > MaxTableSize {
		return nil, errors.InvalidInput(errors.PhaseHost, fmt.Sprintf("table min %d exceeds %d", tt.Min, MaxTableSize))
	}
	elems := make([]types.Value, tt.Min)
	for i := range elems {
		elems[i] = init
	}
	return &Table{typ: tt, elems: elems}, nil
}

func newBoundTable(module, name string, tt types.TableType, mod api.Module, refs types.Refs) (*Table, bool) {
	t := &Table{typ: tt, refs: refs}
	t.init(module, name, Borrowed)
	b, ok := accessorsOf(mod, name)
	if !ok {
		return nil, false
	}
	t.bound.Store(b)
	return t, true
}

// Kind returns types.KindTable.
func (t *Table) Kind() types.ExternKind { return types.KindTable }

// ExternType returns the table type.
func (t *Table) ExternType() types.ExternType { return t.typ }

// Type returns the declared table type. Size reports the current size.
func (t *Table) Type() types.TableType { return t.typ }

// Release frees the elements of an owned, unlinked table.
func (t *Table) Release() {
	if t.release() {
		t.elems = nil
	}
}

func accessorsOf(mod api.Module, name string) (*tableBinding, bool) {
	names := wasm.AccessorNames(name)
	b := &tableBinding{
		size: mod.ExportedFunction(names.Size),
		grow: mod.ExportedFunction(names.Grow),
		get:  mod.ExportedFunction(names.Get),
		set:  mod.ExportedFunction(names.Set),
	}
	if b.size == nil || b.grow == nil || b.get == nil || b.set == nil {
		return nil, false
	}
	return b, true
}

// attach moves a host table into the engine table exported by mod as name.
// The engine table must already have the host table's size.
func (t *Table) attach(ctx context.Context, mod api.Module, name string, refs types.Refs) error {
	b, ok := accessorsOf(mod, name)
	if !ok {
		return errors.NotFound(errors.PhaseLinking, "table accessors for", name)
	}
	t.refs = refs
	t.bound.Store(b)
	elems := t.elems
	t.elems = nil
	for i, v := range elems {
		if v.IsNull() {
			continue
		}
		if err := t.Set(ctx, uint32(i), v); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) limit() uint32 {
	if t.typ.Max != nil {
		return *t.typ.Max
	}
	return MaxTableSize
}

// Size returns the current number of elements.
func (t *Table) Size(ctx context.Context) (uint32, error) {
	if err := t.check("table"); err != nil {
		return 0, err
	}
	b := t.bound.Load()
	if b == nil {
		return uint32(len(t.elems)), nil
	}
	res, err := b.size.Call(ctx)
	if err != nil {
		return 0, t.engineError("size", err)
	}
	return api.DecodeU32(res[0]), nil
}

// Grow adds delta elements set to init and returns the previous size.
// Growing beyond the maximum is an OutOfBounds error and leaves the table unchanged.
func (t *Table) Grow(ctx context.Context, delta uint32, init types.Value) (uint32, error) {
	if init.Type() != t.typ.Elem {
		return 0, errors.TypeMismatch(errors.PhaseRuntime, t.path(), init.Type().String(), t.typ.Elem.String())
	}
	size, err := t.Size(ctx)
	if err != nil {
		return 0, err
	}
	if uint64(size)+uint64(delta) > uint64(t.limit()) {
		return 0, errors.New(errors.PhaseRuntime, errors.KindOutOfBounds).
			Path(t.path()...).
			Value(delta).
			Detail("grow by %d from %d exceeds maximum %d", delta, size, t.limit()).
			Build()
	}

	b := t.bound.Load()
	if b == nil {
		for i := uint32(0); i < delta; i++ {
			t.elems = append(t.elems, init)
		}
		return size, nil
	}

	res, err := b.grow.Call(ctx, api.EncodeU32(delta))
	if err != nil {
		return 0, t.engineError("grow", err)
	}
	if int32(res[0]) == -1 {
		return 0, errors.New(errors.PhaseRuntime, errors.KindOutOfBounds).
			Path(t.path()...).
			Value(delta).
			Detail("engine refused to grow by %d from %d", delta, size).
			Build()
	}
	if !init.IsNull() {
		for i := size; i < size+delta; i++ {
			if err := t.Set(ctx, i, init); err != nil {
				return 0, err
			}
		}
	}
	return size, nil
}

// Get returns element i.
func (t *Table) Get(ctx context.Context, i uint32) (types.Value, error) {
	size, err := t.Size(ctx)
	if err != nil {
		return types.Value{}, err
	}
	if i >= size {
		return types.Value{}, errors.OutOfBounds(errors.PhaseRuntime, t.path(), uint64(i), uint64(size))
	}
	b := t.bound.Load()
	if b == nil {
		return t.elems[i], nil
	}
	res, err := b.get.Call(ctx, api.EncodeU32(i))
	if err != nil {
		return types.Value{}, t.engineError("get", err)
	}
	v, _, err := types.DecodeValue(t.typ.Elem, res, t.refs)
	return v, err
}

// Set stores v at element i. v must have the table's element type.
func (t *Table) Set(ctx context.Context, i uint32, v types.Value) error {
	if v.Type() != t.typ.Elem {
		return errors.TypeMismatch(errors.PhaseRuntime, t.path(), v.Type().String(), t.typ.Elem.String())
	}
	size, err := t.Size(ctx)
	if err != nil {
		return err
	}
	if i >= size {
		return errors.OutOfBounds(errors.PhaseRuntime, t.path(), uint64(i), uint64(size))
	}
	b := t.bound.Load()
	if b == nil {
		t.elems[i] = v
		return nil
	}
	raw, err := types.EncodeValue(v, t.refs)
	if err != nil {
		return err
	}
	if _, err := b.set.Call(ctx, api.EncodeU32(i), raw[0]); err != nil {
		return t.engineError("set", err)
	}
	return nil
}

func (t *Table) engineError(op string, err error) error {
	return errors.New(errors.PhaseRuntime, errors.KindInvalidState).
		Path(t.path()...).
		Detail("table %s", op).
		Cause(err).
		Build()
}
