package linker

import (
	"context"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"

	"github.com/wippyai/wasm-embed/module"
	"github.com/wippyai/wasm-embed/types"
)

// instanceContextKey is the context key for the instance a call runs in.
type instanceContextKey struct{}

// InstanceFromContext returns the instance attached to ctx, or nil.
func InstanceFromContext(ctx context.Context) *Instance {
	if inst, ok := ctx.Value(instanceContextKey{}).(*Instance); ok {
		return inst
	}
	return nil
}

// WithInstance returns a context carrying inst.
func WithInstance(ctx context.Context, inst *Instance) context.Context {
	return context.WithValue(ctx, instanceContextKey{}, inst)
}

// Instance is a linked module or import object. Handles fetched from it are
// Borrowed and stay valid until the instance is closed.
type Instance struct {
	refs     types.Refs
	mod      api.Module
	compiled wazero.CompiledModule
	module   *module.CompiledModule
	index    map[string]int
	name     string
	hidden   []api.Module
	exports  []types.ExportDescriptor
	closed   atomic.Bool

	// forwarded instances expose functions to the host through callName.
	forwarded bool
}

func newInstance(name string, mod api.Module, exports []types.ExportDescriptor, refs types.Refs) *Instance {
	inst := &Instance{
		name:    name,
		mod:     mod,
		refs:    refs,
		exports: exports,
		index:   make(map[string]int, len(exports)),
	}
	for i, e := range exports {
		inst.index[e.Name] = i
	}
	return inst
}

// Name returns the registered name, "" for the active instance.
func (i *Instance) Name() string { return i.name }

// Module returns the compiled module the instance was linked from, nil for
// import objects.
func (i *Instance) Module() *module.CompiledModule { return i.module }

// Engine returns the underlying engine module.
func (i *Instance) Engine() api.Module { return i.mod }

// Closed reports whether the instance has been closed.
func (i *Instance) Closed() bool { return i.closed.Load() }

// Exports describes the exports in declaration order.
func (i *Instance) Exports() []types.ExportDescriptor {
	out := make([]types.ExportDescriptor, len(i.exports))
	copy(out, i.exports)
	return out
}

// Get returns the export name if it has the given kind.
func (i *Instance) Get(kind types.ExternKind, name string) (Extern, bool) {
	ext, ok := i.lookup(name)
	if !ok || ext.Kind() != kind {
		return nil, false
	}
	return ext, true
}

// Function returns the exported function name.
func (i *Instance) Function(name string) (*Function, bool) {
	ext, ok := i.Get(types.KindFunction, name)
	if !ok {
		return nil, false
	}
	return ext.(*Function), true
}

// Table returns the exported table name.
func (i *Instance) Table(name string) (*Table, bool) {
	ext, ok := i.Get(types.KindTable, name)
	if !ok {
		return nil, false
	}
	return ext.(*Table), true
}

// Memory returns the exported memory name.
func (i *Instance) Memory(name string) (*Memory, bool) {
	ext, ok := i.Get(types.KindMemory, name)
	if !ok {
		return nil, false
	}
	return ext.(*Memory), true
}

// Global returns the exported global name.
func (i *Instance) Global(name string) (*Global, bool) {
	ext, ok := i.Get(types.KindGlobal, name)
	if !ok {
		return nil, false
	}
	return ext.(*Global), true
}

// Count returns the number of exports of kind.
func (i *Instance) Count(kind types.ExternKind) int {
	n := 0
	for _, e := range i.exports {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Names returns the export names of kind in declaration order.
func (i *Instance) Names(kind types.ExternKind) []string {
	var out []string
	for _, e := range i.exports {
		if e.Kind == kind {
			out = append(out, e.Name)
		}
	}
	return out
}

// ByIndex returns the n-th export of kind, counting in declaration order.
func (i *Instance) ByIndex(kind types.ExternKind, n int) (Extern, bool) {
	if n < 0 {
		return nil, false
	}
	for _, e := range i.exports {
		if e.Kind != kind {
			continue
		}
		if n == 0 {
			return i.lookup(e.Name)
		}
		n--
	}
	return nil, false
}

// lookup returns a borrowed handle for the export name of any kind.
func (i *Instance) lookup(name string) (Extern, bool) {
	idx, ok := i.index[name]
	if !ok || i.closed.Load() {
		return nil, false
	}
	d := i.exports[idx]
	switch d.Kind {
	case types.KindFunction:
		engineName := name
		if i.forwarded {
			engineName = callName(name)
		}
		fn := exportedFunction(i.mod, engineName)
		if fn == nil {
			return nil, false
		}
		return newBoundFunction(i.name, name, fn, i.refs), true
	case types.KindTable:
		tt, _ := d.Type.(types.TableType)
		t, ok := newBoundTable(i.name, name, tt, i.mod, i.refs)
		if !ok {
			return nil, false
		}
		return t, true
	case types.KindMemory:
		mem := i.mod.ExportedMemory(name)
		if mem == nil {
			return nil, false
		}
		mt, _ := d.Type.(types.MemoryType)
		return newBoundMemory(i.name, name, mt, mem), true
	case types.KindGlobal:
		g := i.mod.ExportedGlobal(name)
		if g == nil {
			return nil, false
		}
		return newBoundGlobal(i.name, name, g, i.refs), true
	}
	return nil, false
}

// Close releases the engine instance and the compiled module reference.
// Instances registered in a store are closed by Unregister or Store.Close.
func (i *Instance) Close(ctx context.Context) error {
	if !i.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if i.mod != nil {
		err = multierr.Append(err, i.mod.Close(ctx))
	}
	for _, h := range i.hidden {
		err = multierr.Append(err, h.Close(ctx))
	}
	if i.compiled != nil {
		err = multierr.Append(err, i.compiled.Close(ctx))
	}
	if i.module != nil {
		err = multierr.Append(err, i.module.Close())
	}
	return err
}
