package linker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"golang.org/x/sync/errgroup"

	wasmerrors "github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/internal/wasmtest"
	"github.com/wippyai/wasm-embed/module"
	"github.com/wippyai/wasm-embed/types"
	"github.com/wippyai/wasm-embed/wasm"
)

var i32ToI32 = types.Func(wasmtest.I32, wasmtest.I32)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := NewStore(ctx, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(ctx) })
	return s
}

func load(t *testing.T, b *wasmtest.Builder) *module.CompiledModule {
	t.Helper()
	m, err := module.LoadFromBytes(b.Bytes())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// richModule exports one item of every kind.
func richModule() *wasmtest.Builder {
	b := wasmtest.AddModule()
	mem := b.Memory(types.MemoryType{Min: 1, Max: types.Uint32(2)})
	g := b.Global(types.GlobalType{Value: types.I32, Mutability: types.Var}, wasm.I32Const(7))
	tbl := b.Table(types.TableType{Elem: types.FuncRef, Min: 2, Max: types.Uint32(4)})
	return b.Export("memory", wasm.KindMemory, mem).
		Export("counter", wasm.KindGlobal, g).
		Export("table", wasm.KindTable, tbl)
}

func TestLinkThenGetMatchesExportTypes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	m := load(t, richModule())

	inst, err := s.Link(ctx, "rich", m)
	require.NoError(t, err)

	require.Len(t, inst.Exports(), 4)
	for _, d := range m.Exports() {
		ext, ok := inst.Get(d.Kind, d.Name)
		require.True(t, ok, d.Name)
		assert.Equal(t, d.Type.String(), ext.ExternType().String(), d.Name)
		assert.Equal(t, Borrowed, ext.Ownership())
		assert.Equal(t, "rich", ext.ModuleName())
	}

	_, ok := inst.Get(types.KindMemory, "add")
	assert.False(t, ok, "kind must match")

	g, ok := inst.Global("counter")
	require.True(t, ok)
	v, err := g.Get()
	require.NoError(t, err)
	assert.Equal(t, int32(7), v.I32())
	require.NoError(t, g.Set(types.ValueI32(8)))
	v, _ = g.Get()
	assert.Equal(t, int32(8), v.I32())

	tbl, ok := inst.Table("table")
	require.True(t, ok)
	size, err := tbl.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), size)
	_, err = tbl.Grow(ctx, 2, types.NullFuncRef())
	require.NoError(t, err)
	_, err = tbl.Grow(ctx, 1, types.NullFuncRef())
	require.ErrorIs(t, err, wasmerrors.ErrOutOfBounds)

	mem, ok := inst.Memory("memory")
	require.True(t, ok)
	require.NoError(t, mem.Write(0, []byte{1, 2, 3}))
	got, err := mem.Read(0, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestInstanceEnumeration(t *testing.T) {
	s := newTestStore(t)
	inst, err := s.Link(context.Background(), "rich", load(t, richModule()))
	require.NoError(t, err)

	assert.Equal(t, 1, inst.Count(types.KindFunction))
	assert.Equal(t, 1, inst.Count(types.KindTable))
	assert.Equal(t, []string{"memory"}, inst.Names(types.KindMemory))

	ext, ok := inst.ByIndex(types.KindGlobal, 0)
	require.True(t, ok)
	assert.Equal(t, "counter", ext.Name())

	_, ok = inst.ByIndex(types.KindGlobal, 1)
	assert.False(t, ok)
	_, ok = inst.ByIndex(types.KindGlobal, -1)
	assert.False(t, ok)
}

func TestNameConflictLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	m := load(t, wasmtest.AddModule())

	first, err := s.Link(ctx, "math", m)
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())

	_, err = s.Link(ctx, "math", m)
	require.ErrorIs(t, err, wasmerrors.ErrNameConflict)
	assert.Equal(t, 1, s.Len())

	got, ok := s.Instance("math")
	require.True(t, ok)
	assert.Same(t, first, got)
	assert.False(t, first.Closed())
}

func TestUnknownImport(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	b := wasmtest.New()
	b.ImportFunc("env", "missing", types.Func(nil, nil))
	_, err := s.Link(ctx, "m", load(t, b))
	require.ErrorIs(t, err, wasmerrors.ErrUnknownImport)
	assert.Equal(t, 0, s.Len())

	_, err = s.Link(ctx, "", load(t, wasmtest.AddModule()))
	require.NoError(t, err)

	anon := wasmtest.New()
	anon.ImportFunc("", "add", types.Func([]types.ValType{types.I32, types.I32}, wasmtest.I32))
	_, err = s.Link(ctx, "m", load(t, anon))
	require.ErrorIs(t, err, wasmerrors.ErrUnknownImport, "the active instance is never an import source")
}

func TestIncompatibleImport(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	env, err := NewImportBuilder().
		WithFunc("double", i32ToI32, func(_ context.Context, _ *Caller, args []types.Value) ([]types.Value, error) {
			return []types.Value{types.ValueI32(args[0].I32() * 2)}, nil
		}).
		Build("env")
	require.NoError(t, err)
	_, err = s.LinkImports(ctx, env)
	require.NoError(t, err)

	wrongSig := wasmtest.New()
	wrongSig.ImportFunc("env", "double", types.Func([]types.ValType{types.I64}, []types.ValType{types.I64}))
	_, err = s.Link(ctx, "a", load(t, wrongSig))
	require.ErrorIs(t, err, wasmerrors.ErrIncompatible)

	wrongKind := wasmtest.New()
	wrongKind.ImportGlobal("env", "double", types.GlobalType{Value: types.I32})
	_, err = s.Link(ctx, "b", load(t, wrongKind))
	require.ErrorIs(t, err, wasmerrors.ErrIncompatible)

	assert.Equal(t, 1, s.Len())
}

func TestImportLimitsChecked(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	mem, err := NewMemory(types.MemoryType{Min: 1, Max: types.Uint32(4)})
	require.NoError(t, err)
	env, err := NewImportBuilder().WithMemory("mem", mem).Build("env")
	require.NoError(t, err)
	_, err = s.LinkImports(ctx, env)
	require.NoError(t, err)

	tooBig := wasmtest.New().ImportMemory("env", "mem", types.MemoryType{Min: 2})
	_, err = s.Link(ctx, "a", load(t, tooBig))
	require.ErrorIs(t, err, wasmerrors.ErrIncompatible)

	tighterMax := wasmtest.New().ImportMemory("env", "mem", types.MemoryType{Min: 1, Max: types.Uint32(2)})
	_, err = s.Link(ctx, "b", load(t, tighterMax))
	require.ErrorIs(t, err, wasmerrors.ErrIncompatible)

	fits := wasmtest.New().ImportMemory("env", "mem", types.MemoryType{Min: 1, Max: types.Uint32(8)})
	_, err = s.Link(ctx, "c", load(t, fits))
	require.NoError(t, err)
}

func TestDataSegmentDoesNotFit(t *testing.T) {
	s := newTestStore(t)

	b := wasmtest.New()
	b.Memory(types.MemoryType{Min: 1})
	b.Data(65535, []byte{1, 2})
	_, err := s.Link(context.Background(), "m", load(t, b))
	require.ErrorIs(t, err, wasmerrors.ErrDataSegDoesNotFit)
	assert.Equal(t, 0, s.Len())
	_, ok := s.Instance("m")
	assert.False(t, ok)
}

func TestElemSegmentDoesNotFit(t *testing.T) {
	s := newTestStore(t)

	b := wasmtest.New()
	f := b.Func(types.Func(nil, nil), nil)
	b.Table(types.TableType{Elem: types.FuncRef, Min: 1})
	b.Elem(0, 1, f)
	_, err := s.Link(context.Background(), "m", load(t, b))
	require.ErrorIs(t, err, wasmerrors.ErrElemSegDoesNotFit)
	assert.Equal(t, 0, s.Len())
}

func TestAnonymousLinkReplacesActive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	m := load(t, wasmtest.AddModule())

	first, err := s.Link(ctx, "", m)
	require.NoError(t, err)
	assert.Same(t, first, s.Active())

	second, err := s.Link(ctx, "", m)
	require.NoError(t, err)
	assert.Same(t, second, s.Active())
	assert.True(t, first.Closed())
	assert.False(t, second.Closed())
	assert.Equal(t, 0, s.Len())

	require.NoError(t, s.Unregister(ctx, ""))
	assert.Nil(t, s.Active())
}

func TestCompiledModuleOutlivesCaller(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m, err := module.LoadFromBytes(wasmtest.AddModule().Bytes())
	require.NoError(t, err)
	inst, err := s.Link(ctx, "math", m)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	assert.False(t, inst.Module().Closed())
	add, ok := inst.Function("add")
	require.True(t, ok)
	res, err := add.Engine().Call(ctx, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5}, res)

	_, err = s.Link(ctx, "again", m)
	require.ErrorIs(t, err, wasmerrors.ErrReleased)
}

func TestHostFunctionImport(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	env, err := NewImportBuilder().
		WithFunc("double", i32ToI32, func(_ context.Context, caller *Caller, args []types.Value) ([]types.Value, error) {
			assert.Equal(t, "guest", caller.Name())
			return []types.Value{types.ValueI32(args[0].I32() * 2)}, nil
		}).
		Build("env")
	require.NoError(t, err)
	envInst, err := s.LinkImports(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, []string{"double"}, envInst.Names(types.KindFunction))

	b := wasmtest.New()
	double := b.ImportFunc("env", "double", i32ToI32)
	run := b.Func(types.Func(nil, wasmtest.I32), nil, wasmtest.I32Const(21), wasmtest.Call(double))
	b.Export("run", wasm.KindFunc, run)

	inst, err := s.Link(ctx, "guest", load(t, b))
	require.NoError(t, err)
	fn, ok := inst.Function("run")
	require.True(t, ok)
	res, err := fn.Engine().Call(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(42), int32(res[0]))
}

func TestHostFunctionsOnlyObject(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	add := NewFunction(types.Func([]types.ValType{types.I32, types.I32}, wasmtest.I32),
		func(_ context.Context, _ *Caller, args []types.Value) ([]types.Value, error) {
			return []types.Value{types.ValueI32(args[0].I32() + args[1].I32())}, nil
		})
	obj, err := NewImportBuilder().WithFunction("add", add).Build("extern")
	require.NoError(t, err)

	var inst *Instance
	require.NotPanics(t, func() { inst, err = s.LinkImports(ctx, obj) })
	require.NoError(t, err)
	require.NotNil(t, add.Engine(), "linking binds the host handle")

	res, err := add.Engine().Call(ctx, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5}, res)

	fn, ok := inst.Function("add")
	require.True(t, ok)
	assert.Equal(t, add.Type().String(), fn.Type().String())
	res, err = fn.Engine().Call(ctx, 4, 5)
	require.NoError(t, err)
	assert.Equal(t, []uint64{9}, res)

	ext, ok := inst.ByIndex(types.KindFunction, 0)
	require.True(t, ok)
	assert.Equal(t, types.KindFunction, ext.Kind())
	assert.Equal(t, []string{"add"}, exportNames(inst))
}

type constExporter map[string]uint64

func (e constExporter) ExportFunctions(b wazero.HostModuleBuilder) {
	for name, v := range e {
		b.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
				stack[0] = v
			}), nil, []api.ValueType{api.ValueTypeI32}).
			Export(name)
	}
}

var _ FunctionExporter = wasi_snapshot_preview1.NewFunctionExporter()

func TestExporterFunctions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	obj, err := NewImportBuilder().
		WithExporter(constExporter{"one": 1, "two": 2}).
		WithFunc("two", types.Func(nil, wasmtest.I32), func(context.Context, *Caller, []types.Value) ([]types.Value, error) {
			return []types.Value{types.ValueI32(22)}, nil
		}).
		Build("consts")
	require.NoError(t, err)
	inst, err := s.LinkImports(ctx, obj)
	require.NoError(t, err)
	assert.Equal(t, []string{"two", "one"}, inst.Names(types.KindFunction))

	get := func(name string) uint64 {
		fn, ok := inst.Function(name)
		require.True(t, ok, name)
		res, err := fn.Engine().Call(ctx)
		require.NoError(t, err)
		return res[0]
	}
	assert.Equal(t, uint64(1), get("one"))
	assert.Equal(t, uint64(22), get("two"), "named entries override exporter functions")
}

func TestReexportedImportLookup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	env, err := NewImportBuilder().
		WithFunc("double", i32ToI32, func(_ context.Context, _ *Caller, args []types.Value) ([]types.Value, error) {
			return []types.Value{types.ValueI32(args[0].I32() * 2)}, nil
		}).
		Build("env")
	require.NoError(t, err)
	_, err = s.LinkImports(ctx, env)
	require.NoError(t, err)

	b := wasmtest.New()
	double := b.ImportFunc("env", "double", i32ToI32)
	b.Export("double", wasm.KindFunc, double)
	inst, err := s.Link(ctx, "proxy", load(t, b))
	require.NoError(t, err)

	require.NotPanics(t, func() {
		if fn, ok := inst.Function("double"); ok {
			res, err := fn.Engine().Call(ctx, 8)
			require.NoError(t, err)
			assert.Equal(t, []uint64{16}, res)
		}
	})
}

func TestHostPanicBecomesRuntimeError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	env, err := NewImportBuilder().
		WithFunc("boom", types.Func(nil, nil), func(context.Context, *Caller, []types.Value) ([]types.Value, error) {
			panic("kaboom")
		}).
		Build("env")
	require.NoError(t, err)
	_, err = s.LinkImports(ctx, env)
	require.NoError(t, err)

	b := wasmtest.New()
	boom := b.ImportFunc("env", "boom", types.Func(nil, nil))
	b.Export("run", wasm.KindFunc, b.Func(types.Func(nil, nil), nil, wasmtest.Call(boom)))
	inst, err := s.Link(ctx, "guest", load(t, b))
	require.NoError(t, err)

	fn, _ := inst.Function("run")
	_, err = fn.Engine().Call(ctx)
	var he *wasmerrors.HostFuncError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, wasmerrors.HostRuntime, he.Kind)
	assert.Equal(t, wasmerrors.CodePanic, he.Code)
	assert.Equal(t, "env.boom", he.Name)

	_, err = fn.Engine().Call(ctx)
	require.ErrorAs(t, err, &he, "instance stays usable after a host fault")
}

func TestSyntheticImports(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	mem, err := NewMemory(types.MemoryType{Min: 1, Max: types.Uint32(2)})
	require.NoError(t, err)
	require.NoError(t, mem.Write(0, []byte{0xd2, 0x04, 0, 0}))
	g, err := NewGlobal(types.GlobalType{Value: types.I32, Mutability: types.Var}, types.ValueI32(7))
	require.NoError(t, err)
	tbl, err := NewTable(types.TableType{Elem: types.FuncRef, Min: 3, Max: types.Uint32(6)}, types.NullFuncRef())
	require.NoError(t, err)

	env, err := NewImportBuilder().
		WithMemory("mem", mem).
		WithGlobal("g", g).
		WithTable("tbl", tbl).
		WithFunc("double", i32ToI32, func(_ context.Context, _ *Caller, args []types.Value) ([]types.Value, error) {
			return []types.Value{types.ValueI32(args[0].I32() * 2)}, nil
		}).
		Build("env")
	require.NoError(t, err)
	envInst, err := s.LinkImports(ctx, env)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"mem", "g", "tbl", "double"}, exportNames(envInst))
	assert.Equal(t, []string{"double"}, envInst.Names(types.KindFunction))
	assert.Equal(t, 1, envInst.Count(types.KindFunction))
	_, ok := envInst.Function(wasm.AccessorNames("tbl").Size)
	assert.False(t, ok, "table accessors are not exports")

	b := wasmtest.New()
	b.ImportMemory("env", "mem", types.MemoryType{Min: 1})
	gi := b.ImportGlobal("env", "g", types.GlobalType{Value: types.I32, Mutability: types.Var})
	b.ImportTable("env", "tbl", types.TableType{Elem: types.FuncRef, Min: 3})
	double := b.ImportFunc("env", "double", i32ToI32)
	b.Export("get", wasm.KindFunc, b.Func(types.Func(nil, wasmtest.I32), nil, wasmtest.GlobalGet(gi)))
	b.Export("load", wasm.KindFunc, b.Func(types.Func(nil, wasmtest.I32), nil, wasmtest.I32Const(0), wasmtest.I32Load(0)))
	b.Export("twice", wasm.KindFunc, b.Func(i32ToI32, nil, wasmtest.LocalGet(0), wasmtest.Call(double)))

	inst, err := s.Link(ctx, "guest", load(t, b))
	require.NoError(t, err)

	call := func(name string, args ...uint64) int32 {
		fn, ok := inst.Function(name)
		require.True(t, ok, name)
		res, err := fn.Engine().Call(ctx, args...)
		require.NoError(t, err)
		return int32(res[0])
	}
	assert.Equal(t, int32(7), call("get"))
	assert.Equal(t, int32(1234), call("load"))
	assert.Equal(t, int32(10), call("twice", 5))

	require.NoError(t, g.Set(types.ValueI32(99)))
	assert.Equal(t, int32(99), call("get"), "host handle writes through to the engine")

	require.NoError(t, mem.Write(0, []byte{1, 0, 0, 0}))
	assert.Equal(t, int32(1), call("load"))

	_, err = tbl.Grow(ctx, 3, types.NullFuncRef())
	require.NoError(t, err)
	_, err = tbl.Grow(ctx, 1, types.NullFuncRef())
	require.ErrorIs(t, err, wasmerrors.ErrOutOfBounds)

	_, err = s.LinkImports(ctx, env)
	require.Error(t, err, "an import object links once")
}

func exportNames(inst *Instance) []string {
	var out []string
	for _, d := range inst.Exports() {
		out = append(out, d.Name)
	}
	return out
}

func TestCrossInstanceImport(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Link(ctx, "math", load(t, wasmtest.AddModule()))
	require.NoError(t, err)

	b := wasmtest.New()
	add := b.ImportFunc("math", "add", types.Func([]types.ValType{types.I32, types.I32}, wasmtest.I32))
	b.Export("sum", wasm.KindFunc, b.Func(types.Func(nil, wasmtest.I32), nil,
		wasmtest.I32Const(2), wasmtest.I32Const(3), wasmtest.Call(add)))
	inst, err := s.Link(ctx, "", load(t, b))
	require.NoError(t, err)

	fn, ok := inst.Function("sum")
	require.True(t, ok)
	res, err := fn.Engine().Call(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5}, res)
}

func TestUnregisterAndInstances(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	m := load(t, wasmtest.AddModule())

	for _, name := range []string{"a", "b", "c"} {
		_, err := s.Link(ctx, name, m)
		require.NoError(t, err)
	}
	names := func() []string {
		var out []string
		for _, inst := range s.Instances() {
			out = append(out, inst.Name())
		}
		return out
	}
	assert.Equal(t, []string{"a", "b", "c"}, names())

	b, _ := s.Instance("b")
	require.NoError(t, s.Unregister(ctx, "b"))
	assert.True(t, b.Closed())
	assert.Equal(t, []string{"a", "c"}, names())

	require.ErrorIs(t, s.Unregister(ctx, "b"), &wasmerrors.Error{Phase: wasmerrors.PhaseLinking, Kind: wasmerrors.KindNotFound})

	_, err := s.Link(ctx, "b", m)
	require.NoError(t, err, "the name is free again")
}

func TestConcurrentLinks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	m := load(t, wasmtest.AddModule())

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := s.Link(ctx, "shared", m)
			return err
		})
	}
	err := g.Wait()
	require.ErrorIs(t, err, wasmerrors.ErrNameConflict)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, int64(2), m.RefCount())
}

func TestClosedStoreRejectsLinks(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(ctx, nil)
	require.NoError(t, err)
	m := load(t, wasmtest.AddModule())

	inst, err := s.Link(ctx, "math", m)
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))
	assert.True(t, inst.Closed())
	assert.Equal(t, int64(1), m.RefCount())

	_, err = s.Link(ctx, "other", m)
	require.Error(t, err)
	require.NoError(t, s.Close(ctx))
}
