package module

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	wasmerrors "github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/internal/wasmtest"
	"github.com/wippyai/wasm-embed/types"
	"github.com/wippyai/wasm-embed/wasm"
)

func TestLoadFromBytes_Descriptors(t *testing.T) {
	b := wasmtest.New().Name("calc")
	b.ImportFunc("env", "log", types.Func(wasmtest.I32, nil))
	b.ImportMemory("env", "memory", types.MemoryType{Min: 1})
	add := b.Func(types.Func([]types.ValType{types.I32, types.I32}, wasmtest.I32), nil,
		wasmtest.LocalGet(0), wasmtest.LocalGet(1), wasmtest.Op(wasmtest.I32Add))
	g := b.Global(types.GlobalType{Value: types.I64, Mutability: types.Var}, wasm.I64Const(3))
	b.Export("add", wasm.KindFunc, add).Export("counter", wasm.KindGlobal, g)

	m, err := LoadFromBytes(b.Bytes())
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}
	defer m.Close()

	if m.Name() != "calc" {
		t.Errorf("Name = %q", m.Name())
	}

	imports := m.Imports()
	if len(imports) != 2 {
		t.Fatalf("imports = %v", imports)
	}
	if imports[0].Module != "env" || imports[0].Name != "log" || imports[0].Kind != types.KindFunction {
		t.Errorf("import 0 = %v", imports[0])
	}
	if mt, ok := imports[1].Type.(types.MemoryType); !ok || mt.Min != 1 {
		t.Errorf("import 1 = %v", imports[1])
	}

	exports := m.Exports()
	if len(exports) != 2 || exports[0].Name != "add" || exports[1].Kind != types.KindGlobal {
		t.Fatalf("exports = %v", exports)
	}
	ft := exports[0].Type.(types.FuncType)
	if ft.String() != "func(i32, i32) -> (i32)" {
		t.Errorf("add type = %s", ft)
	}
}

func TestLoadFromBytes_Errors(t *testing.T) {
	tests := map[string][]byte{
		"empty":   nil,
		"garbage": []byte("not wasm at all"),
		"invalid": func() []byte {
			b := wasmtest.New()
			b.Export("missing", wasm.KindFunc, 3)
			return b.Bytes()
		}(),
	}
	for name, bin := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFromBytes(bin)
			if !errors.Is(err, wasmerrors.ErrLoad) {
				t.Fatalf("expected load error, got %v", err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "add.wasm")
	bin := wasmtest.AddModule().Bytes()
	if err := os.WriteFile(path, bin, 0o600); err != nil {
		t.Fatal(err)
	}
	m, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	defer m.Close()
	if !bytes.Equal(m.Bytes(), bin) {
		t.Error("Bytes differ from file contents")
	}
	if len(m.Hash()) != 64 {
		t.Errorf("Hash = %q", m.Hash())
	}

	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.wasm")); !errors.Is(err, wasmerrors.ErrLoad) {
		t.Errorf("missing file: %v", err)
	}
}

func TestCompiledModule_RefCount(t *testing.T) {
	m, err := LoadFromBytes(wasmtest.AddModule().Bytes())
	if err != nil {
		t.Fatal(err)
	}

	c := m.Clone()
	if m.RefCount() != 2 {
		t.Fatalf("RefCount = %d", m.RefCount())
	}

	_ = m.Close()
	_ = m.Close()
	if c.RefCount() != 1 {
		t.Fatalf("double Close dropped two holders: RefCount = %d", c.RefCount())
	}
	if m.Clone() != nil {
		t.Error("Clone of a closed holder should be nil")
	}
	if m.Parsed() != nil {
		t.Error("closed holder still exposes the parsed module")
	}
	if c.Parsed() == nil {
		t.Fatal("live holder lost the parsed module")
	}

	_ = c.Close()
	if c.RefCount() != 0 || !c.Closed() {
		t.Errorf("RefCount = %d after last Close", c.RefCount())
	}
	if len(c.Exports()) != 1 {
		t.Error("descriptors should survive for diagnostics")
	}
}

func TestCompiledModule_ConcurrentClone(t *testing.T) {
	m, err := LoadFromBytes(wasmtest.AddModule().Bytes())
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := m.Clone()
			_ = c.Exports()
			_ = c.Close()
		}()
	}
	wg.Wait()

	if m.RefCount() != 1 {
		t.Fatalf("RefCount = %d", m.RefCount())
	}
	_ = m.Close()
}

func TestCompiledModule_CloneRacesClose(t *testing.T) {
	bin := wasmtest.AddModule().Bytes()
	for i := 0; i < 200; i++ {
		m, err := LoadFromBytes(bin)
		if err != nil {
			t.Fatal(err)
		}

		var (
			wg sync.WaitGroup
			c  *CompiledModule
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			c = m.Clone()
		}()
		go func() {
			defer wg.Done()
			_ = m.Close()
		}()
		wg.Wait()

		if c == nil {
			if m.RefCount() != 0 {
				t.Fatalf("RefCount = %d after losing the race", m.RefCount())
			}
			continue
		}
		if c.RefCount() != 1 || c.Parsed() == nil {
			t.Fatalf("clone of a freed module: RefCount = %d, parsed = %v", c.RefCount(), c.Parsed() != nil)
		}
		_ = c.Close()
	}
}

func TestCompiledModule_DescriptorsAreCopies(t *testing.T) {
	b := wasmtest.New()
	b.ImportFunc("env", "log", types.Func(wasmtest.I32, nil))
	b.Export("add", wasm.KindFunc, b.Func(types.Func(nil, nil), nil))
	m, err := LoadFromBytes(b.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	m.Exports()[0].Name = "changed"
	m.Imports()[0].Module = "changed"
	if got := m.Exports()[0].Name; got != "add" {
		t.Errorf("export name = %q after caller mutation", got)
	}
	if got := m.Imports()[0].Module; got != "env" {
		t.Errorf("import module = %q after caller mutation", got)
	}
}

func TestCompiledModule_EngineBytes(t *testing.T) {
	plain, err := LoadFromBytes(wasmtest.AddModule().Bytes())
	if err != nil {
		t.Fatal(err)
	}
	defer plain.Close()
	if !bytes.Equal(plain.EngineBytes(), plain.Bytes()) {
		t.Error("module without tables should reach the engine unchanged")
	}

	b := wasmtest.New()
	tbl := b.Table(types.TableType{Elem: types.FuncRef, Min: 1})
	b.Export("tbl", wasm.KindTable, tbl)
	withTable, err := LoadFromBytes(b.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	defer withTable.Close()

	if bytes.Equal(withTable.EngineBytes(), withTable.Bytes()) {
		t.Fatal("exported table should get accessors")
	}
	if len(withTable.Exports()) != 1 {
		t.Errorf("accessors leaked into exports: %v", withTable.Exports())
	}
}

func TestLoader_EngineValidation(t *testing.T) {
	ctx := context.Background()
	l := NewLoader(nil, WithEngineValidation())
	defer l.Close(ctx)

	m, err := l.Load(ctx, wasmtest.AddModule().Bytes())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	_ = m.Close()

	// structurally valid, but the body leaves the wrong type on the stack
	b := wasmtest.New()
	f := b.Func(types.Func(nil, wasmtest.I32), nil)
	b.Export("bad", wasm.KindFunc, f)
	if _, err := l.Load(ctx, b.Bytes()); !errors.Is(err, wasmerrors.ErrLoad) {
		t.Fatalf("expected engine rejection, got %v", err)
	}
}

func TestLoader_LoadFiles(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"a.wasm", "b.wasm", "c.wasm"} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, wasmtest.AddModule().Name(name).Bytes(), 0o600); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}

	ctx := context.Background()
	l := NewLoader(nil, WithConcurrency(2))
	mods, err := l.LoadFiles(ctx, paths)
	if err != nil {
		t.Fatalf("LoadFiles: %v", err)
	}
	for i, m := range mods {
		if m.Name() != filepath.Base(paths[i]) {
			t.Errorf("module %d = %q", i, m.Name())
		}
		_ = m.Close()
	}

	bad := filepath.Join(dir, "bad.wasm")
	if err := os.WriteFile(bad, []byte("junk"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := l.LoadFiles(ctx, append(paths, bad)); !errors.Is(err, wasmerrors.ErrLoad) {
		t.Fatalf("expected load error, got %v", err)
	}
}

func TestLoader_CompileAOT(t *testing.T) {
	ctx := context.Background()
	m, err := LoadFromBytes(wasmtest.AddModule().Bytes())
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	dir := t.TempDir()
	l := NewLoader(nil)
	path, err := l.CompileAOT(ctx, m, dir)
	if err != nil {
		var e *wasmerrors.Error
		if errors.As(err, &e) && e.Kind == wasmerrors.KindUnsupported {
			t.Skip("no native compiler on this platform")
		}
		t.Fatalf("CompileAOT: %v", err)
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "" || rel[0] == '.' {
		t.Errorf("artifact %q not under %q", path, dir)
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Errorf("artifact missing or empty: %v", err)
	}

	_ = m.Clone().Close()
	closed := m.Clone()
	_ = closed.Close()
	if _, err := l.CompileAOT(ctx, closed, dir); !errors.Is(err, wasmerrors.ErrReleased) {
		t.Errorf("closed holder: %v", err)
	}
}
