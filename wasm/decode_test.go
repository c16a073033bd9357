package wasm_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/wippyai/wasm-embed/types"
	"github.com/wippyai/wasm-embed/wasm"
)

var header = []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}

func TestParseMinimalModule(t *testing.T) {
	m, err := wasm.ParseModule(header)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if len(m.Types) != 0 || len(m.Exports) != 0 {
		t.Errorf("expected empty module, got %+v", m)
	}
}

func TestParseInvalidHeader(t *testing.T) {
	tests := []struct {
		want error
		name string
		data []byte
	}{
		{name: "magic", data: []byte{0, 0, 0, 0, 1, 0, 0, 0}, want: wasm.ErrInvalidMagic},
		{name: "version", data: []byte{0x00, 0x61, 0x73, 0x6D, 2, 0, 0, 0}, want: wasm.ErrInvalidVersion},
		{name: "short", data: []byte{0x00, 0x61}, want: wasm.ErrInvalidMagic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wasm.ParseModule(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseSectionOrder(t *testing.T) {
	data := append([]byte{}, header...)
	// export section (empty) followed by type section (empty)
	data = append(data, 0x07, 0x01, 0x00, 0x01, 0x01, 0x00)
	_, err := wasm.ParseModule(data)
	if !errors.Is(err, wasm.ErrSectionOrder) {
		t.Errorf("expected ErrSectionOrder, got %v", err)
	}
}

func TestParseUnknownSection(t *testing.T) {
	data := append(append([]byte{}, header...), 0x20, 0x00)
	_, err := wasm.ParseModule(data)
	if !errors.Is(err, wasm.ErrUnknownSection) {
		t.Errorf("expected ErrUnknownSection, got %v", err)
	}
}

func TestParseTruncatedSection(t *testing.T) {
	data := append(append([]byte{}, header...), 0x01, 0x05, 0x01)
	if _, err := wasm.ParseModule(data); err == nil {
		t.Error("expected error for truncated section")
	}
}

func TestParseTrailingBytes(t *testing.T) {
	// type section: count=0 followed by a stray byte
	data := append(append([]byte{}, header...), 0x01, 0x02, 0x00, 0xFF)
	_, err := wasm.ParseModule(data)
	if !errors.Is(err, wasm.ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestParseRejects64BitMemory(t *testing.T) {
	// memory section with flags 0x04
	data := append(append([]byte{}, header...), 0x05, 0x03, 0x01, 0x04, 0x01)
	_, err := wasm.ParseModule(data)
	if !errors.Is(err, wasm.ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func sampleModule() *wasm.Module {
	i32 := types.I32
	return &wasm.Module{
		Name: "sample",
		Types: []types.FuncType{
			{Params: []types.ValType{i32, i32}, Results: []types.ValType{i32}},
			{},
		},
		Imports: []wasm.Import{
			{Module: "env", Name: "log", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 1}},
			{Module: "env", Name: "base", Desc: wasm.ImportDesc{
				Kind:   wasm.KindGlobal,
				Global: &types.GlobalType{Value: i32, Mutability: types.Const},
			}},
		},
		Funcs:    []uint32{0, 1},
		Tables:   []types.TableType{{Elem: types.FuncRef, Min: 2, Max: types.Uint32(4)}},
		Memories: []types.MemoryType{{Min: 1, Max: types.Uint32(2)}},
		Globals: []wasm.Global{
			{Type: types.GlobalType{Value: types.I64, Mutability: types.Var}, Init: wasm.I64Const(-7)},
		},
		Exports: []wasm.Export{
			{Name: "add", Kind: wasm.KindFunc, Index: 1},
			{Name: "tbl", Kind: wasm.KindTable, Index: 0},
			{Name: "memory", Kind: wasm.KindMemory, Index: 0},
			{Name: "counter", Kind: wasm.KindGlobal, Index: 1},
		},
		Elements: []wasm.Element{
			{Mode: wasm.ModeActive, Type: types.FuncRef, Offset: wasm.I32Const(0), Funcs: []uint32{1, 2}, Count: 2},
		},
		Code: []wasm.FuncBody{
			{Code: []byte{wasm.OpLocalGet, 0, wasm.OpLocalGet, 1, wasm.OpI32Add, wasm.OpEnd}},
			{Locals: []wasm.LocalEntry{{Count: 2, Type: types.I64}}, Code: []byte{wasm.OpEnd}},
		},
		Data: []wasm.DataSegment{
			{Mode: wasm.ModeActive, Offset: wasm.GlobalGet(0), Init: []byte("hello")},
			{Mode: wasm.ModePassive, Init: []byte{1, 2, 3}},
		},
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	orig := sampleModule()
	bin := wasm.Encode(orig)

	m, err := wasm.ParseModule(bin)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if err := wasm.Validate(m); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if m.Name != "sample" {
		t.Errorf("name = %q", m.Name)
	}
	if len(m.Types) != 2 || !m.Types[0].Equal(orig.Types[0]) || !m.Types[1].Equal(orig.Types[1]) {
		t.Errorf("types = %v", m.Types)
	}
	if len(m.Imports) != 2 || m.Imports[1].Desc.Global == nil || !m.Imports[1].Desc.Global.Equal(*orig.Imports[1].Desc.Global) {
		t.Errorf("imports = %+v", m.Imports)
	}
	if len(m.Tables) != 1 || !m.Tables[0].Equal(orig.Tables[0]) {
		t.Errorf("tables = %v", m.Tables)
	}
	if len(m.Memories) != 1 || !m.Memories[0].Equal(orig.Memories[0]) {
		t.Errorf("memories = %v", m.Memories)
	}
	if len(m.Exports) != 4 || m.Exports[3] != orig.Exports[3] {
		t.Errorf("exports = %+v", m.Exports)
	}
	if len(m.Elements) != 1 || len(m.Elements[0].Funcs) != 2 || m.Elements[0].Funcs[1] != 2 {
		t.Errorf("elements = %+v", m.Elements)
	}
	if len(m.Code) != 2 || !bytes.Equal(m.Code[0].Code, orig.Code[0].Code) || len(m.Code[1].Locals) != 1 {
		t.Errorf("code = %+v", m.Code)
	}
	if len(m.Data) != 2 || string(m.Data[0].Init) != "hello" || m.Data[1].Mode != wasm.ModePassive {
		t.Errorf("data = %+v", m.Data)
	}

	if again := wasm.Encode(m); !bytes.Equal(again, bin) {
		t.Error("second encoding differs from the first")
	}
}

func TestModuleIndexSpaces(t *testing.T) {
	m := sampleModule()

	ft, ok := m.FuncType(0)
	if !ok || len(ft.Params) != 0 {
		t.Errorf("FuncType(0) = %v, %v; want imported func()", ft, ok)
	}
	ft, ok = m.FuncType(1)
	if !ok || len(ft.Params) != 2 {
		t.Errorf("FuncType(1) = %v, %v", ft, ok)
	}
	if _, ok := m.FuncType(3); ok {
		t.Error("FuncType(3) should be out of range")
	}

	gt, ok := m.GlobalType(1)
	if !ok || gt.Value != types.I64 || gt.Mutability != types.Var {
		t.Errorf("GlobalType(1) = %v, %v", gt, ok)
	}
	if imp, ok := m.ImportedGlobal(0); !ok || imp.Name != "base" {
		t.Errorf("ImportedGlobal(0) = %+v, %v", imp, ok)
	}
	if _, ok := m.ImportedGlobal(1); ok {
		t.Error("global 1 is defined, not imported")
	}

	et, ok := m.ExternType(m.Exports[1])
	if !ok || et.Kind() != types.KindTable {
		t.Errorf("ExternType(tbl) = %v, %v", et, ok)
	}
}
