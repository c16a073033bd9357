package wasm_test

import (
	"bytes"
	"testing"

	"github.com/wippyai/wasm-embed/types"
	"github.com/wippyai/wasm-embed/wasm"
)

func exportNames(m *wasm.Module) map[string]wasm.Export {
	out := make(map[string]wasm.Export, len(m.Exports))
	for _, e := range m.Exports {
		out[e.Name] = e
	}
	return out
}

func TestInjectTableAccessors(t *testing.T) {
	orig := sampleModule()
	bin := wasm.Encode(orig)

	out, err := wasm.InjectTableAccessors(bin, orig)
	if err != nil {
		t.Fatalf("InjectTableAccessors: %v", err)
	}
	m, err := wasm.ParseModule(out)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if err := wasm.Validate(m); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if len(m.Funcs) != len(orig.Funcs)+4 || len(m.Code) != len(orig.Code)+4 {
		t.Fatalf("funcs=%d code=%d", len(m.Funcs), len(m.Code))
	}
	if m.Name != "sample" {
		t.Errorf("custom sections lost, name = %q", m.Name)
	}

	names := wasm.AccessorNames("tbl")
	exports := exportNames(m)
	checks := []struct {
		want types.FuncType
		name string
	}{
		{name: names.Size, want: types.Func(nil, []types.ValType{types.I32})},
		{name: names.Grow, want: types.Func([]types.ValType{types.I32}, []types.ValType{types.I32})},
		{name: names.Get, want: types.Func([]types.ValType{types.I32}, []types.ValType{types.FuncRef})},
		{name: names.Set, want: types.Func([]types.ValType{types.I32, types.FuncRef}, nil)},
	}
	for _, c := range checks {
		e, ok := exports[c.name]
		if !ok {
			t.Errorf("missing export %q", c.name)
			continue
		}
		if !wasm.IsAccessor(e.Name) {
			t.Errorf("%q not recognized as accessor", e.Name)
		}
		ft, ok := m.FuncType(e.Index)
		if !ok || !ft.Equal(c.want) {
			t.Errorf("%q: type %v, want %v", c.name, ft, c.want)
		}
	}
	if wasm.IsAccessor("tbl") {
		t.Error("plain export reported as accessor")
	}

	last := m.Code[len(m.Code)-1].Code
	want := []byte{wasm.OpLocalGet, 0, wasm.OpLocalGet, 1, wasm.OpTableSet, 0, wasm.OpEnd}
	if !bytes.Equal(last, want) {
		t.Errorf("set body = % x, want % x", last, want)
	}
}

func TestInjectTableAccessorsCreatesSections(t *testing.T) {
	orig := &wasm.Module{
		Tables:  []types.TableType{{Elem: types.ExternRef, Min: 1}},
		Exports: []wasm.Export{{Name: "refs", Kind: wasm.KindTable, Index: 0}},
	}
	out, err := wasm.InjectTableAccessors(wasm.Encode(orig), orig)
	if err != nil {
		t.Fatalf("InjectTableAccessors: %v", err)
	}
	m, err := wasm.ParseModule(out)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if len(m.Types) != 4 || len(m.Funcs) != 4 || len(m.Code) != 4 {
		t.Fatalf("types=%d funcs=%d code=%d", len(m.Types), len(m.Funcs), len(m.Code))
	}
	if _, ok := exportNames(m)[wasm.AccessorNames("refs").Grow]; !ok {
		t.Error("grow accessor not exported")
	}
	grow := m.Code[1].Code
	if grow[0] != wasm.OpRefNull || grow[1] != byte(types.ExternRef) {
		t.Errorf("grow body = % x", grow)
	}
}

func TestInjectTableAccessorsNoTables(t *testing.T) {
	orig := &wasm.Module{Memories: []types.MemoryType{{Min: 1}}}
	bin := wasm.Encode(orig)
	out, err := wasm.InjectTableAccessors(bin, orig)
	if err != nil {
		t.Fatalf("InjectTableAccessors: %v", err)
	}
	if !bytes.Equal(out, bin) {
		t.Error("module without exported tables should be unchanged")
	}
}

func TestForwardBody(t *testing.T) {
	tests := []struct {
		name   string
		target uint32
		params int
		want   []byte
	}{
		{"no params", 0, 0, []byte{wasm.OpCall, 0, wasm.OpEnd}},
		{"two params", 3, 2, []byte{wasm.OpLocalGet, 0, wasm.OpLocalGet, 1, wasm.OpCall, 3, wasm.OpEnd}},
		{"wide index", 200, 1, []byte{wasm.OpLocalGet, 0, wasm.OpCall, 0xC8, 0x01, wasm.OpEnd}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := wasm.ForwardBody(tt.target, tt.params)
			if len(body.Locals) != 0 {
				t.Errorf("locals = %v, want none", body.Locals)
			}
			if !bytes.Equal(body.Code, tt.want) {
				t.Errorf("code = %x, want %x", body.Code, tt.want)
			}
		})
	}
}

func TestForwardBodyRoundTrip(t *testing.T) {
	ft := types.Func([]types.ValType{types.I32, types.I64}, []types.ValType{types.I32})
	m := &wasm.Module{
		Types:   []types.FuncType{ft},
		Imports: []wasm.Import{{Module: "host", Name: "f", Desc: wasm.ImportDesc{Kind: wasm.KindFunc}}},
		Funcs:   []uint32{0},
		Code:    []wasm.FuncBody{wasm.ForwardBody(0, 2)},
		Exports: []wasm.Export{{Name: "f", Kind: wasm.KindFunc, Index: 1}},
	}
	if err := wasm.Validate(m); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	got, err := wasm.ParseModule(wasm.Encode(m))
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if len(got.Code) != 1 || !bytes.Equal(got.Code[0].Code, m.Code[0].Code) {
		t.Errorf("decoded code = %+v, want %x", got.Code, m.Code[0].Code)
	}
}
