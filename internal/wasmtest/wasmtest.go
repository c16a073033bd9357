// Package wasmtest builds small WebAssembly binaries for tests.
//
// Imports must be declared before functions, tables, memories and globals
// are defined, so returned indices stay valid.
package wasmtest

import (
	"encoding/binary"

	"github.com/wippyai/wasm-embed/types"
	"github.com/wippyai/wasm-embed/wasm"
)

// Builder accumulates a module.
type Builder struct {
	m wasm.Module
}

// New creates an empty builder.
func New() *Builder {
	return &Builder{}
}

// Name sets the name-section module name.
func (b *Builder) Name(name string) *Builder {
	b.m.Name = name
	return b
}

// Type returns the index of ft, adding it if needed.
func (b *Builder) Type(ft types.FuncType) uint32 {
	for i, t := range b.m.Types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	b.m.Types = append(b.m.Types, ft)
	return uint32(len(b.m.Types) - 1)
}

// ImportFunc declares a function import and returns its function index.
func (b *Builder) ImportFunc(module, name string, ft types.FuncType) uint32 {
	b.m.Imports = append(b.m.Imports, wasm.Import{
		Module: module, Name: name,
		Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: b.Type(ft)},
	})
	return b.m.ImportedFuncCount() - 1
}

// ImportMemory declares a memory import.
func (b *Builder) ImportMemory(module, name string, mt types.MemoryType) *Builder {
	b.m.Imports = append(b.m.Imports, wasm.Import{
		Module: module, Name: name,
		Desc: wasm.ImportDesc{Kind: wasm.KindMemory, Memory: &mt},
	})
	return b
}

// ImportTable declares a table import and returns its table index.
func (b *Builder) ImportTable(module, name string, tt types.TableType) uint32 {
	b.m.Imports = append(b.m.Imports, wasm.Import{
		Module: module, Name: name,
		Desc: wasm.ImportDesc{Kind: wasm.KindTable, Table: &tt},
	})
	return b.m.ImportedTableCount() - 1
}

// ImportGlobal declares a global import and returns its global index.
func (b *Builder) ImportGlobal(module, name string, gt types.GlobalType) uint32 {
	b.m.Imports = append(b.m.Imports, wasm.Import{
		Module: module, Name: name,
		Desc: wasm.ImportDesc{Kind: wasm.KindGlobal, Global: &gt},
	})
	return b.m.ImportedGlobalCount() - 1
}

// Func defines a function with body code (End is appended) and returns its index.
func (b *Builder) Func(ft types.FuncType, locals []wasm.LocalEntry, code ...[]byte) uint32 {
	b.m.Funcs = append(b.m.Funcs, b.Type(ft))
	b.m.Code = append(b.m.Code, wasm.FuncBody{Locals: locals, Code: Body(code...)})
	return b.m.ImportedFuncCount() + uint32(len(b.m.Funcs)) - 1
}

// Table defines a table and returns its index.
func (b *Builder) Table(tt types.TableType) uint32 {
	b.m.Tables = append(b.m.Tables, tt)
	return b.m.ImportedTableCount() + uint32(len(b.m.Tables)) - 1
}

// Memory defines a memory and returns its index.
func (b *Builder) Memory(mt types.MemoryType) uint32 {
	b.m.Memories = append(b.m.Memories, mt)
	return b.m.ImportedMemoryCount() + uint32(len(b.m.Memories)) - 1
}

// Global defines a global and returns its index.
func (b *Builder) Global(gt types.GlobalType, init wasm.ConstExpr) uint32 {
	b.m.Globals = append(b.m.Globals, wasm.Global{Type: gt, Init: init})
	return b.m.ImportedGlobalCount() + uint32(len(b.m.Globals)) - 1
}

// Export adds an export of kind (wasm.KindFunc etc.).
func (b *Builder) Export(name string, kind byte, idx uint32) *Builder {
	b.m.Exports = append(b.m.Exports, wasm.Export{Name: name, Kind: kind, Index: idx})
	return b
}

// Data adds an active data segment for memory 0.
func (b *Builder) Data(offset int32, data []byte) *Builder {
	b.m.Data = append(b.m.Data, wasm.DataSegment{Mode: wasm.ModeActive, Offset: wasm.I32Const(offset), Init: data})
	return b
}

// Elem adds an active element segment for table.
func (b *Builder) Elem(table uint32, offset int32, funcs ...uint32) *Builder {
	b.m.Elements = append(b.m.Elements, wasm.Element{
		Mode: wasm.ModeActive, Type: types.FuncRef, Table: table,
		Offset: wasm.I32Const(offset), Funcs: funcs, Count: uint32(len(funcs)),
	})
	return b
}

// Start sets the start function.
func (b *Builder) Start(idx uint32) *Builder {
	b.m.Start = &idx
	return b
}

// Module returns the accumulated module.
func (b *Builder) Module() *wasm.Module {
	return &b.m
}

// Bytes encodes the module.
func (b *Builder) Bytes() []byte {
	return wasm.Encode(&b.m)
}

// Body concatenates instruction fragments and appends end.
func Body(code ...[]byte) []byte {
	var out []byte
	for _, c := range code {
		out = append(out, c...)
	}
	return append(out, wasm.OpEnd)
}

// LocalGet encodes local.get.
func LocalGet(idx uint32) []byte {
	return binary.AppendUvarint([]byte{wasm.OpLocalGet}, uint64(idx))
}

// GlobalGet encodes global.get.
func GlobalGet(idx uint32) []byte {
	return binary.AppendUvarint([]byte{wasm.OpGlobalGet}, uint64(idx))
}

// Call encodes call.
func Call(idx uint32) []byte {
	return binary.AppendUvarint([]byte{wasm.OpCall}, uint64(idx))
}

// I32Load encodes i32.load with natural alignment.
func I32Load(offset uint32) []byte {
	return binary.AppendUvarint([]byte{0x28, 0x02}, uint64(offset))
}

// I32Const encodes i32.const.
func I32Const(v int32) []byte {
	c := wasm.I32Const(v)
	return c[:len(c)-1]
}

// Op encodes a single opcode without immediates.
func Op(op byte) []byte {
	return []byte{op}
}

// Opcodes without immediates used by test modules.
const (
	Unreachable byte = 0x00
	Drop        byte = 0x1A
	I32Add      byte = 0x6A
	I32DivS     byte = 0x6D
)

// I32 is a shorthand type list.
var I32 = []types.ValType{types.I32}

// AddModule exports add(i32, i32) -> i32.
func AddModule() *Builder {
	b := New()
	add := b.Func(types.Func([]types.ValType{types.I32, types.I32}, I32), nil,
		LocalGet(0), LocalGet(1), Op(I32Add))
	return b.Export("add", wasm.KindFunc, add)
}
