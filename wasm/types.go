package wasm

import (
	"github.com/wippyai/wasm-embed/types"
)

// Module is a parsed core WebAssembly module.
type Module struct {
	Start     *uint32
	DataCount *uint32

	// Name is the module name from the "name" custom section, if present.
	Name string

	Types          []types.FuncType
	Imports        []Import
	Funcs          []uint32 // type indices of defined functions
	Tables         []types.TableType
	Memories       []types.MemoryType
	Globals        []Global
	Exports        []Export
	Elements       []Element
	Code           []FuncBody
	Data           []DataSegment
	CustomSections []CustomSection
}

// Import is one entry of the import section.
type Import struct {
	Module string
	Name   string
	Desc   ImportDesc
}

// ImportDesc describes an imported item. Kind selects the populated field.
type ImportDesc struct {
	Table   *types.TableType
	Memory  *types.MemoryType
	Global  *types.GlobalType
	TypeIdx uint32
	Kind    byte
}

// Global is a module-defined global with its initializer.
type Global struct {
	Init ConstExpr
	Type types.GlobalType
}

// Export is one entry of the export section.
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// ElemMode is the placement mode of an element or data segment.
type ElemMode byte

const (
	ModeActive ElemMode = iota
	ModePassive
	ModeDeclarative
)

// Element is an element segment. Funcs is set for segments encoded as
// function indices; expression-encoded segments only record Count.
type Element struct {
	Offset ConstExpr
	Funcs  []uint32
	Type   types.ValType
	Table  uint32
	Count  uint32
	Mode   ElemMode
}

// DataSegment is a data segment.
type DataSegment struct {
	Offset ConstExpr
	Init   []byte
	Memory uint32
	Mode   ElemMode
}

// FuncBody is a function body: local declarations followed by raw code.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte // instructions including the final end
}

// LocalEntry declares Count locals of one type.
type LocalEntry struct {
	Count uint32
	Type  types.ValType
}

// CustomSection is a named custom section.
type CustomSection struct {
	Name string
	Data []byte
}

// ConstExpr is a raw constant expression including its end opcode.
type ConstExpr []byte

// ImportedFuncCount returns the number of imported functions.
func (m *Module) ImportedFuncCount() uint32 {
	return m.importCount(KindFunc)
}

// ImportedTableCount returns the number of imported tables.
func (m *Module) ImportedTableCount() uint32 {
	return m.importCount(KindTable)
}

// ImportedMemoryCount returns the number of imported memories.
func (m *Module) ImportedMemoryCount() uint32 {
	return m.importCount(KindMemory)
}

// ImportedGlobalCount returns the number of imported globals.
func (m *Module) ImportedGlobalCount() uint32 {
	return m.importCount(KindGlobal)
}

func (m *Module) importCount(kind byte) uint32 {
	var n uint32
	for _, imp := range m.Imports {
		if imp.Desc.Kind == kind {
			n++
		}
	}
	return n
}

// FuncType returns the signature of function index idx in the function index space.
func (m *Module) FuncType(idx uint32) (types.FuncType, bool) {
	var seen uint32
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindFunc {
			continue
		}
		if seen == idx {
			return m.typeAt(imp.Desc.TypeIdx)
		}
		seen++
	}
	local := idx - seen
	if idx < seen || int(local) >= len(m.Funcs) {
		return types.FuncType{}, false
	}
	return m.typeAt(m.Funcs[local])
}

func (m *Module) typeAt(idx uint32) (types.FuncType, bool) {
	if int(idx) >= len(m.Types) {
		return types.FuncType{}, false
	}
	return m.Types[idx], true
}

// TableType returns the type of table index idx.
func (m *Module) TableType(idx uint32) (types.TableType, bool) {
	var seen uint32
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindTable {
			continue
		}
		if seen == idx {
			return *imp.Desc.Table, true
		}
		seen++
	}
	local := idx - seen
	if idx < seen || int(local) >= len(m.Tables) {
		return types.TableType{}, false
	}
	return m.Tables[local], true
}

// MemoryType returns the type of memory index idx.
func (m *Module) MemoryType(idx uint32) (types.MemoryType, bool) {
	var seen uint32
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindMemory {
			continue
		}
		if seen == idx {
			return *imp.Desc.Memory, true
		}
		seen++
	}
	local := idx - seen
	if idx < seen || int(local) >= len(m.Memories) {
		return types.MemoryType{}, false
	}
	return m.Memories[local], true
}

// GlobalType returns the type of global index idx.
func (m *Module) GlobalType(idx uint32) (types.GlobalType, bool) {
	var seen uint32
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindGlobal {
			continue
		}
		if seen == idx {
			return *imp.Desc.Global, true
		}
		seen++
	}
	local := idx - seen
	if idx < seen || int(local) >= len(m.Globals) {
		return types.GlobalType{}, false
	}
	return m.Globals[local].Type, true
}

// ImportedGlobal returns the import declaring global index idx, if it is imported.
func (m *Module) ImportedGlobal(idx uint32) (Import, bool) {
	return m.nthImport(KindGlobal, idx)
}

// ImportedTable returns the import declaring table index idx, if it is imported.
func (m *Module) ImportedTable(idx uint32) (Import, bool) {
	return m.nthImport(KindTable, idx)
}

// ImportedMemory returns the import declaring memory index idx, if it is imported.
func (m *Module) ImportedMemory(idx uint32) (Import, bool) {
	return m.nthImport(KindMemory, idx)
}

func (m *Module) nthImport(kind byte, idx uint32) (Import, bool) {
	var seen uint32
	for _, imp := range m.Imports {
		if imp.Desc.Kind != kind {
			continue
		}
		if seen == idx {
			return imp, true
		}
		seen++
	}
	return Import{}, false
}

// ExternType returns the descriptor type for an export.
func (m *Module) ExternType(e Export) (types.ExternType, bool) {
	switch e.Kind {
	case KindFunc:
		ft, ok := m.FuncType(e.Index)
		return ft, ok
	case KindTable:
		tt, ok := m.TableType(e.Index)
		return tt, ok
	case KindMemory:
		mt, ok := m.MemoryType(e.Index)
		return mt, ok
	case KindGlobal:
		gt, ok := m.GlobalType(e.Index)
		return gt, ok
	}
	return nil, false
}

// ImportType returns the descriptor type for an import.
func (m *Module) ImportType(imp Import) (types.ExternType, bool) {
	switch imp.Desc.Kind {
	case KindFunc:
		ft, ok := m.typeAt(imp.Desc.TypeIdx)
		return ft, ok
	case KindTable:
		return *imp.Desc.Table, true
	case KindMemory:
		return *imp.Desc.Memory, true
	case KindGlobal:
		return *imp.Desc.Global, true
	}
	return nil, false
}
