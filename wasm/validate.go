package wasm

import (
	"errors"
	"fmt"

	"github.com/wippyai/wasm-embed/types"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid module")

// Validate checks the structural rules the embedding layer relies on:
// index bounds, limits, export uniqueness and section count agreement.
// Instruction-level validation is left to the engine.
func Validate(m *Module) error {
	if len(m.Funcs) != len(m.Code) {
		return invalid("function section declares %d functions, code section has %d", len(m.Funcs), len(m.Code))
	}
	for i, idx := range m.Funcs {
		if int(idx) >= len(m.Types) {
			return invalid("function %d: type index %d out of range", i, idx)
		}
	}
	for i, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc && int(imp.Desc.TypeIdx) >= len(m.Types) {
			return invalid("import %d (%s.%s): type index %d out of range", i, imp.Module, imp.Name, imp.Desc.TypeIdx)
		}
	}

	if n := int(m.ImportedMemoryCount()) + len(m.Memories); n > 1 {
		return invalid("%d memories declared, at most one is supported", n)
	}
	for i, mt := range allMemories(m) {
		if mt.Min > MaxPages || (mt.Max != nil && *mt.Max > MaxPages) {
			return invalid("memory %d: limits exceed %d pages", i, MaxPages)
		}
		if mt.Max != nil && mt.Min > *mt.Max {
			return invalid("memory %d: min %d greater than max %d", i, mt.Min, *mt.Max)
		}
		if mt.Shared && mt.Max == nil {
			return invalid("memory %d: shared memory requires a maximum", i)
		}
	}
	for i, tt := range m.Tables {
		if tt.Max != nil && tt.Min > *tt.Max {
			return invalid("table %d: min %d greater than max %d", i, tt.Min, *tt.Max)
		}
	}

	funcCount := m.ImportedFuncCount() + uint32(len(m.Funcs))
	tableCount := m.ImportedTableCount() + uint32(len(m.Tables))
	memCount := m.ImportedMemoryCount() + uint32(len(m.Memories))
	globalCount := m.ImportedGlobalCount() + uint32(len(m.Globals))

	seen := make(map[string]struct{}, len(m.Exports))
	for _, e := range m.Exports {
		if _, dup := seen[e.Name]; dup {
			return invalid("duplicate export %q", e.Name)
		}
		seen[e.Name] = struct{}{}

		var limit uint32
		switch e.Kind {
		case KindFunc:
			limit = funcCount
		case KindTable:
			limit = tableCount
		case KindMemory:
			limit = memCount
		case KindGlobal:
			limit = globalCount
		default:
			return invalid("export %q: unknown kind %d", e.Name, e.Kind)
		}
		if e.Index >= limit {
			return invalid("export %q: index %d out of range", e.Name, e.Index)
		}
	}

	if m.Start != nil {
		ft, ok := m.FuncType(*m.Start)
		if !ok {
			return invalid("start function %d out of range", *m.Start)
		}
		if len(ft.Params) != 0 || len(ft.Results) != 0 {
			return invalid("start function must have type func() -> ()")
		}
	}

	for i, el := range m.Elements {
		if el.Mode == ModeActive && el.Table >= tableCount {
			return invalid("element segment %d: table %d out of range", i, el.Table)
		}
		for _, f := range el.Funcs {
			if f >= funcCount {
				return invalid("element segment %d: function %d out of range", i, f)
			}
		}
	}
	for i, seg := range m.Data {
		if seg.Mode == ModeActive && seg.Memory >= memCount {
			return invalid("data segment %d: memory %d out of range", i, seg.Memory)
		}
	}
	if m.DataCount != nil && int(*m.DataCount) != len(m.Data) {
		return invalid("data count %d does not match %d segments", *m.DataCount, len(m.Data))
	}
	return nil
}

func allMemories(m *Module) []types.MemoryType {
	out := make([]types.MemoryType, 0, len(m.Memories)+1)
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindMemory {
			out = append(out, *imp.Desc.Memory)
		}
	}
	return append(out, m.Memories...)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
