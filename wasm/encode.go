package wasm

import (
	"github.com/wippyai/wasm-embed/types"
	"github.com/wippyai/wasm-embed/wasm/internal/binary"
)

// Encode serializes a module. Element segments are written from Funcs;
// expression-encoded segments are written as null references.
func Encode(m *Module) []byte {
	w := binary.NewWriter()
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	if len(m.Types) > 0 {
		w.Section(SectionType, encodeVec(len(m.Types), func(s *binary.Writer, i int) {
			writeFuncType(s, m.Types[i])
		}))
	}
	if len(m.Imports) > 0 {
		w.Section(SectionImport, encodeVec(len(m.Imports), func(s *binary.Writer, i int) {
			writeImport(s, m.Imports[i])
		}))
	}
	if len(m.Funcs) > 0 {
		w.Section(SectionFunction, encodeVec(len(m.Funcs), func(s *binary.Writer, i int) {
			s.WriteU32(m.Funcs[i])
		}))
	}
	if len(m.Tables) > 0 {
		w.Section(SectionTable, encodeVec(len(m.Tables), func(s *binary.Writer, i int) {
			writeTableType(s, m.Tables[i])
		}))
	}
	if len(m.Memories) > 0 {
		w.Section(SectionMemory, encodeVec(len(m.Memories), func(s *binary.Writer, i int) {
			writeMemoryType(s, m.Memories[i])
		}))
	}
	if len(m.Globals) > 0 {
		w.Section(SectionGlobal, encodeVec(len(m.Globals), func(s *binary.Writer, i int) {
			writeGlobalType(s, m.Globals[i].Type)
			s.WriteBytes(m.Globals[i].Init)
		}))
	}
	if len(m.Exports) > 0 {
		w.Section(SectionExport, encodeVec(len(m.Exports), func(s *binary.Writer, i int) {
			e := m.Exports[i]
			s.WriteName(e.Name)
			s.Byte(e.Kind)
			s.WriteU32(e.Index)
		}))
	}
	if m.Start != nil {
		s := binary.NewWriter()
		s.WriteU32(*m.Start)
		w.Section(SectionStart, s.Bytes())
	}
	if len(m.Elements) > 0 {
		w.Section(SectionElement, encodeVec(len(m.Elements), func(s *binary.Writer, i int) {
			writeElement(s, m.Elements[i])
		}))
	}
	if m.DataCount != nil {
		s := binary.NewWriter()
		s.WriteU32(*m.DataCount)
		w.Section(SectionDataCount, s.Bytes())
	}
	if len(m.Code) > 0 {
		w.Section(SectionCode, encodeVec(len(m.Code), func(s *binary.Writer, i int) {
			body := encodeFuncBody(m.Code[i])
			s.WriteU32(uint32(len(body)))
			s.WriteBytes(body)
		}))
	}
	if len(m.Data) > 0 {
		w.Section(SectionData, encodeVec(len(m.Data), func(s *binary.Writer, i int) {
			writeDataSegment(s, m.Data[i])
		}))
	}
	for _, cs := range m.CustomSections {
		s := binary.NewWriter()
		s.WriteName(cs.Name)
		s.WriteBytes(cs.Data)
		w.Section(SectionCustom, s.Bytes())
	}
	if m.Name != "" && !hasCustom(m, "name") {
		w.Section(SectionCustom, encodeNameSection(m.Name))
	}
	return w.Bytes()
}

func hasCustom(m *Module, name string) bool {
	for _, cs := range m.CustomSections {
		if cs.Name == name {
			return true
		}
	}
	return false
}

func encodeNameSection(name string) []byte {
	sub := binary.NewWriter()
	sub.WriteName(name)
	s := binary.NewWriter()
	s.WriteName("name")
	s.Section(0, sub.Bytes())
	return s.Bytes()
}

func encodeVec(n int, item func(s *binary.Writer, i int)) []byte {
	s := binary.NewWriter()
	s.WriteU32(uint32(n))
	for i := 0; i < n; i++ {
		item(s, i)
	}
	return s.Bytes()
}

func writeFuncType(s *binary.Writer, ft types.FuncType) {
	s.Byte(FuncTypeByte)
	writeValTypes(s, ft.Params)
	writeValTypes(s, ft.Results)
}

func writeValTypes(s *binary.Writer, ts []types.ValType) {
	s.WriteU32(uint32(len(ts)))
	for _, t := range ts {
		s.Byte(byte(t))
	}
}

func writeImport(s *binary.Writer, imp Import) {
	s.WriteName(imp.Module)
	s.WriteName(imp.Name)
	s.Byte(imp.Desc.Kind)
	switch imp.Desc.Kind {
	case KindFunc:
		s.WriteU32(imp.Desc.TypeIdx)
	case KindTable:
		writeTableType(s, *imp.Desc.Table)
	case KindMemory:
		writeMemoryType(s, *imp.Desc.Memory)
	case KindGlobal:
		writeGlobalType(s, *imp.Desc.Global)
	}
}

func writeLimits(s *binary.Writer, lo uint32, hi *uint32, shared bool) {
	var flags byte
	if hi != nil {
		flags |= limitsHasMax
	}
	if shared {
		flags |= limitsShared
	}
	s.Byte(flags)
	s.WriteU32(lo)
	if hi != nil {
		s.WriteU32(*hi)
	}
}

func writeTableType(s *binary.Writer, tt types.TableType) {
	s.Byte(byte(tt.Elem))
	writeLimits(s, tt.Min, tt.Max, false)
}

func writeMemoryType(s *binary.Writer, mt types.MemoryType) {
	writeLimits(s, mt.Min, mt.Max, mt.Shared)
}

func writeGlobalType(s *binary.Writer, gt types.GlobalType) {
	s.Byte(byte(gt.Value))
	s.Byte(byte(gt.Mutability))
}

func writeElement(s *binary.Writer, el Element) {
	funcs := el.Funcs
	if funcs == nil && el.Count > 0 {
		// expression form: emit ref.null entries to keep the count
		switch el.Mode {
		case ModeActive:
			s.WriteU32(6)
			s.WriteU32(el.Table)
			s.WriteBytes(el.Offset)
		case ModePassive:
			s.WriteU32(5)
		default:
			s.WriteU32(7)
		}
		s.Byte(byte(el.Type))
		s.WriteU32(el.Count)
		for i := uint32(0); i < el.Count; i++ {
			s.WriteBytes([]byte{OpRefNull, byte(el.Type), OpEnd})
		}
		return
	}

	switch el.Mode {
	case ModeActive:
		if el.Table == 0 {
			s.WriteU32(0)
			s.WriteBytes(el.Offset)
		} else {
			s.WriteU32(2)
			s.WriteU32(el.Table)
			s.WriteBytes(el.Offset)
			s.Byte(elemKindFuncRef)
		}
	case ModePassive:
		s.WriteU32(1)
		s.Byte(elemKindFuncRef)
	default:
		s.WriteU32(3)
		s.Byte(elemKindFuncRef)
	}
	s.WriteU32(uint32(len(funcs)))
	for _, f := range funcs {
		s.WriteU32(f)
	}
}

func writeDataSegment(s *binary.Writer, seg DataSegment) {
	switch {
	case seg.Mode == ModePassive:
		s.WriteU32(1)
	case seg.Memory == 0:
		s.WriteU32(0)
		s.WriteBytes(seg.Offset)
	default:
		s.WriteU32(2)
		s.WriteU32(seg.Memory)
		s.WriteBytes(seg.Offset)
	}
	s.WriteU32(uint32(len(seg.Init)))
	s.WriteBytes(seg.Init)
}

func encodeFuncBody(body FuncBody) []byte {
	s := binary.NewWriter()
	s.WriteU32(uint32(len(body.Locals)))
	for _, l := range body.Locals {
		s.WriteU32(l.Count)
		s.Byte(byte(l.Type))
	}
	s.WriteBytes(body.Code)
	return s.Bytes()
}
