package wasm

import (
	"sort"
	"strings"

	"github.com/wippyai/wasm-embed/types"
	"github.com/wippyai/wasm-embed/wasm/internal/binary"
)

// AccessorPrefix starts every export name generated for table access.
// Names with this prefix are hidden from export listings.
const AccessorPrefix = "\x00table."

// TableAccessors are the export names of the functions generated for one table.
type TableAccessors struct {
	Size string // () -> i32
	Grow string // (delta i32) -> i32, -1 on failure
	Get  string // (i32) -> ref
	Set  string // (i32, ref) -> ()
}

// AccessorNames returns the accessor export names for the table exported as name.
func AccessorNames(name string) TableAccessors {
	return TableAccessors{
		Size: AccessorPrefix + "size:" + name,
		Grow: AccessorPrefix + "grow:" + name,
		Get:  AccessorPrefix + "get:" + name,
		Set:  AccessorPrefix + "set:" + name,
	}
}

// IsAccessor reports whether an export name was generated by InjectTableAccessors.
func IsAccessor(name string) bool {
	return strings.HasPrefix(name, AccessorPrefix)
}

type tableExport struct {
	name string
	idx  uint32
	elem types.ValType
}

// InjectTableAccessors returns bin extended with size/grow/get/set functions
// for every exported table. The original sections are copied byte for byte
// apart from the entry counts of the sections that gain entries. m must be
// the parsed form of bin.
func InjectTableAccessors(bin []byte, m *Module) ([]byte, error) {
	var tables []tableExport
	for _, e := range m.Exports {
		if e.Kind != KindTable {
			continue
		}
		tt, ok := m.TableType(e.Index)
		if !ok {
			return nil, invalid("export %q: table %d out of range", e.Name, e.Index)
		}
		tables = append(tables, tableExport{name: e.Name, idx: e.Index, elem: tt.Elem})
	}
	if len(tables) == 0 {
		return bin, nil
	}

	typeBase := uint32(len(m.Types))
	funcBase := m.ImportedFuncCount() + uint32(len(m.Funcs))

	add := map[byte]*sectionAddition{
		SectionType:     {},
		SectionFunction: {},
		SectionExport:   {},
		SectionCode:     {},
	}
	for k, t := range tables {
		sigs := []types.FuncType{
			{Results: []types.ValType{types.I32}},
			{Params: []types.ValType{types.I32}, Results: []types.ValType{types.I32}},
			{Params: []types.ValType{types.I32}, Results: []types.ValType{t.elem}},
			{Params: []types.ValType{types.I32, t.elem}},
		}
		names := AccessorNames(t.name)
		exportNames := []string{names.Size, names.Grow, names.Get, names.Set}
		bodies := accessorBodies(t.idx, t.elem)

		for j := range sigs {
			typeIdx := typeBase + uint32(4*k+j)
			funcIdx := funcBase + uint32(4*k+j)

			add[SectionType].entry(func(w *binary.Writer) { writeFuncType(w, sigs[j]) })
			add[SectionFunction].entry(func(w *binary.Writer) { w.WriteU32(typeIdx) })
			add[SectionExport].entry(func(w *binary.Writer) {
				w.WriteName(exportNames[j])
				w.Byte(KindFunc)
				w.WriteU32(funcIdx)
			})
			add[SectionCode].entry(func(w *binary.Writer) {
				w.WriteU32(uint32(len(bodies[j])))
				w.WriteBytes(bodies[j])
			})
		}
	}
	return appendToSections(bin, add)
}

// ForwardBody returns a body that passes its params parameters to function
// target and returns whatever it returns.
func ForwardBody(target uint32, params int) FuncBody {
	var code []byte
	for i := range params {
		code = append(code, OpLocalGet)
		code = binary.AppendU64(code, uint64(i))
	}
	code = append(code, OpCall)
	code = binary.AppendU64(code, uint64(target))
	return FuncBody{Code: append(code, OpEnd)}
}

// accessorBodies returns encoded bodies (no locals) for size, grow, get and set.
func accessorBodies(table uint32, elem types.ValType) [4][]byte {
	body := func(code ...byte) []byte {
		return append([]byte{0x00}, append(code, OpEnd)...)
	}
	idx := binary.AppendU64(nil, uint64(table))
	prefixed := func(sub uint32) []byte {
		return append(binary.AppendU64([]byte{OpPrefixFC}, uint64(sub)), idx...)
	}

	var out [4][]byte
	out[0] = body(prefixed(OpTableSize)...)
	grow := []byte{OpRefNull, byte(elem), OpLocalGet, 0}
	out[1] = body(append(grow, prefixed(OpTableGrow)...)...)
	out[2] = body(append([]byte{OpLocalGet, 0, OpTableGet}, idx...)...)
	out[3] = body(append([]byte{OpLocalGet, 0, OpLocalGet, 1, OpTableSet}, idx...)...)
	return out
}

type sectionAddition struct {
	entries []byte
	count   uint32
}

func (a *sectionAddition) entry(write func(w *binary.Writer)) {
	w := binary.NewWriter()
	write(w)
	a.entries = append(a.entries, w.Bytes()...)
	a.count++
}

type rawSection struct {
	payload []byte
	id      byte
}

func splitSections(bin []byte) ([]rawSection, error) {
	r := binary.NewReader(bin)
	if err := r.Skip(8); err != nil {
		return nil, r.WrapError("header", err)
	}
	var out []rawSection
	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return nil, r.WrapError("section", err)
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError(SectionName(id), err)
		}
		payload, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, r.WrapError(SectionName(id), err)
		}
		out = append(out, rawSection{id: id, payload: payload})
	}
	return out, nil
}

// appendToSections adds entries to vector sections, creating missing sections in order.
func appendToSections(bin []byte, add map[byte]*sectionAddition) ([]byte, error) {
	sections, err := splitSections(bin)
	if err != nil {
		return nil, err
	}

	pending := make([]byte, 0, len(add))
	for id, a := range add {
		if a.count > 0 {
			pending = append(pending, id)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return sectionRank(pending[i]) < sectionRank(pending[j]) })

	w := binary.NewWriter()
	w.WriteBytes(bin[:8])

	flushBefore := func(rank int) {
		for len(pending) > 0 && sectionRank(pending[0]) < rank {
			id := pending[0]
			pending = pending[1:]
			a := add[id]
			s := binary.NewWriter()
			s.WriteU32(a.count)
			s.WriteBytes(a.entries)
			w.Section(id, s.Bytes())
		}
	}

	for _, sec := range sections {
		if sec.id == SectionCustom {
			w.Section(sec.id, sec.payload)
			continue
		}
		rank := sectionRank(sec.id)
		flushBefore(rank)

		a, ok := add[sec.id]
		if !ok || a.count == 0 {
			w.Section(sec.id, sec.payload)
			continue
		}
		if len(pending) > 0 && pending[0] == sec.id {
			pending = pending[1:]
		}

		r := binary.NewReader(sec.payload)
		n, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError(SectionName(sec.id), err)
		}
		rest, _ := r.ReadBytes(r.Len())
		s := binary.NewWriter()
		s.WriteU32(n + a.count)
		s.WriteBytes(rest)
		s.WriteBytes(a.entries)
		w.Section(sec.id, s.Bytes())
	}
	flushBefore(int(^uint(0) >> 1))
	return w.Bytes(), nil
}
