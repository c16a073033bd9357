package wasm

import (
	"errors"
	"fmt"

	"github.com/wippyai/wasm-embed/types"
	"github.com/wippyai/wasm-embed/wasm/internal/binary"
)

var (
	ErrInvalidMagic   = errors.New("invalid magic number")
	ErrInvalidVersion = errors.New("unsupported binary version")
	ErrSectionOrder   = errors.New("section out of order")
	ErrUnknownSection = errors.New("unknown section")
	ErrMalformed      = errors.New("malformed section")
)

// ParseModule decodes a binary module. Code bodies are kept raw.
func ParseModule(data []byte) (*Module, error) {
	r := binary.NewReader(data)

	magic, err := r.ReadU32LE()
	if err != nil || magic != Magic {
		return nil, r.WrapError("header", ErrInvalidMagic)
	}
	version, err := r.ReadU32LE()
	if err != nil || version != Version {
		return nil, r.WrapError("header", ErrInvalidVersion)
	}

	m := &Module{}
	lastRank := 0
	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return nil, r.WrapError("section", err)
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError(SectionName(id), err)
		}
		sec, err := r.Sub(int(size))
		if err != nil {
			return nil, r.WrapError(SectionName(id), err)
		}

		if id != SectionCustom {
			rank := sectionRank(id)
			if rank == 0 {
				return nil, sec.WrapError("section", fmt.Errorf("%w: id %d", ErrUnknownSection, id))
			}
			if rank <= lastRank {
				return nil, sec.WrapError(SectionName(id), ErrSectionOrder)
			}
			lastRank = rank
		}

		if err := m.decodeSection(id, sec); err != nil {
			return nil, sec.WrapError(SectionName(id), err)
		}
		if sec.Len() != 0 && id != SectionCustom {
			return nil, sec.WrapError(SectionName(id), fmt.Errorf("%w: %d trailing bytes", ErrMalformed, sec.Len()))
		}
	}
	return m, nil
}

func (m *Module) decodeSection(id byte, r *binary.Reader) error {
	switch id {
	case SectionCustom:
		return m.decodeCustom(r)
	case SectionType:
		return readVec(r, func() error {
			ft, err := readFuncType(r)
			m.Types = append(m.Types, ft)
			return err
		})
	case SectionImport:
		return readVec(r, func() error {
			imp, err := readImport(r)
			m.Imports = append(m.Imports, imp)
			return err
		})
	case SectionFunction:
		return readVec(r, func() error {
			idx, err := r.ReadU32()
			m.Funcs = append(m.Funcs, idx)
			return err
		})
	case SectionTable:
		return readVec(r, func() error {
			tt, err := readTableType(r)
			m.Tables = append(m.Tables, tt)
			return err
		})
	case SectionMemory:
		return readVec(r, func() error {
			mt, err := readMemoryType(r)
			m.Memories = append(m.Memories, mt)
			return err
		})
	case SectionGlobal:
		return readVec(r, func() error {
			gt, err := readGlobalType(r)
			if err != nil {
				return err
			}
			init, err := readConstExpr(r)
			m.Globals = append(m.Globals, Global{Type: gt, Init: init})
			return err
		})
	case SectionExport:
		return readVec(r, func() error {
			name, err := r.ReadName()
			if err != nil {
				return err
			}
			kind, err := r.ReadByte()
			if err != nil {
				return err
			}
			idx, err := r.ReadU32()
			m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Index: idx})
			return err
		})
	case SectionStart:
		idx, err := r.ReadU32()
		m.Start = &idx
		return err
	case SectionElement:
		return readVec(r, func() error {
			el, err := readElement(r)
			m.Elements = append(m.Elements, el)
			return err
		})
	case SectionDataCount:
		n, err := r.ReadU32()
		m.DataCount = &n
		return err
	case SectionCode:
		return readVec(r, func() error {
			body, err := readFuncBody(r)
			m.Code = append(m.Code, body)
			return err
		})
	case SectionData:
		return readVec(r, func() error {
			seg, err := readDataSegment(r)
			m.Data = append(m.Data, seg)
			return err
		})
	}
	return ErrUnknownSection
}

func readVec(r *binary.Reader, item func() error) error {
	n, err := r.ReadU32()
	if err != nil {
		return err
	}
	if int(n) > r.Len() {
		return fmt.Errorf("%w: vector of %d items in %d bytes", ErrMalformed, n, r.Len())
	}
	for i := uint32(0); i < n; i++ {
		if err := item(); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}

func (m *Module) decodeCustom(r *binary.Reader) error {
	name, err := r.ReadName()
	if err != nil {
		return err
	}
	data, err := r.ReadBytes(r.Len())
	if err != nil {
		return err
	}
	m.CustomSections = append(m.CustomSections, CustomSection{Name: name, Data: data})
	if name == "name" {
		m.Name = moduleNameFrom(data)
	}
	return nil
}

// moduleNameFrom extracts subsection 0 of a name section. Malformed data is ignored.
func moduleNameFrom(data []byte) string {
	r := binary.NewReader(data)
	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return ""
		}
		size, err := r.ReadU32()
		if err != nil {
			return ""
		}
		sub, err := r.Sub(int(size))
		if err != nil {
			return ""
		}
		if id == 0 {
			name, err := sub.ReadName()
			if err != nil {
				return ""
			}
			return name
		}
	}
	return ""
}

func readValType(r *binary.Reader) (types.ValType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	t := types.ValType(b)
	if !t.Valid() {
		return 0, fmt.Errorf("%w: value type 0x%02x", ErrMalformed, b)
	}
	return t, nil
}

func readRefType(r *binary.Reader) (types.ValType, error) {
	t, err := readValType(r)
	if err != nil {
		return 0, err
	}
	if !t.IsRef() {
		return 0, fmt.Errorf("%w: %s is not a reference type", ErrMalformed, t)
	}
	return t, nil
}

func readFuncType(r *binary.Reader) (types.FuncType, error) {
	form, err := r.ReadByte()
	if err != nil {
		return types.FuncType{}, err
	}
	if form != FuncTypeByte {
		return types.FuncType{}, fmt.Errorf("%w: type form 0x%02x", ErrMalformed, form)
	}
	params, err := readValTypes(r)
	if err != nil {
		return types.FuncType{}, err
	}
	results, err := readValTypes(r)
	if err != nil {
		return types.FuncType{}, err
	}
	return types.FuncType{Params: params, Results: results}, nil
}

func readValTypes(r *binary.Reader) ([]types.ValType, error) {
	n, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if int(n) > r.Len() {
		return nil, ErrMalformed
	}
	out := make([]types.ValType, n)
	for i := range out {
		if out[i], err = readValType(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readImport(r *binary.Reader) (Import, error) {
	var imp Import
	var err error
	if imp.Module, err = r.ReadName(); err != nil {
		return imp, err
	}
	if imp.Name, err = r.ReadName(); err != nil {
		return imp, err
	}
	if imp.Desc.Kind, err = r.ReadByte(); err != nil {
		return imp, err
	}
	switch imp.Desc.Kind {
	case KindFunc:
		imp.Desc.TypeIdx, err = r.ReadU32()
	case KindTable:
		var tt types.TableType
		tt, err = readTableType(r)
		imp.Desc.Table = &tt
	case KindMemory:
		var mt types.MemoryType
		mt, err = readMemoryType(r)
		imp.Desc.Memory = &mt
	case KindGlobal:
		var gt types.GlobalType
		gt, err = readGlobalType(r)
		imp.Desc.Global = &gt
	default:
		err = fmt.Errorf("%w: import kind 0x%02x", ErrMalformed, imp.Desc.Kind)
	}
	return imp, err
}

func readLimits(r *binary.Reader) (lo uint32, hi *uint32, flags byte, err error) {
	if flags, err = r.ReadByte(); err != nil {
		return
	}
	if flags&limits64 != 0 {
		err = fmt.Errorf("%w: 64-bit limits", ErrMalformed)
		return
	}
	if flags&^(limitsHasMax|limitsShared) != 0 {
		err = fmt.Errorf("%w: limits flags 0x%02x", ErrMalformed, flags)
		return
	}
	if lo, err = r.ReadU32(); err != nil {
		return
	}
	if flags&limitsHasMax != 0 {
		var v uint32
		if v, err = r.ReadU32(); err != nil {
			return
		}
		hi = &v
	}
	return
}

func readTableType(r *binary.Reader) (types.TableType, error) {
	elem, err := readRefType(r)
	if err != nil {
		return types.TableType{}, err
	}
	lo, hi, flags, err := readLimits(r)
	if err != nil {
		return types.TableType{}, err
	}
	if flags&limitsShared != 0 {
		return types.TableType{}, fmt.Errorf("%w: shared table", ErrMalformed)
	}
	return types.TableType{Elem: elem, Min: lo, Max: hi}, nil
}

func readMemoryType(r *binary.Reader) (types.MemoryType, error) {
	lo, hi, flags, err := readLimits(r)
	if err != nil {
		return types.MemoryType{}, err
	}
	return types.MemoryType{Min: lo, Max: hi, Shared: flags&limitsShared != 0}, nil
}

func readGlobalType(r *binary.Reader) (types.GlobalType, error) {
	vt, err := readValType(r)
	if err != nil {
		return types.GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return types.GlobalType{}, err
	}
	if mut > 1 {
		return types.GlobalType{}, fmt.Errorf("%w: mutability 0x%02x", ErrMalformed, mut)
	}
	return types.GlobalType{Value: vt, Mutability: types.Mutability(mut)}, nil
}

// readConstExpr returns the raw bytes of a constant expression up to and including end.
func readConstExpr(r *binary.Reader) (ConstExpr, error) {
	start := r.Position()
	var expr []byte
	for {
		op, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		expr = append(expr, op)
		var imm []byte
		switch op {
		case OpEnd:
			return ConstExpr(expr), nil
		case OpI32Const:
			v, err := r.ReadS32()
			if err != nil {
				return nil, err
			}
			imm = binary.AppendS64(nil, int64(v))
		case OpI64Const:
			v, err := r.ReadS64()
			if err != nil {
				return nil, err
			}
			imm = binary.AppendS64(nil, v)
		case OpF32Const:
			imm, err = r.ReadBytes(4)
		case OpF64Const:
			imm, err = r.ReadBytes(8)
		case OpGlobalGet, OpRefFunc:
			v, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			imm = binary.AppendU64(nil, uint64(v))
		case OpRefNull:
			var t types.ValType
			t, err = readRefType(r)
			imm = []byte{byte(t)}
		case OpI32Add, OpI32Sub, OpI32Mul, OpI64Add, OpI64Sub, OpI64Mul:
		case OpPrefixFD:
			sub, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			if sub != OpV128Const {
				return nil, fmt.Errorf("%w: const expr opcode 0xfd %d", ErrMalformed, sub)
			}
			b, err := r.ReadBytes(16)
			if err != nil {
				return nil, err
			}
			imm = append(binary.AppendU64(nil, uint64(sub)), b...)
		default:
			return nil, fmt.Errorf("%w: const expr opcode 0x%02x at %d", ErrMalformed, op, start)
		}
		if err != nil {
			return nil, err
		}
		expr = append(expr, imm...)
	}
}

func readFuncIndices(r *binary.Reader) ([]uint32, error) {
	n, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if int(n) > r.Len() {
		return nil, ErrMalformed
	}
	out := make([]uint32, n)
	for i := range out {
		if out[i], err = r.ReadU32(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readElemExprs(r *binary.Reader) (uint32, error) {
	n, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	for i := uint32(0); i < n; i++ {
		if _, err := readConstExpr(r); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// readElement decodes the eight element segment encodings.
func readElement(r *binary.Reader) (Element, error) {
	el := Element{Type: types.FuncRef}
	flags, err := r.ReadU32()
	if err != nil {
		return el, err
	}
	if flags > 7 {
		return el, fmt.Errorf("%w: element flags %d", ErrMalformed, flags)
	}

	switch {
	case flags&0x01 == 0:
		el.Mode = ModeActive
	case flags&0x02 == 0:
		el.Mode = ModePassive
	default:
		el.Mode = ModeDeclarative
	}

	if el.Mode == ModeActive {
		if flags&0x02 != 0 {
			if el.Table, err = r.ReadU32(); err != nil {
				return el, err
			}
		}
		if el.Offset, err = readConstExpr(r); err != nil {
			return el, err
		}
	}

	usesExprs := flags&0x04 != 0
	// flags 0 and 4 have an implicit funcref element type
	if flags != 0 && flags != 4 {
		if usesExprs {
			if el.Type, err = readRefType(r); err != nil {
				return el, err
			}
		} else {
			kind, err := r.ReadByte()
			if err != nil {
				return el, err
			}
			if kind != elemKindFuncRef {
				return el, fmt.Errorf("%w: element kind 0x%02x", ErrMalformed, kind)
			}
		}
	}

	if usesExprs {
		el.Count, err = readElemExprs(r)
	} else {
		el.Funcs, err = readFuncIndices(r)
		el.Count = uint32(len(el.Funcs))
	}
	return el, err
}

func readDataSegment(r *binary.Reader) (DataSegment, error) {
	var seg DataSegment
	flags, err := r.ReadU32()
	if err != nil {
		return seg, err
	}
	switch flags {
	case 0:
		seg.Mode = ModeActive
	case 1:
		seg.Mode = ModePassive
	case 2:
		seg.Mode = ModeActive
		if seg.Memory, err = r.ReadU32(); err != nil {
			return seg, err
		}
	default:
		return seg, fmt.Errorf("%w: data flags %d", ErrMalformed, flags)
	}
	if seg.Mode == ModeActive {
		if seg.Offset, err = readConstExpr(r); err != nil {
			return seg, err
		}
	}
	n, err := r.ReadU32()
	if err != nil {
		return seg, err
	}
	seg.Init, err = r.ReadBytes(int(n))
	return seg, err
}

func readFuncBody(r *binary.Reader) (FuncBody, error) {
	var body FuncBody
	size, err := r.ReadU32()
	if err != nil {
		return body, err
	}
	br, err := r.Sub(int(size))
	if err != nil {
		return body, err
	}
	err = readVec(br, func() error {
		count, err := br.ReadU32()
		if err != nil {
			return err
		}
		t, err := readValType(br)
		body.Locals = append(body.Locals, LocalEntry{Count: count, Type: t})
		return err
	})
	if err != nil {
		return body, err
	}
	body.Code, err = br.ReadBytes(br.Len())
	return body, err
}
