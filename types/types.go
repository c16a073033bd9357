package types

import (
	"fmt"
	"strings"
)

// ValType is a WebAssembly value type, using its binary encoding.
type ValType byte

const (
	I32       ValType = 0x7f
	I64       ValType = 0x7e
	F32       ValType = 0x7d
	F64       ValType = 0x7c
	V128      ValType = 0x7b
	FuncRef   ValType = 0x70
	ExternRef ValType = 0x6f
)

func (v ValType) String() string {
	switch v {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case V128:
		return "v128"
	case FuncRef:
		return "funcref"
	case ExternRef:
		return "externref"
	default:
		return fmt.Sprintf("valtype(0x%02x)", byte(v))
	}
}

// Valid reports whether v is one of the supported value types.
func (v ValType) Valid() bool {
	switch v {
	case I32, I64, F32, F64, V128, FuncRef, ExternRef:
		return true
	}
	return false
}

// IsRef reports whether v is a reference type.
func (v ValType) IsRef() bool {
	return v == FuncRef || v == ExternRef
}

// Slots returns the number of 64-bit words v occupies in native form.
func (v ValType) Slots() int {
	if v == V128 {
		return 2
	}
	return 1
}

// ExternKind identifies the kind of an import or export.
type ExternKind byte

const (
	KindFunction ExternKind = 0
	KindTable    ExternKind = 1
	KindMemory   ExternKind = 2
	KindGlobal   ExternKind = 3
)

func (k ExternKind) String() string {
	switch k {
	case KindFunction:
		return "func"
	case KindTable:
		return "table"
	case KindMemory:
		return "memory"
	case KindGlobal:
		return "global"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// ExternType is implemented by FuncType, TableType, MemoryType and GlobalType.
type ExternType interface {
	Kind() ExternKind
	String() string
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Func builds a FuncType.
func Func(params []ValType, results []ValType) FuncType {
	return FuncType{Params: params, Results: results}
}

func (FuncType) Kind() ExternKind { return KindFunction }

// Equal compares signatures structurally.
func (f FuncType) Equal(o FuncType) bool {
	return equalValTypes(f.Params, o.Params) && equalValTypes(f.Results, o.Results)
}

func (f FuncType) String() string {
	return "func" + valTypeList(f.Params) + " -> " + valTypeList(f.Results)
}

// Matches reports whether vals have exactly the parameter types of f.
func (f FuncType) Matches(vals []Value) bool {
	if len(vals) != len(f.Params) {
		return false
	}
	for i, v := range vals {
		if v.Type() != f.Params[i] {
			return false
		}
	}
	return true
}

// Limits are the size bounds of a table or memory.
type Limits struct {
	Max *uint32
	Min uint32
}

// Accepts reports whether an object with limits actual satisfies an import declaring l.
func (l Limits) Accepts(actual Limits) bool {
	if actual.Min < l.Min {
		return false
	}
	if l.Max == nil {
		return true
	}
	return actual.Max != nil && *actual.Max <= *l.Max
}

func (l Limits) String() string {
	if l.Max == nil {
		return fmt.Sprintf("[%d..]", l.Min)
	}
	return fmt.Sprintf("[%d..%d]", l.Min, *l.Max)
}

// TableType describes a table of references.
type TableType struct {
	Max  *uint32
	Min  uint32
	Elem ValType
}

func (TableType) Kind() ExternKind { return KindTable }

// Limits returns the size bounds.
func (t TableType) Limits() Limits {
	return Limits{Min: t.Min, Max: t.Max}
}

// Equal compares table types structurally.
func (t TableType) Equal(o TableType) bool {
	return t.Elem == o.Elem && t.Min == o.Min && equalMax(t.Max, o.Max)
}

func (t TableType) String() string {
	return "table" + t.Limits().String() + " " + t.Elem.String()
}

// MemoryType describes a linear memory in 64 KiB pages.
type MemoryType struct {
	Max    *uint32
	Min    uint32
	Shared bool
}

func (MemoryType) Kind() ExternKind { return KindMemory }

// Limits returns the size bounds in pages.
func (m MemoryType) Limits() Limits {
	return Limits{Min: m.Min, Max: m.Max}
}

// Equal compares memory types structurally.
func (m MemoryType) Equal(o MemoryType) bool {
	return m.Min == o.Min && m.Shared == o.Shared && equalMax(m.Max, o.Max)
}

func (m MemoryType) String() string {
	s := "memory" + m.Limits().String()
	if m.Shared {
		s += " shared"
	}
	return s
}

// Mutability of a global.
type Mutability byte

const (
	Const Mutability = 0
	Var   Mutability = 1
)

func (m Mutability) String() string {
	if m == Var {
		return "var"
	}
	return "const"
}

// GlobalType describes a global variable.
type GlobalType struct {
	Value      ValType
	Mutability Mutability
}

func (GlobalType) Kind() ExternKind { return KindGlobal }

// Equal compares global types structurally.
func (g GlobalType) Equal(o GlobalType) bool {
	return g == o
}

func (g GlobalType) String() string {
	return "global " + g.Mutability.String() + " " + g.Value.String()
}

// ImportDescriptor describes one import of a compiled module.
type ImportDescriptor struct {
	Type   ExternType
	Module string
	Name   string
	Kind   ExternKind
}

func (d ImportDescriptor) String() string {
	return fmt.Sprintf("%s.%s: %s", d.Module, d.Name, d.Type)
}

// ExportDescriptor describes one export of a compiled module or instance.
type ExportDescriptor struct {
	Type ExternType
	Name string
	Kind ExternKind
}

func (d ExportDescriptor) String() string {
	return fmt.Sprintf("%s: %s", d.Name, d.Type)
}

// Uint32 returns a pointer to v, for optional maxima.
func Uint32(v uint32) *uint32 {
	return &v
}

func equalMax(a, b *uint32) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalValTypes(a, b []ValType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func valTypeList(ts []ValType) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// TypeList formats the types of vals the way FuncType formats parameters.
func TypeList(vals []Value) string {
	ts := make([]ValType, len(vals))
	for i, v := range vals {
		ts[i] = v.Type()
	}
	return valTypeList(ts)
}
