package types

import (
	"fmt"
	"math"
	"reflect"
)

// EngineRef is an opaque reference produced by the engine, such as a funcref
// read out of a table. It can be passed back to the engine unchanged.
type EngineRef uint64

// Value is an immutable WebAssembly value.
type Value struct {
	ref     any
	lo      uint64
	hi      uint64
	typ     ValType
	nonNull bool
}

// ValueI32 creates an i32 value.
func ValueI32(v int32) Value {
	return Value{typ: I32, lo: uint64(uint32(v))}
}

// ValueI64 creates an i64 value.
func ValueI64(v int64) Value {
	return Value{typ: I64, lo: uint64(v)}
}

// ValueF32 creates an f32 value.
func ValueF32(v float32) Value {
	return Value{typ: F32, lo: uint64(math.Float32bits(v))}
}

// ValueF64 creates an f64 value.
func ValueF64(v float64) Value {
	return Value{typ: F64, lo: math.Float64bits(v)}
}

// ValueV128 creates a v128 value from its low and high 64-bit halves.
func ValueV128(lo, hi uint64) Value {
	return Value{typ: V128, lo: lo, hi: hi}
}

// ValueFuncRef creates a non-null funcref. A nil payload yields the null funcref.
func ValueFuncRef(payload any) Value {
	if payload == nil {
		return NullFuncRef()
	}
	return Value{typ: FuncRef, ref: payload, nonNull: true}
}

// NullFuncRef returns the null funcref.
func NullFuncRef() Value {
	return Value{typ: FuncRef}
}

// ValueExternRef creates a non-null externref. A nil payload yields the null externref.
func ValueExternRef(payload any) Value {
	if payload == nil {
		return NullExternRef()
	}
	return Value{typ: ExternRef, ref: payload, nonNull: true}
}

// NullExternRef returns the null externref.
func NullExternRef() Value {
	return Value{typ: ExternRef}
}

// Zero returns the default value of t: zero for numbers, null for references.
func Zero(t ValType) Value {
	return Value{typ: t}
}

// Type returns the value type.
func (v Value) Type() ValType { return v.typ }

// I32 returns the i32 payload.
func (v Value) I32() int32 { return int32(uint32(v.lo)) }

// I64 returns the i64 payload.
func (v Value) I64() int64 { return int64(v.lo) }

// F32 returns the f32 payload.
func (v Value) F32() float32 { return math.Float32frombits(uint32(v.lo)) }

// F64 returns the f64 payload.
func (v Value) F64() float64 { return math.Float64frombits(v.lo) }

// V128 returns the low and high halves of a v128.
func (v Value) V128() (lo, hi uint64) { return v.lo, v.hi }

// Ref returns the reference payload, nil for null references.
func (v Value) Ref() any { return v.ref }

// IsNull reports whether v is a null reference.
func (v Value) IsNull() bool {
	return v.typ.IsRef() && !v.nonNull
}

// Bits returns the raw numeric bits of a non-reference value.
func (v Value) Bits() uint64 { return v.lo }

// Equal compares two values. Floats compare by bit pattern.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	if !v.typ.IsRef() {
		return v.lo == o.lo && v.hi == o.hi
	}
	if v.nonNull != o.nonNull {
		return false
	}
	if !v.nonNull {
		return true
	}
	a, b := reflect.TypeOf(v.ref), reflect.TypeOf(o.ref)
	if a != b || !a.Comparable() {
		return false
	}
	return v.ref == o.ref
}

func (v Value) String() string {
	switch v.typ {
	case I32:
		return fmt.Sprintf("i32:%d", v.I32())
	case I64:
		return fmt.Sprintf("i64:%d", v.I64())
	case F32:
		return fmt.Sprintf("f32:%g", v.F32())
	case F64:
		return fmt.Sprintf("f64:%g", v.F64())
	case V128:
		return fmt.Sprintf("v128:%016x%016x", v.hi, v.lo)
	case FuncRef, ExternRef:
		if !v.nonNull {
			return v.typ.String() + ":null"
		}
		return fmt.Sprintf("%s:%v", v.typ, v.ref)
	default:
		return "invalid"
	}
}
