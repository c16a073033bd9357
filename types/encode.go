package types

import (
	"fmt"

	"github.com/wippyai/wasm-embed/errors"
)

// Refs maps host externref payloads to the opaque words the engine carries.
// Word 0 is reserved for null.
type Refs interface {
	Insert(payload any) uint64
	Lookup(word uint64) (any, bool)
}

// SlotCount returns the number of native words needed for ts.
func SlotCount(ts []ValType) int {
	n := 0
	for _, t := range ts {
		n += t.Slots()
	}
	return n
}

// EncodeValues converts values to native words. refs may be nil when no
// non-null externref with a host payload is present.
func EncodeValues(vals []Value, refs Refs) ([]uint64, error) {
	out := make([]uint64, 0, len(vals))
	for i, v := range vals {
		var err error
		out, err = appendValue(out, v, refs)
		if err != nil {
			return nil, withIndex(err, i)
		}
	}
	return out, nil
}

// EncodeValue converts a single value. v128 values produce two words.
func EncodeValue(v Value, refs Refs) ([]uint64, error) {
	return appendValue(make([]uint64, 0, 2), v, refs)
}

func appendValue(out []uint64, v Value, refs Refs) ([]uint64, error) {
	switch v.typ {
	case I32, I64, F32, F64:
		return append(out, v.lo), nil
	case V128:
		return append(out, v.lo, v.hi), nil
	case FuncRef:
		if !v.nonNull {
			return append(out, 0), nil
		}
		raw, ok := v.ref.(EngineRef)
		if !ok {
			return nil, errors.New(errors.PhaseEncode, errors.KindUnsupported).
				GoType(fmt.Sprintf("%T", v.ref)).
				WasmType("funcref").
				Detail("funcref payload must come from the engine").
				Build()
		}
		return append(out, uint64(raw)), nil
	case ExternRef:
		if !v.nonNull {
			return append(out, 0), nil
		}
		if raw, ok := v.ref.(EngineRef); ok {
			return append(out, uint64(raw)), nil
		}
		if refs == nil {
			return nil, errors.New(errors.PhaseEncode, errors.KindNotInitialized).
				WasmType("externref").
				Detail("no reference table for host payload").
				Build()
		}
		return append(out, refs.Insert(v.ref)), nil
	default:
		return nil, errors.New(errors.PhaseEncode, errors.KindUnsupported).
			WasmType(v.typ.String()).
			Detail("invalid value").
			Build()
	}
}

// DecodeValues converts native words back to values of the given types.
func DecodeValues(ts []ValType, raw []uint64, refs Refs) ([]Value, error) {
	if need := SlotCount(ts); len(raw) < need {
		return nil, errors.New(errors.PhaseDecode, errors.KindOutOfBounds).
			Detail("need %d words, have %d", need, len(raw)).
			Build()
	}
	out := make([]Value, len(ts))
	pos := 0
	for i, t := range ts {
		v, n, err := DecodeValue(t, raw[pos:], refs)
		if err != nil {
			return nil, withIndex(err, i)
		}
		out[i] = v
		pos += n
	}
	return out, nil
}

// DecodeValue reads one value of type t from raw and reports the words consumed.
func DecodeValue(t ValType, raw []uint64, refs Refs) (Value, int, error) {
	if len(raw) < t.Slots() {
		return Value{}, 0, errors.New(errors.PhaseDecode, errors.KindOutOfBounds).
			WasmType(t.String()).
			Detail("truncated value").
			Build()
	}
	w := raw[0]
	switch t {
	case I32:
		return Value{typ: I32, lo: uint64(uint32(w))}, 1, nil
	case I64, F64:
		return Value{typ: t, lo: w}, 1, nil
	case F32:
		return Value{typ: F32, lo: uint64(uint32(w))}, 1, nil
	case V128:
		return ValueV128(w, raw[1]), 2, nil
	case FuncRef:
		if w == 0 {
			return NullFuncRef(), 1, nil
		}
		return ValueFuncRef(EngineRef(w)), 1, nil
	case ExternRef:
		if w == 0 {
			return NullExternRef(), 1, nil
		}
		if refs != nil {
			if payload, ok := refs.Lookup(w); ok {
				return ValueExternRef(payload), 1, nil
			}
		}
		return ValueExternRef(EngineRef(w)), 1, nil
	default:
		return Value{}, 0, errors.New(errors.PhaseDecode, errors.KindUnsupported).
			WasmType(t.String()).
			Build()
	}
}

func withIndex(err error, i int) error {
	if e, ok := err.(*errors.Error); ok {
		e.Path = append(e.Path, fmt.Sprint(i))
		return e
	}
	return err
}
