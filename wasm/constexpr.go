package wasm

import (
	"fmt"

	"github.com/wippyai/wasm-embed/types"
	"github.com/wippyai/wasm-embed/wasm/internal/binary"
)

// GlobalLookup resolves global.get operands during constant evaluation.
type GlobalLookup func(idx uint32) (types.Value, bool)

// EvalConst evaluates a constant expression. Function references evaluate to
// a funcref carrying the function index.
func EvalConst(expr ConstExpr, globals GlobalLookup) (types.Value, error) {
	r := binary.NewReader(expr)
	var stack []types.Value

	pop2 := func() (types.Value, types.Value, error) {
		if len(stack) < 2 {
			return types.Value{}, types.Value{}, fmt.Errorf("%w: const expr stack underflow", ErrMalformed)
		}
		a, b := stack[len(stack)-2], stack[len(stack)-1]
		stack = stack[:len(stack)-2]
		return a, b, nil
	}

	for {
		op, err := r.ReadByte()
		if err != nil {
			return types.Value{}, fmt.Errorf("%w: const expr missing end", ErrMalformed)
		}
		switch op {
		case OpEnd:
			if len(stack) != 1 {
				return types.Value{}, fmt.Errorf("%w: const expr leaves %d values", ErrMalformed, len(stack))
			}
			return stack[0], nil
		case OpI32Const:
			v, err := r.ReadS32()
			if err != nil {
				return types.Value{}, err
			}
			stack = append(stack, types.ValueI32(v))
		case OpI64Const:
			v, err := r.ReadS64()
			if err != nil {
				return types.Value{}, err
			}
			stack = append(stack, types.ValueI64(v))
		case OpF32Const:
			bits, err := r.ReadU32LE()
			if err != nil {
				return types.Value{}, err
			}
			stack = append(stack, mustDecode(types.F32, uint64(bits)))
		case OpF64Const:
			bits, err := r.ReadU64LE()
			if err != nil {
				return types.Value{}, err
			}
			stack = append(stack, mustDecode(types.F64, bits))
		case OpPrefixFD:
			if _, err := r.ReadU32(); err != nil {
				return types.Value{}, err
			}
			lo, err := r.ReadU64LE()
			if err != nil {
				return types.Value{}, err
			}
			hi, err := r.ReadU64LE()
			if err != nil {
				return types.Value{}, err
			}
			stack = append(stack, types.ValueV128(lo, hi))
		case OpGlobalGet:
			idx, err := r.ReadU32()
			if err != nil {
				return types.Value{}, err
			}
			if globals == nil {
				return types.Value{}, fmt.Errorf("global.get %d: no globals available", idx)
			}
			v, ok := globals(idx)
			if !ok {
				return types.Value{}, fmt.Errorf("global.get %d: unresolved", idx)
			}
			stack = append(stack, v)
		case OpRefNull:
			t, err := r.ReadByte()
			if err != nil {
				return types.Value{}, err
			}
			stack = append(stack, types.Zero(types.ValType(t)))
		case OpRefFunc:
			idx, err := r.ReadU32()
			if err != nil {
				return types.Value{}, err
			}
			stack = append(stack, types.ValueFuncRef(FuncIndex(idx)))
		case OpI32Add, OpI32Sub, OpI32Mul:
			a, b, err := pop2()
			if err != nil {
				return types.Value{}, err
			}
			stack = append(stack, types.ValueI32(arith32(op, a.I32(), b.I32())))
		case OpI64Add, OpI64Sub, OpI64Mul:
			a, b, err := pop2()
			if err != nil {
				return types.Value{}, err
			}
			stack = append(stack, types.ValueI64(arith64(op, a.I64(), b.I64())))
		default:
			return types.Value{}, fmt.Errorf("%w: const expr opcode 0x%02x", ErrMalformed, op)
		}
	}
}

// FuncIndex is the payload of funcrefs produced by constant evaluation.
type FuncIndex uint32

func arith32(op byte, a, b int32) int32 {
	switch op {
	case OpI32Add:
		return a + b
	case OpI32Sub:
		return a - b
	default:
		return a * b
	}
}

func arith64(op byte, a, b int64) int64 {
	switch op {
	case OpI64Add:
		return a + b
	case OpI64Sub:
		return a - b
	default:
		return a * b
	}
}

func mustDecode(t types.ValType, bits uint64) types.Value {
	v, _, _ := types.DecodeValue(t, []uint64{bits}, nil)
	return v
}

// I32Const encodes "i32.const v; end".
func I32Const(v int32) ConstExpr {
	return append(binary.AppendS64([]byte{OpI32Const}, int64(v)), OpEnd)
}

// I64Const encodes "i64.const v; end".
func I64Const(v int64) ConstExpr {
	return append(binary.AppendS64([]byte{OpI64Const}, v), OpEnd)
}

// GlobalGet encodes "global.get idx; end".
func GlobalGet(idx uint32) ConstExpr {
	return append(binary.AppendU64([]byte{OpGlobalGet}, uint64(idx)), OpEnd)
}

// ValueConst encodes a constant expression producing v. Non-null references
// other than funcref indices cannot be expressed and yield a null of that type.
func ValueConst(v types.Value) ConstExpr {
	switch v.Type() {
	case types.I32:
		return I32Const(v.I32())
	case types.I64:
		return I64Const(v.I64())
	case types.F32:
		w := binary.NewWriter()
		w.Byte(OpF32Const)
		w.WriteU32LE(uint32(v.Bits()))
		w.Byte(OpEnd)
		return w.Bytes()
	case types.F64:
		w := binary.NewWriter()
		w.Byte(OpF64Const)
		w.WriteU64LE(v.Bits())
		w.Byte(OpEnd)
		return w.Bytes()
	case types.V128:
		lo, hi := v.V128()
		w := binary.NewWriter()
		w.Byte(OpPrefixFD)
		w.WriteU32(OpV128Const)
		w.WriteU64LE(lo)
		w.WriteU64LE(hi)
		w.Byte(OpEnd)
		return w.Bytes()
	default:
		if idx, ok := v.Ref().(FuncIndex); ok {
			return append(binary.AppendU64([]byte{OpRefFunc}, uint64(idx)), OpEnd)
		}
		return ConstExpr{OpRefNull, byte(v.Type()), OpEnd}
	}
}
