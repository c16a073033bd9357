package wasm_test

import (
	"errors"
	"math"
	"testing"

	"github.com/wippyai/wasm-embed/types"
	"github.com/wippyai/wasm-embed/wasm"
)

func TestEvalConst(t *testing.T) {
	globals := func(idx uint32) (types.Value, bool) {
		if idx == 0 {
			return types.ValueI32(100), true
		}
		return types.Value{}, false
	}

	tests := []struct {
		want types.Value
		name string
		expr wasm.ConstExpr
	}{
		{name: "i32", expr: wasm.I32Const(-5), want: types.ValueI32(-5)},
		{name: "i64", expr: wasm.I64Const(math.MinInt64), want: types.ValueI64(math.MinInt64)},
		{name: "global", expr: wasm.GlobalGet(0), want: types.ValueI32(100)},
		{name: "f32", expr: wasm.ValueConst(types.ValueF32(1.5)), want: types.ValueF32(1.5)},
		{name: "f64", expr: wasm.ValueConst(types.ValueF64(-2.25)), want: types.ValueF64(-2.25)},
		{name: "v128", expr: wasm.ValueConst(types.ValueV128(1, 2)), want: types.ValueV128(1, 2)},
		{name: "null externref", expr: wasm.ValueConst(types.NullExternRef()), want: types.NullExternRef()},
		{
			name: "extended add",
			expr: wasm.ConstExpr{wasm.OpGlobalGet, 0, wasm.OpI32Const, 8, wasm.OpI32Add, wasm.OpEnd},
			want: types.ValueI32(108),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := wasm.EvalConst(tt.expr, globals)
			if err != nil {
				t.Fatalf("EvalConst: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvalConstRefFunc(t *testing.T) {
	v, err := wasm.EvalConst(wasm.ValueConst(types.ValueFuncRef(wasm.FuncIndex(3))), nil)
	if err != nil {
		t.Fatalf("EvalConst: %v", err)
	}
	if idx, ok := v.Ref().(wasm.FuncIndex); !ok || idx != 3 {
		t.Errorf("ref = %v", v.Ref())
	}
}

func TestEvalConstErrors(t *testing.T) {
	tests := map[string]wasm.ConstExpr{
		"missing end": {wasm.OpI32Const, 1},
		"empty":       {wasm.OpEnd},
		"underflow":   {wasm.OpI32Const, 1, wasm.OpI32Add, wasm.OpEnd},
		"opcode":      {0x01, wasm.OpEnd},
		"two values":  {wasm.OpI32Const, 1, wasm.OpI32Const, 2, wasm.OpEnd},
	}
	for name, expr := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := wasm.EvalConst(expr, nil); !errors.Is(err, wasm.ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
		})
	}

	if _, err := wasm.EvalConst(wasm.GlobalGet(2), nil); err == nil {
		t.Error("global.get without lookup should fail")
	}
}
