package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/types"
)

// parseValue reads one argument of type vt. Integers accept any base
// strconv understands and the unsigned range of their width.
func parseValue(vt types.ValType, s string) (types.Value, error) {
	s = strings.TrimSpace(s)
	switch vt {
	case types.I32:
		if v, err := strconv.ParseInt(s, 0, 32); err == nil {
			return types.ValueI32(int32(v)), nil
		}
		v, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return types.Value{}, badArg(vt, s, err)
		}
		return types.ValueI32(int32(uint32(v))), nil
	case types.I64:
		if v, err := strconv.ParseInt(s, 0, 64); err == nil {
			return types.ValueI64(v), nil
		}
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return types.Value{}, badArg(vt, s, err)
		}
		return types.ValueI64(int64(v)), nil
	case types.F32:
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return types.Value{}, badArg(vt, s, err)
		}
		return types.ValueF32(float32(v)), nil
	case types.F64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return types.Value{}, badArg(vt, s, err)
		}
		return types.ValueF64(v), nil
	case types.FuncRef, types.ExternRef:
		if s != "null" {
			return types.Value{}, errors.Unsupported(errors.PhaseEncode, vt.String()+" arguments other than null")
		}
		return types.Zero(vt), nil
	default:
		return types.Value{}, errors.Unsupported(errors.PhaseEncode, vt.String()+" arguments")
	}
}

func badArg(vt types.ValType, s string, err error) error {
	return errors.New(errors.PhaseEncode, errors.KindInvalidInput).
		WasmType(vt.String()).
		Detail("cannot parse %q", s).
		Cause(err).
		Build()
}

// parseArgs converts command line arguments for a call to a function of type ft.
func parseArgs(ft types.FuncType, args []string) ([]types.Value, error) {
	if len(args) != len(ft.Params) {
		return nil, errors.InvalidInput(errors.PhaseEncode,
			fmt.Sprintf("%s takes %d arguments, got %d", ft, len(ft.Params), len(args)))
	}
	out := make([]types.Value, len(args))
	for i, a := range args {
		v, err := parseValue(ft.Params[i], a)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func formatValue(v types.Value) string {
	switch v.Type() {
	case types.I32:
		return strconv.FormatInt(int64(v.I32()), 10)
	case types.I64:
		return strconv.FormatInt(v.I64(), 10)
	case types.F32:
		return strconv.FormatFloat(float64(v.F32()), 'g', -1, 32)
	case types.F64:
		return strconv.FormatFloat(v.F64(), 'g', -1, 64)
	default:
		return v.String()
	}
}

func formatValues(vs []types.Value) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = formatValue(v)
	}
	return strings.Join(parts, " ")
}
