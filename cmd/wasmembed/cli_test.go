package main

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/config"
	"github.com/wippyai/wasm-embed/internal/wasmtest"
	"github.com/wippyai/wasm-embed/types"
	"github.com/wippyai/wasm-embed/wasi"
	"github.com/wippyai/wasm-embed/wasm"
)

func executeCommand(args ...string) (string, error) {
	root := newRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(bytes.NewReader(nil))
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.Execute()
	return buf.String(), err
}

func writeModule(t *testing.T, b *wasmtest.Builder) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guest.wasm")
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o644))
	return path
}

var noneToNone = types.Func(nil, nil)

// helloGuest writes "hi\n" to stdout from _start and exits with status code.
func helloGuest(code int32) *wasmtest.Builder {
	b := wasmtest.New()
	write := b.ImportFunc(wasi.ModuleName, "fd_write",
		types.Func([]types.ValType{types.I32, types.I32, types.I32, types.I32}, wasmtest.I32))
	exit := b.ImportFunc(wasi.ModuleName, "proc_exit", types.Func(wasmtest.I32, nil))
	mem := b.Memory(types.MemoryType{Min: 1})
	b.Data(0, []byte{8, 0, 0, 0, 3, 0, 0, 0, 'h', 'i', '\n'})

	c := wasmtest.I32Const
	start := b.Func(noneToNone, nil,
		c(1), c(0), c(1), c(16), wasmtest.Call(write), wasmtest.Op(wasmtest.Drop),
		c(code), wasmtest.Call(exit))
	b.Export("_start", wasm.KindFunc, start)
	return b.Export("memory", wasm.KindMemory, mem)
}

func TestCLIHelp(t *testing.T) {
	out, err := executeCommand("--help")
	require.NoError(t, err)
	for _, phrase := range []string{"wasmembed", "inspect", "run", "call", "compile", "--config"} {
		assert.Contains(t, out, phrase)
	}
}

func TestInspect(t *testing.T) {
	path := writeModule(t, helloGuest(0))
	out, err := executeCommand("inspect", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Imports (2)")
	assert.Contains(t, out, "wasi_snapshot_preview1.fd_write")
	assert.Contains(t, out, "Exports (2)")
	assert.Contains(t, out, "_start")

	_, err = executeCommand("inspect", filepath.Join(t.TempDir(), "missing.wasm"))
	assert.Error(t, err)
}

func TestCall(t *testing.T) {
	path := writeModule(t, wasmtest.AddModule())

	out, err := executeCommand("call", path, "add", "2", "0x3")
	require.NoError(t, err)
	assert.Equal(t, "5\n", out)

	_, err = executeCommand("call", path, "add", "2")
	assert.ErrorContains(t, err, "takes 2 arguments")
	_, err = executeCommand("call", path, "sub", "1", "2")
	assert.ErrorContains(t, err, "not found")
	_, err = executeCommand("call", path)
	assert.ErrorContains(t, err, "function name required")
}

func TestRunStart(t *testing.T) {
	out, err := executeCommand("run", writeModule(t, helloGuest(0)))
	require.NoError(t, err)
	assert.Equal(t, "hi\n", out)

	out, err = executeCommand("run", writeModule(t, helloGuest(3)))
	var exit *exitError
	require.True(t, stderrors.As(err, &exit), "got %v", err)
	assert.Equal(t, 3, exit.code)
	assert.Equal(t, "hi\n", out)
}

func TestRunInvoke(t *testing.T) {
	path := writeModule(t, wasmtest.AddModule())
	out, err := executeCommand("run", "--invoke", "add", path, "40", "2")
	require.NoError(t, err)
	assert.Equal(t, "42\n", out)

	_, err = executeCommand("run", path)
	assert.ErrorContains(t, err, "_start")
	_, err = executeCommand("run", "--env", "NOEQUALS", writeModule(t, helloGuest(0)))
	assert.ErrorContains(t, err, "KEY=VALUE")
}

func TestExecuteExitCode(t *testing.T) {
	assert.Equal(t, 0, execute([]string{"--log-level", "error", "inspect", writeModule(t, wasmtest.AddModule())}))
	assert.Equal(t, 1, execute([]string{"--log-level", "error", "inspect"}))
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want types.Value
		vt   types.ValType
	}{
		{"-7", types.ValueI32(-7), types.I32},
		{"0xffffffff", types.ValueI32(-1), types.I32},
		{"9000000000", types.ValueI64(9000000000), types.I64},
		{"18446744073709551615", types.ValueI64(-1), types.I64},
		{"1.5", types.ValueF32(1.5), types.F32},
		{" 2.25 ", types.ValueF64(2.25), types.F64},
		{"null", types.NullExternRef(), types.ExternRef},
	}
	for _, tt := range tests {
		got, err := parseValue(tt.vt, tt.in)
		require.NoError(t, err, tt.in)
		assert.True(t, got.Equal(tt.want), "%s: got %s", tt.in, got)
	}

	for _, bad := range []struct {
		in string
		vt types.ValType
	}{
		{"x", types.I32},
		{"4294967296", types.I32},
		{"1e400", types.F64},
		{"handle", types.FuncRef},
		{"0", types.V128},
	} {
		_, err := parseValue(bad.vt, bad.in)
		assert.Error(t, err, bad.in)
	}

	assert.Equal(t, "1 -2 0.5", formatValues([]types.Value{
		types.ValueI32(1), types.ValueI64(-2), types.ValueF64(0.5),
	}))
}

func TestPicker(t *testing.T) {
	ctx := context.Background()
	a := &app{cfg: config.Default(), log: zap.NewNop()}
	b := wasmtest.AddModule()
	b.Export("answer", wasm.KindFunc, b.Func(types.Func(nil, wasmtest.I32), nil, wasmtest.I32Const(42)))
	s, err := a.open(ctx, writeModule(t, b))
	require.NoError(t, err)
	defer s.Close(ctx)

	p := newPicker(ctx, "guest.wasm", s, nil)
	require.Len(t, p.funcs, 2)
	assert.Equal(t, "add", p.funcs[0].name)
	assert.Contains(t, p.View(), "Select a function")

	p.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.Equal(t, stateInputArgs, p.state)
	require.Len(t, p.inputs, 2)
	p.inputs[0].SetValue("20")
	p.inputs[1].SetValue("22")
	msg := p.callFunction()
	p.Update(msg)
	assert.Equal(t, stateShowResult, p.state)
	assert.Equal(t, "42", p.result)
	require.NoError(t, p.err)

	p.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, stateSelectFunc, p.state)
	p.Update(tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 1, p.selected)
	_, cmd := p.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd, "functions without parameters are called directly")
	p.Update(cmd())
	assert.Equal(t, "42", p.result)

	p.reset()
	p.selected = 0
	p.Update(tea.KeyMsg{Type: tea.KeyEnter})
	p.inputs[0].SetValue("nope")
	p.inputs[1].SetValue("1")
	p.Update(p.callFunction())
	assert.Error(t, p.err)
	assert.Contains(t, p.View(), "Error")
}

func TestImportsWASI(t *testing.T) {
	assert.True(t, importsWASI([]types.ImportDescriptor{{Module: wasi.ModuleName, Name: "fd_write"}}))
	assert.False(t, importsWASI([]types.ImportDescriptor{{Module: "env", Name: "f"}}))
}
