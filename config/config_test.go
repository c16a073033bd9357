package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-embed/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, CompilerAuto, cfg.Engine.Compiler)
	assert.Equal(t, uint32(0), cfg.Engine.MemoryLimitPages)
	assert.True(t, cfg.Engine.CloseOnContextDone)
	assert.Equal(t, 256*1024, cfg.Fiber.StackSize)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.WASI.Preopens)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine:
  compiler: interpreter
  memory_limit_pages: 256
  threads: true
fiber:
  stack_size: 65536
log:
  level: debug
  development: true
wasi:
  preopens: ["/tmp:/sandbox"]
  inherit_env: true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, CompilerInterpreter, cfg.Engine.Compiler)
	assert.Equal(t, uint32(256), cfg.Engine.MemoryLimitPages)
	assert.True(t, cfg.Engine.Threads)
	assert.Equal(t, 65536, cfg.Fiber.StackSize)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Development)
	assert.Equal(t, []string{"/tmp:/sandbox"}, cfg.WASI.Preopens)
	assert.True(t, cfg.WASI.InheritEnv)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("WASMEMBED_ENGINE_MEMORY_LIMIT_PAGES", "512")
	t.Setenv("WASMEMBED_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, uint32(512), cfg.Engine.MemoryLimitPages)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadInvalid(t *testing.T) {
	tests := map[string]string{
		"compiler": "engine:\n  compiler: jit\n",
		"pages":    "engine:\n  memory_limit_pages: 70000\n",
		"level":    "log:\n  level: loud\n",
		"stack":    "fiber:\n  stack_size: -1\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "embed.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

			_, err := Load(path)
			require.Error(t, err)
			var e *errors.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, errors.PhaseConfig, e.Phase)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestRuntimeConfig(t *testing.T) {
	for _, compiler := range []string{CompilerAuto, CompilerNative, CompilerInterpreter} {
		ec := EngineConfig{Compiler: compiler, MemoryLimitPages: 16, Threads: true}
		assert.NotNil(t, ec.RuntimeConfig(nil), compiler)
	}
}

func TestNewCache(t *testing.T) {
	mem, err := EngineConfig{}.NewCache()
	require.NoError(t, err)
	require.NotNil(t, mem)
	defer mem.Close(context.Background())

	dir, err := EngineConfig{CacheDir: t.TempDir()}.NewCache()
	require.NoError(t, err)
	require.NotNil(t, dir)
	defer dir.Close(context.Background())
}

func TestLogBuild(t *testing.T) {
	l, err := LogConfig{Level: "debug", Development: true}.Build()
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = LogConfig{Level: "nope"}.Build()
	assert.Error(t, err)
}
