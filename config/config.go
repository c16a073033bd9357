// Package config loads embedding settings from files and the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/errors"
)

// EnvPrefix prefixes environment overrides, e.g. WASMEMBED_ENGINE_THREADS.
const EnvPrefix = "WASMEMBED"

// Compiler backends accepted by engine.compiler.
const (
	CompilerAuto        = "auto"
	CompilerNative      = "compiler"
	CompilerInterpreter = "interpreter"
)

// Config is the complete embedding configuration.
type Config struct {
	Engine EngineConfig `mapstructure:"engine"`
	Fiber  FiberConfig  `mapstructure:"fiber"`
	Log    LogConfig    `mapstructure:"log"`
	WASI   WASIConfig   `mapstructure:"wasi"`
}

// EngineConfig controls the wazero runtime.
type EngineConfig struct {
	// Compiler selects the backend: auto, compiler or interpreter.
	Compiler string `mapstructure:"compiler"`
	// CacheDir enables a persistent compilation cache when set.
	CacheDir string `mapstructure:"cache_dir"`
	// MemoryLimitPages caps memory per instance in 64 KiB pages. 0 keeps the engine default.
	MemoryLimitPages uint32 `mapstructure:"memory_limit_pages"`
	// Threads enables the threads proposal (shared memory and atomics).
	Threads bool `mapstructure:"threads"`
	// CloseOnContextDone aborts running calls when their context ends.
	CloseOnContextDone bool `mapstructure:"close_on_context_done"`
}

// FiberConfig controls bridged host function fibers.
type FiberConfig struct {
	StackSize int `mapstructure:"stack_size"`
}

// LogConfig controls the zap logger installed by the CLI.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// WASIConfig controls the wasi_snapshot_preview1 namespace.
type WASIConfig struct {
	// Preopens lists directories as "host" or "host:guest".
	Preopens   []string `mapstructure:"preopens"`
	InheritEnv bool     `mapstructure:"inherit_env"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.compiler", CompilerAuto)
	v.SetDefault("engine.cache_dir", "")
	v.SetDefault("engine.memory_limit_pages", 0)
	v.SetDefault("engine.threads", false)
	v.SetDefault("engine.close_on_context_done", true)

	v.SetDefault("fiber.stack_size", 256*1024)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("wasi.preopens", []string{})
	v.SetDefault("wasi.inherit_env", false)
}

// Default returns the configuration used when no file or overrides exist.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configPath (YAML, TOML or JSON by extension) when non-empty,
// applies WASMEMBED_* environment overrides and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "read "+configPath)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	switch c.Engine.Compiler {
	case CompilerAuto, CompilerNative, CompilerInterpreter:
	default:
		return errors.InvalidInput(errors.PhaseConfig,
			fmt.Sprintf("engine.compiler: unknown backend %q", c.Engine.Compiler))
	}
	if c.Engine.MemoryLimitPages > 65536 {
		return errors.InvalidInput(errors.PhaseConfig,
			fmt.Sprintf("engine.memory_limit_pages: %d exceeds 65536", c.Engine.MemoryLimitPages))
	}
	if c.Fiber.StackSize < 0 {
		return errors.InvalidInput(errors.PhaseConfig, "fiber.stack_size must not be negative")
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log.level")
	}
	for _, p := range c.WASI.Preopens {
		if p == "" {
			return errors.InvalidInput(errors.PhaseConfig, "wasi.preopens: empty entry")
		}
	}
	return nil
}

// RuntimeConfig builds the wazero runtime configuration. cache may be nil.
func (e EngineConfig) RuntimeConfig(cache wazero.CompilationCache) wazero.RuntimeConfig {
	var rc wazero.RuntimeConfig
	switch e.Compiler {
	case CompilerNative:
		rc = wazero.NewRuntimeConfigCompiler()
	case CompilerInterpreter:
		rc = wazero.NewRuntimeConfigInterpreter()
	default:
		rc = wazero.NewRuntimeConfig()
	}

	features := api.CoreFeaturesV2
	if e.Threads {
		features |= experimental.CoreFeaturesThreads
	}
	rc = rc.WithCoreFeatures(features).WithCloseOnContextDone(e.CloseOnContextDone)

	if e.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(e.MemoryLimitPages)
	}
	if cache != nil {
		rc = rc.WithCompilationCache(cache)
	}
	return rc
}

// NewCache returns a compilation cache: directory-backed when CacheDir is
// set, in-memory otherwise. The caller closes it.
func (e EngineConfig) NewCache() (wazero.CompilationCache, error) {
	if e.CacheDir == "" {
		return wazero.NewCompilationCache(), nil
	}
	cache, err := wazero.NewCompilationCacheWithDir(e.CacheDir)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "engine.cache_dir")
	}
	return cache, nil
}

// Build creates a zap logger at the configured level.
func (l LogConfig) Build() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(l.Level)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log.level")
	}
	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
