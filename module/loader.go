package module

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/wasm-embed/config"
	"github.com/wippyai/wasm-embed/errors"
)

// Loader loads modules with engine-aware options.
type Loader struct {
	runtime        wazero.Runtime
	cache          wazero.CompilationCache
	cfg            config.EngineConfig
	mu             sync.Mutex
	engineValidate bool
	concurrency    int
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithEngineValidation compiles each module with the engine while loading,
// so instruction-level errors surface as load errors.
func WithEngineValidation() LoaderOption {
	return func(l *Loader) { l.engineValidate = true }
}

// WithConcurrency bounds parallel loads in LoadFiles. Defaults to GOMAXPROCS.
func WithConcurrency(n int) LoaderOption {
	return func(l *Loader) { l.concurrency = n }
}

// NewLoader creates a loader for cfg. A nil cfg uses the defaults.
func NewLoader(cfg *config.Config, opts ...LoaderOption) *Loader {
	if cfg == nil {
		cfg = config.Default()
	}
	l := &Loader{cfg: cfg.Engine, concurrency: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loader) engine(ctx context.Context) (wazero.Runtime, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.runtime != nil {
		return l.runtime, nil
	}
	cache, err := l.cfg.NewCache()
	if err != nil {
		return nil, err
	}
	l.cache = cache
	l.runtime = wazero.NewRuntimeWithConfig(ctx, l.cfg.RuntimeConfig(cache))
	return l.runtime, nil
}

// Load loads bin, compiling it with the engine when validation is enabled.
func (l *Loader) Load(ctx context.Context, bin []byte) (*CompiledModule, error) {
	m, err := LoadFromBytes(bin)
	if err != nil {
		return nil, err
	}
	if !l.engineValidate {
		return m, nil
	}

	rt, err := l.engine(ctx)
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	compiled, err := rt.CompileModule(ctx, m.EngineBytes())
	if err != nil {
		_ = m.Close()
		return nil, errors.Load("engine rejected module", err)
	}
	return m, compiled.Close(ctx)
}

// LoadFile reads and loads one file.
func (l *Loader) LoadFile(ctx context.Context, path string) (*CompiledModule, error) {
	bin, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Load("read "+path, err)
	}
	return l.Load(ctx, bin)
}

// LoadFiles loads paths in parallel. On any failure every module loaded so
// far is closed and the first error is returned.
func (l *Loader) LoadFiles(ctx context.Context, paths []string) ([]*CompiledModule, error) {
	out := make([]*CompiledModule, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	if l.concurrency > 0 {
		g.SetLimit(l.concurrency)
	}
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m, err := l.LoadFile(gctx, path)
			if err != nil {
				return err
			}
			out[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, m := range out {
			_ = m.Close()
		}
		return nil, err
	}
	return out, nil
}

// CompileAOT compiles m with the native compiler through a cache rooted at
// dir and returns the path of the artifact the engine wrote. Platforms
// without a native compiler produce no artifact and yield an Unsupported error.
func (l *Loader) CompileAOT(ctx context.Context, m *CompiledModule, dir string) (string, error) {
	bin := m.EngineBytes()
	if bin == nil {
		return "", errors.Released("compiled module")
	}

	cache, err := wazero.NewCompilationCacheWithDir(dir)
	if err != nil {
		return "", errors.Wrap(errors.PhaseCompile, errors.KindArtifact, err, "open artifact directory")
	}
	defer cache.Close(ctx)

	aot := l.cfg
	aot.Compiler = config.CompilerAuto
	rt := wazero.NewRuntimeWithConfig(ctx, aot.RuntimeConfig(cache))
	defer rt.Close(ctx)

	start := time.Now().Add(-time.Second)
	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		return "", errors.Wrap(errors.PhaseCompile, errors.KindArtifact, err, "compile")
	}
	if err := compiled.Close(ctx); err != nil {
		return "", errors.Wrap(errors.PhaseCompile, errors.KindArtifact, err, "close compiled module")
	}

	path, err := newestFile(dir, start)
	if err != nil {
		return "", errors.Wrap(errors.PhaseCompile, errors.KindArtifact, err, "locate artifact")
	}
	if path == "" {
		return "", errors.Unsupported(errors.PhaseCompile, "no native compiler on "+runtime.GOOS+"/"+runtime.GOARCH)
	}
	Logger().Info("artifact written", zap.String("module", m.Name()), zap.String("path", path))
	return path, nil
}

func newestFile(dir string, since time.Time) (string, error) {
	var newest string
	var newestTime time.Time
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().Before(since) {
			return nil
		}
		if newest == "" || info.ModTime().After(newestTime) {
			newest, newestTime = path, info.ModTime()
		}
		return nil
	})
	return newest, err
}

// Close releases the validation engine and its cache.
func (l *Loader) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var err error
	if l.runtime != nil {
		err = multierr.Append(err, l.runtime.Close(ctx))
		l.runtime = nil
	}
	if l.cache != nil {
		err = multierr.Append(err, l.cache.Close(ctx))
		l.cache = nil
	}
	return err
}
