package main

import (
	"context"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/config"
	"github.com/wippyai/wasm-embed/engine"
	"github.com/wippyai/wasm-embed/fiber"
	"github.com/wippyai/wasm-embed/linker"
	"github.com/wippyai/wasm-embed/module"
	"github.com/wippyai/wasm-embed/plugin"
	"github.com/wippyai/wasm-embed/resource"
	"github.com/wippyai/wasm-embed/types"
	"github.com/wippyai/wasm-embed/wasi"
)

// app holds what every command shares once flags are parsed.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	cfgPath  string
	logLevel string
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "wasmembed",
		Short: "Inspect, run and compile WebAssembly modules",
		Long: `wasmembed links WebAssembly modules against WASI and host namespaces
and runs them on the wazero engine.

Settings come from an optional config file and WASMEMBED_* environment
variables, for example WASMEMBED_ENGINE_COMPILER=interpreter.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "Path to a config file (yaml, toml or json)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	root.AddCommand(
		newInspectCmd(a),
		newRunCmd(a),
		newCallCmd(a),
		newCompileCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	log, err := cfg.Log.Build()
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log

	linker.SetLogger(log.Named("linker"))
	engine.SetLogger(log.Named("engine"))
	fiber.SetLogger(log.Named("fiber"))
	module.SetLogger(log.Named("module"))
	resource.SetLogger(log.Named("resource"))
	wasi.SetLogger(log.Named("wasi"))
	plugin.SetLogger(log.Named("plugin"))

	log.Debug("configuration loaded",
		zap.String("command", cmd.Name()),
		zap.String("compiler", cfg.Engine.Compiler))
	return nil
}

// session is one module linked into a fresh store, with WASI when the
// module imports it.
type session struct {
	store *linker.Store
	env   *wasi.Env
	inst  *linker.Instance
	exec  *engine.Executor
}

func (a *app) open(ctx context.Context, path string, opts ...wasi.Option) (*session, error) {
	m, err := module.LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	store, err := linker.NewStore(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	s := &session{store: store, exec: engine.NewExecutor(store)}

	var linkOpts []linker.LinkOption
	if importsWASI(m.Imports()) {
		s.env = wasi.New(append([]wasi.Option{wasi.WithConfig(a.cfg.WASI)}, opts...)...)
		obj, err := s.env.ImportObject()
		if err != nil {
			return nil, multierr.Append(err, s.Close(ctx))
		}
		if _, err := store.LinkImports(ctx, obj); err != nil {
			return nil, multierr.Append(err, s.Close(ctx))
		}
		linkOpts = append(linkOpts, s.env.LinkOption())
	}

	s.inst, err = store.Link(ctx, "", m, linkOpts...)
	if err != nil {
		return nil, multierr.Append(err, s.Close(ctx))
	}
	return s, nil
}

func (s *session) Close(ctx context.Context) error {
	err := s.store.Close(ctx)
	if s.env != nil {
		err = multierr.Append(err, s.env.Close())
	}
	return err
}

func importsWASI(imports []types.ImportDescriptor) bool {
	return slices.ContainsFunc(imports, func(d types.ImportDescriptor) bool {
		return d.Module == wasi.ModuleName
	})
}
