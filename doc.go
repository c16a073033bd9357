// Package wasmembed embeds WebAssembly modules in Go programs.
//
// Modules are loaded and validated once, linked into a Store against host
// namespaces and each other, and called through an Executor that checks
// signatures before the engine is entered and classifies every failure.
// The wazero engine does the compiling and executing.
//
// # Architecture Overview
//
//	wasmembed/
//	├── module/          Load and validate binaries, shared compiled modules, AOT artifacts
//	├── linker/          Store, import resolution, instances, host functions and handles
//	├── engine/          Synchronous calls, trap classification, async call sessions
//	├── fiber/           Suspendable host calls and futures
//	├── wasi/            wasi_snapshot_preview1 with bridged sockets
//	├── plugin/          Plugin descriptors, registry and YAML manifests
//	├── types/           Value types, function signatures and the value codec
//	├── wasm/            Core binary decoding, encoding and validation
//	├── resource/        Handle tables for host values
//	├── config/          Viper-backed configuration
//	├── errors/          Structured errors, traps and host faults
//	└── cmd/wasmembed/   Command line tool
//
// # Quick Start
//
// Link a module and call an export:
//
//	store, err := linker.NewStore(ctx, nil)
//	if err != nil {
//		return err
//	}
//	defer store.Close(ctx)
//
//	m, err := module.LoadFromFile("add.wasm")
//	if err != nil {
//		return err
//	}
//	defer m.Close()
//
//	inst, err := store.Link(ctx, "math", m)
//	if err != nil {
//		return err
//	}
//	out, err := engine.NewExecutor(store).CallExport(ctx, inst, "add",
//		types.ValueI32(2), types.ValueI32(3))
//
// # Host Functions
//
// Host namespaces are built with an ImportBuilder and linked before the
// modules that import them:
//
//	obj, err := linker.NewImportBuilder().
//		WithFunc("log", types.Func([]types.ValType{types.I32}, nil), logFn).
//		Build("env")
//	_, err = store.LinkImports(ctx, obj)
//
// Host functions created with WithAsyncFunc may wait on a fiber.Future. Run
// such calls with Executor.CallAsync to let the driver observe the wait.
//
// # WASI
//
//	env := wasi.New(wasi.WithArgs("app"), wasi.WithStdout(os.Stdout))
//	defer env.Close()
//	obj, _ := env.ImportObject()
//	store.LinkImports(ctx, obj)
//	inst, _ := store.Link(ctx, "", m, env.LinkOption())
//
// # Error Handling
//
// Errors carry a phase and a kind and match the sentinels in the errors
// package with errors.Is. Engine faults are *errors.Trap and host function
// failures are *errors.HostFuncError.
package wasmembed
