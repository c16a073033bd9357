// Package linker links compiled modules and host objects into a Store.
//
// # Main Types
//
//   - Store: registry of instances, owning the engine runtime and the externref table
//   - Instance: a linked module or import object with typed export lookup
//   - ImportBuilder / ImportObject: host functions, tables, memories and globals under one namespace
//   - Function, Table, Memory, Global: extern handles with Owned or Borrowed ownership
//
// # Linking
//
// Store.Link resolves every import against the named instances, checks
// kinds and types, pre-checks active data and element segments, and only
// then instantiates. A failed link leaves the store unchanged. Linking with
// the name "" makes the instance the store's active instance and closes the
// one it replaces.
//
// Every import object is backed by a generated module. It defines the
// object's tables, memory and globals and re-exports the functions of a
// hidden host module. Host handles bind to generated forwarding functions,
// since the engine does not expose host module functions to Go.
//
// # Thread Safety
//
// Store is safe for concurrent use; links are serialized. Table, Memory and
// Global handles do not lock engine-backed data.
//
// # Example
//
//	store, _ := linker.NewStore(ctx, nil)
//	defer store.Close(ctx)
//
//	env, _ := linker.NewImportBuilder().
//		WithFunc("log", types.Func([]types.ValType{types.I32}, nil), logFn).
//		Build("env")
//	store.LinkImports(ctx, env)
//
//	inst, _ := store.Link(ctx, "", compiled)
//	add, _ := inst.Function("add")
package linker
