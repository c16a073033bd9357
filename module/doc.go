// Package module loads WebAssembly binaries into shareable compiled modules.
//
// A CompiledModule is immutable and reference counted. Clone hands out
// another holder in constant time; each holder is closed exactly once and
// the last Close frees the parsed representation:
//
//	m, err := module.LoadFromFile("app.wasm")
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//
//	for _, imp := range m.Imports() {
//	    fmt.Println(imp)
//	}
//
// A Loader adds engine validation, parallel loading and ahead-of-time
// compilation:
//
//	l := module.NewLoader(cfg, module.WithEngineValidation())
//	defer l.Close(ctx)
//	mods, err := l.LoadFiles(ctx, paths)
//	path, err := l.CompileAOT(ctx, mods[0], "/var/cache/wasm")
//
// The artifact layout belongs to the engine; CompileAOT only reports where
// it was written.
package module
