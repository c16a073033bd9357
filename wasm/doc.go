// Package wasm parses, validates and encodes core WebAssembly binaries.
//
// The parser covers the sections an embedder needs to describe a module:
// types, imports, functions, tables, memories, globals, exports, the start
// function, element and data segments, code bodies and custom sections.
// Function bodies are kept as raw bytes; instruction validation is left to
// the engine.
//
// # Parsing
//
//	data, _ := os.ReadFile("module.wasm")
//	m, err := wasm.ParseModule(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := wasm.Validate(m); err != nil {
//	    log.Fatal(err)
//	}
//
// # Encoding
//
// Encode writes a Module back to binary. Round-tripping preserves every
// section that ParseModule records:
//
//	bin := wasm.Encode(m)
//
// # Table accessors
//
// Engines that do not expose tables to the host can still reach them through
// generated functions. InjectTableAccessors appends size, grow, get and set
// functions for each exported table and exports them under names produced
// by AccessorNames:
//
//	bin, err := wasm.InjectTableAccessors(data, m)
//	names := wasm.AccessorNames("tbl")
//	// names.Size, names.Grow, names.Get, names.Set
//
// # Constant expressions
//
// EvalConst evaluates global initializers and segment offsets. I32Const,
// GlobalGet and ValueConst build the encoded forms.
package wasm
