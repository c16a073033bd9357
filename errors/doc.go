// Package errors provides structured error types for the embedding layer.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the item path, Go and wasm type names, and the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLinking, errors.KindIncompatible).
//		Path("env", "memory").
//		WasmType("memory[1..]").
//		Detail("exporter has %d pages", 0).
//		Build()
//
// Link, call and host failures have dedicated constructors and sentinels:
//
//	errors.Is(err, errors.ErrNameConflict)
//	errors.Is(err, errors.ErrFuncTypeMismatch)
//
// Engine faults are reported as *Trap and host function failures as
// *HostFuncError, both matchable with errors.Is and errors.As.
package errors
