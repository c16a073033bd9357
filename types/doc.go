// Package types defines WebAssembly values and type descriptors.
//
// Value is an immutable tagged union over i32, i64, f32, f64, v128, funcref
// and externref. References have a distinguished null state independent of
// their payload.
//
// FuncType, TableType, MemoryType and GlobalType are compared structurally
// when imports are resolved at link time. EncodeValues and DecodeValues
// convert between Values and the engine's native 64-bit words; externref
// payloads owned by the host travel through a Refs table.
package types
