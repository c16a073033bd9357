// Package resource maps host values to integer handles.
//
// Guests never see host pointers. Values that cross into WebAssembly, such
// as externref payloads and the sockets handed to WASI guests, are stored
// in a Table and referred to by a Handle. Handle 0 is reserved so it can
// stand for a null reference.
//
// # Handle Table
//
//	table := resource.NewTable()
//	h := table.Insert(resource.KindConn, conn)
//	v, ok := table.GetTyped(h, resource.KindConn)
//	table.Remove(h) // calls Drop if the value implements Dropper
//
// Handles are reused after removal. Each value carries a Kind so a handle
// minted for one purpose cannot be looked up as another.
//
// # Externref Payloads
//
// Refs adapts a table to the word mapping the value codec needs when an
// externref with a host payload is passed to the engine:
//
//	refs := table.Refs()
//	word := refs.Insert(payload)
//	payload, ok := refs.Lookup(word)
//
// Comparable payloads are interned, so passing the same value on every
// call does not grow the table.
//
// # Observers
//
// Observers receive EventCreated and EventDropped notifications, which the
// embedding layer uses for debug logging and leak checks.
package resource
