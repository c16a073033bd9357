// Package wasi provides the wasi_snapshot_preview1 namespace.
//
// The namespace is a fixed table of functions (see Table). Files, clocks,
// randomness, arguments and the environment are served by the engine's
// WASI implementation. Socket calls are served here over host listeners
// and connections registered in a Sockets registry:
//
//	env := wasi.New(wasi.WithArgs("app"), wasi.WithStdout(os.Stdout))
//	defer env.Close()
//
//	ln, _ := net.Listen("tcp", "127.0.0.1:8080")
//	fd := env.Sockets().Listen(ln) // pass fd to the guest
//
//	obj, _ := env.ImportObject()
//	_, _ = store.LinkImports(ctx, obj)
//	inst, _ := store.Link(ctx, "app", compiled, env.LinkOption())
//
// # Bridged calls
//
// sock_accept, sock_recv and sock_send wait through fiber.Await. Called
// from an engine.CallSession they suspend the session until the socket is
// ready; called from a plain engine call they block.
//
// Socket descriptors start at Sockets.Base, well above descriptors the
// engine assigns to preopens and opened files. fd_* calls do not reach
// sockets; sock_shutdown with both directions closes one.
package wasi
