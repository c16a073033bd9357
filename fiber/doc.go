// Package fiber implements the suspension bridge between synchronous
// WebAssembly calls and asynchronous host work.
//
// A Fiber runs a body on its own goroutine stack. When the body calls
// Await on a future that is not yet complete, the fiber parks and the
// driver's Resume returns a yielded Step carrying the future. The driver
// waits for the future however it likes and calls Resume again to continue
// the body from the same point. From the body's perspective Await is an
// ordinary blocking call.
//
//	f := fiber.New(func(ctx context.Context) (int, error) {
//	    v, err := fiber.Await(ctx, fetch())
//	    if err != nil {
//	        return 0, err
//	    }
//	    return v.(int), nil
//	})
//	for {
//	    step, err := f.Resume(ctx)
//	    if step.Done || err != nil {
//	        return step.Value, err
//	    }
//	    <-step.Future.Done()
//	}
//
// # States
//
//	Created -> Running -> Suspended -> Running -> ... -> Completed
//	                      Suspended -> Cancelled
//
// Resume on a suspended fiber whose future is unresolved returns
// ErrNotReady and leaves the fiber suspended.
//
// # Cancellation
//
// Cancel on a suspended fiber unwinds its stack: the parked Await panics
// with an internal value, deferred calls run, and Cancel returns after the
// body has exited. Code that recovers panics inside a body must re-panic
// values for which IsUnwind reports true.
//
// Outside a fiber, Await simply blocks, so host functions written against
// Await work in both settings.
package fiber
