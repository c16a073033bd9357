// Package engine invokes linked WebAssembly functions.
//
// An Executor checks arguments against the function signature, converts
// them to engine words, runs the call and classifies what went wrong:
//
//	exec := engine.NewExecutor(store)
//	add, _ := inst.Function("add")
//	out, err := exec.Call(ctx, add, []types.Value{types.ValueI32(2), types.ValueI32(3)})
//
// Argument mismatches fail with ErrFuncTypeMismatch before the engine is
// entered. Engine faults become *errors.Trap with a TrapKind, and failures
// raised by host functions surface as *errors.HostFuncError. The store and
// every other instance remain usable after a failed call.
//
// # Asynchronous calls
//
// CallAsync runs the call on a fiber. Host functions created with
// linker.NewAsyncFunction that wait on a future suspend the whole call, and
// Step hands that future back to the driver:
//
//	sess := exec.CallAsync(ctx, fn, args)
//	for {
//	    res, err := sess.Step(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    if res.Status == engine.StepDone {
//	        return use(res.Results)
//	    }
//	    <-res.Pending.Done() // or hand it to an event loop
//	}
//
// Run drives a session with blocking waits. Cancel unwinds a suspended
// session; deferred calls in host functions still run.
//
// # Thread Safety
//
// Executor is safe for concurrent use. A CallSession is driven by one
// goroutine at a time.
package engine
