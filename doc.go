// Package callbridge provides a thread-safe call bridge: a reference-counted
// primitive that marshals payloads from any number of producer goroutines
// into a single consumer execution context, with bounded queueing,
// blocking and non-blocking admission, and a consumer-side finalizer.
//
// # Architecture
//
// The package is built around a [Bridge] that owns a bounded FIFO queue of
// call slots and a lifecycle state machine. Producers register with
// [Bridge.Acquire], submit payloads with [Bridge.BlockingCall],
// [Bridge.NonBlockingCall], [Bridge.DefaultCall], or the per-call override
// [Bridge.CallFunc], and deregister with [Bridge.Release]. The consumer side
// is abstracted behind [Scheduler]; the bridge schedules bounded dispatch
// cycles onto it and never starts goroutines of its own. A provided [Loop]
// implements Scheduler, so the package is usable out of the box.
//
// # Lifecycle
//
// A bridge moves through Idle → Active → Closing → Closed, with Aborted
// reachable from Idle, Active, and Closing via [Bridge.Abort]:
//   - Idle: constructed with no registrations; the first Acquire activates.
//   - Active: calls are admitted; the refcount tracks registrations.
//   - Closing: the last Release landed; queued slots drain, then the
//     finalizer runs.
//   - Aborted: blocked producers wake with an error; queued slots are
//     dropped or drained per [AbortPolicy]; the finalizer still runs.
//   - Closed: the finalizer completed; [Bridge.Done] is closed. Terminal.
//
// Registrations never resurrect a closing bridge: once the refcount crosses
// zero, Acquire fails and a new bridge is required.
//
// # Thread Safety
//
// All Bridge and Loop methods are safe for concurrent use:
//   - A single mutex guards queue contents and lifecycle transitions; the
//     producer refcount is the only lock-free mutable.
//   - Blocking admission waits on a condition variable and is woken by
//     freed space, close, or abort; there are no timed sleeps or spins on
//     the call path.
//   - Handlers and the finalizer only ever run on the consumer execution
//     context, one dispatch cycle at a time.
//
// # Usage
//
//	loop := callbridge.NewLoop(nil)
//	go loop.Run(context.Background())
//
//	type state struct{ sum int }
//
//	bridge := callbridge.New(&callbridge.Config{
//	    Capacity:         2,
//	    InitialProducers: 1,
//	}, loop, &state{}, func(s *state, v int) {
//	    s.sum += v // runs on the loop goroutine
//	}, func(s *state) {
//	    fmt.Println("done:", s.sum) // runs exactly once, after the drain
//	})
//
//	go func() {
//	    defer bridge.Release()
//	    for i := 0; i < 10; i++ {
//	        if err := bridge.BlockingCall(i); err != nil {
//	            return
//	        }
//	    }
//	}()
//
//	<-bridge.Done()
//	_ = loop.Shutdown(context.Background())
//
// # Errors
//
// Admission and registration outcomes map to package sentinels:
//   - [ErrQueueFull]: non-blocking call against a full bounded queue
//   - [ErrClosed]: the bridge stopped accepting work (close or abort)
//   - [ErrFinalized]: use after the finalizer completed
//   - [ErrNotAcquired]: Release without a matching Acquire
//   - [ErrInvalidMode]: unknown [CallMode]
//
// Loop operations report [ErrLoopAlreadyRunning], [ErrLoopTerminated], and
// [ErrReentrantRun]. All sentinels match with [errors.Is].
package callbridge
