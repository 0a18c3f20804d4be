// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package callbridge

import (
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"
)

// dispatchBatchSize is the maximum number of slots popped per scheduled
// dispatch cycle. The dispatcher reschedules itself between batches, so a
// steady producer stream cannot monopolize the consumer.
const dispatchBatchSize = 256

// bridgeIDCounter allocates bridge ids for log correlation.
var bridgeIDCounter atomic.Uint64

// slot is one queued unit of work: a payload plus an optional per-call
// override callback. A nil fn means the bridge's registered handler.
type slot[C, D any] struct {
	data D
	fn   Handler[C, D]
}

// Bridge marshals calls from any number of producer goroutines to a single
// consumer execution context.
//
// Producers register with [Bridge.Acquire], submit payloads with the call
// methods, and deregister with [Bridge.Release]. When the last registration
// is released the bridge closes: queued slots are drained to the consumer,
// the finalizer runs, and [Bridge.Done] is closed. [Bridge.Abort] cuts the
// lifecycle short, waking any blocked producers.
//
// The consumer side is abstracted behind [Scheduler]: the bridge never
// starts goroutines of its own, it schedules dispatch cycles onto whatever
// single-threaded execution context the Scheduler provides. Handlers and
// the finalizer only ever run there.
//
// Thread Safety: all methods are safe for concurrent use. A single mutex
// guards the queue and lifecycle transitions; the producer refcount is the
// only lock-free mutable. Blocking calls suspend on a condition variable
// and are woken by freed space, close, or abort.
//
// Usage:
//
//	loop := callbridge.NewLoop(nil)
//	go loop.Run(context.Background())
//
//	bridge := callbridge.New(&callbridge.Config{
//		Capacity:         2,
//		InitialProducers: 1,
//	}, loop, myCtx, func(ctx *MyCtx, data int) {
//		// runs on the loop goroutine
//	}, func(ctx *MyCtx) {
//		// cleanup, runs exactly once on the loop goroutine
//	})
//
//	go func() {
//		defer bridge.Release()
//		for i := 0; i < 10; i++ {
//			if err := bridge.BlockingCall(i); err != nil {
//				return
//			}
//		}
//	}()
//
//	<-bridge.Done()
type Bridge[C, D any] struct {
	_ [0]func() // incomparable, prevents copying

	scheduler Scheduler
	handler   Handler[C, D]
	finalizer Finalizer[C]
	context   C

	capacity    int
	abortPolicy AbortPolicy
	logger      *logiface.Logger[logiface.Event]
	metrics     *bridgeMetrics
	id          uint64

	// mu guards queue contents and lifecycle transitions. cond shares it;
	// blocked producers wait there for space, close, or abort.
	mu    sync.Mutex
	cond  *sync.Cond
	queue chunkQueue[slot[C, D]]

	// state mirrors the canonical lifecycle for lock-free reads; it is
	// only ever written while holding mu (the constructor aside).
	state fastState

	// producers is the registration refcount; the only lock-free mutable.
	producers atomic.Int64

	// dispatchPending dedups scheduled dispatch cycles (0 or 1).
	dispatchPending atomic.Uint32

	finalizeOnce sync.Once
	done         chan struct{}

	// batchBuf is owned exclusively by the consumer execution context
	// during a dispatch cycle. Single-consumer invariant, no lock.
	batchBuf [dispatchBatchSize]slot[C, D]
}

// New initializes a new Bridge, using the provided Config, Scheduler,
// caller context value, Handler, and Finalizer. The provided config may be
// nil. A panic will occur if scheduler or handler is nil, or invalid config
// is provided. The finalizer may be nil.
//
// With Config.InitialProducers ≥ 1 the bridge starts Active with that many
// registrations already counted (each still pairs with a Release);
// otherwise it starts Idle and activates on the first Acquire.
func New[C, D any](config *Config, scheduler Scheduler, context C, handler Handler[C, D], finalizer Finalizer[C]) *Bridge[C, D] {
	if scheduler == nil {
		panic(`callbridge: nil scheduler`)
	}
	if handler == nil {
		panic(`callbridge: nil handler`)
	}

	b := &Bridge[C, D]{
		scheduler: scheduler,
		handler:   handler,
		finalizer: finalizer,
		context:   context,
		id:        bridgeIDCounter.Add(1),
		done:      make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)

	if config != nil {
		if config.Capacity < 0 {
			panic(`callbridge: negative capacity`)
		}
		if config.InitialProducers < 0 {
			panic(`callbridge: negative initial producer count`)
		}
		b.capacity = config.Capacity
		b.abortPolicy = config.AbortPolicy
		b.logger = config.Logger
		if config.Metrics {
			b.metrics = &bridgeMetrics{}
		}
		if config.InitialProducers > 0 {
			b.producers.Store(int64(config.InitialProducers))
			b.state.store(StateActive)
		}
	}

	b.logger.Debug().
		Uint64(`bridge`, b.id).
		Int64(`producers`, b.producers.Load()).
		Int(`capacity`, b.capacity).
		Log(`bridge created`)

	return b
}

// Acquire registers a producer. It succeeds while the bridge is Idle
// (activating it) or Active with at least one other registration still
// held. Once the refcount has crossed zero, or the bridge is closing,
// aborted, or finalized, Acquire fails; registrations never resurrect a
// closing bridge.
//
// Every successful Acquire must be paired with exactly one Release.
func (b *Bridge[C, D]) Acquire() error {
	for {
		n := b.producers.Load()
		if n <= 0 {
			return b.acquireSlow()
		}
		if !b.producers.CompareAndSwap(n, n+1) {
			continue
		}
		// Abort (or finalization after it) may have landed between the
		// load and the swap; undo rather than holding a dead registration.
		// Closing is impossible here: the count never grows again once it
		// crosses zero.
		if s := b.state.load(); s != StateActive {
			b.producers.Add(-1)
			if s == StateClosed {
				return ErrFinalized
			}
			return ErrClosed
		}
		return nil
	}
}

// acquireSlow handles registration when the count was observed at zero:
// activation of an Idle bridge, or refusal.
func (b *Bridge[C, D]) acquireSlow() error {
	b.mu.Lock()

	var err error
	activated := false
	switch st := b.state.load(); st {
	case StateIdle:
		// First registration activates the bridge.
		b.producers.Store(1)
		b.state.store(StateActive)
		activated = true
	case StateActive:
		if b.producers.Load() > 0 {
			// Raced with concurrent registrations; the count moved on.
			b.producers.Add(1)
		} else {
			// The count crossed zero. The close is committed even if the
			// Closing transition has not landed yet; no resurrection.
			err = ErrClosed
		}
	case StateClosed:
		err = ErrFinalized
	default: // StateClosing, StateAborted
		err = ErrClosed
	}
	b.mu.Unlock()

	if activated {
		b.logger.Debug().
			Uint64(`bridge`, b.id).
			Log(`bridge activated`)
	}
	return err
}

// Release deregisters a producer. Releasing with no registration held
// returns ErrNotAcquired. When the count reaches zero the bridge
// transitions to Closing: blocked producers wake with ErrClosed, queued
// slots drain to the consumer, and the finalizer runs.
//
// Release after Abort (or after finalization) only adjusts the count; the
// registration it pairs was legal, so it reports nil.
func (b *Bridge[C, D]) Release() error {
	for {
		n := b.producers.Load()
		if n <= 0 {
			return ErrNotAcquired
		}
		if !b.producers.CompareAndSwap(n, n-1) {
			continue
		}
		if n == 1 {
			b.beginClose()
		}
		return nil
	}
}

// beginClose runs after the refcount crosses zero: Active→Closing, wake
// every blocked producer, and kick the dispatcher to drain and finalize.
func (b *Bridge[C, D]) beginClose() {
	b.mu.Lock()
	closing := b.state.tryTransition(StateActive, StateClosing)
	if closing {
		b.cond.Broadcast()
	}
	b.mu.Unlock()

	if !closing {
		// Abort got there first; its dispatch cycle owns finalization.
		return
	}

	b.logger.Debug().
		Uint64(`bridge`, b.id).
		Log(`bridge closing`)
	b.wakeDispatcher()
}

// Call submits a payload with the given admission mode. CallBlocking waits
// for space on a full bounded queue; CallNonBlocking fails fast with
// ErrQueueFull; CallDefault ignores data and enqueues a zero-value signal
// slot with blocking admission.
//
// Calls are accepted only while the bridge is Active. Idle, Closing, and
// Aborted report ErrClosed; Closed reports ErrFinalized.
func (b *Bridge[C, D]) Call(data D, mode CallMode) error {
	return b.CallFunc(data, nil, mode)
}

// BlockingCall submits a payload, waiting for space if the bounded queue
// is full. The wait ends when the dispatcher frees space, or with ErrClosed
// when the bridge closes or aborts.
func (b *Bridge[C, D]) BlockingCall(data D) error {
	return b.CallFunc(data, nil, CallBlocking)
}

// NonBlockingCall submits a payload, failing with ErrQueueFull rather than
// waiting if the bounded queue is full. Retry and backoff policy belongs to
// the caller.
func (b *Bridge[C, D]) NonBlockingCall(data D) error {
	return b.CallFunc(data, nil, CallNonBlocking)
}

// DefaultCall enqueues a no-payload signal slot: the registered handler
// runs with a zero-value payload. Pure notification, same admission rules
// as BlockingCall.
func (b *Bridge[C, D]) DefaultCall() error {
	var zero D
	return b.CallFunc(zero, nil, CallDefault)
}

// CallFunc submits a payload with a per-call override callback; fn nil
// means the registered handler. The override runs on the consumer execution
// context exactly like the registered handler.
func (b *Bridge[C, D]) CallFunc(data D, fn Handler[C, D], mode CallMode) error {
	s := slot[C, D]{data: data, fn: fn}
	switch mode {
	case CallBlocking:
		return b.enqueue(s, true)
	case CallNonBlocking:
		return b.enqueue(s, false)
	case CallDefault:
		var zero D
		s.data = zero
		return b.enqueue(s, true)
	default:
		return ErrInvalidMode
	}
}

// enqueue admits one slot under the mutex: state gate, then capacity gate,
// with a guarded wait for blocking admission.
func (b *Bridge[C, D]) enqueue(s slot[C, D], wait bool) error {
	b.mu.Lock()

	for {
		switch st := b.state.load(); st {
		case StateActive:
		case StateClosed:
			b.mu.Unlock()
			b.metrics.rejectClosed()
			return ErrFinalized
		default: // StateIdle, StateClosing, StateAborted
			b.mu.Unlock()
			b.metrics.rejectClosed()
			return ErrClosed
		}

		if b.capacity <= 0 || b.queue.len() < b.capacity {
			break
		}

		if !wait {
			b.mu.Unlock()
			b.metrics.rejectFull()
			return ErrQueueFull
		}

		// Guarded wait: woken by the dispatcher freeing space, the
		// zero-crossing close, or abort. The predicate is re-checked from
		// the top on every wakeup.
		b.cond.Wait()
	}

	b.queue.push(s)
	depth := b.queue.len()
	b.mu.Unlock()

	b.metrics.accepted(depth)
	b.wakeDispatcher()
	return nil
}

// Abort cuts the lifecycle short from Idle, Active, or Closing. Blocked
// producers wake with ErrClosed; queued slots are dropped or drained per
// the configured AbortPolicy; the finalizer still runs exactly once.
// Idempotent: repeat calls (and calls after Closed) do nothing.
func (b *Bridge[C, D]) Abort() {
	b.mu.Lock()
	aborted := b.state.transitionAny([]State{StateActive, StateClosing, StateIdle}, StateAborted)
	if aborted {
		b.cond.Broadcast()
	}
	b.mu.Unlock()

	if !aborted {
		return
	}

	b.logger.Info().
		Uint64(`bridge`, b.id).
		Stringer(`policy`, b.abortPolicy).
		Log(`bridge aborted`)
	b.wakeDispatcher()
}

// wakeDispatcher schedules a dispatch cycle unless one is already pending.
func (b *Bridge[C, D]) wakeDispatcher() {
	if !b.dispatchPending.CompareAndSwap(0, 1) {
		return
	}
	if err := b.scheduler.Schedule(b.dispatch); err != nil {
		// The consumer refused the wake (e.g. its loop terminated). Clear
		// the flag so a later wake can retry.
		b.dispatchPending.Store(0)
		b.logger.Warning().
			Err(err).
			Uint64(`bridge`, b.id).
			Log(`dispatch scheduling failed`)
	}
}

// dispatch runs one drain cycle on the consumer execution context: pop a
// bounded batch under the mutex, invoke callbacks outside it, then either
// reschedule (slots remain) or finalize (end of life, queue empty).
func (b *Bridge[C, D]) dispatch() {
	b.dispatchPending.Store(0)

	b.mu.Lock()
	st := b.state.load()

	if st == StateIdle || st == StateClosed {
		b.mu.Unlock()
		return
	}

	var dropped int
	if st == StateAborted && b.abortPolicy == AbortDiscard {
		dropped = b.queue.reset()
	}

	n := b.queue.popBatch(b.batchBuf[:])
	remaining := b.queue.len()
	if n > 0 || dropped > 0 {
		// Space freed; blocked producers re-check state and depth.
		b.cond.Broadcast()
	}
	b.mu.Unlock()

	if dropped > 0 {
		b.metrics.dropSlots(dropped)
		b.logger.Info().
			Uint64(`bridge`, b.id).
			Int(`dropped`, dropped).
			Log(`abort dropped queued slots`)
	}

	for i := 0; i < n; i++ {
		b.invoke(&b.batchBuf[i])
		b.batchBuf[i] = slot[C, D]{}
	}
	if n > 0 {
		b.metrics.dispatched(n)
	}

	if remaining > 0 {
		// Yield back to the consumer's scheduler between batches.
		b.wakeDispatcher()
		return
	}

	// Queue empty after this batch. Slots popped before an abort landed
	// count as dispatched; only still-queued work is subject to policy.
	if st == StateClosing || st == StateAborted {
		b.finalize()
	}
}

// invoke runs a single slot's callback, containing any panic.
func (b *Bridge[C, D]) invoke(s *slot[C, D]) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Err().
				Uint64(`bridge`, b.id).
				Any(`panic`, r).
				Log(`handler panicked`)
		}
	}()
	if s.fn != nil {
		s.fn(b.context, s.data)
		return
	}
	b.handler(b.context, s.data)
}

// finalize runs the finalizer exactly once, then marks the bridge Closed
// and closes Done. Runs on the consumer execution context.
func (b *Bridge[C, D]) finalize() {
	b.finalizeOnce.Do(func() {
		if b.finalizer != nil {
			func() {
				defer func() {
					if r := recover(); r != nil {
						b.logger.Err().
							Uint64(`bridge`, b.id).
							Any(`panic`, r).
							Log(`finalizer panicked`)
					}
				}()
				b.finalizer(b.context)
			}()
		}

		b.mu.Lock()
		b.state.store(StateClosed)
		b.mu.Unlock()

		close(b.done)

		b.logger.Debug().
			Uint64(`bridge`, b.id).
			Log(`bridge finalized`)
	})
}

// State returns the current lifecycle state. Lock-free.
func (b *Bridge[C, D]) State() State {
	return b.state.load()
}

// Done returns a channel that is closed after the finalizer has completed
// and the bridge has reached StateClosed.
func (b *Bridge[C, D]) Done() <-chan struct{} {
	return b.done
}

// Context returns the caller context value the bridge was constructed with.
func (b *Bridge[C, D]) Context() C {
	return b.context
}

// Pending returns the number of queued, undispatched slots.
func (b *Bridge[C, D]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue.len()
}
