// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package callbridge

import (
	"github.com/joeycumines/logiface"
)

// Scheduler marshals functions onto the consumer execution context.
//
// Schedule must either arrange for fn to run exactly once on the consumer's
// goroutine, or return a non-nil error without retaining fn. It may be
// called from any goroutine. [Loop.Schedule] implements this interface; any
// single-threaded executor (an event loop tick, an actor mailbox) works the
// same way.
type Scheduler interface {
	Schedule(fn func()) error
}

type (
	// Handler is invoked on the consumer execution context for each
	// dispatched slot, receiving the bridge's context value and the slot's
	// payload. A panicking Handler is recovered and logged; it never
	// corrupts bridge state or kills the consumer.
	Handler[C, D any] func(ctx C, data D)

	// Finalizer is invoked exactly once on the consumer execution context
	// when the bridge reaches the end of its life (all producers released
	// and the queue drained, or the bridge aborted). It runs after the last
	// dispatched Handler returns and before Done is closed.
	Finalizer[C any] func(ctx C)
)

// CallMode selects the admission behavior of a call.
type CallMode int

const (
	// CallBlocking waits for queue space when the bounded queue is full.
	CallBlocking CallMode = iota
	// CallNonBlocking fails with ErrQueueFull when the bounded queue is full.
	CallNonBlocking
	// CallDefault submits a zero-value payload with blocking admission,
	// dispatching to the registered handler.
	CallDefault
)

// String returns a human-readable representation of the call mode.
func (m CallMode) String() string {
	switch m {
	case CallBlocking:
		return "Blocking"
	case CallNonBlocking:
		return "NonBlocking"
	case CallDefault:
		return "Default"
	default:
		return "Unknown"
	}
}

// AbortPolicy controls what happens to queued, undispatched slots when
// Abort is called.
type AbortPolicy int

const (
	// AbortDiscard drops undispatched slots on abort. The default.
	AbortDiscard AbortPolicy = iota
	// AbortDrain dispatches already-accepted slots before finalizing.
	// New submissions are still refused the moment abort lands.
	AbortDrain
)

// String returns a human-readable representation of the abort policy.
func (p AbortPolicy) String() string {
	switch p {
	case AbortDiscard:
		return "Discard"
	case AbortDrain:
		return "Drain"
	default:
		return "Unknown"
	}
}

type (
	// Config models optional configuration, for New.
	Config struct {
		// Capacity bounds the call queue depth, if positive.
		// **Defaults to 0 (unbounded), if 0, or Config is nil.**
		//
		// With a positive capacity, blocking calls wait for space and
		// non-blocking calls fail with ErrQueueFull. New panics on a
		// negative value.
		Capacity int

		// InitialProducers registers this many producers at construction,
		// starting the bridge in StateActive. Each registration must still
		// be paired with a Release.
		// **Defaults to 0 (bridge starts Idle), if 0, or Config is nil.**
		//
		// New panics on a negative value.
		InitialProducers int

		// AbortPolicy selects discard or drain behavior for Abort.
		// **Defaults to AbortDiscard, if Config is nil.**
		AbortPolicy AbortPolicy

		// Logger receives lifecycle and failure events. May be nil to
		// disable logging entirely.
		Logger *logiface.Logger[logiface.Event]

		// Metrics enables the built-in counters, exposed via
		// [Bridge.Metrics]. Disabled by default.
		Metrics bool
	}

	// LoopConfig models optional configuration, for NewLoop.
	LoopConfig struct {
		// Logger receives task panic and lifecycle events. May be nil to
		// disable logging entirely.
		Logger *logiface.Logger[logiface.Event]
	}
)
