package callbridge

import (
	"sync/atomic"
)

// State represents the lifecycle state of a Bridge (and, reusing the same
// machine shape, a Loop).
//
// State Machine:
//
//	StateIdle (0) → StateActive (1)       [first Acquire / InitialProducers ≥ 1]
//	StateActive (1) → StateClosing (2)    [Release drops the refcount to zero]
//	StateIdle (0) → StateAborted (3)      [Abort()]
//	StateActive (1) → StateAborted (3)    [Abort()]
//	StateClosing (2) → StateAborted (3)   [Abort()]
//	StateClosing (2) → StateClosed (4)    [finalizer completed]
//	StateAborted (3) → StateClosed (4)    [finalizer completed]
//	StateClosed (4) → (terminal)
//
// State Transition Rules:
//   - All transitions happen while holding the bridge mutex; the atomic
//     holder exists so hot paths can read without the mutex.
//   - Use tryTransition() (CAS) for transitions that can lose a race under
//     the mutex (Active→Closing vs Abort), store() where the mutex alone
//     decides the outcome (Idle→Active activation, Closed).
type State uint64

const (
	// StateIdle indicates the bridge has been created but no producer has
	// registered yet. The zero value.
	StateIdle State = iota
	// StateActive indicates at least one producer registration has occurred
	// and calls are being accepted.
	StateActive
	// StateClosing indicates the last producer released; queued slots are
	// still being dispatched but no new work is accepted.
	StateClosing
	// StateAborted indicates Abort was called; blocked producers have been
	// woken and undispatched slots are dropped or drained per policy.
	StateAborted
	// StateClosed indicates the finalizer has completed. Terminal.
	StateClosed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateActive:
		return "Active"
	case StateClosing:
		return "Closing"
	case StateAborted:
		return "Aborted"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// fastState is a lock-free state holder with cache-line padding.
//
// PERFORMANCE: Pure atomic CAS operations, no mutex. Cache-line padding
// prevents false sharing between cores. The zero value is StateIdle.
type fastState struct {
	_ [64]byte      // Cache line padding (before value) //nolint:unused
	v atomic.Uint64 // State value
	_ [56]byte      // Pad to complete cache line (64 - 8 = 56) //nolint:unused
}

// load returns the current state atomically.
func (s *fastState) load() State {
	return State(s.v.Load())
}

// store atomically stores a new state.
// Only valid where no competing transition can be in flight; elsewhere it
// breaks the CAS logic.
func (s *fastState) store(state State) {
	s.v.Store(uint64(state))
}

// tryTransition attempts to atomically transition from one state to another.
// Returns true if the transition was successful.
func (s *fastState) tryTransition(from, to State) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// transitionAny attempts to transition from any valid source state to the
// target. Returns true if the transition was successful.
func (s *fastState) transitionAny(validFrom []State, to State) bool {
	for _, from := range validFrom {
		if s.v.CompareAndSwap(uint64(from), uint64(to)) {
			return true
		}
	}
	return false
}
