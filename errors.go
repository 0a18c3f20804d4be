package callbridge

import (
	"errors"
)

var (
	// ErrQueueFull is returned by non-blocking calls when the bounded queue
	// is at capacity.
	ErrQueueFull = errors.New("callbridge: queue is full")

	// ErrClosed is returned when the bridge is not accepting work: before
	// activation, after the last producer released, or after an abort.
	ErrClosed = errors.New("callbridge: bridge is closed to new work")

	// ErrFinalized is returned when operations are attempted on a bridge
	// whose finalizer has already completed.
	ErrFinalized = errors.New("callbridge: bridge has been finalized")

	// ErrNotAcquired is returned by Release() when no matching Acquire()
	// registration exists.
	ErrNotAcquired = errors.New("callbridge: release without a matching acquire")

	// ErrInvalidMode is returned when an unknown CallMode is supplied.
	ErrInvalidMode = errors.New("callbridge: invalid call mode")
)
