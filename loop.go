package callbridge

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// Standard errors.
var (
	// ErrLoopAlreadyRunning is returned when Run() is called on a loop that is already running.
	ErrLoopAlreadyRunning = errors.New("callbridge: loop is already running")

	// ErrLoopTerminated is returned when operations are attempted on a terminated loop.
	ErrLoopTerminated = errors.New("callbridge: loop has been terminated")

	// ErrReentrantRun is returned when Run() is called from within the loop itself.
	ErrReentrantRun = errors.New("callbridge: cannot call Run() from within the loop")
)

var loopIDCounter atomic.Uint64

// Loop is a single-goroutine task executor. It implements [Scheduler], so
// it can serve as a Bridge's consumer execution context out of the box:
// dispatch cycles, handlers, and finalizers all run on the loop goroutine.
//
// Tasks submitted before Run starts are queued and execute once it does.
// Shutdown drains every queued task (including submissions racing the
// shutdown) before the loop goroutine exits.
//
// Thread Safety: Submit, Schedule, and Shutdown are safe from any
// goroutine. Run must not be called from the loop goroutine itself.
//
// Usage:
//
//	loop := callbridge.NewLoop(nil)
//	done := make(chan error, 1)
//	go func() { done <- loop.Run(context.Background()) }()
//
//	_ = loop.Submit(func() {
//		// runs on the loop goroutine
//	})
//
//	_ = loop.Shutdown(context.Background())
//	<-done
type Loop struct {
	_ [0]func() // incomparable, prevents copying

	logger *logiface.Logger[logiface.Event]
	id     uint64

	// state reuses the lifecycle machine: Idle (created), Active
	// (running), Closing (terminating), Closed (terminated).
	state fastState

	mu    sync.Mutex
	tasks chunkQueue[func()]

	// wake is a 1-buffered nudge; wakePending dedups writers.
	wake        chan struct{}
	wakePending atomic.Uint32

	loopGoroutineID atomic.Uint64
	stopOnce        sync.Once
	loopDone        chan struct{}

	// inflight counts Submit calls in progress, for shutdown drain sync.
	inflight atomic.Int64

	// batchBuf is owned exclusively by the loop goroutine.
	batchBuf [dispatchBatchSize]func()
}

// NewLoop creates a new loop. The provided config may be nil.
func NewLoop(config *LoopConfig) *Loop {
	l := &Loop{
		id:       loopIDCounter.Add(1),
		wake:     make(chan struct{}, 1),
		loopDone: make(chan struct{}),
	}
	if config != nil {
		l.logger = config.Logger
	}
	return l
}

// Run runs the loop and blocks until fully stopped.
//
// Run blocks until the loop terminates (via Shutdown or ctx cancellation).
// To run in a separate goroutine, use: `go loop.Run(ctx)`.
func (l *Loop) Run(ctx context.Context) error {
	if l.isLoopGoroutine() {
		return ErrReentrantRun
	}

	if !l.state.tryTransition(StateIdle, StateActive) {
		if l.state.load() == StateClosed {
			return ErrLoopTerminated
		}
		return ErrLoopAlreadyRunning
	}

	// Close loopDone when run exits to signal completion to Shutdown waiters
	defer close(l.loopDone)

	return l.run(ctx)
}

// run is the main loop goroutine.
func (l *Loop) run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	l.loopGoroutineID.Store(getGoroutineID())
	defer l.loopGoroutineID.Store(0)

	l.logger.Debug().
		Uint64(`loop`, l.id).
		Log(`loop started`)

	for {
		l.drainTasks()

		if l.state.load() == StateClosing {
			l.terminate()
			return nil
		}

		select {
		case <-ctx.Done():
			// Context cancelled; initiate termination unless Shutdown beat
			// us to the transition.
			l.state.tryTransition(StateActive, StateClosing)
			l.terminate()
			return ctx.Err()
		case <-l.wake:
			l.wakePending.Store(0)
		}
	}
}

// Shutdown gracefully shuts down the loop.
//
// Shutdown initiates graceful shutdown that waits for all queued tasks to
// complete. It blocks until termination completes or ctx expires. Shutdown
// of a never-run loop succeeds immediately, and repeating a clean shutdown
// reports nil. If the loop terminated by other means (context cancellation),
// or is still terminating, Shutdown returns ErrLoopTerminated.
func (l *Loop) Shutdown(ctx context.Context) error {
	var result error
	l.stopOnce.Do(func() {
		result = l.shutdownImpl(ctx)
	})
	if result == nil && l.state.load() != StateClosed {
		return ErrLoopTerminated
	}
	return result
}

// shutdownImpl contains the actual Shutdown implementation.
func (l *Loop) shutdownImpl(ctx context.Context) error {
	for {
		st := l.state.load()
		if st == StateClosing || st == StateClosed {
			return ErrLoopTerminated
		}

		if l.state.tryTransition(st, StateClosing) {
			if st == StateIdle {
				// Never ran; nothing to drain and Run can no longer start.
				l.state.store(StateClosed)
				close(l.loopDone)
				return nil
			}
			l.signalWake()
			break
		}
	}

	// Wait for termination via channel, NOT polling
	select {
	case <-l.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// terminate performs the shutdown sequence on the loop goroutine.
func (l *Loop) terminate() {
	// CRITICAL: Set state to Closed FIRST so new submissions are rejected.
	// Any Submit that checked state before this has either pushed already
	// or still holds the inflight count; the drain below catches both.
	l.state.store(StateClosed)

	// Drain until quiescent: no in-flight submits and several consecutive
	// empty checks, so submissions racing the state store are not lost.
	emptyChecks := 0
	const requiredEmptyChecks = 3
	for emptyChecks < requiredEmptyChecks {
		spinCount := 0
		for l.inflight.Load() > 0 {
			spinCount++
			if spinCount > 1000 {
				time.Sleep(100 * time.Microsecond)
			} else {
				runtime.Gosched()
			}
		}

		if l.drainTasks() {
			emptyChecks = 0
		} else {
			emptyChecks++
			runtime.Gosched()
		}
	}

	l.logger.Debug().
		Uint64(`loop`, l.id).
		Log(`loop terminated`)
}

// drainTasks executes queued tasks in FIFO batches until the queue is
// empty. Returns true if any task ran.
func (l *Loop) drainTasks() bool {
	ran := false
	for {
		l.mu.Lock()
		n := l.tasks.popBatch(l.batchBuf[:])
		l.mu.Unlock()
		if n == 0 {
			return ran
		}
		ran = true
		for i := 0; i < n; i++ {
			l.safeExecute(l.batchBuf[i])
			l.batchBuf[i] = nil
		}
	}
}

// Submit queues a task for execution on the loop goroutine.
//
// State Policy during shutdown:
//   - StateClosed: returns ErrLoopTerminated
//   - StateClosing: ALLOWS submission (the loop drains in-flight work)
//   - StateIdle/StateActive: normal operation
func (l *Loop) Submit(fn func()) error {
	// Increment inflight FIRST, before checking state; the terminal drain
	// inspects this counter to catch submissions racing shutdown.
	l.inflight.Add(1)
	defer l.inflight.Add(-1)

	if l.state.load() == StateClosed {
		return ErrLoopTerminated
	}

	l.mu.Lock()
	l.tasks.push(fn)
	l.mu.Unlock()

	l.signalWake()
	return nil
}

// Schedule implements [Scheduler].
func (l *Loop) Schedule(fn func()) error {
	return l.Submit(fn)
}

// signalWake nudges the loop unless a wake is already pending.
func (l *Loop) signalWake() {
	if !l.wakePending.CompareAndSwap(0, 1) {
		return
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// State returns the current loop lifecycle state. Lock-free.
func (l *Loop) State() State {
	return l.state.load()
}

// safeExecute runs a task with panic containment.
func (l *Loop) safeExecute(fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Err().
				Uint64(`loop`, l.id).
				Any(`panic`, r).
				Log(`task panicked`)
		}
	}()
	fn()
}

// isLoopGoroutine checks if we're on the loop goroutine.
func (l *Loop) isLoopGoroutine() bool {
	id := l.loopGoroutineID.Load()
	if id == 0 {
		return false
	}
	return getGoroutineID() == id
}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}
