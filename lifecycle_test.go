package callbridge

import (
	"sync"
	"sync/atomic"
	"testing"
)

// TestBridge_DispatchOrderAndFinalizer verifies strict FIFO dispatch and
// that the finalizer runs after the last payload, before Done closes.
func TestBridge_DispatchOrderAndFinalizer(t *testing.T) {
	loop := startLoop(t)

	var events []string
	b := New(&Config{InitialProducers: 1}, loop, struct{}{},
		func(_ struct{}, d string) { events = append(events, d) },
		func(struct{}) { events = append(events, "finalizer") })

	for _, d := range []string{"a", "b", "c"} {
		if err := b.BlockingCall(d); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.Release(); err != nil {
		t.Fatal(err)
	}
	waitDone(t, b)

	want := []string{"a", "b", "c", "finalizer"}
	if len(events) != len(want) {
		t.Fatalf("Event mismatch: %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("Event %d: expected %q, got %q (%v)", i, want[i], events[i], events)
		}
	}
}

// TestBridge_FinalizerExactlyOnce releases many producers concurrently
// after a burst of calls; the finalizer must run once, after every
// dispatched payload.
func TestBridge_FinalizerExactlyOnce(t *testing.T) {
	loop := startLoop(t)

	const producers = 8
	const perProducer = 64

	var dispatched atomic.Int64
	var finalizeCount atomic.Int64
	var atFinalize int64

	b := New(&Config{InitialProducers: producers}, loop, struct{}{},
		func(struct{}, int) { dispatched.Add(1) },
		func(struct{}) {
			finalizeCount.Add(1)
			atFinalize = dispatched.Load()
		})

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			defer b.Release()
			for i := 0; i < perProducer; i++ {
				if err := b.BlockingCall(i); err != nil {
					t.Errorf("Call: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	waitDone(t, b)

	if n := finalizeCount.Load(); n != 1 {
		t.Fatalf("Finalizer ran %d times", n)
	}
	const total = producers * perProducer
	if got := dispatched.Load(); got != total {
		t.Fatalf("Expected %d dispatched, got %d", total, got)
	}
	if atFinalize != total {
		t.Fatalf("Finalizer observed %d dispatched payloads, expected %d", atFinalize, total)
	}
	if b.State() != StateClosed {
		t.Fatalf("Expected Closed, got %v", b.State())
	}
}

// TestBridge_NilFinalizer verifies end of life completes without a
// finalizer: Done still closes and the state still reaches Closed.
func TestBridge_NilFinalizer(t *testing.T) {
	loop := startLoop(t)

	b := New(&Config{InitialProducers: 1}, loop, struct{}{}, func(struct{}, int) {}, nil)

	if err := b.BlockingCall(1); err != nil {
		t.Fatal(err)
	}
	if err := b.Release(); err != nil {
		t.Fatal(err)
	}
	waitDone(t, b)

	if b.State() != StateClosed {
		t.Fatalf("Expected Closed, got %v", b.State())
	}
}

// TestBridge_FinalizerPanicContained verifies a panicking finalizer still
// completes the lifecycle: state Closed, Done closed, exactly one attempt.
func TestBridge_FinalizerPanicContained(t *testing.T) {
	loop := startLoop(t)

	var attempts atomic.Int64
	b := New(&Config{InitialProducers: 1}, loop, struct{}{},
		func(struct{}, int) {},
		func(struct{}) {
			attempts.Add(1)
			panic("finalizer boom")
		})

	if err := b.Release(); err != nil {
		t.Fatal(err)
	}
	waitDone(t, b)

	if n := attempts.Load(); n != 1 {
		t.Fatalf("Finalizer attempted %d times", n)
	}
	if b.State() != StateClosed {
		t.Fatalf("Expected Closed, got %v", b.State())
	}
}

// TestBridge_AcquireReleaseChurn interleaves short-lived registrations
// with calls while an anchor registration keeps the bridge alive.
func TestBridge_AcquireReleaseChurn(t *testing.T) {
	loop := startLoop(t)

	var dispatched atomic.Int64
	b := New(&Config{InitialProducers: 1}, loop, struct{}{},
		func(struct{}, int) { dispatched.Add(1) }, nil)

	const churners = 4
	const perChurner = 100
	var wg sync.WaitGroup
	wg.Add(churners)
	for g := 0; g < churners; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perChurner; i++ {
				if err := b.Acquire(); err != nil {
					t.Errorf("Churn acquire: %v", err)
					return
				}
				if err := b.BlockingCall(i); err != nil {
					t.Errorf("Churn call: %v", err)
				}
				if err := b.Release(); err != nil {
					t.Errorf("Churn release: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if err := b.Release(); err != nil {
		t.Fatal(err)
	}
	waitDone(t, b)

	if got := dispatched.Load(); got != churners*perChurner {
		t.Fatalf("Expected %d dispatched, got %d", churners*perChurner, got)
	}
}
