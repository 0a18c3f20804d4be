package callbridge

import (
	"sync/atomic"
)

// Metrics is a point-in-time snapshot of bridge counters, captured via
// [Bridge.Metrics]. All fields are zero unless Config.Metrics was set.
type Metrics struct {
	// Accepted counts slots admitted to the queue.
	Accepted uint64
	// Dispatched counts slots whose callback ran on the consumer.
	Dispatched uint64
	// Dropped counts queued slots discarded by abort.
	Dropped uint64
	// RejectedFull counts non-blocking calls refused on a full queue.
	RejectedFull uint64
	// RejectedClosed counts calls refused by the lifecycle gate.
	RejectedClosed uint64
	// Depth is the queue depth at snapshot time.
	Depth int
	// DepthMax is the high-water queue depth.
	DepthMax int
}

// bridgeMetrics collects counters when enabled. A nil receiver disables
// collection; every method is nil-safe.
type bridgeMetrics struct {
	acceptedN       atomic.Uint64
	dispatchedN     atomic.Uint64
	droppedN        atomic.Uint64
	rejectedFullN   atomic.Uint64
	rejectedClosedN atomic.Uint64
	depthMax        atomic.Int64
}

func (m *bridgeMetrics) accepted(depth int) {
	if m == nil {
		return
	}
	m.acceptedN.Add(1)
	for {
		cur := m.depthMax.Load()
		if int64(depth) <= cur || m.depthMax.CompareAndSwap(cur, int64(depth)) {
			return
		}
	}
}

func (m *bridgeMetrics) dispatched(n int) {
	if m == nil {
		return
	}
	m.dispatchedN.Add(uint64(n))
}

func (m *bridgeMetrics) dropSlots(n int) {
	if m == nil {
		return
	}
	m.droppedN.Add(uint64(n))
}

func (m *bridgeMetrics) rejectFull() {
	if m == nil {
		return
	}
	m.rejectedFullN.Add(1)
}

func (m *bridgeMetrics) rejectClosed() {
	if m == nil {
		return
	}
	m.rejectedClosedN.Add(1)
}

// Metrics returns a snapshot of the bridge counters. The zero snapshot is
// returned when metrics were not enabled via Config.
func (b *Bridge[C, D]) Metrics() Metrics {
	m := b.metrics
	if m == nil {
		return Metrics{}
	}
	b.mu.Lock()
	depth := b.queue.len()
	b.mu.Unlock()
	return Metrics{
		Accepted:       m.acceptedN.Load(),
		Dispatched:     m.dispatchedN.Load(),
		Dropped:        m.droppedN.Load(),
		RejectedFull:   m.rejectedFullN.Load(),
		RejectedClosed: m.rejectedClosedN.Load(),
		Depth:          depth,
		DepthMax:       int(m.depthMax.Load()),
	}
}
