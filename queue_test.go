package callbridge

import (
	"testing"
)

// TestChunkQueue_ChunkTransition verifies the queue correctly handles chunk
// boundary transitions during push/pop operations.
func TestChunkQueue_ChunkTransition(t *testing.T) {
	var q chunkQueue[int]

	const cycles = 3
	total := chunkSize * cycles

	for i := 0; i < total; i++ {
		q.push(i)
	}

	if q.len() != total {
		t.Fatalf("Queue length mismatch. Expected %d, got %d", total, q.len())
	}

	for i := 0; i < total; i++ {
		v, ok := q.pop()
		if !ok {
			t.Fatalf("Premature exhaustion at index %d", i)
		}
		if v != i {
			t.Fatalf("Out of order pop at index %d: got %d", i, v)
		}
	}

	if _, ok := q.pop(); ok {
		t.Fatal("Queue should be empty")
	}
	if q.len() != 0 {
		t.Fatalf("Expected zero length, got %d", q.len())
	}
}

// TestChunkQueue_CursorReuse exercises the cursor reset path: alternating
// push/pop on a single chunk must reuse it rather than growing the list.
func TestChunkQueue_CursorReuse(t *testing.T) {
	var q chunkQueue[string]

	for i := 0; i < chunkSize*4; i++ {
		q.push("x")
		v, ok := q.pop()
		if !ok || v != "x" {
			t.Fatalf("Iteration %d: got %q, ok=%v", i, v, ok)
		}
		if q.head != q.tail {
			t.Fatalf("Iteration %d: single-chunk queue grew a second chunk", i)
		}
	}
}

// TestChunkQueue_PopBatch drains a multi-chunk queue through a buffer
// smaller than a chunk, verifying order and count.
func TestChunkQueue_PopBatch(t *testing.T) {
	var q chunkQueue[int]

	const total = chunkSize + 57
	for i := 0; i < total; i++ {
		q.push(i)
	}

	var buf [64]int
	seen := 0
	for {
		n := q.popBatch(buf[:])
		if n == 0 {
			break
		}
		for i := 0; i < n; i++ {
			if buf[i] != seen {
				t.Fatalf("Out of order batch item. Expected %d, got %d", seen, buf[i])
			}
			seen++
		}
	}

	if seen != total {
		t.Fatalf("Batch drain mismatch. Expected %d items, got %d", total, seen)
	}
	if q.len() != 0 {
		t.Fatalf("Expected zero length, got %d", q.len())
	}
}

// TestChunkQueue_Reset verifies reset reports the dropped count and leaves
// the queue reusable.
func TestChunkQueue_Reset(t *testing.T) {
	var q chunkQueue[int]

	if n := q.reset(); n != 0 {
		t.Fatalf("Reset of empty queue dropped %d", n)
	}

	const total = chunkSize*2 + 9
	for i := 0; i < total; i++ {
		q.push(i)
	}

	if n := q.reset(); n != total {
		t.Fatalf("Reset dropped %d, expected %d", n, total)
	}
	if q.len() != 0 {
		t.Fatalf("Expected zero length, got %d", q.len())
	}
	if _, ok := q.pop(); ok {
		t.Fatal("Queue should be empty after reset")
	}

	q.push(42)
	v, ok := q.pop()
	if !ok || v != 42 {
		t.Fatalf("Post-reset pop: got %d, ok=%v", v, ok)
	}
}

// TestChunkQueue_ZeroesPoppedSlots verifies popped slots do not retain
// references, so pointer payloads stay collectable.
func TestChunkQueue_ZeroesPoppedSlots(t *testing.T) {
	var q chunkQueue[*int]

	v := new(int)
	q.push(v)
	if got, ok := q.pop(); !ok || got != v {
		t.Fatal("Round trip failed")
	}

	if q.head == nil {
		t.Fatal("Expected the chunk to be retained for reuse")
	}
	if q.head.items[0] != nil {
		t.Fatal("Popped slot retains a reference")
	}
}

// TestChunkQueue_InterleavedAcrossBoundary mixes pushes and pops so the
// read cursor crosses chunk boundaries while writes continue.
func TestChunkQueue_InterleavedAcrossBoundary(t *testing.T) {
	var q chunkQueue[int]

	next := 0
	expect := 0
	for round := 0; round < 10; round++ {
		for i := 0; i < chunkSize/2+13; i++ {
			q.push(next)
			next++
		}
		for i := 0; i < chunkSize/4+7; i++ {
			v, ok := q.pop()
			if !ok {
				t.Fatalf("Round %d: premature exhaustion", round)
			}
			if v != expect {
				t.Fatalf("Round %d: expected %d, got %d", round, expect, v)
			}
			expect++
		}
	}

	for {
		v, ok := q.pop()
		if !ok {
			break
		}
		if v != expect {
			t.Fatalf("Drain: expected %d, got %d", expect, v)
		}
		expect++
	}

	if expect != next {
		t.Fatalf("Popped %d items, pushed %d", expect, next)
	}
}
