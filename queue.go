package callbridge

import (
	"sync"
)

// chunkSize is the number of items per node in the chunkQueue linked list.
// 128 items amortizes allocations while keeping chunks around ~1KB for
// pointer-sized elements.
const chunkSize = 128

// chunkQueue is a chunked linked-list FIFO queue.
//
// Thread Safety: This struct is NOT thread-safe.
// The caller must provide external synchronization (e.g., the Bridge's mutex).
//
// Performance rationale:
// - Fixed-size arrays (chunkSize) provide cache locality and amortize allocations.
// - sync.Pool chunk recycling prevents GC thrashing under high throughput.
// - Items never move after placement; push and pop are O(1) cursor bumps.
type chunkQueue[T any] struct {
	head   *chunk[T]
	tail   *chunk[T]
	length int
	pool   sync.Pool
}

// chunk is a fixed-size node in the chunked linked-list.
// It uses readPos/pos cursors for O(1) push/pop without shifting.
type chunk[T any] struct {
	items   [chunkSize]T
	next    *chunk[T]
	readPos int // First unread slot (index into items)
	pos     int // First unused slot / writePos (index into items)
}

// newChunk returns a chunk from the pool, or a fresh one.
func (q *chunkQueue[T]) newChunk() *chunk[T] {
	c, _ := q.pool.Get().(*chunk[T])
	if c == nil {
		c = new(chunk[T])
	}
	// Reset fields for reuse as the chunk may have been returned with stale cursors
	c.pos = 0
	c.readPos = 0
	c.next = nil
	return c
}

// returnChunk returns an exhausted chunk to the pool.
// Item slots are zeroed before returning to prevent memory leaks from
// retained references.
func (q *chunkQueue[T]) returnChunk(c *chunk[T]) {
	var zero T
	for i := 0; i < c.pos; i++ {
		c.items[i] = zero
	}
	c.pos = 0
	c.readPos = 0
	c.next = nil
	q.pool.Put(c)
}

// push adds an item to the queue.
//
// CALLER MUST HOLD EXTERNAL MUTEX.
func (q *chunkQueue[T]) push(item T) {
	if q.tail == nil {
		q.tail = q.newChunk()
		q.head = q.tail
	}

	if q.tail.pos == len(q.tail.items) {
		newTail := q.newChunk()
		q.tail.next = newTail
		q.tail = newTail
	}

	q.tail.items[q.tail.pos] = item
	q.tail.pos++
	q.length++
}

// pop removes and returns an item.
//
// Returns false if the queue is empty.
//
// CALLER MUST HOLD EXTERNAL MUTEX.
func (q *chunkQueue[T]) pop() (T, bool) {
	var zero T
	if q.head == nil {
		return zero, false
	}

	// Check if current chunk is exhausted (readPos == pos means all written items read)
	if q.head.readPos >= q.head.pos {
		// If this is the only chunk, queue is empty - reset cursors for reuse
		if q.head == q.tail {
			q.head.pos = 0
			q.head.readPos = 0
			return zero, false
		}
		// Move to next chunk and return exhausted one to pool
		oldHead := q.head
		q.head = q.head.next
		q.returnChunk(oldHead)
	}

	// Double-check after potential chunk advancement
	if q.head.readPos >= q.head.pos {
		return zero, false
	}

	// O(1) read at readPos, then increment
	item := q.head.items[q.head.readPos]
	// Zero out popped slot for GC safety
	q.head.items[q.head.readPos] = zero
	q.head.readPos++
	q.length--

	// If chunk is now exhausted, free it or reset cursors
	if q.head.readPos >= q.head.pos {
		if q.head == q.tail {
			q.head.pos = 0
			q.head.readPos = 0
			return item, true
		}
		oldHead := q.head
		q.head = q.head.next
		q.returnChunk(oldHead)
	}

	return item, true
}

// popBatch pops up to len(buf) items into buf, returning the count popped.
//
// CALLER MUST HOLD EXTERNAL MUTEX.
func (q *chunkQueue[T]) popBatch(buf []T) int {
	n := 0
	for n < len(buf) {
		item, ok := q.pop()
		if !ok {
			break
		}
		buf[n] = item
		n++
	}
	return n
}

// reset drops all queued items, returning how many were dropped. All chunks
// are cleared and recycled.
//
// CALLER MUST HOLD EXTERNAL MUTEX.
func (q *chunkQueue[T]) reset() int {
	n := q.length
	for c := q.head; c != nil; {
		next := c.next
		q.returnChunk(c)
		c = next
	}
	q.head = nil
	q.tail = nil
	q.length = 0
	return n
}

// len returns the queue length.
//
// CALLER MUST HOLD EXTERNAL MUTEX.
func (q *chunkQueue[T]) len() int {
	return q.length
}
