// Package ringbuf provides a lock-free, single-producer single-consumer
// (SPSC) ring buffer for live status snapshots. The tick loop pushes, the
// WebSocket broadcaster pops; a full buffer rejects the push rather than
// blocking the tick.
package ringbuf

import (
	"sync/atomic"

	"sentinelsniper/internal/model"
)

// cacheLine is the typical x86-64 cache line size used for padding.
const cacheLine = 64

// Ring is a lock-free SPSC ring buffer for LiveSnapshot values.
// Size must be a power of two for fast bitwise modulo.
type Ring struct {
	buf  []model.LiveSnapshot
	mask uint64

	// Separate cache lines to prevent false sharing between producer and
	// consumer.
	_pad0 [cacheLine]byte
	head  atomic.Uint64 // written by producer
	_pad1 [cacheLine]byte
	tail  atomic.Uint64 // written by consumer
	_pad2 [cacheLine]byte

	drops atomic.Uint64
}

// New creates a ring buffer. capacity is rounded up to the next power of
// two. Minimum capacity is 2.
func New(capacity int) *Ring {
	n := nextPow2(capacity)
	if n < 2 {
		n = 2
	}
	return &Ring{
		buf:  make([]model.LiveSnapshot, n),
		mask: uint64(n - 1),
	}
}

// Push appends a snapshot. Returns false if the buffer is full (the
// snapshot is NOT written in that case). Non-blocking.
func (r *Ring) Push(s model.LiveSnapshot) bool {
	head := r.head.Load()
	tail := r.tail.Load()

	if head-tail >= uint64(len(r.buf)) {
		r.drops.Add(1)
		return false
	}

	r.buf[head&r.mask] = s
	r.head.Store(head + 1)
	return true
}

// Pop retrieves the next snapshot. Returns false if the buffer is empty.
// Non-blocking.
func (r *Ring) Pop() (model.LiveSnapshot, bool) {
	tail := r.tail.Load()
	head := r.head.Load()

	if tail >= head {
		return model.LiveSnapshot{}, false
	}

	s := r.buf[tail&r.mask]
	r.tail.Store(tail + 1)
	return s, true
}

// Len returns the current number of items in the buffer.
func (r *Ring) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Cap returns the buffer capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Drops returns the total number of pushes rejected on a full buffer.
func (r *Ring) Drops() uint64 {
	return r.drops.Load()
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
