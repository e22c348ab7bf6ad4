package proaudio

import "sync/atomic"

// ring is a bounded single-producer single-consumer queue. Push is only
// called from one goroutine and Peek/Pop only from another; neither side
// blocks or allocates.
type ring[T any] struct {
	items []T
	mask  uint64
	head  atomic.Uint64 // next slot to read
	tail  atomic.Uint64 // next slot to write
}

func newRing[T any](capacity int) *ring[T] {
	size := 2
	for size < capacity {
		size <<= 1
	}
	return &ring[T]{
		items: make([]T, size),
		mask:  uint64(size - 1),
	}
}

// Push appends v, reporting false when the ring is full
func (r *ring[T]) Push(v T) bool {
	tail := r.tail.Load()
	if tail-r.head.Load() == uint64(len(r.items)) {
		return false
	}
	r.items[tail&r.mask] = v
	r.tail.Store(tail + 1)
	return true
}

// Peek returns a pointer to the oldest item without removing it
func (r *ring[T]) Peek() *T {
	head := r.head.Load()
	if head == r.tail.Load() {
		return nil
	}
	return &r.items[head&r.mask]
}

// Pop removes the oldest item
func (r *ring[T]) Pop() (T, bool) {
	var zero T
	head := r.head.Load()
	if head == r.tail.Load() {
		return zero, false
	}
	v := r.items[head&r.mask]
	r.items[head&r.mask] = zero
	r.head.Store(head + 1)
	return v, true
}

// Len returns the number of queued items
func (r *ring[T]) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Cap returns the ring capacity
func (r *ring[T]) Cap() int {
	return len(r.items)
}
