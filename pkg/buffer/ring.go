package buffer

import (
	"sync"

	"github.com/abossard/vjuniverse/errors"
)

// Ring is a thread-safe fixed-capacity ring buffer.
type Ring[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	closed   bool
	stats    *Statistics
	opts     *options[T]
}

// Write adds an item according to the overflow policy.
func (r *Ring[T]) Write(item T) error {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return errors.WrapInvalid(errors.ErrShuttingDown, "buffer", "Write", "buffer closed")
	}

	var dropped *T
	if r.size == r.capacity {
		r.stats.drop()
		switch r.opts.policy {
		case DropNewest:
			r.mu.Unlock()
			if r.opts.dropCallback != nil {
				r.opts.dropCallback(item)
			}
			return nil
		default: // DropOldest
			old := r.items[r.tail]
			dropped = &old
			r.tail = (r.tail + 1) % r.capacity
			r.size--
		}
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++
	r.stats.write(r.size)
	r.mu.Unlock()

	// Callback runs outside the lock.
	if dropped != nil && r.opts.dropCallback != nil {
		r.opts.dropCallback(*dropped)
	}
	return nil
}

// Read retrieves and removes one item.
// Returns the zero value and false when the buffer is empty.
func (r *Ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}

	item := r.items[r.tail]
	r.items[r.tail] = zero // release for GC
	r.tail = (r.tail + 1) % r.capacity
	r.size--
	r.stats.read(r.size)
	return item, true
}

// Drain removes and returns all buffered items in arrival order.
// Returns nil when the buffer is empty.
func (r *Ring[T]) Drain() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		return nil
	}

	var zero T
	out := make([]T, 0, r.size)
	for r.size > 0 {
		out = append(out, r.items[r.tail])
		r.items[r.tail] = zero
		r.tail = (r.tail + 1) % r.capacity
		r.size--
		r.stats.read(r.size)
	}
	return out
}

// Size returns the current number of buffered items.
func (r *Ring[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Capacity returns the maximum number of items the buffer can hold.
func (r *Ring[T]) Capacity() int {
	return r.capacity
}

// Clear removes all items.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head, r.tail, r.size = 0, 0, 0
	r.stats.read(0)
}

// Stats returns the buffer statistics.
func (r *Ring[T]) Stats() *Statistics {
	return r.stats
}

// Close marks the buffer closed; further writes fail, remaining items stay readable.
func (r *Ring[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
