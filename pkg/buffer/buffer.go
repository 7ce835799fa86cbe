// Package buffer provides a generic, thread-safe ring buffer used to decouple
// transport goroutines from the engine's cooperative tick.
//
// Transports write decoded messages as they arrive; the tick drains the whole
// buffer at its start. Overflow behavior is configurable: DropOldest keeps the
// freshest control data (the default for live audio feeds), DropNewest
// preserves history. Statistics are always collected.
package buffer

import (
	"github.com/abossard/vjuniverse/errors"
)

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called with each item dropped due to the overflow policy.
type DropCallback[T any] func(item T)

// Option configures a Ring.
type Option[T any] func(*options[T])

type options[T any] struct {
	policy       OverflowPolicy
	dropCallback DropCallback[T]
}

// WithOverflowPolicy sets the overflow policy (default DropOldest).
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(o *options[T]) {
		o.policy = policy
	}
}

// WithDropCallback registers a callback invoked for every dropped item.
func WithDropCallback[T any](cb DropCallback[T]) Option[T] {
	return func(o *options[T]) {
		o.dropCallback = cb
	}
}

// NewRing creates a ring buffer with the given capacity.
func NewRing[T any](capacity int, opts ...Option[T]) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"buffer", "NewRing", "capacity validation")
	}

	o := &options[T]{policy: DropOldest}
	for _, opt := range opts {
		opt(o)
	}

	return &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    &Statistics{},
		opts:     o,
	}, nil
}
