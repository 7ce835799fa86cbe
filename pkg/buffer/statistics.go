package buffer

import "sync/atomic"

// Statistics tracks buffer activity. All counters are monotonically increasing
// except Size, which reflects the current fill level.
type Statistics struct {
	writes  atomic.Int64
	reads   atomic.Int64
	drops   atomic.Int64
	size    atomic.Int64
	maxSize atomic.Int64
}

func (s *Statistics) write(size int) {
	s.writes.Add(1)
	s.updateSize(size)
}

func (s *Statistics) read(size int) {
	s.reads.Add(1)
	s.updateSize(size)
}

func (s *Statistics) drop() {
	s.drops.Add(1)
}

func (s *Statistics) updateSize(size int) {
	n := int64(size)
	s.size.Store(n)
	for {
		max := s.maxSize.Load()
		if n <= max || s.maxSize.CompareAndSwap(max, n) {
			return
		}
	}
}

// Writes returns the total number of successful writes.
func (s *Statistics) Writes() int64 { return s.writes.Load() }

// Reads returns the total number of items read or drained.
func (s *Statistics) Reads() int64 { return s.reads.Load() }

// Drops returns the total number of items dropped by the overflow policy.
func (s *Statistics) Drops() int64 { return s.drops.Load() }

// Size returns the current fill level.
func (s *Statistics) Size() int64 { return s.size.Load() }

// MaxSize returns the highest fill level observed.
func (s *Statistics) MaxSize() int64 { return s.maxSize.Load() }
