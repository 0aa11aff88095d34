package memarena

// SliceVec is a bounded, growable view over an externally owned slice. It
// never reallocates past its backing capacity; growth beyond cap panics,
// mirroring the engine's pre-charged-capacity contract (callers must charge
// for growth, via the resources package, before calling Grow).
type SliceVec[T any] struct {
	backing []T
	n       int
}

// NewSliceVec wraps backing (typically arena-allocated) as an empty vector
// with capacity len(backing).
func NewSliceVec[T any](backing []T) *SliceVec[T] {
	return &SliceVec[T]{backing: backing}
}

// Len returns the number of logical elements.
func (s *SliceVec[T]) Len() int { return s.n }

// Cap returns the backing capacity.
func (s *SliceVec[T]) Cap() int { return len(s.backing) }

// Push appends v, panicking if capacity is exhausted.
func (s *SliceVec[T]) Push(v T) {
	if s.n >= len(s.backing) {
		panic("memarena: SliceVec capacity exceeded")
	}
	s.backing[s.n] = v
	s.n++
}

// Pop removes and returns the last element.
func (s *SliceVec[T]) Pop() T {
	s.n--
	return s.backing[s.n]
}

// At returns a pointer to the element at i for in-place mutation.
func (s *SliceVec[T]) At(i int) *T { return &s.backing[i] }

// Truncate shrinks the logical length to n, discarding elements past it.
func (s *SliceVec[T]) Truncate(n int) { s.n = n }

// Slice returns the logical (non-backing) contents as a slice.
func (s *SliceVec[T]) Slice() []T { return s.backing[:s.n] }

// Grow extends the logical length by extra zero-valued elements, up to
// capacity. Returns the newly exposed sub-slice.
func (s *SliceVec[T]) Grow(extra int) []T {
	if s.n+extra > len(s.backing) {
		panic("memarena: SliceVec capacity exceeded")
	}
	start := s.n
	var zero T
	for i := start; i < start+extra; i++ {
		s.backing[i] = zero
	}
	s.n += extra
	return s.backing[start:s.n]
}
