// Package series holds step-indexed recording buffers.
//
// A Series grows geometrically, so recording one value per step is amortized
// O(1) and extending the horizon never copies more than the live history.
package series

type Number interface {
	~int | ~int32 | ~int64 | ~uint8 | ~float32 | ~float64
}

// Series is a dense, zero-filled array indexed by step number.
type Series[T Number] struct {
	vals []T
}

func New[T Number](n int) *Series[T] {
	if n < 0 {
		n = 0
	}
	return &Series[T]{vals: make([]T, n)}
}

func (s *Series[T]) Len() int {
	if s == nil {
		return 0
	}
	return len(s.vals)
}

// At returns the value recorded at step; steps outside the buffer read as zero.
func (s *Series[T]) At(step int) T {
	var zero T
	if s == nil || step < 0 || step >= len(s.vals) {
		return zero
	}
	return s.vals[step]
}

// Set records v at step, growing the buffer when step is past the end.
func (s *Series[T]) Set(step int, v T) {
	if step < 0 {
		return
	}
	if step >= len(s.vals) {
		s.grow(step + 1)
	}
	s.vals[step] = v
}

func (s *Series[T]) Append(v T) int {
	step := len(s.vals)
	s.Set(step, v)
	return step
}

// Extend appends n zero slots. Recorded history is left untouched.
func (s *Series[T]) Extend(n int) {
	if n <= 0 {
		return
	}
	s.grow(len(s.vals) + n)
}

// Values returns the live backing slice. Callers must not retain it across
// Set/Extend calls that may reallocate.
func (s *Series[T]) Values() []T {
	if s == nil {
		return nil
	}
	return s.vals
}

// Tail returns a copy of the last n values (fewer if the series is shorter).
func (s *Series[T]) Tail(n int) []T {
	if s == nil || n <= 0 {
		return nil
	}
	if n > len(s.vals) {
		n = len(s.vals)
	}
	out := make([]T, n)
	copy(out, s.vals[len(s.vals)-n:])
	return out
}

// Float64s copies the series into a float64 slice (for gonum/stat).
func (s *Series[T]) Float64s() []float64 {
	if s == nil {
		return nil
	}
	out := make([]float64, len(s.vals))
	for i, v := range s.vals {
		out[i] = float64(v)
	}
	return out
}

func (s *Series[T]) grow(n int) {
	if n <= len(s.vals) {
		return
	}
	if n <= cap(s.vals) {
		old := len(s.vals)
		s.vals = s.vals[:n]
		clear(s.vals[old:])
		return
	}
	c := cap(s.vals) * 2
	if c < n {
		c = n
	}
	next := make([]T, n, c)
	copy(next, s.vals)
	s.vals = next
}
