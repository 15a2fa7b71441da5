// Package history provides fixed-capacity, insertion-ordered buffers that
// evict their oldest entry on overflow.
package history

import (
	"github.com/emirpasic/gods/queues/circularbuffer"
)

// History keeps the most recent Cap() values pushed into it.
// It is not safe for concurrent use; callers serialize access.
type History[T any] struct {
	buf      *circularbuffer.Queue
	capacity int
}

// New creates a history holding at most capacity values. capacity < 1 is
// treated as 1.
func New[T any](capacity int) *History[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &History[T]{
		buf:      circularbuffer.New(capacity),
		capacity: capacity,
	}
}

// Push appends v and reports whether the oldest value was evicted to make room.
func (h *History[T]) Push(v T) bool {
	evicted := h.buf.Full()
	h.buf.Enqueue(v)
	return evicted
}

// Items returns a copy of the values, oldest first.
func (h *History[T]) Items() []T {
	values := h.buf.Values()
	out := make([]T, 0, len(values))
	for _, v := range values {
		out = append(out, v.(T))
	}
	return out
}

func (h *History[T]) Len() int {
	return h.buf.Size()
}

func (h *History[T]) Cap() int {
	return h.capacity
}

// Reset drops every value.
func (h *History[T]) Reset() {
	h.buf.Clear()
}
