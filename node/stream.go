package node

import (
	"context"
	"sync"
)

// Stream carries the partial outputs of a streaming node (IsStreaming) to
// its consumer over a bounded buffer. The producer calls Send for each
// partial value and Close when the final value is ready; the consumer pulls
// with Next until it reports no more items. Both sides unblock on context
// cancellation, so an aborted run never strands a producer on a full buffer.
type Stream[T any] struct {
	ch   chan T
	done chan struct{}
	once sync.Once
}

// NewStream creates a stream buffering up to capacity partial values.
func NewStream[T any](capacity int) *Stream[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Stream[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
	}
}

// Send delivers one partial value, blocking while the buffer is full. It
// returns false when the stream is closed or ctx is done; the value is
// dropped in both cases.
func (s *Stream[T]) Send(ctx context.Context, v T) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- v:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Next removes and returns the oldest partial value, blocking until one is
// available. It returns ok=false when the stream is closed and drained, or
// when ctx is done.
func (s *Stream[T]) Next(ctx context.Context) (T, bool) {
	select {
	case v := <-s.ch:
		return v, true
	default:
	}
	select {
	case v := <-s.ch:
		return v, true
	case <-s.done:
		// A send may have raced the close; drain it before reporting end.
		select {
		case v := <-s.ch:
			return v, true
		default:
		}
		var zero T
		return zero, false
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// Collect pulls values until the stream ends or ctx is done, returning them
// in send order.
func (s *Stream[T]) Collect(ctx context.Context) []T {
	var out []T
	for {
		v, ok := s.Next(ctx)
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

// Close marks the end of the sequence. Buffered values remain readable;
// closing twice is a no-op.
func (s *Stream[T]) Close() {
	s.once.Do(func() { close(s.done) })
}

// Closed reports whether Close has been called.
func (s *Stream[T]) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
