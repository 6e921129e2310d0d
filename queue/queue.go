package queue

import (
	"context"
	"sync"
)

type popResult[T any] struct {
	item T
	ok   bool
}

// Queue is an unbounded FIFO safe for concurrent use.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	waiters []chan popResult[T]
	closed  bool
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Push appends an item. Pushing to a closed queue is a no-op. If a receiver
// is parked, the item is handed to the longest-waiting one directly.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	if len(q.waiters) > 0 {
		w := q.waiters[0]
		q.waiters = q.waiters[1:]
		w <- popResult[T]{item: item, ok: true}
		return
	}
	q.items = append(q.items, item)
}

// Pop removes and returns the head item, blocking until one is available.
// It returns ok=false when the queue closes, waiters are cancelled, or ctx
// is done — all meaning "no more items" to the caller.
func (q *Queue[T]) Pop(ctx context.Context) (T, bool) {
	q.mu.Lock()
	if len(q.items) > 0 {
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		return item, true
	}
	if q.closed {
		q.mu.Unlock()
		var zero T
		return zero, false
	}

	w := make(chan popResult[T], 1)
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()

	select {
	case res := <-w:
		return res.item, res.ok
	case <-ctx.Done():
		q.removeWaiter(w)
		// An item may have been handed over concurrently with cancellation.
		select {
		case res := <-w:
			return res.item, res.ok
		default:
		}
		var zero T
		return zero, false
	}
}

// TryPop removes and returns the head item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Peek returns the head item without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	return q.items[0], true
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns every buffered item.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

// Close marks the queue closed and wakes every parked receiver with
// "no more items". Buffered items remain drainable via Pop/TryPop.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.flushWaitersLocked()
}

// CancelWaiters wakes every parked receiver with "no more items" without
// closing the queue.
func (q *Queue[T]) CancelWaiters() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flushWaitersLocked()
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue[T]) flushWaitersLocked() {
	for _, w := range q.waiters {
		var zero T
		w <- popResult[T]{item: zero, ok: false}
	}
	q.waiters = nil
}

func (q *Queue[T]) removeWaiter(target chan popResult[T]) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, w := range q.waiters {
		if w == target {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return
		}
	}
}
