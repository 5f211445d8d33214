// Package queue provides the FIFO primitive shared by the intent bridge and
// the stream byte channels: unbounded, closable from either side, and safe to
// close more than once.
package queue

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO. Push never blocks. Pop blocks until an item is
// available, the queue is closed and drained, or ctx is done.
//
// Items pushed before Close are still delivered; items pushed after Close are
// dropped.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	ready  chan struct{} // cap 1, poked on push
	done   chan struct{} // closed on Close
}

// New returns an empty open queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push appends v. It reports false when the queue is already closed and v was
// dropped.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.poke()
	return true
}

// Pop removes the head item. ok is false when the queue is closed and empty or
// when ctx is done, even if items are still buffered.
func (q *Queue[T]) Pop(ctx context.Context) (v T, ok bool) {
	for {
		if ctx.Err() != nil {
			return v, false
		}
		q.mu.Lock()
		if len(q.items) > 0 {
			v = q.items[0]
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			// another waiter may be parked behind us
			if more {
				q.poke()
			}
			return v, true
		}
		if q.closed {
			q.mu.Unlock()
			return v, false
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return v, false
		}
	}
}

// TryPop is the non-blocking form of Pop.
func (q *Queue[T]) TryPop() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return v, false
	}
	v = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

// Close stops accepting pushes and wakes every blocked Pop. Idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Discard closes the queue and drops anything still buffered.
func (q *Queue[T]) Discard() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	if !q.closed {
		q.closed = true
		close(q.done)
	}
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Done is closed once the queue is closed.
func (q *Queue[T]) Done() <-chan struct{} { return q.done }

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) poke() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
