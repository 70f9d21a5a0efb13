// Package queue provides the unbounded, order-preserving queue that connects
// the frame reader, the dispatch loop and the external event consumer.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned by GetWithin when the queue stayed empty for the
// whole wait.
var ErrTimeout = errors.New("queue: wait timed out")

// Queue is an unbounded FIFO. Put never blocks; Get blocks until an item is
// available or the context ends. Items are dequeued in the order they were
// enqueued. Any number of goroutines may Put; a single consumer is assumed
// for ordering guarantees.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	notify chan struct{}
}

// New creates an empty Queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{notify: make(chan struct{}, 1)}
}

// Put appends v to the tail of the queue.
//
// Parameters:
//   - v: The item to enqueue
func (q *Queue[T]) Put(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// TryGet removes and returns the head of the queue without blocking.
//
// Returns:
//   - The head item and true, or the zero value and false if empty
func (q *Queue[T]) TryGet() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.head == len(q.items) {
		return zero, false
	}

	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++

	// compact once the consumed prefix dominates the backing array
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}

	return v, true
}

// Get removes and returns the head of the queue, blocking while it is empty.
//
// Parameters:
//   - ctx: Cancels the wait
//
// Returns:
//   - The head item
//   - ctx.Err() if the context ends first
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	for {
		if v, ok := q.TryGet(); ok {
			return v, nil
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-q.notify:
		}
	}
}

// GetWithin is Get with an idle limit: if the queue stays empty for d it
// returns ErrTimeout so the caller can do housekeeping and wait again.
//
// Parameters:
//   - ctx: Cancels the wait
//   - d: Maximum time to wait for an item
//
// Returns:
//   - The head item
//   - ErrTimeout after d of emptiness, or ctx.Err() if the context ends
func (q *Queue[T]) GetWithin(ctx context.Context, d time.Duration) (T, error) {
	if v, ok := q.TryGet(); ok {
		return v, nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-timer.C:
			if v, ok := q.TryGet(); ok {
				return v, nil
			}
			var zero T
			return zero, ErrTimeout
		case <-q.notify:
			if v, ok := q.TryGet(); ok {
				return v, nil
			}
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
