// Package queue implements the bounded work queue between the data
// generator and the upload workers.
//
// The termination marker is the close of the underlying channel: once the
// producer calls Close, every consumer observes the marker exactly once
// (after the remaining tasks are drained), so the pool shuts down without
// forwarding a poison pill from worker to worker.
package queue

import (
	"context"
	"sync"
)

// Queue is a bounded FIFO with a single producer and many consumers
type Queue[T any] struct {
	items     chan T
	closeOnce sync.Once
}

// New creates a queue holding at most capacity pending items
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{items: make(chan T, capacity)}
}

// Put enqueues item, blocking while the queue is full.
// It returns ctx.Err() if ctx is cancelled first.
func (q *Queue[T]) Put(ctx context.Context, item T) error {
	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get dequeues the next item, blocking while the queue is empty.
// ok is false once the termination marker has been observed or ctx is done.
func (q *Queue[T]) Get(ctx context.Context) (item T, ok bool) {
	select {
	case item, ok = <-q.items:
		return item, ok
	case <-ctx.Done():
		return item, false
	}
}

// Close places the termination marker. Only the producer may call it;
// repeated calls are no-ops.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() { close(q.items) })
}

// Len returns the number of pending items
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Cap returns the queue capacity
func (q *Queue[T]) Cap() int {
	return cap(q.items)
}
