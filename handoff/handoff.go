// Package handoff provides the bounded, non-blocking hand-off queue
// between the HTTP ingress handler and the worker pool.
package handoff

import (
	"sync"

	"github.com/alloybilling/ingestion-gateway/event"
)

// Queue wraps a buffered channel of events. Sends never block: a full
// queue signals backpressure to the caller instead of stalling the
// request goroutine. Multiple workers can safely range over the same
// Queue, since Go channels are natively multi-consumer — no mutex-guarded
// receiver is needed.
type Queue struct {
	ch        chan event.UsageEvent
	closeOnce sync.Once
}

// New creates a Queue with the given buffer capacity.
func New(capacity int) *Queue {
	return &Queue{ch: make(chan event.UsageEvent, capacity)}
}

// TryEnqueue attempts a non-blocking send. It returns false if the queue
// is full, in which case the caller should reject the request.
func (q *Queue) TryEnqueue(e event.UsageEvent) bool {
	select {
	case q.ch <- e:
		return true
	default:
		return false
	}
}

// Dequeue exposes the receive-only channel for workers to range over.
func (q *Queue) Dequeue() <-chan event.UsageEvent {
	return q.ch
}

// Close closes the underlying channel. Idempotent.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

// Len returns the number of events currently buffered.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue's configured capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
