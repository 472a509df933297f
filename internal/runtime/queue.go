package runtime

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Push after Close.
var ErrQueueClosed = errors.New("runtime: queue closed")

// Queue adapts a push-based runtime (callbacks, SDK events) into the pull
// channel the pipeline driver drains. The buffer is bounded; Push blocks
// when it is full. Backpressure beyond that is unnecessary because the
// driver processes one message at a time.
type Queue struct {
	ch chan Message

	mu     sync.Mutex
	closed bool
}

// NewQueue creates a queue with the given buffer size (minimum 1).
func NewQueue(size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{ch: make(chan Message, size)}
}

// Push enqueues a message, blocking while the buffer is full.
// Returns ErrQueueClosed after Close, or ctx.Err() on cancellation.
func (q *Queue) Push(ctx context.Context, m Message) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.mu.Unlock()

	select {
	case q.ch <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the end of the stream. Idempotent. The producing side owns
// both Push and Close; Close must not race an in-flight Push.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Messages returns the drain side of the queue. The channel is closed by
// Close once all pushed messages have been received.
func (q *Queue) Messages() <-chan Message {
	return q.ch
}
