package bus

import (
	"context"
	"sync/atomic"
)

// Queue is a bounded, non-blocking message queue.
type Queue struct {
	ch     chan Message
	closed uint32
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Message, capacity)}
}

// TryPublish enqueues a message without blocking.
func (q *Queue) TryPublish(m Message) (err error) {
	if atomic.LoadUint32(&q.closed) != 0 {
		return ErrQueueClosed
	}
	defer func() {
		// Close 与 TryPublish 并发时向已关闭通道发送会 panic。
		if recover() != nil {
			err = ErrQueueClosed
		}
	}()
	select {
	case q.ch <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len reports the number of buffered messages.
func (q *Queue) Len() int { return len(q.ch) }

// Close stops the queue from accepting new messages.
func (q *Queue) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.ch)
	}
}

// Run consumes messages until the context is done or the queue is closed.
func (q *Queue) Run(ctx context.Context, handler func(Message)) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-q.ch:
			if !ok {
				return
			}
			handler(m)
		}
	}
}
