package claude

import (
	"context"
	"sync"
)

// streamItem is one entry of the output stream: a plain message or an
// error. terminal marks the error that ended the stream.
type streamItem struct {
	msg      map[string]any
	err      error
	terminal bool
}

// messageQueue is an unbounded FIFO between the pump and its consumers.
// push never blocks, so a consumer that stops reading cannot stall control
// traffic. close wakes every waiting consumer.
type messageQueue struct {
	mu     sync.Mutex
	items  []streamItem
	closed bool
	wake   chan struct{}
}

func newMessageQueue() *messageQueue {
	return &messageQueue{wake: make(chan struct{})}
}

func (q *messageQueue) push(it streamItem) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, it)
	q.signalLocked()
	return true
}

func (q *messageQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.signalLocked()
}

func (q *messageQueue) signalLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// pop returns the oldest item. It blocks until one is available, and reports
// false once the queue is closed and drained or ctx is done.
func (q *messageQueue) pop(ctx context.Context) (streamItem, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			it := q.items[0]
			q.items[0] = streamItem{}
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			}
			q.mu.Unlock()
			return it, true
		}
		if q.closed {
			q.mu.Unlock()
			return streamItem{}, false
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return streamItem{}, false
		}
	}
}

func (q *messageQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
