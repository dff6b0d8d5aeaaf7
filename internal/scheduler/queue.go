package scheduler

import (
	"errors"
	"sync"

	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

var (
	// ErrAlreadyQueued means an instance of the same message id is still
	// waiting to execute. The waiting instance delivers; a second copy
	// would send the same text twice.
	ErrAlreadyQueued = errors.New("message already waiting in queue")

	// ErrQueueClosed means the queue was shut down and accepts no more
	// messages.
	ErrQueueClosed = errors.New("message queue closed")
)

// messageQueue is the FIFO between firing timers and the delivery worker.
// Enqueue order is execution order.
type messageQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []v1.ScheduledMessage
	ids    map[string]struct{}
	closed bool
}

func newMessageQueue() *messageQueue {
	q := &messageQueue{ids: make(map[string]struct{})}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends m and wakes the worker.
func (q *messageQueue) Enqueue(m v1.ScheduledMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if _, ok := q.ids[m.ID]; ok {
		return ErrAlreadyQueued
	}

	q.items = append(q.items, m)
	q.ids[m.ID] = struct{}{}
	q.cond.Signal()
	return nil
}

// Dequeue blocks until a message is available or the queue closes. The
// second return is false only once the queue is closed and empty.
func (q *messageQueue) Dequeue() (v1.ScheduledMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return v1.ScheduledMessage{}, false
	}

	m := q.items[0]
	q.items = q.items[1:]
	delete(q.ids, m.ID)
	return m, true
}

// Remove drops a waiting instance of id, reporting whether one was found.
func (q *messageQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.ids[id]; !ok {
		return false
	}
	delete(q.ids, id)
	for i := range q.items {
		if q.items[i].ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of waiting messages.
func (q *messageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// List returns a copy of the waiting messages in execution order.
func (q *messageQueue) List() []v1.ScheduledMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]v1.ScheduledMessage, len(q.items))
	copy(out, q.items)
	return out
}

// Drain discards all waiting messages, returning how many were dropped.
func (q *messageQueue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	q.items = nil
	q.ids = make(map[string]struct{})
	return n
}

// Close rejects further enqueues and wakes the worker so it can exit once
// the remaining items are gone.
func (q *messageQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}
