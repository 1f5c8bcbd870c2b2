package pool

import (
	"container/list"
	"time"
)

// waiter is a parked acquisition request. Delivery and removal both happen
// under the pool mutex, so a waiter is handed a connection exactly once or
// failed exactly once, never both.
type waiter struct {
	ready      chan *Conn // buffered, capacity 1
	failed     chan error // buffered, capacity 1
	enqueuedAt time.Time
	elem       *list.Element
}

// waitQueue is the FIFO list of pending acquisitions. All methods must be
// called with the pool mutex held.
type waitQueue struct {
	entries *list.List
}

func newWaitQueue() *waitQueue {
	return &waitQueue{entries: list.New()}
}

func (q *waitQueue) len() int { return q.entries.Len() }

func (q *waitQueue) enqueue() *waiter {
	w := &waiter{
		ready:      make(chan *Conn, 1),
		failed:     make(chan error, 1),
		enqueuedAt: time.Now(),
	}
	w.elem = q.entries.PushBack(w)
	return w
}

// deliver hands conn to the oldest waiter and removes it from the queue.
// Returns false when the queue is empty.
func (q *waitQueue) deliver(conn *Conn) bool {
	front := q.entries.Front()
	if front == nil {
		return false
	}
	w := front.Value.(*waiter)
	q.entries.Remove(front)
	w.elem = nil
	w.ready <- conn
	return true
}

// remove takes w out of the queue. Returns false when w was already
// delivered or failed (it is no longer queued).
func (q *waitQueue) remove(w *waiter) bool {
	if w.elem == nil {
		return false
	}
	q.entries.Remove(w.elem)
	w.elem = nil
	return true
}

// failAll completes every queued waiter with err and empties the queue.
// Used by the drain sweep.
func (q *waitQueue) failAll(err error) int {
	n := 0
	for front := q.entries.Front(); front != nil; front = q.entries.Front() {
		w := front.Value.(*waiter)
		q.entries.Remove(front)
		w.elem = nil
		w.failed <- err
		n++
	}
	return n
}
