// Package queue provides the thread-safe FIFO used to hand envelopes between
// application goroutines and a connection manager.
package queue

import (
	"sync"
	"time"

	"github.com/emirpasic/gods/v2/queues/linkedlistqueue"

	"github.com/lcx/tcpio/message"
)

// SafeQueue is an unbounded FIFO of envelopes. Push never blocks.
type SafeQueue struct {
	mu     sync.Mutex
	items  *linkedlistqueue.Queue[*message.Envelope]
	notify chan struct{}
}

// New creates an empty queue.
func New() *SafeQueue {
	return &SafeQueue{
		items:  linkedlistqueue.New[*message.Envelope](),
		notify: make(chan struct{}, 1),
	}
}

// Push appends an envelope. The queue takes ownership of it.
func (q *SafeQueue) Push(env *message.Envelope) {
	q.mu.Lock()
	q.items.Enqueue(env)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// TryPop removes the oldest envelope without blocking.
func (q *SafeQueue) TryPop() (*message.Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Dequeue()
}

// PopWait removes the oldest envelope, waiting at most timeout for one to arrive.
func (q *SafeQueue) PopWait(timeout time.Duration) (*message.Envelope, bool) {
	if env, ok := q.TryPop(); ok {
		return env, true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-q.notify:
			if env, ok := q.TryPop(); ok {
				// another waiter may still have something to take
				if q.Len() > 0 {
					q.wake()
				}
				return env, true
			}
		case <-timer.C:
			return q.TryPop()
		}
	}
}

func (q *SafeQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Clear drops every queued envelope.
func (q *SafeQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items.Clear()
}

// Len returns the number of queued envelopes.
func (q *SafeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Size()
}
