package events

import (
	"context"
	"sync"
	"time"
)

// queue is a FIFO of pending events. It is unbounded unless created with a positive
// size, in which case push blocks while the queue is full.
type queue struct {
	items []Event
	mu    sync.Mutex

	ready chan struct{} // cap 1, signalled whenever items may be non-empty
	slots chan struct{} // nil when unbounded
}

func newQueue(size int) *queue {
	q := &queue{
		items: make([]Event, 0),
		ready: make(chan struct{}, 1),
	}
	if size > 0 {
		q.slots = make(chan struct{}, size)
	}
	return q
}

func (q *queue) push(ctx context.Context, ev Event) error {
	if q.slots != nil {
		select {
		case q.slots <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()

	q.signal()
	return nil
}

// pop waits up to timeout for an event. It returns false on timeout or when quit closes.
func (q *queue) pop(timeout time.Duration, quit <-chan struct{}) (Event, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = Event{}
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()

			if q.slots != nil {
				<-q.slots
			}
			if more {
				// Wake the next idle worker
				q.signal()
			}
			return ev, true
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-timer.C:
			return Event{}, false
		case <-quit:
			return Event{}, false
		}
	}
}

func (q *queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
		// Signal already pending
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
