package delivery

import (
	"context"
	"sync"

	"github.com/cuongbtq/task-notifier/internal/delivery/domain"
)

// Entry is one unit of dispatch work. It is process-local; the durable
// state lives in the delivery log.
type Entry struct {
	JobID   string
	Payload domain.Payload
	Attempt int
}

// Queue is an unbounded FIFO. Enqueue never blocks, so it is safe to call
// from after-commit hooks and timer callbacks.
type Queue struct {
	mu     sync.Mutex
	items  []Entry
	closed bool

	signal chan struct{}
	done   chan struct{}
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Enqueue appends e. It returns false if the queue is closed.
func (q *Queue) Enqueue(e Entry) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, e)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Dequeue blocks until an entry is available. It returns false when ctx is
// done or the queue is closed and drained.
func (q *Queue) Dequeue(ctx context.Context) (Entry, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			e := q.items[0]
			q.items[0] = Entry{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return e, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return Entry{}, false
		}

		select {
		case <-q.signal:
		case <-q.done:
		case <-ctx.Done():
			return Entry{}, false
		}
	}
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further entries and wakes a blocked Dequeue.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}
