package queue

import (
	"sync"
	"sync/atomic"

	"github.com/Chichichkin/ddshipper/internal/logging"
)

// Queue is a FIFO of records shared by many producers and a single consumer.
// Producers only hold the mutex long enough to append.
type Queue struct {
	mu        sync.Mutex
	items     []logging.Record
	capacity  int
	policy    logging.DropPolicy
	watermark int
	closed    bool

	ready   chan struct{}
	dropped atomic.Uint64
}

// New creates a queue. capacity <= 0 makes it unbounded. Ready() is signalled
// whenever the length reaches watermark.
func New(capacity int, policy logging.DropPolicy, watermark int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	if watermark <= 0 {
		watermark = 1
	}
	// a bounded queue never holds more than capacity records
	if capacity > 0 && watermark > capacity {
		watermark = capacity
	}
	q := &Queue{
		capacity:  capacity,
		policy:    policy,
		watermark: watermark,
		ready:     make(chan struct{}, 1),
	}
	if capacity > 0 {
		q.items = make([]logging.Record, 0, capacity)
	}
	return q
}

// Enqueue appends r and reports whether a record was dropped to make that
// happen (or r itself was rejected). It never blocks on the consumer.
func (q *Queue) Enqueue(r logging.Record) (dropped bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.dropped.Add(1)
		return true
	}

	if q.capacity > 0 && len(q.items) >= q.capacity {
		if q.policy == logging.DropNewest {
			q.mu.Unlock()
			q.dropped.Add(1)
			return true
		}
		q.items[0] = logging.Record{}
		q.items = q.items[1:]
		dropped = true
	}

	q.items = append(q.items, r)
	full := len(q.items) >= q.watermark
	q.mu.Unlock()

	if dropped {
		q.dropped.Add(1)
	}
	if full {
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}
	return dropped
}

// DequeueMany removes up to n records from the head of the queue. n <= 0
// drains everything.
func (q *Queue) DequeueMany(n int) []logging.Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	if n <= 0 || n > len(q.items) {
		n = len(q.items)
	}

	out := make([]logging.Record, n)
	copy(out, q.items[:n])

	if n == len(q.items) {
		if q.capacity > 0 {
			clear(q.items)
			q.items = q.items[:0]
		} else {
			q.items = nil
		}
		return out
	}

	clear(q.items[:n])
	q.items = q.items[n:]
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Ready is signalled when the queue length reaches the watermark. A single
// signal may stand for several crossings.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Close rejects further enqueues. Buffered records stay available to
// DequeueMany.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

func (q *Queue) Capacity() int {
	return q.capacity
}
