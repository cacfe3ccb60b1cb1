// Package queue implements the ingestion buffer between log producers and
// the background flush worker.
//
// The queue is FIFO: DrainUpTo returns the oldest records first, so a batch
// reaches the store in emission order (per producer).
//
// There is no backpressure. Push never blocks and never fails, and the queue
// grows until the process runs out of memory if producers outpace the store
// for long enough. This keeps the logging hot path free of I/O waits; callers
// that need a bound should watch Len and shed load themselves.
package queue

import (
	"sync"

	"github.com/nicktill/tinylog/pkg/record"
)

// initialCapacity is the starting buffer size; it grows as needed.
const initialCapacity = 256

// Queue is a multi-producer, single-consumer buffer of log records.
// All methods are safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	items []*record.Record
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		items: make([]*record.Record, 0, initialCapacity),
	}
}

// Push appends a record. Nil records are ignored.
func (q *Queue) Push(r *record.Record) {
	if r == nil {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()
}

// DrainUpTo removes and returns at most max records, oldest first.
// When max <= 0 every buffered record is returned. An empty queue yields nil.
func (q *Queue) DrainUpTo(max int) []*record.Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if n == 0 {
		return nil
	}
	if max > 0 && max < n {
		n = max
	}

	batch := make([]*record.Record, n)
	copy(batch, q.items[:n])

	// Shift the remainder down so the backing array is reused.
	rest := copy(q.items, q.items[n:])
	clear(q.items[rest:])
	q.items = q.items[:rest]

	return batch
}

// Len returns the number of buffered records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops every buffered record and returns how many were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	q.items = make([]*record.Record, 0, initialCapacity)
	return n
}
