// Package memory provides the in-process bounded job queue used between producer and consumers.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/realtime-job-indexer/internal/crawler"
)

// Unbounded is the capacity value meaning no limit. Any capacity <= 0 behaves the same.
const Unbounded = -1

// ErrTaskDoneUnderflow is returned when TaskDone is called more times than items were enqueued.
var ErrTaskDoneUnderflow = errors.New("task done called more times than items enqueued")

// Queue is a bounded FIFO with per-item acknowledgement and drain detection.
// Put blocks while the buffer holds capacity items; Join blocks until every
// enqueued item has been acknowledged with TaskDone.
type Queue struct {
	mu          sync.Mutex
	items       []crawler.JobRecord
	capacity    int
	outstanding int
	enqueued    int64
	acked       int64
	// changed is closed and replaced on every state transition so waiters can re-check.
	changed chan struct{}
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = Unbounded
	}
	return &Queue{
		capacity: capacity,
		changed:  make(chan struct{}),
	}
}

// Put appends a record, waiting while the queue is full or until the context ends.
func (q *Queue) Put(ctx context.Context, record crawler.JobRecord) error {
	for {
		q.mu.Lock()
		if q.capacity == Unbounded || len(q.items) < q.capacity {
			q.items = append(q.items, record)
			q.outstanding++
			q.enqueued++
			q.broadcastLocked()
			q.mu.Unlock()
			return nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("enqueue canceled: %w", ctx.Err())
		case <-wait:
		}
	}
}

// Get removes the oldest record, waiting while the queue is empty or until the context ends.
func (q *Queue) Get(ctx context.Context) (crawler.JobRecord, error) {
	for {
		if err := ctx.Err(); err != nil {
			return crawler.JobRecord{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		q.mu.Lock()
		if len(q.items) > 0 {
			record := q.items[0]
			q.items[0] = crawler.JobRecord{}
			q.items = q.items[1:]
			q.broadcastLocked()
			q.mu.Unlock()
			return record, nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return crawler.JobRecord{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-wait:
		}
	}
}

// TaskDone acknowledges one previously dequeued record.
func (q *Queue) TaskDone() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.outstanding == 0 {
		return ErrTaskDoneUnderflow
	}
	q.outstanding--
	q.acked++
	q.broadcastLocked()
	return nil
}

// Join blocks until every enqueued record has been acknowledged or the context ends.
func (q *Queue) Join(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.outstanding == 0 {
			q.mu.Unlock()
			return nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("join canceled: %w", ctx.Err())
		case <-wait:
		}
	}
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Capacity    int   `json:"capacity"`
	Buffered    int   `json:"buffered"`
	Outstanding int   `json:"outstanding"`
	Enqueued    int64 `json:"enqueued"`
	Acked       int64 `json:"acked"`
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Capacity:    q.capacity,
		Buffered:    len(q.items),
		Outstanding: q.outstanding,
		Enqueued:    q.enqueued,
		Acked:       q.acked,
	}
}

// Len returns the number of buffered (not yet dequeued) records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
