package queue

import "sync"

// OUQueue is the per-OU queue carrying encoded uapi.Record rows from many
// Collectors (one per tracked PID) to exactly one Processor. It is safe for
// concurrent use by multiple producers; there must be exactly one consumer,
// per spec.md section 5's single-consumer-per-Processor rule.
//
// Per spec.md section 9's "queues as message passing" design note, rows
// crossing this boundary are already-encoded opaque byte buffers, never
// structured values, to avoid cross-goroutine deserialization overhead on
// the hot path. CSV formatting happens downstream in Processor once a row
// is dequeued. Rows are leased from this package's buffer pool by Collector
// and returned by Processor; see pool.go.
//
// Per spec.md section 7, the default policy is unbounded (memory pressure
// is the bound); a positive Capacity makes TryEnqueue start rejecting rows
// once that many are buffered, so the Collector can count drops instead of
// growing memory without limit.
type OUQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	rows     [][]byte
	capacity int // 0 means unbounded
	poisoned bool
	drained  bool
}

// NewOUQueue creates a queue. capacity <= 0 means unbounded, the default
// per spec.md section 7.
func NewOUQueue(capacity int) *OUQueue {
	q := &OUQueue{capacity: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// TryEnqueue attempts to enqueue row without blocking. It returns false
// only when the queue has a configured capacity and is currently full —
// the "Queue full" case in spec.md section 7, where the Collector
// increments a per-OU drop counter and discards the record rather than
// blocking. An unbounded queue (capacity <= 0) never rejects.
func (q *OUQueue) TryEnqueue(row []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.poisoned {
		return false
	}
	if q.capacity > 0 && len(q.rows) >= q.capacity {
		return false
	}
	q.rows = append(q.rows, row)
	q.cond.Signal()
	return true
}

// Dequeue blocks until a row is available or the poison pill has been
// drained through, in which case ok is false.
func (q *OUQueue) Dequeue() (row []byte, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.rows) == 0 && !q.drained {
		q.cond.Wait()
	}
	if len(q.rows) == 0 {
		return nil, false
	}
	row = q.rows[0]
	q.rows = q.rows[1:]
	q.markDrainedIfEmpty()
	return row, true
}

// Poison marks the queue as shutting down. Rows already enqueued are still
// delivered by Dequeue; once they are drained, Dequeue reports ok=false.
// Poison must only be called after all producers (Collectors) have already
// stopped enqueueing, per spec.md section 4.5's shutdown ordering.
func (q *OUQueue) Poison() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.poisoned = true
	if len(q.rows) == 0 {
		q.drained = true
	}
	q.cond.Broadcast()
}

// Len returns the number of rows currently buffered, used for the queue
// depth gauge exposed by internal/collector's operational metrics.
func (q *OUQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.rows)
}

func (q *OUQueue) markDrainedIfEmpty() {
	if q.poisoned && len(q.rows) == 0 {
		q.drained = true
		q.cond.Broadcast()
	}
}
