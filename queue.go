package cascade

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// envelope holds an emission while it waits for the dispatcher. It only
// exists between enqueue and dispatch. The emit-time context rides along so
// a queued emission keeps its own values and span parent instead of
// inheriting them from whichever caller drains the queue.
type envelope struct {
	ctx        context.Context
	ev         Event
	enqueuedAt time.Time
}

// dispatchQueue is the bounded FIFO buffer used while the bus is mid-dispatch.
// When full, the incoming envelope is dropped and counted: already-queued
// emissions are favored over new ones (drop-newest).
type dispatchQueue struct {
	mu       sync.Mutex
	items    []envelope
	capacity int
	dropped  atomic.Uint64
}

func newDispatchQueue(capacity int) *dispatchQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &dispatchQueue{
		items:    make([]envelope, 0, capacity),
		capacity: capacity,
	}
}

// push appends an envelope, reporting false (and counting the drop) when the
// queue is at capacity.
func (q *dispatchQueue) push(ctx context.Context, ev Event, now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		q.dropped.Add(1)
		return false
	}
	q.items = append(q.items, envelope{ctx: ctx, ev: ev, enqueuedAt: now})
	return true
}

func (q *dispatchQueue) pop() (envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return envelope{}, false
	}
	env := q.items[0]
	q.items = q.items[1:]
	return env, true
}

func (q *dispatchQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *dispatchQueue) droppedCount() uint64 {
	return q.dropped.Load()
}
