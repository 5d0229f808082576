// Package queue implements the bounded, dual-limit (count + bytes)
// in-flight FIFO between the replication reader and the publisher.
//
// The blocking/notify structure is grounded on the teacher's
// microbatch.batcherState, which signals waiters by closing a channel
// and replacing it with a fresh one for the next generation of waiters,
// rather than using sync.Cond (which doesn't compose with
// context.Context cancellation).
package queue

import (
	"context"
	"sync"

	"github.com/giuliano-altobelli/cdc-pipeline/internal/cdcerr"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/event"
)

// Queue is a single-producer/(single-or-multi)-consumer bounded FIFO.
// Put is intended to be called by exactly one goroutine (the
// replication reader); Get may be called by multiple worker
// goroutines provided each admitted Event's TaskDone is called exactly
// once.
type Queue struct {
	maxMessages int
	maxBytes    int

	mu     sync.Mutex
	buf    []*event.Event
	count  int
	bytes  int
	closed bool
	notify chan struct{}
}

// New creates a Queue with the given dual limits. Both must be positive.
func New(maxMessages, maxBytes int) *Queue {
	if maxMessages <= 0 || maxBytes <= 0 {
		panic("queue: maxMessages and maxBytes must be positive")
	}
	return &Queue{
		maxMessages: maxMessages,
		maxBytes:    maxBytes,
		notify:      make(chan struct{}),
	}
}

// wake closes the current notify channel (waking every blocked waiter)
// and installs a fresh one for the next generation. Must be called with
// mu held.
func (q *Queue) wake() {
	close(q.notify)
	q.notify = make(chan struct{})
}

// Put blocks until both limits admit ev, the queue is closed (returning
// *cdcerr.QueueClosedError without admitting ev), or ctx is cancelled.
// A single oversized event (larger than maxBytes) is
// still admitted alone once the queue is empty, so it can't deadlock
// forever; it will occupy the full byte budget until TaskDone.
func (q *Queue) Put(ctx context.Context, ev *event.Event) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return &cdcerr.QueueClosedError{}
		}

		fits := q.count < q.maxMessages && (q.bytes+ev.Size <= q.maxBytes || (q.count == 0 && q.bytes == 0))
		if fits {
			q.buf = append(q.buf, ev)
			q.count++
			q.bytes += ev.Size
			q.wake()
			q.mu.Unlock()
			return nil
		}

		wait := q.notify
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// Get blocks until an event is available, the queue is closed and
// drained (returning *cdcerr.QueueClosedError), or ctx is cancelled.
// The returned event remains accounted against both limits until
// TaskDone is called for it.
func (q *Queue) Get(ctx context.Context) (*event.Event, error) {
	for {
		q.mu.Lock()
		if len(q.buf) > 0 {
			ev := q.buf[0]
			q.buf = q.buf[1:]
			q.mu.Unlock()
			return ev, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, &cdcerr.QueueClosedError{}
		}

		wait := q.notify
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// TaskDone releases ev's slot and byte reservation. Must be called
// exactly once per Event returned by Get.
func (q *Queue) TaskDone(ev *event.Event) {
	q.mu.Lock()
	q.count--
	q.bytes -= ev.Size
	q.wake()
	q.mu.Unlock()
}

// Close rejects further Put calls with *cdcerr.QueueClosedError, and
// causes blocked/future Get calls to drain any buffered events before
// surfacing *cdcerr.QueueClosedError themselves.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.wake()
	}
	q.mu.Unlock()
}

// Len reports the number of events currently admitted (buffered or
// dispatched-but-not-done). Bytes reports their cumulative accounted
// size. Both are read-only diagnostics, e.g. for logging/metrics.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

func (q *Queue) Bytes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bytes
}
