// Package acktracker tracks pending acknowledgements and advances a
// monotonic "confirmed flush" frontier over out-of-order completions.
//
// While any in-flight event with a lower LSN exists, the frontier cannot
// pass it; when all lower-LSN events are acknowledged, the frontier may
// jump forward to the next pending minimum or, if the queue drains
// entirely, to the highest registered LSN.
package acktracker

import (
	"sync"

	"github.com/giuliano-altobelli/cdc-pipeline/internal/lsn"
)

// Tracker holds the triple (frontier, last-registered, pending) and
// exposes an atomic API: Register, Complete, and the read accessors. All
// of them (construction aside) are mutually exclusive via a single mutex, per
// the "no direct field access by collaborators" rule — callers must not
// reach into Tracker's fields.
type Tracker struct {
	mu sync.Mutex

	frontier         lsn.LSN
	lastRegistered   lsn.LSN
	nextID           uint64
	pendingByAckID   map[uint64]lsn.LSN
	pendingLSNs      *sortedMultiset[lsn.LSN]
	frontierUpdateCh chan lsn.LSN
}

// New initializes a Tracker with frontier = last-registered = initial,
// an empty pending set, and next_id = 1.
//
// frontierUpdates, if non-nil, receives every new frontier value as it
// advances (a buffered channel is recommended; a full channel causes
// Complete to drop the notification rather than block, since the
// replication reader always re-reads the latest frontier on its own
// feedback-interval tick regardless).
func New(initial lsn.LSN, frontierUpdates chan lsn.LSN) *Tracker {
	return &Tracker{
		frontier:         initial,
		lastRegistered:   initial,
		nextID:           1,
		pendingByAckID:   make(map[uint64]lsn.LSN),
		pendingLSNs:      newSortedMultiset[lsn.LSN](8),
		frontierUpdateCh: frontierUpdates,
	}
}

// Register assigns a dense, strictly increasing ack_id to lsn, and
// records it as pending. It does not require lsn >= last-registered:
// wal_start values from successive frames are not required to be
// monotonic (see the replication reader's startup/restart semantics).
func (t *Tracker) Register(l lsn.LSN) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++

	t.pendingByAckID[id] = l
	t.pendingLSNs.Insert(l)

	if l > t.lastRegistered {
		t.lastRegistered = l
	}

	return id
}

// Complete removes ackID from the pending set and attempts to advance
// the frontier. It returns the new frontier and true if it advanced,
// or the zero value and false otherwise.
func (t *Tracker) Complete(ackID uint64) (lsn.LSN, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.pendingByAckID[ackID]
	if !ok {
		return 0, false
	}
	delete(t.pendingByAckID, ackID)
	t.pendingLSNs.Remove(l)

	floor := t.lastRegistered
	if t.pendingLSNs.Len() > 0 {
		floor = t.pendingLSNs.Min()
	}

	if l > floor {
		// A lower LSN is still pending (l was not the blocking
		// minimum), so it, not this completion, still bounds the
		// frontier: nothing changed.
		return 0, false
	}

	newFrontier := t.frontier
	if floor > newFrontier {
		newFrontier = floor
	}

	if newFrontier > t.frontier {
		t.frontier = newFrontier
		t.publish(newFrontier)
		return newFrontier, true
	}

	return 0, false
}

// Frontier returns the current frontier LSN, e.g. for the replication
// reader's periodic feedback tick.
func (t *Tracker) Frontier() lsn.LSN {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frontier
}

// LastRegistered returns the highest LSN ever registered (or the seed
// value, if nothing has been registered yet). StartLSN combines it with
// the frontier to compute the replication start position.
func (t *Tracker) LastRegistered() lsn.LSN {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRegistered
}

// PendingCount reports how many registered events have not yet
// completed, e.g. for tests that wait for every event to complete.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pendingByAckID)
}

// StartLSN computes max(frontier, last-registered), the position the
// reader resumes streaming from within a single process lifetime.
func (t *Tracker) StartLSN() lsn.LSN {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastRegistered > t.frontier {
		return t.lastRegistered
	}
	return t.frontier
}

func (t *Tracker) publish(l lsn.LSN) {
	if t.frontierUpdateCh == nil {
		return
	}
	select {
	case t.frontierUpdateCh <- l:
	default:
	}
}
