// Package event defines the Event type produced by the replication
// reader and consumed by the publisher.
package event

import "github.com/giuliano-altobelli/cdc-pipeline/internal/lsn"

// EventOverheadBytes is added to a payload's length to produce its
// accounted Size, so in-flight queue accounting does not under-count
// the real per-record memory and downstream bookkeeping cost.
const EventOverheadBytes = 64

// Event is a single decoded row mutation in flight between the
// replication reader and the publisher.
type Event struct {
	// AckID is assigned by the ack tracker at registration: dense,
	// strictly increasing, starting from 1 within a process lifetime.
	AckID uint64

	// LSN is the wal_start field of the originating frame. Not required
	// to be monotonic across successive frames.
	LSN lsn.LSN

	// Payload is the opaque decoded plugin output.
	Payload []byte

	// PartitionKey is derived per the configured partition-key policy.
	PartitionKey string

	// Size is the accounted byte size for queue admission.
	Size int
}

// NewSize computes the accounted size for a payload of the given length.
func NewSize(payloadLen int) int {
	return payloadLen + EventOverheadBytes
}
