// Package cdcerr defines the typed error kinds used across the
// replication pipeline, per the propagation policy: component-internal
// retries are limited to downstream submit and leader acquisition, and
// everything else surfaces as one of these kinds to the supervisor.
package cdcerr

import "fmt"

// MalformedLSNError is returned when a text LSN fails to parse.
type MalformedLSNError struct {
	Text  string
	Cause error
}

func (e *MalformedLSNError) Error() string {
	return fmt.Sprintf("cdcerr: malformed lsn %q", e.Text)
}

func (e *MalformedLSNError) Unwrap() error { return e.Cause }

// MalformedFrameError is returned when a replication frame is shorter
// than its fixed header, or otherwise fails to decode.
type MalformedFrameError struct {
	Reason string
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("cdcerr: malformed frame: %s", e.Reason)
}

// ReplicationStartFailedError is returned when START_REPLICATION does
// not result in a COPY_BOTH response.
type ReplicationStartFailedError struct {
	Status string
	Cause  error
}

func (e *ReplicationStartFailedError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("cdcerr: replication start failed: status=%s", e.Status)
	}
	return "cdcerr: replication start failed"
}

func (e *ReplicationStartFailedError) Unwrap() error { return e.Cause }

// SlotMissingError is returned when a replication slot lookup finds no
// row for the configured slot name. Fatal: surfaces to the outer driver.
type SlotMissingError struct {
	SlotName string
}

func (e *SlotMissingError) Error() string {
	return fmt.Sprintf("cdcerr: replication slot missing: %s", e.SlotName)
}

// DownstreamRetryExhaustedError is returned when the publisher exceeds
// its configured retry attempt budget submitting a batch.
type DownstreamRetryExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *DownstreamRetryExhaustedError) Error() string {
	return fmt.Sprintf("cdcerr: downstream retry exhausted after %d attempts", e.Attempts)
}

func (e *DownstreamRetryExhaustedError) Unwrap() error { return e.Cause }

// LeadershipLostError is a distinguished condition: the watchdog
// observed loss of the advisory lock, or the leader connection died.
// The supervisor treats this as a reason to re-enter leader election
// rather than a generic fatal failure.
type LeadershipLostError struct {
	Cause error
}

func (e *LeadershipLostError) Error() string {
	return "cdcerr: leadership lost"
}

func (e *LeadershipLostError) Unwrap() error { return e.Cause }

// QueueClosedError is a cooperative shutdown signal, not a failure to
// log as an error.
type QueueClosedError struct{}

func (e *QueueClosedError) Error() string {
	return "cdcerr: queue closed"
}
