// Package replication implements the logical replication reader: it
// issues START_REPLICATION, decodes inbound frames into Events bound
// for the in-flight queue, and sends periodic StandbyStatusUpdate
// feedback derived from the ack tracker's frontier.
package replication

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/giuliano-altobelli/cdc-pipeline/internal/acktracker"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/cdcerr"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/event"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/lsn"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/partitionkey"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/protocol"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/queue"
)

// Transport is the subset of a replication-mode connection, already in
// COPY_BOTH mode, that the main loop needs. Satisfied by *pgconn.Conn.
type Transport interface {
	ReceiveCopyData(ctx context.Context) ([]byte, error)
	SendCopyData(ctx context.Context, data []byte) error
}

// Starter issues START_REPLICATION. Satisfied by *pgconn.Conn; split
// out from Transport since it's only exercised once, before the loop.
type Starter interface {
	StartReplication(ctx context.Context, sql string) error
}

// Start issues START_REPLICATION for slotName at startLSN, requiring
// the server to enter COPY_BOTH. pluginOptionsSQL is the verbatim
// parenthesized option list (e.g. `("pretty-print" 'false')`), or empty
// for none.
func Start(ctx context.Context, starter Starter, slotName string, startLSN lsn.LSN, pluginOptionsSQL string) error {
	sql := fmt.Sprintf("START_REPLICATION SLOT %s LOGICAL %s", slotName, startLSN.String())
	if pluginOptionsSQL != "" {
		sql = sql + " " + pluginOptionsSQL
	}
	return starter.StartReplication(ctx, sql)
}

// Config carries the reader's tunables, distinct from connection setup.
type Config struct {
	FeedbackInterval time.Duration
}

// Reader runs the main loop described in spec §4.5: concurrently
// decode inbound frames into Events for the queue, and emit
// StandbyStatusUpdate feedback on an interval or frontier advance.
type Reader struct {
	cfg    Config
	conn   Transport
	ack    *acktracker.Tracker
	queue  *queue.Queue
	policy *partitionkey.Policy
	log    zerolog.Logger

	frontierUpdates <-chan lsn.LSN
}

// NewReader builds a Reader. frontierUpdates is the channel the ack
// tracker was constructed with; Run selects on it to send feedback as
// soon as the frontier advances, not only on the interval tick.
func NewReader(cfg Config, conn Transport, ack *acktracker.Tracker, q *queue.Queue, policy *partitionkey.Policy, frontierUpdates <-chan lsn.LSN, log zerolog.Logger) *Reader {
	return &Reader{cfg: cfg, conn: conn, ack: ack, queue: q, policy: policy, frontierUpdates: frontierUpdates, log: log}
}

// Run executes the main loop until ctx is cancelled or a read/write/
// decode error occurs. A cancellation returns ctx.Err(); any other
// return value is a fatal error the supervisor should propagate.
func (r *Reader) Run(ctx context.Context) error {
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()

	frames := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		defer close(frames)
		for {
			data, err := r.conn.ReceiveCopyData(readCtx)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- data:
			case <-readCtx.Done():
				return
			}
		}
	}()

	interval := r.cfg.FeedbackInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			return err

		case data, ok := <-frames:
			if !ok {
				// The read goroutine buffers its error before closing
				// frames, so a closed frames channel may carry one.
				select {
				case err := <-readErr:
					if errors.Is(err, context.Canceled) {
						return ctx.Err()
					}
					return err
				default:
					return nil
				}
			}
			if err := r.handleFrame(ctx, data); err != nil {
				return err
			}

		case <-ticker.C:
			if err := r.sendFeedback(ctx); err != nil {
				return err
			}

		case <-r.frontierUpdates:
			if err := r.sendFeedback(ctx); err != nil {
				return err
			}
		}
	}
}

// handleFrame decodes one inbound frame and acts on it. Unknown tags
// are logged and skipped per spec; every other decode failure is
// fatal, since it signals framing corruption rather than a forward-
// compatible message kind.
func (r *Reader) handleFrame(ctx context.Context, data []byte) error {
	msg, err := protocol.DecodeServerMessage(data)
	if err != nil {
		var malformed *cdcerr.MalformedFrameError
		if errors.As(err, &malformed) && strings.HasPrefix(malformed.Reason, "unknown tag") {
			r.log.Warn().Str("reason", malformed.Reason).Msg("skipping unrecognized replication frame")
			return nil
		}
		return err
	}

	switch m := msg.(type) {
	case *protocol.XLogData:
		return r.handleXLogData(ctx, m)
	case *protocol.PrimaryKeepalive:
		if m.ReplyRequested {
			return r.sendFeedback(ctx)
		}
	}
	return nil
}

func (r *Reader) handleXLogData(ctx context.Context, m *protocol.XLogData) error {
	ackID := r.ack.Register(m.WALStart)

	ev := &event.Event{
		AckID:   ackID,
		LSN:     m.WALStart,
		Payload: m.Payload,
		Size:    event.NewSize(len(m.Payload)),
	}
	ev.PartitionKey = r.policy.KeyFor(ev.Payload, ev.LSN)

	return r.queue.Put(ctx, ev)
}

// sendFeedback reports confirmed-through-frontier, using "frontier+1"
// to signal "through and including frontier" per upstream semantics.
func (r *Reader) sendFeedback(ctx context.Context) error {
	confirmed := r.ack.Frontier() + 1
	upd := &protocol.StandbyStatusUpdate{
		WrittenLSN:  confirmed,
		FlushedLSN:  confirmed,
		AppliedLSN:  confirmed,
		ClientClock: time.Now(),
	}
	return r.conn.SendCopyData(ctx, upd.Encode())
}
