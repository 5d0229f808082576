// Package publisher implements the batching downstream writer: it
// pulls events from the in-flight queue, forms record/byte/delay
// bounded batches, submits them to Kinesis, and retries partial or
// full failures with exponential backoff.
//
// Batch closure (size trip vs. a timer armed on the first event of a
// batch) is the same shape as the teacher's microbatch package, though
// inverted from microbatch's push (Submit) control flow to a pull loop
// over the in-flight queue, since here the publisher is the consumer
// driving its own pace rather than a shared destination multiple
// producers submit into.
package publisher

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/giuliano-altobelli/cdc-pipeline/internal/acktracker"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/cdcerr"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/event"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/kinesisclient"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/queue"
)

// Config carries the batching and retry tunables from spec.md §4.6/§6.
type Config struct {
	BatchMaxRecords  int
	BatchMaxBytes    int
	BatchMaxDelay    time.Duration
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RetryMaxAttempts int
}

// Publisher consumes events from a queue.Queue and flushes them to a
// kinesisclient.Client in bounded batches.
type Publisher struct {
	cfg    Config
	queue  *queue.Queue
	ack    *acktracker.Tracker
	client kinesisclient.Client
	stream string
	log    zerolog.Logger
}

// New builds a Publisher.
func New(cfg Config, q *queue.Queue, ack *acktracker.Tracker, client kinesisclient.Client, stream string, log zerolog.Logger) *Publisher {
	return &Publisher{cfg: cfg, queue: q, ack: ack, client: client, stream: stream, log: log}
}

// Run consumes the queue until it closes or ctx is cancelled, flushing
// a batch at a time. A clean queue closure (once drained) ends Run
// with a nil error; cancellation returns ctx.Err(); any submission
// failure that exhausts its retry budget is returned as a fatal error.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		batch, getErr := p.nextBatch(ctx)

		if len(batch) > 0 {
			if err := p.submitBatch(ctx, batch); err != nil {
				return err
			}
		}

		if getErr != nil {
			if errors.Is(getErr, context.Canceled) {
				return ctx.Err()
			}
			var closed *cdcerr.QueueClosedError
			if errors.As(getErr, &closed) {
				return nil
			}
			return getErr
		}
	}
}

// nextBatch accumulates events until one of the three bounds trips, or
// the queue errors (closed or ctx cancelled). On a delay-bound trip it
// returns the batch gathered so far with a nil error; any other error
// is returned alongside whatever was gathered before it occurred, so
// the caller can still flush a partial batch rather than drop it.
func (p *Publisher) nextBatch(ctx context.Context) ([]*event.Event, error) {
	var batch []*event.Event
	bytes := 0
	var deadline time.Time

	for {
		getCtx := ctx
		var cancel context.CancelFunc
		if len(batch) > 0 && p.cfg.BatchMaxDelay > 0 {
			getCtx, cancel = context.WithDeadline(ctx, deadline)
		}

		ev, err := p.queue.Get(getCtx)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			if len(batch) > 0 && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return batch, nil
			}
			return batch, err
		}

		batch = append(batch, ev)
		bytes += ev.Size
		if len(batch) == 1 {
			deadline = time.Now().Add(p.cfg.BatchMaxDelay)
		}

		if p.cfg.BatchMaxRecords > 0 && len(batch) >= p.cfg.BatchMaxRecords {
			return batch, nil
		}
		if p.cfg.BatchMaxBytes > 0 && bytes >= p.cfg.BatchMaxBytes {
			return batch, nil
		}
	}
}

// submitBatch submits pending, retrying only the records a partial
// failure rejected, preserving their relative order, until all records
// succeed or the attempt budget is exhausted.
func (p *Publisher) submitBatch(ctx context.Context, pending []*event.Event) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.RetryBaseDelay
	bo.MaxInterval = p.cfg.RetryMaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.25
	bo.MaxElapsedTime = 0 // attempt count, not elapsed time, governs exhaustion

	attempt := 0
	for {
		records := make([]kinesisclient.Record, len(pending))
		for i, ev := range pending {
			records[i] = kinesisclient.Record{PartitionKey: ev.PartitionKey, Data: ev.Payload}
		}

		outcomes, err := p.client.PutRecords(p.stream, records)
		if err != nil {
			attempt++
			p.log.Warn().Err(err).Int("attempt", attempt).Msg("kinesis put records failed")
			if p.exhausted(attempt) {
				return &cdcerr.DownstreamRetryExhaustedError{Attempts: attempt, Cause: err}
			}
			if werr := p.wait(ctx, bo); werr != nil {
				return werr
			}
			continue
		}

		var failed []*event.Event
		for i, outcome := range outcomes {
			if outcome.Failed {
				failed = append(failed, pending[i])
				continue
			}
			p.ack.Complete(pending[i].AckID)
			p.queue.TaskDone(pending[i])
		}

		if len(failed) == 0 {
			return nil
		}

		attempt++
		p.log.Warn().Int("attempt", attempt).Int("failed_records", len(failed)).Msg("kinesis rejected records, retrying")
		if p.exhausted(attempt) {
			return &cdcerr.DownstreamRetryExhaustedError{Attempts: attempt}
		}
		pending = failed
		if werr := p.wait(ctx, bo); werr != nil {
			return werr
		}
	}
}

func (p *Publisher) exhausted(attempt int) bool {
	return p.cfg.RetryMaxAttempts > 0 && attempt >= p.cfg.RetryMaxAttempts
}

func (p *Publisher) wait(ctx context.Context, bo backoff.BackOff) error {
	d := bo.NextBackOff()
	if d == backoff.Stop {
		return errors.New("publisher: backoff exhausted")
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
