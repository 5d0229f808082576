package app_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giuliano-altobelli/cdc-pipeline/internal/app"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/config"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/kinesisclient"
)

// fakeQueryConn grants the advisory-lock try, answers the slot
// existence check with no row (a slot that needs creating) and the
// start-LSN lookup with empty columns (a slot that has never flushed),
// and counts its closes.
type fakeQueryConn struct {
	closed int32
}

func (f *fakeQueryConn) Exec(ctx context.Context, sql string) error { return nil }

func (f *fakeQueryConn) QueryRow(ctx context.Context, sql string) ([]string, error) {
	switch {
	case strings.Contains(sql, "pg_try_advisory_lock"):
		return []string{"t"}, nil
	case strings.Contains(sql, "confirmed_flush_lsn"):
		return []string{"", ""}, nil
	default:
		return nil, nil
	}
}

func (f *fakeQueryConn) Close(ctx context.Context) error {
	atomic.AddInt32(&f.closed, 1)
	return nil
}

type fakeReplConn struct {
	closed int32
}

func (f *fakeReplConn) ReceiveCopyData(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeReplConn) SendCopyData(ctx context.Context, data []byte) error { return nil }

func (f *fakeReplConn) StartReplication(ctx context.Context, sql string) error { return nil }

func (f *fakeReplConn) Close(ctx context.Context) error {
	atomic.AddInt32(&f.closed, 1)
	return nil
}

type fakeKinesis struct{}

func (fakeKinesis) PutRecords(streamName string, records []kinesisclient.Record) ([]kinesisclient.Outcome, error) {
	return make([]kinesisclient.Outcome, len(records)), nil
}

func testConfig() *config.Config {
	return &config.Config{
		PostgresConninfo:        "postgres://example",
		ReplicationSlot:         "cdc_slot",
		OutputPlugin:            "wal2json",
		LeaderLockKey:           42,
		StandbyRetryIntervalS:   0.001,
		InflightMaxMessages:     8,
		InflightMaxBytes:        1 << 20,
		KinesisStream:           "events",
		KinesisBatchMaxRecords:  10,
		KinesisBatchMaxBytes:    1 << 20,
		KinesisBatchMaxDelayMS:  3_600_000,
		KinesisRetryBaseDelayMS: 1,
		KinesisRetryMaxDelayMS:  1,
	}
}

// TestRunExitsCleanlyOnCancellation verifies the outer driver loop
// returns nil (not an error) when the context is cancelled while a
// leader cycle is in flight, per spec.md §7's "Cancelled ... not
// logged as failure".
func TestRunExitsCleanlyOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	deps := app.Deps{
		DialQuery: func(ctx context.Context) (app.QueryConn, error) {
			return &fakeQueryConn{}, nil
		},
		DialReplication: func(ctx context.Context) (app.ReplConn, error) {
			return &fakeReplConn{}, nil
		},
		Kinesis: fakeKinesis{},
		Log:     zerolog.Nop(),
	}

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx, testConfig(), deps) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

// TestRunRetriesAfterDialFailure verifies a dial failure during a
// cycle (here, the replication dial) logs and loops rather than
// returning, per spec.md §7's outer-driver retry policy, and that it
// still exits cleanly once cancelled.
func TestRunRetriesAfterDialFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts int32
	deps := app.Deps{
		DialQuery: func(ctx context.Context) (app.QueryConn, error) {
			return &fakeQueryConn{}, nil
		},
		DialReplication: func(ctx context.Context) (app.ReplConn, error) {
			n := atomic.AddInt32(&attempts, 1)
			if n <= 2 {
				return nil, errors.New("connection refused")
			}
			return &fakeReplConn{}, nil
		},
		Kinesis: fakeKinesis{},
		Log:     zerolog.Nop(),
	}

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx, testConfig(), deps) }()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&attempts) >= 3
	}, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
