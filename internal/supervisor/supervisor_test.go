package supervisor_test

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giuliano-altobelli/cdc-pipeline/internal/cdcerr"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/kinesisclient"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/leader"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/lsn"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/partitionkey"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/publisher"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/replication"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/supervisor"
)

type fakeConn struct {
	execErr error
}

func (f *fakeConn) Exec(ctx context.Context, sql string) error { return f.execErr }
func (f *fakeConn) QueryRow(ctx context.Context, sql string) ([]string, error) {
	return []string{"t"}, nil
}
func (f *fakeConn) Close(ctx context.Context) error { return nil }

type fakeStarter struct{}

func (fakeStarter) StartReplication(ctx context.Context, sql string) error { return nil }

type fakeTransport struct {
	frames [][]byte
	idx    int
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func xLogDataFrame(walStart uint64) []byte {
	buf := []byte{'w'}
	buf = appendUint64(buf, walStart)
	buf = appendUint64(buf, walStart)
	buf = appendUint64(buf, 0)
	return append(buf, []byte("{}")...)
}

func (f *fakeTransport) ReceiveCopyData(ctx context.Context) ([]byte, error) {
	if f.idx < len(f.frames) {
		d := f.frames[f.idx]
		f.idx++
		return d, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeTransport) SendCopyData(ctx context.Context, data []byte) error { return nil }

type fakeKinesis struct{}

func (fakeKinesis) PutRecords(streamName string, records []kinesisclient.Record) ([]kinesisclient.Outcome, error) {
	return make([]kinesisclient.Outcome, len(records)), nil
}

// TestRunLeaderPipelineEndsOnLeadershipLost verifies the first
// termination (here, the watchdog) cancels the reader and publisher,
// and surfaces a distinguished LeadershipLostError.
func TestRunLeaderPipelineEndsOnLeadershipLost(t *testing.T) {
	conn := &fakeConn{execErr: errors.New("connection reset")}
	session, err := leader.WaitForLeadership(context.Background(), func(ctx context.Context) (leader.Conn, error) {
		return conn, nil
	}, 1, time.Millisecond)
	require.NoError(t, err)

	transport := &fakeTransport{frames: [][]byte{xLogDataFrame(100)}}

	params := supervisor.Params{
		Session:           session,
		Transport:         transport,
		Starter:           fakeStarter{},
		SlotName:          "cdc_slot",
		InitialFrontier:   lsn.LSN(0),
		QueueMaxMessages:  8,
		QueueMaxBytes:     1 << 20,
		ReplicationConfig: replication.Config{FeedbackInterval: time.Hour},
		PublisherConfig: publisher.Config{
			BatchMaxRecords: 10,
			BatchMaxBytes:   1 << 20,
			BatchMaxDelay:   time.Hour,
			RetryBaseDelay:  time.Millisecond,
			RetryMaxDelay:   time.Millisecond,
		},
		WatchdogInterval: 5 * time.Millisecond,
		Policy:           &partitionkey.Policy{Mode: partitionkey.ModeFallback, Fallback: partitionkey.FallbackLSN},
		KinesisClient:    fakeKinesis{},
		KinesisStream:    "events",
		Log:              zerolog.Nop(),
	}

	err = supervisor.RunLeaderPipeline(context.Background(), params)

	var lost *cdcerr.LeadershipLostError
	require.ErrorAs(t, err, &lost)
	assert.EqualError(t, lost.Cause, "connection reset")
}
