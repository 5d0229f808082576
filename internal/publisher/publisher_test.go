package publisher_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giuliano-altobelli/cdc-pipeline/internal/acktracker"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/event"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/kinesisclient"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/lsn"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/publisher"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/queue"
)

// fakeClient replays one canned []Outcome per call, recording the
// partition keys it was asked to submit each time.
type fakeClient struct {
	mu       sync.Mutex
	calls    [][]string
	outcomes [][]kinesisclient.Outcome
	call     int
}

func (f *fakeClient) PutRecords(streamName string, records []kinesisclient.Record) ([]kinesisclient.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := make([]string, len(records))
	for i, r := range records {
		keys[i] = r.PartitionKey
	}
	f.calls = append(f.calls, keys)

	if f.call >= len(f.outcomes) {
		return make([]kinesisclient.Outcome, len(records)), nil
	}
	out := f.outcomes[f.call]
	f.call++
	return out, nil
}

// TestSubmitBatchRetriesOnlyFailedRecords is scenario S6: a batch of 5
// where records 2 and 4 fail resubmits exactly those two, in order,
// and every accepted record completes its ack exactly once.
func TestSubmitBatchRetriesOnlyFailedRecords(t *testing.T) {
	q := queue.New(10, 10_000)
	ack := acktracker.New(lsn.LSN(0), nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		l := lsn.LSN(100 + i)
		id := ack.Register(l)
		ev := &event.Event{
			AckID:        id,
			LSN:          l,
			Payload:      []byte(fmt.Sprintf("payload-%d", i)),
			PartitionKey: fmt.Sprintf("key-%d", i),
			Size:         event.NewSize(9),
		}
		require.NoError(t, q.Put(ctx, ev))
	}

	firstOutcomes := make([]kinesisclient.Outcome, 5)
	firstOutcomes[1] = kinesisclient.Outcome{Failed: true, ErrorCode: "ProvisionedThroughputExceededException"}
	firstOutcomes[3] = kinesisclient.Outcome{Failed: true, ErrorCode: "ProvisionedThroughputExceededException"}

	client := &fakeClient{outcomes: [][]kinesisclient.Outcome{firstOutcomes}}

	pub := publisher.New(publisher.Config{
		BatchMaxRecords:  5,
		BatchMaxBytes:    1 << 20,
		BatchMaxDelay:    time.Hour,
		RetryBaseDelay:   time.Millisecond,
		RetryMaxDelay:    5 * time.Millisecond,
		RetryMaxAttempts: 5,
	}, q, ack, client, "events", zerolog.Nop())

	runCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- pub.Run(runCtx) }()

	require.Eventually(t, func() bool {
		return ack.PendingCount() == 0 && q.Len() == 0
	}, time.Second, time.Millisecond, "expected all records to complete")

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Len(t, client.calls, 2, "expected exactly two PutRecords calls")
	assert.Equal(t, []string{"key-0", "key-1", "key-2", "key-3", "key-4"}, client.calls[0])
	assert.Equal(t, []string{"key-1", "key-3"}, client.calls[1])

	cancel()
	<-runDone
}

// TestSubmitBatchExhaustsRetryBudget ensures a full-call failure that
// never succeeds surfaces as a fatal, retry-exhausted error rather than
// looping forever.
func TestSubmitBatchExhaustsRetryBudget(t *testing.T) {
	q := queue.New(10, 10_000)
	ack := acktracker.New(lsn.LSN(0), nil)
	ctx := context.Background()

	id := ack.Register(lsn.LSN(1))
	ev := &event.Event{AckID: id, LSN: lsn.LSN(1), Payload: []byte("x"), PartitionKey: "k", Size: event.NewSize(1)}
	require.NoError(t, q.Put(ctx, ev))

	client := &alwaysFailClient{}
	pub := publisher.New(publisher.Config{
		BatchMaxRecords:  1,
		BatchMaxBytes:    1 << 20,
		BatchMaxDelay:    time.Hour,
		RetryBaseDelay:   time.Millisecond,
		RetryMaxDelay:    2 * time.Millisecond,
		RetryMaxAttempts: 3,
	}, q, ack, client, "events", zerolog.Nop())

	err := pub.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry exhausted")
}

type alwaysFailClient struct{}

func (alwaysFailClient) PutRecords(streamName string, records []kinesisclient.Record) ([]kinesisclient.Outcome, error) {
	return nil, fmt.Errorf("throttled")
}
