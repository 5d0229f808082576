package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giuliano-altobelli/cdc-pipeline/internal/cdcerr"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/event"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/queue"
)

func mkEvent(size int) *event.Event {
	return &event.Event{Size: size}
}

// TestBackpressure is scenario S5: max_messages=2, max_bytes=1024,
// three 500-byte events with no consumer: the first two Put calls
// complete, the third blocks until a TaskDone frees a slot.
func TestBackpressure(t *testing.T) {
	q := queue.New(2, 1024)
	ctx := context.Background()

	require.NoError(t, q.Put(ctx, mkEvent(500)))
	require.NoError(t, q.Put(ctx, mkEvent(500)))

	putDone := make(chan error, 1)
	go func() {
		putDone <- q.Put(ctx, mkEvent(500))
	}()

	select {
	case <-putDone:
		t.Fatal("third Put should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	ev, err := q.Get(ctx)
	require.NoError(t, err)
	q.TaskDone(ev)

	select {
	case err := <-putDone:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("third Put should have completed after TaskDone")
	}
}

func TestAccountingInvariant(t *testing.T) {
	q := queue.New(10, 10_000)
	ctx := context.Background()

	var puts, taskDones int
	sizes := []int{100, 200, 50}
	for _, s := range sizes {
		require.NoError(t, q.Put(ctx, mkEvent(s)))
		puts++
	}

	assert.Equal(t, puts, q.Len())
	assert.Equal(t, 350, q.Bytes())

	ev, err := q.Get(ctx)
	require.NoError(t, err)
	q.TaskDone(ev)
	taskDones++

	assert.Equal(t, puts-taskDones, q.Len())
	assert.Equal(t, 250, q.Bytes())
	assert.LessOrEqual(t, q.Len(), 10)
	assert.LessOrEqual(t, q.Bytes(), 10_000)
}

func TestPutRespectsCancellation(t *testing.T) {
	q := queue.New(1, 1024)
	ctx := context.Background()
	require.NoError(t, q.Put(ctx, mkEvent(1)))

	cancelCtx, cancel := context.WithCancel(ctx)
	cancel()

	err := q.Put(cancelCtx, mkEvent(1))
	assert.ErrorIs(t, err, context.Canceled)
	// cancellation must not leak accounting.
	assert.Equal(t, 1, q.Len())
}

func TestCloseDrainsThenClosed(t *testing.T) {
	q := queue.New(4, 4096)
	ctx := context.Background()

	require.NoError(t, q.Put(ctx, mkEvent(1)))
	q.Close()

	err := q.Put(ctx, mkEvent(1))
	var closedErr *cdcerr.QueueClosedError
	assert.ErrorAs(t, err, &closedErr)

	ev, err := q.Get(ctx)
	require.NoError(t, err, "drains the one buffered event first")
	q.TaskDone(ev)

	_, err = q.Get(ctx)
	assert.ErrorAs(t, err, &closedErr)
}

func TestGetBlocksThenUnblocksOnClose(t *testing.T) {
	q := queue.New(1, 1024)
	ctx := context.Background()

	getDone := make(chan error, 1)
	go func() {
		_, err := q.Get(ctx)
		getDone <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-getDone:
		var closedErr *cdcerr.QueueClosedError
		assert.ErrorAs(t, err, &closedErr)
	case <-time.After(time.Second):
		t.Fatal("Get should unblock after Close")
	}
}
