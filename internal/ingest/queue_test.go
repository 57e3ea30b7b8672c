package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewQueue(client, "test:webhook:deliveries")
}

func TestQueue_EnqueueDequeue(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	in := &Delivery{
		SnapshotID: "snap_q1",
		Items:      []json.RawMessage{json.RawMessage(`{"post_id":"p1"}`)},
		ReceivedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, q.Enqueue(ctx, in))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	out, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, in.SnapshotID, out.SnapshotID)
	require.Len(t, out.Items, 1)
	assert.JSONEq(t, `{"post_id":"p1"}`, string(out.Items[0]))
}

func TestQueue_FIFOOrder(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &Delivery{SnapshotID: "first"}))
	require.NoError(t, q.Enqueue(ctx, &Delivery{SnapshotID: "second"}))

	first, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	second, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	assert.Equal(t, "first", first.SnapshotID)
	assert.Equal(t, "second", second.SnapshotID)
}

func TestQueue_RequeueBumpsAttempts(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	d := &Delivery{SnapshotID: "snap_retry"}
	require.NoError(t, q.Requeue(ctx, d))

	out, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Attempts)
}
