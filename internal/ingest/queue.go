package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Delivery is one webhook payload waiting to be ingested. The webhook handler
// answers 200 only after the delivery is durably queued; the consumer worker
// drains the queue into the Processor.
type Delivery struct {
	SnapshotID string            `json:"snapshot_id,omitempty"`
	RequestID  *uuid.UUID        `json:"request_id,omitempty"`
	Items      []json.RawMessage `json:"items"`
	Attempts   int               `json:"attempts"`
	ReceivedAt time.Time         `json:"received_at"`
}

// Ref returns the correlation reference for this delivery.
func (d *Delivery) Ref() ResultRef {
	return ResultRef{SnapshotID: d.SnapshotID, RequestID: d.RequestID}
}

// Queue is a Redis-backed FIFO of webhook deliveries.
type Queue struct {
	client *redis.Client
	key    string
}

// NewQueue creates a Queue on the given Redis list key.
func NewQueue(client *redis.Client, key string) *Queue {
	return &Queue{client: client, key: key}
}

// Enqueue appends a delivery. Returning nil means the payload is durable and
// the webhook may acknowledge.
func (q *Queue) Enqueue(ctx context.Context, d *Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue delivery: %w", err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next delivery. A nil delivery with nil
// error means the timeout elapsed with an empty queue.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	values, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue delivery: %w", err)
	}
	// BRPOP returns [key, value].
	if len(values) != 2 {
		return nil, fmt.Errorf("dequeue delivery: unexpected reply length %d", len(values))
	}

	var d Delivery
	if err := json.Unmarshal([]byte(values[1]), &d); err != nil {
		return nil, fmt.Errorf("unmarshal delivery: %w", err)
	}
	return &d, nil
}

// Requeue pushes a delivery back after a processing failure, bumping its
// attempt count.
func (q *Queue) Requeue(ctx context.Context, d *Delivery) error {
	d.Attempts++
	return q.Enqueue(ctx, d)
}

// Len reports the number of queued deliveries.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}
