// Package notify tells account owners when the mail provider reports a new
// status for one of their orders.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/steadyletters-backend/internal/queue"
)

// Topic is the queue carrying order-status notification jobs.
const Topic = "order_notifications"

// OrderStatusNotification is one email job.
type OrderStatusNotification struct {
	JobID      string    `json:"job_id"`
	AccountID  string    `json:"account_id"`
	Kind       string    `json:"kind"`
	RowID      int       `json:"row_id"`
	ExternalID string    `json:"external_id"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Notifier interface {
	Notify(ctx context.Context, n OrderStatusNotification) error
}

// QueueNotifier hands notifications to the queue; delivery happens in cmd/worker.
type QueueNotifier struct {
	Queue queue.Queue
	Topic string
}

func NewQueueNotifier(q queue.Queue, topic string) *QueueNotifier {
	if topic == "" {
		topic = Topic
	}
	return &QueueNotifier{Queue: q, Topic: topic}
}

func (n *QueueNotifier) Notify(ctx context.Context, note OrderStatusNotification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if note.JobID == "" {
		note.JobID = uuid.NewString()
	}
	if note.OccurredAt.IsZero() {
		note.OccurredAt = time.Now().UTC()
	}
	if err := n.Queue.Publish(n.Topic, note); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Decode accepts the payload shapes the queues deliver: raw JSON bytes from
// AMQP or the struct itself from the in-memory queue.
func Decode(payload any) (*OrderStatusNotification, error) {
	switch p := payload.(type) {
	case OrderStatusNotification:
		return &p, nil
	case *OrderStatusNotification:
		return p, nil
	case []byte:
		var n OrderStatusNotification
		if err := json.Unmarshal(p, &n); err != nil {
			return nil, fmt.Errorf("decode notification: %w", err)
		}
		return &n, nil
	}
	return nil, fmt.Errorf("unexpected notification payload %T", payload)
}

var _ Notifier = (*QueueNotifier)(nil)
