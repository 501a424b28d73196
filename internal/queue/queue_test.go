package queue

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/streadway/amqp"
)

func TestInMemoryQueue_PublishWithoutSubscribers(t *testing.T) {
	q := NewInMemoryQueue()
	if err := q.Publish("order_notifications", 1); err == nil {
		t.Fatal("expected error when nobody subscribed")
	}
}

func TestInMemoryQueue_DeliversToEverySubscriber(t *testing.T) {
	q := NewInMemoryQueue()

	var mu sync.Mutex
	var got []any
	for i := 0; i < 2; i++ {
		q.Subscribe("t", func(payload any) error {
			mu.Lock()
			got = append(got, payload)
			mu.Unlock()
			return nil
		})
	}

	if err := q.Publish("t", "hello"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	q.Wait()

	if len(got) != 2 {
		t.Fatalf("deliveries = %d, want 2", len(got))
	}
}

func TestInMemoryQueue_RetriesThenSucceeds(t *testing.T) {
	q := NewInMemoryQueue()
	q.Backoff = time.Millisecond

	var attempts int32
	q.Subscribe("t", func(payload any) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	})

	q.Publish("t", 42)
	q.Wait()

	if n := atomic.LoadInt32(&attempts); n != 3 {
		t.Errorf("attempts = %d, want 3", n)
	}
}

func TestInMemoryQueue_GivesUpAfterMaxRetries(t *testing.T) {
	q := NewInMemoryQueue()
	q.Backoff = time.Millisecond

	var attempts int32
	q.Subscribe("t", func(payload any) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("permanent")
	})

	q.Publish("t", 42)
	q.Wait()

	if n := atomic.LoadInt32(&attempts); n != DefaultMaxRetries+1 {
		t.Errorf("attempts = %d, want %d", n, DefaultMaxRetries+1)
	}
}

func TestRetryCount(t *testing.T) {
	tests := []struct {
		name    string
		headers amqp.Table
		want    int
	}{
		{"missing", amqp.Table{}, 0},
		{"nil table", nil, 0},
		{"int32", amqp.Table{RetryHeader: int32(2)}, 2},
		{"int64", amqp.Table{RetryHeader: int64(3)}, 3},
		{"int", amqp.Table{RetryHeader: 1}, 1},
		{"wrong type", amqp.Table{RetryHeader: "2"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RetryCount(tt.headers); got != tt.want {
				t.Errorf("RetryCount() = %d, want %d", got, tt.want)
			}
		})
	}
}
