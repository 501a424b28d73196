package queue

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultMaxRetries is how many times a failed job is retried before it is dropped.
const DefaultMaxRetries = 3

// Queue interface
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
}

// InMemoryQueue delivers jobs to subscribers in-process with retry
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]func(payload any) error
	wg       sync.WaitGroup

	// Backoff is multiplied by the attempt number between retries.
	Backoff time.Duration
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		handlers: make(map[string][]func(payload any) error),
		Backoff:  500 * time.Millisecond,
	}
}

// JobPayload wraps a message payload with retry info
type JobPayload struct {
	Topic      string
	Payload    any
	RetryCount int
	MaxRetries int
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	job := JobPayload{
		Topic:      topic,
		Payload:    payload,
		RetryCount: 0,
		MaxRetries: DefaultMaxRetries,
	}

	for _, handler := range handlers {
		q.wg.Add(1)
		go q.processJob(handler, job)
	}

	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(handler func(payload any) error, job JobPayload) {
	defer q.wg.Done()

	for job.RetryCount <= job.MaxRetries {
		err := handler(job.Payload)
		if err == nil {
			slog.Debug("job processed", "topic", job.Topic, "attempt", job.RetryCount+1)
			return // ACK
		}

		job.RetryCount++
		slog.Warn("job failed", "topic", job.Topic, "attempt", job.RetryCount, "max_retries", job.MaxRetries, "error", err)

		if job.RetryCount > job.MaxRetries {
			slog.Error("job permanently failed", "topic", job.Topic, "attempts", job.RetryCount)
			return // No requeue
		}

		time.Sleep(time.Duration(job.RetryCount) * q.Backoff)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every published job has been acked or dropped.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}

var _ Queue = (*InMemoryQueue)(nil)
