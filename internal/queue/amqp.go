package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"
)

// RetryHeader counts redeliveries of a job across republishes.
const RetryHeader = "x-retry-count"

// AMQPQueue publishes JSON jobs to durable RabbitMQ queues named after the
// topic. Subscribers receive the raw message body as []byte.
type AMQPQueue struct {
	conn *amqp.Connection

	mu sync.Mutex
	ch *amqp.Channel

	MaxRetries int
}

// NewAMQPQueue dials the broker and opens a publishing channel.
func NewAMQPQueue(url string) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &AMQPQueue{conn: conn, ch: ch, MaxRetries: DefaultMaxRetries}, nil
}

func declare(ch *amqp.Channel, topic string) (amqp.Queue, error) {
	return ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
}

func (q *AMQPQueue) Publish(topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.publish(topic, body, 0)
}

func (q *AMQPQueue) publish(topic string, body []byte, retryCount int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := declare(q.ch, topic); err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	return q.ch.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{RetryHeader: int32(retryCount)},
		Body:         body,
	})
}

// Subscribe starts a consumer on its own channel. Failed jobs are acked and
// republished with an incremented retry header until MaxRetries is reached.
func (q *AMQPQueue) Subscribe(topic string, handler func(payload any) error) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	queue, err := declare(ch, topic)
	if err != nil {
		ch.Close()
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("set qos: %w", err)
	}

	msgs, err := ch.Consume(
		queue.Name,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("register consumer: %w", err)
	}

	go func() {
		defer ch.Close()
		for d := range msgs {
			q.handleDelivery(topic, d, handler)
		}
		slog.Info("consumer channel closed", "topic", topic)
	}()
	return nil
}

func (q *AMQPQueue) handleDelivery(topic string, d amqp.Delivery, handler func(payload any) error) {
	err := handler(d.Body)
	if err == nil {
		d.Ack(false)
		return
	}

	retryCount := RetryCount(d.Headers)
	if retryCount >= q.MaxRetries {
		slog.Error("job permanently failed", "topic", topic, "attempts", retryCount+1, "error", err)
		d.Ack(false)
		return
	}

	slog.Warn("job failed, requeueing", "topic", topic, "attempt", retryCount+1, "error", err)
	if perr := q.publish(topic, d.Body, retryCount+1); perr != nil {
		slog.Error("requeue failed", "topic", topic, "error", perr)
		d.Nack(false, true)
		return
	}
	d.Ack(false)
}

// RetryCount reads the retry header, tolerating the integer widths brokers use.
func RetryCount(headers amqp.Table) int {
	switch v := headers[RetryHeader].(type) {
	case int:
		return v
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ch != nil {
		q.ch.Close()
	}
	return q.conn.Close()
}

var _ Queue = (*AMQPQueue)(nil)
