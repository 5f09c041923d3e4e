// Package intake is the optional RabbitMQ entry point for dispatch requests.
// The API publishes fire-and-forget batches; the worker consumes them with
// auto-ack, so a batch is processed at most once.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/donorhub/notification-engine/internal/application/dispatch"
)

// DefaultQueue is the queue name used when none is configured.
const DefaultQueue = "notifications.dispatch"

var (
	ErrBrokerClosed = errors.New("intake: broker connection closed")
	ErrEmptyBatch   = errors.New("intake: batch has no requests")
)

// Envelope is the message body on the queue.
type Envelope struct {
	Requests    []dispatch.Request `json:"requests"`
	PublishedAt time.Time          `json:"publishedAt"`
}

// ══════════════════════════════════════════════════════════════════════════════
// BROKER
// ══════════════════════════════════════════════════════════════════════════════

// Broker owns the connection and channel.
type Broker struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	mu     sync.Mutex
	closed bool
}

// Dial connects, opens a channel and declares the durable queue.
// prefetch <= 0 leaves the server default.
func Dial(url, queue string, prefetch int) (*Broker, error) {
	if queue == "" {
		queue = DefaultQueue
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("intake: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("intake: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("intake: declare queue %s: %w", queue, err)
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("intake: qos: %w", err)
		}
	}

	return &Broker{conn: conn, ch: ch, queue: queue}, nil
}

// Queue returns the declared queue name.
func (b *Broker) Queue() string {
	return b.queue
}

// Publisher returns a publisher on the broker channel.
func (b *Broker) Publisher() *Publisher {
	return NewPublisher(b.ch, b.queue)
}

// Deliveries starts an auto-ack consumer.
func (b *Broker) Deliveries(consumerTag string) (<-chan amqp.Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}
	return b.ch.Consume(b.queue, consumerTag, true, false, false, false, nil)
}

// Ping reports whether the connection is still open.
func (b *Broker) Ping() error {
	if b.conn.IsClosed() {
		return ErrBrokerClosed
	}
	return nil
}

// Close closes the channel and connection.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	_ = b.ch.Close()
	return b.conn.Close()
}

// ══════════════════════════════════════════════════════════════════════════════
// PUBLISHER
// ══════════════════════════════════════════════════════════════════════════════

// publishChannel is the subset of *amqp.Channel the publisher needs.
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher enqueues dispatch batches.
type Publisher struct {
	ch    publishChannel
	queue string
	now   func() time.Time
}

// NewPublisher publishes to queue through the default exchange.
func NewPublisher(ch publishChannel, queue string) *Publisher {
	return &Publisher{ch: ch, queue: queue, now: time.Now}
}

// Publish enqueues one batch as a single persistent message.
func (p *Publisher) Publish(ctx context.Context, reqs []dispatch.Request) error {
	if len(reqs) == 0 {
		return ErrEmptyBatch
	}

	body, err := json.Marshal(Envelope{Requests: reqs, PublishedAt: p.now().UTC()})
	if err != nil {
		return fmt.Errorf("intake: encode: %w", err)
	}

	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("intake: publish: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CONSUMER
// ══════════════════════════════════════════════════════════════════════════════

// BatchSender routes a decoded batch.
type BatchSender interface {
	SendBatch(ctx context.Context, reqs []dispatch.Request) dispatch.BatchSummary
}

// Consumer feeds queued batches to the orchestrator one at a time, so the
// chunk sequencing of a batch is never interleaved with another batch.
type Consumer struct {
	sender  BatchSender
	enabled func() bool
	logger  *slog.Logger
}

// NewConsumer creates a consumer. enabled may be nil; when it reports false
// deliveries are dropped.
func NewConsumer(sender BatchSender, enabled func() bool, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if enabled == nil {
		enabled = func() bool { return true }
	}
	return &Consumer{sender: sender, enabled: enabled, logger: logger.With("component", "amqp_consumer")}
}

// Run processes deliveries until ctx is done or the channel closes.
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	c.logger.Info("consumer started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopped")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return ErrBrokerClosed
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	if !c.enabled() {
		c.logger.Warn("intake disabled, dropping delivery", "delivery_tag", d.DeliveryTag)
		return
	}

	var env Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		c.logger.Error("dropping undecodable delivery", "delivery_tag", d.DeliveryTag, "error", err)
		return
	}
	if len(env.Requests) == 0 {
		c.logger.Warn("dropping empty batch", "delivery_tag", d.DeliveryTag)
		return
	}

	summary := c.sender.SendBatch(context.WithoutCancel(ctx), env.Requests)
	c.logger.Info("queued batch processed",
		"batch_id", summary.BatchID,
		"total", summary.Total,
		"dispatched", summary.Dispatched,
		"failed", summary.Failed,
		"queued_for", time.Since(env.PublishedAt).Round(time.Millisecond),
	)
}
