package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	amqplib "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/jae464/vibe-judge/internal/domain"
	"github.com/jae464/vibe-judge/internal/queue"
)

const (
	// Reconnection parameters
	maxReconnectDelay  = 30 * time.Second
	baseReconnectDelay = 1 * time.Second
)

// Consumer listens to RabbitMQ and dispatches SubmissionMessage (with ACK callbacks) to a channel.
type Consumer struct {
	url      string
	prefetch int
	conn     *amqplib.Connection
	channel  *amqplib.Channel
	logger   *zap.Logger
	subs     chan<- *domain.SubmissionMessage

	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}
}

// NewConsumer creates a new RabbitMQ consumer. Deliveries are not auto-acked:
// each one is wrapped in a SubmissionMessage whose Ack/Nack the worker pool
// calls once judging completes.
func NewConsumer(url string, prefetch int, subs chan<- *domain.SubmissionMessage, logger *zap.Logger) (*Consumer, error) {
	if prefetch <= 0 {
		prefetch = 1
	}
	c := &Consumer{
		url:      url,
		prefetch: prefetch,
		logger:   logger,
		subs:     subs,
		closeCh:  make(chan struct{}),
	}

	if err := c.connect(); err != nil {
		return nil, err
	}

	return c, nil
}

// connect establishes the AMQP connection and channel, bounding unacked
// deliveries to the worker pool size.
func (c *Consumer) connect() error {
	conn, err := amqplib.Dial(c.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp qos: %w", err)
	}

	if err := queue.Declare(ch); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()

	return nil
}

// Start begins consuming messages. It blocks until the context is cancelled.
// On connection loss it automatically reconnects with exponential backoff.
func (c *Consumer) Start(ctx context.Context) error {
	for {
		err := c.consume(ctx)
		if err == nil {
			// Context was cancelled: clean shutdown.
			return nil
		}

		// Check if we were explicitly closed.
		select {
		case <-c.closeCh:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		c.logger.Warn("AMQP consumer lost connection, reconnecting...", zap.Error(err))

		// Exponential backoff reconnection loop.
		for attempt := 0; ; attempt++ {
			select {
			case <-c.closeCh:
				return nil
			case <-ctx.Done():
				return nil
			default:
			}

			delay := time.Duration(math.Min(
				float64(baseReconnectDelay)*math.Pow(2, float64(attempt)),
				float64(maxReconnectDelay),
			))
			c.logger.Info("Reconnect attempt",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
			)
			select {
			case <-time.After(delay):
			case <-c.closeCh:
				return nil
			case <-ctx.Done():
				return nil
			}

			if err := c.connect(); err != nil {
				c.logger.Error("Reconnect failed", zap.Error(err))
				continue
			}

			c.logger.Info("Reconnected to RabbitMQ")
			break
		}
	}
}

// consume runs one consume session until the delivery channel closes or ctx is cancelled.
func (c *Consumer) consume(ctx context.Context) error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()

	if ch == nil {
		return fmt.Errorf("channel is nil")
	}

	deliveries, err := ch.Consume(
		queue.JudgeQueue,
		"",    // auto-generated consumer tag
		false, // auto-ack disabled (manual ack)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("amqp consume: %w", err)
	}

	c.logger.Info("AMQP consumer started", zap.String("queue", queue.JudgeQueue))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("AMQP consumer stopping (context cancelled)")
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			sub, err := decodeSubmission(delivery.Body)
			if err != nil {
				c.logger.Error("Failed to decode submission",
					zap.Error(err),
					zap.Int("body_size", len(delivery.Body)),
				)
				delivery.Nack(false, false) // reject to DLQ
				continue
			}

			c.logger.Debug("Received submission from queue",
				zap.String("submission_id", sub.ID.String()),
				zap.String("language", sub.Language),
			)

			// Create a local copy of the delivery tag so the closures are safe.
			tag := delivery.DeliveryTag
			localCh := ch

			msg := &domain.SubmissionMessage{
				Submission: sub,
				Ack: func() error {
					return localCh.Ack(tag, false)
				},
				Nack: func(requeue bool) error {
					return localCh.Nack(tag, false, requeue)
				},
			}

			// Blocks while every worker is busy; prefetch bounds what the broker hands us meanwhile.
			select {
			case c.subs <- msg:
			case <-ctx.Done():
				// Shutting down: nack so the message is requeued.
				delivery.Nack(false, true)
				return nil
			}
		}
	}
}

// Close gracefully shuts down the consumer.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closeCh)

	var firstErr error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			firstErr = err
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// decodeSubmission parses a queued submission. Messages without an id are rejected.
func decodeSubmission(body []byte) (*domain.Submission, error) {
	var sub domain.Submission
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, fmt.Errorf("unmarshal submission: %w", err)
	}
	if sub.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing submission_id", domain.ErrInvalidSubmission)
	}
	return &sub, nil
}
