// Package amqpevents consumes task-creation events from a RabbitMQ queue and
// republishes them to an in-process events.EventEmitter.
package amqpevents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/phrazzld/dotlist-notify/internal/events"
	"github.com/phrazzld/dotlist-notify/internal/redact"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sethvargo/go-retry"
)

// consumerTag identifies this service's consumer on the broker
const consumerTag = "dotlist-notify"

// errDeliveriesClosed is returned when the broker closes the delivery stream
var errDeliveriesClosed = errors.New("delivery channel closed")

// channel is the subset of *amqp.Channel the consumer needs
type channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Config holds the broker settings.
type Config struct {
	URL      string
	Queue    string
	Prefetch int
}

// Consumer reads task-created messages and emits them as events. Every
// message is acknowledged after its handlers ran, whatever the outcome;
// malformed messages are rejected without requeue.
type Consumer struct {
	queue    string
	prefetch int
	emitter  events.EventEmitter
	logger   *slog.Logger
	open     func(ctx context.Context) (channel, io.Closer, error)

	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewConsumer creates a Consumer for cfg.
func NewConsumer(cfg Config, emitter events.EventEmitter, logger *slog.Logger) *Consumer {
	if emitter == nil {
		panic("emitter cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 10
	}

	url := cfg.URL
	return &Consumer{
		queue:    cfg.Queue,
		prefetch: prefetch,
		emitter:  emitter,
		logger:   logger.With(slog.String("component", "amqp_consumer"), slog.String("queue", cfg.Queue)),
		open: func(ctx context.Context) (channel, io.Closer, error) {
			conn, err := amqp.Dial(url)
			if err != nil {
				return nil, nil, err
			}
			ch, err := conn.Channel()
			if err != nil {
				_ = conn.Close()
				return nil, nil, err
			}
			return ch, conn, nil
		},
		baseDelay: time.Second,
		maxDelay:  30 * time.Second,
	}
}

// Run consumes until ctx is cancelled, reconnecting with backoff when the
// broker connection is lost.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("starting amqp consumer")

	for {
		err := c.consumeWithRetry(ctx)
		if ctx.Err() != nil {
			c.logger.Info("amqp consumer stopped")
			return nil
		}
		if err != nil && !errors.Is(err, errDeliveriesClosed) {
			return err
		}
		c.logger.Warn("amqp delivery stream closed, reconnecting")
	}
}

// consumeWithRetry opens a channel (retrying with backoff) and consumes from it
func (c *Consumer) consumeWithRetry(ctx context.Context) error {
	backoff := retry.WithCappedDuration(c.maxDelay, retry.NewExponential(c.baseDelay))

	var (
		ch         channel
		closer     io.Closer
		deliveries <-chan amqp.Delivery
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		ch, closer, deliveries, err = c.subscribe(ctx)
		if err != nil {
			c.logger.Warn("failed to subscribe", slog.String("error", redact.Error(err)))
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.queue, err)
	}
	defer func() {
		_ = ch.Close()
		_ = closer.Close()
	}()

	c.logger.Info("consuming task created events")
	return c.consume(ctx, deliveries)
}

// subscribe opens a channel, declares the queue and starts consuming
func (c *Consumer) subscribe(ctx context.Context) (channel, io.Closer, <-chan amqp.Delivery, error) {
	ch, closer, err := c.open(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	fail := func(err error) (channel, io.Closer, <-chan amqp.Delivery, error) {
		_ = ch.Close()
		_ = closer.Close()
		return nil, nil, nil, err
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fail(fmt.Errorf("qos: %w", err))
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fail(fmt.Errorf("queue declare: %w", err))
	}
	deliveries, err := ch.ConsumeWithContext(ctx, c.queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fail(fmt.Errorf("consume: %w", err))
	}
	return ch, closer, deliveries, nil
}

// consume handles deliveries until the stream closes or ctx ends
func (c *Consumer) consume(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			c.handle(ctx, d)
		}
	}
}

// handle emits one delivery and settles it
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	event, err := events.ParseTaskCreated(d.Body, events.SourceAMQP)
	if err != nil {
		c.logger.Warn("rejecting malformed message",
			slog.String("message_id", d.MessageId),
			slog.String("error", err.Error()))
		if nackErr := d.Nack(false, false); nackErr != nil {
			c.logger.Error("failed to reject message", slog.String("error", nackErr.Error()))
		}
		return
	}

	if err := c.emitter.EmitEvent(ctx, event); err != nil {
		c.logger.Error("failed to handle task created event",
			slog.String("task_id", event.TaskID.String()),
			slog.String("error", redact.Error(err)))
	}

	if err := d.Ack(false); err != nil {
		c.logger.Error("failed to ack message", slog.String("error", err.Error()))
	}
}
