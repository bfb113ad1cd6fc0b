package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const maxBackoff = 60 * time.Second

// MessageHandler processes one delivery body. Wrap an error with Permanent to drop the message.
type MessageHandler func(ctx context.Context, body []byte) error

type ConsumerConfig struct {
	URL         string
	Exchange    string
	Queue       string
	Prefetch    int
	WorkerCount int
	BaseDelay   time.Duration
}

// Consumer fans deliveries from one queue out to a fixed set of goroutines.
type Consumer struct {
	conn        *amqp.Connection
	channel     *amqp.Channel
	queue       string
	workerCount int
	baseDelay   time.Duration
	handler     MessageHandler
	logger      *zap.Logger
	wg          sync.WaitGroup
}

func NewConsumer(cfg ConsumerConfig, handler MessageHandler, logger *zap.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareTopology(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Consumer{
		conn:        conn,
		channel:     ch,
		queue:       cfg.Queue,
		workerCount: max(cfg.WorkerCount, 1),
		baseDelay:   cfg.BaseDelay,
		handler:     handler,
		logger:      logger,
	}, nil
}

func declareTopology(ch *amqp.Channel, cfg ConsumerConfig) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", cfg.Queue, err)
	}
	if err := ch.QueueBind(cfg.Queue, RoutingAnalysis, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind analysis queue: %w", err)
	}
	// Each worker holds at most this many unacked clips
	if err := ch.Qos(max(cfg.Prefetch, 1), 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	return nil
}

// Start blocks until ctx is cancelled and every worker has returned.
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.channel.ConsumeWithContext(
		ctx,
		c.queue,
		"",
		false, // autoAck=false
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	c.logger.Info("starting consumer pool",
		zap.Int("workers", c.workerCount),
		zap.String("queue", c.queue),
	)
	c.run(ctx, deliveries)
	return nil
}

func (c *Consumer) run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for i := 0; i < c.workerCount; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i, deliveries)
	}
	c.wg.Wait()
}

func (c *Consumer) worker(ctx context.Context, id int, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()
	log := c.logger.With(zap.Int("consumer_id", id))
	log.Debug("consumer started")

	for {
		select {
		case <-ctx.Done():
			log.Debug("consumer shutting down")
			return
		case d, ok := <-deliveries:
			if !ok {
				log.Info("delivery channel closed")
				return
			}
			c.processDelivery(ctx, d, log)
		}
	}
}

func (c *Consumer) processDelivery(ctx context.Context, d amqp.Delivery, log *zap.Logger) {
	err := c.handler(ctx, d.Body)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, ErrPermanent):
		log.Warn("dropping message", zap.Error(err), zap.Uint64("delivery_tag", d.DeliveryTag))
		_ = d.Nack(false, false)
	default:
		delay := c.backoff(attempt(d))
		log.Warn("message processing failed, requeueing",
			zap.Error(err),
			zap.Uint64("delivery_tag", d.DeliveryTag),
			zap.Duration("delay", delay),
		)
		select {
		case <-time.After(delay):
			_ = d.Nack(false, true)
		case <-ctx.Done():
			_ = d.Nack(false, true)
		}
	}
}

func attempt(d amqp.Delivery) int {
	if d.Redelivered {
		if deaths, ok := d.Headers["x-death"].([]interface{}); ok && len(deaths) > 0 {
			return len(deaths) + 1
		}
		return 2
	}
	return 1
}

func (c *Consumer) backoff(attempt int) time.Duration {
	delay := c.baseDelay
	for i := 1; i < attempt && delay < maxBackoff; i++ {
		delay *= 2
	}
	return min(delay, maxBackoff)
}

func (c *Consumer) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
