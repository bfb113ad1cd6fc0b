package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends JSON messages to the fatigue topic exchange.
type Publisher struct {
	conn     *amqp.Connection
	channel  channel
	exchange string
}

// DialPublisher opens its own connection and declares the exchange.
func DialPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open publisher channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: conn, channel: ch, exchange: exchange}, nil
}

func (p *Publisher) publish(ctx context.Context, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", key, err)
	}
	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		key,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

// PublishSummary hands a finished record to the narrative service.
func (p *Publisher) PublishSummary(ctx context.Context, msg SummaryMessage) error {
	return p.publish(ctx, RoutingSummary, msg)
}

func (p *Publisher) PublishFailure(ctx context.Context, msg FailureMessage) error {
	return p.publish(ctx, RoutingFailed, msg)
}

// PublishRequest enqueues a clip for the worker pool.
func (p *Publisher) PublishRequest(ctx context.Context, req AnalysisRequest) error {
	return p.publish(ctx, RoutingAnalysis, req)
}

func (p *Publisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
