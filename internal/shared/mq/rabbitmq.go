package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"walktrack/internal/shared/config"
	"walktrack/internal/shared/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrChannelUnavailable = errors.New("rabbitmq channel not available")

const (
	maxConnectAttempts = 10
	maxRetryDelay      = 30 * time.Second
	publishTimeout     = 5 * time.Second
)

// Handler processes one delivery. A nil return acks it, an error
// rejects it without requeue so a poison message cannot loop.
type Handler func(ctx context.Context, d amqp.Delivery) error

// RabbitMQ is one connection with one channel.
type RabbitMQ struct {
	url    string
	conn   *amqp.Connection
	ch     *amqp.Channel
	log    *logger.Logger
	mu     sync.RWMutex
	closed bool
}

// NewRabbitMQ dials with backoff until ctx is done or attempts run out.
func NewRabbitMQ(ctx context.Context, cfg config.MQConfig, log *logger.Logger) (*RabbitMQ, error) {
	mq := &RabbitMQ{url: cfg.AMQPURL(), log: log}

	delay := time.Second
	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		err := mq.connect()
		if err == nil {
			log.Info(logger.Entry{
				Action:  "rabbitmq_connected",
				Message: fmt.Sprintf("connected to %s:%d", cfg.Host, cfg.Port),
				Additional: map[string]any{
					"attempt": attempt,
				},
			})
			return mq, nil
		}

		log.Warn(logger.Entry{
			Action:  "rabbitmq_connection_attempt_failed",
			Message: err.Error(),
			Error:   &logger.ErrObj{Msg: err.Error()},
			Additional: map[string]any{
				"attempt":      attempt,
				"max_attempts": maxConnectAttempts,
				"retry_in_sec": delay.Seconds(),
			},
		})
		if attempt == maxConnectAttempts {
			return nil, fmt.Errorf("connect rabbitmq after %d attempts: %w", maxConnectAttempts, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = nextDelay(delay)
	}

	return nil, fmt.Errorf("connect rabbitmq: retry loop exhausted")
}

func nextDelay(d time.Duration) time.Duration {
	d = d * 3 / 2
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

func (mq *RabbitMQ) connect() error {
	conn, err := amqp.Dial(mq.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Qos(32, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("set qos: %w", err)
	}

	mq.mu.Lock()
	mq.conn = conn
	mq.ch = ch
	mq.mu.Unlock()
	return nil
}

// Channel returns the active channel, nil before connect or after Close.
func (mq *RabbitMQ) Channel() *amqp.Channel {
	mq.mu.RLock()
	defer mq.mu.RUnlock()
	if mq.closed {
		return nil
	}
	return mq.ch
}

// Publish sends a transient JSON message. Live location frames are
// stale within seconds, so they are not written to disk by the broker.
func (mq *RabbitMQ) Publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error {
	ch := mq.Channel()
	if ch == nil {
		return ErrChannelUnavailable
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return ch.PublishWithContext(
		publishCtx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			Headers:      headers,
			DeliveryMode: amqp.Transient,
			Timestamp:    time.Now().UTC(),
		},
	)
}

// Consume reads queue until ctx is done or the channel closes.
func (mq *RabbitMQ) Consume(ctx context.Context, queue, consumer string, handle Handler) error {
	ch := mq.Channel()
	if ch == nil {
		return ErrChannelUnavailable
	}

	msgs, err := ch.Consume(
		queue,
		consumer,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	mq.log.Info(logger.Entry{
		Action:  "consumer_started",
		Message: queue,
		Additional: map[string]any{
			"consumer": consumer,
		},
	})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					mq.log.Info(logger.Entry{Action: "consumer_stopped", Message: queue})
					return
				}
				if err := handle(ctx, d); err != nil {
					mq.log.Warn(logger.Entry{
						Action:  "message_rejected",
						Message: err.Error(),
						Error:   &logger.ErrObj{Msg: err.Error()},
						Additional: map[string]any{
							"queue":       queue,
							"routing_key": d.RoutingKey,
						},
					})
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

// Close is idempotent.
func (mq *RabbitMQ) Close() {
	mq.mu.Lock()
	defer mq.mu.Unlock()
	if mq.closed {
		return
	}
	mq.closed = true

	if mq.ch != nil {
		_ = mq.ch.Close()
	}
	if mq.conn != nil {
		_ = mq.conn.Close()
	}
	mq.log.Info(logger.Entry{Action: "rabbitmq_closed", Message: "connection closed"})
}
