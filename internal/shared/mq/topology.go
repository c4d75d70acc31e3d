package mq

import (
	"fmt"

	"walktrack/internal/shared/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// LocationFanoutExchange relays persisted locations between tracking instances.
	LocationFanoutExchange = "location_fanout"
	// WalkTopicExchange carries walk lifecycle events from the walk service.
	WalkTopicExchange = "walk_topic"

	WalkCompletedKey = "walk.completed"
	WalkCancelledKey = "walk.cancelled"
)

// declarer is the subset of *amqp.Channel topology setup needs.
type declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// SetupTopology declares the exchanges. Queues are per instance, see
// DeclareRelayQueue and DeclareSessionEndedQueue.
func SetupTopology(mq *RabbitMQ, log *logger.Logger) error {
	ch := mq.Channel()
	if ch == nil {
		return ErrChannelUnavailable
	}
	if err := declareTopology(ch); err != nil {
		return err
	}

	log.Info(logger.Entry{
		Action:  "topology_setup_complete",
		Message: "exchanges and queues declared",
		Additional: map[string]any{
			"exchanges": []string{LocationFanoutExchange, WalkTopicExchange},
		},
	})
	return nil
}

func declareTopology(ch declarer) error {
	if err := ch.ExchangeDeclare(LocationFanoutExchange, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", LocationFanoutExchange, err)
	}
	if err := ch.ExchangeDeclare(WalkTopicExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", WalkTopicExchange, err)
	}
	return nil
}

// DeclareRelayQueue creates this instance's private queue on the location
// fanout. The broker names it and deletes it when the connection goes away.
func DeclareRelayQueue(mq *RabbitMQ) (string, error) {
	ch := mq.Channel()
	if ch == nil {
		return "", ErrChannelUnavailable
	}
	return declareRelayQueue(ch)
}

func declareRelayQueue(ch declarer) (string, error) {
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return "", fmt.Errorf("declare relay queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", LocationFanoutExchange, false, nil); err != nil {
		return "", fmt.Errorf("bind relay queue: %w", err)
	}
	return q.Name, nil
}

// DeclareSessionEndedQueue creates this instance's private queue for walk
// completions and cancellations. Every instance must see every end, since
// any of them may hold viewers of the session.
func DeclareSessionEndedQueue(mq *RabbitMQ) (string, error) {
	ch := mq.Channel()
	if ch == nil {
		return "", ErrChannelUnavailable
	}
	return declareSessionEndedQueue(ch)
}

func declareSessionEndedQueue(ch declarer) (string, error) {
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return "", fmt.Errorf("declare session-ended queue: %w", err)
	}
	for _, key := range []string{WalkCompletedKey, WalkCancelledKey} {
		if err := ch.QueueBind(q.Name, key, WalkTopicExchange, false, nil); err != nil {
			return "", fmt.Errorf("bind session-ended queue to %s: %w", key, err)
		}
	}
	return q.Name, nil
}
