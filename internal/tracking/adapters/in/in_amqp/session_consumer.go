package in_amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"walktrack/internal/shared/logger"
	"walktrack/internal/shared/mq"
	"walktrack/internal/tracking/domain"

	amqp "github.com/rabbitmq/amqp091-go"
)

// SessionEnder stops live delivery for a session.
type SessionEnder interface {
	EndSession(sessionID string)
}

// WalkEndedConsumer disconnects viewers when the walk service reports a
// walk as completed or cancelled.
type WalkEndedConsumer struct {
	mqConn     *mq.RabbitMQ
	hub        SessionEnder
	instanceID string
	log        *logger.Logger
}

func NewWalkEndedConsumer(mqConn *mq.RabbitMQ, hub SessionEnder, instanceID string, log *logger.Logger) *WalkEndedConsumer {
	return &WalkEndedConsumer{
		mqConn:     mqConn,
		hub:        hub,
		instanceID: instanceID,
		log:        log,
	}
}

func (c *WalkEndedConsumer) Start(ctx context.Context) error {
	queue, err := mq.DeclareSessionEndedQueue(c.mqConn)
	if err != nil {
		return err
	}
	return c.mqConn.Consume(ctx, queue, "tracking-walk-ended-"+c.instanceID, c.handle)
}

func (c *WalkEndedConsumer) handle(_ context.Context, d amqp.Delivery) error {
	var evt domain.WalkEnded
	if err := json.Unmarshal(d.Body, &evt); err != nil {
		return fmt.Errorf("decode walk event: %w", err)
	}

	evt.SessionID = strings.TrimSpace(evt.SessionID)
	if evt.SessionID == "" {
		return domain.ErrMissingSession
	}
	if evt.Status == "" {
		evt.Status = statusForKey(d.RoutingKey)
	}
	if !evt.Status.Terminal() {
		c.log.Debug(logger.Entry{
			Action:    "walk_event_ignored",
			Message:   "status is not terminal",
			SessionID: evt.SessionID,
			Additional: map[string]any{
				"status":      string(evt.Status),
				"routing_key": d.RoutingKey,
			},
		})
		return nil
	}

	c.hub.EndSession(evt.SessionID)

	c.log.Info(logger.Entry{
		Action:    "walk_ended_received",
		Message:   string(evt.Status),
		SessionID: evt.SessionID,
	})
	return nil
}

func statusForKey(key string) domain.SessionStatus {
	switch key {
	case mq.WalkCompletedKey:
		return domain.SessionCompleted
	case mq.WalkCancelledKey:
		return domain.SessionCancelled
	default:
		return ""
	}
}
