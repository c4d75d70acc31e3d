package in_amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"walktrack/internal/shared/logger"
	"walktrack/internal/shared/mq"
	"walktrack/internal/shared/utils"
	"walktrack/internal/tracking/adapters/out/out_amqp"
	"walktrack/internal/tracking/domain"

	amqp "github.com/rabbitmq/amqp091-go"
)

var errInvalidRelay = errors.New("location event without id or session")

// Broadcaster is the live delivery side of the hub.
type Broadcaster interface {
	Broadcast(loc domain.Location) error
}

// LocationRelayConsumer hands locations stored by other instances to the
// local hub. Nothing is persisted here; the origin already did that.
type LocationRelayConsumer struct {
	mqConn     *mq.RabbitMQ
	hub        Broadcaster
	instanceID string
	log        *logger.Logger
}

func NewLocationRelayConsumer(mqConn *mq.RabbitMQ, hub Broadcaster, instanceID string, log *logger.Logger) *LocationRelayConsumer {
	return &LocationRelayConsumer{
		mqConn:     mqConn,
		hub:        hub,
		instanceID: instanceID,
		log:        log,
	}
}

// Start declares this instance's relay queue and begins consuming.
func (c *LocationRelayConsumer) Start(ctx context.Context) error {
	queue, err := mq.DeclareRelayQueue(c.mqConn)
	if err != nil {
		return err
	}
	return c.mqConn.Consume(ctx, queue, "tracking-relay-"+c.instanceID, c.handle)
}

func (c *LocationRelayConsumer) handle(_ context.Context, d amqp.Delivery) error {
	if origin, _ := d.Headers[out_amqp.OriginHeader].(string); origin == c.instanceID {
		return nil
	}

	var evt domain.LocationRecorded
	if err := json.Unmarshal(d.Body, &evt); err != nil {
		return fmt.Errorf("decode location event: %w", err)
	}
	if evt.Origin == c.instanceID {
		return nil
	}

	loc := evt.Location
	if !utils.IsUUID(loc.ID) || loc.SessionID == "" {
		return errInvalidRelay
	}
	if err := domain.ValidateCoordinates(loc.Latitude, loc.Longitude); err != nil {
		return err
	}

	if err := c.hub.Broadcast(loc); err != nil {
		// live delivery is best effort; redelivery would not help
		c.log.Warn(logger.Entry{
			Action:    "relay_broadcast_failed",
			Message:   err.Error(),
			SessionID: loc.SessionID,
			Additional: map[string]any{
				"origin":      evt.Origin,
				"location_id": loc.ID,
			},
		})
		return nil
	}

	c.log.Debug(logger.Entry{
		Action:    "location_relayed",
		Message:   loc.ID,
		SessionID: loc.SessionID,
		Additional: map[string]any{
			"origin": evt.Origin,
		},
	})
	return nil
}
