package out_amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"walktrack/internal/shared/logger"
	"walktrack/internal/shared/mq"
	"walktrack/internal/tracking/domain"

	amqp "github.com/rabbitmq/amqp091-go"
)

// OriginHeader carries the publishing instance id so it can skip its own relay.
const OriginHeader = "x-origin"

type publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error
}

// LocationEventPublisher relays stored locations to the other instances.
type LocationEventPublisher struct {
	mq         publisher
	instanceID string
	now        func() time.Time
	log        *logger.Logger
}

func NewLocationEventPublisher(mqConn publisher, instanceID string, log *logger.Logger) *LocationEventPublisher {
	return &LocationEventPublisher{
		mq:         mqConn,
		instanceID: instanceID,
		now:        time.Now,
		log:        log,
	}
}

func (p *LocationEventPublisher) PublishLocationRecorded(ctx context.Context, loc domain.Location) error {
	payload, err := json.Marshal(domain.LocationRecorded{
		Origin:      p.instanceID,
		Location:    loc,
		PublishedAt: p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal location event: %w", err)
	}

	headers := amqp.Table{OriginHeader: p.instanceID}
	if err := p.mq.Publish(ctx, mq.LocationFanoutExchange, "", payload, headers); err != nil {
		return fmt.Errorf("publish to %s: %w", mq.LocationFanoutExchange, err)
	}

	p.log.Debug(logger.Entry{
		Action:    "location_event_published",
		Message:   loc.ID,
		SessionID: loc.SessionID,
	})
	return nil
}
