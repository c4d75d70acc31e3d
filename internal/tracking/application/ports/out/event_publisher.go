package out

import (
	"context"

	"walktrack/internal/tracking/domain"
)

// EventPublisher relays persisted locations to other tracking instances.
type EventPublisher interface {
	PublishLocationRecorded(ctx context.Context, loc domain.Location) error
}

// NoopPublisher is used when messaging is disabled.
type NoopPublisher struct{}

func (NoopPublisher) PublishLocationRecorded(context.Context, domain.Location) error { return nil }
