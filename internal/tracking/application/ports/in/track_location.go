package in

import (
	"context"
	"time"

	"walktrack/internal/tracking/domain"
)

// TrackLocationInput is one ping. Timestamp nil means "now".
type TrackLocationInput struct {
	SessionID      string
	WalkerID       string
	Latitude       float64
	Longitude      float64
	Timestamp      *time.Time
	AccuracyMeters *float64
	SpeedKmh       *float64
	HeadingDegrees *float64
	Source         domain.Source
}

// TrackLocationUseCase validates, persists and broadcasts a ping.
type TrackLocationUseCase interface {
	Execute(ctx context.Context, input TrackLocationInput) (*domain.Location, error)
}
