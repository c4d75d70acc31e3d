package in

import (
	"context"
	"time"

	"walktrack/internal/tracking/domain"
)

// LocationHistoryInput; Limit <= 0 selects the default page size.
type LocationHistoryInput struct {
	SessionID string
	Start     time.Time
	End       time.Time
	Limit     int
}

type LocationHistoryOutput struct {
	Locations []domain.Location `json:"locations"`
	Count     int               `json:"count"`
	Truncated bool              `json:"truncated"`
}

// LocationHistoryUseCase answers time-ranged history queries.
type LocationHistoryUseCase interface {
	Execute(ctx context.Context, input LocationHistoryInput) (*LocationHistoryOutput, error)
}
