package out

import (
	"context"
	"time"

	"walktrack/internal/tracking/domain"
)

// LocationRepository is the append-only location store.
// Implementations must be safe for concurrent use.
type LocationRepository interface {
	// Insert persists one record. loc.ID is assigned by the caller.
	Insert(ctx context.Context, loc *domain.Location) error

	// FindByRange returns up to limit records of the session with
	// start <= recorded_at <= end, ascending by recorded_at.
	FindByRange(ctx context.Context, sessionID string, start, end time.Time, limit int) ([]domain.Location, error)
}
