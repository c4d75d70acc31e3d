package out

import (
	"context"

	"walktrack/internal/tracking/domain"
)

// SessionRegistry resolves a tracking session to its status.
// Returns domain.ErrSessionNotFound for unknown ids.
type SessionRegistry interface {
	GetSession(ctx context.Context, sessionID string) (*domain.TrackingSession, error)
}
