package out

import "walktrack/internal/tracking/domain"

// LocationBroadcaster delivers a persisted location to live viewers.
// Broadcast must not block; errors are informational.
type LocationBroadcaster interface {
	Broadcast(loc domain.Location) error
	EndSession(sessionID string)
}
