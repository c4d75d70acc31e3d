package domain

import "time"

// LocationRecorded is relayed on location_fanout after a ping is stored, so
// every tracking instance can serve its own viewers of the session.
type LocationRecorded struct {
	Origin      string    `json:"origin"`
	Location    Location  `json:"location"`
	PublishedAt time.Time `json:"published_at"`
}

// WalkEnded arrives on walk_topic as walk.completed or walk.cancelled.
type WalkEnded struct {
	SessionID string        `json:"session_id"`
	Status    SessionStatus `json:"status,omitempty"`
	EndedAt   time.Time     `json:"ended_at,omitempty"`
}
