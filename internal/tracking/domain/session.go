package domain

import "time"

// SessionStatus is owned by the booking service; tracking only reads it.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// Terminal reports whether no further pings should be broadcast.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

func (s SessionStatus) Valid() bool {
	switch s {
	case SessionPending, SessionActive, SessionPaused, SessionCompleted, SessionCancelled:
		return true
	}
	return false
}

// TrackingSession is a walk as seen by the session registry.
type TrackingSession struct {
	ID        string        `json:"id"`
	Status    SessionStatus `json:"status"`
	WalkerID  string        `json:"walker_id,omitempty"`
	OwnerID   string        `json:"owner_id,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}
