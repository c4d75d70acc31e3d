package memory

import (
	"context"
	"time"

	"walktrack/internal/tracking/domain"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// SessionRegistry is an in-process registry of walk sessions.
type SessionRegistry struct {
	sessions cmap.ConcurrentMap[string, domain.TrackingSession]
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: cmap.New[domain.TrackingSession]()}
}

func (r *SessionRegistry) GetSession(_ context.Context, sessionID string) (*domain.TrackingSession, error) {
	s, ok := r.sessions.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return &s, nil
}

// Put inserts or replaces a session.
func (r *SessionRegistry) Put(s domain.TrackingSession) {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	r.sessions.Set(s.ID, s)
}

// SetStatus changes the status of a known session. Unknown ids are created.
func (r *SessionRegistry) SetStatus(sessionID string, status domain.SessionStatus) {
	r.sessions.Upsert(sessionID, domain.TrackingSession{ID: sessionID, Status: status},
		func(exist bool, current, fresh domain.TrackingSession) domain.TrackingSession {
			if !exist {
				fresh.UpdatedAt = time.Now().UTC()
				return fresh
			}
			current.Status = fresh.Status
			current.UpdatedAt = time.Now().UTC()
			return current
		})
}
