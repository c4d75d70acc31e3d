package repo

import (
	"context"
	"errors"
	"fmt"

	"walktrack/internal/tracking/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRepository reads walk_sessions, which the booking side owns.
type SessionRepository struct {
	db *pgxpool.Pool
}

func NewSessionRepository(db *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) GetSession(ctx context.Context, sessionID string) (*domain.TrackingSession, error) {
	const query = `
		SELECT id, status, walker_id, owner_id, updated_at
		FROM walk_sessions
		WHERE id = $1
	`

	var (
		s      domain.TrackingSession
		status string
	)
	err := r.db.QueryRow(ctx, query, sessionID).Scan(&s.ID, &status, &s.WalkerID, &s.OwnerID, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query walk session: %w", err)
	}

	s.Status = domain.SessionStatus(status)
	return &s, nil
}
