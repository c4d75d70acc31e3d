package repo

import (
	"context"
	"fmt"
	"time"

	"walktrack/internal/tracking/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LocationRepository stores pings in location_pings.
type LocationRepository struct {
	db *pgxpool.Pool
}

func NewLocationRepository(db *pgxpool.Pool) *LocationRepository {
	return &LocationRepository{db: db}
}

func (r *LocationRepository) Insert(ctx context.Context, loc *domain.Location) error {
	const query = `
		INSERT INTO location_pings (
			id, session_id, walker_id, owner_id, latitude, longitude,
			accuracy_meters, speed_kmh, heading_degrees, source,
			recorded_at, received_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.Exec(ctx, query,
		loc.ID,
		loc.SessionID,
		loc.WalkerID,
		loc.OwnerID,
		loc.Latitude,
		loc.Longitude,
		loc.AccuracyMeters,
		loc.SpeedKmh,
		loc.HeadingDegrees,
		string(loc.Source),
		loc.RecordedAt,
		loc.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert location ping: %w", err)
	}
	return nil
}

func (r *LocationRepository) FindByRange(ctx context.Context, sessionID string, start, end time.Time, limit int) ([]domain.Location, error) {
	const query = `
		SELECT id, session_id, walker_id, owner_id, latitude, longitude,
		       accuracy_meters, speed_kmh, heading_degrees, source,
		       recorded_at, received_at
		FROM location_pings
		WHERE session_id = $1 AND recorded_at BETWEEN $2 AND $3
		ORDER BY recorded_at ASC, received_at ASC
		LIMIT $4
	`

	rows, err := r.db.Query(ctx, query, sessionID, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("query location pings: %w", err)
	}

	locs, err := pgx.CollectRows(rows, scanLocation)
	if err != nil {
		return nil, fmt.Errorf("scan location pings: %w", err)
	}
	return locs, nil
}

func scanLocation(row pgx.CollectableRow) (domain.Location, error) {
	var (
		loc    domain.Location
		source string
	)
	err := row.Scan(
		&loc.ID,
		&loc.SessionID,
		&loc.WalkerID,
		&loc.OwnerID,
		&loc.Latitude,
		&loc.Longitude,
		&loc.AccuracyMeters,
		&loc.SpeedKmh,
		&loc.HeadingDegrees,
		&source,
		&loc.RecordedAt,
		&loc.ReceivedAt,
	)
	loc.Source = domain.Source(source)
	loc.RecordedAt = loc.RecordedAt.UTC()
	loc.ReceivedAt = loc.ReceivedAt.UTC()
	return loc, err
}
