// Package memory keeps tracking state in process. Used when the storage
// driver is "memory" and by end-to-end tests.
package memory

import (
	"context"
	"sort"
	"time"

	"walktrack/internal/tracking/domain"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// LocationStore is an append-only store partitioned by session.
type LocationStore struct {
	bySession cmap.ConcurrentMap[string, []domain.Location]
}

func NewLocationStore() *LocationStore {
	return &LocationStore{bySession: cmap.New[[]domain.Location]()}
}

func (s *LocationStore) Insert(_ context.Context, loc *domain.Location) error {
	rec := *loc
	s.bySession.Upsert(rec.SessionID, nil, func(_ bool, existing, _ []domain.Location) []domain.Location {
		return append(existing, rec)
	})
	return nil
}

func (s *LocationStore) FindByRange(_ context.Context, sessionID string, start, end time.Time, limit int) ([]domain.Location, error) {
	recs, ok := s.bySession.Get(sessionID)
	if !ok {
		return []domain.Location{}, nil
	}

	out := make([]domain.Location, 0, len(recs))
	for _, r := range recs {
		if r.InRange(start, end) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of records held for sessionID.
func (s *LocationStore) Count(sessionID string) int {
	recs, _ := s.bySession.Get(sessionID)
	return len(recs)
}
