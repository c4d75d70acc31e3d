package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"walktrack/internal/shared/logger"
	in "walktrack/internal/tracking/application/ports/in"
	out "walktrack/internal/tracking/application/ports/out"
	"walktrack/internal/tracking/domain"
)

type locationHistoryUseCase struct {
	locationRepo out.LocationRepository
	defaultLimit int
	maxLimit     int
	log          *logger.Logger
}

func NewLocationHistoryUseCase(
	locationRepo out.LocationRepository,
	defaultLimit, maxLimit int,
	log *logger.Logger,
) in.LocationHistoryUseCase {
	return &locationHistoryUseCase{
		locationRepo: locationRepo,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		log:          log,
	}
}

func (uc *locationHistoryUseCase) Execute(ctx context.Context, input in.LocationHistoryInput) (*in.LocationHistoryOutput, error) {
	sessionID := strings.TrimSpace(input.SessionID)
	if sessionID == "" {
		return nil, domain.ErrMissingSession
	}

	window := domain.TimeRange{Start: input.Start.UTC(), End: input.End.UTC()}
	if err := window.Validate(); err != nil {
		return nil, err
	}

	limit := uc.clampLimit(input.Limit)

	// one extra row tells us whether the window was cut
	locs, err := uc.locationRepo.FindByRange(ctx, sessionID, window.Start, window.End, limit+1)
	if err != nil {
		uc.log.Error(logger.Entry{
			Action:    "location_history_query_failed",
			Message:   err.Error(),
			SessionID: sessionID,
			Error:     &logger.ErrObj{Msg: err.Error()},
		})
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	sort.SliceStable(locs, func(i, j int) bool {
		return locs[i].RecordedAt.Before(locs[j].RecordedAt)
	})

	truncated := len(locs) > limit
	if truncated {
		locs = locs[:limit]
	}
	if locs == nil {
		locs = []domain.Location{}
	}

	return &in.LocationHistoryOutput{
		Locations: locs,
		Count:     len(locs),
		Truncated: truncated,
	}, nil
}

func (uc *locationHistoryUseCase) clampLimit(n int) int {
	switch {
	case n <= 0:
		return uc.defaultLimit
	case n > uc.maxLimit:
		return uc.maxLimit
	default:
		return n
	}
}
