package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"walktrack/internal/shared/logger"
	"walktrack/internal/shared/utils"
	in "walktrack/internal/tracking/application/ports/in"
	out "walktrack/internal/tracking/application/ports/out"
	"walktrack/internal/tracking/domain"

	"github.com/juju/clock"
)

type trackLocationUseCase struct {
	locationRepo out.LocationRepository
	sessions     out.SessionRegistry
	broadcaster  out.LocationBroadcaster
	eventPub     out.EventPublisher
	clock        clock.Clock
	maxSkew      time.Duration
	log          *logger.Logger
}

// NewTrackLocationUseCase wires ingestion. sessions and eventPub may be nil.
func NewTrackLocationUseCase(
	locationRepo out.LocationRepository,
	sessions out.SessionRegistry,
	broadcaster out.LocationBroadcaster,
	eventPub out.EventPublisher,
	clk clock.Clock,
	maxSkew time.Duration,
	log *logger.Logger,
) in.TrackLocationUseCase {
	if eventPub == nil {
		eventPub = out.NoopPublisher{}
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &trackLocationUseCase{
		locationRepo: locationRepo,
		sessions:     sessions,
		broadcaster:  broadcaster,
		eventPub:     eventPub,
		clock:        clk,
		maxSkew:      maxSkew,
		log:          log,
	}
}

// Execute persists first; live delivery only happens for records the store accepted.
func (uc *trackLocationUseCase) Execute(ctx context.Context, input in.TrackLocationInput) (*domain.Location, error) {
	now := uc.clock.Now().UTC()

	recordedAt := now
	if input.Timestamp != nil {
		recordedAt = input.Timestamp.UTC()
	}

	source := input.Source
	if source == "" {
		source = domain.SourceHTTP
	}

	loc := domain.Location{
		SessionID:      strings.TrimSpace(input.SessionID),
		WalkerID:       input.WalkerID,
		Latitude:       input.Latitude,
		Longitude:      input.Longitude,
		AccuracyMeters: input.AccuracyMeters,
		SpeedKmh:       input.SpeedKmh,
		HeadingDegrees: input.HeadingDegrees,
		Source:         source,
		RecordedAt:     recordedAt,
		ReceivedAt:     now,
	}

	if err := loc.Validate(now, uc.maxSkew); err != nil {
		uc.log.Debug(logger.Entry{
			Action:    "location_ping_rejected",
			Message:   err.Error(),
			SessionID: loc.SessionID,
			Additional: map[string]any{
				"latitude":  input.Latitude,
				"longitude": input.Longitude,
				"source":    string(source),
			},
		})
		return nil, err
	}

	session := uc.lookupSession(ctx, loc.SessionID)
	if session != nil {
		if loc.WalkerID == "" {
			loc.WalkerID = session.WalkerID
		}
		loc.OwnerID = session.OwnerID
	}

	loc.ID = utils.NewUUID()
	if err := uc.locationRepo.Insert(ctx, &loc); err != nil {
		uc.log.Error(logger.Entry{
			Action:    "location_persist_failed",
			Message:   err.Error(),
			SessionID: loc.SessionID,
			Error:     &logger.ErrObj{Msg: err.Error()},
			Additional: map[string]any{
				"location_id": loc.ID,
				"latitude":    loc.Latitude,
				"longitude":   loc.Longitude,
				"recorded_at": loc.RecordedAt.Format(time.RFC3339Nano),
			},
		})
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	if session != nil && session.Status.Terminal() {
		uc.log.Info(logger.Entry{
			Action:    "location_broadcast_skipped",
			Message:   "session already ended",
			SessionID: loc.SessionID,
			Additional: map[string]any{
				"status": string(session.Status),
			},
		})
		uc.broadcaster.EndSession(loc.SessionID)
		return &loc, nil
	}

	if err := uc.broadcaster.Broadcast(loc); err != nil {
		uc.log.Warn(logger.Entry{
			Action:    "location_broadcast_failed",
			Message:   err.Error(),
			SessionID: loc.SessionID,
			Additional: map[string]any{
				"location_id": loc.ID,
			},
		})
	}

	if err := uc.eventPub.PublishLocationRecorded(ctx, loc); err != nil {
		uc.log.Warn(logger.Entry{
			Action:    "location_relay_publish_failed",
			Message:   err.Error(),
			SessionID: loc.SessionID,
			Error:     &logger.ErrObj{Msg: err.Error()},
		})
	}

	uc.log.Debug(logger.Entry{
		Action:    "location_tracked",
		Message:   "location ping stored",
		SessionID: loc.SessionID,
		Additional: map[string]any{
			"location_id": loc.ID,
			"latitude":    loc.Latitude,
			"longitude":   loc.Longitude,
		},
	})

	return &loc, nil
}

// lookupSession returns nil when the registry is absent, does not know the
// session, or fails. In all those cases the session is presumed active.
func (uc *trackLocationUseCase) lookupSession(ctx context.Context, sessionID string) *domain.TrackingSession {
	if uc.sessions == nil {
		return nil
	}
	s, err := uc.sessions.GetSession(ctx, sessionID)
	switch {
	case err == nil:
		return s
	case errors.Is(err, domain.ErrSessionNotFound):
		uc.log.Debug(logger.Entry{
			Action:    "session_unknown",
			Message:   "session not in registry, presumed active",
			SessionID: sessionID,
		})
	default:
		uc.log.Warn(logger.Entry{
			Action:    "session_lookup_failed",
			Message:   err.Error(),
			SessionID: sessionID,
			Error:     &logger.ErrObj{Msg: err.Error()},
		})
	}
	return nil
}
