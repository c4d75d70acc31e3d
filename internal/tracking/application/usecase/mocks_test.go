package usecase

import (
	"context"
	"time"

	"walktrack/internal/tracking/domain"

	"github.com/stretchr/testify/mock"
)

type mockLocationRepo struct {
	mock.Mock
}

func (m *mockLocationRepo) Insert(ctx context.Context, loc *domain.Location) error {
	args := m.Called(ctx, loc)
	return args.Error(0)
}

func (m *mockLocationRepo) FindByRange(ctx context.Context, sessionID string, start, end time.Time, limit int) ([]domain.Location, error) {
	args := m.Called(ctx, sessionID, start, end, limit)
	locs, _ := args.Get(0).([]domain.Location)
	return locs, args.Error(1)
}

type mockSessionRegistry struct {
	mock.Mock
}

func (m *mockSessionRegistry) GetSession(ctx context.Context, sessionID string) (*domain.TrackingSession, error) {
	args := m.Called(ctx, sessionID)
	s, _ := args.Get(0).(*domain.TrackingSession)
	return s, args.Error(1)
}

// spyBroadcaster records what reached the hub.
type spyBroadcaster struct {
	mock.Mock
}

func (m *spyBroadcaster) Broadcast(loc domain.Location) error {
	args := m.Called(loc)
	return args.Error(0)
}

func (m *spyBroadcaster) EndSession(sessionID string) {
	m.Called(sessionID)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishLocationRecorded(ctx context.Context, loc domain.Location) error {
	args := m.Called(ctx, loc)
	return args.Error(0)
}
