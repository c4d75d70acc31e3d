package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"walktrack/internal/shared/logger"
	in "walktrack/internal/tracking/application/ports/in"
	"walktrack/internal/tracking/domain"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

type trackFixture struct {
	repo     *mockLocationRepo
	sessions *mockSessionRegistry
	hub      *spyBroadcaster
	pub      *mockPublisher
	uc       in.TrackLocationUseCase
}

func newTrackFixture() *trackFixture {
	f := &trackFixture{
		repo:     new(mockLocationRepo),
		sessions: new(mockSessionRegistry),
		hub:      new(spyBroadcaster),
		pub:      new(mockPublisher),
	}
	f.uc = NewTrackLocationUseCase(f.repo, f.sessions, f.hub, f.pub,
		testclock.NewClock(testNow), 2*time.Minute, logger.NewNop())
	return f
}

func TestTrackLocation_PersistsThenBroadcasts(t *testing.T) {
	f := newTrackFixture()
	ctx := context.Background()

	f.sessions.On("GetSession", ctx, "S1").Return(&domain.TrackingSession{
		ID: "S1", Status: domain.SessionActive, WalkerID: "walker-1", OwnerID: "owner-1",
	}, nil)

	var order []string
	f.repo.On("Insert", ctx, mock.AnythingOfType("*domain.Location")).
		Run(func(mock.Arguments) { order = append(order, "insert") }).
		Return(nil)
	f.hub.On("Broadcast", mock.AnythingOfType("domain.Location")).
		Run(func(mock.Arguments) { order = append(order, "broadcast") }).
		Return(nil)
	f.pub.On("PublishLocationRecorded", ctx, mock.AnythingOfType("domain.Location")).Return(nil)

	loc, err := f.uc.Execute(ctx, in.TrackLocationInput{
		SessionID: "S1",
		Latitude:  40.7128,
		Longitude: -74.0060,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"insert", "broadcast"}, order)
	assert.NotEmpty(t, loc.ID)
	assert.Equal(t, "walker-1", loc.WalkerID)
	assert.Equal(t, "owner-1", loc.OwnerID)
	assert.Equal(t, testNow, loc.RecordedAt, "missing timestamp defaults to server clock")
	assert.Equal(t, domain.SourceHTTP, loc.Source)

	broadcasted := f.hub.Calls[0].Arguments.Get(0).(domain.Location)
	assert.Equal(t, *loc, broadcasted)
	f.pub.AssertExpectations(t)
}

func TestTrackLocation_StoreFailureSkipsBroadcast(t *testing.T) {
	f := newTrackFixture()
	ctx := context.Background()

	f.sessions.On("GetSession", ctx, "S1").Return(nil, domain.ErrSessionNotFound)
	f.repo.On("Insert", ctx, mock.Anything).Return(errors.New("connection refused"))

	loc, err := f.uc.Execute(ctx, in.TrackLocationInput{SessionID: "S1", Latitude: 1, Longitude: 2})

	require.Error(t, err)
	assert.Nil(t, loc)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.NotErrorIs(t, err, domain.ErrValidation)
	f.hub.AssertNotCalled(t, "Broadcast", mock.Anything)
	f.pub.AssertNotCalled(t, "PublishLocationRecorded", mock.Anything, mock.Anything)
}

func TestTrackLocation_ValidationFailureTouchesNothing(t *testing.T) {
	cases := []struct {
		name  string
		input in.TrackLocationInput
		want  error
	}{
		{"latitude", in.TrackLocationInput{SessionID: "S1", Latitude: 91, Longitude: 0}, domain.ErrInvalidCoordinates},
		{"longitude", in.TrackLocationInput{SessionID: "S1", Latitude: 0, Longitude: -181}, domain.ErrInvalidCoordinates},
		{"session", in.TrackLocationInput{SessionID: "", Latitude: 0, Longitude: 0}, domain.ErrMissingSession},
		{"future", in.TrackLocationInput{SessionID: "S1", Timestamp: ptr(testNow.Add(time.Hour))}, domain.ErrInvalidTimestamp},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newTrackFixture()

			_, err := f.uc.Execute(context.Background(), tc.input)

			assert.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, err, domain.ErrValidation)
			f.repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
			f.hub.AssertNotCalled(t, "Broadcast", mock.Anything)
			f.sessions.AssertNotCalled(t, "GetSession", mock.Anything, mock.Anything)
		})
	}
}

func TestTrackLocation_ClientTimestampKept(t *testing.T) {
	f := newTrackFixture()
	ctx := context.Background()
	ts := testNow.Add(-10 * time.Minute).In(time.FixedZone("EST", -5*3600))

	f.sessions.On("GetSession", ctx, "S1").Return(nil, domain.ErrSessionNotFound)
	f.repo.On("Insert", ctx, mock.Anything).Return(nil)
	f.hub.On("Broadcast", mock.Anything).Return(nil)
	f.pub.On("PublishLocationRecorded", ctx, mock.Anything).Return(nil)

	loc, err := f.uc.Execute(ctx, in.TrackLocationInput{SessionID: "S1", Timestamp: &ts})
	require.NoError(t, err)

	assert.True(t, loc.RecordedAt.Equal(ts))
	assert.Equal(t, time.UTC, loc.RecordedAt.Location())
	assert.Equal(t, testNow, loc.ReceivedAt)
}

func TestTrackLocation_EndedSessionPersistsWithoutBroadcast(t *testing.T) {
	f := newTrackFixture()
	ctx := context.Background()

	f.sessions.On("GetSession", ctx, "S1").Return(&domain.TrackingSession{ID: "S1", Status: domain.SessionCompleted}, nil)
	f.repo.On("Insert", ctx, mock.Anything).Return(nil)
	f.hub.On("EndSession", "S1").Return()

	loc, err := f.uc.Execute(ctx, in.TrackLocationInput{SessionID: "S1", Latitude: 5, Longitude: 5})

	require.NoError(t, err)
	assert.NotNil(t, loc)
	f.hub.AssertCalled(t, "EndSession", "S1")
	f.hub.AssertNotCalled(t, "Broadcast", mock.Anything)
}

func TestTrackLocation_DeliveryErrorsAreSwallowed(t *testing.T) {
	f := newTrackFixture()
	ctx := context.Background()

	f.sessions.On("GetSession", ctx, "S1").Return(nil, errors.New("registry down"))
	f.repo.On("Insert", ctx, mock.Anything).Return(nil)
	f.hub.On("Broadcast", mock.Anything).Return(errors.New("hub closed"))
	f.pub.On("PublishLocationRecorded", ctx, mock.Anything).Return(errors.New("channel closed"))

	loc, err := f.uc.Execute(ctx, in.TrackLocationInput{SessionID: "S1", Latitude: 5, Longitude: 5})

	require.NoError(t, err)
	assert.NotNil(t, loc)
	f.hub.AssertNumberOfCalls(t, "Broadcast", 1)
}

func ptr[T any](v T) *T { return &v }
