package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"walktrack/internal/shared/auth"
	"walktrack/internal/shared/config"
	"walktrack/internal/shared/logger"
	in "walktrack/internal/tracking/application/ports/in"
	"walktrack/internal/tracking/domain"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

type mockTrackUC struct{ mock.Mock }

func (m *mockTrackUC) Execute(ctx context.Context, input in.TrackLocationInput) (*domain.Location, error) {
	args := m.Called(ctx, input)
	loc, _ := args.Get(0).(*domain.Location)
	return loc, args.Error(1)
}

type mockHistoryUC struct{ mock.Mock }

func (m *mockHistoryUC) Execute(ctx context.Context, input in.LocationHistoryInput) (*in.LocationHistoryOutput, error) {
	args := m.Called(ctx, input)
	out, _ := args.Get(0).(*in.LocationHistoryOutput)
	return out, args.Error(1)
}

type fixedViewers int

func (f fixedViewers) ConnectedCount() int { return int(f) }

type fixture struct {
	track   *mockTrackUC
	history *mockHistoryUC
	jwt     *auth.JWTService
	router  http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		track:   &mockTrackUC{},
		history: &mockHistoryUC{},
		jwt:     auth.NewJWTService(config.JWTConfig{Enabled: true, Secret: "s3cret", ExpiryMinutes: 5}),
	}
	log := logger.NewNop()
	h := NewHandler(f.track, f.history, fixedViewers(3), testclock.NewClock(testNow), log)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	f.router = Chain(mux, RequestIDMiddleware, LoggingMiddleware(log), IdentityMiddleware(f.jwt, log), SessionMiddleware)
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func trackRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/location/track", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSessionID, "walk-1")
	return req
}

func TestTrackLocation_Created(t *testing.T) {
	f := newFixture(t)
	stored := &domain.Location{ID: "loc-1", SessionID: "walk-1", Latitude: 40.7128, Longitude: -74.0060, Source: domain.SourceHTTP, RecordedAt: testNow, ReceivedAt: testNow}

	f.track.On("Execute", mock.Anything, mock.MatchedBy(func(i in.TrackLocationInput) bool {
		return i.SessionID == "walk-1" && i.Latitude == 40.7128 && i.Longitude == -74.0060 && i.Timestamp == nil && i.WalkerID == ""
	})).Return(stored, nil).Once()

	rec := f.do(trackRequest(`{"latitude":40.7128,"longitude":-74.0060}`))

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))

	var got domain.Location
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "loc-1", got.ID)
	assert.Equal(t, "walk-1", got.SessionID)
	f.track.AssertExpectations(t)
}

func TestTrackLocation_SessionFromQuery(t *testing.T) {
	f := newFixture(t)
	f.track.On("Execute", mock.Anything, mock.MatchedBy(func(i in.TrackLocationInput) bool {
		return i.SessionID == "walk-7"
	})).Return(&domain.Location{ID: "x", SessionID: "walk-7"}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/location/track?session_id=walk-7", strings.NewReader(`{"latitude":1,"longitude":2}`))

	rec := f.do(req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	f.track.AssertExpectations(t)
}

func TestTrackLocation_NMEABody(t *testing.T) {
	f := newFixture(t)
	f.track.On("Execute", mock.Anything, mock.MatchedBy(func(i in.TrackLocationInput) bool {
		return i.Source == domain.SourceNMEA && i.SessionID == "walk-1" && i.Timestamp != nil
	})).Return(&domain.Location{ID: "x", SessionID: "walk-1", Source: domain.SourceNMEA}, nil).Once()

	req := trackRequest("$GPRMC,092750.000,A,4042.768,N,07400.360,W,0.00,360.0,010526,,,A*4D")
	req.Header.Set("Content-Type", "text/plain")

	rec := f.do(req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	f.track.AssertExpectations(t)
}

func TestTrackLocation_MalformedBodyNeverReachesIngestion(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{``, `{`, `{"latitude":1}`, `{"latitude":"north","longitude":1}`} {
		rec := f.do(trackRequest(body))

		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, classValidation, decodeError(t, rec).Error)
	}
	f.track.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestTrackLocation_ErrorMapping(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		class   string
		message string
	}{
		{"coordinates", fmt.Errorf("%w: latitude must be between -90 and 90", domain.ErrInvalidCoordinates), http.StatusBadRequest, classValidation, "latitude must be between -90 and 90"},
		{"missing session", domain.ErrMissingSession, http.StatusBadRequest, classValidation, "session id is required"},
		{"store", fmt.Errorf("%w: %w", domain.ErrPersistence, errors.New("pq: connection refused")), http.StatusInternalServerError, classPersistence, "location store unavailable"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, classInternal, "internal error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.track.On("Execute", mock.Anything, mock.Anything).Return(nil, tc.err)

			rec := f.do(trackRequest(`{"latitude":1,"longitude":2}`))

			assert.Equal(t, tc.status, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tc.class, body.Error)
			assert.Contains(t, body.Message, tc.message)
			assert.NotContains(t, body.Message, "connection refused")
		})
	}
}

func TestTrackLocation_Identity(t *testing.T) {
	f := newFixture(t)
	token, err := f.jwt.GenerateToken("walker-9", "", auth.RoleWalker)
	require.NoError(t, err)

	f.track.On("Execute", mock.Anything, mock.MatchedBy(func(i in.TrackLocationInput) bool {
		return i.WalkerID == "walker-9"
	})).Return(&domain.Location{ID: "x", SessionID: "walk-1", WalkerID: "walker-9"}, nil).Once()

	req := trackRequest(`{"latitude":1,"longitude":2}`)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusCreated, f.do(req).Code)

	bad := trackRequest(`{"latitude":1,"longitude":2}`)
	bad.Header.Set("Authorization", "Bearer "+token+"x")
	rec := f.do(bad)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, classUnauthorized, decodeError(t, rec).Error)

	f.track.AssertExpectations(t)
}

func TestLocationHistory_OK(t *testing.T) {
	f := newFixture(t)
	start := testNow.Add(-time.Hour)
	out := &in.LocationHistoryOutput{Locations: []domain.Location{{ID: "a", SessionID: "walk-1"}}, Count: 1}
	f.history.On("Execute", mock.Anything, in.LocationHistoryInput{
		SessionID: "walk-1", Start: start, End: testNow, Limit: 50,
	}).Return(out, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/location/history?start=2026-05-01T09:00:00Z&end=2026-05-01T10:00:00Z&limit=50", nil)
	req.Header.Set(HeaderSessionID, "walk-1")

	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"locations":[{"id":"a","session_id":"walk-1","latitude":0,"longitude":0,"source":"","recorded_at":"0001-01-01T00:00:00Z","received_at":"0001-01-01T00:00:00Z"}],"count":1,"truncated":false}`, rec.Body.String())
	f.history.AssertExpectations(t)
}

func TestLocationHistory_EmptyIsArray(t *testing.T) {
	f := newFixture(t)
	f.history.On("Execute", mock.Anything, mock.Anything).
		Return(&in.LocationHistoryOutput{Locations: []domain.Location{}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/location/history?session_id=walk-1&start=2026-05-01T09:00:00Z&end=2026-05-01T10:00:00Z", nil)
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"locations":[]`)
}

func TestLocationHistory_BadQuery(t *testing.T) {
	f := newFixture(t)
	queries := []string{
		"end=2026-05-01T10:00:00Z",
		"start=2026-05-01T09:00:00Z",
		"start=yesterday&end=2026-05-01T10:00:00Z",
		"start=2026-05-01T09:00:00Z&end=2026-05-01T10:00:00Z&limit=abc",
		"start=2026-05-01T09:00:00Z&end=2026-05-01T10:00:00Z&limit=-1",
	}
	for _, q := range queries {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/location/history?session_id=walk-1&"+q, nil)
		rec := f.do(req)

		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		assert.Equal(t, classValidation, decodeError(t, rec).Error, q)
	}
	f.history.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestLocationHistory_InvertedRange(t *testing.T) {
	f := newFixture(t)
	f.history.On("Execute", mock.Anything, mock.Anything).Return(nil, domain.ErrInvalidTimeRange)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/location/history?session_id=walk-1&start=2026-05-01T10:00:00Z&end=2026-05-01T09:00:00Z", nil)
	rec := f.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(HeaderRequestID, "req-123")

	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get(HeaderRequestID))
	assert.JSONEq(t, `{"status":"ok","service":"tracking","viewers":3}`, rec.Body.String())
}
