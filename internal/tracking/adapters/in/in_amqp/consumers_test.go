package in_amqp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"walktrack/internal/shared/logger"
	"walktrack/internal/shared/mq"
	"walktrack/internal/tracking/adapters/out/out_amqp"
	"walktrack/internal/tracking/domain"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockHub struct{ mock.Mock }

func (m *mockHub) Broadcast(loc domain.Location) error { return m.Called(loc).Error(0) }
func (m *mockHub) EndSession(sessionID string)         { m.Called(sessionID) }

const locID = "6f1c2a8e-3b7d-4e2a-9c41-5d3f0b8a7e12"

func relayDelivery(t *testing.T, origin string, loc domain.Location) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(domain.LocationRecorded{Origin: origin, Location: loc})
	require.NoError(t, err)
	return amqp.Delivery{Body: body, Headers: amqp.Table{out_amqp.OriginHeader: origin}}
}

func TestRelay_ForwardsForeignLocations(t *testing.T) {
	hub := &mockHub{}
	c := NewLocationRelayConsumer(nil, hub, "instance-a", logger.NewNop())
	loc := domain.Location{ID: locID, SessionID: "walk-1", Latitude: 40.7128, Longitude: -74.0060}
	hub.On("Broadcast", loc).Return(nil).Once()

	require.NoError(t, c.handle(context.Background(), relayDelivery(t, "instance-b", loc)))
	hub.AssertExpectations(t)
}

func TestRelay_SkipsOwnMessages(t *testing.T) {
	hub := &mockHub{}
	c := NewLocationRelayConsumer(nil, hub, "instance-a", logger.NewNop())
	loc := domain.Location{ID: locID, SessionID: "walk-1"}

	require.NoError(t, c.handle(context.Background(), relayDelivery(t, "instance-a", loc)))

	// header missing, body origin still matches
	d := relayDelivery(t, "instance-a", loc)
	d.Headers = nil
	require.NoError(t, c.handle(context.Background(), d))

	hub.AssertNotCalled(t, "Broadcast", mock.Anything)
}

func TestRelay_RejectsMalformed(t *testing.T) {
	hub := &mockHub{}
	c := NewLocationRelayConsumer(nil, hub, "instance-a", logger.NewNop())

	assert.Error(t, c.handle(context.Background(), amqp.Delivery{Body: []byte("{not json")}))
	assert.ErrorIs(t,
		c.handle(context.Background(), relayDelivery(t, "b", domain.Location{ID: "nope", SessionID: "walk-1"})),
		errInvalidRelay)
	assert.ErrorIs(t,
		c.handle(context.Background(), relayDelivery(t, "b", domain.Location{ID: locID, SessionID: "walk-1", Latitude: 91})),
		domain.ErrInvalidCoordinates)

	hub.AssertNotCalled(t, "Broadcast", mock.Anything)
}

func TestRelay_BroadcastErrorIsAcked(t *testing.T) {
	hub := &mockHub{}
	c := NewLocationRelayConsumer(nil, hub, "instance-a", logger.NewNop())
	hub.On("Broadcast", mock.Anything).Return(errors.New("broadcast queue full"))

	err := c.handle(context.Background(), relayDelivery(t, "b", domain.Location{ID: locID, SessionID: "walk-1"}))

	assert.NoError(t, err)
}

func TestWalkEnded_EndsSession(t *testing.T) {
	cases := []struct {
		name string
		key  string
		body string
	}{
		{"status from body", "walk.any", `{"session_id":"walk-1","status":"completed"}`},
		{"completed key", mq.WalkCompletedKey, `{"session_id":"walk-1"}`},
		{"cancelled key", mq.WalkCancelledKey, `{"session_id":" walk-1 "}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hub := &mockHub{}
			hub.On("EndSession", "walk-1").Return().Once()
			c := NewWalkEndedConsumer(nil, hub, "instance-a", logger.NewNop())

			require.NoError(t, c.handle(context.Background(), amqp.Delivery{RoutingKey: tc.key, Body: []byte(tc.body)}))
			hub.AssertExpectations(t)
		})
	}
}

func TestWalkEnded_IgnoresAndRejects(t *testing.T) {
	hub := &mockHub{}
	c := NewWalkEndedConsumer(nil, hub, "instance-a", logger.NewNop())
	ctx := context.Background()

	assert.NoError(t, c.handle(ctx, amqp.Delivery{RoutingKey: "walk.started", Body: []byte(`{"session_id":"walk-1","status":"active"}`)}))
	assert.ErrorIs(t, c.handle(ctx, amqp.Delivery{RoutingKey: mq.WalkCompletedKey, Body: []byte(`{}`)}), domain.ErrMissingSession)
	assert.Error(t, c.handle(ctx, amqp.Delivery{Body: []byte(`[`)}))

	hub.AssertNotCalled(t, "EndSession", mock.Anything)
}
