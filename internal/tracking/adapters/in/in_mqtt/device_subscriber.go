package in_mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"walktrack/internal/shared/logger"
	"walktrack/internal/tracking/adapters/in/pingcodec"
	in "walktrack/internal/tracking/application/ports/in"
	"walktrack/internal/tracking/domain"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/clock"
)

const (
	handleTimeout    = 5 * time.Second
	subscribeTimeout = 10 * time.Second
)

// Subscriber is the part of mqtt.Client the device subscriber uses.
type Subscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// DeviceSubscriber feeds pings published by GPS collars into ingestion.
// The topic carries the session in the position of its single "+",
// e.g. walks/+/location. Payloads are JSON pings or NMEA sentences.
type DeviceSubscriber struct {
	client     Subscriber
	topic      string
	sessionIdx int
	qos        byte
	trackUC    in.TrackLocationUseCase
	clock      clock.Clock
	log        *logger.Logger
}

func NewDeviceSubscriber(
	client Subscriber,
	topic string,
	qos byte,
	trackUC in.TrackLocationUseCase,
	clk clock.Clock,
	log *logger.Logger,
) (*DeviceSubscriber, error) {
	idx, err := sessionLevel(topic)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &DeviceSubscriber{
		client:     client,
		topic:      topic,
		sessionIdx: idx,
		qos:        qos,
		trackUC:    trackUC,
		clock:      clk,
		log:        log,
	}, nil
}

func sessionLevel(topic string) (int, error) {
	idx := -1
	for i, level := range strings.Split(topic, "/") {
		switch level {
		case "+":
			if idx >= 0 {
				return 0, fmt.Errorf("mqtt topic %q: more than one '+' level", topic)
			}
			idx = i
		case "#":
			return 0, fmt.Errorf("mqtt topic %q: '#' is not supported", topic)
		}
	}
	if idx < 0 {
		return 0, fmt.Errorf("mqtt topic %q: needs a '+' level for the session id", topic)
	}
	return idx, nil
}

func (s *DeviceSubscriber) Start() error {
	token := s.client.Subscribe(s.topic, s.qos, s.onMessage)
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("subscribe %s: timed out", s.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.topic, err)
	}
	s.log.Info(logger.Entry{
		Action:  "mqtt_subscribed",
		Message: s.topic,
		Additional: map[string]any{
			"qos": s.qos,
		},
	})
	return nil
}

func (s *DeviceSubscriber) Stop() {
	token := s.client.Unsubscribe(s.topic)
	token.WaitTimeout(subscribeTimeout)
}

func (s *DeviceSubscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	if err := s.handle(ctx, msg.Topic(), msg.Payload()); err != nil {
		entry := logger.Entry{
			Action:  "mqtt_ping_rejected",
			Message: err.Error(),
			Additional: map[string]any{
				"topic": msg.Topic(),
			},
		}
		if errors.Is(err, domain.ErrValidation) {
			s.log.Debug(entry)
			return
		}
		entry.Action = "mqtt_ping_failed"
		entry.Error = &logger.ErrObj{Msg: err.Error()}
		s.log.Error(entry)
	}
}

func (s *DeviceSubscriber) handle(ctx context.Context, topic string, payload []byte) error {
	levels := strings.Split(topic, "/")
	if len(levels) <= s.sessionIdx {
		return domain.ErrMissingSession
	}

	input, err := pingcodec.Decode("", payload, s.clock.Now())
	if err != nil {
		return err
	}
	input.SessionID = levels[s.sessionIdx]
	if input.Source == domain.SourceHTTP {
		input.Source = domain.SourceMQTT
	}

	_, err = s.trackUC.Execute(ctx, input)
	return err
}
