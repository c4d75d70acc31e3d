// Package mqttc connects to the device MQTT broker.
package mqttc

import (
	"context"
	"fmt"
	"time"

	"walktrack/internal/shared/config"
	"walktrack/internal/shared/logger"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const connectTimeout = 10 * time.Second

// Options builds client options from cfg. The session is persistent so the
// broker keeps subscriptions and queued QoS 1 pings across reconnects.
func Options(cfg config.MQTTConfig, log *logger.Logger) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(false)
	opts.SetResumeSubs(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetOrderMatters(false)

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn(logger.Entry{
			Action:  "mqtt_connection_lost",
			Message: err.Error(),
			Error:   &logger.ErrObj{Msg: err.Error()},
		})
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info(logger.Entry{
			Action:  "mqtt_connected",
			Message: cfg.Broker,
			Additional: map[string]any{
				"client_id": cfg.ClientID,
			},
		})
	})
	return opts
}

// Connect dials the broker and waits for the first connection.
func Connect(ctx context.Context, cfg config.MQTTConfig, log *logger.Logger) (mqtt.Client, error) {
	client := mqtt.NewClient(Options(cfg, log))

	token := client.Connect()
	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		client.Disconnect(0)
		return nil, fmt.Errorf("connect mqtt %s: timed out after %s", cfg.Broker, connectTimeout)
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt %s: %w", cfg.Broker, err)
	}
	return client, nil
}
