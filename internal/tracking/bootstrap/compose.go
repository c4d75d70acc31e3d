package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"walktrack/internal/shared/auth"
	"walktrack/internal/shared/config"
	db_conn "walktrack/internal/shared/db"
	"walktrack/internal/shared/logger"
	"walktrack/internal/shared/mq"
	"walktrack/internal/shared/mqttc"
	"walktrack/internal/shared/utils"
	"walktrack/internal/tracking/adapters/in/in_amqp"
	"walktrack/internal/tracking/adapters/in/in_mqtt"
	"walktrack/internal/tracking/adapters/in/in_ws"
	"walktrack/internal/tracking/adapters/in/transport"
	"walktrack/internal/tracking/adapters/out/memory"
	"walktrack/internal/tracking/adapters/out/out_amqp"
	"walktrack/internal/tracking/adapters/out/repo"
	"walktrack/internal/tracking/adapters/out/ws"
	in "walktrack/internal/tracking/application/ports/in"
	out "walktrack/internal/tracking/application/ports/out"
	"walktrack/internal/tracking/application/usecase"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/clock"
)

const shutdownTimeout = 15 * time.Second

// App is a fully wired tracking service. New builds it, Start launches
// its background loops and Close releases everything New acquired.
type App struct {
	cfg        config.Config
	log        *logger.Logger
	instanceID string

	hub     *ws.Hub
	handler http.Handler

	pool       *pgxpool.Pool
	mqConn     *mq.RabbitMQ
	mqttClient mqtt.Client

	relay     *in_amqp.LocationRelayConsumer
	walkEnded *in_amqp.WalkEndedConsumer
	devices   *in_mqtt.DeviceSubscriber
}

// New connects the configured backends and wires the use cases.
// On error everything already opened is closed.
func New(ctx context.Context, cfg config.Config, clk clock.Clock, log *logger.Logger) (app *App, err error) {
	if clk == nil {
		clk = clock.WallClock
	}
	a := &App{
		cfg:        cfg,
		log:        log,
		instanceID: utils.NewUUID(),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.hub = ws.NewHub(log,
		ws.WithQueueSize(cfg.WebSocket.QueueSize),
		ws.WithBroadcastBuffer(cfg.WebSocket.BroadcastBuffer),
		ws.WithPingInterval(cfg.WebSocket.PingInterval),
		ws.WithWriteWait(cfg.WebSocket.WriteWait),
		ws.WithEndedSessionTTL(cfg.WebSocket.EndedSessionTTL),
	)

	locations, sessions, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	var eventPub out.EventPublisher
	if cfg.RabbitMQ.Enabled {
		if eventPub, err = a.openMessaging(ctx); err != nil {
			return nil, err
		}
	}

	trackUC := usecase.NewTrackLocationUseCase(
		locations,
		sessions,
		a.hub,
		eventPub,
		clk,
		cfg.Tracking.MaxClockSkew,
		log,
	)
	historyUC := usecase.NewLocationHistoryUseCase(
		locations,
		cfg.Tracking.HistoryDefaultLimit,
		cfg.Tracking.HistoryMaxLimit,
		log,
	)

	if cfg.MQTT.Enabled {
		if err := a.openDevices(ctx, trackUC, clk); err != nil {
			return nil, err
		}
	}

	var jwtService *auth.JWTService
	var authFunc in_ws.AuthFunc
	if cfg.JWT.Enabled {
		jwtService = auth.NewJWTService(cfg.JWT)
		authFunc = func(token string) (string, string, error) {
			id, err := jwtService.Authenticate(token)
			if err != nil {
				return "", "", err
			}
			return id.UserID, id.Role, nil
		}
	}

	httpHandler := transport.NewHandler(trackUC, historyUC, a.hub, clk, log)
	viewerHandler := in_ws.NewViewerHandler(a.hub, authFunc, cfg.WebSocket, log)

	mux := http.NewServeMux()
	httpHandler.RegisterRoutes(mux)
	// the websocket token travels in the first frame, not the header
	mux.HandleFunc("GET /ws/sessions/{session_id}", viewerHandler.ServeWS)

	a.handler = transport.Chain(mux,
		transport.RequestIDMiddleware,
		transport.LoggingMiddleware(log),
		transport.IdentityMiddleware(jwtService, log),
		transport.SessionMiddleware,
	)
	return a, nil
}

func (a *App) openStore(ctx context.Context) (out.LocationRepository, out.SessionRegistry, error) {
	if a.cfg.Database.Driver == "memory" {
		a.log.Info(logger.Entry{Action: "storage_selected", Message: "in-memory location store"})
		return memory.NewLocationStore(), memory.NewSessionRegistry(), nil
	}

	pool, err := db_conn.NewPool(ctx, a.cfg.Database, a.log)
	if err != nil {
		return nil, nil, err
	}
	a.pool = pool

	if err := db_conn.Migrate(ctx, pool, a.log); err != nil {
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return repo.NewLocationRepository(pool), repo.NewSessionRepository(pool), nil
}

func (a *App) openMessaging(ctx context.Context) (out.EventPublisher, error) {
	mqConn, err := mq.NewRabbitMQ(ctx, a.cfg.RabbitMQ, a.log)
	if err != nil {
		return nil, err
	}
	a.mqConn = mqConn

	if err := mq.SetupTopology(mqConn, a.log); err != nil {
		return nil, err
	}

	a.relay = in_amqp.NewLocationRelayConsumer(mqConn, a.hub, a.instanceID, a.log)
	a.walkEnded = in_amqp.NewWalkEndedConsumer(mqConn, a.hub, a.instanceID, a.log)
	return out_amqp.NewLocationEventPublisher(mqConn, a.instanceID, a.log), nil
}

func (a *App) openDevices(ctx context.Context, trackUC in.TrackLocationUseCase, clk clock.Clock) error {
	client, err := mqttc.Connect(ctx, a.cfg.MQTT, a.log)
	if err != nil {
		return err
	}
	a.mqttClient = client

	a.devices, err = in_mqtt.NewDeviceSubscriber(client, a.cfg.MQTT.Topic, a.cfg.MQTT.QoS, trackUC, clk, a.log)
	return err
}

// Handler is the HTTP surface: ingestion, history, websocket and health.
func (a *App) Handler() http.Handler { return a.handler }

// Hub exposes the broadcast hub, mostly for probes and tests.
func (a *App) Hub() *ws.Hub { return a.hub }

// Start runs the hub loop and subscribes the enabled inbound adapters.
// Everything stops when ctx is done.
func (a *App) Start(ctx context.Context) error {
	go a.hub.Run(ctx)

	if a.relay != nil {
		if err := a.relay.Start(ctx); err != nil {
			return fmt.Errorf("start location relay: %w", err)
		}
	}
	if a.walkEnded != nil {
		if err := a.walkEnded.Start(ctx); err != nil {
			return fmt.Errorf("start walk ended consumer: %w", err)
		}
	}
	if a.devices != nil {
		if err := a.devices.Start(); err != nil {
			return err
		}
	}
	return nil
}

// Close stops inbound adapters first so no ping arrives at a closed hub.
func (a *App) Close() {
	if a.devices != nil {
		a.devices.Stop()
	}
	if a.mqttClient != nil {
		a.mqttClient.Disconnect(250)
	}
	if a.mqConn != nil {
		a.mqConn.Close()
	}
	if a.hub != nil {
		a.hub.Shutdown()
	}
	db_conn.Close(a.pool, a.log)
}

// Run starts the tracking service and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	log.Info(logger.Entry{Action: "tracking_service_starting", Message: "initializing tracking service"})

	app, err := New(ctx, cfg, clock.WallClock, log)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Start(ctx); err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", cfg.Services.TrackingServicePort)
	server := &http.Server{
		Addr:              addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(logger.Entry{
			Action:  "http_server_starting",
			Message: fmt.Sprintf("listening on %s", addr),
			Additional: map[string]any{
				"instance_id": app.instanceID,
				"storage":     cfg.Database.Driver,
				"rabbitmq":    cfg.RabbitMQ.Enabled,
				"mqtt":        cfg.MQTT.Enabled,
			},
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(logger.Entry{Action: "tracking_service_stopping", Message: "shutting down tracking service"})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// hijacked websocket connections are not tracked by Shutdown; the hub
	// closes them in app.Close
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error(logger.Entry{
			Action:  "http_server_shutdown_failed",
			Message: err.Error(),
			Error:   &logger.ErrObj{Msg: err.Error()},
		})
	} else {
		log.Info(logger.Entry{Action: "http_server_stopped", Message: "http server stopped gracefully"})
	}

	log.Info(logger.Entry{Action: "tracking_service_stopped", Message: "tracking service stopped"})
	return nil
}
