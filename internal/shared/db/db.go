package db_conn

import (
	"context"
	"fmt"
	"time"

	"walktrack/internal/shared/config"
	"walktrack/internal/shared/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	applicationName = "walktrack-tracking"
	pingTimeout     = 5 * time.Second
	connectAttempts = 5
	connectBackoff  = time.Second
)

// poolConfig maps DBConfig onto pgxpool settings. Sessions run in UTC so
// timestamptz values scan back as UTC instants.
func poolConfig(cfg config.DBConfig) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = min(cfg.MinConns, cfg.MaxConns)
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	params := poolCfg.ConnConfig.RuntimeParams
	params["application_name"] = applicationName
	params["timezone"] = "UTC"
	return poolCfg, nil
}

// NewPool opens the location store pool. The database may come up after the
// service in local stacks, so the first ping is retried a few times.
func NewPool(ctx context.Context, cfg config.DBConfig, log *logger.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	for attempt := 1; ; attempt++ {
		err = ping(ctx, pool)
		if err == nil {
			break
		}
		if attempt == connectAttempts {
			pool.Close()
			return nil, fmt.Errorf("ping db after %d attempts: %w", attempt, err)
		}

		delay := time.Duration(attempt) * connectBackoff
		log.Warn(logger.Entry{
			Action:  "db_ping_failed",
			Message: err.Error(),
			Error:   &logger.ErrObj{Msg: err.Error()},
			Additional: map[string]any{
				"attempt":  attempt,
				"retry_in": delay.String(),
			},
		})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		}
	}

	log.Info(logger.Entry{
		Action:  "db_connected",
		Message: fmt.Sprintf("connected to %s:%d/%s", cfg.Host, cfg.Port, cfg.Database),
		Additional: map[string]any{
			"max_conns": poolCfg.MaxConns,
			"min_conns": poolCfg.MinConns,
		},
	})
	return pool, nil
}

func ping(ctx context.Context, pool *pgxpool.Pool) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return pool.Ping(pingCtx)
}

// Close is nil-safe so callers can defer it before the pool exists.
func Close(pool *pgxpool.Pool, log *logger.Logger) {
	if pool == nil {
		return
	}
	stat := pool.Stat()
	pool.Close()
	log.Info(logger.Entry{
		Action:  "db_closed",
		Message: "database pool closed",
		Additional: map[string]any{
			"acquired_total": stat.AcquireCount(),
		},
	})
}
