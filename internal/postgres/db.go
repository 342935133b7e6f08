package postgres

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const maxConnectInterval = 5 * time.Second

// Connect opens the pool and pings it, retrying with exponential backoff so
// the service survives the database coming up after it.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 8
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = maxConnectInterval

	deadline, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for {
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err == nil {
			if err = pool.Ping(deadline); err == nil {
				return pool, nil
			}
			pool.Close()
		}

		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = maxConnectInterval
		}
		select {
		case <-deadline.Done():
			return nil, err
		case <-time.After(sleep):
		}
	}
}
