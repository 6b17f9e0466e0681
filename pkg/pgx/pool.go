package pgx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var ErrNoConnString = errors.New("pgx: connection string is empty")

// PoolConfig describes how to reach the database and how long to keep trying.
type PoolConfig struct {
	ConnString string
	// MaxElapsed bounds the total time spent retrying. Zero means one minute.
	MaxElapsed time.Duration
	Logger     *zap.Logger
}

// Connect creates a pool and pings it, retrying with exponential backoff while
// the server is unreachable. Malformed connection strings fail immediately.
func Connect(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.ConnString == "" {
		return nil, ErrNoConnString
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("pgx: parse connection string: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = cfg.MaxElapsed
	if bo.MaxElapsedTime == 0 {
		bo.MaxElapsedTime = time.Minute
	}

	var pool *pgxpool.Pool
	operation := func() error {
		p, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("database not ready", zap.Error(err), zap.Duration("retry_in", wait))
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), notify); err != nil {
		return nil, fmt.Errorf("pgx: connect: %w", err)
	}
	return pool, nil
}
