// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoreAuth Contributors

// Package store owns the PostgreSQL connection pool and schema migrations
// for the auth tables.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// PoolConfig controls how Connect dials the database.
type PoolConfig struct {
	URL            string
	ConnectTimeout time.Duration
	// MaxAttempts bounds connection attempts; zero means 5.
	MaxAttempts uint64
	// InitialBackoff is the first retry delay; zero means 250ms.
	InitialBackoff time.Duration
}

// Connect opens a pgx pool and pings it, retrying with exponential backoff
// while the database is unreachable.
func Connect(ctx context.Context, cfg PoolConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, oops.Code("DB_CONFIG_INVALID").Errorf("database URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	attempts := cfg.MaxAttempts
	if attempts == 0 {
		attempts = 5
	}
	initial := cfg.InitialBackoff
	if initial <= 0 {
		initial = 250 * time.Millisecond
	}
	backoff := retry.WithMaxRetries(attempts-1,
		retry.WithCappedDuration(5*time.Second, retry.NewExponential(initial)))

	var pool *pgxpool.Pool
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		p, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			logger.WarnContext(ctx, "database not ready, retrying",
				"attempt", attempt,
				"error", err.Error())
			return retry.RetryableError(err)
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("attempts", attempt).
			Wrap(err)
	}
	return pool, nil
}
