// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoreAuth Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/storefront/storeauth/internal/auth"
	authpg "github.com/storefront/storeauth/internal/auth/postgres"
	"github.com/storefront/storeauth/internal/config"
	"github.com/storefront/storeauth/internal/observability"
	"github.com/storefront/storeauth/internal/store"
)

// Deps contains injectable dependencies for the CLI commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// RuntimeOpener connects to the database and builds the auth service.
	// Default: openRuntime
	RuntimeOpener func(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *auth.Metrics) (Runtime, error)

	// MigratorFactory creates a schema migrator for a database URL.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr, version string, logger *slog.Logger) ObservabilityServer
}

func (d Deps) withDefaults() Deps {
	if d.RuntimeOpener == nil {
		d.RuntimeOpener = openRuntime
	}
	if d.MigratorFactory == nil {
		d.MigratorFactory = func(databaseURL string) (Migrator, error) {
			m, err := store.NewMigrator(databaseURL)
			if err != nil {
				return nil, err
			}
			return m, nil
		}
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = func(addr, version string, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, version, logger)
		}
	}
	return d
}

// Accounts is the part of auth.Service used by the account commands.
type Accounts interface {
	GetUserByEmail(ctx context.Context, email string) (*auth.Profile, error)
	ApproveAccess(ctx context.Context, userID int64) (*auth.Profile, error)
	RejectAccess(ctx context.Context, userID int64) (*auth.Profile, error)
	PendingApprovals(ctx context.Context, limit int) ([]auth.Profile, error)
	SetActive(ctx context.Context, userID int64, active bool) (*auth.Profile, error)
	RevokeAllSessions(ctx context.Context, userID int64) (int64, error)
}

// Runtime is an opened database connection with the service built on it.
type Runtime interface {
	Accounts() Accounts
	Expiry() auth.ExpirySweeper
	Ping(ctx context.Context) error
	Close()
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	PendingMigrations() ([]uint, error)
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Registry() prometheus.Registerer
	AddReadinessCheck(name string, check observability.ReadinessCheck)
}

// pgRuntime is the production Runtime backed by a pgx pool.
type pgRuntime struct {
	pool    *pgxpool.Pool
	service *auth.Service
}

func openRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *auth.Metrics) (Runtime, error) {
	if err := cfg.ValidateAuth(); err != nil {
		return nil, err
	}

	codec, err := auth.NewJWTCodec([]byte(cfg.Auth.SigningSecret), cfg.Auth.Issuer)
	if err != nil {
		return nil, oops.Code("RUNTIME_INIT_FAILED").With("operation", "build token codec").Wrap(err)
	}

	pool, err := store.Connect(ctx, cfg.PoolConfig(), logger)
	if err != nil {
		return nil, err
	}

	svc, err := auth.NewService(auth.Deps{
		Users:    authpg.NewUserRepository(pool),
		Sessions: authpg.NewSessionRepository(pool),
		Resets:   authpg.NewPasswordResetRepository(pool),
		Tx:       authpg.NewTransactor(pool),
		Hasher:   auth.NewArgon2idHasher(),
		Tokens:   codec,
		Policy:   cfg.PasswordPolicy(),
	},
		auth.WithLogger(logger),
		auth.WithTokenTTL(cfg.Auth.TokenTTL),
		auth.WithResetTTL(cfg.Auth.ResetTTL),
		auth.WithMetrics(metrics),
	)
	if err != nil {
		pool.Close()
		return nil, oops.Code("RUNTIME_INIT_FAILED").With("operation", "build service").Wrap(err)
	}

	return &pgRuntime{pool: pool, service: svc}, nil
}

func (r *pgRuntime) Accounts() Accounts             { return r.service }
func (r *pgRuntime) Expiry() auth.ExpirySweeper     { return r.service }
func (r *pgRuntime) Ping(ctx context.Context) error { return r.pool.Ping(ctx) }
func (r *pgRuntime) Close()                         { r.pool.Close() }
