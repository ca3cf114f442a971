// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoreAuth Contributors

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/storefront/storeauth/internal/auth"
)

// shutdownTimeout bounds how long the observability server gets to drain.
const shutdownTimeout = 5 * time.Second

// NewSweepCmd creates the sweep command.
func NewSweepCmd(deps Deps) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired sessions and password reset requests",
		Long: `Periodically delete sessions and password reset requests whose expiry
has passed. With --once a single cycle runs and the command exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSweep(cmd, deps, once)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single sweep cycle and exit")
	cmd.Flags().Duration("interval", auth.DefaultSweepInterval, "time between sweep cycles")
	cmd.Flags().String("metrics-addr", "", "observability server address, e.g. 127.0.0.1:9101 (empty disables)")
	return cmd
}

func runSweep(cmd *cobra.Command, deps Deps, once bool) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if once {
		rt, err := deps.RuntimeOpener(ctx, cfg, logger, nil)
		if err != nil {
			return err
		}
		defer rt.Close()

		sweeper, err := auth.NewSweeper(rt.Expiry(), cfg.Sweep.Interval, logger)
		if err != nil {
			return err
		}
		result, err := sweeper.RunOnce(ctx)
		if err != nil {
			return oops.Code("SWEEP_FAILED").Wrap(err)
		}
		cmd.Printf("Removed %d expired sessions and %d expired reset requests\n", result.Sessions, result.Resets)
		return nil
	}

	var (
		obs     ObservabilityServer
		metrics *auth.Metrics
	)
	if cfg.Metrics.Addr != "" {
		obs = deps.ObservabilityServerFactory(cfg.Metrics.Addr, version, logger)
		metrics = auth.NewMetrics(obs.Registry())
	}

	rt, err := deps.RuntimeOpener(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer rt.Close()

	sweeper, err := auth.NewSweeper(rt.Expiry(), cfg.Sweep.Interval, logger)
	if err != nil {
		return err
	}

	var obsErrs <-chan error
	if obs != nil {
		obs.AddReadinessCheck("database", rt.Ping)
		obs.AddReadinessCheck("sweeper", func(context.Context) error {
			if !sweeper.Healthy() {
				return errors.New("last sweep cycle failed")
			}
			return nil
		})
		obsErrs, err = obs.Start()
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if stopErr := obs.Stop(shutdownCtx); stopErr != nil {
				logger.Warn("failed to stop observability server", "error", stopErr)
			}
		}()
		logger.Info("observability server listening", "addr", obs.Addr())
	}

	sweeper.Start(ctx)
	defer sweeper.Stop()
	logger.Info("sweeper started", "interval", cfg.Sweep.Interval)

	select {
	case <-ctx.Done():
		logger.Info("shutting down sweeper")
		return nil
	case err, ok := <-obsErrs:
		if !ok || err == nil {
			<-ctx.Done()
			return nil
		}
		return oops.Code("OBSERVABILITY_FAILED").Wrap(err)
	}
}
