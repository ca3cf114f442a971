// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoreAuth Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/storefront/storeauth/internal/config"
	"github.com/storefront/storeauth/internal/logging"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the storeauth CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(Deps{})
}

func newRootCmd(deps Deps) *cobra.Command {
	deps = deps.withDefaults()

	cmd := &cobra.Command{
		Use:   "storeauth",
		Short: "storeauth - storefront and backoffice account administration",
		Long: `storeauth manages the account database behind the storefront:
schema migrations, backoffice access approval and the expiry sweeper
that removes stale sessions and password reset requests.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	cmd.PersistentFlags().String("log-format", "json", "log format (json or text)")
	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL connection URL (overrides config and DATABASE_URL)")

	cmd.AddCommand(NewMigrateCmd(deps))
	cmd.AddCommand(NewSweepCmd(deps))
	cmd.AddCommand(NewApproveCmd(deps))
	cmd.AddCommand(NewRejectCmd(deps))
	cmd.AddCommand(NewPendingCmd(deps))
	cmd.AddCommand(NewDeactivateCmd(deps))
	cmd.AddCommand(NewRevokeSessionsCmd(deps))

	return cmd
}

// loadConfig reads and validates the configuration for cmd and builds the
// logger it describes.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(logging.Options{
		Service: "storeauth",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	}, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
