// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoreAuth Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/storefront/storeauth/internal/store"
)

// NewMigrateCmd creates the migrate command group.
func NewMigrateCmd(deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long:  `Apply, roll back or inspect the storeauth schema migrations.`,
	}

	cmd.AddCommand(newMigrateUpCmd(deps))
	cmd.AddCommand(newMigrateDownCmd(deps))
	cmd.AddCommand(newMigrateStatusCmd(deps))
	cmd.AddCommand(newMigrateForceCmd(deps))
	return cmd
}

func newMigrateUpCmd(deps Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, func(m Migrator) error {
				if err := m.Up(); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "up").Wrap(err)
				}
				cmd.Println("Migrations completed successfully")
				return nil
			})
		},
	}
}

func newMigrateDownCmd(deps Deps) *cobra.Command {
	var (
		steps int
		all   bool
	)
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Long:  `Roll back the given number of migrations, or every migration with --all.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !all && steps <= 0 {
				return oops.Code("INVALID_STEPS").Errorf("--steps must be positive unless --all is set")
			}
			return withMigrator(cmd, deps, func(m Migrator) error {
				var err error
				if all {
					err = m.Down()
				} else {
					err = m.Steps(-steps)
				}
				if err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "down").With("steps", steps).Wrap(err)
				}
				cmd.Println("Rollback completed successfully")
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.Flags().BoolVar(&all, "all", false, "roll back every migration")
	return cmd
}

func newMigrateStatusCmd(deps Deps) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Aliases: []string{"version"},
		Short:   "Show the current schema version and pending migrations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, func(m Migrator) error {
				v, dirty, err := m.Version()
				if err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "version").Wrap(err)
				}
				pending, err := m.PendingMigrations()
				if err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "pending").Wrap(err)
				}
				cmd.Println(formatMigrationStatus(v, dirty, pending))
				return nil
			})
		},
	}
}

func newMigrateForceCmd(deps Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations",
		Long: `Set the recorded schema version and clear the dirty flag. Use this
only to recover from a failed migration after fixing the schema by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			return withMigrator(cmd, deps, func(m Migrator) error {
				if err := m.Force(v); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "force").With("version", v).Wrap(err)
				}
				cmd.Printf("Schema version forced to %d\n", v)
				return nil
			})
		},
	}
}

func withMigrator(cmd *cobra.Command, deps Deps, fn func(Migrator) error) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	m, err := deps.MigratorFactory(cfg.Database.URL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() { _ = m.Close() }()

	return fn(m)
}

// parseForceVersion reads a migration version argument. -1 means no version.
func parseForceVersion(s string) (int, error) {
	var v int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &v); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Wrap(err)
	}
	return v, nil
}

func formatMigrationStatus(v uint, dirty bool, pending []uint) string {
	var b strings.Builder
	if v == 0 {
		b.WriteString("Schema version: none")
	} else {
		fmt.Fprintf(&b, "Schema version: %d", v)
		if name, err := store.MigrationName(v); err == nil && name != "" {
			fmt.Fprintf(&b, " (%s)", name)
		}
	}
	if dirty {
		b.WriteString(" [dirty]")
	}
	if len(pending) == 0 {
		b.WriteString("\nNo pending migrations")
		return b.String()
	}
	fmt.Fprintf(&b, "\nPending migrations: %d", len(pending))
	for _, p := range pending {
		name, err := store.MigrationName(p)
		if err != nil || name == "" {
			name = "unknown"
		}
		fmt.Fprintf(&b, "\n  %06d %s", p, name)
	}
	return b.String()
}
