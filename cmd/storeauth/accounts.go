// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoreAuth Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/storefront/storeauth/internal/auth"
)

// defaultPendingLimit caps the pending listing when --limit is not set.
const defaultPendingLimit = 50

// NewApproveCmd creates the approve command.
func NewApproveCmd(deps Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "approve EMAIL",
		Short: "Grant backoffice access to an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccount(cmd, deps, args[0], func(ctx context.Context, accts Accounts, p *auth.Profile) error {
				updated, err := accts.ApproveAccess(ctx, p.ID)
				if err != nil {
					return err
				}
				cmd.Printf("Approved %s (backoffice status: %s)\n", updated.Email, updated.BackofficeStatus)
				return nil
			})
		},
	}
}

// NewRejectCmd creates the reject command.
func NewRejectCmd(deps Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "reject EMAIL",
		Short: "Deny backoffice access to an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccount(cmd, deps, args[0], func(ctx context.Context, accts Accounts, p *auth.Profile) error {
				updated, err := accts.RejectAccess(ctx, p.ID)
				if err != nil {
					return err
				}
				cmd.Printf("Rejected %s (backoffice status: %s)\n", updated.Email, updated.BackofficeStatus)
				return nil
			})
		},
	}
}

// NewDeactivateCmd creates the deactivate command. --undo reactivates.
func NewDeactivateCmd(deps Deps) *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "deactivate EMAIL",
		Short: "Disable an account",
		Long:  `Disable an account so it can no longer log in. Use --undo to re-enable it.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccount(cmd, deps, args[0], func(ctx context.Context, accts Accounts, p *auth.Profile) error {
				updated, err := accts.SetActive(ctx, p.ID, undo)
				if err != nil {
					return err
				}
				state := "deactivated"
				if updated.IsActive {
					state = "reactivated"
				}
				cmd.Printf("Account %s %s\n", updated.Email, state)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "reactivate the account instead")
	return cmd
}

// NewRevokeSessionsCmd creates the revoke-sessions command.
func NewRevokeSessionsCmd(deps Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke-sessions EMAIL",
		Short: "Log an account out of every session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccount(cmd, deps, args[0], func(ctx context.Context, accts Accounts, p *auth.Profile) error {
				n, err := accts.RevokeAllSessions(ctx, p.ID)
				if err != nil {
					return err
				}
				cmd.Printf("Revoked %d sessions for %s\n", n, p.Email)
				return nil
			})
		},
	}
}

// NewPendingCmd creates the pending command.
func NewPendingCmd(deps Deps) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List accounts awaiting backoffice approval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return oops.Code("INVALID_LIMIT").With("limit", limit).Errorf("--limit must be positive")
			}
			return withRuntime(cmd, deps, func(ctx context.Context, rt Runtime) error {
				profiles, err := rt.Accounts().PendingApprovals(ctx, limit)
				if err != nil {
					return err
				}
				if len(profiles) == 0 {
					cmd.Println("No accounts awaiting approval")
					return nil
				}
				return writePending(cmd.OutOrStdout(), profiles)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", defaultPendingLimit, "maximum number of accounts to list")
	return cmd
}

func writePending(w io.Writer, profiles []auth.Profile) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEMAIL\tNAME\tREGISTERED")
	for _, p := range profiles {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n",
			p.ID, p.Email, displayName(p), p.CreatedAt.UTC().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func displayName(p auth.Profile) string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	case p.LastName != "":
		return p.LastName
	}
	return "-"
}

func withRuntime(cmd *cobra.Command, deps Deps, fn func(context.Context, Runtime) error) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := deps.RuntimeOpener(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	return fn(ctx, rt)
}

func withAccount(cmd *cobra.Command, deps Deps, email string, fn func(context.Context, Accounts, *auth.Profile) error) error {
	return withRuntime(cmd, deps, func(ctx context.Context, rt Runtime) error {
		accts := rt.Accounts()
		p, err := accts.GetUserByEmail(ctx, email)
		if err != nil {
			return err
		}
		return fn(ctx, accts, p)
	})
}
