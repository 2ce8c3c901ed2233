package main

import (
	hierarchydomain "github.com/smallbiznis/congregate/internal/hierarchy/domain"
	historydomain "github.com/smallbiznis/congregate/internal/history/domain"
	officerdomain "github.com/smallbiznis/congregate/internal/officer/domain"
	"github.com/smallbiznis/congregate/internal/orgcontext"
	"github.com/spf13/cobra"
)

type reconcileOutput struct {
	OrgID    string                       `json:"organization_id"`
	Groups   []hierarchydomain.CountDrift `json:"groups"`
	Officers []officerdomain.CountDrift   `json:"officers"`
}

func newReconcileCmd() *cobra.Command {
	var orgID string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recount member counters from open history rows and report drift",
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := parseOrg(orgID)
			if err != nil {
				return err
			}

			var (
				groups   hierarchydomain.Service
				officers officerdomain.Service
				ledgers  historydomain.Ledgers
			)
			stop, err := start(cmd.Context(), &groups, &officers, &ledgers)
			if err != nil {
				return err
			}
			defer stop()

			ctx := orgcontext.WithOrgID(cmd.Context(), org.Int64())
			groupDrift, err := groups.ReconcileCounts(ctx, ledgers.Group)
			if err != nil {
				return err
			}
			officerDrift, err := officers.ReconcileCounts(ctx, ledgers.Officer)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), reconcileOutput{
				OrgID:    org.String(),
				Groups:   groupDrift,
				Officers: officerDrift,
			})
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Organization id (required)")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}
