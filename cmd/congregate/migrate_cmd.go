package main

import (
	"github.com/smallbiznis/congregate/internal/migration"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring the database schema up to date",
		RunE: func(cmd *cobra.Command, args []string) error {
			stop, err := startWith(cmd.Context(), migration.Module)
			if err != nil {
				return err
			}
			stop()
			return nil
		},
	}
}
