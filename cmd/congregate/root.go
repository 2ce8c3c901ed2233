package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/bwmarrin/snowflake"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "congregate",
		Short:        "Group hierarchy and membership history maintenance",
		SilenceUsage: true,
	}
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newReconcileCmd())
	cmd.AddCommand(newTreeCmd())
	return cmd
}

func parseOrg(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid --org %q", raw)
	}
	return id, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
