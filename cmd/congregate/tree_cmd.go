package main

import (
	"fmt"
	"io"
	"strings"

	hierarchydomain "github.com/smallbiznis/congregate/internal/hierarchy/domain"
	"github.com/smallbiznis/congregate/internal/orgcontext"
	"github.com/spf13/cobra"
)

func newTreeCmd() *cobra.Command {
	var (
		orgID  string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the group tree with member counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := parseOrg(orgID)
			if err != nil {
				return err
			}

			var groups hierarchydomain.Service
			stop, err := start(cmd.Context(), &groups)
			if err != nil {
				return err
			}
			defer stop()

			tree, err := groups.Tree(orgcontext.WithOrgID(cmd.Context(), org.Int64()))
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), tree)
			}
			printTree(cmd.OutOrStdout(), tree)
			return nil
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Organization id (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the tree as JSON")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func printTree(w io.Writer, nodes []hierarchydomain.TreeNode) {
	for _, node := range nodes {
		leader := ""
		if node.Group.LeaderMemberID != nil {
			leader = " leader=" + node.Group.LeaderMemberID.String()
		}
		fmt.Fprintf(w, "%s%s (%d)%s\n", strings.Repeat("  ", node.Depth-1), node.Group.Name, node.Group.MemberCount, leader)
		printTree(w, node.Children)
	}
}
