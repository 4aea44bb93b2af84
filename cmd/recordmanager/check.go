package main

import (
	"github.com/spf13/cobra"
)

func newCheckCmd(root *rootOptions) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:     "check-dedup",
		Aliases: []string{"check"},
		Short:   "Repair dedup records and record links",
		Long: `Checks every dedup record against its members, then checks the dedup
link of every clustered record (of --source, or all sources). The stored
record state wins: clusters are corrected to match their records.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, rt, err := openRuntime(cmd.Context(), root, "check-dedup", nil)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			clusters, err := rt.svc.Checker.CheckDedupRecords(ctx)
			if err != nil {
				return err
			}
			records, err := rt.svc.Checker.CheckRecords(ctx, source)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), map[string]any{
				"dedupRecords": clusters,
				"records":      records,
			})
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "", "limit the record link pass to one source")

	return cmd
}
