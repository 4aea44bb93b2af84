package main

import (
	"github.com/spf13/cobra"

	"recordmanager/internal/domain/dedup"
)

func newCountCmd(root *rootOptions) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count records without changing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, rt, err := openRuntime(cmd.Context(), root, "count", nil)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			base := dedup.RecordFilter{}
			if source != "" {
				base.SourceIDs = []string{source}
			}

			counts := map[string]int64{}
			filters := map[string]dedup.RecordFilter{
				"records":      base,
				"updateNeeded": withFlagged(base),
				"clustered":    withClustered(base),
			}
			for name, f := range filters {
				n, err := rt.svc.Stores.Records.CountRecords(ctx, f)
				if err != nil {
					return err
				}
				counts[name] = n
			}

			return printJSON(cmd.OutOrStdout(), counts)
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "", "source id (default: all sources)")

	return cmd
}

func withFlagged(f dedup.RecordFilter) dedup.RecordFilter {
	f.UpdateNeeded = true
	f.IncludeDeleted = true
	return f
}

func withClustered(f dedup.RecordFilter) dedup.RecordFilter {
	f.Clustered = true
	return f
}
