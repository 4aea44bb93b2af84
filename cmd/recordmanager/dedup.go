package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"recordmanager/internal/domain/dedup"
)

func newDedupCmd(root *rootOptions) *cobra.Command {
	var (
		sources  []string
		full     bool
		recordID string
	)

	cmd := &cobra.Command{
		Use:   "dedup",
		Short: "Deduplicate flagged records",
		Long: `Runs the match engine over records flagged for update in every
dedup-enabled source, or the sources given with --source.

With --full every host-level record is re-evaluated first, followed by
the flagged records. With --id only that record is processed.`,
		Example: `  recordmanager dedup
  recordmanager dedup --source alpha --source beta --full
  recordmanager dedup --id alpha.123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, rt, err := openRuntime(cmd.Context(), root, "dedup", nil)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			sum, err := rt.svc.Controller.Run(ctx, dedup.RunOptions{
				SourceIDs: sources,
				Full:      full,
				RecordID:  recordID,
			})
			if perr := printJSON(cmd.OutOrStdout(), sum); perr != nil && err == nil {
				err = perr
			}
			if err != nil {
				return err
			}
			if len(sum.Failed) > 0 {
				return fmt.Errorf("%d source(s) failed: %s", len(sum.Failed), strings.Join(sum.Failed, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&sources, "source", "s", nil, "source id (repeatable; default: all dedup-enabled sources)")
	cmd.Flags().BoolVar(&full, "full", false, "re-evaluate every host-level record, not only flagged ones")
	cmd.Flags().StringVar(&recordID, "id", "", "process a single record")
	cmd.MarkFlagsMutuallyExclusive("id", "source")
	cmd.MarkFlagsMutuallyExclusive("id", "full")

	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
