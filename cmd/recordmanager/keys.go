package main

import (
	"github.com/spf13/cobra"
)

func newKeysCmd(root *rootOptions) *cobra.Command {
	var sources []string

	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Recompute candidate keys from stored metadata",
		Long: `Re-parses the stored metadata of every record and recomputes its
candidate keys. Records whose keys changed are flagged for the next
dedup run. Use after changing title normalisation settings.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, rt, err := openRuntime(cmd.Context(), root, "keys", nil)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			sum, err := rt.svc.Controller.RefreshKeys(ctx, sources)
			if perr := printJSON(cmd.OutOrStdout(), sum); perr != nil && err == nil {
				err = perr
			}
			return err
		},
	}

	cmd.Flags().StringSliceVarP(&sources, "source", "s", nil, "source id (repeatable; default: all dedup-enabled sources)")

	return cmd
}
