package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"recordmanager/internal/core/apperror"
)

func newPropagateCmd(root *rootOptions) *cobra.Command {
	var recordID string

	cmd := &cobra.Command{
		Use:   "propagate",
		Short: "Flag the host records of a component part",
		Long: `Marks every host record of the given component part for update so the
next dedup run re-evaluates it.`,
		Example: `  recordmanager propagate --id alpha.456`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, rt, err := openRuntime(cmd.Context(), root, "propagate", nil)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			rec, err := rt.svc.Stores.Records.GetRecord(ctx, recordID)
			if err != nil {
				return err
			}
			if rec == nil {
				return apperror.NewNotFound("record", recordID)
			}

			var n int
			err = rt.txm.RunInTransaction(ctx, func(ctx context.Context) error {
				var err error
				n, err = rt.svc.Propagator.MarkHostsForUpdate(ctx, rec)
				return err
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d host record(s) flagged\n", rec.ID, n)
			return nil
		},
	}

	cmd.Flags().StringVar(&recordID, "id", "", "component part record id")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}
