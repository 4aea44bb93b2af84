package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"recordmanager/internal/infrastructure/storage/postgres"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, rt, err := openRuntime(cmd.Context(), root, "migrate", nil)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			applied, err := postgres.Migrate(ctx, rt.txm)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
}
