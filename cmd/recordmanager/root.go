package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "recordmanager",
		Short: "Record deduplication and consistency maintenance",
		Long: `recordmanager groups harvested bibliographic records describing the same
work into dedup records and keeps record links and cluster membership in
agreement.

Configuration is read from the YAML file given with --config, then from
.env and the environment (RECMAN_DATABASE_URL, LOG_LEVEL, APP_ENV, HTTP_ADDR).`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", envOr("RECMAN_CONFIG", ""), "path to the YAML configuration file")

	cmd.AddCommand(
		newDedupCmd(opts),
		newCheckCmd(opts),
		newKeysCmd(opts),
		newPropagateCmd(opts),
		newCountCmd(opts),
		newMigrateCmd(opts),
		newServeCmd(opts),
	)

	return cmd
}
