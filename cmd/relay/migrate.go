package main

import (
	"errors"

	"github.com/joripage/order-relay/pkg/infra"
	"github.com/spf13/cobra"
)

func newMigrateCmd(load configLoader) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the trade_records table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			pg := cfg.Journal.Postgres
			if pg == nil {
				return errors.New("journal.postgres is not configured")
			}
			connURL := pg.MigrationConnURL
			if connURL == "" {
				connURL = pg.DataSource
			}
			return infra.Migrate(source, connURL)
		},
	}
	cmd.Flags().StringVar(&source, "source", "file://migration/sql", "Migration source URL")
	return cmd
}
