package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	postgres_wrapper "github.com/joripage/order-relay/pkg/infra/postgres"
	"github.com/joripage/order-relay/pkg/relay/journal"
	"github.com/joripage/order-relay/pkg/relay/model"
	"github.com/spf13/cobra"
)

func newJournalCmd(load configLoader) *cobra.Command {
	var (
		limit   int
		fromSQL bool
	)

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print the most recent trade records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			var records []model.TradeRecord
			if fromSQL {
				if cfg.Journal.Postgres == nil {
					return errors.New("journal.postgres is not configured")
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				defer cancel()
				db, err := postgres_wrapper.InitPostgresWithBackoff(ctx, cfg.Journal.Postgres)
				if err != nil {
					return err
				}
				sqlJournal := journal.NewSQLJournal(db)
				defer sqlJournal.Close()
				if records, err = sqlJournal.Recent(ctx, limit); err != nil {
					return err
				}
			} else {
				all, err := journal.ReadFile(cfg.Journal.File)
				if err != nil {
					return err
				}
				if limit > 0 && len(all) > limit {
					all = all[len(all)-limit:]
				}
				records = all
			}
			return printRecords(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of records to print")
	cmd.Flags().BoolVar(&fromSQL, "sql", false, "Read from the postgres mirror instead of the journal file")
	return cmd
}

func printRecords(w io.Writer, records []model.TradeRecord) error {
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode record %s: %w", r.OrderID, err)
		}
	}
	return nil
}
