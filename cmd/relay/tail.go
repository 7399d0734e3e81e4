package main

import (
	"context"
	"encoding/json"
	"errors"
	"os/signal"
	"syscall"

	kafka_wrapper "github.com/joripage/order-relay/pkg/infra/kafka"
	"github.com/joripage/order-relay/pkg/relay/journal"
	"github.com/joripage/order-relay/pkg/relay/model"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newTailCmd(load configLoader) *cobra.Command {
	var (
		groupID   string
		fromStart bool
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow trade records on the kafka journal topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			kCfg := cfg.Journal.Kafka
			if kCfg == nil {
				return errors.New("journal.kafka is not configured")
			}
			topic := kCfg.Topic
			if topic == "" {
				topic = journal.DefaultTopic
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			consumer := kafka_wrapper.NewConsumer(kafka_wrapper.ConsumerConfig{
				Brokers:   kCfg.Brokers,
				GroupID:   groupID,
				Topic:     topic,
				FromStart: fromStart,
			})
			defer consumer.Close()

			out := cmd.OutOrStdout()
			return consumer.Run(ctx, func(ctx context.Context, msg kafka_wrapper.Message) error {
				var record model.TradeRecord
				if err := json.Unmarshal(msg.Value, &record); err != nil {
					zap.S().Warnf("skip malformed record at offset %d: %v", msg.Offset, err)
					return nil
				}
				return printRecords(out, []model.TradeRecord{record})
			})
		},
	}
	cmd.Flags().StringVar(&groupID, "group", "relay-tail", "Kafka consumer group")
	cmd.Flags().BoolVar(&fromStart, "from-start", false, "Start from the first offset when the group has none")
	return cmd
}
