package journal

import (
	"context"

	kafka_wrapper "github.com/joripage/order-relay/pkg/infra/kafka"
	"github.com/joripage/order-relay/pkg/relay/model"
)

const DefaultTopic = "relay.trades"

// KafkaJournal publishes each record keyed by symbol.
type KafkaJournal struct {
	producer *kafka_wrapper.Producer
	topic    string
}

func NewKafkaJournal(producer *kafka_wrapper.Producer, topic string) *KafkaJournal {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaJournal{producer: producer, topic: topic}
}

func (k *KafkaJournal) Name() string {
	return "kafka"
}

func (k *KafkaJournal) Append(ctx context.Context, record model.TradeRecord) error {
	return k.producer.PublishJSON(ctx, k.topic, record.Symbol, record, map[string]string{
		"order_id": record.OrderID,
		"action":   record.Action,
	})
}

func (k *KafkaJournal) Close() error {
	return k.producer.Close()
}
