package journal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/joripage/order-relay/pkg/relay/model"
	"github.com/redis/go-redis/v9"
)

const DefaultStream = "relay:trades"

type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisJournal appends records to a capped Redis stream.
type RedisJournal struct {
	client streamAdder
	closer func() error
	stream string
	maxLen int64
}

func NewRedisJournal(client *redis.Client, stream string, maxLen int64) *RedisJournal {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisJournal{client: client, closer: client.Close, stream: stream, maxLen: maxLen}
}

func (r *RedisJournal) Name() string {
	return "redis"
}

func (r *RedisJournal) Append(ctx context.Context, record model.TradeRecord) error {
	b, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode trade record: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{
			"order_id": record.OrderID,
			"symbol":   record.Symbol,
			"action":   record.Action,
			"record":   string(b),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	return r.client.XAdd(ctx, args).Err()
}

func (r *RedisJournal) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
