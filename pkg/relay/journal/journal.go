// Package journal appends trade records. The file journal is the record of
// truth; other sinks mirror it.
package journal

import (
	"context"
	"errors"

	"github.com/joripage/order-relay/pkg/logging"
	"github.com/joripage/order-relay/pkg/relay/model"
	"go.uber.org/zap"
)

type Journal interface {
	Append(ctx context.Context, record model.TradeRecord) error
}

// Sink is a Journal that holds resources.
type Sink interface {
	Journal
	Name() string
	Close() error
}

// Multi writes to a primary sink and then to mirrors. Only the primary's
// error is returned; mirror errors are logged.
type Multi struct {
	primary Sink
	mirrors []Sink
	log     *logging.Logger
}

func NewMulti(primary Sink, log *logging.Logger, mirrors ...Sink) *Multi {
	if log == nil {
		log = logging.Nop()
	}
	return &Multi{primary: primary, mirrors: mirrors, log: log}
}

func (m *Multi) Append(ctx context.Context, record model.TradeRecord) error {
	if err := m.primary.Append(ctx, record); err != nil {
		return err
	}
	for _, mirror := range m.mirrors {
		if err := mirror.Append(ctx, record); err != nil {
			m.log.Warn(ctx, "journal mirror append failed",
				zap.String("sink", mirror.Name()),
				zap.String("order_id", record.OrderID),
				zap.Error(err))
		}
	}
	return nil
}

func (m *Multi) Close() error {
	var errs []error
	for _, mirror := range m.mirrors {
		if err := mirror.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.primary.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
