package paper

import (
	"context"
	"sync"

	"github.com/joripage/order-relay/pkg/relay/model"
	"github.com/shopspring/decimal"
)

type conn struct {
	exchange *Exchange
	clientID int

	mu     sync.RWMutex
	events chan model.OrderEvent
	closed bool
}

func (c *conn) ClientID() int {
	return c.clientID
}

func (c *conn) Events() <-chan model.OrderEvent {
	return c.events
}

func (c *conn) publish(ev model.OrderEvent) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	c.events <- ev
}

func (c *conn) closeEvents() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
}

func (c *conn) Qualify(ctx context.Context, inst model.Instrument) (model.Instrument, error) {
	return c.exchange.qualify(inst)
}

func (c *conn) PlaceOrder(ctx context.Context, inst model.Instrument, spec model.OrderSpec) (model.SubmittedOrder, error) {
	return c.exchange.place(inst, spec)
}

func (c *conn) CancelOrder(ctx context.Context, order model.SubmittedOrder) error {
	return c.exchange.cancel(order)
}

func (c *conn) MarketPrice(ctx context.Context, inst model.Instrument) (decimal.Decimal, error) {
	return c.exchange.quote(inst)
}

func (c *conn) Close() error {
	c.exchange.mu.Lock()
	if c.exchange.conn == c {
		c.exchange.conn = nil
	}
	c.exchange.mu.Unlock()
	c.closeEvents()
	return nil
}
