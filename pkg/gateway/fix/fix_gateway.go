package fixgateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/joripage/order-relay/pkg/gateway"
	"github.com/joripage/order-relay/pkg/logging"
	"github.com/joripage/order-relay/pkg/relay/model"
	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/quickfix/log/file"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FixGateway dials FIX 4.4 initiator sessions.
type FixGateway struct {
	cfg Config
	log *logging.Logger
}

func NewFixGateway(cfg Config, log *logging.Logger) *FixGateway {
	if log == nil {
		log = logging.Nop()
	}
	return &FixGateway{cfg: cfg.withDefaults(), log: log}
}

// Dial starts an initiator and waits for logon until ctx is done.
func (g *FixGateway) Dial(ctx context.Context, clientID int) (gateway.Conn, error) {
	settings, err := buildSettings(g.cfg, clientID)
	if err != nil {
		return nil, err
	}

	app := newApplication(clientID, g.log.With(zap.Int("client_id", clientID)))
	logFactory, err := file.NewLogFactory(settings)
	if err != nil {
		return nil, fmt.Errorf("unable to create fix log factory: %w", err)
	}
	initiator, err := quickfix.NewInitiator(app, quickfix.NewMemoryStoreFactory(), settings, logFactory)
	if err != nil {
		return nil, fmt.Errorf("unable to create initiator: %w", err)
	}
	if err := initiator.Start(); err != nil {
		return nil, fmt.Errorf("unable to start fix initiator: %w", err)
	}

	select {
	case <-app.loggedOn:
	case <-ctx.Done():
		initiator.Stop()
		return nil, fmt.Errorf("fix logon to %s:%d: %w", g.cfg.Host, g.cfg.Port, ctx.Err())
	}

	return newConn(app, initiator, g.cfg.Account, quickfix.SendToTarget), nil
}

type sendFunc func(m quickfix.Messagable, sessionID quickfix.SessionID) error

type conn struct {
	app       *Application
	initiator *quickfix.Initiator
	account   string
	sendTo    sendFunc
}

func newConn(app *Application, initiator *quickfix.Initiator, account string, send sendFunc) *conn {
	return &conn{
		app:       app,
		initiator: initiator,
		account:   account,
		sendTo:    send,
	}
}

func (c *conn) ClientID() int {
	return c.app.clientID
}

func (c *conn) Events() <-chan model.OrderEvent {
	return c.app.events
}

func (c *conn) send(m quickfix.Messagable) error {
	if err := c.sendTo(m, c.app.session()); err != nil {
		return fmt.Errorf("%w: send: %v", model.ErrServiceUnavailable, err)
	}
	return nil
}

// request sends m and waits for the reply registered under key. Once the
// message is sent a missing reply leaves the outcome unknown, so it is
// reported as ErrServiceUnavailable and never as a rejection.
func (c *conn) request(ctx context.Context, key string, m quickfix.Messagable) (reply, error) {
	ch := c.app.expect(key)
	if err := c.send(m); err != nil {
		c.app.forget(key)
		return reply{}, err
	}

	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		c.app.forget(key)
		c.app.log.Error(ctx, "no fix reply before deadline, outcome unknown",
			zap.String("cl_ord_id", key),
			zap.Error(ctx.Err()))
		return reply{}, fmt.Errorf("%w: no reply for request %s: %v", model.ErrServiceUnavailable, key, ctx.Err())
	}
}

func (c *conn) Qualify(ctx context.Context, inst model.Instrument) (model.Instrument, error) {
	reqID := uuid.NewString()
	r, err := c.request(ctx, reqID, securityRequestMessage(reqID, inst))
	if err != nil {
		return model.Instrument{}, err
	}
	if r.rejected {
		return model.Instrument{}, fmt.Errorf("%w: %s %s", model.ErrInstrumentUnknown, inst.Symbol, r.text)
	}
	inst.SecurityID = r.securityID
	return inst, nil
}

func (c *conn) PlaceOrder(ctx context.Context, inst model.Instrument, spec model.OrderSpec) (model.SubmittedOrder, error) {
	clOrdID := uuid.NewString()
	now := time.Now()
	r, err := c.request(ctx, clOrdID, newOrderMessage(clOrdID, c.account, inst, spec, now))
	if err != nil {
		return model.SubmittedOrder{}, err
	}
	if r.rejected {
		return model.SubmittedOrder{}, fmt.Errorf("%w: %s", model.ErrGatewayRejected, r.text)
	}

	return model.SubmittedOrder{
		OrderID:       r.orderID,
		ClientOrderID: clOrdID,
		Instrument:    inst,
		Side:          spec.Side,
		Type:          spec.Type,
		Quantity:      spec.Quantity,
		LimitPrice:    spec.LimitPrice,
		StopPrice:     spec.StopPrice,
		OCAGroup:      spec.OCAGroup,
		SubmittedAt:   now,
	}, nil
}

func (c *conn) CancelOrder(ctx context.Context, order model.SubmittedOrder) error {
	clOrdID := uuid.NewString()
	r, err := c.request(ctx, clOrdID, cancelMessage(clOrdID, order, time.Now()))
	if err != nil {
		return err
	}
	if r.rejected {
		return fmt.Errorf("%w: cancel %s: %s", model.ErrGatewayRejected, order.OrderID, r.text)
	}
	return nil
}

func (c *conn) MarketPrice(ctx context.Context, inst model.Instrument) (decimal.Decimal, error) {
	reqID := uuid.NewString()
	r, err := c.request(ctx, reqID, marketDataRequestMessage(reqID, inst))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", model.ErrPriceUnavailable, err)
	}
	if r.rejected {
		return decimal.Zero, fmt.Errorf("%w: %s %s", model.ErrPriceUnavailable, inst.Symbol, r.text)
	}
	return r.price, nil
}

func (c *conn) Close() error {
	if c.initiator != nil {
		c.initiator.Stop()
	}
	c.app.closeEvents()
	return nil
}
