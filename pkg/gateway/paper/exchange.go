// Package paper is an in-process gateway that fills orders against configured
// quotes. It backs paper trading and tests.
package paper

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/joripage/order-relay/pkg/gateway"
	"github.com/joripage/order-relay/pkg/logging"
	"github.com/joripage/order-relay/pkg/relay/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Config struct {
	Quotes         map[string]float64 `yaml:"quotes"`
	UnknownSymbols []string           `yaml:"unknown_symbols"`
}

type restingOrder struct {
	order   model.SubmittedOrder
	status  model.OrderStatus
	avgFill decimal.Decimal
}

// Exchange keeps orders across connections the way a broker would.
type Exchange struct {
	mu      sync.Mutex
	quotes  map[string]decimal.Decimal
	unknown map[string]bool
	orders  map[string]*restingOrder
	seq     int64
	conn    *conn
	dials   []int
	refuse  int
	log     *logging.Logger
	now     func() time.Time
}

func New(cfg Config, log *logging.Logger) *Exchange {
	if log == nil {
		log = logging.Nop()
	}
	x := &Exchange{
		quotes:  make(map[string]decimal.Decimal),
		unknown: make(map[string]bool),
		orders:  make(map[string]*restingOrder),
		log:     log,
		now:     time.Now,
	}
	for symbol, px := range cfg.Quotes {
		x.quotes[strings.ToUpper(symbol)] = decimal.NewFromFloat(px)
	}
	for _, symbol := range cfg.UnknownSymbols {
		x.unknown[strings.ToUpper(symbol)] = true
	}
	return x
}

// RefuseNext makes the next n dials fail.
func (x *Exchange) RefuseNext(n int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.refuse = n
}

// Dials returns the client ids seen so far.
func (x *Exchange) Dials() []int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]int(nil), x.dials...)
}

func (x *Exchange) Dial(ctx context.Context, clientID int) (gateway.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.dials = append(x.dials, clientID)
	if x.refuse > 0 {
		x.refuse--
		return nil, fmt.Errorf("paper gateway refused client id %d", clientID)
	}
	if x.conn != nil && x.conn.clientID == clientID {
		return nil, fmt.Errorf("client id %d already in use", clientID)
	}
	if x.conn != nil {
		x.conn.closeEvents()
	}

	x.conn = &conn{exchange: x, clientID: clientID, events: make(chan model.OrderEvent, 256)}
	x.log.Info(ctx, "paper gateway accepted connection", zap.Int("client_id", clientID))
	return x.conn, nil
}

// Drop simulates the gateway closing the live connection.
func (x *Exchange) Drop() {
	x.mu.Lock()
	c := x.conn
	x.conn = nil
	x.mu.Unlock()
	if c != nil {
		c.closeEvents()
	}
}

// SetQuote moves the market for symbol and fills whatever the new price
// triggers.
func (x *Exchange) SetQuote(symbol string, price decimal.Decimal) {
	x.mu.Lock()
	defer x.mu.Unlock()

	symbol = strings.ToUpper(symbol)
	x.quotes[symbol] = price
	for _, ro := range x.sortedOrders() {
		if ro.status.IsEnd() || ro.order.Instrument.Symbol != symbol {
			continue
		}
		if triggered(ro.order, price) {
			x.fill(ro, price)
		}
	}
}

// Status reports the current status of an order.
func (x *Exchange) Status(orderID string) (model.OrderStatus, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	ro, ok := x.orders[orderID]
	if !ok {
		return "", false
	}
	return ro.status, true
}

// Orders lists every order in submission order.
func (x *Exchange) Orders() []model.SubmittedOrder {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]model.SubmittedOrder, 0, len(x.orders))
	for _, ro := range x.sortedOrders() {
		out = append(out, ro.order)
	}
	return out
}

func (x *Exchange) sortedOrders() []*restingOrder {
	list := make([]*restingOrder, 0, len(x.orders))
	for _, ro := range x.orders {
		list = append(list, ro)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].order.SubmittedAt.Before(list[j].order.SubmittedAt) ||
			(list[i].order.SubmittedAt.Equal(list[j].order.SubmittedAt) && list[i].order.OrderID < list[j].order.OrderID)
	})
	return list
}

func triggered(o model.SubmittedOrder, px decimal.Decimal) bool {
	switch o.Type {
	case model.OrderTypeMarket:
		return true
	case model.OrderTypeLimit:
		if o.Side == model.OrderSideBuy {
			return px.LessThanOrEqual(o.LimitPrice)
		}
		return px.GreaterThanOrEqual(o.LimitPrice)
	case model.OrderTypeStop:
		if o.Side == model.OrderSideBuy {
			return px.GreaterThanOrEqual(o.StopPrice)
		}
		return px.LessThanOrEqual(o.StopPrice)
	}
	return false
}

func (x *Exchange) emit(ro *restingOrder, text string) {
	if x.conn == nil {
		return
	}
	ev := model.OrderEvent{
		OrderID:       ro.order.OrderID,
		ClientOrderID: ro.order.ClientOrderID,
		Status:        ro.status,
		AvgFillPrice:  ro.avgFill,
		Text:          text,
		Time:          x.now(),
	}
	if ro.status == model.OrderStatusFilled {
		ev.FilledQty = ro.order.Quantity
	}
	x.conn.publish(ev)
}

// fill completes ro at px and cancels the rest of its OCA group.
func (x *Exchange) fill(ro *restingOrder, px decimal.Decimal) {
	ro.status = model.OrderStatusFilled
	ro.avgFill = px
	x.emit(ro, "")

	if ro.order.OCAGroup == "" {
		return
	}
	for _, sibling := range x.sortedOrders() {
		if sibling == ro || sibling.order.OCAGroup != ro.order.OCAGroup || sibling.status.IsEnd() {
			continue
		}
		sibling.status = model.OrderStatusCanceled
		x.emit(sibling, "oca sibling filled")
	}
}

func (x *Exchange) qualify(inst model.Instrument) (model.Instrument, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if inst.Symbol == "" || x.unknown[inst.Symbol] {
		return model.Instrument{}, fmt.Errorf("%w: %q", model.ErrInstrumentUnknown, inst.Symbol)
	}
	inst.SecurityID = "PAPER-" + inst.Symbol
	return inst, nil
}

func (x *Exchange) place(inst model.Instrument, spec model.OrderSpec) (model.SubmittedOrder, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if spec.Quantity <= 0 {
		return model.SubmittedOrder{}, fmt.Errorf("%w: quantity %d", model.ErrGatewayRejected, spec.Quantity)
	}
	if spec.Type == model.OrderTypeLimit && !spec.LimitPrice.IsPositive() {
		return model.SubmittedOrder{}, fmt.Errorf("%w: limit price required", model.ErrGatewayRejected)
	}
	if spec.Type == model.OrderTypeStop && !spec.StopPrice.IsPositive() {
		return model.SubmittedOrder{}, fmt.Errorf("%w: stop price required", model.ErrGatewayRejected)
	}

	x.seq++
	id := fmt.Sprintf("P%06d", x.seq)
	ro := &restingOrder{
		order: model.SubmittedOrder{
			OrderID:       id,
			ClientOrderID: id,
			Instrument:    inst,
			Side:          spec.Side,
			Type:          spec.Type,
			Quantity:      spec.Quantity,
			LimitPrice:    spec.LimitPrice,
			StopPrice:     spec.StopPrice,
			OCAGroup:      spec.OCAGroup,
			SubmittedAt:   x.now(),
		},
		status: model.OrderStatusNew,
	}
	x.orders[id] = ro
	x.emit(ro, "")

	if px, ok := x.quotes[inst.Symbol]; ok && px.IsPositive() && spec.Type == model.OrderTypeMarket {
		x.fill(ro, px)
	}
	return ro.order, nil
}

func (x *Exchange) cancel(order model.SubmittedOrder) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	ro, ok := x.orders[order.OrderID]
	if !ok {
		return fmt.Errorf("%w: unknown order %s", model.ErrGatewayRejected, order.OrderID)
	}
	if ro.status.IsEnd() {
		return fmt.Errorf("%w: order %s is %s", model.ErrGatewayRejected, order.OrderID, ro.status)
	}
	ro.status = model.OrderStatusCanceled
	x.emit(ro, "")
	return nil
}

func (x *Exchange) quote(inst model.Instrument) (decimal.Decimal, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	px, ok := x.quotes[inst.Symbol]
	if !ok || !px.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no quote for %s", model.ErrPriceUnavailable, inst.Symbol)
	}
	return px, nil
}
