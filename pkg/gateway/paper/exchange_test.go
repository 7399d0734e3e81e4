package paper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joripage/order-relay/pkg/gateway"
	"github.com/joripage/order-relay/pkg/relay/model"
	"github.com/shopspring/decimal"
)

func dial(t *testing.T, x *Exchange, id int) gateway.Conn {
	t.Helper()
	c, err := x.Dial(context.Background(), id)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return c
}

func drain(c gateway.Conn) []model.OrderEvent {
	var out []model.OrderEvent
	for {
		select {
		case ev := <-c.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestMarketOrderFillsAtQuote(t *testing.T) {
	x := New(Config{Quotes: map[string]float64{"AAPL": 100}}, nil)
	c := dial(t, x, 1)
	ctx := context.Background()

	order, err := c.PlaceOrder(ctx, model.NewStock("AAPL"), model.MarketOrder(model.OrderSideBuy, 10))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if st, _ := x.Status(order.OrderID); st != model.OrderStatusFilled {
		t.Fatalf("status = %s", st)
	}

	events := drain(c)
	if len(events) != 2 {
		t.Fatalf("events = %d", len(events))
	}
	last := events[1]
	if last.Status != model.OrderStatusFilled || !last.AvgFillPrice.Equal(decimal.NewFromInt(100)) || last.FilledQty != 10 {
		t.Fatalf("fill event = %+v", last)
	}
}

func TestMarketOrderWithoutQuoteRests(t *testing.T) {
	x := New(Config{}, nil)
	c := dial(t, x, 1)

	order, err := c.PlaceOrder(context.Background(), model.NewStock("XYZ"), model.MarketOrder(model.OrderSideBuy, 10))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if st, _ := x.Status(order.OrderID); st != model.OrderStatusNew {
		t.Fatalf("status = %s", st)
	}

	x.SetQuote("XYZ", decimal.NewFromInt(7))
	if st, _ := x.Status(order.OrderID); st != model.OrderStatusFilled {
		t.Fatalf("status after quote = %s", st)
	}
}

func TestOCASiblingCanceledOnFill(t *testing.T) {
	x := New(Config{Quotes: map[string]float64{"AAPL": 100}}, nil)
	c := dial(t, x, 1)
	ctx := context.Background()
	inst := model.NewStock("AAPL")

	stop := model.StopOrder(model.OrderSideSell, 10, decimal.NewFromInt(98))
	stop.OCAGroup = "OCA_1"
	tp := model.LimitOrder(model.OrderSideSell, 10, decimal.NewFromInt(104))
	tp.OCAGroup = "OCA_1"

	sl, err := c.PlaceOrder(ctx, inst, stop)
	if err != nil {
		t.Fatalf("place stop: %v", err)
	}
	lim, err := c.PlaceOrder(ctx, inst, tp)
	if err != nil {
		t.Fatalf("place limit: %v", err)
	}

	x.SetQuote("AAPL", decimal.NewFromInt(101))
	if st, _ := x.Status(sl.OrderID); st != model.OrderStatusNew {
		t.Fatalf("stop triggered early: %s", st)
	}

	x.SetQuote("AAPL", decimal.NewFromInt(105))
	if st, _ := x.Status(lim.OrderID); st != model.OrderStatusFilled {
		t.Fatalf("take profit status = %s", st)
	}
	if st, _ := x.Status(sl.OrderID); st != model.OrderStatusCanceled {
		t.Fatalf("stop status = %s", st)
	}
}

func TestCancel(t *testing.T) {
	x := New(Config{}, nil)
	c := dial(t, x, 1)
	ctx := context.Background()

	order, err := c.PlaceOrder(ctx, model.NewStock("AAPL"), model.LimitOrder(model.OrderSideBuy, 1, decimal.NewFromInt(50)))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if err := c.CancelOrder(ctx, order); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := c.CancelOrder(ctx, order); !errors.Is(err, model.ErrGatewayRejected) {
		t.Fatalf("second cancel err = %v", err)
	}
}

func TestQualifyAndQuote(t *testing.T) {
	x := New(Config{UnknownSymbols: []string{"nope"}}, nil)
	c := dial(t, x, 1)
	ctx := context.Background()

	inst, err := c.Qualify(ctx, model.NewStock("AAPL"))
	if err != nil || inst.SecurityID == "" {
		t.Fatalf("qualify = %+v, %v", inst, err)
	}
	if _, err := c.Qualify(ctx, model.NewStock("NOPE")); !errors.Is(err, model.ErrInstrumentUnknown) {
		t.Fatalf("err = %v", err)
	}
	if _, err := c.MarketPrice(ctx, model.NewStock("AAPL")); !errors.Is(err, model.ErrPriceUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestDialRejectsLiveClientID(t *testing.T) {
	x := New(Config{}, nil)
	dial(t, x, 7)
	if _, err := x.Dial(context.Background(), 7); err == nil {
		t.Fatal("expected duplicate client id to be refused")
	}
}

func TestSessionOverPaper(t *testing.T) {
	x := New(Config{Quotes: map[string]float64{"AAPL": 187.33}}, nil)
	x.RefuseNext(1)
	s := gateway.NewSession(x, gateway.Config{BaseClientID: 1000, BaseDelay: time.Millisecond, CallTimeout: time.Second}, nil)
	defer s.Close()
	ctx := context.Background()

	if !s.EnsureConnected(ctx) {
		t.Fatal("connect failed")
	}
	if got := x.Dials(); len(got) != 2 || got[0] == got[1] {
		t.Fatalf("dials = %v", got)
	}

	order, err := s.Submit(ctx, model.NewStock("AAPL"), model.MarketOrder(model.OrderSideBuy, 10))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	price, ok := s.WaitFill(ctx, order.OrderID, time.Second)
	if !ok || !price.Equal(decimal.RequireFromString("187.33")) {
		t.Fatalf("fill = %s, %v", price, ok)
	}

	x.Drop()
	deadline := time.Now().Add(time.Second)
	for s.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("session did not notice the drop")
		}
		time.Sleep(time.Millisecond)
	}
	if !s.EnsureConnected(ctx) {
		t.Fatal("reconnect failed")
	}
}
