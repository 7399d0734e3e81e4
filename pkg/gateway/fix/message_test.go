package fixgateway

import (
	"testing"
	"time"

	"github.com/joripage/order-relay/pkg/relay/model"
	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/field"
	"github.com/quickfixgo/fix44/executionreport"
	"github.com/quickfixgo/tag"
	"github.com/shopspring/decimal"
)

func TestNewOrderMessageStopLeg(t *testing.T) {
	inst := model.NewStock("AAPL")
	spec := model.StopOrder(model.OrderSideSell, 10, decimal.RequireFromString("98.00"))
	spec.OCAGroup = "OCA_42"

	msg := newOrderMessage("C1", "ACC1", inst, spec, time.Now())

	if v, _ := msg.GetOrdType(); v != enum.OrdType_STOP {
		t.Fatalf("ord type = %s", v)
	}
	if v, _ := msg.GetSide(); v != enum.Side_SELL {
		t.Fatalf("side = %s", v)
	}
	if v, _ := msg.GetStopPx(); !v.Equal(decimal.RequireFromString("98")) {
		t.Fatalf("stop px = %s", v)
	}
	if v, _ := msg.GetOrderQty(); !v.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("qty = %s", v)
	}
	if v, err := msg.Body.GetString(tag.ListID); err != nil || v != "OCA_42" {
		t.Fatalf("list id = %q, %v", v, err)
	}
	if msg.Body.Has(tag.Price) {
		t.Fatal("stop leg must not carry a limit price")
	}
}

func TestNewOrderMessageLimit(t *testing.T) {
	spec := model.LimitOrder(model.OrderSideBuy, 5, decimal.RequireFromString("187.33"))
	msg := newOrderMessage("C2", "", model.NewStock("MSFT"), spec, time.Now())

	if v, _ := msg.GetOrdType(); v != enum.OrdType_LIMIT {
		t.Fatalf("ord type = %s", v)
	}
	if v, _ := msg.GetPrice(); !v.Equal(decimal.RequireFromString("187.33")) {
		t.Fatalf("price = %s", v)
	}
	if v, _ := msg.GetSymbol(); v != "MSFT" {
		t.Fatalf("symbol = %s", v)
	}
	if msg.Body.Has(tag.ListID) {
		t.Fatal("parent order must not join an OCA group")
	}
}

func TestCancelMessage(t *testing.T) {
	order := model.SubmittedOrder{
		OrderID:       "O1",
		ClientOrderID: "C1",
		Instrument:    model.NewStock("AAPL"),
		Side:          model.OrderSideBuy,
		Quantity:      3,
	}
	msg := cancelMessage("C9", order, time.Now())

	if v, _ := msg.GetOrigClOrdID(); v != "C1" {
		t.Fatalf("orig cl ord id = %s", v)
	}
	if v, _ := msg.GetClOrdID(); v != "C9" {
		t.Fatalf("cl ord id = %s", v)
	}
	if v, _ := msg.GetOrderID(); v != "O1" {
		t.Fatalf("order id = %s", v)
	}
}

func TestToOrderEvent(t *testing.T) {
	msg := executionreport.New(
		field.NewOrderID("O1"),
		field.NewExecID("E1"),
		field.NewExecType(enum.ExecType_TRADE),
		field.NewOrdStatus(enum.OrdStatus_FILLED),
		field.NewSide(enum.Side_BUY),
		field.NewLeavesQty(decimal.Zero, 0),
		field.NewCumQty(decimal.NewFromInt(10), 0),
		field.NewAvgPx(decimal.RequireFromString("100.25"), 2),
	)
	msg.SetClOrdID("C1")

	ev := toOrderEvent(msg)
	if ev.OrderID != "O1" || ev.ClientOrderID != "C1" {
		t.Fatalf("ids = %s/%s", ev.OrderID, ev.ClientOrderID)
	}
	if ev.Status != model.OrderStatusFilled {
		t.Fatalf("status = %s", ev.Status)
	}
	if ev.FilledQty != 10 {
		t.Fatalf("filled = %d", ev.FilledQty)
	}
	if !ev.AvgFillPrice.Equal(decimal.RequireFromString("100.25")) {
		t.Fatalf("avg px = %s", ev.AvgFillPrice)
	}
}
