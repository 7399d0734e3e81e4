package fixgateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/joripage/order-relay/pkg/gateway"
	"github.com/joripage/order-relay/pkg/logging"
	"github.com/joripage/order-relay/pkg/relay/model"
	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/field"
	"github.com/quickfixgo/fix44/executionreport"
	"github.com/quickfixgo/fix44/marketdatarequestreject"
	"github.com/quickfixgo/fix44/marketdatasnapshotfullrefresh"
	"github.com/quickfixgo/fix44/ordercancelreject"
	"github.com/quickfixgo/fix44/securitydefinition"
	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/tag"
	"github.com/shopspring/decimal"
)

var testSession = quickfix.SessionID{
	BeginString:  quickfix.BeginStringFIX44,
	SenderCompID: "RELAY",
	TargetCompID: "BROKER",
}

// responder plays the broker side: it sees every outgoing message and may
// answer it synchronously.
type responder func(msg *quickfix.Message) quickfix.Messagable

func newTestConn(t *testing.T, respond responder) (*conn, *Application) {
	t.Helper()
	app := newApplication(7, logging.Nop())
	app.OnCreate(testSession)
	app.OnLogon(testSession)

	c := newConn(app, nil, "ACC1", func(m quickfix.Messagable, sessionID quickfix.SessionID) error {
		if sessionID != testSession {
			return fmt.Errorf("unexpected session %s", sessionID)
		}
		if respond == nil {
			return nil
		}
		if r := respond(m.ToMessage()); r != nil {
			deliver(t, app, r)
		}
		return nil
	})
	return c, app
}

func deliver(t *testing.T, app *Application, m quickfix.Messagable) {
	t.Helper()
	if rej := app.FromApp(m.ToMessage(), testSession); rej != nil {
		t.Fatalf("route incoming message: %v", rej)
	}
}

func incoming(msgType enum.MsgType) *quickfix.Message {
	msg := quickfix.NewMessage()
	msg.Header.Set(field.NewBeginString(quickfix.BeginStringFIX44))
	msg.Header.Set(field.NewMsgType(msgType))
	return msg
}

func bodyString(t *testing.T, msg *quickfix.Message, tg quickfix.Tag) string {
	t.Helper()
	v, err := msg.Body.GetString(tg)
	if err != nil {
		t.Fatalf("outgoing message missing tag %d: %v", tg, err)
	}
	return v
}

func execReport(orderID, clOrdID string, status enum.OrdStatus, cumQty int64, avgPx string) executionreport.ExecutionReport {
	er := executionreport.New(
		field.NewOrderID(orderID),
		field.NewExecID("E-"+orderID),
		field.NewExecType(enum.ExecType_NEW),
		field.NewOrdStatus(status),
		field.NewSide(enum.Side_BUY),
		field.NewLeavesQty(decimal.Zero, 0),
		field.NewCumQty(decimal.NewFromInt(cumQty), 0),
		field.NewAvgPx(decimal.RequireFromString(avgPx), 2),
	)
	er.SetClOrdID(clOrdID)
	return er
}

func nextEvent(t *testing.T, app *Application) model.OrderEvent {
	t.Helper()
	select {
	case ev, ok := <-app.events:
		if !ok {
			t.Fatal("events closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("no order event")
	}
	return model.OrderEvent{}
}

func pendingCount(app *Application) int {
	app.pendingMu.Lock()
	defer app.pendingMu.Unlock()
	return len(app.pending)
}

func TestPlaceOrderAcknowledged(t *testing.T) {
	var sentClOrdID string
	c, app := newTestConn(t, func(msg *quickfix.Message) quickfix.Messagable {
		sentClOrdID = bodyString(t, msg, tag.ClOrdID)
		return execReport("O-1", sentClOrdID, enum.OrdStatus_NEW, 0, "0")
	})

	spec := model.MarketOrder(model.OrderSideBuy, 10)
	order, err := c.PlaceOrder(context.Background(), model.NewStock("AAPL"), spec)
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if order.OrderID != "O-1" || order.ClientOrderID != sentClOrdID || order.Quantity != 10 {
		t.Fatalf("order = %+v", order)
	}
	if ev := nextEvent(t, app); ev.OrderID != "O-1" || ev.Status != model.OrderStatusNew {
		t.Fatalf("event = %+v", ev)
	}
	if n := pendingCount(app); n != 0 {
		t.Fatalf("pending replies left: %d", n)
	}
}

func TestPlaceOrderRejected(t *testing.T) {
	c, app := newTestConn(t, func(msg *quickfix.Message) quickfix.Messagable {
		er := execReport("O-2", bodyString(t, msg, tag.ClOrdID), enum.OrdStatus_REJECTED, 0, "0")
		er.SetText("insufficient margin")
		return er
	})

	_, err := c.PlaceOrder(context.Background(), model.NewStock("AAPL"), model.MarketOrder(model.OrderSideBuy, 1))
	if !errors.Is(err, model.ErrGatewayRejected) || !strings.Contains(err.Error(), "insufficient margin") {
		t.Fatalf("err = %v", err)
	}
	if ev := nextEvent(t, app); ev.Status != model.OrderStatusRejected {
		t.Fatalf("event = %+v", ev)
	}
}

func TestUnsolicitedFillIsPublished(t *testing.T) {
	_, app := newTestConn(t, nil)

	deliver(t, app, execReport("O-3", "C-3", enum.OrdStatus_FILLED, 10, "101.25"))

	ev := nextEvent(t, app)
	if ev.OrderID != "O-3" || ev.Status != model.OrderStatusFilled || ev.FilledQty != 10 {
		t.Fatalf("event = %+v", ev)
	}
	if !ev.AvgFillPrice.Equal(decimal.RequireFromString("101.25")) {
		t.Fatalf("avg fill = %s", ev.AvgFillPrice)
	}
}

func TestReplyMatchedByKey(t *testing.T) {
	_, app := newTestConn(t, nil)

	a := app.expect("A")
	b := app.expect("B")
	app.resolve("B", reply{orderID: "OB"})
	app.resolve("unknown", reply{orderID: "X"})

	select {
	case r := <-b:
		if r.orderID != "OB" {
			t.Fatalf("reply = %+v", r)
		}
	default:
		t.Fatal("reply for B not delivered")
	}
	select {
	case r := <-a:
		t.Fatalf("A received a reply meant for another key: %+v", r)
	default:
	}

	app.forget("A")
	app.resolve("A", reply{orderID: "late"})
	if n := pendingCount(app); n != 0 {
		t.Fatalf("pending = %d", n)
	}
}

var restingOrder = model.SubmittedOrder{
	OrderID:       "O-9",
	ClientOrderID: "C-9",
	Instrument:    model.NewStock("AAPL"),
	Side:          model.OrderSideSell,
	Type:          model.OrderTypeStop,
	Quantity:      10,
}

func TestCancelRejected(t *testing.T) {
	c, _ := newTestConn(t, func(msg *quickfix.Message) quickfix.Messagable {
		rej := ordercancelreject.FromMessage(incoming(enum.MsgType_ORDER_CANCEL_REJECT))
		rej.SetClOrdID(bodyString(t, msg, tag.ClOrdID))
		rej.SetOrigClOrdID(bodyString(t, msg, tag.OrigClOrdID))
		rej.SetOrderID("O-9")
		rej.SetText("too late to cancel")
		return rej
	})

	err := c.CancelOrder(context.Background(), restingOrder)
	if !errors.Is(err, model.ErrGatewayRejected) || !strings.Contains(err.Error(), "too late to cancel") {
		t.Fatalf("err = %v", err)
	}
}

func TestCancelAccepted(t *testing.T) {
	c, app := newTestConn(t, func(msg *quickfix.Message) quickfix.Messagable {
		if orig := bodyString(t, msg, tag.OrigClOrdID); orig != "C-9" {
			t.Errorf("orig cl ord id = %s", orig)
		}
		return execReport("O-9", bodyString(t, msg, tag.ClOrdID), enum.OrdStatus_CANCELED, 0, "0")
	})

	if err := c.CancelOrder(context.Background(), restingOrder); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if ev := nextEvent(t, app); ev.OrderID != "O-9" || ev.Status != model.OrderStatusCanceled {
		t.Fatalf("event = %+v", ev)
	}
}

func securityDefinitionReply(t *testing.T, responseType enum.SecurityResponseType, securityID string) responder {
	return func(msg *quickfix.Message) quickfix.Messagable {
		def := securitydefinition.FromMessage(incoming(enum.MsgType_SECURITY_DEFINITION))
		def.SetSecurityReqID(bodyString(t, msg, tag.SecurityReqID))
		def.SetSecurityResponseID("R1")
		def.SetSecurityResponseType(responseType)
		if securityID != "" {
			def.SetSecurityID(securityID)
		}
		return def
	}
}

func TestQualifyAccepted(t *testing.T) {
	c, _ := newTestConn(t, securityDefinitionReply(t, enum.SecurityResponseType_ACCEPT_SECURITY_PROPOSAL_AS_IS, "SEC-AAPL"))

	inst, err := c.Qualify(context.Background(), model.NewStock("AAPL"))
	if err != nil {
		t.Fatalf("qualify: %v", err)
	}
	if inst.SecurityID != "SEC-AAPL" || inst.Symbol != "AAPL" {
		t.Fatalf("instrument = %+v", inst)
	}
}

func TestQualifyRejected(t *testing.T) {
	for _, rt := range []enum.SecurityResponseType{
		enum.SecurityResponseType_REJECT_SECURITY_PROPOSAL,
		enum.SecurityResponseType_CANNOT_MATCH_SELECTION_CRITERIA,
	} {
		c, _ := newTestConn(t, securityDefinitionReply(t, rt, ""))
		_, err := c.Qualify(context.Background(), model.NewStock("NOPE"))
		if !errors.Is(err, model.ErrInstrumentUnknown) {
			t.Fatalf("response type %s: err = %v", rt, err)
		}
	}
}

type mdEntry struct {
	typ enum.MDEntryType
	px  string
}

func snapshotReply(t *testing.T, entries ...mdEntry) responder {
	return func(msg *quickfix.Message) quickfix.Messagable {
		snap := marketdatasnapshotfullrefresh.FromMessage(incoming(enum.MsgType_MARKET_DATA_SNAPSHOT_FULL_REFRESH))
		snap.SetMDReqID(bodyString(t, msg, tag.MDReqID))
		snap.SetSymbol("AAPL")
		if len(entries) > 0 {
			group := marketdatasnapshotfullrefresh.NewNoMDEntriesRepeatingGroup()
			for _, e := range entries {
				entry := group.Add()
				entry.SetMDEntryType(e.typ)
				entry.SetMDEntryPx(decimal.RequireFromString(e.px), 2)
			}
			snap.SetNoMDEntries(group)
		}
		return snap
	}
}

func TestMarketPrice(t *testing.T) {
	cases := []struct {
		name    string
		entries []mdEntry
		want    string
	}{
		{"last trade wins", []mdEntry{{enum.MDEntryType_CLOSING_PRICE, "100.00"}, {enum.MDEntryType_TRADE, "101.50"}}, "101.5"},
		{"closing price fallback", []mdEntry{{enum.MDEntryType_CLOSING_PRICE, "99.75"}}, "99.75"},
		{"zero trade uses close", []mdEntry{{enum.MDEntryType_TRADE, "0"}, {enum.MDEntryType_CLOSING_PRICE, "98.00"}}, "98"},
	}
	for _, tc := range cases {
		c, _ := newTestConn(t, snapshotReply(t, tc.entries...))
		px, err := c.MarketPrice(context.Background(), model.NewStock("AAPL"))
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if !px.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("%s: price = %s, want %s", tc.name, px, tc.want)
		}
	}
}

func TestMarketPriceUnavailable(t *testing.T) {
	cases := map[string]responder{
		"no positive price": snapshotReply(t, mdEntry{enum.MDEntryType_TRADE, "0"}, mdEntry{enum.MDEntryType_CLOSING_PRICE, "0"}),
		"no entries":        snapshotReply(t),
		"request rejected": func(msg *quickfix.Message) quickfix.Messagable {
			rej := marketdatarequestreject.FromMessage(incoming(enum.MsgType_MARKET_DATA_REQUEST_REJECT))
			rej.SetMDReqID(bodyString(t, msg, tag.MDReqID))
			rej.SetText("no market data permission")
			return rej
		},
	}
	for name, respond := range cases {
		c, _ := newTestConn(t, respond)
		_, err := c.MarketPrice(context.Background(), model.NewStock("AAPL"))
		if !errors.Is(err, model.ErrPriceUnavailable) {
			t.Fatalf("%s: err = %v", name, err)
		}
	}
}

func TestMissingReplyIsUnknownOutcome(t *testing.T) {
	c, app := newTestConn(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.PlaceOrder(ctx, model.NewStock("AAPL"), model.MarketOrder(model.OrderSideBuy, 1))
	if !errors.Is(err, model.ErrServiceUnavailable) {
		t.Fatalf("err = %v, want ErrServiceUnavailable", err)
	}
	if errors.Is(err, model.ErrGatewayRejected) {
		t.Fatal("a missing reply must not be reported as a rejection")
	}
	if n := pendingCount(app); n != 0 {
		t.Fatalf("pending = %d", n)
	}
}

func TestSendFailure(t *testing.T) {
	app := newApplication(7, logging.Nop())
	c := newConn(app, nil, "", func(quickfix.Messagable, quickfix.SessionID) error {
		return errors.New("session not found")
	})

	err := c.CancelOrder(context.Background(), restingOrder)
	if !errors.Is(err, model.ErrServiceUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if n := pendingCount(app); n != 0 {
		t.Fatalf("pending = %d", n)
	}
}

func TestLogoutBeforeLogonKeepsEvents(t *testing.T) {
	app := newApplication(7, logging.Nop())
	app.OnCreate(testSession)
	app.OnLogout(testSession)

	app.publish(model.OrderEvent{OrderID: "O-1"})
	if ev := nextEvent(t, app); ev.OrderID != "O-1" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestLogoutAfterLogonClosesEvents(t *testing.T) {
	_, app := newTestConn(t, nil)
	app.OnLogout(testSession)

	select {
	case _, ok := <-app.events:
		if ok {
			t.Fatal("unexpected event")
		}
	case <-time.After(time.Second):
		t.Fatal("events not closed after logout")
	}
	app.publish(model.OrderEvent{OrderID: "late"})
	app.closeEvents()
}

type dialFunc func(ctx context.Context, clientID int) (gateway.Conn, error)

func (f dialFunc) Dial(ctx context.Context, clientID int) (gateway.Conn, error) {
	return f(ctx, clientID)
}

func TestSessionDetachesOnLogout(t *testing.T) {
	var app *Application
	driver := dialFunc(func(ctx context.Context, clientID int) (gateway.Conn, error) {
		c, a := newTestConn(t, nil)
		app = a
		return c, nil
	})
	session := gateway.NewSession(driver, gateway.Config{BaseClientID: 7, MaxAttempts: 1, BaseDelay: time.Millisecond}, nil)
	defer session.Close()

	if !session.EnsureConnected(context.Background()) {
		t.Fatal("connect failed")
	}
	app.OnLogout(testSession)

	deadline := time.Now().Add(time.Second)
	for session.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("session still connected after fix logout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
