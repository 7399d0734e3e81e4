package fixgateway

import (
	"context"
	"sync"

	"github.com/joripage/order-relay/pkg/logging"
	"github.com/joripage/order-relay/pkg/relay/model"
	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/fix44/executionreport"
	"github.com/quickfixgo/fix44/marketdatarequestreject"
	"github.com/quickfixgo/fix44/marketdatasnapshotfullrefresh"
	"github.com/quickfixgo/fix44/ordercancelreject"
	"github.com/quickfixgo/fix44/securitydefinition"
	"github.com/quickfixgo/quickfix"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const eventBuffer = 1024

// reply answers one outstanding request, keyed by ClOrdID or request id.
type reply struct {
	orderID    string
	status     model.OrderStatus
	rejected   bool
	text       string
	securityID string
	price      decimal.Decimal
}

// Application implements the quickfix.Application interface for one initiator
// session.
type Application struct {
	*quickfix.MessageRouter
	clientID int
	log      *logging.Logger

	logonOnce sync.Once
	loggedOn  chan struct{}
	sessionMu sync.RWMutex
	sessionID quickfix.SessionID

	pendingMu sync.Mutex
	pending   map[string]chan reply

	eventsMu sync.RWMutex
	events   chan model.OrderEvent
	closed   bool
}

func newApplication(clientID int, log *logging.Logger) *Application {
	app := &Application{
		MessageRouter: quickfix.NewMessageRouter(),
		clientID:      clientID,
		log:           log,
		loggedOn:      make(chan struct{}),
		pending:       make(map[string]chan reply),
		events:        make(chan model.OrderEvent, eventBuffer),
	}

	app.AddRoute(executionreport.Route(app.onExecutionReport))
	app.AddRoute(ordercancelreject.Route(app.onOrderCancelReject))
	app.AddRoute(securitydefinition.Route(app.onSecurityDefinition))
	app.AddRoute(marketdatasnapshotfullrefresh.Route(app.onMarketDataSnapshot))
	app.AddRoute(marketdatarequestreject.Route(app.onMarketDataRequestReject))
	return app
}

func (a *Application) session() quickfix.SessionID {
	a.sessionMu.RLock()
	defer a.sessionMu.RUnlock()
	return a.sessionID
}

// OnCreate implemented as part of Application interface
func (a *Application) OnCreate(sessionID quickfix.SessionID) {
	a.sessionMu.Lock()
	a.sessionID = sessionID
	a.sessionMu.Unlock()
}

// OnLogon implemented as part of Application interface
func (a *Application) OnLogon(sessionID quickfix.SessionID) {
	a.log.Info(context.Background(), "fix logon", zap.String("session", sessionID.String()))
	a.logonOnce.Do(func() { close(a.loggedOn) })
}

// OnLogout implemented as part of Application interface. A logout after a
// successful logon ends the connection.
func (a *Application) OnLogout(sessionID quickfix.SessionID) {
	select {
	case <-a.loggedOn:
		a.log.Warn(context.Background(), "fix logout", zap.String("session", sessionID.String()))
		a.closeEvents()
	default:
	}
}

// ToAdmin implemented as part of Application interface
func (a *Application) ToAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) {}

// ToApp implemented as part of Application interface
func (a *Application) ToApp(msg *quickfix.Message, sessionID quickfix.SessionID) error {
	return nil
}

// FromAdmin implemented as part of Application interface
func (a *Application) FromAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	return nil
}

// FromApp implemented as part of Application interface, uses Router on incoming application messages
func (a *Application) FromApp(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	return a.Route(msg, sessionID)
}

func (a *Application) expect(key string) chan reply {
	ch := make(chan reply, 1)
	a.pendingMu.Lock()
	a.pending[key] = ch
	a.pendingMu.Unlock()
	return ch
}

func (a *Application) forget(key string) {
	a.pendingMu.Lock()
	delete(a.pending, key)
	a.pendingMu.Unlock()
}

func (a *Application) resolve(key string, r reply) {
	a.pendingMu.Lock()
	ch, ok := a.pending[key]
	delete(a.pending, key)
	a.pendingMu.Unlock()
	if ok {
		ch <- r
	}
}

func (a *Application) publish(ev model.OrderEvent) {
	a.eventsMu.RLock()
	defer a.eventsMu.RUnlock()
	if a.closed {
		return
	}
	a.events <- ev
}

func (a *Application) closeEvents() {
	a.eventsMu.Lock()
	defer a.eventsMu.Unlock()
	if !a.closed {
		a.closed = true
		close(a.events)
	}
}

func (a *Application) onExecutionReport(msg executionreport.ExecutionReport, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	ev := toOrderEvent(msg)
	a.resolve(ev.ClientOrderID, reply{
		orderID:  ev.OrderID,
		status:   ev.Status,
		rejected: ev.Status == model.OrderStatusRejected,
		text:     ev.Text,
	})
	a.publish(ev)
	return nil
}

func (a *Application) onOrderCancelReject(msg ordercancelreject.OrderCancelReject, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	clOrdID, _ := msg.GetClOrdID()
	orderID, _ := msg.GetOrderID()
	text, _ := msg.GetText()
	a.resolve(clOrdID, reply{orderID: orderID, rejected: true, text: text})
	return nil
}

func (a *Application) onSecurityDefinition(msg securitydefinition.SecurityDefinition, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	reqID, _ := msg.GetSecurityReqID()
	responseType, _ := msg.GetSecurityResponseType()
	securityID, _ := msg.GetSecurityID()
	text, _ := msg.GetText()

	r := reply{securityID: securityID, text: text}
	switch responseType {
	case enum.SecurityResponseType_REJECT_SECURITY_PROPOSAL, enum.SecurityResponseType_CANNOT_MATCH_SELECTION_CRITERIA:
		r.rejected = true
	}
	a.resolve(reqID, r)
	return nil
}

func (a *Application) onMarketDataSnapshot(msg marketdatasnapshotfullrefresh.MarketDataSnapshotFullRefresh, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	reqID, _ := msg.GetMDReqID()
	entries, err := msg.GetNoMDEntries()
	if err != nil {
		a.resolve(reqID, reply{rejected: true, text: "snapshot without entries"})
		return nil
	}

	var last, closing decimal.Decimal
	for i := 0; i < entries.Len(); i++ {
		entry := entries.Get(i)
		entryType, _ := entry.GetMDEntryType()
		px, _ := entry.GetMDEntryPx()
		switch entryType {
		case enum.MDEntryType_TRADE:
			last = px
		case enum.MDEntryType_CLOSING_PRICE:
			closing = px
		}
	}

	price := last
	if !price.IsPositive() {
		price = closing
	}
	a.resolve(reqID, reply{price: price, rejected: !price.IsPositive()})
	return nil
}

func (a *Application) onMarketDataRequestReject(msg marketdatarequestreject.MarketDataRequestReject, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	reqID, _ := msg.GetMDReqID()
	text, _ := msg.GetText()
	a.resolve(reqID, reply{rejected: true, text: text})
	return nil
}
