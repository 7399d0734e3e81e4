package fixgateway

import (
	"time"

	"github.com/joripage/order-relay/pkg/relay/model"
	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/field"
	"github.com/quickfixgo/fix44/executionreport"
	"github.com/quickfixgo/fix44/marketdatarequest"
	"github.com/quickfixgo/fix44/newordersingle"
	"github.com/quickfixgo/fix44/ordercancelrequest"
	"github.com/quickfixgo/fix44/securitydefinitionrequest"
	"github.com/quickfixgo/tag"
	"github.com/shopspring/decimal"
)

var (
	OrderStatusMapping = map[enum.OrdStatus]model.OrderStatus{
		enum.OrdStatus_PENDING_NEW:      model.OrderStatusPendingNew,
		enum.OrdStatus_NEW:              model.OrderStatusNew,
		enum.OrdStatus_PARTIALLY_FILLED: model.OrderStatusPartiallyFilled,
		enum.OrdStatus_FILLED:           model.OrderStatusFilled,
		enum.OrdStatus_PENDING_CANCEL:   model.OrderStatusPendingCancel,
		enum.OrdStatus_CANCELED:         model.OrderStatusCanceled,
		enum.OrdStatus_REJECTED:         model.OrderStatusRejected,
		enum.OrdStatus_EXPIRED:          model.OrderStatusExpired,
	}

	SideMapping = map[model.OrderSide]enum.Side{
		model.OrderSideBuy:  enum.Side_BUY,
		model.OrderSideSell: enum.Side_SELL,
	}

	OrdTypeMapping = map[model.OrderType]enum.OrdType{
		model.OrderTypeMarket: enum.OrdType_MARKET,
		model.OrderTypeLimit:  enum.OrdType_LIMIT,
		model.OrderTypeStop:   enum.OrdType_STOP,
	}
)

// price precision used on the wire
const pxScale int32 = 2

func newOrderMessage(clOrdID, account string, inst model.Instrument, spec model.OrderSpec, now time.Time) newordersingle.NewOrderSingle {
	msg := newordersingle.New(
		field.NewClOrdID(clOrdID),
		field.NewSide(SideMapping[spec.Side]),
		field.NewTransactTime(now),
		field.NewOrdType(OrdTypeMapping[spec.Type]))
	msg.SetSymbol(inst.Symbol)
	if inst.SecurityID != "" {
		msg.SetSecurityID(inst.SecurityID)
	}
	if inst.Exchange != "" {
		msg.SetSecurityExchange(inst.Exchange)
	}
	if inst.Currency != "" {
		msg.SetCurrency(inst.Currency)
	}
	if account != "" {
		msg.SetAccount(account)
	}
	msg.SetOrderQty(decimal.NewFromInt(spec.Quantity), 0)

	switch spec.Type {
	case model.OrderTypeMarket:
		msg.SetTimeInForce(enum.TimeInForce_DAY)
	case model.OrderTypeLimit:
		msg.SetPrice(spec.LimitPrice, pxScale)
		msg.SetTimeInForce(enum.TimeInForce_GOOD_TILL_CANCEL)
	case model.OrderTypeStop:
		msg.SetStopPx(spec.StopPrice, pxScale)
		msg.SetTimeInForce(enum.TimeInForce_GOOD_TILL_CANCEL)
	}

	// one-cancels-all membership rides on ListID
	if spec.OCAGroup != "" {
		msg.Body.SetString(tag.ListID, spec.OCAGroup)
	}
	return msg
}

func cancelMessage(clOrdID string, order model.SubmittedOrder, now time.Time) ordercancelrequest.OrderCancelRequest {
	msg := ordercancelrequest.New(
		field.NewOrigClOrdID(order.ClientOrderID),
		field.NewClOrdID(clOrdID),
		field.NewSide(SideMapping[order.Side]),
		field.NewTransactTime(now))
	msg.SetOrderID(order.OrderID)
	msg.SetSymbol(order.Instrument.Symbol)
	msg.SetOrderQty(decimal.NewFromInt(order.Quantity), 0)
	return msg
}

func securityRequestMessage(reqID string, inst model.Instrument) securitydefinitionrequest.SecurityDefinitionRequest {
	msg := securitydefinitionrequest.New(
		field.NewSecurityReqID(reqID),
		field.NewSecurityRequestType(enum.SecurityRequestType_REQUEST_SECURITY_IDENTITY_AND_SPECIFICATIONS))
	msg.SetSymbol(inst.Symbol)
	msg.SetSecurityExchange(inst.Exchange)
	msg.SetCurrency(inst.Currency)
	return msg
}

func marketDataRequestMessage(reqID string, inst model.Instrument) marketdatarequest.MarketDataRequest {
	msg := marketdatarequest.New(
		field.NewMDReqID(reqID),
		field.NewSubscriptionRequestType(enum.SubscriptionRequestType_SNAPSHOT),
		field.NewMarketDepth(1))

	types := marketdatarequest.NewNoMDEntryTypesRepeatingGroup()
	types.Add().SetMDEntryType(enum.MDEntryType_TRADE)
	types.Add().SetMDEntryType(enum.MDEntryType_CLOSING_PRICE)
	msg.SetNoMDEntryTypes(types)

	syms := marketdatarequest.NewNoRelatedSymRepeatingGroup()
	sym := syms.Add()
	sym.SetSymbol(inst.Symbol)
	if inst.SecurityID != "" {
		sym.SetSecurityID(inst.SecurityID)
	}
	msg.SetNoRelatedSym(syms)
	return msg
}

func toOrderEvent(msg executionreport.ExecutionReport) model.OrderEvent {
	orderID, _ := msg.GetOrderID()
	clOrdID, _ := msg.GetClOrdID()
	ordStatus, _ := msg.GetOrdStatus()
	cumQty, _ := msg.GetCumQty()
	avgPx, _ := msg.GetAvgPx()
	text, _ := msg.GetText()
	transactTime, err := msg.GetTransactTime()
	if err != nil {
		transactTime = time.Now()
	}

	return model.OrderEvent{
		OrderID:       orderID,
		ClientOrderID: clOrdID,
		Status:        OrderStatusMapping[ordStatus],
		FilledQty:     cumQty.IntPart(),
		AvgFillPrice:  avgPx,
		Text:          text,
		Time:          transactTime,
	}
}
