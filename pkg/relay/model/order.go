package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderAction string

const (
	ActionBuy    OrderAction = "BUY"
	ActionSell   OrderAction = "SELL"
	ActionCancel OrderAction = "CANCEL"
	ActionClose  OrderAction = "CLOSE"
)

// ParseAction normalizes a webhook action. Unknown values are returned as-is
// and rejected later by OrderIntent.Validate.
func ParseAction(s string) OrderAction {
	return OrderAction(strings.ToUpper(strings.TrimSpace(s)))
}

func (a OrderAction) IsEntry() bool {
	return a == ActionBuy || a == ActionSell
}

// Side returns the order side of an entry action.
func (a OrderAction) Side() OrderSide {
	if a == ActionSell {
		return OrderSideSell
	}
	return OrderSideBuy
}

type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeStop   OrderType = "STOP"
)

// ParseOrderType accepts both the webhook short codes (MKT, LMT) and the
// long names. An empty value means MARKET.
func ParseOrderType(s string) (OrderType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "MKT", "MARKET":
		return OrderTypeMarket, nil
	case "LMT", "LIMIT":
		return OrderTypeLimit, nil
	}
	return "", fmt.Errorf("%w: unsupported order_type %q", ErrInputValidation, s)
}

// Code returns the short form used on the webhook and in the journal.
func (t OrderType) Code() string {
	switch t {
	case OrderTypeMarket:
		return "MKT"
	case OrderTypeLimit:
		return "LMT"
	case OrderTypeStop:
		return "STP"
	}
	return string(t)
}

type OrderStatus string

const (
	OrderStatusPendingNew      OrderStatus = "PendingNew"
	OrderStatusNew             OrderStatus = "New"
	OrderStatusPartiallyFilled OrderStatus = "PartiallyFilled"
	OrderStatusFilled          OrderStatus = "Filled"
	OrderStatusPendingCancel   OrderStatus = "PendingCancel"
	OrderStatusCanceled        OrderStatus = "Canceled"
	OrderStatusRejected        OrderStatus = "Rejected"
	OrderStatusExpired         OrderStatus = "Expired"
)

func (s OrderStatus) IsEnd() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// Instrument is the contract an order is routed against. SecurityID is filled
// in by gateway qualification.
type Instrument struct {
	Symbol     string `json:"symbol"`
	Exchange   string `json:"exchange"`
	Currency   string `json:"currency"`
	SecurityID string `json:"security_id,omitempty"`
}

const (
	DefaultExchange = "SMART"
	DefaultCurrency = "USD"
)

func NewStock(symbol string) Instrument {
	return Instrument{
		Symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		Exchange: DefaultExchange,
		Currency: DefaultCurrency,
	}
}

// OrderIntent is one decoded trade signal.
type OrderIntent struct {
	Action     OrderAction
	Symbol     string
	Quantity   int64
	Type       OrderType
	LimitPrice decimal.NullDecimal
	OrderID    string
}

func (in *OrderIntent) Validate() error {
	switch in.Action {
	case ActionBuy, ActionSell:
		if strings.TrimSpace(in.Symbol) == "" {
			return fmt.Errorf("%w: symbol is required for %s", ErrInputValidation, in.Action)
		}
		if in.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive, got %d", ErrInputValidation, in.Quantity)
		}
		switch in.Type {
		case OrderTypeMarket:
		case OrderTypeLimit:
			if !in.LimitPrice.Valid {
				return fmt.Errorf("%w: limit_price is required for LIMIT orders", ErrInputValidation)
			}
			if !in.LimitPrice.Decimal.IsPositive() {
				return fmt.Errorf("%w: limit_price must be positive", ErrInputValidation)
			}
		default:
			return fmt.Errorf("%w: unsupported order type %q", ErrInputValidation, in.Type)
		}
	case ActionCancel, ActionClose:
		if strings.TrimSpace(in.OrderID) == "" {
			return fmt.Errorf("%w: order_id is required for %s", ErrInputValidation, in.Action)
		}
	default:
		return fmt.Errorf("%w: invalid action %q", ErrInputValidation, in.Action)
	}
	return nil
}

// OrderSpec is what gets sent to the gateway for one order.
type OrderSpec struct {
	Side       OrderSide
	Type       OrderType
	Quantity   int64
	LimitPrice decimal.Decimal
	StopPrice  decimal.Decimal
	OCAGroup   string
}

func MarketOrder(side OrderSide, qty int64) OrderSpec {
	return OrderSpec{Side: side, Type: OrderTypeMarket, Quantity: qty}
}

func LimitOrder(side OrderSide, qty int64, price decimal.Decimal) OrderSpec {
	return OrderSpec{Side: side, Type: OrderTypeLimit, Quantity: qty, LimitPrice: price}
}

func StopOrder(side OrderSide, qty int64, stop decimal.Decimal) OrderSpec {
	return OrderSpec{Side: side, Type: OrderTypeStop, Quantity: qty, StopPrice: stop}
}

// SubmittedOrder is an order acknowledged by the gateway. ClientOrderID is the
// handle the gateway needs to cancel it.
type SubmittedOrder struct {
	OrderID       string
	ClientOrderID string
	Instrument    Instrument
	Side          OrderSide
	Type          OrderType
	Quantity      int64
	LimitPrice    decimal.Decimal
	StopPrice     decimal.Decimal
	OCAGroup      string
	SubmittedAt   time.Time
}

// OrderEvent is a gateway-pushed order status update.
type OrderEvent struct {
	OrderID       string
	ClientOrderID string
	Status        OrderStatus
	FilledQty     int64
	AvgFillPrice  decimal.Decimal
	Text          string
	Time          time.Time
}
