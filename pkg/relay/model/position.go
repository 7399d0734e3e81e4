package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BracketGroup links a stop-loss and a take-profit leg in one OCA group. A leg
// is nil when its submission was rejected.
type BracketGroup struct {
	OCAGroup        string
	StopPrice       decimal.Decimal
	TakeProfitPrice decimal.Decimal
	StopLoss        *SubmittedOrder
	TakeProfit      *SubmittedOrder
}

// Legs returns the legs that reached the gateway.
func (b *BracketGroup) Legs() []SubmittedOrder {
	if b == nil {
		return nil
	}
	var legs []SubmittedOrder
	if b.StopLoss != nil {
		legs = append(legs, *b.StopLoss)
	}
	if b.TakeProfit != nil {
		legs = append(legs, *b.TakeProfit)
	}
	return legs
}

func OCAGroupFor(orderID string) string {
	return fmt.Sprintf("OCA_%s", orderID)
}

// Position is an open position keyed by its parent order id.
type Position struct {
	OrderID    string
	Instrument Instrument
	Action     OrderAction
	Quantity   int64
	Order      SubmittedOrder
	Bracket    *BracketGroup
	OpenedAt   time.Time
}
