// Package bracket computes stop-loss and take-profit prices for a filled parent order.
package bracket

import (
	"errors"
	"fmt"

	"github.com/joripage/order-relay/pkg/relay/model"
	"github.com/shopspring/decimal"
)

var (
	errInvalidFillPrice = errors.New("fill price must be positive")
	errInvalidFraction  = errors.New("fraction must be in [0,1)")
)

const DefaultPlaces int32 = 2

type Prices struct {
	Stop       decimal.Decimal
	TakeProfit decimal.Decimal
}

type Calculator struct {
	stopLoss   decimal.Decimal
	takeProfit decimal.Decimal
	places     int32
}

func NewCalculator(stopLossFrac, takeProfitFrac float64, places int32) (*Calculator, error) {
	c := &Calculator{
		stopLoss:   decimal.NewFromFloat(stopLossFrac),
		takeProfit: decimal.NewFromFloat(takeProfitFrac),
		places:     places,
	}
	if err := checkFraction(c.stopLoss); err != nil {
		return nil, fmt.Errorf("stop loss: %w", err)
	}
	if err := checkFraction(c.takeProfit); err != nil {
		return nil, fmt.Errorf("take profit: %w", err)
	}
	return c, nil
}

func (c *Calculator) Compute(fill decimal.Decimal, side model.OrderSide) (Prices, error) {
	return Compute(fill, side, c.stopLoss, c.takeProfit, c.places)
}

// Compute returns the protective prices for a position entered at fill.
// BUY: stop below, take profit above. SELL: mirrored.
func Compute(fill decimal.Decimal, side model.OrderSide, stopLoss, takeProfit decimal.Decimal, places int32) (Prices, error) {
	if !fill.IsPositive() {
		return Prices{}, errInvalidFillPrice
	}
	if err := checkFraction(stopLoss); err != nil {
		return Prices{}, err
	}
	if err := checkFraction(takeProfit); err != nil {
		return Prices{}, err
	}

	one := decimal.NewFromInt(1)
	var stop, tp decimal.Decimal
	switch side {
	case model.OrderSideBuy:
		stop = fill.Mul(one.Sub(stopLoss))
		tp = fill.Mul(one.Add(takeProfit))
	case model.OrderSideSell:
		stop = fill.Mul(one.Add(stopLoss))
		tp = fill.Mul(one.Sub(takeProfit))
	default:
		return Prices{}, fmt.Errorf("unknown side %q", side)
	}

	return Prices{
		Stop:       stop.Round(places),
		TakeProfit: tp.Round(places),
	}, nil
}

func checkFraction(f decimal.Decimal) error {
	if f.IsNegative() || f.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errInvalidFraction
	}
	return nil
}
