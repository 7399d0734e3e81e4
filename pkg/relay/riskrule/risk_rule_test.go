package riskrule

import (
	"errors"
	"testing"

	"github.com/joripage/order-relay/pkg/relay/model"
	"github.com/shopspring/decimal"
)

func limitIntent(symbol, price string, qty int64) *model.OrderIntent {
	return &model.OrderIntent{
		Action:     model.ActionBuy,
		Symbol:     symbol,
		Quantity:   qty,
		Type:       model.OrderTypeLimit,
		LimitPrice: decimal.NewNullDecimal(decimal.RequireFromString(price)),
	}
}

func TestMaxQuantityRule(t *testing.T) {
	r := &MaxQuantityRule{Max: 100}
	if err := r.Check(limitIntent("AAPL", "10", 100)); err != nil {
		t.Errorf("quantity at limit should pass: %v", err)
	}
	if err := r.Check(limitIntent("AAPL", "10", 101)); !errors.Is(err, model.ErrInputValidation) {
		t.Errorf("expected ErrInputValidation, got %v", err)
	}
	if err := r.Check(&model.OrderIntent{Action: model.ActionClose, OrderID: "1"}); err != nil {
		t.Errorf("close must not be checked: %v", err)
	}
}

func TestTickSizeRule(t *testing.T) {
	r := &TickSizeRule{Tiers: map[string][]TickTier{
		"*": {
			{MaxPrice: decimal.NewFromInt(1), Step: decimal.RequireFromString("0.0001")},
			{Step: decimal.RequireFromString("0.01")},
		},
		"ES": {{Step: decimal.RequireFromString("0.25")}},
	}}

	cases := []struct {
		symbol, price string
		ok            bool
	}{
		{"AAPL", "187.33", true},
		{"AAPL", "187.335", false},
		{"PENNY", "0.5123", true},
		{"ES", "5000.25", true},
		{"ES", "5000.10", false},
	}
	for _, tc := range cases {
		err := Check([]RiskRule{r}, limitIntent(tc.symbol, tc.price, 1))
		if tc.ok && err != nil {
			t.Errorf("%s@%s: unexpected error %v", tc.symbol, tc.price, err)
		}
		if !tc.ok && !errors.Is(err, model.ErrInputValidation) {
			t.Errorf("%s@%s: expected ErrInputValidation, got %v", tc.symbol, tc.price, err)
		}
	}
}
