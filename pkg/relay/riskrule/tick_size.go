package riskrule

import (
	"fmt"

	"github.com/joripage/order-relay/pkg/relay/model"
	"github.com/shopspring/decimal"
)

// TickTier applies Step to limit prices up to MaxPrice. A zero MaxPrice means no upper bound.
type TickTier struct {
	MaxPrice decimal.Decimal
	Step     decimal.Decimal
}

// TickSizeRule holds tick tiers per symbol. Symbols without tiers fall back to "*".
type TickSizeRule struct {
	Tiers map[string][]TickTier
}

func (r *TickSizeRule) Check(intent *model.OrderIntent) error {
	if !intent.Action.IsEntry() || intent.Type != model.OrderTypeLimit || !intent.LimitPrice.Valid {
		return nil
	}

	tiers, ok := r.Tiers[intent.Symbol]
	if !ok {
		tiers, ok = r.Tiers["*"]
	}
	if !ok { // no config -> no rule
		return nil
	}

	price := intent.LimitPrice.Decimal
	for _, tier := range tiers {
		if tier.MaxPrice.IsZero() || price.LessThanOrEqual(tier.MaxPrice) {
			if !tier.Step.IsPositive() {
				return nil
			}
			if !price.Mod(tier.Step).IsZero() {
				return fmt.Errorf("%w: limit price %s is not a multiple of tick %s", model.ErrInputValidation, price, tier.Step)
			}
			return nil
		}
	}
	return nil
}
