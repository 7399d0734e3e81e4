package riskrule

import (
	"fmt"

	"github.com/joripage/order-relay/pkg/relay/model"
)

type MaxQuantityRule struct {
	Max int64
}

func (r *MaxQuantityRule) Check(intent *model.OrderIntent) error {
	if !intent.Action.IsEntry() || r.Max <= 0 {
		return nil
	}
	if intent.Quantity > r.Max {
		return fmt.Errorf("%w: quantity %d exceeds limit %d", model.ErrInputValidation, intent.Quantity, r.Max)
	}
	return nil
}
