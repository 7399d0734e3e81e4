package riskrule

import "github.com/joripage/order-relay/pkg/relay/model"

// RiskRule is a pre-trade check run during validation, before any gateway call.
type RiskRule interface {
	Check(intent *model.OrderIntent) error
}

// Check runs every rule and returns the first violation.
func Check(rules []RiskRule, intent *model.OrderIntent) error {
	for _, r := range rules {
		if err := r.Check(intent); err != nil {
			return err
		}
	}
	return nil
}
