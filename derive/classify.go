package derive

import "github.com/shopspring/decimal"

// Risk-state classification. The precedence order is data (an ordered rule
// slice), not control flow, so it can be inspected and tested on its own.
// States are recomputed from scratch every tick; there is no persisted
// machine and no transition to guard, only this ordering.

// Facts are the classifier inputs for one position at one tick.
type Facts struct {
	TrailingActive   bool
	PriceMovePct     decimal.Decimal
	CapitalReturnPct decimal.Decimal
	StopFraction     decimal.NullDecimal // remaining/full entry-to-stop span
}

// Rule pairs a state with its predicate.
type Rule struct {
	State string
	Match func(f Facts) bool
}

// Rules returns the classifier in priority order:
// trailing → near_sl → at_risk → holding_loss → holding_gain.
func Rules(cfg Config) []Rule {
	return []Rule{
		{StateTrailing, func(f Facts) bool {
			return f.TrailingActive
		}},
		{StateNearStop, func(f Facts) bool {
			return f.StopFraction.Valid &&
				f.StopFraction.Decimal.LessThanOrEqual(cfg.NearStopFraction)
		}},
		{StateAtRisk, func(f Facts) bool {
			return f.CapitalReturnPct.LessThanOrEqual(cfg.AtRiskLossPct.Neg())
		}},
		{StateHoldingLoss, func(f Facts) bool {
			return f.PriceMovePct.IsNegative()
		}},
		{StateHoldingGain, func(f Facts) bool {
			return true
		}},
	}
}

// Classify evaluates rules top to bottom and returns the first match.
func Classify(rules []Rule, f Facts) string {
	for _, r := range rules {
		if r.Match(f) {
			return r.State
		}
	}
	return StateHoldingGain
}
