package derive

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/wboyt/tradewatch/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION DERIVATION ENGINE - Pure per-tick view-model computation
// ═══════════════════════════════════════════════════════════════════════════════
//
// Derive combines a normalized open position, the resolved price and (for
// options) the options snapshot into a PositionDisplay. It is pure and
// idempotent: identical inputs produce identical output, nothing is cached
// between calls, inputs are never mutated.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Derived risk states, one active at a time.
const (
	StateCalculating = "calculating"
	StateTrailing    = "trailing"
	StateNearStop    = "near_sl"
	StateAtRisk      = "at_risk"
	StateHoldingLoss = "holding_loss"
	StateHoldingGain = "holding_gain"
)

// TrailTier maps a minimum profit level to the trail distance the engine
// uses at that level. Larger profit, wider trail.
type TrailTier struct {
	MinProfitPct decimal.Decimal `json:"min_profit_pct"`
	TrailPct     decimal.Decimal `json:"trail_pct"`
}

// Config carries the numeric contract shared with the external engine.
// The trail tiers and contract sizes mirror the engine's own tables and are
// loaded from configuration, never re-derived here.
type Config struct {
	TrailActivationPct decimal.Decimal
	TrailTiers         []TrailTier // descending by MinProfitPct
	ContractSizes      map[string]decimal.Decimal
	ContractExchange   string // exchange whose amounts are in contracts
	AtRiskLossPct      decimal.Decimal
	NearStopFraction   decimal.Decimal
}

// PositionDisplay is the ephemeral view-model recomputed on every tick.
// When State is "calculating" every NullDecimal field is invalid.
type PositionDisplay struct {
	ID           string
	Pair         string
	Exchange     string
	PositionType string
	Strategy     string
	IsOption     bool

	State string

	Quantity         decimal.NullDecimal // underlying-asset quantity
	CurrentPrice     decimal.NullDecimal
	PriceMovePct     decimal.NullDecimal
	CapitalReturnPct decimal.NullDecimal
	PnLUSD           decimal.NullDecimal
	Collateral       decimal.NullDecimal
	PeakPnLPct       decimal.NullDecimal

	TrailingActive bool
	TrailStopPrice decimal.NullDecimal
	TrailEstimated bool // stop is our estimate, engine has not persisted one

	Bar *RangeBar
}

// Option symbols carry a date-strike-side suffix, e.g. BTC-240927-60000-C.
var optionSymbol = regexp.MustCompile(`-\d{6}-\d+(\.\d+)?-[CP]$`)

// IsOption classifies the instrument from the strategy tag or symbol shape.
func IsOption(pos types.OpenPosition) bool {
	if strings.Contains(strings.ToLower(pos.Strategy), "option") {
		return true
	}
	return optionSymbol.MatchString(pos.Pair)
}

// Derive computes the display for one position. priceOK=false means no
// price tier resolved; the display then carries only identity fields and
// the "calculating" state. A panic inside the computation degrades to the
// same display rather than escaping across position boundaries.
func Derive(pos types.OpenPosition, price decimal.Decimal, priceOK bool, opt *types.OptionsSnapshot, cfg Config) (d PositionDisplay) {
	defer func() {
		if recover() != nil {
			d = calculating(pos)
		}
	}()
	return derive(pos, price, priceOK, opt, cfg)
}

func derive(pos types.OpenPosition, price decimal.Decimal, priceOK bool, opt *types.OptionsSnapshot, cfg Config) PositionDisplay {
	d := calculating(pos)
	if !priceOK || pos.EntryPrice.IsZero() {
		return d
	}

	entry := pos.EntryPrice
	if d.IsOption && opt != nil && opt.EntryPremium.Valid {
		entry = opt.EntryPremium.Decimal
	}
	if entry.IsZero() {
		return d
	}

	qty := normalizedQuantity(pos, cfg, d.IsOption)
	short := pos.PositionType == types.PositionShort

	// Directional price move, sign convention is load-bearing:
	// long (cur-entry)/entry, short (entry-cur)/entry.
	delta := price.Sub(entry)
	if short {
		delta = entry.Sub(price)
	}
	movePct := delta.Div(entry).Mul(hundred)

	capitalPct := movePct.Mul(pos.Leverage)

	pnl := delta.Mul(qty)
	if d.IsOption && pos.Leverage.GreaterThan(one) {
		// Premium moves already carry full notional exposure; margin posted
		// is premium/leverage.
		pnl = pnl.Div(pos.Leverage)
	}

	collateral := entry.Mul(qty).Div(pos.Leverage)

	peak := effectivePeak(pos, movePct)

	d.Quantity = decimal.NewNullDecimal(qty)
	d.CurrentPrice = decimal.NewNullDecimal(price)
	d.PriceMovePct = decimal.NewNullDecimal(movePct)
	d.CapitalReturnPct = decimal.NewNullDecimal(capitalPct)
	d.PnLUSD = decimal.NewNullDecimal(pnl)
	d.Collateral = decimal.NewNullDecimal(collateral)
	d.PeakPnLPct = decimal.NewNullDecimal(peak)

	d.TrailingActive, d.TrailStopPrice, d.TrailEstimated = trailStop(pos, price, peak, short, cfg)

	facts := Facts{
		TrailingActive:   d.TrailingActive,
		PriceMovePct:     movePct,
		CapitalReturnPct: capitalPct,
		StopFraction:     stopFraction(pos, price, entry, short),
	}
	d.State = Classify(Rules(cfg), facts)

	d.Bar = rangeBar(pos, price, entry, movePct, peak, short, d.TrailStopPrice, cfg)

	return d
}

// calculating is the identity-only display used when no price resolves or
// the position row is malformed.
func calculating(pos types.OpenPosition) PositionDisplay {
	return PositionDisplay{
		ID:           pos.ID,
		Pair:         pos.Pair,
		Exchange:     pos.Exchange,
		PositionType: pos.PositionType,
		Strategy:     pos.Strategy,
		IsOption:     IsOption(pos),
		State:        StateCalculating,
	}
}

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// normalizedQuantity converts contract counts to underlying-asset quantity
// on the contract-based exchange. Spot and option amounts pass through.
func normalizedQuantity(pos types.OpenPosition, cfg Config, isOption bool) decimal.Decimal {
	if isOption || pos.Exchange != cfg.ContractExchange {
		return pos.Amount
	}
	size, ok := cfg.ContractSizes[pos.Pair]
	if !ok {
		return pos.Amount
	}
	return pos.Amount.Mul(size)
}

// effectivePeak is the engine-reported peak P&L%, promoted to the current
// move when that is higher and positive. The persisted peak can lag a tick
// behind a fresh high.
func effectivePeak(pos types.OpenPosition, movePct decimal.Decimal) decimal.Decimal {
	peak := decimal.Zero
	if pos.PeakPnLPct.Valid {
		peak = pos.PeakPnLPct.Decimal
	}
	if movePct.IsPositive() && movePct.GreaterThan(peak) {
		peak = movePct
	}
	return peak
}

// trailStop double-checks the engine's persisted trailing state against the
// peak before trusting it, then falls back to the tier-table estimate when
// the engine has not persisted a stop price yet.
func trailStop(pos types.OpenPosition, price, peak decimal.Decimal, short bool, cfg Config) (bool, decimal.NullDecimal, bool) {
	active := pos.PositionState == "trailing" && peak.GreaterThanOrEqual(cfg.TrailActivationPct)
	if !active {
		return false, decimal.NullDecimal{}, false
	}
	if pos.TrailStopPrice.Valid {
		return true, pos.TrailStopPrice, false
	}

	dist := trailDistance(peak, cfg)
	stop := price.Mul(one.Sub(dist.Div(hundred)))
	if short {
		stop = price.Mul(one.Add(dist.Div(hundred)))
	}
	return true, decimal.NewNullDecimal(stop), true
}

// trailDistance picks the trail width for the given profit level from the
// configured tier table (descending). Below the lowest tier the narrowest
// width applies.
func trailDistance(peak decimal.Decimal, cfg Config) decimal.Decimal {
	for _, tier := range cfg.TrailTiers {
		if peak.GreaterThanOrEqual(tier.MinProfitPct) {
			return tier.TrailPct
		}
	}
	if n := len(cfg.TrailTiers); n > 0 {
		return cfg.TrailTiers[n-1].TrailPct
	}
	return cfg.TrailActivationPct
}

// stopFraction is the remaining distance to the stop-loss as a fraction of
// the full entry-to-stop span. Invalid when no stop is known or the stop
// sits on the wrong side of entry.
func stopFraction(pos types.OpenPosition, price, entry decimal.Decimal, short bool) decimal.NullDecimal {
	if !pos.StopLossPrice.Valid {
		return decimal.NullDecimal{}
	}
	sl := pos.StopLossPrice.Decimal

	span := entry.Sub(sl)
	remaining := price.Sub(sl)
	if short {
		span = sl.Sub(entry)
		remaining = sl.Sub(price)
	}
	if !span.IsPositive() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(remaining.Div(span))
}
