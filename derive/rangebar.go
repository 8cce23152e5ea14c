package derive

import (
	"github.com/shopspring/decimal"

	"github.com/wboyt/tradewatch/types"
)

// RangeBar maps the position's price landmarks onto a 0–100 scale for the
// operator's range bar. The total span is stop-loss distance plus
// max(peak-or-current profit, trail activation), so there is always
// headroom to draw profit beyond the activation line without pinning the
// entry marker to an edge.
type RangeBar struct {
	StopLoss   float64
	Entry      float64
	Current    float64
	Activation float64
	TrailStop  float64
	HasTrail   bool
}

// rangeBar computes the geometry, or nil when no stop-loss price is known.
// All landmark inputs are directional move% relative to entry.
func rangeBar(pos types.OpenPosition, price, entry, movePct, peak decimal.Decimal, short bool, trailStop decimal.NullDecimal, cfg Config) *RangeBar {
	if !pos.StopLossPrice.Valid {
		return nil
	}
	sl := pos.StopLossPrice.Decimal

	stopDist := entry.Sub(sl).Div(entry).Mul(hundred)
	if short {
		stopDist = sl.Sub(entry).Div(entry).Mul(hundred)
	}
	if !stopDist.IsPositive() {
		return nil
	}

	headroom := cfg.TrailActivationPct
	if peak.GreaterThan(headroom) {
		headroom = peak
	}
	span := stopDist.Add(headroom)
	if !span.IsPositive() {
		return nil
	}

	pos01 := func(move decimal.Decimal) float64 {
		v, _ := move.Add(stopDist).Div(span).Mul(hundred).Float64()
		if v < 0 {
			return 0
		}
		if v > 100 {
			return 100
		}
		return v
	}

	bar := &RangeBar{
		StopLoss:   pos01(stopDist.Neg()),
		Entry:      pos01(decimal.Zero),
		Current:    pos01(movePct),
		Activation: pos01(cfg.TrailActivationPct),
	}
	if trailStop.Valid {
		move := trailStop.Decimal.Sub(entry).Div(entry).Mul(hundred)
		if short {
			move = entry.Sub(trailStop.Decimal).Div(entry).Mul(hundred)
		}
		bar.TrailStop = pos01(move)
		bar.HasTrail = true
	}
	return bar
}
