package prices

import (
	"github.com/shopspring/decimal"

	"github.com/wboyt/tradewatch/derive"
	"github.com/wboyt/tradewatch/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// LIVE PRICE RESOLVER - Tiered best-known price per instrument
// ═══════════════════════════════════════════════════════════════════════════════
//
// Priority for futures/spot, highest first:
//   1. fast ticker feed (sub-5s, only live while positions are open)
//   2. current_price the engine persists onto the position row (~10s)
//   3. latest indicator snapshot for the base asset (~minutes stale)
//
// Options never touch these tiers: an option position resolves to the
// current premium from the options snapshot or to nothing at all. Premiums
// run 100-1000x smaller than spot, so falling through to a spot tier would
// be silently catastrophic, not just stale.
//
// Missing data resolves to ok=false, never to zero.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Resolver resolves the best-known current price for a position.
type Resolver struct {
	feed *TickerFeed
}

func NewResolver(feed *TickerFeed) *Resolver {
	return &Resolver{feed: feed}
}

// Resolve returns the current price for the position, or ok=false when no
// tier has data. indicators must be newest-first, as the syncer keeps them.
func (r *Resolver) Resolve(pos types.OpenPosition, opt *types.OptionsSnapshot, indicators []types.IndicatorSnapshot) (decimal.Decimal, bool) {
	if derive.IsOption(pos) {
		if opt != nil && opt.CurrentPremium.Valid {
			return opt.CurrentPremium.Decimal, true
		}
		return decimal.Zero, false
	}

	if r.feed != nil {
		if price, ok := r.feed.GetPrice(TickerSymbol(pos.Pair)); ok {
			return price, true
		}
	}

	if pos.CurrentPrice.Valid {
		return pos.CurrentPrice.Decimal, true
	}

	base := BaseAsset(pos.Pair)
	for _, snap := range indicators {
		if BaseAsset(snap.Pair) == base && !snap.CurrentPrice.IsZero() {
			return snap.CurrentPrice, true
		}
	}

	return decimal.Zero, false
}
