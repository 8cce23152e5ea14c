package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Normalized read models of the trading engine's store
// ═══════════════════════════════════════════════════════════════════════════════
//
// All percentage fields are in percent units (5 = 5%), all money fields in
// quote currency (USDT). Optional numerics use decimal.NullDecimal so that
// "unknown" is never rendered as zero.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Staleness cadences for engine-written rows
const (
	StatusStaleAfter  = 7 * time.Minute
	OptionsStaleAfter = 2 * time.Minute
)

// Position types
const (
	PositionSpot  = "spot"
	PositionLong  = "long"
	PositionShort = "short"
)

// Trade statuses
const (
	StatusOpen      = "open"
	StatusClosed    = "closed"
	StatusCancelled = "cancelled"
)

// TradeRecord is one order lifecycle as persisted by the trading engine.
// Live fields (PositionState, TrailStopPrice, CurrentPrice, PeakPnLPct) are
// rewritten in place by the engine while the trade is open.
type TradeRecord struct {
	ID           string
	Pair         string // "BTC/USDT"
	Exchange     string // "binance" or "kucoinfutures"
	Side         string // "buy" or "sell"
	PositionType string // spot, long, short
	Status       string // open, closed, cancelled
	Strategy     string

	EntryPrice decimal.Decimal
	ExitPrice  decimal.NullDecimal
	Amount     decimal.Decimal // contracts on kucoinfutures, base qty elsewhere
	Leverage   decimal.Decimal

	NetPnL   decimal.NullDecimal
	GrossPnL decimal.NullDecimal
	Fees     decimal.NullDecimal

	OpenedAt   time.Time
	ClosedAt   *time.Time
	ExitReason string

	// Live fields
	PositionState  string // e.g. "holding", "trailing"
	StopLossPrice  decimal.NullDecimal
	TrailStopPrice decimal.NullDecimal
	CurrentPrice   decimal.NullDecimal
	PeakPnLPct     decimal.NullDecimal // peak price-move %, engine-reported
}

// Open reports whether the trade still has exposure.
func (t TradeRecord) Open() bool { return t.Status == StatusOpen }

// OpenPosition is the projection of an open TradeRecord the derivation
// engine works from. ID matches exactly one TradeRecord with status=open.
type OpenPosition struct {
	ID           string
	Pair         string
	Exchange     string
	PositionType string
	Strategy     string

	EntryPrice decimal.Decimal
	Amount     decimal.Decimal
	Leverage   decimal.Decimal
	OpenedAt   time.Time

	PositionState     string
	StopLossPrice     decimal.NullDecimal
	TrailStopPrice    decimal.NullDecimal
	CurrentPrice      decimal.NullDecimal
	PeakPnLPct        decimal.NullDecimal
	EffectiveExposure decimal.NullDecimal
}

// IndicatorSnapshot is one point-in-time market reading for a (pair, exchange).
type IndicatorSnapshot struct {
	ID           string
	Pair         string
	Exchange     string
	Timestamp    time.Time
	CurrentPrice decimal.Decimal
	RSI          decimal.NullDecimal
	BBUpper      decimal.NullDecimal
	BBLower      decimal.NullDecimal
	VolumeRatio  decimal.NullDecimal
	ADX          decimal.NullDecimal
	Direction    string
	BuySignal    bool
	SellSignal   bool
}

// PairDiagnostics is the per-pair slice of the heartbeat's nested diagnostics.
type PairDiagnostics struct {
	CooldownUntil *time.Time
	LastSignal    string
	LastSignalAt  *time.Time
}

// BotStatus is the engine's singleton heartbeat row.
type BotStatus struct {
	Capital     decimal.NullDecimal
	TotalPnL    decimal.NullDecimal
	WinRate     decimal.NullDecimal
	BotState    string
	IsPaused    bool
	UpdatedAt   time.Time
	Diagnostics map[string]PairDiagnostics
}

// Stale reports whether the heartbeat has gone quiet for longer than the
// engine's expected cadence.
func (s BotStatus) Stale(now time.Time) bool {
	return now.Sub(s.UpdatedAt) > StatusStaleAfter
}

// OptionsSnapshot is the per-pair options market + position state, upserted
// by the engine roughly every 30s.
type OptionsSnapshot struct {
	Pair           string
	SpotPrice      decimal.Decimal
	CallPremium    decimal.NullDecimal
	PutPremium     decimal.NullDecimal
	PositionSide   string // "call", "put" or "" when flat
	EntryPremium   decimal.NullDecimal
	CurrentPremium decimal.NullDecimal
	PnLPct         decimal.NullDecimal
	PnLUSD         decimal.NullDecimal
	UpdatedAt      time.Time
}

func (o OptionsSnapshot) Stale(now time.Time) bool {
	return now.Sub(o.UpdatedAt) > OptionsStaleAfter
}

// Activity event categories. Unrecognized engine log tags map to EventInfo.
const (
	EventOpen     = "open"
	EventClose    = "close"
	EventTrailing = "trailing"
	EventRisk     = "risk"
	EventSignal   = "signal"
	EventOption   = "option"
	EventInfo     = "info"
)

// ActivityEvent is one synthesized human-readable log line.
type ActivityEvent struct {
	ID          string
	Timestamp   time.Time
	Pair        string
	Type        string
	Description string
}

// Command vocabulary accepted by the engine's command queue.
const (
	CmdPause            = "pause"
	CmdResume           = "resume"
	CmdForceResume      = "force_resume"
	CmdClosePosition    = "close_position"
	CmdToggleStrategy   = "toggle_strategy"
	CmdUpdatePairConfig = "update_pair_config"
)

// Command is one append-only record for the engine's command queue.
type Command struct {
	ID        string
	Type      string
	Payload   string // free-form JSON understood by the engine
	CreatedAt time.Time
	Processed bool
}
