package normalize

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wboyt/tradewatch/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RECORD NORMALIZER - Raw store rows -> typed entities
// ═══════════════════════════════════════════════════════════════════════════════
//
// The trading engine's schema has drifted across versions, so every field is
// read through an ordered alias list, most specific name first. All mapping
// functions are total: unknown enum values degrade to safe defaults and
// missing numerics come back as invalid NullDecimals, never as zero.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Raw is one row as fetched from the store, keyed by column name.
type Raw = map[string]any

// Alias orders, most specific first. Shared across entities so drift is a
// one-place change.
var (
	openedAtAliases  = []string{"opened_at", "open_time", "created_at", "timestamp", "time"}
	closedAtAliases  = []string{"closed_at", "close_time", "exit_time"}
	updatedAtAliases = []string{"updated_at", "last_update", "created_at", "timestamp", "time"}
	entryAliases     = []string{"entry_price", "open_price", "price"}
	exitAliases      = []string{"exit_price", "close_price"}
	amountAliases    = []string{"amount", "quantity", "size"}
	pnlAliases       = []string{"net_pnl", "pnl", "profit_loss", "profit"}
	grossPnlAliases  = []string{"gross_pnl", "pnl_gross"}
	currentAliases   = []string{"current_price", "last_price", "mark_price"}
	pairAliases      = []string{"pair", "symbol", "instrument"}
)

// Trade maps a raw trades row into a TradeRecord.
func Trade(raw Raw) types.TradeRecord {
	t := types.TradeRecord{
		ID:           Str(raw, "id", "trade_id"),
		Pair:         Str(raw, pairAliases...),
		Exchange:     strings.ToLower(Str(raw, "exchange", "venue")),
		Side:         strings.ToLower(Str(raw, "side", "direction")),
		PositionType: positionType(Str(raw, "position_type", "pos_type", "type")),
		Status:       tradeStatus(Str(raw, "status", "state")),
		Strategy:     Str(raw, "strategy", "strategy_name"),

		EntryPrice: Dec(raw, entryAliases...).Decimal,
		ExitPrice:  Dec(raw, exitAliases...),
		Amount:     Dec(raw, amountAliases...).Decimal,
		Leverage:   leverage(raw),

		NetPnL:   Dec(raw, pnlAliases...),
		GrossPnL: Dec(raw, grossPnlAliases...),
		Fees:     Dec(raw, "fees", "fee", "commission"),

		OpenedAt:   Time(raw, openedAtAliases...),
		ExitReason: Str(raw, "exit_reason", "close_reason", "reason"),

		PositionState:  strings.ToLower(Str(raw, "position_state", "pos_state")),
		StopLossPrice:  Dec(raw, "stop_loss_price", "stop_loss", "sl_price"),
		TrailStopPrice: Dec(raw, "trail_stop_price", "trailing_stop", "trail_stop"),
		CurrentPrice:   Dec(raw, currentAliases...),
		PeakPnLPct:     Dec(raw, "peak_pnl_pct", "peak_pnl", "max_pnl_pct"),
	}
	if ts := Time(raw, closedAtAliases...); !ts.IsZero() {
		t.ClosedAt = &ts
	}
	return t
}

// Position maps a raw open-position row (or an open trade row) into the
// OpenPosition projection.
func Position(raw Raw) types.OpenPosition {
	t := Trade(raw)
	p := types.OpenPosition{
		ID:           t.ID,
		Pair:         t.Pair,
		Exchange:     t.Exchange,
		PositionType: t.PositionType,
		Strategy:     t.Strategy,

		EntryPrice: t.EntryPrice,
		Amount:     t.Amount,
		Leverage:   t.Leverage,
		OpenedAt:   t.OpenedAt,

		PositionState:     t.PositionState,
		StopLossPrice:     t.StopLossPrice,
		TrailStopPrice:    t.TrailStopPrice,
		CurrentPrice:      t.CurrentPrice,
		PeakPnLPct:        t.PeakPnLPct,
		EffectiveExposure: Dec(raw, "effective_exposure", "exposure", "notional"),
	}
	return p
}

// FromTrade projects an open TradeRecord into an OpenPosition.
func FromTrade(t types.TradeRecord) types.OpenPosition {
	return types.OpenPosition{
		ID:           t.ID,
		Pair:         t.Pair,
		Exchange:     t.Exchange,
		PositionType: t.PositionType,
		Strategy:     t.Strategy,

		EntryPrice: t.EntryPrice,
		Amount:     t.Amount,
		Leverage:   t.Leverage,
		OpenedAt:   t.OpenedAt,

		PositionState:  t.PositionState,
		StopLossPrice:  t.StopLossPrice,
		TrailStopPrice: t.TrailStopPrice,
		CurrentPrice:   t.CurrentPrice,
		PeakPnLPct:     t.PeakPnLPct,
	}
}

// Status maps a raw heartbeat row into BotStatus.
func Status(raw Raw) types.BotStatus {
	s := types.BotStatus{
		Capital:   Dec(raw, "capital", "balance", "equity"),
		TotalPnL:  Dec(raw, "total_pnl", "pnl_total", "pnl"),
		WinRate:   Dec(raw, "win_rate", "winrate"),
		BotState:  strings.ToLower(Str(raw, "bot_state", "state")),
		IsPaused:  Bool(raw, "is_paused", "paused"),
		UpdatedAt: Time(raw, updatedAtAliases...),
	}
	s.Diagnostics = diagnostics(raw)
	return s
}

// Indicator maps a raw indicator-snapshot row.
func Indicator(raw Raw) types.IndicatorSnapshot {
	return types.IndicatorSnapshot{
		ID:           Str(raw, "id", "snapshot_id"),
		Pair:         Str(raw, pairAliases...),
		Exchange:     strings.ToLower(Str(raw, "exchange", "venue")),
		Timestamp:    Time(raw, "timestamp", "created_at", "time"),
		CurrentPrice: Dec(raw, currentAliases...).Decimal,
		RSI:          Dec(raw, "rsi"),
		BBUpper:      Dec(raw, "bb_upper", "bollinger_upper"),
		BBLower:      Dec(raw, "bb_lower", "bollinger_lower"),
		VolumeRatio:  Dec(raw, "volume_ratio", "vol_ratio"),
		ADX:          Dec(raw, "adx"),
		Direction:    strings.ToLower(Str(raw, "direction", "trend")),
		BuySignal:    Bool(raw, "buy_signal", "long_signal"),
		SellSignal:   Bool(raw, "sell_signal", "short_signal"),
	}
}

// Options maps a raw options-snapshot row.
func Options(raw Raw) types.OptionsSnapshot {
	return types.OptionsSnapshot{
		Pair:           Str(raw, pairAliases...),
		SpotPrice:      Dec(raw, "spot_price", "underlying_price", "spot").Decimal,
		CallPremium:    Dec(raw, "call_premium", "call_price"),
		PutPremium:     Dec(raw, "put_premium", "put_price"),
		PositionSide:   strings.ToLower(Str(raw, "position_side", "side")),
		EntryPremium:   Dec(raw, "entry_premium", "entry_price"),
		CurrentPremium: Dec(raw, "current_premium", "premium"),
		PnLPct:         Dec(raw, "pnl_pct", "pnl_percent"),
		PnLUSD:         Dec(raw, "pnl_usd", "pnl"),
		UpdatedAt:      Time(raw, updatedAtAliases...),
	}
}

// LogRow maps a raw engine activity-log row into an ActivityEvent. The
// free-text event tag collapses into the closed category set; unrecognized
// tags become EventInfo so no row is ever dropped.
func LogRow(raw Raw) types.ActivityEvent {
	return types.ActivityEvent{
		ID:          Str(raw, "id", "log_id"),
		Timestamp:   Time(raw, "timestamp", "created_at", "time"),
		Pair:        Str(raw, pairAliases...),
		Type:        EventCategory(Str(raw, "event_type", "type", "tag")),
		Description: Str(raw, "description", "message", "msg"),
	}
}

// EventCategory maps a free-text engine log tag to one of the closed
// activity categories.
func EventCategory(tag string) string {
	switch {
	case containsAny(tag, "open", "entry", "buy"):
		return types.EventOpen
	case containsAny(tag, "close", "exit", "sell", "stop_loss", "take_profit"):
		return types.EventClose
	case containsAny(tag, "trail"):
		return types.EventTrailing
	case containsAny(tag, "risk", "liquidat", "margin"):
		return types.EventRisk
	case containsAny(tag, "signal"):
		return types.EventSignal
	case containsAny(tag, "option", "call", "put", "premium"):
		return types.EventOption
	default:
		return types.EventInfo
	}
}

func containsAny(tag string, subs ...string) bool {
	tag = strings.ToLower(tag)
	for _, s := range subs {
		if strings.Contains(tag, s) {
			return true
		}
	}
	return false
}

func positionType(v string) string {
	switch strings.ToLower(v) {
	case types.PositionLong, "buy":
		return types.PositionLong
	case types.PositionShort, "sell":
		return types.PositionShort
	default:
		return types.PositionSpot
	}
}

func tradeStatus(v string) string {
	switch strings.ToLower(v) {
	case types.StatusOpen, "active":
		return types.StatusOpen
	case types.StatusCancelled, "canceled":
		return types.StatusCancelled
	default:
		return types.StatusClosed
	}
}

// leverage defaults to 1 when absent so spot rows divide cleanly.
func leverage(raw Raw) decimal.Decimal {
	if d := Dec(raw, "leverage", "lev"); d.Valid && d.Decimal.IsPositive() {
		return d.Decimal
	}
	return decimal.NewFromInt(1)
}

func diagnostics(raw Raw) map[string]types.PairDiagnostics {
	v, ok := firstVal(raw, "diagnostics", "pair_diagnostics", "details")
	if !ok {
		return nil
	}

	// Arrives either as a nested map or as a JSON string column.
	var nested map[string]any
	switch d := v.(type) {
	case map[string]any:
		nested = d
	case string:
		if json.Unmarshal([]byte(d), &nested) != nil {
			return nil
		}
	default:
		return nil
	}

	out := make(map[string]types.PairDiagnostics, len(nested))
	for pair, entry := range nested {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		d := types.PairDiagnostics{
			LastSignal: Str(m, "last_signal", "signal"),
		}
		if ts := Time(m, "cooldown_until", "cooldown"); !ts.IsZero() {
			d.CooldownUntil = &ts
		}
		if ts := Time(m, "last_signal_at", "signal_time"); !ts.IsZero() {
			d.LastSignalAt = &ts
		}
		out[pair] = d
	}
	return out
}

// ─── field readers ─────────────────────────────────────────────────────────────

func firstVal(raw Raw, aliases ...string) (any, bool) {
	for _, k := range aliases {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// Str returns the first present alias as a string.
func Str(raw Raw, aliases ...string) string {
	v, ok := firstVal(raw, aliases...)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Dec returns the first present alias as a NullDecimal. Accepts float64,
// ints, strings and json.Number, since drivers disagree on numeric types.
func Dec(raw Raw, aliases ...string) decimal.NullDecimal {
	v, ok := firstVal(raw, aliases...)
	if !ok {
		return decimal.NullDecimal{}
	}
	switch n := v.(type) {
	case float64:
		return decimal.NewNullDecimal(decimal.NewFromFloat(n))
	case float32:
		return decimal.NewNullDecimal(decimal.NewFromFloat32(n))
	case int:
		return decimal.NewNullDecimal(decimal.NewFromInt(int64(n)))
	case int64:
		return decimal.NewNullDecimal(decimal.NewFromInt(n))
	case json.Number:
		if d, err := decimal.NewFromString(n.String()); err == nil {
			return decimal.NewNullDecimal(d)
		}
	case string:
		if n == "" {
			return decimal.NullDecimal{}
		}
		if d, err := decimal.NewFromString(n); err == nil {
			return decimal.NewNullDecimal(d)
		}
	case decimal.Decimal:
		return decimal.NewNullDecimal(n)
	}
	return decimal.NullDecimal{}
}

// Bool reads a boolean that may arrive as bool, int or string.
func Bool(raw Raw, aliases ...string) bool {
	v, ok := firstVal(raw, aliases...)
	if !ok {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	case int:
		return b != 0
	case int64:
		return b != 0
	case string:
		return b == "true" || b == "t" || b == "1"
	}
	return false
}

// Time reads a timestamp that may arrive as time.Time, RFC3339 string or
// unix epoch (seconds or milliseconds).
func Time(raw Raw, aliases ...string) time.Time {
	v, ok := firstVal(raw, aliases...)
	if !ok {
		return time.Time{}
	}
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts.UTC()
			}
		}
	case float64:
		return epoch(int64(t))
	case int64:
		return epoch(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return epoch(i)
		}
	}
	return time.Time{}
}

func epoch(v int64) time.Time {
	if v > 1e12 { // milliseconds
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}
