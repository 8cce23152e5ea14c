package activity

import (
	"fmt"
	"sort"
	"time"

	"github.com/wboyt/tradewatch/normalize"
	"github.com/wboyt/tradewatch/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ACTIVITY FEED - Bounded, newest-first operator event log
// ═══════════════════════════════════════════════════════════════════════════════

// Capacity is the fixed size of the feed; older entries are discarded,
// not archived.
const Capacity = 50

// Feed holds the capped, newest-first event ring. Not safe for concurrent
// use on its own; the syncer's dispatcher loop is its single writer.
type Feed struct {
	events []types.ActivityEvent
}

func NewFeed() *Feed {
	return &Feed{events: make([]types.ActivityEvent, 0, Capacity)}
}

// Add inserts an event and truncates to the newest Capacity entries,
// newest first.
func (f *Feed) Add(ev types.ActivityEvent) {
	f.events = append(f.events, ev)
	sort.SliceStable(f.events, func(i, j int) bool {
		return f.events[i].Timestamp.After(f.events[j].Timestamp)
	})
	if len(f.events) > Capacity {
		f.events = f.events[:Capacity]
	}
}

// All returns a copy of the feed, newest first.
func (f *Feed) All() []types.ActivityEvent {
	out := make([]types.ActivityEvent, len(f.events))
	copy(out, f.events)
	return out
}

func (f *Feed) Len() int { return len(f.events) }

// TradeOpened builds the open event for a newly seen trade. Short futures
// get their own label so the operator can tell direction at a glance.
func TradeOpened(t types.TradeRecord) types.ActivityEvent {
	desc := fmt.Sprintf("Opened %s %s @ %s (%sx)",
		t.PositionType, t.Pair, t.EntryPrice.String(), t.Leverage.String())
	if t.PositionType == types.PositionShort {
		desc = fmt.Sprintf("Opened SHORT %s @ %s (%sx)",
			t.Pair, t.EntryPrice.String(), t.Leverage.String())
	}
	ts := t.OpenedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return types.ActivityEvent{
		ID:          t.ID + ":open",
		Timestamp:   ts,
		Pair:        t.Pair,
		Type:        types.EventOpen,
		Description: desc,
	}
}

// TradeClosed builds the close event with signed P&L in the label.
func TradeClosed(t types.TradeRecord) types.ActivityEvent {
	pnl := "P&L unknown"
	if t.NetPnL.Valid {
		sign := "+"
		if t.NetPnL.Decimal.IsNegative() {
			sign = "-"
		}
		pnl = fmt.Sprintf("%s$%s", sign, t.NetPnL.Decimal.Abs().StringFixed(2))
	}
	desc := fmt.Sprintf("Closed %s %s: %s", t.PositionType, t.Pair, pnl)
	if t.ExitReason != "" {
		desc += " (" + t.ExitReason + ")"
	}
	ts := time.Now().UTC()
	if t.ClosedAt != nil {
		ts = *t.ClosedAt
	}
	return types.ActivityEvent{
		ID:          t.ID + ":close",
		Timestamp:   ts,
		Pair:        t.Pair,
		Type:        types.EventClose,
		Description: desc,
	}
}

// FromLogRow wraps the normalizer's log-row mapping so engine-logged option
// and risk events land in the feed with a stable category.
func FromLogRow(raw normalize.Raw) types.ActivityEvent {
	ev := normalize.LogRow(raw)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return ev
}
