package activity

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wboyt/tradewatch/types"
)

func TestFeedCapAndOrder(t *testing.T) {
	f := NewFeed()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 51; i++ {
		f.Add(types.ActivityEvent{
			ID:        fmt.Sprintf("ev-%d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Type:      types.EventInfo,
		})
	}

	events := f.All()
	require.Len(t, events, Capacity)

	// Head is the most recently inserted event.
	assert.Equal(t, "ev-50", events[0].ID)
	// The oldest entry fell off.
	for _, ev := range events {
		assert.NotEqual(t, "ev-0", ev.ID)
	}
	// Strictly non-increasing timestamps head to tail.
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Timestamp.After(events[i-1].Timestamp))
	}
}

func TestFeedOutOfOrderInsert(t *testing.T) {
	f := NewFeed()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	f.Add(types.ActivityEvent{ID: "new", Timestamp: base.Add(time.Minute)})
	f.Add(types.ActivityEvent{ID: "old", Timestamp: base})

	events := f.All()
	assert.Equal(t, "new", events[0].ID)
	assert.Equal(t, "old", events[1].ID)
}

func TestTradeOpenedLabels(t *testing.T) {
	long := types.TradeRecord{
		ID: "t1", Pair: "BTC/USDT", PositionType: types.PositionLong,
		EntryPrice: decimal.NewFromInt(64000), Leverage: decimal.NewFromInt(5),
		OpenedAt: time.Now(),
	}
	ev := TradeOpened(long)
	assert.Equal(t, types.EventOpen, ev.Type)
	assert.Contains(t, ev.Description, "Opened long BTC/USDT")

	short := long
	short.PositionType = types.PositionShort
	ev = TradeOpened(short)
	assert.Contains(t, ev.Description, "Opened SHORT BTC/USDT")
}

func TestTradeClosedLabelCarriesSignedPnL(t *testing.T) {
	now := time.Now()
	tr := types.TradeRecord{
		ID: "t1", Pair: "ETH/USDT", PositionType: types.PositionLong,
		Status: types.StatusClosed, ClosedAt: &now,
		NetPnL:     decimal.NewNullDecimal(decimal.NewFromFloat(12.34)),
		ExitReason: "take_profit",
	}
	ev := TradeClosed(tr)
	assert.Equal(t, types.EventClose, ev.Type)
	assert.Contains(t, ev.Description, "+$12.34")
	assert.Contains(t, ev.Description, "take_profit")

	tr.NetPnL = decimal.NewNullDecimal(decimal.NewFromFloat(-3.21))
	ev = TradeClosed(tr)
	assert.Contains(t, ev.Description, "-$3.21")

	tr.NetPnL = decimal.NullDecimal{}
	ev = TradeClosed(tr)
	assert.Contains(t, ev.Description, "P&L unknown")
}

func TestFromLogRowNeverDrops(t *testing.T) {
	tests := []struct {
		tag  string
		want string
	}{
		{"position_opened", types.EventOpen},
		{"stop_loss_hit", types.EventClose},
		{"trailing_activated", types.EventTrailing},
		{"risk_limit", types.EventRisk},
		{"buy_signal", types.EventOpen},
		{"premium_update", types.EventOption},
		{"something_weird", types.EventInfo},
		{"", types.EventInfo},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			ev := FromLogRow(map[string]any{
				"id":         "log-1",
				"event_type": tt.tag,
				"message":    "hello",
				"timestamp":  "2026-08-01T12:00:00Z",
			})
			assert.Equal(t, tt.want, ev.Type)
			assert.Equal(t, "hello", ev.Description)
		})
	}
}
