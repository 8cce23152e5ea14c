package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wboyt/tradewatch/types"
)

func TestTradeAliasFallback(t *testing.T) {
	// Most specific alias wins even when the generic one is present.
	raw := Raw{
		"id":          "t1",
		"pair":        "BTC/USDT",
		"exchange":    "Binance",
		"opened_at":   "2026-08-01T10:00:00Z",
		"created_at":  "2026-08-01T09:00:00Z",
		"entry_price": 64000.0,
		"price":       1.0,
		"amount":      0.5,
		"net_pnl":     12.5,
		"pnl":         99.0,
		"status":      "open",
	}
	tr := Trade(raw)

	assert.Equal(t, "t1", tr.ID)
	assert.Equal(t, "binance", tr.Exchange)
	assert.Equal(t, time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC), tr.OpenedAt)
	assert.Equal(t, "64000", tr.EntryPrice.String())
	require.True(t, tr.NetPnL.Valid)
	assert.Equal(t, "12.5", tr.NetPnL.Decimal.String())
}

func TestTradeAliasFallbackOrder(t *testing.T) {
	// With the specific alias missing, the next one in order applies.
	tr := Trade(Raw{
		"id":         "t2",
		"created_at": "2026-08-01T09:00:00Z",
		"price":      100.0,
		"pnl":        -3.0,
		"status":     "closed",
		"closed_at":  "2026-08-01T11:00:00Z",
	})
	assert.Equal(t, time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC), tr.OpenedAt)
	assert.Equal(t, "100", tr.EntryPrice.String())
	assert.Equal(t, "-3", tr.NetPnL.Decimal.String())
	require.NotNil(t, tr.ClosedAt)
	assert.Equal(t, 11, tr.ClosedAt.Hour())
}

func TestTradeEnumDefaults(t *testing.T) {
	tr := Trade(Raw{"id": "t3", "position_type": "weird", "status": "???"})
	assert.Equal(t, types.PositionSpot, tr.PositionType)
	assert.Equal(t, types.StatusClosed, tr.Status)

	tr = Trade(Raw{"id": "t4", "position_type": "SELL", "status": "ACTIVE"})
	assert.Equal(t, types.PositionShort, tr.PositionType)
	assert.Equal(t, types.StatusOpen, tr.Status)
}

func TestLeverageDefaultsToOne(t *testing.T) {
	tr := Trade(Raw{"id": "t5"})
	assert.Equal(t, "1", tr.Leverage.String())

	tr = Trade(Raw{"id": "t6", "leverage": 0.0})
	assert.Equal(t, "1", tr.Leverage.String())

	tr = Trade(Raw{"id": "t7", "leverage": "10"})
	assert.Equal(t, "10", tr.Leverage.String())
}

func TestDecAcceptsDriverTypes(t *testing.T) {
	tests := []struct {
		name string
		val  any
		want string
	}{
		{"float64", 1.5, "1.5"},
		{"int", 7, "7"},
		{"int64", int64(9), "9"},
		{"string", "3.25", "3.25"},
		{"json.Number", json.Number("0.001"), "0.001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Dec(Raw{"v": tt.val}, "v")
			require.True(t, d.Valid)
			assert.Equal(t, tt.want, d.Decimal.String())
		})
	}

	// Absent, nil and junk all come back invalid, never zero-valid.
	assert.False(t, Dec(Raw{}, "v").Valid)
	assert.False(t, Dec(Raw{"v": nil}, "v").Valid)
	assert.False(t, Dec(Raw{"v": "junk"}, "v").Valid)
	assert.False(t, Dec(Raw{"v": ""}, "v").Valid)
}

func TestTimeFormats(t *testing.T) {
	want := time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC)

	assert.Equal(t, want, Time(Raw{"t": "2026-08-01T12:30:00Z"}, "t"))
	assert.Equal(t, want, Time(Raw{"t": "2026-08-01 12:30:00"}, "t"))
	assert.Equal(t, want, Time(Raw{"t": want}, "t"))
	assert.Equal(t, want, Time(Raw{"t": float64(want.Unix())}, "t"))
	assert.Equal(t, want, Time(Raw{"t": float64(want.UnixMilli())}, "t"))
	assert.True(t, Time(Raw{}, "t").IsZero())
}

func TestStatusDiagnostics(t *testing.T) {
	raw := Raw{
		"capital":    1000.0,
		"total_pnl":  55.5,
		"win_rate":   61.2,
		"bot_state":  "Running",
		"is_paused":  false,
		"updated_at": "2026-08-01T12:00:00Z",
		"diagnostics": `{
			"BTC/USDT": {"last_signal": "buy", "cooldown_until": "2026-08-01T12:05:00Z"},
			"ETH/USDT": {"last_signal": "none"}
		}`,
	}
	s := Status(raw)

	assert.Equal(t, "running", s.BotState)
	require.True(t, s.Capital.Valid)
	assert.Equal(t, "1000", s.Capital.Decimal.String())

	require.Contains(t, s.Diagnostics, "BTC/USDT")
	btc := s.Diagnostics["BTC/USDT"]
	assert.Equal(t, "buy", btc.LastSignal)
	require.NotNil(t, btc.CooldownUntil)
	assert.Equal(t, 5, btc.CooldownUntil.Minute())
	assert.Nil(t, s.Diagnostics["ETH/USDT"].CooldownUntil)
}

func TestOptionsSnapshot(t *testing.T) {
	o := Options(Raw{
		"pair":            "BTC/USDT",
		"spot_price":      64000.0,
		"call_premium":    410.0,
		"position_side":   "CALL",
		"current_premium": 415.5,
		"updated_at":      "2026-08-01T12:00:00Z",
	})
	assert.Equal(t, "call", o.PositionSide)
	assert.Equal(t, "64000", o.SpotPrice.String())
	require.True(t, o.CurrentPremium.Valid)
	assert.Equal(t, "415.5", o.CurrentPremium.Decimal.String())
	assert.False(t, o.PutPremium.Valid)
}

func TestFromTradeProjection(t *testing.T) {
	tr := Trade(Raw{
		"id": "t1", "pair": "BTC/USDT", "status": "open",
		"position_type": "long", "entry_price": 100.0, "amount": 2.0,
		"leverage": 5.0, "current_price": 101.0, "position_state": "trailing",
	})
	p := FromTrade(tr)
	assert.Equal(t, tr.ID, p.ID)
	assert.Equal(t, "trailing", p.PositionState)
	assert.Equal(t, "101", p.CurrentPrice.Decimal.String())
	assert.Equal(t, "5", p.Leverage.String())
}
