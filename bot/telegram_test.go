package bot

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wboyt/tradewatch/derive"
)

func TestPairConfigPayload(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		want    string
		wantErr bool
	}{
		{
			name: "pair and object",
			args: `BTC/USDT {"leverage": 3}`,
			want: `{"pair":"BTC/USDT","config":{"leverage": 3}}`,
		},
		{
			name: "surrounding whitespace",
			args: `  ETH/USDT   {"enabled": false}`,
			want: `{"pair":"ETH/USDT","config":{"enabled": false}}`,
		},
		{
			name:    "missing settings",
			args:    "BTC/USDT",
			wantErr: true,
		},
		{
			name:    "empty",
			args:    "",
			wantErr: true,
		},
		{
			name:    "settings not json",
			args:    "BTC/USDT leverage=3",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pairConfigPayload(tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSigned(t *testing.T) {
	assert.Equal(t, "+$12.34", signed("12.34", false))
	assert.Equal(t, "$-3.21", signed("-3.21", true))
}

func TestFormatDisplayCalculating(t *testing.T) {
	d := derive.PositionDisplay{
		Pair:         "BTC/USDT",
		PositionType: "long",
		State:        derive.StateCalculating,
	}
	out := formatDisplay(d)
	assert.Contains(t, out, "BTC/USDT")
	assert.Contains(t, out, "calculating")
}

func TestFormatDisplayTrailing(t *testing.T) {
	d := derive.PositionDisplay{
		Pair:             "ETH/USDT",
		PositionType:     "short",
		State:            derive.StateTrailing,
		PriceMovePct:     decimal.NewNullDecimal(decimal.NewFromFloat(1.25)),
		CapitalReturnPct: decimal.NewNullDecimal(decimal.NewFromFloat(6.25)),
		PnLUSD:           decimal.NewNullDecimal(decimal.NewFromFloat(31.2)),
		TrailingActive:   true,
		TrailStopPrice:   decimal.NewNullDecimal(decimal.NewFromFloat(2450)),
		TrailEstimated:   true,
	}
	out := formatDisplay(d)
	assert.Contains(t, out, "SHORT")
	assert.Contains(t, out, "1.25%")
	assert.Contains(t, out, "2450 (est)")
}
