package syncer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wboyt/tradewatch/changefeed"
	"github.com/wboyt/tradewatch/normalize"
	"github.com/wboyt/tradewatch/types"
)

// fakeStore serves canned rows and fails on demand per table.
type fakeStore struct {
	trades     []normalize.Raw
	status     normalize.Raw
	window     []normalize.Raw
	latest     []normalize.Raw
	options    []normalize.Raw
	logs       []normalize.Raw
	failTrades bool
	failStatus bool
}

func (f *fakeStore) TradesPage(_ context.Context, offset, limit int) ([]normalize.Raw, error) {
	if f.failTrades {
		return nil, fmt.Errorf("boom")
	}
	if offset >= len(f.trades) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.trades) {
		end = len(f.trades)
	}
	return f.trades[offset:end], nil
}

func (f *fakeStore) LatestStatus(context.Context) (normalize.Raw, error) {
	if f.failStatus {
		return nil, fmt.Errorf("boom")
	}
	return f.status, nil
}

func (f *fakeStore) IndicatorWindow(context.Context, int) ([]normalize.Raw, error) {
	return f.window, nil
}

func (f *fakeStore) LatestPerPair(context.Context) ([]normalize.Raw, error) {
	return f.latest, nil
}

func (f *fakeStore) OptionsSnapshots(context.Context) ([]normalize.Raw, error) {
	return f.options, nil
}

func (f *fakeStore) LogRows(context.Context, int) ([]normalize.Raw, error) {
	return f.logs, nil
}

func tradeRow(id string, status string) normalize.Raw {
	return normalize.Raw{
		"id":            id,
		"pair":          "BTC/USDT",
		"exchange":      "binance",
		"position_type": "long",
		"status":        status,
		"entry_price":   100.0,
		"amount":        1.0,
		"leverage":      5.0,
		"opened_at":     "2026-08-01T10:00:00Z",
	}
}

func TestBulkLoadPaginationComplete(t *testing.T) {
	st := &fakeStore{}
	for i := 0; i < 2500; i++ {
		st.trades = append(st.trades, tradeRow(fmt.Sprintf("t%04d", i), "closed"))
	}
	// A duplicate row straddling nothing in particular; dedup is by ID.
	st.trades = append(st.trades, tradeRow("t0001", "closed"))

	s := New(st, nil, Options{PageSize: 1000})
	s.bulkLoad(context.Background(), true)

	snap := s.Snapshot()
	require.Len(t, snap.Trades, 2500)

	seen := make(map[string]struct{}, len(snap.Trades))
	for _, tr := range snap.Trades {
		_, dup := seen[tr.ID]
		require.False(t, dup, "duplicate id %s", tr.ID)
		seen[tr.ID] = struct{}{}
	}
}

func TestBulkLoadPartialFailureIsolated(t *testing.T) {
	st := &fakeStore{
		failTrades: true,
		status:     normalize.Raw{"bot_state": "running", "updated_at": "2026-08-01T10:00:00Z"},
		options: []normalize.Raw{
			{"pair": "BTC/USDT", "current_premium": 400.0, "updated_at": "2026-08-01T10:00:00Z"},
		},
	}

	s := New(st, nil, Options{})
	s.bulkLoad(context.Background(), true)

	snap := s.Snapshot()
	// Trades failed, siblings still landed.
	assert.Empty(t, snap.Trades)
	require.NotNil(t, snap.Status)
	assert.Equal(t, "running", snap.Status.BotState)
	assert.Contains(t, snap.Options, "BTC/USDT")
}

func TestIndicatorWindowMergeWindowWins(t *testing.T) {
	indicator := func(id, pair, ts string, price float64) normalize.Raw {
		return normalize.Raw{
			"id": id, "pair": pair, "exchange": "binance",
			"timestamp": ts, "current_price": price,
		}
	}
	st := &fakeStore{
		window: []normalize.Raw{
			indicator("i2", "BTC/USDT", "2026-08-01T10:02:00Z", 64100),
			indicator("i1", "BTC/USDT", "2026-08-01T10:01:00Z", 64000),
		},
		latest: []normalize.Raw{
			// Same ID as the window copy but a different price; window wins.
			indicator("i2", "BTC/USDT", "2026-08-01T10:02:00Z", 99999),
			// A pair outside the window survives the merge.
			indicator("i9", "XRP/USDT", "2026-08-01T09:00:00Z", 0.52),
		},
	}

	s := New(st, nil, Options{})
	s.loadIndicators(context.Background())

	snap := s.Snapshot()
	require.Len(t, snap.Indicators, 3)

	byID := make(map[string]types.IndicatorSnapshot)
	for _, ind := range snap.Indicators {
		byID[ind.ID] = ind
	}
	assert.Equal(t, "64100", byID["i2"].CurrentPrice.String())
	assert.Contains(t, byID, "i9")
}

func TestDispatchTradeInsertAndClose(t *testing.T) {
	s := New(&fakeStore{}, nil, Options{})

	s.dispatch(changefeed.Event{
		Table: "trades", Type: changefeed.TypeInsert,
		Row: tradeRow("t1", "open"),
	})

	snap := s.Snapshot()
	require.Len(t, snap.Trades, 1)
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, "t1", snap.Positions[0].ID)
	require.Len(t, snap.Activity, 1)
	assert.Equal(t, types.EventOpen, snap.Activity[0].Type)

	// Close arrives as an update matched by ID.
	closed := tradeRow("t1", "closed")
	closed["net_pnl"] = 7.5
	closed["closed_at"] = "2026-08-01T11:00:00Z"
	s.dispatch(changefeed.Event{Table: "trades", Type: changefeed.TypeUpdate, Row: closed})

	snap = s.Snapshot()
	require.Len(t, snap.Trades, 1)
	// The open-position projection drops the row the moment it closes.
	assert.Empty(t, snap.Positions)
	require.Len(t, snap.Activity, 2)
	assert.Equal(t, types.EventClose, snap.Activity[0].Type)
	assert.Contains(t, snap.Activity[0].Description, "+$7.50")
}

func TestDispatchNewTradesPrepend(t *testing.T) {
	s := New(&fakeStore{}, nil, Options{})

	s.dispatch(changefeed.Event{Table: "trades", Row: tradeRow("t1", "open")})
	s.dispatch(changefeed.Event{Table: "trades", Row: tradeRow("t2", "open")})

	snap := s.Snapshot()
	require.Len(t, snap.Trades, 2)
	assert.Equal(t, "t2", snap.Trades[0].ID)
}

func TestDispatchStatusAndOptions(t *testing.T) {
	s := New(&fakeStore{}, nil, Options{})

	s.dispatch(changefeed.Event{
		Table: "bot_status",
		Row:   normalize.Raw{"bot_state": "paused", "is_paused": true, "updated_at": "2026-08-01T10:00:00Z"},
	})
	s.dispatch(changefeed.Event{
		Table: "options_snapshots",
		Row:   normalize.Raw{"pair": "BTC/USDT", "current_premium": 400.0, "updated_at": "2026-08-01T10:00:00Z"},
	})
	s.dispatch(changefeed.Event{
		Table: "options_snapshots",
		Row:   normalize.Raw{"pair": "BTC/USDT", "current_premium": 405.0, "updated_at": "2026-08-01T10:00:30Z"},
	})

	snap := s.Snapshot()
	require.NotNil(t, snap.Status)
	assert.True(t, snap.Status.IsPaused)

	opt := snap.OptionsFor("BTC/USDT")
	require.NotNil(t, opt)
	assert.Equal(t, "405", opt.CurrentPremium.Decimal.String())
}

func TestPollReplaceEmitsDeltas(t *testing.T) {
	st := &fakeStore{trades: []normalize.Raw{tradeRow("t1", "open")}}
	s := New(st, nil, Options{})
	s.bulkLoad(context.Background(), true)

	// Seeding stays quiet.
	assert.Empty(t, s.Snapshot().Activity)

	// The poll sees the same trade closed and a brand new open one.
	closed := tradeRow("t1", "closed")
	closed["net_pnl"] = -2.0
	closed["closed_at"] = "2026-08-01T11:00:00Z"
	st.trades = []normalize.Raw{closed, tradeRow("t2", "open")}
	s.bulkLoad(context.Background(), false)

	snap := s.Snapshot()
	require.Len(t, snap.Activity, 2)
	typesSeen := map[string]bool{}
	for _, ev := range snap.Activity {
		typesSeen[ev.Type] = true
	}
	assert.True(t, typesSeen[types.EventOpen])
	assert.True(t, typesSeen[types.EventClose])

	require.Len(t, snap.Positions, 1)
	assert.Equal(t, "t2", snap.Positions[0].ID)
}

func TestPollRefreshesOptions(t *testing.T) {
	st := &fakeStore{
		options: []normalize.Raw{
			{"pair": "BTC/USDT", "current_premium": 400.0, "updated_at": "2026-08-01T10:00:00Z"},
		},
	}
	s := New(st, nil, Options{})
	s.bulkLoad(context.Background(), true)

	// The next poll sees a fresher premium; it must replace the cached one.
	st.options = []normalize.Raw{
		{"pair": "BTC/USDT", "current_premium": 500.0, "updated_at": "2026-08-01T10:05:00Z"},
	}
	s.bulkLoad(context.Background(), false)

	opt := s.Snapshot().OptionsFor("BTC/USDT")
	require.NotNil(t, opt)
	assert.Equal(t, "500", opt.CurrentPremium.Decimal.String())
}

func TestBulkLoadOptionsNewestPerPairWithinBatch(t *testing.T) {
	// Rows come back newest first; a stale duplicate later in the same batch
	// must not clobber the head row.
	st := &fakeStore{
		options: []normalize.Raw{
			{"pair": "BTC/USDT", "current_premium": 500.0, "updated_at": "2026-08-01T10:05:00Z"},
			{"pair": "BTC/USDT", "current_premium": 400.0, "updated_at": "2026-08-01T10:00:00Z"},
		},
	}
	s := New(st, nil, Options{})
	s.bulkLoad(context.Background(), true)

	opt := s.Snapshot().OptionsFor("BTC/USDT")
	require.NotNil(t, opt)
	assert.Equal(t, "500", opt.CurrentPremium.Decimal.String())
}

func TestBoundIndicatorsKeepsLatestPerPair(t *testing.T) {
	ts := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	snaps := []types.IndicatorSnapshot{
		{ID: "a1", Pair: "BTC/USDT", Exchange: "binance", Timestamp: ts.Add(3 * time.Minute)},
		{ID: "a2", Pair: "BTC/USDT", Exchange: "binance", Timestamp: ts.Add(2 * time.Minute)},
		{ID: "b1", Pair: "ETH/USDT", Exchange: "binance", Timestamp: ts.Add(time.Minute)},
		{ID: "b2", Pair: "ETH/USDT", Exchange: "binance", Timestamp: ts},
	}

	out := boundIndicators(snaps, 2)

	// Window keeps the two newest; ETH survives via latest-per-pair.
	ids := make([]string, 0, len(out))
	for _, s := range out {
		ids = append(ids, s.ID)
	}
	assert.Contains(t, ids, "a1")
	assert.Contains(t, ids, "a2")
	assert.Contains(t, ids, "b1")
	assert.NotContains(t, ids, "b2")
}

func TestSnapshotIsolation(t *testing.T) {
	s := New(&fakeStore{}, nil, Options{})
	s.dispatch(changefeed.Event{Table: "trades", Row: tradeRow("t1", "open")})

	snap := s.Snapshot()
	snap.Trades[0].ID = "mutated"
	snap.Options["X"] = types.OptionsSnapshot{}

	again := s.Snapshot()
	assert.Equal(t, "t1", again.Trades[0].ID)
	assert.NotContains(t, again.Options, "X")
}

func TestSnapshotStatusDiagnosticsIsolated(t *testing.T) {
	s := New(&fakeStore{}, nil, Options{})
	s.dispatch(changefeed.Event{
		Table: "bot_status",
		Row: normalize.Raw{
			"bot_state":   "running",
			"updated_at":  "2026-08-01T10:00:00Z",
			"diagnostics": `{"BTC/USDT": {"last_signal": "buy"}}`,
		},
	})

	snap := s.Snapshot()
	require.NotNil(t, snap.Status)
	snap.Status.Diagnostics["ETH/USDT"] = types.PairDiagnostics{LastSignal: "sell"}

	again := s.Snapshot()
	require.NotNil(t, again.Status)
	assert.NotContains(t, again.Status.Diagnostics, "ETH/USDT")
	assert.Equal(t, "buy", again.Status.Diagnostics["BTC/USDT"].LastSignal)
}

func TestStartAndCloseTearDownTogether(t *testing.T) {
	events := make(chan changefeed.Event)
	s := New(&fakeStore{}, events, Options{PollInterval: time.Hour})

	s.Start(context.Background())
	events <- changefeed.Event{Table: "trades", Row: tradeRow("t1", "open")}

	// The dispatcher loop applied the event.
	require.Eventually(t, func() bool {
		return len(s.Snapshot().Trades) == 1
	}, time.Second, 10*time.Millisecond)

	s.Close()
	// Closing twice is a no-op, not a panic.
	s.Close()
}
