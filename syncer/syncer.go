package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wboyt/tradewatch/activity"
	"github.com/wboyt/tradewatch/changefeed"
	"github.com/wboyt/tradewatch/normalize"
	"github.com/wboyt/tradewatch/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SYNCHRONIZATION LAYER - Canonical in-memory view of the engine's store
// ═══════════════════════════════════════════════════════════════════════════════
//
// Three update sources feed the same collections:
//   1. one bulk paginated load at startup
//   2. the push changefeed (can drop silently)
//   3. a fixed-interval poll that re-reads the store wholesale
//
// All mutation happens on one dispatcher goroutine, so push/poll precedence
// is simply last-write-wins by row ID; both sources read the same store, so
// no sequencing beyond that is needed. Readers get deep-copied snapshots.
//
// Any individual fetch failure is logged and skipped. Partial data beats
// no data on a monitoring surface.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Store is the read surface the syncer populates from.
type Store interface {
	TradesPage(ctx context.Context, offset, limit int) ([]normalize.Raw, error)
	LatestStatus(ctx context.Context) (normalize.Raw, error)
	IndicatorWindow(ctx context.Context, limit int) ([]normalize.Raw, error)
	LatestPerPair(ctx context.Context) ([]normalize.Raw, error)
	OptionsSnapshots(ctx context.Context) ([]normalize.Raw, error)
	LogRows(ctx context.Context, limit int) ([]normalize.Raw, error)
}

// Options tune the sync cadence. Zero values pick the defaults.
type Options struct {
	PageSize     int
	WindowSize   int           // indicator window length
	PollInterval time.Duration // poll fallback cadence
}

const (
	defaultPageSize     = 1000
	defaultWindowSize   = 200
	defaultPollInterval = 60 * time.Second
)

// Collections is one read-only snapshot of everything the syncer owns.
// Slices are newest-first.
type Collections struct {
	Trades     []types.TradeRecord
	Positions  []types.OpenPosition
	Status     *types.BotStatus
	Indicators []types.IndicatorSnapshot
	Options    map[string]types.OptionsSnapshot
	Activity   []types.ActivityEvent
}

// OptionsFor returns the options snapshot for a pair, or nil.
func (c Collections) OptionsFor(pair string) *types.OptionsSnapshot {
	if snap, ok := c.Options[pair]; ok {
		return &snap
	}
	return nil
}

// Syncer owns the collections. Construct with New, start with Start, read
// with Snapshot. No package-level state; instances are independent.
type Syncer struct {
	mu   sync.RWMutex
	st   Store
	opts Options

	events <-chan changefeed.Event

	trades     []types.TradeRecord
	positions  []types.OpenPosition
	status     *types.BotStatus
	indicators []types.IndicatorSnapshot
	options    map[string]types.OptionsSnapshot
	feed       *activity.Feed

	refreshCh chan struct{}
	updatesCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   bool
}

// New creates a syncer over the given store and changefeed event stream.
func New(st Store, events <-chan changefeed.Event, opts Options) *Syncer {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.WindowSize <= 0 {
		opts.WindowSize = defaultWindowSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &Syncer{
		st:        st,
		opts:      opts,
		events:    events,
		options:   make(map[string]types.OptionsSnapshot),
		feed:      activity.NewFeed(),
		refreshCh: make(chan struct{}, 1),
		updatesCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start runs the bulk load and spawns the dispatcher loop.
func (s *Syncer) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.bulkLoad(ctx, true)
	go s.run()
	log.Info().Dur("poll", s.opts.PollInterval).Msg("🔄 Syncer started")
}

// Close tears down the dispatcher loop and the poll ticker together.
func (s *Syncer) Close() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
	log.Info().Msg("Syncer stopped")
}

// Refresh requests an immediate reload; non-blocking, coalesced.
func (s *Syncer) Refresh() {
	select {
	case s.refreshCh <- struct{}{}:
	default:
	}
}

// Updates signals (coalesced) whenever any collection changed.
func (s *Syncer) Updates() <-chan struct{} {
	return s.updatesCh
}

// Snapshot returns deep-copied, read-only views of every collection.
func (s *Syncer) Snapshot() Collections {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := Collections{
		Trades:     append([]types.TradeRecord(nil), s.trades...),
		Positions:  append([]types.OpenPosition(nil), s.positions...),
		Indicators: append([]types.IndicatorSnapshot(nil), s.indicators...),
		Options:    make(map[string]types.OptionsSnapshot, len(s.options)),
		Activity:   s.feed.All(),
	}
	if s.status != nil {
		st := *s.status
		if st.Diagnostics != nil {
			diags := make(map[string]types.PairDiagnostics, len(st.Diagnostics))
			for pair, d := range st.Diagnostics {
				diags[pair] = d
			}
			st.Diagnostics = diags
		}
		c.Status = &st
	}
	for pair, snap := range s.options {
		c.Options[pair] = snap
	}
	return c
}

// ─── dispatcher loop ───────────────────────────────────────────────────────────

func (s *Syncer) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case ev := <-s.events:
			s.dispatch(ev)
		case <-ticker.C:
			s.poll()
		case <-s.refreshCh:
			s.poll()
		}
	}
}

// dispatch applies one changefeed event to its collection. The merge rules
// for every table live here and nowhere else.
func (s *Syncer) dispatch(ev changefeed.Event) {
	switch ev.Table {
	case "trades":
		s.applyTrade(normalize.Trade(ev.Row))
	case "bot_status":
		status := normalize.Status(ev.Row)
		s.mu.Lock()
		s.status = &status
		s.mu.Unlock()
	case "indicator_snapshots":
		s.applyIndicator(normalize.Indicator(ev.Row))
	case "options_snapshots":
		snap := normalize.Options(ev.Row)
		s.mu.Lock()
		s.options[snap.Pair] = snap
		s.mu.Unlock()
	case "bot_activity":
		s.mu.Lock()
		s.feed.Add(activity.FromLogRow(ev.Row))
		s.mu.Unlock()
	default:
		log.Debug().Str("table", ev.Table).Msg("Changefeed event for untracked table")
		return
	}
	s.notify()
}

// applyTrade replaces a trade by ID or prepends a new one, emits the
// open/close activity delta, and rebuilds the open-position projection.
func (s *Syncer) applyTrade(t types.TradeRecord) {
	if t.ID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var prev *types.TradeRecord
	replaced := false
	for i := range s.trades {
		if s.trades[i].ID == t.ID {
			p := s.trades[i]
			prev = &p
			s.trades[i] = t
			replaced = true
			break
		}
	}
	if !replaced {
		s.trades = append([]types.TradeRecord{t}, s.trades...)
	}

	s.emitTradeDelta(prev, t)
	s.rebuildPositions()
}

// emitTradeDelta appends activity for open/close transitions. Callers hold
// the lock.
func (s *Syncer) emitTradeDelta(prev *types.TradeRecord, t types.TradeRecord) {
	switch {
	case prev == nil && t.Open():
		s.feed.Add(activity.TradeOpened(t))
	case prev != nil && prev.Open() && t.Status == types.StatusClosed:
		s.feed.Add(activity.TradeClosed(t))
	}
}

func (s *Syncer) applyIndicator(snap types.IndicatorSnapshot) {
	if snap.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := append([]types.IndicatorSnapshot{snap}, removeIndicator(s.indicators, snap.ID)...)
	s.indicators = boundIndicators(merged, s.opts.WindowSize)
}

func (s *Syncer) notify() {
	select {
	case s.updatesCh <- struct{}{}:
	default:
	}
}

// ─── bulk load & poll ──────────────────────────────────────────────────────────

// bulkLoad fetches everything. Trades paginate; the sibling fetches run
// concurrently and fail independently. seed suppresses activity deltas so
// startup does not replay history into the feed.
func (s *Syncer) bulkLoad(ctx context.Context, seed bool) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		trades, err := s.fetchAllTrades(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Trade bulk load failed")
			return
		}
		s.setTrades(trades, seed)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		raw, err := s.st.LatestStatus(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Status fetch failed")
			return
		}
		if raw == nil {
			return
		}
		status := normalize.Status(raw)
		s.mu.Lock()
		s.status = &status
		s.mu.Unlock()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.loadIndicators(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		raws, err := s.st.OptionsSnapshots(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Options snapshots fetch failed")
			return
		}
		seen := make(map[string]struct{}, len(raws))
		s.mu.Lock()
		for _, raw := range raws {
			snap := normalize.Options(raw)
			if _, dup := seen[snap.Pair]; dup {
				// Rows are newest first; keep the first per pair.
				continue
			}
			seen[snap.Pair] = struct{}{}
			s.options[snap.Pair] = snap
		}
		s.mu.Unlock()
	}()

	if seed {
		wg.Add(1)
		go func() {
			defer wg.Done()
			raws, err := s.st.LogRows(ctx, activity.Capacity)
			if err != nil {
				log.Error().Err(err).Msg("Activity log fetch failed")
				return
			}
			s.mu.Lock()
			for i := len(raws) - 1; i >= 0; i-- {
				s.feed.Add(activity.FromLogRow(raws[i]))
			}
			s.mu.Unlock()
		}()
	}

	wg.Wait()
	s.notify()
}

// poll is the fallback path: wholesale refresh of trades, status and
// indicators regardless of the changefeed's reported health. Push
// disconnects can be silent; this bounds staleness at one poll interval.
func (s *Syncer) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.bulkLoad(ctx, false)
}

// fetchAllTrades pages through the trades table until a short page,
// deduplicating by ID.
func (s *Syncer) fetchAllTrades(ctx context.Context) ([]types.TradeRecord, error) {
	var out []types.TradeRecord
	seen := make(map[string]struct{})

	for offset := 0; ; offset += s.opts.PageSize {
		rows, err := s.st.TradesPage(ctx, offset, s.opts.PageSize)
		if err != nil {
			return nil, err
		}
		for _, raw := range rows {
			t := normalize.Trade(raw)
			if t.ID == "" {
				continue
			}
			if _, dup := seen[t.ID]; dup {
				continue
			}
			seen[t.ID] = struct{}{}
			out = append(out, t)
		}
		if len(rows) < s.opts.PageSize {
			return out, nil
		}
	}
}

// setTrades replaces the trade collection wholesale, diffing against the
// previous state for activity deltas unless seeding.
func (s *Syncer) setTrades(trades []types.TradeRecord, seed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !seed {
		prev := make(map[string]types.TradeRecord, len(s.trades))
		for _, t := range s.trades {
			prev[t.ID] = t
		}
		for _, t := range trades {
			if p, ok := prev[t.ID]; ok {
				s.emitTradeDelta(&p, t)
			} else {
				s.emitTradeDelta(nil, t)
			}
		}
	}

	s.trades = trades
	s.rebuildPositions()
}

// loadIndicators merges the bounded recent window with the latest-per-pair
// projection; the window wins on ID collisions.
func (s *Syncer) loadIndicators(ctx context.Context) {
	windowRaw, err := s.st.IndicatorWindow(ctx, s.opts.WindowSize)
	if err != nil {
		log.Error().Err(err).Msg("Indicator window fetch failed")
		windowRaw = nil
	}
	latestRaw, err := s.st.LatestPerPair(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Latest-per-pair fetch failed")
		latestRaw = nil
	}
	if windowRaw == nil && latestRaw == nil {
		return
	}

	seen := make(map[string]struct{})
	var merged []types.IndicatorSnapshot
	for _, raw := range windowRaw {
		snap := normalize.Indicator(raw)
		if snap.ID == "" {
			continue
		}
		if _, dup := seen[snap.ID]; dup {
			continue
		}
		seen[snap.ID] = struct{}{}
		merged = append(merged, snap)
	}
	for _, raw := range latestRaw {
		snap := normalize.Indicator(raw)
		if snap.ID == "" {
			continue
		}
		if _, dup := seen[snap.ID]; dup {
			continue
		}
		seen[snap.ID] = struct{}{}
		merged = append(merged, snap)
	}

	s.mu.Lock()
	s.indicators = boundIndicators(merged, s.opts.WindowSize)
	s.mu.Unlock()
}

// rebuildPositions recomputes the open-position projection from the trade
// collection, so every projection row matches exactly one open trade.
// Callers hold the lock.
func (s *Syncer) rebuildPositions() {
	positions := make([]types.OpenPosition, 0, 8)
	for _, t := range s.trades {
		if t.Open() {
			positions = append(positions, normalize.FromTrade(t))
		}
	}
	s.positions = positions
}

// removeIndicator drops the snapshot with the given ID, if present.
func removeIndicator(snaps []types.IndicatorSnapshot, id string) []types.IndicatorSnapshot {
	out := snaps[:0:len(snaps)]
	for _, snap := range snaps {
		if snap.ID != id {
			out = append(out, snap)
		}
	}
	return out
}

// boundIndicators truncates to the window size while keeping at least the
// newest snapshot per (pair, exchange), so no tracked pair goes dark just
// because it fell outside the window.
func boundIndicators(snaps []types.IndicatorSnapshot, window int) []types.IndicatorSnapshot {
	if len(snaps) <= window {
		return snaps
	}

	kept := snaps[:window]
	covered := make(map[string]struct{}, len(kept))
	for _, snap := range kept {
		covered[snap.Pair+"|"+snap.Exchange] = struct{}{}
	}

	newestBeyond := make(map[string]types.IndicatorSnapshot)
	for _, snap := range snaps[window:] {
		key := snap.Pair + "|" + snap.Exchange
		if _, ok := covered[key]; ok {
			continue
		}
		if best, ok := newestBeyond[key]; !ok || snap.Timestamp.After(best.Timestamp) {
			newestBeyond[key] = snap
		}
	}

	out := append([]types.IndicatorSnapshot(nil), kept...)
	for _, snap := range newestBeyond {
		out = append(out, snap)
	}
	return out
}
