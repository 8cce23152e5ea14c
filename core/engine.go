package core

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wboyt/tradewatch/derive"
	"github.com/wboyt/tradewatch/prices"
	"github.com/wboyt/tradewatch/syncer"
	"github.com/wboyt/tradewatch/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE - Recompute-on-tick orchestrator
// ═══════════════════════════════════════════════════════════════════════════════
//
// Flow:
//   Syncer collections + Resolver price  →  Derive  →  rendered displays
//
// Every derived value is recomputed from source records on each tick and
// discarded on the next; nothing here persists. A transiently stale price
// against a fresh position is acceptable, the very next tick repairs it.
//
// ═══════════════════════════════════════════════════════════════════════════════

const repaintInterval = 10 * time.Second

// Overview is the operator's top-line state.
type Overview struct {
	Status       *types.BotStatus
	StatusStale  bool
	OptionsStale map[string]bool // per pair with an options snapshot
	OpenCount    int
	FeedLive     bool
}

type Engine struct {
	mu sync.RWMutex

	syn      *syncer.Syncer
	resolver *prices.Resolver
	feed     *prices.TickerFeed
	cfg      derive.Config
	now      func() time.Time

	displays []derive.PositionDisplay
	overview Overview

	running bool
	stopCh  chan struct{}
}

// NewEngine wires the syncer, resolver and ticker feed together.
func NewEngine(syn *syncer.Syncer, resolver *prices.Resolver, feed *prices.TickerFeed, cfg derive.Config) *Engine {
	return &Engine{
		syn:      syn,
		resolver: resolver,
		feed:     feed,
		cfg:      cfg,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start renders once and begins the tick loop.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	e.recompute()

	tickCh := e.feed.Subscribe()
	go e.loop(tickCh)

	log.Info().Msg("⚡ Engine started")
}

// Stop tears the loop down; the ticker feed stops with it.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}
	e.running = false
	close(e.stopCh)
	e.feed.Stop()
	log.Info().Msg("Engine stopped")
}

// Displays returns the latest rendered position view-models.
func (e *Engine) Displays() []derive.PositionDisplay {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]derive.PositionDisplay(nil), e.displays...)
}

// GetOverview returns the latest top-line state.
func (e *Engine) GetOverview() Overview {
	e.mu.RLock()
	defer e.mu.RUnlock()

	o := e.overview
	if o.Status != nil {
		st := *o.Status
		o.Status = &st
	}
	stale := make(map[string]bool, len(o.OptionsStale))
	for k, v := range o.OptionsStale {
		stale[k] = v
	}
	o.OptionsStale = stale
	return o
}

// Activity returns the current activity feed, newest first.
func (e *Engine) Activity() []types.ActivityEvent {
	return e.syn.Snapshot().Activity
}

func (e *Engine) loop(tickCh <-chan prices.PriceUpdate) {
	repaint := time.NewTicker(repaintInterval)
	defer repaint.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-tickCh:
			e.recompute()
		case <-e.syn.Updates():
			e.recompute()
		case <-repaint.C:
			e.recompute()
		}
	}
}

// recompute re-derives every open position from the current snapshot and
// swaps the rendered state in one write.
func (e *Engine) recompute() {
	snap := e.syn.Snapshot()
	now := e.now()

	e.manageFeed(snap.Positions)

	displays := make([]derive.PositionDisplay, 0, len(snap.Positions))
	for _, pos := range snap.Positions {
		opt := snap.OptionsFor(pos.Pair)
		price, ok := e.resolver.Resolve(pos, opt, snap.Indicators)
		displays = append(displays, derive.Derive(pos, price, ok, opt, e.cfg))
	}

	overview := Overview{
		Status:       snap.Status,
		OptionsStale: make(map[string]bool, len(snap.Options)),
		OpenCount:    len(snap.Positions),
		FeedLive:     e.feed.Running(),
	}
	if snap.Status != nil {
		overview.StatusStale = snap.Status.Stale(now)
	}
	for pair, o := range snap.Options {
		overview.OptionsStale[pair] = o.Stale(now)
	}

	e.mu.Lock()
	e.displays = displays
	e.overview = overview
	e.mu.Unlock()
}

// manageFeed keeps the fast ticker running only while non-option positions
// are open, tracking exactly their symbols.
func (e *Engine) manageFeed(positions []types.OpenPosition) {
	symbols := make([]string, 0, len(positions))
	seen := make(map[string]struct{}, len(positions))
	for _, pos := range positions {
		if derive.IsOption(pos) {
			continue
		}
		sym := prices.TickerSymbol(pos.Pair)
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		symbols = append(symbols, sym)
	}

	e.feed.SetSymbols(symbols)
	if len(symbols) > 0 && !e.feed.Running() {
		e.feed.Start()
	} else if len(symbols) == 0 && e.feed.Running() {
		e.feed.Stop()
	}
}
