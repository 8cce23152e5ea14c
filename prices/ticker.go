package prices

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TICKER FEED - Fast exchange price tier
// ═══════════════════════════════════════════════════════════════════════════════
//
// Polls the exchange's public ticker for the tracked symbols. Runs only
// while at least one position is open; the engine starts and stops it as
// positions come and go, so an idle monitor generates no exchange load.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	DefaultTickerURL      = "https://api.binance.com/api/v3/ticker/price"
	DefaultTickerInterval = 3 * time.Second

	tickStaleAfter = 15 * time.Second
)

// PriceUpdate is one observed price change.
type PriceUpdate struct {
	Symbol    string
	Price     decimal.Decimal
	Timestamp time.Time
}

type tick struct {
	price decimal.Decimal
	seen  time.Time
}

// TickerFeed maintains the fast price cache and fans updates out to
// subscribers.
type TickerFeed struct {
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}

	url      string
	interval time.Duration
	client   *http.Client
	now      func() time.Time

	symbols []string
	ticks   map[string]tick

	subscribers []chan PriceUpdate
}

// NewTickerFeed creates a feed for the given ticker endpoint.
func NewTickerFeed(url string, interval time.Duration) *TickerFeed {
	if url == "" {
		url = DefaultTickerURL
	}
	if interval <= 0 {
		interval = DefaultTickerInterval
	}
	return &TickerFeed{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		now:      time.Now,
		ticks:    make(map[string]tick),
	}
}

// SetSymbols replaces the tracked symbol set.
func (f *TickerFeed) SetSymbols(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.symbols = append([]string(nil), symbols...)
}

// Start begins polling. Safe to call when already running.
func (f *TickerFeed) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.stopCh = make(chan struct{})
	f.mu.Unlock()

	go f.pollLoop()
	log.Info().Dur("interval", f.interval).Msg("📈 Ticker feed started")
}

// Stop halts polling and clears the cache so stale ticks never outlive a
// stopped feed.
func (f *TickerFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return
	}
	f.running = false
	close(f.stopCh)
	f.ticks = make(map[string]tick)
	log.Info().Msg("Ticker feed stopped")
}

// Running reports whether the poll loop is live.
func (f *TickerFeed) Running() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.running
}

// Subscribe returns a channel receiving price changes.
func (f *TickerFeed) Subscribe() chan PriceUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan PriceUpdate, 100)
	f.subscribers = append(f.subscribers, ch)
	return ch
}

// GetPrice returns the cached price for a symbol, false when the feed has
// no fresh tick for it.
func (f *TickerFeed) GetPrice(symbol string) (decimal.Decimal, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	t, ok := f.ticks[symbol]
	if !ok || f.now().Sub(t.seen) > tickStaleAfter {
		return decimal.Zero, false
	}
	return t.price, true
}

func (f *TickerFeed) pollLoop() {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.fetchAll()

	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.fetchAll()
		}
	}
}

func (f *TickerFeed) fetchAll() {
	f.mu.RLock()
	symbols := append([]string(nil), f.symbols...)
	f.mu.RUnlock()

	for _, symbol := range symbols {
		price, err := f.fetchPrice(symbol)
		if err != nil {
			log.Debug().Err(err).Str("symbol", symbol).Msg("Ticker fetch failed")
			continue
		}

		f.mu.Lock()
		old := f.ticks[symbol]
		f.ticks[symbol] = tick{price: price, seen: f.now()}
		f.mu.Unlock()

		if !price.Equal(old.price) {
			f.broadcast(PriceUpdate{Symbol: symbol, Price: price, Timestamp: f.now()})
		}
	}
}

func (f *TickerFeed) fetchPrice(symbol string) (decimal.Decimal, error) {
	resp, err := f.client.Get(fmt.Sprintf("%s?symbol=%s", f.url, symbol))
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("ticker returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, err
	}

	var result struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(result.Price)
}

func (f *TickerFeed) broadcast(update PriceUpdate) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, ch := range f.subscribers {
		select {
		case ch <- update:
		default:
			// Subscriber full, skip
		}
	}
}

// TickerSymbol converts a pair like "BTC/USDT" to the exchange ticker
// symbol "BTCUSDT".
func TickerSymbol(pair string) string {
	return strings.ToUpper(strings.NewReplacer("/", "", "-", "", "_", "").Replace(pair))
}

// BaseAsset returns the base currency of a pair: "BTC/USDT" -> "BTC".
func BaseAsset(pair string) string {
	if i := strings.IndexAny(pair, "/-_"); i > 0 {
		return strings.ToUpper(pair[:i])
	}
	return strings.ToUpper(pair)
}
