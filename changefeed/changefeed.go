package changefeed

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CHANGEFEED - Push-based table change stream
// ═══════════════════════════════════════════════════════════════════════════════
//
// Long-lived WebSocket subscription to the store's change-notification
// channel. Delivers insert/update events keyed by table name into a single
// buffered channel; the syncer's dispatcher loop is the sole consumer, so
// every merge rule lives in one place.
//
// Disconnects can be silent. This client reconnects on its own, but
// eventual consistency is the syncer's poll fallback, not a feed promise.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	reconnectDelay = 5 * time.Second
	pingInterval   = 30 * time.Second
	eventBuffer    = 256
)

// Event types delivered by the stream.
const (
	TypeInsert = "INSERT"
	TypeUpdate = "UPDATE"
)

// Tables the monitor subscribes to.
var Tables = []string{"trades", "bot_status", "indicator_snapshots", "options_snapshots", "bot_activity"}

// Event is one table change.
type Event struct {
	Table string         `json:"table"`
	Type  string         `json:"type"`
	Row   map[string]any `json:"row"`
}

// Client maintains the subscription.
type Client struct {
	mu        sync.RWMutex
	url       string
	conn      *websocket.Conn
	connected bool
	running   bool
	stopCh    chan struct{}

	events chan Event
}

// NewClient creates a changefeed client for the given ws endpoint.
func NewClient(url string) *Client {
	return &Client{
		url:    url,
		events: make(chan Event, eventBuffer),
	}
}

// Events returns the stream the dispatcher loop consumes.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Start connects and begins delivering events.
func (c *Client) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	go c.connectionLoop()
	log.Info().Str("url", c.url).Msg("📡 Changefeed started")
}

// Stop closes the connection and halts reconnects.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}
	c.running = false
	close(c.stopCh)

	if c.conn != nil {
		c.conn.Close()
	}
	log.Info().Msg("Changefeed stopped")
}

// Connected reports whether the subscription currently holds a live socket.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Client) connectionLoop() {
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		conn, done, err := c.connect()
		if err != nil {
			log.Error().Err(err).Msg("Changefeed connect failed, retrying...")
			time.Sleep(reconnectDelay)
			continue
		}

		c.readLoop(conn, done)
		time.Sleep(reconnectDelay)
	}
}

// connect dials, subscribes and spawns the ping loop. The returned done
// channel bounds the ping loop's lifetime to this connection.
func (c *Client) connect() (*websocket.Conn, chan struct{}, error) {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	sub := map[string]any{
		"type":   "subscribe",
		"tables": Tables,
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		return nil, nil, err
	}

	done := make(chan struct{})
	go c.pingLoop(conn, done)

	log.Info().Msg("🔌 Changefeed connected")
	return conn, done, nil
}

// pingLoop writes pings on one connection until that connection's read loop
// ends. One ping loop per socket, never two.
func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-done:
			return
		case <-ticker.C:
			conn.WriteMessage(websocket.PingMessage, nil)
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("Changefeed read error")
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			return
		}

		var ev Event
		if err := json.Unmarshal(message, &ev); err != nil {
			log.Debug().Err(err).Msg("Changefeed skipped malformed message")
			continue
		}
		if ev.Table == "" || ev.Row == nil {
			continue
		}

		select {
		case c.events <- ev:
		case <-c.stopCh:
			return
		default:
			// Dispatcher is behind; the 60s poll will converge anyway.
			log.Warn().Str("table", ev.Table).Msg("Changefeed buffer full, event dropped")
		}
	}
}
