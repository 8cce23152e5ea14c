package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/wboyt/tradewatch/core"
	"github.com/wboyt/tradewatch/derive"
	"github.com/wboyt/tradewatch/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM BOT - Operator surface over the rendered state
// ═══════════════════════════════════════════════════════════════════════════════
//
// Read commands render the engine's derived state; control commands append
// to the trading engine's command queue and nothing else. A queue failure
// is reported to the chat once and never retried: re-issuing a pause or
// close without the operator confirming is unsafe.
//
// ═══════════════════════════════════════════════════════════════════════════════

// StateProvider renders the monitor's derived state.
type StateProvider interface {
	Displays() []derive.PositionDisplay
	GetOverview() core.Overview
	Activity() []types.ActivityEvent
}

// CommandQueue appends operator commands for the trading engine.
type CommandQueue interface {
	EnqueueCommand(ctx context.Context, cmd types.Command) error
}

// TelegramBot manages the Telegram interface.
type TelegramBot struct {
	mu      sync.RWMutex
	api     *tgbotapi.BotAPI
	chatID  int64
	running bool
	stopCh  chan struct{}

	state StateProvider
	queue CommandQueue

	onRefresh func()
}

// NewTelegramBot creates the bot from an existing API token.
func NewTelegramBot(token string, chatID int64, state StateProvider, queue CommandQueue) (*TelegramBot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token not set")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := &TelegramBot{
		api:    api,
		chatID: chatID,
		stopCh: make(chan struct{}),
		state:  state,
		queue:  queue,
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot initialized")
	return b, nil
}

// SetRefreshCallback wires the /refresh command to the syncer.
func (b *TelegramBot) SetRefreshCallback(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRefresh = fn
}

// Start begins listening for commands.
func (b *TelegramBot) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	go b.commandLoop()
	log.Info().Msg("📱 Telegram bot started")
}

// Stop stops the bot.
func (b *TelegramBot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}
	b.running = false
	close(b.stopCh)
	log.Info().Msg("Telegram bot stopped")
}

func (b *TelegramBot) commandLoop() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-b.stopCh:
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if update.Message.Chat.ID != b.chatID {
				continue
			}
			b.handleCommand(update.Message)
		}
	}
}

func (b *TelegramBot) handleCommand(msg *tgbotapi.Message) {
	switch strings.ToLower(msg.Command()) {
	case "start", "help":
		b.cmdHelp()
	case "status":
		b.cmdStatus()
	case "positions":
		b.cmdPositions()
	case "activity":
		b.cmdActivity()
	case "refresh":
		b.cmdRefresh()
	case "pause":
		b.enqueue(types.CmdPause, "")
	case "resume":
		b.enqueue(types.CmdResume, "")
	case "forceresume":
		// Bypasses the engine's win-rate safety gate.
		b.enqueue(types.CmdForceResume, "")
	case "close":
		b.cmdClose(msg.CommandArguments())
	case "toggle":
		b.cmdToggle(msg.CommandArguments())
	case "setpairconfig":
		b.cmdSetPairConfig(msg.CommandArguments())
	case "ping":
		b.send("🏓 Pong!")
	default:
		b.send("❓ Unknown command. Use /help")
	}
}

func (b *TelegramBot) cmdHelp() {
	msg := `🤖 *TRADEWATCH COMMANDS*
━━━━━━━━━━━━━━━━━━━━

📊 /status — Bot heartbeat & staleness
💼 /positions — Open positions, live P&L
📜 /activity — Recent events
🔄 /refresh — Force a store reload
⏸️ /pause — Pause the trading engine
▶️ /resume — Resume trading
🚨 /forceresume — Resume, skip win-rate gate
❌ /close <id> — Close one position
🎛️ /toggle <strategy> — Toggle a strategy
⚙️ /setpairconfig <pair> <json> — Override one pair's settings
🏓 /ping — Test connection`

	b.sendMarkdown(msg)
}

func (b *TelegramBot) cmdStatus() {
	o := b.state.GetOverview()

	if o.Status == nil {
		b.send("⚠️ No heartbeat received yet")
		return
	}

	health := "🟢 LIVE"
	if o.StatusStale {
		health = "🔴 STALE (no heartbeat >7m)"
	}
	paused := "running"
	if o.Status.IsPaused {
		paused = "⏸️ PAUSED"
	}

	capital := "?"
	if o.Status.Capital.Valid {
		capital = "$" + o.Status.Capital.Decimal.StringFixed(2)
	}
	pnl := "?"
	if o.Status.TotalPnL.Valid {
		pnl = signed(o.Status.TotalPnL.Decimal.StringFixed(2), o.Status.TotalPnL.Decimal.IsNegative())
	}
	winRate := "?"
	if o.Status.WinRate.Valid {
		winRate = o.Status.WinRate.Decimal.StringFixed(1) + "%"
	}

	msg := fmt.Sprintf(`📊 *BOT STATUS*
━━━━━━━━━━━━━━━━━━━━

%s — %s
💰 Capital: *%s*
💵 Total P&L: *%s*
📈 Win rate: *%s*
💼 Open positions: *%d*
📡 Fast feed: *%v*`,
		health, paused, capital, pnl, winRate, o.OpenCount, o.FeedLive)

	for pair, stale := range o.OptionsStale {
		if stale {
			msg += fmt.Sprintf("\n⚠️ Options data stale: %s", pair)
		}
	}

	b.sendMarkdown(msg)
}

func (b *TelegramBot) cmdPositions() {
	displays := b.state.Displays()
	if len(displays) == 0 {
		b.send("💤 No open positions")
		return
	}

	var sb strings.Builder
	sb.WriteString("💼 *OPEN POSITIONS*\n━━━━━━━━━━━━━━━━━━━━\n")
	for _, d := range displays {
		sb.WriteString("\n" + formatDisplay(d) + "\n")
	}
	b.sendMarkdown(sb.String())
}

func formatDisplay(d derive.PositionDisplay) string {
	emoji := map[string]string{
		derive.StateTrailing:    "🔒",
		derive.StateNearStop:    "🚨",
		derive.StateAtRisk:      "⚠️",
		derive.StateHoldingLoss: "📉",
		derive.StateHoldingGain: "📈",
		derive.StateCalculating: "⏳",
	}[d.State]

	head := fmt.Sprintf("%s *%s* %s (%s)", emoji, d.Pair, strings.ToUpper(d.PositionType), d.State)
	if d.State == derive.StateCalculating {
		return head + "\n   calculating…"
	}

	line := fmt.Sprintf("   move %s%% · return %s%% · P&L %s",
		d.PriceMovePct.Decimal.StringFixed(2),
		d.CapitalReturnPct.Decimal.StringFixed(2),
		signed(d.PnLUSD.Decimal.StringFixed(2), d.PnLUSD.Decimal.IsNegative()))
	if d.TrailingActive && d.TrailStopPrice.Valid {
		est := ""
		if d.TrailEstimated {
			est = " (est)"
		}
		line += fmt.Sprintf("\n   trail stop %s%s", d.TrailStopPrice.Decimal.String(), est)
	}
	return head + "\n" + line
}

func (b *TelegramBot) cmdActivity() {
	events := b.state.Activity()
	if len(events) == 0 {
		b.send("📜 No activity yet")
		return
	}
	if len(events) > 10 {
		events = events[:10]
	}

	var sb strings.Builder
	sb.WriteString("📜 *RECENT ACTIVITY*\n━━━━━━━━━━━━━━━━━━━━\n")
	for _, ev := range events {
		sb.WriteString(fmt.Sprintf("\n`%s` %s",
			ev.Timestamp.Format("15:04:05"), ev.Description))
	}
	b.sendMarkdown(sb.String())
}

func (b *TelegramBot) cmdRefresh() {
	b.mu.RLock()
	fn := b.onRefresh
	b.mu.RUnlock()

	if fn != nil {
		fn()
	}
	b.send("🔄 Refresh requested")
}

func (b *TelegramBot) cmdClose(args string) {
	id := strings.TrimSpace(args)
	if id == "" {
		b.send("Usage: /close <position id>")
		return
	}
	b.enqueue(types.CmdClosePosition, fmt.Sprintf(`{"position_id":%q}`, id))
}

func (b *TelegramBot) cmdToggle(args string) {
	name := strings.TrimSpace(args)
	if name == "" {
		b.send("Usage: /toggle <strategy>")
		return
	}
	b.enqueue(types.CmdToggleStrategy, fmt.Sprintf(`{"strategy":%q}`, name))
}

// cmdSetPairConfig queues a per-pair settings override. The JSON body is
// passed through opaquely; the engine validates its own keys.
func (b *TelegramBot) cmdSetPairConfig(args string) {
	payload, err := pairConfigPayload(args)
	if err != nil {
		b.send("Usage: /setpairconfig <pair> <json>, e.g. /setpairconfig BTC/USDT {\"leverage\": 3}")
		return
	}
	b.enqueue(types.CmdUpdatePairConfig, payload)
}

// pairConfigPayload builds the update_pair_config body from "<pair> <json>".
func pairConfigPayload(args string) (string, error) {
	pair, body, ok := strings.Cut(strings.TrimSpace(args), " ")
	if !ok || pair == "" {
		return "", fmt.Errorf("missing pair or settings")
	}
	body = strings.TrimSpace(body)
	if !json.Valid([]byte(body)) {
		return "", fmt.Errorf("settings are not valid JSON")
	}
	return fmt.Sprintf(`{"pair":%q,"config":%s}`, pair, body), nil
}

// enqueue appends one command and reports the outcome once.
func (b *TelegramBot) enqueue(cmdType, payload string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := types.Command{Type: cmdType, Payload: payload, CreatedAt: time.Now().UTC()}
	if err := b.queue.EnqueueCommand(ctx, cmd); err != nil {
		log.Error().Err(err).Str("type", cmdType).Msg("Command enqueue failed")
		b.send(fmt.Sprintf("⚠️ Could not send %s — not retried", cmdType))
		return
	}
	b.send(fmt.Sprintf("✅ %s queued", cmdType))
}

func signed(s string, negative bool) string {
	if negative {
		return "$" + s
	}
	return "+$" + s
}

func (b *TelegramBot) send(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Telegram send failed")
	}
}

func (b *TelegramBot) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Telegram send failed")
	}
}
