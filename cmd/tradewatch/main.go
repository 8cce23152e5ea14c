// Tradewatch - Monitoring surface for an automated leveraged-trading bot
//
// Reads the trading engine's persisted records (trades, heartbeat,
// indicator and options snapshots), keeps them synchronized through a push
// changefeed with a polling fallback, and derives live position state
// (P&L, risk proximity, trailing-stop geometry) on every price tick.
//
// The trading engine itself is a separate system; the only write path back
// to it is the append-only command queue driven by the operator.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wboyt/tradewatch/bot"
	"github.com/wboyt/tradewatch/changefeed"
	"github.com/wboyt/tradewatch/core"
	"github.com/wboyt/tradewatch/internal/config"
	"github.com/wboyt/tradewatch/prices"
	"github.com/wboyt/tradewatch/store"
	"github.com/wboyt/tradewatch/syncer"
)

const version = "1.2.0"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", version).
		Str("store", cfg.DatabaseURL).
		Msg("👁️ Tradewatch starting...")

	st, err := store.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}

	feed := changefeed.NewClient(cfg.ChangefeedURL)
	feed.Start()

	syn := syncer.New(st, feed.Events(), syncer.Options{
		PageSize:     cfg.PageSize,
		WindowSize:   cfg.WindowSize,
		PollInterval: cfg.PollInterval,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	syn.Start(ctx)

	ticker := prices.NewTickerFeed(cfg.TickerURL, cfg.TickerInterval)
	resolver := prices.NewResolver(ticker)

	engine := core.NewEngine(syn, resolver, ticker, cfg.Derive)
	engine.Start()

	var tg *bot.TelegramBot
	if cfg.TelegramToken != "" {
		tg, err = bot.NewTelegramBot(cfg.TelegramToken, cfg.TelegramChatID, engine, st)
		if err != nil {
			log.Error().Err(err).Msg("Telegram bot unavailable, continuing without it")
		} else {
			tg.SetRefreshCallback(syn.Refresh)
			tg.Start()
		}
	} else {
		log.Warn().Msg("TELEGRAM_BOT_TOKEN not set, running headless")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down...")

	if tg != nil {
		tg.Stop()
	}
	engine.Stop()
	syn.Close()
	feed.Stop()

	log.Info().Msg("👋 Tradewatch stopped")
}
