package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wboyt/tradewatch/derive"
)

// Config holds all configuration for the monitor
type Config struct {
	// Store
	DatabaseURL string // postgres:// DSN or SQLite path

	// Push change stream
	ChangefeedURL string

	// Fast price tier
	TickerURL      string
	TickerInterval time.Duration

	// Sync cadence
	PollInterval time.Duration
	PageSize     int
	WindowSize   int

	// Telegram
	TelegramToken  string
	TelegramChatID int64

	Debug bool

	// Numeric contract shared with the trading engine. The trail tiers and
	// contract sizes must mirror the engine's own tables; they are loaded
	// here rather than hard-coded so the two sides stay in sync by
	// deployment, not by code change.
	Derive derive.Config
}

// Defaults for the engine contract. Overridable via TRAIL_TIERS and
// CONTRACT_SIZES (JSON).
var (
	defaultTrailTiers = []derive.TrailTier{
		{MinProfitPct: decimal.NewFromFloat(3.0), TrailPct: decimal.NewFromFloat(1.5)},
		{MinProfitPct: decimal.NewFromFloat(2.0), TrailPct: decimal.NewFromFloat(1.0)},
		{MinProfitPct: decimal.NewFromFloat(1.0), TrailPct: decimal.NewFromFloat(0.6)},
		{MinProfitPct: decimal.NewFromFloat(0.3), TrailPct: decimal.NewFromFloat(0.35)},
	}
	defaultContractSizes = map[string]decimal.Decimal{
		"BTC/USDT": decimal.NewFromFloat(0.001),
		"ETH/USDT": decimal.NewFromFloat(0.01),
		"SOL/USDT": decimal.NewFromFloat(0.1),
		"XRP/USDT": decimal.NewFromFloat(10),
	}
)

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:   getEnv("DATABASE_URL", "data/tradewatch.db"),
		ChangefeedURL: getEnv("CHANGEFEED_URL", "ws://localhost:8090/changes"),

		TickerURL:      getEnv("TICKER_URL", "https://api.binance.com/api/v3/ticker/price"),
		TickerInterval: getEnvDuration("TICKER_INTERVAL", 3*time.Second),

		PollInterval: getEnvDuration("POLL_INTERVAL", 60*time.Second),
		PageSize:     getEnvInt("PAGE_SIZE", 1000),
		WindowSize:   getEnvInt("INDICATOR_WINDOW", 200),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		Debug: getEnvBool("DEBUG", false),

		Derive: derive.Config{
			TrailActivationPct: getEnvDecimal("TRAIL_ACTIVATION_PCT", decimal.NewFromFloat(0.3)),
			ContractExchange:   getEnv("CONTRACT_EXCHANGE", "kucoinfutures"),
			AtRiskLossPct:      getEnvDecimal("AT_RISK_LOSS_PCT", decimal.NewFromFloat(10)),
			NearStopFraction:   getEnvDecimal("NEAR_STOP_FRACTION", decimal.NewFromFloat(0.30)),
		},
	}

	tiers, err := loadTrailTiers()
	if err != nil {
		return nil, err
	}
	cfg.Derive.TrailTiers = tiers

	sizes, err := loadContractSizes()
	if err != nil {
		return nil, err
	}
	cfg.Derive.ContractSizes = sizes

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	return cfg, nil
}

// loadTrailTiers reads TRAIL_TIERS as a JSON array and keeps it sorted
// descending by profit level, the order the estimator expects.
func loadTrailTiers() ([]derive.TrailTier, error) {
	raw := os.Getenv("TRAIL_TIERS")
	if raw == "" {
		return defaultTrailTiers, nil
	}
	var tiers []derive.TrailTier
	if err := json.Unmarshal([]byte(raw), &tiers); err != nil {
		return nil, fmt.Errorf("invalid TRAIL_TIERS: %w", err)
	}
	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].MinProfitPct.GreaterThan(tiers[j].MinProfitPct)
	})
	return tiers, nil
}

func loadContractSizes() (map[string]decimal.Decimal, error) {
	raw := os.Getenv("CONTRACT_SIZES")
	if raw == "" {
		return defaultContractSizes, nil
	}
	var sizes map[string]decimal.Decimal
	if err := json.Unmarshal([]byte(raw), &sizes); err != nil {
		return nil, fmt.Errorf("invalid CONTRACT_SIZES: %w", err)
	}
	return sizes, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
