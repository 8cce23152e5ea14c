package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wboyt/tradewatch/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STORE - Read models over the trading engine's persisted tables
// ═══════════════════════════════════════════════════════════════════════════════
//
// The engine owns these tables; this side only reads them, plus one
// append-only write path into the command queue. Rows come back as raw
// maps and run through the normalizer, so column drift across engine
// versions stays out of the query layer.
//
// ═══════════════════════════════════════════════════════════════════════════════

// DefaultPageSize is the bulk-load page size; it clears the store's
// single-request row cap with room to spare.
const DefaultPageSize = 1000

// Raw is one unnormalized row.
type Raw = map[string]any

type Store struct {
	db *gorm.DB
}

// New opens the store. A postgres:// URL selects the postgres driver,
// anything else is treated as a SQLite path (the dev and test store).
func New(dsn string) (*Store, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("💾 Store connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dsn)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dsn).Msg("💾 Store connected (SQLite)")
	}

	s := &Store{db: db}
	if err := s.migrateCommands(); err != nil {
		return nil, err
	}
	return s, nil
}

// CommandRow is the only table this side writes.
type CommandRow struct {
	ID        string `gorm:"primaryKey"`
	Type      string `gorm:"index"`
	Payload   string
	CreatedAt time.Time
	Processed bool `gorm:"default:false"`
}

func (CommandRow) TableName() string { return "bot_commands" }

// migrateCommands ensures the command queue exists; the engine's own tables
// are never touched.
func (s *Store) migrateCommands() error {
	return s.db.AutoMigrate(&CommandRow{})
}

// TradesPage fetches one bulk-load page of trade rows, newest first.
func (s *Store) TradesPage(ctx context.Context, offset, limit int) ([]Raw, error) {
	var rows []map[string]any
	err := s.db.WithContext(ctx).
		Table("trades").
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("trades page offset=%d: %w", offset, err)
	}
	return rows, nil
}

// LatestStatus fetches the newest heartbeat row, or nil when none exists.
func (s *Store) LatestStatus(ctx context.Context) (Raw, error) {
	var rows []map[string]any
	err := s.db.WithContext(ctx).
		Table("bot_status").
		Order("created_at DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("latest status: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// IndicatorWindow fetches the bounded recent indicator window, newest first.
func (s *Store) IndicatorWindow(ctx context.Context, limit int) ([]Raw, error) {
	var rows []map[string]any
	err := s.db.WithContext(ctx).
		Table("indicator_snapshots").
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("indicator window: %w", err)
	}
	return rows, nil
}

// LatestPerPair fetches exactly one newest indicator row per (pair,
// exchange), so every tracked pair has a snapshot even when it fell out of
// the recent window.
func (s *Store) LatestPerPair(ctx context.Context) ([]Raw, error) {
	var rows []map[string]any
	err := s.db.WithContext(ctx).Raw(`
		SELECT s.* FROM indicator_snapshots s
		JOIN (
			SELECT pair, exchange, MAX(created_at) AS latest
			FROM indicator_snapshots
			GROUP BY pair, exchange
		) m ON s.pair = m.pair AND s.exchange = m.exchange AND s.created_at = m.latest
	`).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("latest per pair: %w", err)
	}
	return rows, nil
}

// OptionsSnapshots fetches all current options rows.
func (s *Store) OptionsSnapshots(ctx context.Context) ([]Raw, error) {
	var rows []map[string]any
	err := s.db.WithContext(ctx).
		Table("options_snapshots").
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("options snapshots: %w", err)
	}
	return rows, nil
}

// LogRows fetches recent engine activity-log rows, newest first.
func (s *Store) LogRows(ctx context.Context, limit int) ([]Raw, error) {
	var rows []map[string]any
	err := s.db.WithContext(ctx).
		Table("bot_activity").
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("log rows: %w", err)
	}
	return rows, nil
}

// EnqueueCommand appends one command for the engine. Failures surface to
// the caller and are never retried here: re-issuing a pause or close
// without the operator is unsafe.
func (s *Store) EnqueueCommand(ctx context.Context, cmd types.Command) error {
	row := CommandRow{
		ID:        cmd.ID,
		Type:      cmd.Type,
		Payload:   cmd.Payload,
		CreatedAt: cmd.CreatedAt,
	}
	if row.ID == "" {
		row.ID = fmt.Sprintf("%s-%d", cmd.Type, time.Now().UnixNano())
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("enqueue %s: %w", cmd.Type, err)
	}
	log.Info().Str("type", cmd.Type).Str("id", row.ID).Msg("📬 Command enqueued")
	return nil
}
