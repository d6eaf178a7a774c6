package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store wraps a gorm connection and the repository methods used by the
// writers and validation packages.
type Store struct {
	db *gorm.DB
}

// New opens dsn, choosing the postgres driver for a postgres(ql):// URL and
// falling back to sqlite otherwise.
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
		log.Info().Msg("storage connected (postgres)")
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
		log.Info().Str("path", dsn).Msg("storage connected (sqlite)")
	}

	if err := db.AutoMigrate(&PublicTrade{}, &PrivateExecution{}, &Order{}, &Position{}, &Wallet{}); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// insertIgnoreConflicts bulk-inserts rows, silently skipping any that
// violate a unique constraint (already-persisted events replayed from a
// reconnect window), the Go equivalent of an `ON CONFLICT DO NOTHING`
// upsert.
func insertIgnoreConflicts(db *gorm.DB, rows any) error {
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(rows).Error
}

// InsertPublicTrades idempotently persists a batch of public trades.
func (s *Store) InsertPublicTrades(trades []PublicTrade) error {
	if len(trades) == 0 {
		return nil
	}
	return insertIgnoreConflicts(s.db, &trades)
}

// InsertPrivateExecutions idempotently persists a batch of executions.
func (s *Store) InsertPrivateExecutions(execs []PrivateExecution) error {
	if len(execs) == 0 {
		return nil
	}
	return insertIgnoreConflicts(s.db, &execs)
}

// UpsertOrders inserts or, on a duplicate order_id, updates the status,
// price, qty and timestamp columns in place.
func (s *Store) UpsertOrders(orders []Order) error {
	if len(orders) == 0 {
		return nil
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "price", "qty", "grid_level", "exchange_ts", "updated_at"}),
	}).Create(&orders).Error
}

// InsertPositions persists a batch of position snapshots. The positions
// table has no unique key besides the generated ID, so re-inserting the
// same snapshot stores a second row.
func (s *Store) InsertPositions(positions []Position) error {
	if len(positions) == 0 {
		return nil
	}
	return insertIgnoreConflicts(s.db, &positions)
}

// InsertWallets persists a batch of wallet snapshots. The wallets table
// has no unique key besides the generated ID, so re-inserting the same
// snapshot stores a second row.
func (s *Store) InsertWallets(wallets []Wallet) error {
	if len(wallets) == 0 {
		return nil
	}
	return insertIgnoreConflicts(s.db, &wallets)
}

// PublicTradesInRange returns public trades recorded under runID within
// [from, to), ordered by exchange timestamp. Used by cmd/replay, which
// replays a specific recording run rather than a symbol's full history.
func (s *Store) PublicTradesInRange(runID string, from, to time.Time) ([]PublicTrade, error) {
	var trades []PublicTrade
	err := s.db.Where("run_id = ? AND exchange_ts >= ? AND exchange_ts < ?", runID, from, to).
		Order("exchange_ts ASC").Find(&trades).Error
	return trades, err
}

// PublicTradesForSymbolInRange returns public trades for symbol within
// [from, to), ordered by exchange timestamp, irrespective of which
// recording run they were collected under. Used by cmd/backtest, which
// backtests a symbol's full history rather than one recorded run.
func (s *Store) PublicTradesForSymbolInRange(symbol string, from, to time.Time) ([]PublicTrade, error) {
	var trades []PublicTrade
	err := s.db.Where("symbol = ? AND exchange_ts >= ? AND exchange_ts < ?", symbol, from, to).
		Order("exchange_ts ASC").Find(&trades).Error
	return trades, err
}

// LatestRunID returns the run_id of the most recently recorded public
// trade under source (e.g. "live"), used by cmd/replay to auto-discover
// which recording to replay when --run-id is omitted.
func (s *Store) LatestRunID(source string) (string, error) {
	var trade PublicTrade
	err := s.db.Where("source = ?", source).Order("exchange_ts DESC").First(&trade).Error
	if err != nil {
		return "", fmt.Errorf("storage: no recorded runs for source %q: %w", source, err)
	}
	return trade.RunID, nil
}

// PrivateExecutionsForRun returns every execution recorded for runID,
// ordered by exchange timestamp.
func (s *Store) PrivateExecutionsForRun(runID string) ([]PrivateExecution, error) {
	var execs []PrivateExecution
	err := s.db.Where("run_id = ?", runID).Order("exchange_ts ASC").Find(&execs).Error
	return execs, err
}

// PositionsForRun returns every position snapshot recorded for runID,
// ordered by exchange timestamp.
func (s *Store) PositionsForRun(runID string) ([]Position, error) {
	var positions []Position
	err := s.db.Where("run_id = ?", runID).Order("exchange_ts ASC").Find(&positions).Error
	return positions, err
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
