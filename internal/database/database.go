package database

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"breakout-trader-go/internal/models"
)

// NewDatabase creates the trade-journal database connection and migrates
// the schema.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&models.TradeRecord{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	return db, nil
}

// TradeStore is the durable journal of closed trades. It implements
// position.Journal.
type TradeStore struct {
	db *gorm.DB
}

// NewTradeStore wraps a database handle as a trade journal.
func NewTradeStore(db *gorm.DB) *TradeStore {
	return &TradeStore{db: db}
}

// RecordClose persists one closed trade.
func (s *TradeStore) RecordClose(trade *models.ClosedTrade) error {
	record := models.FromClosedTrade(trade)
	if err := s.db.Create(record).Error; err != nil {
		return fmt.Errorf("failed to save trade record: %w", err)
	}
	return nil
}

// TodaysTrades returns all journal rows whose exit falls on the current
// calendar date.
func (s *TradeStore) TodaysTrades() ([]models.TradeRecord, error) {
	midnight := time.Now().Truncate(24 * time.Hour).Unix()

	var trades []models.TradeRecord
	if err := s.db.Where("exit_time >= ?", midnight).Order("exit_time").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to query today's trades: %w", err)
	}
	return trades, nil
}
