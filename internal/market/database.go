package market

import (
	"github.com/papertrade/bot-api/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// UpsertCandles stores candles, ignoring rows whose (symbol, timeframe,
// timestamp) key already exists. The series stays append-only.
func (d *Database) UpsertCandles(candles []types.MarketCandle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	result := d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "timeframe"}, {Name: "timestamp"}},
		DoNothing: true,
	}).Create(&candles)
	return int(result.RowsAffected), result.Error
}

// GetCandles returns up to limit most recent candles in ascending timestamp
// order.
func (d *Database) GetCandles(symbol, timeframe string, limit int) ([]types.MarketCandle, error) {
	var candles []types.MarketCandle
	err := d.db.
		Where("symbol = ? AND timeframe = ?", symbol, timeframe).
		Order("timestamp DESC").
		Limit(limit).
		Find(&candles).Error
	if err != nil {
		return nil, err
	}
	// Reverse into ascending order for consumers.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

func (d *Database) CountCandles(symbol, timeframe string) (int64, error) {
	var count int64
	err := d.db.Model(&types.MarketCandle{}).
		Where("symbol = ? AND timeframe = ?", symbol, timeframe).
		Count(&count).Error
	return count, err
}
