package database

import (
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/papertrade/bot-api/internal/types"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&types.Bot{},
		&types.MarketCandle{},
		&types.Signal{},
		&types.Order{},
		&types.IndicatorSnapshot{},
		&types.RunLog{},
	)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("path", path).Msg("Database initialised")
	return db, nil
}
