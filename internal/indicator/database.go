package indicator

import (
	"github.com/papertrade/bot-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CreateSnapshotTx writes a snapshot inside an existing transaction.
func (d *Database) CreateSnapshotTx(tx *gorm.DB, snapshot *types.IndicatorSnapshot) error {
	return tx.Create(snapshot).Error
}

func (d *Database) GetLatestSnapshots(botID string, kind string, limit int) ([]types.IndicatorSnapshot, error) {
	var snapshots []types.IndicatorSnapshot
	query := d.db.Where("bot_id = ?", botID)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}
	if err := query.Order("timestamp DESC").Limit(limit).Find(&snapshots).Error; err != nil {
		return nil, err
	}
	return snapshots, nil
}
