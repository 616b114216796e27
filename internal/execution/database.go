package execution

import (
	"errors"

	"github.com/papertrade/bot-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetOpenOrder(botID string) (*types.Order, error) {
	return d.getOpenOrder(d.db, botID)
}

// GetOpenOrderTx reads the open order inside an existing transaction.
func (d *Database) GetOpenOrderTx(tx *gorm.DB, botID string) (*types.Order, error) {
	return d.getOpenOrder(tx, botID)
}

func (d *Database) getOpenOrder(db *gorm.DB, botID string) (*types.Order, error) {
	var order types.Order
	err := db.Where("bot_id = ? AND status = ?", botID, types.OrderOpen).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetOrder(orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) CreateOrderTx(tx *gorm.DB, order *types.Order) error {
	return tx.Create(order).Error
}

func (d *Database) SaveOrderTx(tx *gorm.DB, order *types.Order) error {
	return tx.Save(order).Error
}

func (d *Database) SaveOrder(order *types.Order) error {
	return d.db.Save(order).Error
}

func (d *Database) ListOrders(botID string, limit int) ([]types.Order, error) {
	var orders []types.Order
	err := d.db.Where("bot_id = ?", botID).
		Order("created_at DESC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (d *Database) ListAllOrders(botID string) ([]types.Order, error) {
	var orders []types.Order
	err := d.db.Where("bot_id = ?", botID).Find(&orders).Error
	return orders, err
}
