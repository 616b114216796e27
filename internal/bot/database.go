package bot

import (
	"errors"
	"time"

	"github.com/papertrade/bot-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateBot(bot *types.Bot) error {
	return d.db.Create(bot).Error
}

func (d *Database) GetBot(botID string) (*types.Bot, error) {
	var bot types.Bot
	if err := d.db.Where("bot_id = ?", botID).First(&bot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &bot, nil
}

func (d *Database) GetBotByOwner(botID, ownerID string) (*types.Bot, error) {
	var bot types.Bot
	err := d.db.Where("bot_id = ? AND owner_id = ?", botID, ownerID).First(&bot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &bot, nil
}

func (d *Database) ListBots(ownerID string) ([]types.Bot, error) {
	var bots []types.Bot
	err := d.db.Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&bots).Error
	return bots, err
}

func (d *Database) ListBotsInStates(states []string) ([]types.Bot, error) {
	var bots []types.Bot
	err := d.db.Where("state IN ?", states).Find(&bots).Error
	return bots, err
}

func (d *Database) CountBotsInState(state string) (int64, error) {
	var count int64
	err := d.db.Model(&types.Bot{}).Where("state = ?", state).Count(&count).Error
	return count, err
}

func (d *Database) SaveBot(bot *types.Bot) error {
	return d.db.Save(bot).Error
}

func (d *Database) DeleteBot(bot *types.Bot) error {
	return d.db.Delete(bot).Error
}

// UpdateStateIf transitions a bot's state only when it still holds the
// expected state. Returns whether the transition was applied. Used so a run
// that straddled a stop command cannot re-arm the bot.
func (d *Database) UpdateStateIf(botID, expected, next string) (bool, error) {
	result := d.db.Model(&types.Bot{}).
		Where("bot_id = ? AND state = ?", botID, expected).
		Updates(map[string]interface{}{"state": next, "updated_at": time.Now().UTC()})
	return result.RowsAffected > 0, result.Error
}

// TouchLastRunIf records a completed run only when the bot's state still
// matches. Runs finishing after a stop leave the stopped bot untouched.
func (d *Database) TouchLastRunIf(botID string, states []string, ranAt time.Time) error {
	return d.db.Model(&types.Bot{}).
		Where("bot_id = ? AND state IN ?", botID, states).
		Updates(map[string]interface{}{"last_run_at": ranAt, "updated_at": time.Now().UTC()}).Error
}

func (d *Database) CreateSignalTx(tx *gorm.DB, signal *types.Signal) error {
	return tx.Create(signal).Error
}

// HasSignalWithHash reports whether a signal with the same inputs hash
// already exists for the bot.
func (d *Database) HasSignalWithHash(botID, inputsHash string) (bool, error) {
	var count int64
	err := d.db.Model(&types.Signal{}).
		Where("bot_id = ? AND inputs_hash = ?", botID, inputsHash).
		Count(&count).Error
	return count > 0, err
}

func (d *Database) ListSignals(botID string, limit int) ([]types.Signal, error) {
	var signals []types.Signal
	err := d.db.Where("bot_id = ?", botID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&signals).Error
	return signals, err
}

func (d *Database) ListSignalsSince(botID string, since time.Time) ([]types.Signal, error) {
	var signals []types.Signal
	err := d.db.Where("bot_id = ? AND timestamp >= ?", botID, since).
		Order("timestamp ASC").
		Find(&signals).Error
	return signals, err
}
