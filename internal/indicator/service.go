package indicator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/papertrade/bot-api/internal/types"
)

// Service computes indicator snapshots over a candle window and persists
// one record per run per kind. The computations themselves are pure; only
// this layer touches the database.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{db: NewDatabase(gormDB)}
}

// Snapshot bundles the three engine outputs for one run.
type Snapshot struct {
	SupportResistance SupportResistance
	Regression        Regression
	Volatility        Volatility
}

// Compute derives all indicator kinds from the window without persisting.
func (s *Service) Compute(candles []types.MarketCandle) Snapshot {
	return Snapshot{
		SupportResistance: ComputeSupportResistance(candles, 2),
		Regression:        ComputeLinearRegression(candles),
		Volatility:        ComputeVolatility(candles),
	}
}

// ComputeAndStore computes all indicators and writes the snapshots inside
// the caller's transaction so a failed run commits nothing.
func (s *Service) ComputeAndStore(tx *gorm.DB, botID string, candles []types.MarketCandle, timestamp time.Time) (Snapshot, error) {
	snapshot := s.Compute(candles)

	records := []struct {
		kind  string
		value interface{}
	}{
		{types.IndicatorSupportResistance, snapshot.SupportResistance},
		{types.IndicatorLinearRegression, snapshot.Regression},
		{types.IndicatorVolatility, snapshot.Volatility},
	}

	for _, r := range records {
		data, err := json.Marshal(r.value)
		if err != nil {
			return snapshot, fmt.Errorf("failed to encode %s snapshot: %w", r.kind, err)
		}
		record := &types.IndicatorSnapshot{
			BotID:     botID,
			Timestamp: timestamp,
			Kind:      r.kind,
			Value:     string(data),
		}
		if err := s.db.CreateSnapshotTx(tx, record); err != nil {
			return snapshot, fmt.Errorf("failed to store %s snapshot: %w", r.kind, err)
		}
	}

	log.Debug().
		Str("bot_id", botID).
		Int("candles", len(candles)).
		Float64("atr", snapshot.Volatility.ATR).
		Float64("slope", snapshot.Regression.Slope).
		Msg("indicators computed and stored")

	return snapshot, nil
}

// GetLatest returns recent snapshots for a bot, optionally filtered by kind.
func (s *Service) GetLatest(botID, kind string, limit int) ([]types.IndicatorSnapshot, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.db.GetLatestSnapshots(botID, kind, limit)
}
