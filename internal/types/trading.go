package types

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Bot states
const (
	BotStateStopped = "STOPPED"
	BotStateRunning = "RUNNING"
	BotStatePaused  = "PAUSED"
	BotStateError   = "ERROR"
)

// Signal types
const (
	SignalBuy  = "BUY"
	SignalSell = "SELL"
	SignalHold = "HOLD"
)

// Order sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Order statuses
const (
	OrderOpen      = "OPEN"
	OrderClosed    = "CLOSED"
	OrderCancelled = "CANCELLED"
)

// Position states
const (
	PositionNone  = "NONE"
	PositionLong  = "LONG"
	PositionShort = "SHORT" // reserved, not produced by the shipped strategy
)

// Indicator kinds
const (
	IndicatorSupportResistance = "support_resistance"
	IndicatorLinearRegression  = "linear_regression"
	IndicatorVolatility        = "volatility"
)

type Bot struct {
	gorm.Model      `json:"-"`
	BotID           string     `gorm:"uniqueIndex" json:"bot_id"`
	OwnerID         string     `gorm:"index" json:"owner_id"`
	Name            string     `json:"name"`
	AssetType       string     `json:"asset_type"` // CRYPTO, FOREX, STOCKS
	Symbol          string     `gorm:"index" json:"symbol"`
	Timeframe       string     `json:"timeframe"`
	StrategyID      string     `json:"strategy_id"`
	Params          string     `json:"-"` // JSON-encoded strategy parameters
	State           string     `json:"state"`
	IntervalSeconds int        `json:"interval_seconds"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// GetParams decodes the stored strategy parameters. A bot created without
// parameters yields an empty map so strategy defaults apply.
func (b *Bot) GetParams() (map[string]interface{}, error) {
	params := make(map[string]interface{})
	if b.Params == "" {
		return params, nil
	}
	if err := json.Unmarshal([]byte(b.Params), &params); err != nil {
		return nil, err
	}
	return params, nil
}

// SetParams encodes and stores strategy parameters.
func (b *Bot) SetParams(params map[string]interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	b.Params = string(data)
	return nil
}

type MarketCandle struct {
	gorm.Model `json:"-"`
	Symbol     string    `gorm:"uniqueIndex:idx_candle_key" json:"symbol"`
	Timeframe  string    `gorm:"uniqueIndex:idx_candle_key" json:"timeframe"`
	Timestamp  time.Time `gorm:"uniqueIndex:idx_candle_key" json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
}

type Signal struct {
	gorm.Model `json:"-"`
	SignalID   string    `gorm:"uniqueIndex" json:"signal_id"`
	BotID      string    `gorm:"index;uniqueIndex:idx_signal_inputs" json:"bot_id"`
	Timestamp  time.Time `json:"timestamp"`
	SignalType string    `json:"signal_type"` // BUY, SELL, HOLD
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
	InputsHash string    `gorm:"uniqueIndex:idx_signal_inputs" json:"inputs_hash"`
	Metadata   string    `json:"metadata,omitempty"` // JSON
}

type Order struct {
	gorm.Model    `json:"-"`
	OrderID       string    `gorm:"uniqueIndex" json:"order_id"`
	BotID         string    `gorm:"index:idx_order_bot_status" json:"bot_id"`
	SignalID      string    `gorm:"index" json:"signal_id,omitempty"`
	Side          string    `json:"side"`                                     // BUY or SELL
	Status        string    `gorm:"index:idx_order_bot_status" json:"status"` // OPEN, CLOSED, CANCELLED
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price"`
	PositionState string    `json:"position_state"`
	EntryPrice    float64   `json:"entry_price"`
	ExitPrice     float64   `json:"exit_price,omitempty"`
	PnL           float64   `json:"pnl"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IsOpen reports whether the order still represents an open position.
func (o *Order) IsOpen() bool { return o.Status == OrderOpen }

// IsClosed reports whether the order was closed with a realized P&L.
func (o *Order) IsClosed() bool { return o.Status == OrderClosed }

type IndicatorSnapshot struct {
	gorm.Model `json:"-"`
	BotID      string    `gorm:"index" json:"bot_id"`
	Timestamp  time.Time `json:"timestamp"`
	Kind       string    `json:"kind"`  // support_resistance, linear_regression, volatility
	Value      string    `json:"value"` // JSON
}

// Position is a bot's derived market exposure. It is never persisted
// directly; it is reconstructed from the bot's open order.
type Position struct {
	State         string  `json:"state"` // NONE, LONG, SHORT
	Quantity      float64 `json:"quantity"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
}

// Valid checks the position invariant: quantity > 0 implies a direction,
// NONE implies zero quantity.
func (p Position) Valid() bool {
	if p.State == PositionNone {
		return p.Quantity == 0
	}
	return p.Quantity > 0
}

type RunLog struct {
	gorm.Model `json:"-"`
	RunID      string    `gorm:"index" json:"run_id"`
	BotID      string    `gorm:"index" json:"bot_id"`
	Stage      string    `json:"stage"`
	Outcome    string    `json:"outcome"` // success, skipped_duplicate, error
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
