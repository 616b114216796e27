package types

import "time"

// PortfolioSummary is the derived per-bot portfolio view. It is computed on
// demand from the paper balance, the open position and the closed orders.
type PortfolioSummary struct {
	BotID              string   `json:"bot_id"`
	StartingBalance    float64  `json:"starting_balance"`
	AvailableBalance   float64  `json:"available_balance"`
	OpenPositionsValue float64  `json:"open_positions_value"`
	TotalValue         float64  `json:"total_value"`
	TotalPnL           float64  `json:"total_pnl"`
	UnrealizedPnL      float64  `json:"unrealized_pnl"`
	PnLPercentage      float64  `json:"pnl_percentage"`
	TotalOrders        int      `json:"total_orders"`
	OpenOrders         int      `json:"open_orders"`
	ClosedOrders       int      `json:"closed_orders"`
	WinRate            float64  `json:"win_rate"`
	BestTrade          *float64 `json:"best_trade,omitempty"`
	WorstTrade         *float64 `json:"worst_trade,omitempty"`
	HasOpenPosition    bool     `json:"has_open_position"`
}

// BotStatusResponse reports a bot's state and scheduling info.
type BotStatusResponse struct {
	BotID           string     `json:"bot_id"`
	State           string     `json:"state"`
	IntervalSeconds int        `json:"interval_seconds"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	NextFireAt      *time.Time `json:"next_fire_at,omitempty"`
	MissedRuns      int64      `json:"missed_runs"`
}

// SignalStats aggregates a bot's signals over a trailing window of days.
type SignalStats struct {
	BotID                 string     `json:"bot_id"`
	PeriodDays            int        `json:"period_days"`
	TotalSignals          int64      `json:"total_signals"`
	BuySignals            int64      `json:"buy_signals"`
	SellSignals           int64      `json:"sell_signals"`
	HoldSignals           int64      `json:"hold_signals"`
	AvgConfidence         float64    `json:"avg_confidence"`
	HighConfidenceSignals int64      `json:"high_confidence_signals"`
	LastSignalAt          *time.Time `json:"last_signal_at,omitempty"`
}

// RunResult summarizes a single pipeline execution.
type RunResult struct {
	RunID      string  `json:"run_id"`
	BotID      string  `json:"bot_id"`
	Outcome    string  `json:"outcome"` // success, skipped_duplicate, error
	SignalType string  `json:"signal_type,omitempty"`
	Confidence float64 `json:"confidence"`
	Action     string  `json:"action,omitempty"` // opened, closed, ignored, hold, none
	OrderID    string  `json:"order_id,omitempty"`
	PnL        float64 `json:"pnl"`
	Duration   float64 `json:"duration_seconds"`
}
