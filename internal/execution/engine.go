package execution

import (
	"errors"
	"fmt"
	"math"

	"github.com/papertrade/bot-api/internal/types"
)

// ErrInvariantViolation marks an execution decision that would break the
// one-open-order-per-bot or position consistency invariants. Fatal to the
// run.
var ErrInvariantViolation = errors.New("execution invariant violation")

// Actions an execution decision can take.
const (
	ActionOpened  = "opened"
	ActionClosed  = "closed"
	ActionStopped = "stopped"
	ActionIgnored = "ignored"
	ActionHold    = "hold"
	ActionNone    = "none"
)

// Exit rule bounds, applied to an open position on HOLD signals.
const (
	stopLossPct   = -5.0
	takeProfitPct = 15.0
)

// Decision is the outcome of executing one signal against the current
// position and balance.
type Decision struct {
	Action   string
	Reason   string
	Order    *types.Order // non-nil when an order was opened or closed
	Position types.Position
	Balance  float64
	PnL      float64
}

// Engine is the deterministic paper execution state machine. It holds no
// per-bot state; position and balance flow through Execute.
type Engine struct {
	positionFraction float64
}

// NewEngine creates an engine that sizes entries as a fraction of the
// available balance. Fractions outside (0,1] fall back to 10%.
func NewEngine(positionFraction float64) *Engine {
	if positionFraction <= 0 || positionFraction > 1 {
		positionFraction = 0.10
	}
	return &Engine{positionFraction: positionFraction}
}

// Execute maps (signal, position, balance) to at most one order. openOrder
// is the bot's currently open order, nil when flat; it must agree with the
// position or the call fails with ErrInvariantViolation.
func (e *Engine) Execute(signalType string, position types.Position, openOrder *types.Order, balance, price float64) (Decision, error) {
	d := Decision{Action: ActionNone, Position: position, Balance: balance}

	if !position.Valid() {
		return d, fmt.Errorf("%w: position state %s with quantity %g", ErrInvariantViolation, position.State, position.Quantity)
	}
	hasPosition := position.State == types.PositionLong
	if hasPosition != (openOrder != nil) {
		return d, fmt.Errorf("%w: position %s with open order present=%t", ErrInvariantViolation, position.State, openOrder != nil)
	}
	if price <= 0 {
		return d, fmt.Errorf("invalid execution price %g", price)
	}

	switch signalType {
	case types.SignalBuy:
		if hasPosition {
			d.Action = ActionIgnored
			d.Reason = "already in position"
			return d, nil
		}
		return e.open(d, balance, price)

	case types.SignalSell:
		if !hasPosition {
			d.Action = ActionIgnored
			d.Reason = "no position to close"
			return d, nil
		}
		return e.close(d, openOrder, price, "sell signal"), nil

	default: // HOLD
		if !hasPosition {
			d.Action = ActionNone
			d.Reason = "flat, nothing to do"
			return d, nil
		}
		if exit, reason := e.checkExit(position.AvgEntryPrice, price); exit {
			d = e.close(d, openOrder, price, reason)
			d.Action = ActionStopped
			return d, nil
		}
		d.Action = ActionHold
		d.Reason = "holding open position"
		return d, nil
	}
}

func (e *Engine) open(d Decision, balance, price float64) (Decision, error) {
	cost := roundMoney(balance * e.positionFraction)
	if cost <= 0 || cost > balance {
		d.Action = ActionIgnored
		d.Reason = "insufficient balance"
		return d, nil
	}
	// The quantity is floored, not rounded, so the actual debit can never
	// exceed the budgeted cost and push the balance negative.
	quantity := floorMoney(cost / price)
	if quantity <= 0 {
		d.Action = ActionIgnored
		d.Reason = "position size rounds to zero"
		return d, nil
	}
	debit := roundMoney(quantity * price)
	if debit > balance {
		d.Action = ActionIgnored
		d.Reason = "insufficient balance"
		return d, nil
	}

	d.Action = ActionOpened
	d.Reason = "buy signal executed"
	d.Order = &types.Order{
		Side:          types.SideBuy,
		Status:        types.OrderOpen,
		Quantity:      quantity,
		Price:         price,
		PositionState: types.PositionLong,
		EntryPrice:    price,
	}
	d.Position = types.Position{State: types.PositionLong, Quantity: quantity, AvgEntryPrice: price}
	d.Balance = roundMoney(balance - debit)
	return d, nil
}

func (e *Engine) close(d Decision, openOrder *types.Order, price float64, reason string) Decision {
	pnl := roundMoney((price - openOrder.EntryPrice) * openOrder.Quantity)
	proceeds := roundMoney(openOrder.Quantity * price)

	closed := *openOrder
	closed.Status = types.OrderClosed
	closed.ExitPrice = price
	closed.PnL = pnl
	closed.PositionState = types.PositionNone

	d.Action = ActionClosed
	d.Reason = reason
	d.Order = &closed
	d.Position = types.Position{State: types.PositionNone}
	d.Balance = roundMoney(d.Balance + proceeds)
	d.PnL = pnl
	return d
}

// checkExit applies the stop-loss / take-profit bounds to the open
// position's unrealized P&L percentage.
func (e *Engine) checkExit(entryPrice, price float64) (bool, string) {
	if entryPrice == 0 {
		return false, ""
	}
	pnlPct := (price - entryPrice) / entryPrice * 100
	if pnlPct <= stopLossPct {
		return true, fmt.Sprintf("stop loss triggered: %.2f%%", pnlPct)
	}
	if pnlPct >= takeProfitPct {
		return true, fmt.Sprintf("take profit triggered: %.2f%%", pnlPct)
	}
	return false, ""
}

// roundMoney applies the repository-wide rounding policy: 8 decimal places.
func roundMoney(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}

// floorMoney truncates to 8 decimal places. Used for entry quantities,
// where rounding up would spend money the bot does not have.
func floorMoney(v float64) float64 {
	return math.Floor(v*1e8) / 1e8
}
