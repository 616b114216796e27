package execution

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/papertrade/bot-api/internal/database"
	"github.com/papertrade/bot-api/internal/types"
)

// stubPrices serves a fixed latest close for mark-to-market.
type stubPrices struct {
	lastClose float64
}

func (s *stubPrices) GetCandles(symbol, timeframe string, limit int) ([]types.MarketCandle, error) {
	if s.lastClose == 0 {
		return nil, nil
	}
	return []types.MarketCandle{{
		Symbol: symbol, Timeframe: timeframe,
		Timestamp: time.Now().UTC(), Close: s.lastClose,
	}}, nil
}

func (s *stubPrices) Refresh(ctx context.Context, symbol, timeframe string, limit int) (int, error) {
	return 0, nil
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.NewDatabase(dsn)
	require.NoError(t, err)
	return db
}

func testService(t *testing.T, prices *stubPrices) (*Service, *gorm.DB) {
	t.Helper()
	db := testDB(t)
	svc := NewService(db, NewEngine(0.10), 10000, prices)
	return svc, db
}

func testBot() *types.Bot {
	return &types.Bot{
		BotID:     "bot-1",
		OwnerID:   "client-1",
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
	}
}

func applySignal(t *testing.T, svc *Service, db *gorm.DB, bot *types.Bot, signalType string, price float64) Decision {
	t.Helper()
	var decision Decision
	err := db.Transaction(func(tx *gorm.DB) error {
		d, err := svc.ApplySignalTx(tx, bot, "sig-"+signalType, signalType, price)
		decision = d
		return err
	})
	require.NoError(t, err)
	return decision
}

func TestApplySignal_OpenThenClose(t *testing.T) {
	svc, db := testService(t, &stubPrices{})
	bot := testBot()

	opened := applySignal(t, svc, db, bot, types.SignalBuy, 100)
	require.Equal(t, ActionOpened, opened.Action)
	require.NotEmpty(t, opened.Order.OrderID)

	pos, err := svc.Position(bot.BotID)
	require.NoError(t, err)
	assert.Equal(t, types.PositionLong, pos.State)
	assert.Equal(t, 10.0, pos.Quantity)

	closed := applySignal(t, svc, db, bot, types.SignalSell, 110)
	require.Equal(t, ActionClosed, closed.Action)
	assert.Equal(t, 100.0, closed.PnL)

	pos, err = svc.Position(bot.BotID)
	require.NoError(t, err)
	assert.Equal(t, types.PositionNone, pos.State)

	orders, err := svc.ListOrders(bot.BotID, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, types.OrderClosed, orders[0].Status)
	assert.Equal(t, 100.0, orders[0].PnL)
}

func TestApplySignal_SecondBuyIgnored(t *testing.T) {
	svc, db := testService(t, &stubPrices{})
	bot := testBot()

	applySignal(t, svc, db, bot, types.SignalBuy, 100)
	second := applySignal(t, svc, db, bot, types.SignalBuy, 105)

	assert.Equal(t, ActionIgnored, second.Action)

	orders, err := svc.ListOrders(bot.BotID, 10)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestCancelOrder(t *testing.T) {
	svc, db := testService(t, &stubPrices{})
	bot := testBot()

	opened := applySignal(t, svc, db, bot, types.SignalBuy, 100)
	orderID := opened.Order.OrderID

	cancelled, err := svc.CancelOrder(orderID, bot.BotID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderCancelled, cancelled.Status)

	// Cancelling a non-open order is rejected
	_, err = svc.CancelOrder(orderID, bot.BotID)
	assert.ErrorIs(t, err, ErrInvalidCancel)

	// The reserved balance is freed
	pos, err := svc.Position(bot.BotID)
	require.NoError(t, err)
	assert.Equal(t, types.PositionNone, pos.State)

	summary, err := svc.PortfolioSummary(bot)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, summary.AvailableBalance)
}

func TestCancelOrder_WrongBot(t *testing.T) {
	svc, db := testService(t, &stubPrices{})
	bot := testBot()

	opened := applySignal(t, svc, db, bot, types.SignalBuy, 100)

	_, err := svc.CancelOrder(opened.Order.OrderID, "other-bot")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestPortfolioSummary(t *testing.T) {
	prices := &stubPrices{lastClose: 120}
	svc, db := testService(t, prices)
	bot := testBot()

	// Round trip one: +100
	applySignal(t, svc, db, bot, types.SignalBuy, 100)
	applySignal(t, svc, db, bot, types.SignalSell, 110)

	// Round trip two: -50 (balance 10100, 10% = 1010, qty 10.1 at 100)
	applySignal(t, svc, db, bot, types.SignalBuy, 100)
	second := applySignal(t, svc, db, bot, types.SignalSell, 100)
	require.Equal(t, 0.0, second.PnL)

	// Open position at 100, marked at 120
	applySignal(t, svc, db, bot, types.SignalBuy, 100)

	summary, err := svc.PortfolioSummary(bot)
	require.NoError(t, err)

	// Starting balance stays fixed; the live figure is AvailableBalance
	assert.Equal(t, 10000.0, summary.StartingBalance)
	assert.Equal(t, 3, summary.TotalOrders)
	assert.Equal(t, 1, summary.OpenOrders)
	assert.Equal(t, 2, summary.ClosedOrders)
	assert.Equal(t, 100.0, summary.TotalPnL)
	assert.True(t, summary.HasOpenPosition)
	assert.Equal(t, 50.0, summary.WinRate)
	require.NotNil(t, summary.BestTrade)
	assert.Equal(t, 100.0, *summary.BestTrade)
	require.NotNil(t, summary.WorstTrade)
	assert.Equal(t, 0.0, *summary.WorstTrade)

	// Unrealized: (120 - 100) * quantity of the open order
	open, err := svc.Position(bot.BotID)
	require.NoError(t, err)
	assert.InDelta(t, (120-100)*open.Quantity, summary.UnrealizedPnL, 1e-6)
	assert.InDelta(t, 120*open.Quantity, summary.OpenPositionsValue, 1e-6)
	assert.InDelta(t, 1.0, summary.PnLPercentage, 1e-9)
}

func TestPortfolioSummary_Empty(t *testing.T) {
	svc, _ := testService(t, &stubPrices{})
	bot := testBot()

	summary, err := svc.PortfolioSummary(bot)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.TotalOrders)
	assert.Equal(t, 10000.0, summary.AvailableBalance)
	assert.Equal(t, 10000.0, summary.TotalValue)
	assert.False(t, summary.HasOpenPosition)
	assert.Nil(t, summary.BestTrade)
}
