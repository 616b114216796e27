package execution

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/papertrade/bot-api/internal/market"
	"github.com/papertrade/bot-api/internal/types"
	"github.com/papertrade/bot-api/pkg/response"
)

// ErrInvalidCancel marks a cancel request against a non-open order.
var ErrInvalidCancel = errors.New("only open orders can be cancelled")

// Service owns all position and balance mutations for paper trading. The
// per-bot exclusivity guarantee is provided by the orchestrator's run lock;
// nothing else writes orders.
type Service struct {
	db           *Database
	gormDB       *gorm.DB
	engine       *Engine
	paperBalance float64
	prices       market.Provider
}

func NewService(gormDB *gorm.DB, engine *Engine, paperBalance float64, prices market.Provider) *Service {
	return &Service{
		db:           NewDatabase(gormDB),
		gormDB:       gormDB,
		engine:       engine,
		paperBalance: paperBalance,
		prices:       prices,
	}
}

// Position reconstructs the bot's derived position from its open order.
func (s *Service) Position(botID string) (types.Position, error) {
	open, err := s.db.GetOpenOrder(botID)
	if err != nil {
		return types.Position{}, err
	}
	return positionFromOrder(open), nil
}

func positionFromOrder(open *types.Order) types.Position {
	if open == nil {
		return types.Position{State: types.PositionNone}
	}
	return types.Position{
		State:         types.PositionLong,
		Quantity:      open.Quantity,
		AvgEntryPrice: open.EntryPrice,
	}
}

// availableBalance derives the spendable balance: the starting paper
// balance plus realized P&L, minus capital locked in the open position.
func (s *Service) availableBalance(orders []types.Order) float64 {
	balance := s.paperBalance
	for _, o := range orders {
		switch {
		case o.IsClosed():
			balance += o.PnL
		case o.IsOpen():
			balance -= o.Quantity * o.EntryPrice
		}
	}
	return roundMoney(balance)
}

// ApplySignalTx executes a signal inside the caller's transaction. The
// returned decision carries the persisted order (if any), the updated
// position and balance.
func (s *Service) ApplySignalTx(tx *gorm.DB, bot *types.Bot, signalID, signalType string, price float64) (Decision, error) {
	openOrder, err := s.db.GetOpenOrderTx(tx, bot.BotID)
	if err != nil {
		return Decision{}, err
	}

	orders, err := s.db.ListAllOrders(bot.BotID)
	if err != nil {
		return Decision{}, err
	}
	balance := s.availableBalance(orders)
	position := positionFromOrder(openOrder)

	decision, err := s.engine.Execute(signalType, position, openOrder, balance, price)
	if err != nil {
		return decision, err
	}

	switch decision.Action {
	case ActionOpened:
		order := decision.Order
		order.OrderID = uuid.New().String()
		order.BotID = bot.BotID
		order.SignalID = signalID
		order.CreatedAt = time.Now().UTC()
		order.UpdatedAt = order.CreatedAt
		if err := s.db.CreateOrderTx(tx, order); err != nil {
			return decision, err
		}

	case ActionClosed, ActionStopped:
		order := decision.Order
		order.UpdatedAt = time.Now().UTC()
		if err := s.db.SaveOrderTx(tx, order); err != nil {
			return decision, err
		}
	}

	log.Info().
		Str("bot_id", bot.BotID).
		Str("action", decision.Action).
		Str("signal_type", signalType).
		Float64("price", price).
		Float64("balance", decision.Balance).
		Msg("signal executed")

	return decision, nil
}

// CancelOrder moves an OPEN order to CANCELLED. Cancelling releases no P&L;
// the entry is treated as a no-fill and the reserved balance is freed.
func (s *Service) CancelOrder(orderID, botID string) (*types.Order, error) {
	order, err := s.db.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil || order.BotID != botID {
		return nil, gorm.ErrRecordNotFound
	}
	if !order.IsOpen() {
		return nil, fmt.Errorf("%w: order %s is %s", ErrInvalidCancel, orderID, order.Status)
	}

	order.Status = types.OrderCancelled
	order.PositionState = types.PositionNone
	order.UpdatedAt = time.Now().UTC()
	if err := s.db.SaveOrder(order); err != nil {
		return nil, err
	}

	log.Info().
		Str("bot_id", botID).
		Str("order_id", orderID).
		Msg("order cancelled")

	return order, nil
}

// ListOrders returns recent orders for a bot.
func (s *Service) ListOrders(botID string, limit int) ([]types.Order, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.db.ListOrders(botID, limit)
}

// PortfolioSummary derives the portfolio view from balance, open position
// and closed orders. Mark-to-market uses the latest stored candle close.
func (s *Service) PortfolioSummary(bot *types.Bot) (*types.PortfolioSummary, error) {
	orders, err := s.db.ListAllOrders(bot.BotID)
	if err != nil {
		return nil, err
	}

	summary := &types.PortfolioSummary{
		BotID:           bot.BotID,
		StartingBalance: s.paperBalance,
		TotalOrders:     len(orders),
	}

	var open *types.Order
	var wins int
	for i := range orders {
		o := &orders[i]
		switch {
		case o.IsOpen():
			summary.OpenOrders++
			open = o
		case o.IsClosed():
			summary.ClosedOrders++
			summary.TotalPnL += o.PnL
			if o.PnL > 0 {
				wins++
			}
			pnl := o.PnL
			if summary.BestTrade == nil || pnl > *summary.BestTrade {
				v := pnl
				summary.BestTrade = &v
			}
			if summary.WorstTrade == nil || pnl < *summary.WorstTrade {
				v := pnl
				summary.WorstTrade = &v
			}
		}
	}
	summary.TotalPnL = roundMoney(summary.TotalPnL)

	if summary.ClosedOrders > 0 {
		summary.WinRate = float64(wins) / float64(summary.ClosedOrders) * 100
	}

	summary.AvailableBalance = s.availableBalance(orders)

	if open != nil {
		summary.HasOpenPosition = true
		markPrice := open.EntryPrice
		if candles, err := s.prices.GetCandles(bot.Symbol, bot.Timeframe, 1); err == nil && len(candles) > 0 {
			markPrice = candles[len(candles)-1].Close
		}
		summary.OpenPositionsValue = roundMoney(open.Quantity * markPrice)
		summary.UnrealizedPnL = roundMoney((markPrice - open.EntryPrice) * open.Quantity)
	}

	summary.TotalValue = roundMoney(summary.AvailableBalance + summary.OpenPositionsValue)
	if s.paperBalance > 0 {
		summary.PnLPercentage = summary.TotalPnL / s.paperBalance * 100
	}

	return summary, nil
}

// GinHandlers contains HTTP handlers for trading endpoints
type GinHandlers struct {
	service *Service
	bots    BotReader
}

// BotReader resolves bots for ownership checks without importing the bot
// package.
type BotReader interface {
	GetOwnedBot(botID, ownerID string) (*types.Bot, error)
}

func NewGinHandlers(service *Service, bots BotReader) *GinHandlers {
	return &GinHandlers{service: service, bots: bots}
}

func (h *GinHandlers) ownedBot(c *gin.Context) (*types.Bot, bool) {
	botID := c.Param("bot_id")
	if botID == "" {
		botID = c.Query("bot_id")
	}
	if botID == "" {
		response.BadRequest(c, "bot_id is required")
		return nil, false
	}

	bot, err := h.bots.GetOwnedBot(botID, c.GetString("clientID"))
	if err != nil || bot == nil {
		response.NotFound(c, "Bot not found")
		return nil, false
	}
	return bot, true
}

// ListOrdersHandler handles GET requests for a bot's orders
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		bot, ok := h.ownedBot(c)
		if !ok {
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		orders, err := h.service.ListOrders(bot.BotID, limit)
		response.Handle(c, orders, err)
	}
}

// CancelOrderHandler handles POST requests to cancel an open order
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			BotID string `json:"bot_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		bot, err := h.bots.GetOwnedBot(req.BotID, c.GetString("clientID"))
		if err != nil || bot == nil {
			response.NotFound(c, "Bot not found")
			return
		}

		order, err := h.service.CancelOrder(c.Param("order_id"), bot.BotID)
		if errors.Is(err, ErrInvalidCancel) {
			response.Conflict(c, err.Error())
			return
		}
		response.Handle(c, order, err)
	}
}

// PortfolioHandler handles GET requests for the derived portfolio summary
func (h *GinHandlers) PortfolioHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		bot, ok := h.ownedBot(c)
		if !ok {
			return
		}
		summary, err := h.service.PortfolioSummary(bot)
		response.Handle(c, summary, err)
	}
}

// PositionHandler handles GET requests for the bot's current position
func (h *GinHandlers) PositionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		bot, ok := h.ownedBot(c)
		if !ok {
			return
		}
		position, err := h.service.Position(bot.BotID)
		response.Handle(c, position, err)
	}
}
