package market

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/papertrade/bot-api/internal/types"
	"github.com/papertrade/bot-api/pkg/response"
)

// Fetcher is the upstream half of the provider: it talks to the exchange.
type Fetcher interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]types.MarketCandle, error)
}

// Provider is what the run pipeline consumes: a normalized, stored candle
// sequence plus a way to force a refresh from upstream.
type Provider interface {
	GetCandles(symbol, timeframe string, limit int) ([]types.MarketCandle, error)
	Refresh(ctx context.Context, symbol, timeframe string, limit int) (int, error)
}

// Service implements Provider on top of the candle store and an upstream
// fetcher.
type Service struct {
	db      *Database
	fetcher Fetcher
}

func NewService(gormDB *gorm.DB, fetcher Fetcher) *Service {
	return &Service{db: NewDatabase(gormDB), fetcher: fetcher}
}

// GetCandles reads the stored series in ascending timestamp order.
func (s *Service) GetCandles(symbol, timeframe string, limit int) ([]types.MarketCandle, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return s.db.GetCandles(symbol, timeframe, limit)
}

// Refresh forces an upstream fetch and appends any new candles to the
// store. Returns the number of newly stored candles.
func (s *Service) Refresh(ctx context.Context, symbol, timeframe string, limit int) (int, error) {
	candles, err := s.fetcher.FetchCandles(ctx, symbol, timeframe, limit)
	if err != nil {
		return 0, err
	}

	stored, err := s.db.UpsertCandles(candles)
	if err != nil {
		return 0, err
	}

	log.Debug().
		Str("symbol", symbol).
		Str("timeframe", timeframe).
		Int("fetched", len(candles)).
		Int("stored", stored).
		Msg("market data refreshed")

	return stored, nil
}

// GinHandlers contains HTTP handlers for market data endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GetCandlesHandler handles GET requests for stored candles
// Query parameters: symbol (required), timeframe (required), limit
func (h *GinHandlers) GetCandlesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := c.Query("symbol")
		timeframe := c.Query("timeframe")
		if symbol == "" || timeframe == "" {
			response.BadRequest(c, "symbol and timeframe are required")
			return
		}
		if !ValidTimeframe(timeframe) {
			response.BadRequest(c, "unsupported timeframe")
			return
		}

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

		candles, err := h.service.GetCandles(symbol, timeframe, limit)
		response.Handle(c, candles, err)
	}
}

// RefreshHandler handles POST requests to force an upstream fetch
// Request body: symbol, timeframe, optional limit
func (h *GinHandlers) RefreshHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Symbol    string `json:"symbol" binding:"required"`
			Timeframe string `json:"timeframe" binding:"required"`
			Limit     int    `json:"limit"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if !ValidTimeframe(req.Timeframe) {
			response.BadRequest(c, "unsupported timeframe")
			return
		}

		stored, err := h.service.Refresh(c.Request.Context(), req.Symbol, req.Timeframe, req.Limit)
		if err != nil {
			if IsTransient(err) {
				response.InternalError(c, err.Error())
			} else {
				response.NotFound(c, err.Error())
			}
			return
		}

		response.Success(c, gin.H{"stored": stored})
	}
}
