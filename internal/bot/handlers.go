package bot

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/papertrade/bot-api/internal/types"
	"github.com/papertrade/bot-api/pkg/response"
)

// GinHandlers contains HTTP handlers for bot management endpoints
type GinHandlers struct {
	service      *Service
	orchestrator *Orchestrator
}

func NewGinHandlers(service *Service, orchestrator *Orchestrator) *GinHandlers {
	return &GinHandlers{service: service, orchestrator: orchestrator}
}

func ownerID(c *gin.Context) string {
	return c.GetString("clientID")
}

// CreateBotHandler handles POST requests to create a new bot
func (h *GinHandlers) CreateBotHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		bot, err := h.service.CreateBot(ownerID(c), &req)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		response.Success(c, bot)
	}
}

// ListBotsHandler handles GET requests for the caller's bots
func (h *GinHandlers) ListBotsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		bots, err := h.service.ListBots(ownerID(c))
		response.Handle(c, bots, err)
	}
}

// GetBotHandler handles GET requests for a single bot
func (h *GinHandlers) GetBotHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		bot, err := h.service.GetOwnedBot(c.Param("bot_id"), ownerID(c))
		if errors.Is(err, ErrBotNotFound) {
			response.NotFound(c, "Bot not found")
			return
		}
		response.Handle(c, bot, err)
	}
}

// UpdateBotHandler handles PUT requests to reconfigure a stopped bot
func (h *GinHandlers) UpdateBotHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		bot, err := h.service.UpdateBot(c.Param("bot_id"), ownerID(c), &req)
		switch {
		case errors.Is(err, ErrBotNotFound):
			response.NotFound(c, "Bot not found")
		case errors.Is(err, ErrBotRunning):
			response.Conflict(c, err.Error())
		case err != nil:
			response.BadRequest(c, err.Error())
		default:
			response.Success(c, bot)
		}
	}
}

// DeleteBotHandler handles DELETE requests; the scheduler registration is
// released before the record goes away
func (h *GinHandlers) DeleteBotHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := h.service.DeleteBot(c.Param("bot_id"), ownerID(c))
		if errors.Is(err, ErrBotNotFound) {
			response.NotFound(c, "Bot not found")
			return
		}
		response.Handle(c, gin.H{"deleted": true}, err)
	}
}

func (h *GinHandlers) lifecycleHandler(fn func(botID, ownerID string) (*types.Bot, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		bot, err := fn(c.Param("bot_id"), ownerID(c))
		switch {
		case errors.Is(err, ErrBotNotFound):
			response.NotFound(c, "Bot not found")
		case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrTooManyRunning):
			response.Conflict(c, err.Error())
		case err != nil:
			response.InternalError(c, err.Error())
		default:
			response.Success(c, gin.H{"bot_id": bot.BotID, "state": bot.State})
		}
	}
}

// StartBotHandler handles POST requests to start a bot's schedule
func (h *GinHandlers) StartBotHandler() gin.HandlerFunc {
	return h.lifecycleHandler(h.service.StartBot)
}

// StopBotHandler handles POST requests to stop a bot
func (h *GinHandlers) StopBotHandler() gin.HandlerFunc {
	return h.lifecycleHandler(h.service.StopBot)
}

// PauseBotHandler handles POST requests to pause triggering
func (h *GinHandlers) PauseBotHandler() gin.HandlerFunc {
	return h.lifecycleHandler(h.service.PauseBot)
}

// ResumeBotHandler handles POST requests to resume a paused bot
func (h *GinHandlers) ResumeBotHandler() gin.HandlerFunc {
	return h.lifecycleHandler(h.service.ResumeBot)
}

// RunOnceHandler handles POST requests for a synchronous single run,
// bypassing the scheduler but honoring in-flight exclusivity and
// idempotence
func (h *GinHandlers) RunOnceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		bot, err := h.service.GetOwnedBot(c.Param("bot_id"), ownerID(c))
		if err != nil || bot == nil {
			response.NotFound(c, "Bot not found")
			return
		}

		result, err := h.orchestrator.RunOnce(c.Request.Context(), bot.BotID)
		if errors.Is(err, ErrRunInFlight) {
			response.Conflict(c, err.Error())
			return
		}
		response.Handle(c, result, err)
	}
}

// StatusHandler handles GET requests for bot state and scheduling info
func (h *GinHandlers) StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := h.service.Status(c.Param("bot_id"), ownerID(c))
		if errors.Is(err, ErrBotNotFound) {
			response.NotFound(c, "Bot not found")
			return
		}
		response.Handle(c, status, err)
	}
}

// ListSignalsHandler handles GET requests for a bot's signals
func (h *GinHandlers) ListSignalsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		botID := c.Query("bot_id")
		if botID == "" {
			response.BadRequest(c, "bot_id is required")
			return
		}
		bot, err := h.service.GetOwnedBot(botID, ownerID(c))
		if err != nil || bot == nil {
			response.NotFound(c, "Bot not found")
			return
		}

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		signals, err := h.service.ListSignals(bot.BotID, limit)
		response.Handle(c, signals, err)
	}
}

// SignalStatsHandler handles GET requests for a bot's aggregated signal
// statistics over a trailing window of days
func (h *GinHandlers) SignalStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		botID := c.Query("bot_id")
		if botID == "" {
			response.BadRequest(c, "bot_id is required")
			return
		}
		bot, err := h.service.GetOwnedBot(botID, ownerID(c))
		if err != nil || bot == nil {
			response.NotFound(c, "Bot not found")
			return
		}

		days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))
		stats, err := h.service.SignalStats(bot.BotID, days)
		response.Handle(c, stats, err)
	}
}
