package indicator

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/papertrade/bot-api/internal/types"
	"github.com/papertrade/bot-api/pkg/response"
)

// BotReader resolves bot ownership for indicator queries.
type BotReader interface {
	GetOwnedBot(botID, ownerID string) (*types.Bot, error)
}

// GinHandlers contains HTTP handlers for indicator endpoints
type GinHandlers struct {
	service *Service
	bots    BotReader
}

func NewGinHandlers(service *Service, bots BotReader) *GinHandlers {
	return &GinHandlers{service: service, bots: bots}
}

// GetIndicatorsHandler handles GET requests for stored indicator snapshots
// Query parameters: bot_id (required), kind, limit
func (h *GinHandlers) GetIndicatorsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		botID := c.Query("bot_id")
		if botID == "" {
			response.BadRequest(c, "bot_id is required")
			return
		}

		if _, err := h.bots.GetOwnedBot(botID, c.GetString("clientID")); err != nil {
			response.NotFound(c, "Bot not found")
			return
		}

		kind := c.Query("kind")
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

		snapshots, err := h.service.GetLatest(botID, kind, limit)
		response.Handle(c, snapshots, err)
	}
}
