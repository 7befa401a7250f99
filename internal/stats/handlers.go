package stats

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/duelyard/internal/validation"
	"github.com/mbd888/duelyard/internal/world"
)

// Handler provides HTTP endpoints for player stats.
type Handler struct {
	service *Service
}

// NewHandler creates a new stats handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public stats routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/stats/top", h.Top)
	r.GET("/stats/:playerId", validation.PlayerParamMiddleware(), h.GetStats)
}

type statsResponse struct {
	PlayerStats
	WinRate float64 `json:"winRate"`
}

func respond(p PlayerStats) statsResponse {
	return statsResponse{PlayerStats: p, WinRate: p.WinRate()}
}

// GetStats handles GET /v1/stats/:playerId
func (h *Handler) GetStats(c *gin.Context) {
	p := h.service.Get(world.PlayerID(c.Param("playerId")))
	c.JSON(http.StatusOK, gin.H{"stats": respond(p)})
}

// Top handles GET /v1/stats/top?limit=
func (h *Handler) Top(c *gin.Context) {
	limit := 10
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = min(parsed, 100)
		}
	}
	top := h.service.Top(limit)
	out := make([]statsResponse, len(top))
	for i, p := range top {
		out[i] = respond(p)
	}
	c.JSON(http.StatusOK, gin.H{"players": out, "count": len(out)})
}
