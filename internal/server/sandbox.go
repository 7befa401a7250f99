package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/duelyard/internal/auth"
	"github.com/mbd888/duelyard/internal/duel"
	"github.com/mbd888/duelyard/internal/session"
	"github.com/mbd888/duelyard/internal/validation"
	"github.com/mbd888/duelyard/internal/world"
)

// sandboxHandler stands in for the game server bridge when players live in
// memory: it moves players on and off line and edits their inventories.
type sandboxHandler struct {
	players *session.MemoryPlayers
	duels   *duel.Service
}

func newSandboxHandler(players *session.MemoryPlayers, duels *duel.Service) *sandboxHandler {
	return &sandboxHandler{players: players, duels: duels}
}

func (h *sandboxHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/join", h.join)
	r.POST("/quit", h.quit)
	r.GET("/me", h.me)
	r.PUT("/inventory", h.setInventory)
}

type sandboxJoinRequest struct {
	Location  world.Location `json:"location"`
	Inventory []world.Item   `json:"inventory,omitempty"`
}

type sandboxInventoryRequest struct {
	Items []world.Item `json:"items"`
}

// join handles POST /v1/sandbox/join
func (h *sandboxHandler) join(c *gin.Context) {
	var req sandboxJoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(
		validation.ValidName("location.world", req.Location.World),
		validation.ValidItems("inventory", req.Inventory),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	player := auth.Player(c)
	h.players.Join(player, req.Location)
	if req.Inventory != nil {
		h.players.SetInventory(player, req.Inventory)
	}
	queued := h.duels.PlayerJoined(c.Request.Context(), player)
	c.JSON(http.StatusOK, gin.H{"player": player, "teleportQueued": queued})
}

// quit handles POST /v1/sandbox/quit. The player goes offline before the
// duel hears about it, as with a real disconnect.
func (h *sandboxHandler) quit(c *gin.Context) {
	player := auth.Player(c)
	h.players.Quit(player)
	if err := h.duels.PlayerQuit(c.Request.Context(), player); err != nil {
		logError(c, "sandbox quit failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Internal server error",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// me handles GET /v1/sandbox/me
func (h *sandboxHandler) me(c *gin.Context) {
	player := auth.Player(c)
	loc, known := h.players.Location(player)
	resp := gin.H{
		"player":    player,
		"online":    h.players.IsOnline(player),
		"mode":      h.players.Mode(player),
		"vitals":    h.players.Vitals(player),
		"inventory": h.players.Inventory(player),
	}
	if known {
		resp["location"] = loc
	}
	c.JSON(http.StatusOK, resp)
}

// setInventory handles PUT /v1/sandbox/inventory
func (h *sandboxHandler) setInventory(c *gin.Context) {
	var req sandboxInventoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(validation.ValidItems("items", req.Items)); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}
	player := auth.Player(c)
	if !h.players.IsOnline(player) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "player_offline",
			"message": "Join the sandbox first",
		})
		return
	}
	h.players.SetInventory(player, req.Items)
	c.JSON(http.StatusOK, gin.H{"inventory": h.players.Inventory(player)})
}
