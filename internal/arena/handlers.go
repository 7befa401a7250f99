package arena

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/duelyard/internal/world"
)

// Handler provides HTTP endpoints for browsing and defining arenas.
type Handler struct {
	pool *Pool
}

// NewHandler creates a new arena handler.
func NewHandler(pool *Pool) *Handler {
	return &Handler{pool: pool}
}

// RegisterRoutes sets up public arena routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/arenas", h.ListArenas)
}

// RegisterAdminRoutes sets up arena definition routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/arenas", h.DefineArena)
	r.PUT("/arenas/:name/spawn/:slot", h.SetSpawn)
	r.DELETE("/arenas/:name", h.RemoveArena)
}

// ListArenas handles GET /v1/arenas
func (h *Handler) ListArenas(c *gin.Context) {
	arenas := h.pool.List()
	if arenas == nil {
		arenas = []Info{}
	}
	c.JSON(http.StatusOK, gin.H{
		"arenas": arenas,
		"groups": h.pool.Groups(),
		"inUse":  h.pool.InUseCount(),
	})
}

// DefineRequest selects a region for a new arena. The corners may be given
// in any order.
type DefineRequest struct {
	Group string    `json:"group" binding:"required"`
	World string    `json:"world" binding:"required"`
	From  world.Vec `json:"from"`
	To    world.Vec `json:"to"`
}

// DefineArena handles POST /v1/admin/arenas
func (h *Handler) DefineArena(c *gin.Context) {
	var req DefineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "group and world are required",
		})
		return
	}
	inf, err := h.pool.Define(c.Request.Context(), req.Group, world.NewBounds(req.World, req.From, req.To))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"arena": inf})
}

// SpawnRequest is a spawn point.
type SpawnRequest struct {
	Location world.Location `json:"location"`
}

// SetSpawn handles PUT /v1/admin/arenas/:name/spawn/:slot
func (h *Handler) SetSpawn(c *gin.Context) {
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil {
		writeError(c, ErrInvalidSlot)
		return
	}
	var req SpawnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	name := c.Param("name")
	if err := h.pool.SetSpawn(c.Request.Context(), name, slot, req.Location); err != nil {
		writeError(c, err)
		return
	}
	inf, _ := h.pool.Get(name)
	c.JSON(http.StatusOK, gin.H{"arena": inf, "ready": inf.Ready()})
}

// RemoveArena handles DELETE /v1/admin/arenas/:name
func (h *Handler) RemoveArena(c *gin.Context) {
	if err := h.pool.Remove(c.Request.Context(), c.Param("name")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrArenaNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ErrArenaInUse):
		c.JSON(http.StatusConflict, gin.H{"error": "arena_in_use", "message": err.Error()})
	case errors.Is(err, ErrInvalidSlot), errors.Is(err, ErrSpawnOutside), errors.Is(err, ErrInvalidGroup):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Internal server error"})
	}
}
