package prize

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/duelyard/internal/auth"
	"github.com/mbd888/duelyard/internal/validation"
	"github.com/mbd888/duelyard/internal/world"
)

// PageSize is how many batches one prizes page shows.
const PageSize = 45

// ViewOpener records that a player opened their prizes view.
type ViewOpener interface {
	OpenPrizes(player world.PlayerID, page int)
}

// Handler provides HTTP endpoints for claiming prizes.
type Handler struct {
	ledger *Ledger
	views  ViewOpener
}

// NewHandler creates a new prize handler. views may be nil.
func NewHandler(ledger *Ledger, views ViewOpener) *Handler {
	return &Handler{ledger: ledger, views: views}
}

// RegisterProtectedRoutes sets up player-authenticated prize routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/prizes", h.ListPrizes)
	r.POST("/prizes/:batchId/withdraw", h.Withdraw)
}

// ListPrizes handles GET /v1/prizes?page=
func (h *Handler) ListPrizes(c *gin.Context) {
	player := auth.Player(c)
	page := 0
	if p := c.Query("page"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed >= 0 {
			page = parsed
		}
	}

	batches, err := h.ledger.Claim(c.Request.Context(), player)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load prizes",
		})
		return
	}
	if h.views != nil {
		h.views.OpenPrizes(player, page)
	}

	total := len(batches)
	start := min(page*PageSize, total)
	end := min(start+PageSize, total)
	c.JSON(http.StatusOK, gin.H{
		"prizes": batches[start:end],
		"page":   page,
		"total":  total,
	})
}

// WithdrawRequest is the body of a withdraw call.
type WithdrawRequest struct {
	Item world.Item `json:"item"`
}

// Withdraw handles POST /v1/prizes/:batchId/withdraw
func (h *Handler) Withdraw(c *gin.Context) {
	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(validation.ValidItem("item", req.Item)); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	err := h.ledger.Withdraw(c.Request.Context(), auth.Player(c), c.Param("batchId"), req.Item)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"withdrawn": req.Item})
	case errors.Is(err, ErrBatchNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Prize batch not found",
		})
	case errors.Is(err, ErrReconciliation):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "reconciliation_failed",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to withdraw prize",
		})
	}
}
