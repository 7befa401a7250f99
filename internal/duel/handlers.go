package duel

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/duelyard/internal/auth"
	"github.com/mbd888/duelyard/internal/escrow"
	"github.com/mbd888/duelyard/internal/validation"
	"github.com/mbd888/duelyard/internal/world"
)

// Handler provides HTTP endpoints for duel intents and bridge events.
type Handler struct {
	service *Service
}

// NewHandler creates a new duel handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up routes that act as the X-Player-ID player.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/duels", h.Challenge)
	r.GET("/duels/current", h.Current)
	r.POST("/duels/current/options", h.ToggleOption)
	r.POST("/duels/current/arena/cycle", h.CycleArena)
	r.POST("/duels/current/setup/confirm", h.ConfirmSetup)
	r.POST("/duels/current/accept", h.Accept)
	r.POST("/duels/current/deny", h.Deny)
	r.POST("/duels/current/cancel", h.Cancel)
	r.POST("/duels/current/skip", h.Skip)
	r.POST("/duels/current/forfeit", h.Forfeit)
	r.GET("/duels/current/bet", h.OpenBetting)
	r.PUT("/duels/current/bet", h.UpdateBet)
	r.POST("/duels/current/bet/confirm", h.ConfirmBet)
	r.POST("/duels/current/bet/unconfirm", h.UnconfirmBet)
	r.POST("/views/close", h.CloseView)

	r.POST("/events/join", h.Joined)
	r.POST("/events/quit", h.Quit)
	r.POST("/events/death", h.Died)
	r.POST("/events/block-edit", h.BlockEdit)
}

// RegisterAdminRoutes sets up admin-only routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/duels", h.ListActive)
}

// ChallengeRequest is the body of a challenge.
type ChallengeRequest struct {
	Target world.PlayerID `json:"target"`
}

// Challenge handles POST /v1/duels
func (h *Handler) Challenge(c *gin.Context) {
	var req ChallengeRequest
	if !bind(c, &req) {
		return
	}
	if errs := validation.Validate(validation.ValidPlayer("target", string(req.Target))); len(errs) > 0 {
		validationFailed(c, errs)
		return
	}
	inf, err := h.service.Challenge(c.Request.Context(), auth.Player(c), req.Target)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"duel": inf})
}

// Current handles GET /v1/duels/current
func (h *Handler) Current(c *gin.Context) {
	inf, err := h.service.Current(c.Request.Context(), auth.Player(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"duel": inf})
}

// OptionRequest names the option to toggle.
type OptionRequest struct {
	Option Option `json:"option"`
}

// ToggleOption handles POST /v1/duels/current/options
func (h *Handler) ToggleOption(c *gin.Context) {
	var req OptionRequest
	if !bind(c, &req) {
		return
	}
	h.respond(c, func() (Info, error) {
		return h.service.ToggleOption(c.Request.Context(), auth.Player(c), req.Option)
	})
}

// CycleArena handles POST /v1/duels/current/arena/cycle
func (h *Handler) CycleArena(c *gin.Context) {
	h.respond(c, func() (Info, error) {
		return h.service.CycleArena(c.Request.Context(), auth.Player(c))
	})
}

// ConfirmSetup handles POST /v1/duels/current/setup/confirm
func (h *Handler) ConfirmSetup(c *gin.Context) {
	h.respond(c, func() (Info, error) {
		return h.service.ConfirmSetup(c.Request.Context(), auth.Player(c))
	})
}

// Accept handles POST /v1/duels/current/accept
func (h *Handler) Accept(c *gin.Context) {
	h.respond(c, func() (Info, error) {
		return h.service.Accept(c.Request.Context(), auth.Player(c))
	})
}

// Deny handles POST /v1/duels/current/deny
func (h *Handler) Deny(c *gin.Context) {
	h.done(c, h.service.Deny(c.Request.Context(), auth.Player(c)))
}

// Cancel handles POST /v1/duels/current/cancel
func (h *Handler) Cancel(c *gin.Context) {
	h.done(c, h.service.Cancel(c.Request.Context(), auth.Player(c)))
}

// Skip handles POST /v1/duels/current/skip
func (h *Handler) Skip(c *gin.Context) {
	h.respond(c, func() (Info, error) {
		return h.service.SkipVote(c.Request.Context(), auth.Player(c))
	})
}

// Forfeit handles POST /v1/duels/current/forfeit
func (h *Handler) Forfeit(c *gin.Context) {
	h.done(c, h.service.Forfeit(c.Request.Context(), auth.Player(c)))
}

// OpenBetting handles GET /v1/duels/current/bet
func (h *Handler) OpenBetting(c *gin.Context) {
	player := auth.Player(c)
	if err := h.service.OpenBetting(c.Request.Context(), player); err != nil {
		writeError(c, err)
		return
	}
	h.respond(c, func() (Info, error) {
		return h.service.Current(c.Request.Context(), player)
	})
}

// BetRequest replaces the caller's stake.
type BetRequest struct {
	Items []world.Item `json:"items"`
}

// UpdateBet handles PUT /v1/duels/current/bet
func (h *Handler) UpdateBet(c *gin.Context) {
	var req BetRequest
	if !bind(c, &req) {
		return
	}
	if errs := validation.Validate(validation.ValidItems("items", req.Items)); len(errs) > 0 {
		validationFailed(c, errs)
		return
	}
	h.respond(c, func() (Info, error) {
		return h.service.UpdateBetItems(c.Request.Context(), auth.Player(c), req.Items)
	})
}

// ConfirmBet handles POST /v1/duels/current/bet/confirm
func (h *Handler) ConfirmBet(c *gin.Context) {
	h.respond(c, func() (Info, error) {
		return h.service.ConfirmBet(c.Request.Context(), auth.Player(c))
	})
}

// UnconfirmBet handles POST /v1/duels/current/bet/unconfirm
func (h *Handler) UnconfirmBet(c *gin.Context) {
	h.respond(c, func() (Info, error) {
		return h.service.UnconfirmBet(c.Request.Context(), auth.Player(c))
	})
}

// CloseView handles POST /v1/views/close
func (h *Handler) CloseView(c *gin.Context) {
	h.done(c, h.service.CloseView(c.Request.Context(), auth.Player(c)))
}

// Joined handles POST /v1/events/join
func (h *Handler) Joined(c *gin.Context) {
	queued := h.service.PlayerJoined(c.Request.Context(), auth.Player(c))
	c.JSON(http.StatusOK, gin.H{"teleportQueued": queued})
}

// Quit handles POST /v1/events/quit
func (h *Handler) Quit(c *gin.Context) {
	h.done(c, h.service.PlayerQuit(c.Request.Context(), auth.Player(c)))
}

// DeathRequest carries what the player dropped. Omitting drops means the
// player's remaining inventory is taken.
type DeathRequest struct {
	Drops []world.Item `json:"drops"`
}

// Died handles POST /v1/events/death
func (h *Handler) Died(c *gin.Context) {
	var req DeathRequest
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}
	if errs := validation.Validate(validation.ValidItems("drops", req.Drops)); len(errs) > 0 {
		validationFailed(c, errs)
		return
	}
	err := h.service.PlayerDied(c.Request.Context(), auth.Player(c), req.Drops)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"handled": true})
	case errors.Is(err, ErrNotInDuel), errors.Is(err, ErrInvalidState):
		c.JSON(http.StatusOK, gin.H{"handled": false})
	default:
		writeError(c, err)
	}
}

// BlockEditRequest is the block the player wants to change.
type BlockEditRequest struct {
	Location world.Location `json:"location"`
}

// BlockEdit handles POST /v1/events/block-edit
func (h *Handler) BlockEdit(c *gin.Context) {
	var req BlockEditRequest
	if !bind(c, &req) {
		return
	}
	allowed, err := h.service.BlockEdit(c.Request.Context(), auth.Player(c), req.Location)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"allowed": allowed})
}

// ListActive handles GET /v1/admin/duels
func (h *Handler) ListActive(c *gin.Context) {
	duels, err := h.service.ListActive(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"duels": duels, "count": len(duels), "closing": h.service.Closing()})
}

func (h *Handler) respond(c *gin.Context, fn func() (Info, error)) {
	inf, err := fn()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"duel": inf})
}

func (h *Handler) done(c *gin.Context, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return false
	}
	return true
}

func validationFailed(c *gin.Context, errs validation.ValidationErrors) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "validation_error",
		"message": errs.Error(),
		"details": errs,
	})
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, ErrNotInDuel):
		status, code = http.StatusNotFound, "not_in_duel"
	case errors.Is(err, ErrSelfChallenge), errors.Is(err, ErrUnknownOption):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, ErrPlayerOffline):
		status, code = http.StatusNotFound, "player_offline"
	case errors.Is(err, ErrNotChallenger), errors.Is(err, ErrNotTarget), errors.Is(err, escrow.ErrNotParty):
		status, code = http.StatusForbidden, "not_allowed"
	case errors.Is(err, ErrAlreadyInDuel):
		status, code = http.StatusConflict, "already_in_duel"
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrUseForfeit),
		errors.Is(err, ErrBettingDisabled), errors.Is(err, escrow.ErrFinalized), errors.Is(err, escrow.ErrNoBook):
		status, code = http.StatusConflict, "invalid_state"
	case errors.Is(err, ErrShuttingDown):
		status, code = http.StatusServiceUnavailable, "shutting_down"
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "Internal server error"
	}
	c.JSON(status, gin.H{"error": code, "message": msg})
}
