// Package auth resolves who is calling the duel API.
//
// Identity model:
//   - The game bridge forwards player intents with an X-Player-ID header
//   - Admin routes require X-Admin-Secret to match ADMIN_SECRET
//   - Read-only endpoints (arenas, stats, health) need neither
package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/duelyard/internal/logging"
	"github.com/mbd888/duelyard/internal/validation"
	"github.com/mbd888/duelyard/internal/world"
)

const (
	// HeaderPlayerID carries the acting player's id.
	HeaderPlayerID = "X-Player-ID"
	// HeaderAdminSecret carries the admin secret.
	HeaderAdminSecret = "X-Admin-Secret"

	// ContextKeyPlayer is the gin context key for the acting player.
	ContextKeyPlayer = "authPlayerID"
)

// Middleware records a well-formed X-Player-ID in the gin and request
// contexts. Malformed or missing headers pass through unauthenticated.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderPlayerID)
		if id != "" && validation.IsValidPlayerID(id) {
			c.Set(ContextKeyPlayer, world.PlayerID(id))
			c.Request = c.Request.WithContext(logging.WithPlayerID(c.Request.Context(), id))
		}
		c.Next()
	}
}

// RequirePlayer rejects requests without a player identity.
func RequirePlayer() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(ContextKeyPlayer); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "X-Player-ID header with a valid player id is required",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin checks X-Admin-Secret against secret. An empty secret
// disables admin routes entirely.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "admin_disabled",
				"message": "admin routes are disabled; set ADMIN_SECRET",
			})
			return
		}
		given := c.GetHeader(HeaderAdminSecret)
		if subtle.ConstantTimeCompare([]byte(given), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "invalid admin secret",
			})
			return
		}
		c.Next()
	}
}

// Player returns the acting player, or "" when unauthenticated.
func Player(c *gin.Context) world.PlayerID {
	v, ok := c.Get(ContextKeyPlayer)
	if !ok {
		return ""
	}
	id, _ := v.(world.PlayerID)
	return id
}

// IsAuthenticated reports whether a player identity is present.
func IsAuthenticated(c *gin.Context) bool {
	return Player(c) != ""
}
