// Package validation provides request validation helpers for the duel API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/duelyard/internal/world"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

const (
	MaxStringLength = 256
	// MaxStacks caps the stacks accepted in one bet or withdrawal.
	MaxStacks = 54
)

var (
	// Player ids are UUIDs or game names (3-16 word characters).
	playerIDRegex = regexp.MustCompile(`^([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}|[A-Za-z0-9_]{3,16})$`)
	nameRegex     = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,31}$`)
	kindRegex     = regexp.MustCompile(`^[a-z0-9_:.]{1,64}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidPlayerID reports whether s looks like a player id.
func IsValidPlayerID(s string) bool {
	return playerIDRegex.MatchString(s)
}

// IsValidName reports whether s is usable as an arena or group name.
func IsValidName(s string) bool {
	return nameRegex.MatchString(s)
}

// SanitizeString trims, truncates and strips null bytes.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs validators and collects their errors.
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidPlayer checks a player id field. Empty passes; pair with Required.
func ValidPlayer(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" || IsValidPlayerID(value) {
			return nil
		}
		return &ValidationError{Field: field, Message: "must be a player UUID or name"}
	}
}

// ValidName checks an arena or group name field.
func ValidName(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" || IsValidName(value) {
			return nil
		}
		return &ValidationError{Field: field, Message: "must start with a letter and use letters, digits, '_' or '-'"}
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// ValidItem checks a single stack.
func ValidItem(field string, it world.Item) func() *ValidationError {
	return func() *ValidationError {
		switch {
		case !kindRegex.MatchString(it.Kind):
			return &ValidationError{Field: field + ".kind", Message: "must be a lowercase item key"}
		case it.Amount <= 0:
			return &ValidationError{Field: field + ".amount", Message: "must be greater than zero"}
		case len(it.Meta) > MaxStringLength:
			return &ValidationError{Field: field + ".meta", Message: "exceeds maximum length"}
		}
		return nil
	}
}

// ValidItems checks a stack list. An empty list is allowed.
func ValidItems(field string, items []world.Item) func() *ValidationError {
	return func() *ValidationError {
		if len(items) > MaxStacks {
			return &ValidationError{Field: field, Message: "too many stacks"}
		}
		for _, it := range items {
			if err := ValidItem(field, it)(); err != nil {
				return err
			}
		}
		return nil
	}
}

// PlayerParamMiddleware rejects malformed :playerId URL params early.
func PlayerParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("playerId")
		if id != "" && !IsValidPlayerID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_player",
				"message": "playerId must be a player UUID or name",
			})
			return
		}
		c.Next()
	}
}
