package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"session-vault/backend/internal/gate"
	"session-vault/backend/internal/security"
	"session-vault/backend/internal/session/service"
)

// errorBody is the uniform error envelope. Messages are deliberately generic:
// the precise denial reason lives in the audit log, never in a response.
type errorBody struct {
	Error string `json:"error"`
}

// writeError maps a domain error onto a status and a generic message.
func writeError(c *gin.Context, err error) {
	var rateLimited *gate.RateLimitedError
	var locked *gate.AccountLockedError

	switch {
	case errors.As(err, &rateLimited):
		retryAfterHeader(c, rateLimited.RetryAfter)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{Error: "too many attempts"})
	case errors.As(err, &locked):
		// Indistinguishable from rate limiting on the wire.
		retryAfterHeader(c, locked.RetryAfter)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{Error: "too many attempts"})
	case errors.Is(err, gate.ErrBadCredentials):
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "invalid credentials"})
	case errors.Is(err, security.ErrExpiredCredential),
		errors.Is(err, security.ErrInvalidCredential),
		errors.Is(err, service.ErrCredentialRevoked),
		errors.Is(err, service.ErrReuseDetected),
		errors.Is(err, service.ErrSessionNotFound):
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "authentication required"})
	case errors.Is(err, service.ErrStoreUnavailable):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorBody{Error: "temporarily unavailable"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func retryAfterHeader(c *gin.Context, d time.Duration) {
	secs := int(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	c.Header("Retry-After", strconv.Itoa(secs))
}
