package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"session-vault/backend/internal/session/service"
)

const identityKey = "identity"

// requireAuth validates the bearer access credential and stashes the resolved
// identity on the context.
func (h *handlers) requireAuth(c *gin.Context) {
	raw := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(raw, "Bearer ")
	if !ok || token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "authentication required"})
		return
	}

	ident, err := h.sessions.ValidateAccess(c.Request.Context(), token)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set(identityKey, ident)
	c.Next()
}

func identityFrom(c *gin.Context) *service.IdentityContext {
	v, _ := c.Get(identityKey)
	ident, _ := v.(*service.IdentityContext)
	return ident
}
