package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type healthHandler struct {
	db    Pinger
	cache Pinger
}

func (h *healthHandler) live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ready reports whether both stores answer. The durable store gates readiness;
// the cache degrades the service but does not take it out of rotation.
func (h *healthHandler) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{"database": "ok", "cache": "ok"}

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			body["database"] = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			body["cache"] = "degraded"
		}
	}
	c.JSON(status, body)
}
