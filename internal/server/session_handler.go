package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"session-vault/backend/internal/session/domain"
)

type sessionListResponse struct {
	Sessions []domain.Summary `json:"sessions"`
}

func (h *handlers) listSessions(c *gin.Context) {
	ident := identityFrom(c)
	summaries, err := h.sessions.ListSessions(c.Request.Context(), ident.IdentityID, ident.SessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionListResponse{Sessions: summaries})
}

// revokeSession kills one of the caller's sessions, e.g. "sign out that
// laptop". The target must belong to the caller.
func (h *handlers) revokeSession(c *gin.Context) {
	ident := identityFrom(c)
	targetID := c.Param("id")

	owned, err := h.ownsSession(c, ident.IdentityID, targetID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !owned {
		// Same response as a missing session: existence is not disclosed.
		c.JSON(http.StatusNotFound, errorBody{Error: "session not found"})
		return
	}

	if err := h.sessions.RevokeSession(c.Request.Context(), targetID, domain.ReasonAdminRevoke, ident.IdentityID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type revokeAllRequest struct {
	// KeepCurrent leaves the caller's own session alive; everything else dies.
	KeepCurrent bool `json:"keep_current"`
}

type revokeAllResponse struct {
	Revoked int `json:"revoked"`
}

func (h *handlers) revokeAll(c *gin.Context) {
	ident := identityFrom(c)
	var req revokeAllRequest
	_ = c.ShouldBindJSON(&req)

	except := ""
	if req.KeepCurrent {
		except = ident.SessionID
	}
	n, err := h.sessions.RevokeAllSessions(c.Request.Context(), ident.IdentityID, except, domain.ReasonCredentialChange, ident.IdentityID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !req.KeepCurrent {
		h.clearRefreshCookie(c)
	}
	c.JSON(http.StatusOK, revokeAllResponse{Revoked: n})
}

type heartbeatResponse struct {
	IdleDeadline time.Time `json:"idle_deadline"`
	WarnAt       time.Time `json:"warn_at"`
}

// heartbeat records activity and tells the client when to warn about the
// approaching idle deadline.
func (h *handlers) heartbeat(c *gin.Context) {
	ident := identityFrom(c)
	info, err := h.sessions.ExtendActivity(c.Request.Context(), ident.SessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, heartbeatResponse{IdleDeadline: info.IdleDeadline, WarnAt: info.WarnAt})
}

// ownsSession confirms the target session belongs to the identity by scanning
// the identity's own active sessions.
func (h *handlers) ownsSession(c *gin.Context, identityID, sessionID string) (bool, error) {
	summaries, err := h.sessions.ListSessions(c.Request.Context(), identityID, "")
	if err != nil {
		return false, err
	}
	for _, s := range summaries {
		if s.SessionID == sessionID {
			return true, nil
		}
	}
	return false, nil
}
