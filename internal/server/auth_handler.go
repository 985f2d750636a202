package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"session-vault/backend/internal/gate"
	"session-vault/backend/internal/session/domain"
	"session-vault/backend/internal/session/service"
)

// refreshCookie is the HttpOnly refresh credential cookie. Its path is pinned
// to the refresh endpoint so the browser never attaches it elsewhere.
const (
	refreshCookieName = "sv_refresh"
	refreshCookiePath = "/v1/auth/refresh"
)

type handlers struct {
	sessions      SessionManager
	auth          Authenticator
	challenger    gate.MFAChallenger
	secureCookies bool
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Device   struct {
		ID        string `json:"id"`
		Type      string `json:"type"`
		UserAgent string `json:"user_agent"`
		Geo       string `json:"geo"`
	} `json:"device"`
}

type credentialResponse struct {
	SessionID       string    `json:"session_id"`
	AccessToken     string    `json:"access_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	SessionExpires  time.Time `json:"session_expires_at"`
}

type mfaResponse struct {
	MFARequired bool   `json:"mfa_required"`
	Challenge   string `json:"challenge"`
}

func (h *handlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "email and password are required"})
		return
	}

	ident, err := h.auth.Authenticate(c.Request.Context(), req.Email, req.Password, c.ClientIP())
	if err != nil {
		writeError(c, err)
		return
	}

	if h.challenger != nil {
		required, err := h.challenger.Required(c.Request.Context(), ident.ID)
		if err != nil {
			writeError(c, err)
			return
		}
		if required {
			challenge, err := h.challenger.Challenge(c.Request.Context(), ident.ID)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusAccepted, mfaResponse{MFARequired: true, Challenge: challenge})
			return
		}
	}

	issued, err := h.sessions.CreateSession(c.Request.Context(), service.CreateInput{
		IdentityID: ident.ID,
		Roles:      ident.Roles,
		Device: domain.Device{
			ID:        req.Device.ID,
			Type:      req.Device.Type,
			UserAgent: c.Request.UserAgent(),
			Geo:       req.Device.Geo,
			IP:        c.ClientIP(),
		},
	})
	if err != nil {
		writeError(c, err)
		return
	}

	h.setRefreshCookie(c, issued)
	c.JSON(http.StatusOK, credentialResponse{
		SessionID:       issued.SessionID,
		AccessToken:     issued.AccessToken,
		AccessExpiresAt: issued.AccessExpiresAt,
		SessionExpires:  issued.RefreshExpiresAt,
	})
}

func (h *handlers) refresh(c *gin.Context) {
	token, err := c.Cookie(refreshCookieName)
	if err != nil || token == "" {
		c.JSON(http.StatusUnauthorized, errorBody{Error: "authentication required"})
		return
	}

	issued, err := h.sessions.RefreshSession(c.Request.Context(), token)
	if err != nil {
		// A transient store failure leaves the credential valid; keep the
		// cookie so the client can retry with backoff. Terminal auth errors
		// clear it.
		if !errors.Is(err, service.ErrStoreUnavailable) {
			h.clearRefreshCookie(c)
		}
		writeError(c, err)
		return
	}

	h.setRefreshCookie(c, issued)
	c.JSON(http.StatusOK, credentialResponse{
		SessionID:       issued.SessionID,
		AccessToken:     issued.AccessToken,
		AccessExpiresAt: issued.AccessExpiresAt,
		SessionExpires:  issued.RefreshExpiresAt,
	})
}

func (h *handlers) logout(c *gin.Context) {
	ident := identityFrom(c)
	err := h.sessions.RevokeSession(c.Request.Context(), ident.SessionID, domain.ReasonLogout, ident.IdentityID)
	if err != nil {
		writeError(c, err)
		return
	}
	h.clearRefreshCookie(c)
	c.Status(http.StatusNoContent)
}

func (h *handlers) setRefreshCookie(c *gin.Context, issued *service.Issued) {
	maxAge := int(time.Until(issued.RefreshExpiresAt) / time.Second)
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(refreshCookieName, issued.RefreshToken, maxAge, refreshCookiePath, "", h.secureCookies, true)
}

func (h *handlers) clearRefreshCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(refreshCookieName, "", -1, refreshCookiePath, "", h.secureCookies, true)
}
