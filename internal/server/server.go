// Package server is the HTTP surface: login, refresh, logout, and session
// management endpoints over gin.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"session-vault/backend/internal/gate"
	"session-vault/backend/internal/session/domain"
	"session-vault/backend/internal/session/service"
)

// SessionManager is the session lifecycle the handlers drive.
type SessionManager interface {
	CreateSession(ctx context.Context, in service.CreateInput) (*service.Issued, error)
	RefreshSession(ctx context.Context, refreshToken string) (*service.Issued, error)
	ValidateAccess(ctx context.Context, accessToken string) (*service.IdentityContext, error)
	ListSessions(ctx context.Context, identityID, currentSessionID string) ([]domain.Summary, error)
	RevokeSession(ctx context.Context, sessionID string, reason domain.RevocationReason, actor string) error
	RevokeAllSessions(ctx context.Context, identityID, exceptSessionID string, reason domain.RevocationReason, actor string) (int, error)
	ExtendActivity(ctx context.Context, sessionID string) (*service.ActivityInfo, error)
}

// Authenticator is the login gate.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password, ip string) (*gate.Identity, error)
}

// Pinger reports backend connectivity for readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the HTTP server.
type Options struct {
	Addr string
	// SecureCookies marks the refresh cookie Secure; disable only for local development.
	SecureCookies bool
	// Service name reported to tracing middleware.
	ServiceName string
}

// Server wires the handlers into an http.Server.
type Server struct {
	httpServer *http.Server
}

// New builds the router and returns a ready-to-run Server. challenger and the
// pingers may be nil.
func New(opts Options, sessions SessionManager, auth Authenticator, challenger gate.MFAChallenger, db, cache Pinger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if opts.ServiceName != "" {
		router.Use(otelgin.Middleware(opts.ServiceName))
	}

	h := &handlers{
		sessions:      sessions,
		auth:          auth,
		challenger:    challenger,
		secureCookies: opts.SecureCookies,
	}
	health := &healthHandler{db: db, cache: cache}

	router.GET("/healthz", health.live)
	router.GET("/readyz", health.ready)

	v1 := router.Group("/v1")
	{
		v1.POST("/auth/login", h.login)
		v1.POST("/auth/refresh", h.refresh)

		authed := v1.Group("", h.requireAuth)
		authed.POST("/auth/logout", h.logout)
		authed.GET("/sessions", h.listSessions)
		authed.DELETE("/sessions/:id", h.revokeSession)
		authed.POST("/sessions/revoke_all", h.revokeAll)
		authed.POST("/sessions/heartbeat", h.heartbeat)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              opts.Addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
