package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"session-vault/backend/internal/gate"
	"session-vault/backend/internal/session/domain"
	"session-vault/backend/internal/session/service"
)

type fakeSessions struct {
	issued      *service.Issued
	identity    *service.IdentityContext
	summaries   []domain.Summary
	activity    *service.ActivityInfo
	refreshErr  error
	validateErr error

	revokedID      string
	revokeAllCount int
	refreshedWith  string
}

func (f *fakeSessions) CreateSession(_ context.Context, _ service.CreateInput) (*service.Issued, error) {
	return f.issued, nil
}

func (f *fakeSessions) RefreshSession(_ context.Context, token string) (*service.Issued, error) {
	f.refreshedWith = token
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.issued, nil
}

func (f *fakeSessions) ValidateAccess(_ context.Context, _ string) (*service.IdentityContext, error) {
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	return f.identity, nil
}

func (f *fakeSessions) ListSessions(_ context.Context, _, current string) ([]domain.Summary, error) {
	out := make([]domain.Summary, len(f.summaries))
	copy(out, f.summaries)
	for i := range out {
		out[i].Current = out[i].SessionID == current
	}
	return out, nil
}

func (f *fakeSessions) RevokeSession(_ context.Context, sessionID string, _ domain.RevocationReason, _ string) error {
	f.revokedID = sessionID
	return nil
}

func (f *fakeSessions) RevokeAllSessions(_ context.Context, _, _ string, _ domain.RevocationReason, _ string) (int, error) {
	return f.revokeAllCount, nil
}

func (f *fakeSessions) ExtendActivity(_ context.Context, _ string) (*service.ActivityInfo, error) {
	return f.activity, nil
}

type fakeAuth struct {
	identity *gate.Identity
	err      error
}

func (f *fakeAuth) Authenticate(_ context.Context, _, _, _ string) (*gate.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.identity, nil
}

func testIssued() *service.Issued {
	return &service.Issued{
		SessionID:        "sess-1",
		AccessToken:      "access-token",
		AccessExpiresAt:  time.Now().Add(15 * time.Minute),
		RefreshToken:     "refresh-token",
		RefreshExpiresAt: time.Now().Add(7 * 24 * time.Hour),
	}
}

func newTestServer(sessions *fakeSessions, auth Authenticator) *Server {
	return New(Options{Addr: ":0"}, sessions, auth, nil, nil, nil)
}

func doJSON(t *testing.T, srv *Server, method, path string, body any, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if mutate != nil {
		mutate(req)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestLogin_Success(t *testing.T) {
	sessions := &fakeSessions{issued: testIssued()}
	auth := &fakeAuth{identity: &gate.Identity{ID: "user-1", Roles: []string{"member"}}}
	srv := newTestServer(sessions, auth)

	w := doJSON(t, srv, http.MethodPost, "/v1/auth/login",
		map[string]string{"email": "alice@example.com", "password": "pw"}, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp credentialResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AccessToken != "access-token" || resp.SessionID != "sess-1" {
		t.Errorf("response = %+v", resp)
	}
	if strings.Contains(w.Body.String(), "refresh-token") {
		t.Error("refresh credential must not appear in the body")
	}

	cookie := findCookie(t, w, refreshCookieName)
	if cookie.Value != "refresh-token" {
		t.Errorf("cookie value = %q", cookie.Value)
	}
	if !cookie.HttpOnly {
		t.Error("refresh cookie must be HttpOnly")
	}
	if cookie.Path != refreshCookiePath {
		t.Errorf("cookie path = %q, want %q", cookie.Path, refreshCookiePath)
	}
}

func TestLogin_MissingFields(t *testing.T) {
	srv := newTestServer(&fakeSessions{}, &fakeAuth{})
	w := doJSON(t, srv, http.MethodPost, "/v1/auth/login", map[string]string{"email": "a@b.c"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestLogin_RateLimited(t *testing.T) {
	auth := &fakeAuth{err: &gate.RateLimitedError{RetryAfter: 90 * time.Second}}
	srv := newTestServer(&fakeSessions{}, auth)

	w := doJSON(t, srv, http.MethodPost, "/v1/auth/login",
		map[string]string{"email": "alice@example.com", "password": "pw"}, nil)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "90" {
		t.Errorf("Retry-After = %q, want 90", got)
	}
}

func TestLogin_LockedLooksLikeRateLimited(t *testing.T) {
	auth := &fakeAuth{err: &gate.AccountLockedError{RetryAfter: time.Hour}}
	srv := newTestServer(&fakeSessions{}, auth)

	w := doJSON(t, srv, http.MethodPost, "/v1/auth/login",
		map[string]string{"email": "alice@example.com", "password": "pw"}, nil)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", w.Code)
	}
	if strings.Contains(strings.ToLower(w.Body.String()), "lock") {
		t.Error("lockout must not be disclosed")
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	auth := &fakeAuth{err: gate.ErrBadCredentials}
	srv := newTestServer(&fakeSessions{}, auth)

	w := doJSON(t, srv, http.MethodPost, "/v1/auth/login",
		map[string]string{"email": "alice@example.com", "password": "wrong"}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestRefresh_NoCookie(t *testing.T) {
	srv := newTestServer(&fakeSessions{}, &fakeAuth{})
	w := doJSON(t, srv, http.MethodPost, "/v1/auth/refresh", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestRefresh_RotatesCookie(t *testing.T) {
	sessions := &fakeSessions{issued: testIssued()}
	srv := newTestServer(sessions, &fakeAuth{})

	w := doJSON(t, srv, http.MethodPost, "/v1/auth/refresh", nil, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: refreshCookieName, Value: "old-refresh"})
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if sessions.refreshedWith != "old-refresh" {
		t.Errorf("refreshed with %q", sessions.refreshedWith)
	}
	cookie := findCookie(t, w, refreshCookieName)
	if cookie.Value != "refresh-token" {
		t.Errorf("rotated cookie = %q", cookie.Value)
	}
}

func TestRefresh_ReuseIsGenericAndClearsCookie(t *testing.T) {
	sessions := &fakeSessions{refreshErr: service.ErrReuseDetected}
	srv := newTestServer(sessions, &fakeAuth{})

	w := doJSON(t, srv, http.MethodPost, "/v1/auth/refresh", nil, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: refreshCookieName, Value: "stolen"})
	})

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
	if strings.Contains(strings.ToLower(w.Body.String()), "reuse") {
		t.Error("reuse detection must not be disclosed")
	}
	cookie := findCookie(t, w, refreshCookieName)
	if cookie.MaxAge >= 0 {
		t.Error("refresh cookie should be cleared")
	}
}

func TestRefresh_StoreFailureKeepsCookie(t *testing.T) {
	sessions := &fakeSessions{refreshErr: service.ErrStoreUnavailable}
	srv := newTestServer(sessions, &fakeAuth{})

	w := doJSON(t, srv, http.MethodPost, "/v1/auth/refresh", nil, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: refreshCookieName, Value: "still-valid"})
	})

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	// The credential is still valid; a 503 must not force a re-login by
	// destroying it.
	for _, c := range w.Result().Cookies() {
		if c.Name == refreshCookieName {
			t.Fatalf("refresh cookie touched on a transient failure: %v", c)
		}
	}
}

func TestLogout_RevokesCurrentSession(t *testing.T) {
	sessions := &fakeSessions{
		identity: &service.IdentityContext{IdentityID: "user-1", SessionID: "sess-1"},
	}
	srv := newTestServer(sessions, &fakeAuth{})

	w := doJSON(t, srv, http.MethodPost, "/v1/auth/logout", nil, bearer("access"))
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if sessions.revokedID != "sess-1" {
		t.Errorf("revoked %q", sessions.revokedID)
	}
}

func TestSessions_RequiresAuth(t *testing.T) {
	srv := newTestServer(&fakeSessions{}, &fakeAuth{})
	w := doJSON(t, srv, http.MethodGet, "/v1/sessions", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestSessions_ListFlagsCurrent(t *testing.T) {
	sessions := &fakeSessions{
		identity: &service.IdentityContext{IdentityID: "user-1", SessionID: "sess-2"},
		summaries: []domain.Summary{
			{SessionID: "sess-1", MaskedIP: "203.0.x.x"},
			{SessionID: "sess-2", MaskedIP: "198.51.x.x"},
		},
	}
	srv := newTestServer(sessions, &fakeAuth{})

	w := doJSON(t, srv, http.MethodGet, "/v1/sessions", nil, bearer("access"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp sessionListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Sessions) != 2 {
		t.Fatalf("sessions = %d", len(resp.Sessions))
	}
	for _, s := range resp.Sessions {
		if s.SessionID == "sess-2" && !s.Current {
			t.Error("caller's session not flagged current")
		}
	}
}

func TestRevokeSession_OtherIdentitysSessionIs404(t *testing.T) {
	sessions := &fakeSessions{
		identity:  &service.IdentityContext{IdentityID: "user-1", SessionID: "sess-1"},
		summaries: []domain.Summary{{SessionID: "sess-1"}},
	}
	srv := newTestServer(sessions, &fakeAuth{})

	w := doJSON(t, srv, http.MethodDelete, "/v1/sessions/someone-elses", nil, bearer("access"))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if sessions.revokedID != "" {
		t.Error("nothing should have been revoked")
	}
}

func TestHeartbeat_ReturnsDeadlines(t *testing.T) {
	deadline := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	sessions := &fakeSessions{
		identity: &service.IdentityContext{IdentityID: "user-1", SessionID: "sess-1"},
		activity: &service.ActivityInfo{IdleDeadline: deadline, WarnAt: deadline.Add(-5 * time.Minute)},
	}
	srv := newTestServer(sessions, &fakeAuth{})

	w := doJSON(t, srv, http.MethodPost, "/v1/sessions/heartbeat", nil, bearer("access"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp heartbeatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.IdleDeadline.Equal(deadline) {
		t.Errorf("deadline = %v, want %v", resp.IdleDeadline, deadline)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&fakeSessions{}, &fakeAuth{})
	w := doJSON(t, srv, http.MethodGet, "/healthz", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

func findCookie(t *testing.T, w *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	res := w.Result()
	defer res.Body.Close()
	for _, c := range res.Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %q not set", name)
	return nil
}
