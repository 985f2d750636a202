// Package gate is the login front door: windowed rate limits per email and per
// source IP, and an account lockout that trips after repeated failures.
//
// Counters are ephemeral and live only in the counter store; losing them
// resets the windows, never the lockout semantics of a window still standing.
// Every denial the gate returns to a client is generic. The specific reason
// goes to the audit log only.
package gate

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"session-vault/backend/internal/audit"
	auditdomain "session-vault/backend/internal/audit/domain"
	"session-vault/backend/internal/telemetry"
)

const (
	emailKeyPrefix = "sv:gate:email:"
	ipKeyPrefix    = "sv:gate:ip:"
	failKeyPrefix  = "sv:gate:fails:"
	lockKeyPrefix  = "sv:gate:lock:"
)

// Limits configures the gate's windows and ceilings.
type Limits struct {
	EmailWindow   time.Duration
	EmailMax      int
	IPWindow      time.Duration
	IPMax         int
	LockWindow    time.Duration
	LockThreshold int
	LockDuration  time.Duration
}

// Gate sequences the login checks: lockout, per-email window, per-IP window,
// then credential verification.
type Gate struct {
	counters CounterStore
	verifier IdentityVerifier
	audit    audit.Recorder
	metrics  *telemetry.Metrics
	limits   Limits

	now func() time.Time
}

// New returns a Gate. metrics may be nil.
func New(counters CounterStore, verifier IdentityVerifier, recorder audit.Recorder, metrics *telemetry.Metrics, limits Limits) *Gate {
	return &Gate{
		counters: counters,
		verifier: verifier,
		audit:    recorder,
		metrics:  metrics,
		limits:   limits,
		now:      time.Now,
	}
}

// Authenticate runs one login attempt. On success it returns the verified
// identity and resets the account's windows; the IP window keeps counting.
// Denials are ErrBadCredentials, *RateLimitedError, or *AccountLockedError.
func (g *Gate) Authenticate(ctx context.Context, email, password, ip string) (*Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	if remaining := g.lockedFor(ctx, email); remaining > 0 {
		g.deny(ctx, email, ip, "account_locked")
		g.metrics.GateDecision(ctx, telemetry.DecisionLocked)
		return nil, &AccountLockedError{RetryAfter: remaining}
	}

	if retryAfter, limited := g.overLimit(ctx, emailKeyPrefix+email, g.limits.EmailWindow, g.limits.EmailMax); limited {
		g.deny(ctx, email, ip, "rate_limited_email")
		g.metrics.GateDecision(ctx, telemetry.DecisionRateLimited)
		return nil, &RateLimitedError{RetryAfter: retryAfter}
	}
	if retryAfter, limited := g.overLimit(ctx, ipKeyPrefix+ip, g.limits.IPWindow, g.limits.IPMax); limited {
		g.deny(ctx, email, ip, "rate_limited_ip")
		g.metrics.GateDecision(ctx, telemetry.DecisionRateLimited)
		return nil, &RateLimitedError{RetryAfter: retryAfter}
	}

	ident, err := g.verifier.Verify(ctx, email, password)
	if err != nil {
		if errors.Is(err, ErrBadCredentials) {
			g.recordFailure(ctx, email, ip)
			g.deny(ctx, email, ip, "bad_credentials")
			g.metrics.GateDecision(ctx, telemetry.DecisionDenied)
			return nil, ErrBadCredentials
		}
		return nil, err
	}

	// A successful login clears the account's windows. The IP window stays:
	// one valid account must not launder an address spraying many others.
	if err := g.counters.Reset(ctx, emailKeyPrefix+email); err != nil {
		log.Printf("gate: reset email counter: %v", err)
	}
	if err := g.counters.Reset(ctx, failKeyPrefix+email); err != nil {
		log.Printf("gate: reset failure counter: %v", err)
	}
	g.metrics.GateDecision(ctx, telemetry.DecisionAllowed)
	return ident, nil
}

// lockedFor returns the remaining lockout for the account, zero when unlocked.
// A counter-store failure degrades to unlocked; the bcrypt compare still gates.
func (g *Gate) lockedFor(ctx context.Context, email string) time.Duration {
	remaining, err := g.counters.Locked(ctx, lockKeyPrefix+email)
	if err != nil {
		log.Printf("gate: lockout check: %v", err)
		return 0
	}
	return remaining
}

// overLimit reports whether a windowed counter has used up its budget, with
// the time until the window resets. The counter itself only moves on failed
// attempts, in recordFailure. A counter-store failure degrades open; the
// bcrypt compare still gates.
func (g *Gate) overLimit(ctx context.Context, key string, window time.Duration, max int) (time.Duration, bool) {
	if max <= 0 {
		return 0, false
	}
	n, err := g.counters.Count(ctx, key)
	if err != nil {
		log.Printf("gate: read %s: %v", key, err)
		return 0, false
	}
	if n < int64(max) {
		return 0, false
	}
	retryAfter, err := g.counters.TTL(ctx, key)
	if err != nil || retryAfter <= 0 {
		retryAfter = window
	}
	return retryAfter, true
}

func (g *Gate) countAttempt(ctx context.Context, key string, window time.Duration) {
	if _, err := g.counters.Incr(ctx, key, window); err != nil {
		log.Printf("gate: increment %s: %v", key, err)
	}
}

// recordFailure counts a bad credential against the email and IP windows and
// toward the lockout, tripping it at the threshold. Successful logins never
// consume window budget.
func (g *Gate) recordFailure(ctx context.Context, email, ip string) {
	g.countAttempt(ctx, emailKeyPrefix+email, g.limits.EmailWindow)
	g.countAttempt(ctx, ipKeyPrefix+ip, g.limits.IPWindow)
	fails, err := g.counters.Incr(ctx, failKeyPrefix+email, g.limits.LockWindow)
	if err != nil {
		log.Printf("gate: increment failures: %v", err)
		return
	}
	if g.limits.LockThreshold <= 0 || fails < int64(g.limits.LockThreshold) {
		return
	}
	if err := g.counters.Lock(ctx, lockKeyPrefix+email, g.limits.LockDuration); err != nil {
		log.Printf("gate: set lockout: %v", err)
		return
	}
	g.metrics.GateDecision(ctx, telemetry.DecisionLocked)
	g.audit.Record(ctx, auditdomain.Event{
		Action:     auditdomain.ActionLockoutTriggered,
		IdentityID: email,
		IP:         ip,
		Reason:     "failure threshold reached",
	})
}

func (g *Gate) deny(ctx context.Context, email, ip, reason string) {
	g.audit.Record(ctx, auditdomain.Event{
		Action:     auditdomain.ActionLoginDenied,
		IdentityID: email,
		IP:         ip,
		Reason:     reason,
	})
}
