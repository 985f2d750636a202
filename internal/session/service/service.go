// Package service implements the session lifecycle: creation under the
// concurrency ceiling, refresh rotation with reuse detection, access
// validation against the revocation ledger and the session cache, and the
// revocation operations.
package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	auditpkg "session-vault/backend/internal/audit"
	auditdomain "session-vault/backend/internal/audit/domain"
	"session-vault/backend/internal/revocation"
	"session-vault/backend/internal/security"
	"session-vault/backend/internal/session/cache"
	"session-vault/backend/internal/session/domain"
	"session-vault/backend/internal/session/repository"
	"session-vault/backend/internal/telemetry"
)

// Cache is the fast session projection the service reads on the hot path and
// rewrites on every lifecycle change.
type Cache interface {
	Get(ctx context.Context, sessionID string) (*cache.Entry, error)
	Put(ctx context.Context, e *cache.Entry) error
	Del(ctx context.Context, sessionID string) error
}

// Params configures the session lifecycle.
type Params struct {
	// RefreshTTL is the absolute session lifetime, fixed at login.
	RefreshTTL time.Duration
	// Inactivity is the idle timeout; it is also the cache entry TTL.
	Inactivity time.Duration
	// WarnBefore is how long before the idle deadline clients should warn.
	WarnBefore time.Duration
	// MaxSessions caps concurrent active sessions per identity.
	MaxSessions int
	// Grace is the window in which the immediately prior refresh credential is
	// accepted once after rotation. Zero treats every replay as theft.
	Grace time.Duration
}

// Service owns the session lifecycle.
type Service struct {
	repo    repository.Repository
	cache   Cache
	ledger  revocation.Ledger
	codec   *security.Codec
	audit   auditpkg.Recorder
	metrics *telemetry.Metrics
	params  Params

	now func() time.Time
}

// New returns a session Service. metrics may be nil.
func New(repo repository.Repository, c Cache, ledger revocation.Ledger, codec *security.Codec,
	recorder auditpkg.Recorder, metrics *telemetry.Metrics, params Params) *Service {
	return &Service{
		repo:    repo,
		cache:   c,
		ledger:  ledger,
		codec:   codec,
		audit:   recorder,
		metrics: metrics,
		params:  params,
		now:     time.Now,
	}
}

// Issued is one access/refresh credential pair.
type Issued struct {
	SessionID        string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// IdentityContext is the verified principal an access credential resolves to.
type IdentityContext struct {
	IdentityID      string
	SessionID       string
	Roles           []string
	SnapshotVersion int
}

// ActivityInfo describes the session's idle deadline after a touch.
type ActivityInfo struct {
	IdleDeadline time.Time
	WarnAt       time.Time
}

// CreateInput describes a verified login about to become a session.
type CreateInput struct {
	IdentityID string
	Roles      []string
	Device     domain.Device
}

// storeRetries bounds how often a transient store failure is retried.
const storeRetries = 2
const retryDelay = 50 * time.Millisecond

// CreateSession mints a new session and token family for a verified login.
// When the identity is at the concurrency ceiling the least recently active
// session is evicted inside the same transaction that inserts the new one.
func (s *Service) CreateSession(ctx context.Context, in CreateInput) (*Issued, error) {
	now := s.now()
	sessionID := uuid.NewString()
	familyID := uuid.NewString()
	expiresAt := now.Add(s.params.RefreshTTL)

	refresh, err := s.codec.IssueRefresh(sessionID, in.IdentityID, familyID, expiresAt)
	if err != nil {
		return nil, err
	}

	sess := &domain.Session{
		ID:             sessionID,
		IdentityID:     in.IdentityID,
		FamilyID:       familyID,
		Device:         in.Device,
		Roles:          in.Roles,
		Fingerprint:    security.Fingerprint(refresh),
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      expiresAt,
	}

	var evicted *domain.Session
	err = s.withRetry(func() error {
		var innerErr error
		evicted, innerErr = s.repo.CreateEvictingOldest(ctx, sess, s.params.MaxSessions)
		return innerErr
	})
	if err != nil {
		return nil, storeErr(err)
	}

	if evicted != nil {
		evicted.RevokedReason = domain.ReasonConcurrentLimit
		s.retire(ctx, evicted)
		s.audit.Record(ctx, auditdomain.Event{
			Action:     auditdomain.ActionSessionRevoked,
			IdentityID: evicted.IdentityID,
			SessionID:  evicted.ID,
			Reason:     string(domain.ReasonConcurrentLimit),
			Metadata:   fmt.Sprintf(`{"replaced_by":%q}`, sessionID),
		})
	}

	s.putCache(ctx, sess)

	access, accessExp, err := s.codec.IssueAccess(sessionID, in.IdentityID, in.Roles)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, auditdomain.Event{
		Action:     auditdomain.ActionSessionCreated,
		IdentityID: in.IdentityID,
		SessionID:  sessionID,
		IP:         in.Device.IP,
		Device:     in.Device.Type,
	})

	return &Issued{
		SessionID:        sessionID,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: expiresAt,
	}, nil
}

// RefreshSession exchanges a refresh credential for a new pair, rotating the
// session's fingerprint. The new refresh credential keeps the session's
// original absolute expiry. Presenting a superseded credential outside the
// grace window revokes the whole token family and returns ErrReuseDetected.
func (s *Service) RefreshSession(ctx context.Context, refreshToken string) (*Issued, error) {
	claims, err := s.codec.VerifyRefresh(refreshToken)
	if err != nil {
		s.metrics.Rotation(ctx, telemetry.OutcomeInvalid)
		return nil, err
	}
	fp := security.Fingerprint(refreshToken)

	ledgered, err := s.ledger.Contains(ctx, fp)
	if err != nil {
		s.metrics.Rotation(ctx, telemetry.OutcomeStoreFailure)
		return nil, storeErr(err)
	}

	// Two passes: a writer that loses the conditional update re-verifies from
	// a fresh load instead of retrying blind. Its credential is usually the
	// prior fingerprint by then, which the grace window settles.
	for attempt := 0; attempt < 2; attempt++ {
		sess, err := s.loadSession(ctx, claims.SessionID)
		if err != nil {
			s.metrics.Rotation(ctx, telemetry.OutcomeStoreFailure)
			return nil, err
		}
		if sess == nil {
			s.metrics.Rotation(ctx, telemetry.OutcomeInvalid)
			return nil, ErrSessionNotFound
		}
		if sess.FamilyID != claims.FamilyID {
			s.metrics.Rotation(ctx, telemetry.OutcomeInvalid)
			return nil, security.ErrInvalidCredential
		}
		now := s.now()
		if sess.RevokedAt != nil || !now.Before(sess.ExpiresAt) {
			s.metrics.Rotation(ctx, telemetry.OutcomeInvalid)
			return nil, ErrCredentialRevoked
		}
		if now.After(sess.IdleDeadline(s.params.Inactivity)) {
			s.revokeIdle(ctx, sess)
			s.metrics.Rotation(ctx, telemetry.OutcomeInvalid)
			return nil, ErrCredentialRevoked
		}

		// A ledgered fingerprint can never be the current one again; skip
		// straight to the grace check.
		if !ledgered && security.FingerprintEqual(fp, sess.Fingerprint) {
			issued, won, err := s.rotate(ctx, sess, fp, now)
			if err != nil {
				return nil, err
			}
			if won {
				return issued, nil
			}
			s.metrics.Rotation(ctx, telemetry.OutcomeLostRace)
			continue
		}

		if s.withinGrace(sess, fp, now) {
			issued, won, err := s.rotateFromPrev(ctx, sess, fp, now)
			if err != nil {
				return nil, err
			}
			if won {
				return issued, nil
			}
			// The prior fingerprint was consumed between load and update:
			// a second presentation, not a race worth re-verifying.
		}

		return nil, s.reuseDetected(ctx, claims.FamilyID, claims.SessionID, sess.IdentityID)
	}

	return nil, s.reuseDetected(ctx, claims.FamilyID, claims.SessionID, "")
}

// withinGrace reports whether fp is the session's immediately prior
// fingerprint presented inside the grace window.
func (s *Service) withinGrace(sess *domain.Session, fp string, now time.Time) bool {
	if s.params.Grace <= 0 || sess.PrevFingerprint == "" || sess.RotatedAt == nil {
		return false
	}
	if !security.FingerprintEqual(fp, sess.PrevFingerprint) {
		return false
	}
	return now.Sub(*sess.RotatedAt) <= s.params.Grace
}

func (s *Service) rotate(ctx context.Context, sess *domain.Session, fp string, now time.Time) (*Issued, bool, error) {
	next, err := s.codec.IssueRefresh(sess.ID, sess.IdentityID, sess.FamilyID, sess.ExpiresAt)
	if err != nil {
		return nil, false, err
	}
	nextFP := security.Fingerprint(next)

	var won bool
	err = s.withRetry(func() error {
		var innerErr error
		won, innerErr = s.repo.RotateFingerprint(ctx, sess.ID, fp, nextFP, now)
		return innerErr
	})
	if err != nil {
		s.metrics.Rotation(ctx, telemetry.OutcomeStoreFailure)
		return nil, false, storeErr(err)
	}
	if !won {
		return nil, false, nil
	}

	s.afterRotation(ctx, sess, fp, nextFP)
	s.metrics.Rotation(ctx, telemetry.OutcomeRotated)

	issued, err := s.issuePair(sess, next, now)
	return issued, true, err
}

func (s *Service) rotateFromPrev(ctx context.Context, sess *domain.Session, fp string, now time.Time) (*Issued, bool, error) {
	next, err := s.codec.IssueRefresh(sess.ID, sess.IdentityID, sess.FamilyID, sess.ExpiresAt)
	if err != nil {
		return nil, false, err
	}
	nextFP := security.Fingerprint(next)

	var won bool
	err = s.withRetry(func() error {
		var innerErr error
		won, innerErr = s.repo.RotateFromPrev(ctx, sess.ID, fp, nextFP, now)
		return innerErr
	})
	if err != nil {
		s.metrics.Rotation(ctx, telemetry.OutcomeStoreFailure)
		return nil, false, storeErr(err)
	}
	if !won {
		return nil, false, nil
	}

	s.afterRotation(ctx, sess, fp, nextFP)
	s.metrics.Rotation(ctx, telemetry.OutcomeGrace)

	issued, err := s.issuePair(sess, next, now)
	return issued, true, err
}

// afterRotation ledgers the superseded fingerprint, refreshes the cache entry,
// and audits the rotation. All best-effort: the conditional update already
// settled who won.
func (s *Service) afterRotation(ctx context.Context, sess *domain.Session, oldFP, newFP string) {
	entry := &revocation.Entry{
		Fingerprint: oldFP,
		Kind:        revocation.KindRefresh,
		SessionID:   sess.ID,
		IdentityID:  sess.IdentityID,
		Reason:      string(domain.ReasonRotated),
		ExpiresAt:   sess.ExpiresAt,
		CreatedAt:   s.now(),
	}
	if err := s.ledger.Add(ctx, entry); err != nil {
		log.Printf("session: ledger superseded fingerprint: %v", err)
	}

	if err := s.cache.Put(ctx, &cache.Entry{
		SessionID:   sess.ID,
		IdentityID:  sess.IdentityID,
		FamilyID:    sess.FamilyID,
		Fingerprint: newFP,
		ExpiresAt:   sess.ExpiresAt,
	}); err != nil {
		log.Printf("session: cache rotated session: %v", err)
	}

	s.audit.Record(ctx, auditdomain.Event{
		Action:     auditdomain.ActionSessionRotated,
		IdentityID: sess.IdentityID,
		SessionID:  sess.ID,
	})
}

func (s *Service) issuePair(sess *domain.Session, refresh string, now time.Time) (*Issued, error) {
	access, accessExp, err := s.codec.IssueAccess(sess.ID, sess.IdentityID, sess.Roles)
	if err != nil {
		return nil, err
	}
	return &Issued{
		SessionID:        sess.ID,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: sess.ExpiresAt,
	}, nil
}

// reuseDetected revokes the whole token family, ledgers every live
// fingerprint in it, and audits before the error surfaces. The family
// revocation must land durably: if the store stays down past the retries the
// caller gets ErrStoreUnavailable, not ErrReuseDetected, because the lineage
// is still alive. The presented credential remains superseded in the durable
// row, so a retry lands back here until the revocation sticks.
func (s *Service) reuseDetected(ctx context.Context, familyID, sessionID, identityID string) error {
	now := s.now()
	var revoked []*domain.Session
	err := s.withRetry(func() error {
		var innerErr error
		revoked, innerErr = s.repo.RevokeFamily(ctx, familyID, domain.ReasonReuseDetected, now)
		return innerErr
	})
	if err != nil {
		log.Printf("session: revoke family %s: %v", familyID, err)
		s.metrics.Rotation(ctx, telemetry.OutcomeStoreFailure)
		return storeErr(err)
	}
	for _, sess := range revoked {
		if identityID == "" {
			identityID = sess.IdentityID
		}
		s.retire(ctx, sess)
	}

	s.metrics.Rotation(ctx, telemetry.OutcomeReuse)
	s.audit.Record(ctx, auditdomain.Event{
		Action:     auditdomain.ActionReuseDetected,
		IdentityID: identityID,
		SessionID:  sessionID,
		Reason:     "superseded refresh credential presented",
		Metadata:   fmt.Sprintf(`{"family_id":%q,"sessions_revoked":%d}`, familyID, len(revoked)),
	})
	return ErrReuseDetected
}

// ValidateAccess verifies an access credential and confirms the session behind
// it is still live. The cache answers most checks; a miss falls through to the
// durable store, which settles idle-out versus cache loss.
func (s *Service) ValidateAccess(ctx context.Context, accessToken string) (*IdentityContext, error) {
	claims, err := s.codec.VerifyAccess(accessToken)
	if err != nil {
		return nil, err
	}

	revoked, err := s.ledger.Contains(ctx, security.Fingerprint(accessToken))
	if err != nil {
		return nil, storeErr(err)
	}
	if revoked {
		return nil, ErrCredentialRevoked
	}

	ident := &IdentityContext{
		IdentityID:      claims.Subject,
		SessionID:       claims.SessionID,
		Roles:           claims.Snapshot.Roles,
		SnapshotVersion: claims.Snapshot.Version,
	}

	entry, err := s.cache.Get(ctx, claims.SessionID)
	if err != nil {
		log.Printf("session: cache get: %v", err)
	}
	if entry != nil {
		return ident, nil
	}
	s.metrics.CacheMiss(ctx)

	sess, err := s.loadSession(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	now := s.now()
	if sess.RevokedAt != nil || !now.Before(sess.ExpiresAt) {
		return nil, ErrCredentialRevoked
	}
	if now.After(sess.IdleDeadline(s.params.Inactivity)) {
		s.revokeIdle(ctx, sess)
		return nil, ErrCredentialRevoked
	}

	// The durable row says the session is live; the entry was lost, not idled
	// out. Rebuild it and count the validation as activity so the durable
	// record matches the fresh TTL.
	if err := s.repo.TouchActivity(ctx, sess.ID, now); err != nil {
		log.Printf("session: touch on rehydrate: %v", err)
	}
	s.putCache(ctx, sess)
	s.metrics.Rehydration(ctx)
	return ident, nil
}

// ListSessions returns the identity's active sessions, oldest activity first,
// with the caller's own session flagged. Sessions past their idle deadline are
// omitted even before the reaper catches them.
func (s *Service) ListSessions(ctx context.Context, identityID, currentSessionID string) ([]domain.Summary, error) {
	sessions, err := s.repo.ListActiveByIdentity(ctx, identityID)
	if err != nil {
		return nil, storeErr(err)
	}
	now := s.now()
	out := make([]domain.Summary, 0, len(sessions))
	for _, sess := range sessions {
		if now.After(sess.IdleDeadline(s.params.Inactivity)) {
			continue
		}
		out = append(out, sess.Summarize(currentSessionID))
	}
	return out, nil
}

// RevokeSession revokes one session. Revoking an already-revoked session is a
// no-op success. actor is who asked: the identity, an admin, or "system".
func (s *Service) RevokeSession(ctx context.Context, sessionID string, reason domain.RevocationReason, actor string) error {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrSessionNotFound
	}
	if sess.RevokedAt != nil {
		return nil
	}

	won, err := s.repo.Revoke(ctx, sessionID, reason, actor, s.now())
	if err != nil {
		return storeErr(err)
	}
	if !won {
		// Lost to a concurrent revocation; the outcome stands.
		return nil
	}

	sess.RevokedReason = reason
	s.retire(ctx, sess)
	s.audit.Record(ctx, auditdomain.Event{
		Action:     auditdomain.ActionSessionRevoked,
		IdentityID: sess.IdentityID,
		SessionID:  sessionID,
		Reason:     string(reason),
	})
	return nil
}

// RevokeAllSessions revokes every active session for the identity except
// exceptSessionID (empty revokes all). Returns how many were revoked.
func (s *Service) RevokeAllSessions(ctx context.Context, identityID, exceptSessionID string, reason domain.RevocationReason, actor string) (int, error) {
	revoked, err := s.repo.RevokeAllByIdentity(ctx, identityID, exceptSessionID, reason, actor, s.now())
	if err != nil {
		return 0, storeErr(err)
	}
	for _, sess := range revoked {
		s.retire(ctx, sess)
	}
	s.audit.Record(ctx, auditdomain.Event{
		Action:     auditdomain.ActionSessionRevoked,
		IdentityID: identityID,
		Reason:     string(reason),
		Metadata:   fmt.Sprintf(`{"sessions_revoked":%d,"kept":%q}`, len(revoked), exceptSessionID),
	})
	return len(revoked), nil
}

// ExtendActivity records activity for the session, pushing its idle deadline
// out, and reports the new deadline and when clients should start warning.
func (s *Service) ExtendActivity(ctx context.Context, sessionID string) (*ActivityInfo, error) {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	now := s.now()
	if sess.RevokedAt != nil || !now.Before(sess.ExpiresAt) {
		return nil, ErrCredentialRevoked
	}
	if now.After(sess.IdleDeadline(s.params.Inactivity)) {
		s.revokeIdle(ctx, sess)
		return nil, ErrCredentialRevoked
	}

	if err := s.repo.TouchActivity(ctx, sessionID, now); err != nil {
		return nil, storeErr(err)
	}
	sess.LastActivityAt = now
	s.putCache(ctx, sess)

	deadline := now.Add(s.params.Inactivity)
	return &ActivityInfo{
		IdleDeadline: deadline,
		WarnAt:       deadline.Add(-s.params.WarnBefore),
	}, nil
}

// revokeIdle retires a session whose inactivity window elapsed.
func (s *Service) revokeIdle(ctx context.Context, sess *domain.Session) {
	won, err := s.repo.Revoke(ctx, sess.ID, domain.ReasonIdleTimeout, "system", s.now())
	if err != nil {
		log.Printf("session: revoke idle %s: %v", sess.ID, err)
		return
	}
	if !won {
		return
	}
	sess.RevokedReason = domain.ReasonIdleTimeout
	s.retire(ctx, sess)
	s.audit.Record(ctx, auditdomain.Event{
		Action:     auditdomain.ActionSessionRevoked,
		IdentityID: sess.IdentityID,
		SessionID:  sess.ID,
		Reason:     string(domain.ReasonIdleTimeout),
	})
}

// retire ledgers a revoked session's live fingerprint and drops its cache
// entry. Best-effort: the durable revocation already landed.
func (s *Service) retire(ctx context.Context, sess *domain.Session) {
	reason := sess.RevokedReason
	if reason == "" {
		reason = domain.ReasonAdminRevoke
	}
	entry := &revocation.Entry{
		Fingerprint: sess.Fingerprint,
		Kind:        revocation.KindRefresh,
		SessionID:   sess.ID,
		IdentityID:  sess.IdentityID,
		Reason:      string(reason),
		ExpiresAt:   sess.ExpiresAt,
		CreatedAt:   s.now(),
	}
	if err := s.ledger.Add(ctx, entry); err != nil {
		log.Printf("session: ledger revoked fingerprint: %v", err)
	}
	if sess.PrevFingerprint != "" {
		prev := *entry
		prev.Fingerprint = sess.PrevFingerprint
		if err := s.ledger.Add(ctx, &prev); err != nil {
			log.Printf("session: ledger prior fingerprint: %v", err)
		}
	}
	if err := s.cache.Del(ctx, sess.ID); err != nil {
		log.Printf("session: drop cache entry: %v", err)
	}
	s.metrics.Revocation(ctx, string(reason))
}

func (s *Service) putCache(ctx context.Context, sess *domain.Session) {
	if err := s.cache.Put(ctx, &cache.Entry{
		SessionID:   sess.ID,
		IdentityID:  sess.IdentityID,
		FamilyID:    sess.FamilyID,
		Fingerprint: sess.Fingerprint,
		ExpiresAt:   sess.ExpiresAt,
	}); err != nil {
		log.Printf("session: cache session %s: %v", sess.ID, err)
	}
}

// loadSession reads the durable row with a bounded retry for transient failures.
func (s *Service) loadSession(ctx context.Context, id string) (*domain.Session, error) {
	var sess *domain.Session
	err := s.withRetry(func() error {
		var innerErr error
		sess, innerErr = s.repo.GetByID(ctx, id)
		return innerErr
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return sess, nil
}

func (s *Service) withRetry(fn func() error) error {
	var err error
	for i := 0; i < storeRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < storeRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	return err
}
