// Package repository defines persistence for sessions.
package repository

import (
	"context"
	"time"

	"session-vault/backend/internal/session/domain"
)

// Repository is the durable session store. Implementations bound every
// operation with a timeout; callers treat failures as transient.
type Repository interface {
	// GetByID returns the session for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.Session, error)

	// CreateEvictingOldest inserts s, first revoking the oldest active session
	// (by last activity) for the same identity when the active count is at or
	// above maxActive. The count-and-evict-then-insert sequence runs in one
	// transaction so two concurrent logins cannot both skip eviction.
	// Returns the evicted session, or nil if none was evicted.
	CreateEvictingOldest(ctx context.Context, s *domain.Session, maxActive int) (*domain.Session, error)

	// RotateFingerprint conditionally replaces the current fingerprint: it
	// succeeds only if the stored fingerprint still equals expected and the
	// session is unrevoked. The superseded fingerprint is kept as the prior
	// one for the grace window. Returns false if the conditional update lost.
	RotateFingerprint(ctx context.Context, sessionID, expected, next string, at time.Time) (bool, error)

	// RotateFromPrev performs the grace-window variant: it succeeds only if
	// the stored prior fingerprint equals presented, and clears it so the
	// grace path is single-use.
	RotateFromPrev(ctx context.Context, sessionID, presented, next string, at time.Time) (bool, error)

	// TouchActivity sets last_activity_at for an active session.
	TouchActivity(ctx context.Context, id string, at time.Time) error

	// Revoke marks the session revoked. Already-revoked sessions are left
	// untouched and reported with false; revocation is idempotent.
	Revoke(ctx context.Context, id string, reason domain.RevocationReason, actor string, at time.Time) (bool, error)

	// RevokeFamily revokes every active session in the token family and
	// returns them (with their pre-revocation fingerprints) so the caller can
	// ledger each one.
	RevokeFamily(ctx context.Context, familyID string, reason domain.RevocationReason, at time.Time) ([]*domain.Session, error)

	// RevokeAllByIdentity revokes every active session for the identity except
	// exceptID (empty revokes all) and returns the revoked sessions.
	RevokeAllByIdentity(ctx context.Context, identityID, exceptID string, reason domain.RevocationReason, actor string, at time.Time) ([]*domain.Session, error)

	// ListActiveByIdentity returns active sessions ordered by last activity ascending.
	ListActiveByIdentity(ctx context.Context, identityID string) ([]*domain.Session, error)
}
