package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"session-vault/backend/internal/session/domain"
)

// opTimeout bounds every store operation so callers never hang on a slow database.
const opTimeout = 3 * time.Second

const sessionColumns = `id, identity_id, family_id, device_id, device_type, user_agent, geo, ip_address,
	roles, fingerprint, COALESCE(prev_fingerprint, ''), rotated_at,
	created_at, last_activity_at, expires_at,
	revoked_at, COALESCE(revoked_reason, ''), COALESCE(revoked_by, '')`

// PostgresRepository persists sessions with hand-written SQL over pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns a session repository backed by the given pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var s domain.Session
	var reason, roles string
	err := row.Scan(
		&s.ID, &s.IdentityID, &s.FamilyID,
		&s.Device.ID, &s.Device.Type, &s.Device.UserAgent, &s.Device.Geo, &s.Device.IP,
		&roles, &s.Fingerprint, &s.PrevFingerprint, &s.RotatedAt,
		&s.CreatedAt, &s.LastActivityAt, &s.ExpiresAt,
		&s.RevokedAt, &reason, &s.RevokedBy,
	)
	if err != nil {
		return nil, err
	}
	if roles != "" {
		s.Roles = strings.Split(roles, ",")
	}
	s.RevokedReason = domain.RevocationReason(reason)
	return &s, nil
}

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// CreateEvictingOldest inserts the session inside one transaction that first
// counts active rows for the identity FOR UPDATE and revokes the oldest by
// last activity when the ceiling is reached.
func (r *PostgresRepository) CreateEvictingOldest(ctx context.Context, s *domain.Session, maxActive int) (*domain.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE identity_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY last_activity_at ASC
		FOR UPDATE`, s.IdentityID, s.CreatedAt)
	if err != nil {
		return nil, err
	}
	active, err := collectSessions(rows)
	if err != nil {
		return nil, err
	}

	var evicted *domain.Session
	if maxActive > 0 && len(active) >= maxActive {
		evicted = active[0]
		_, err = tx.Exec(ctx, `
			UPDATE sessions
			SET revoked_at = $2, revoked_reason = $3, revoked_by = 'system'
			WHERE id = $1 AND revoked_at IS NULL`,
			evicted.ID, s.CreatedAt, string(domain.ReasonConcurrentLimit))
		if err != nil {
			return nil, err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO sessions (id, identity_id, family_id, device_id, device_type, user_agent, geo, ip_address,
			roles, fingerprint, created_at, last_activity_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		s.ID, s.IdentityID, s.FamilyID,
		s.Device.ID, s.Device.Type, s.Device.UserAgent, s.Device.Geo, s.Device.IP,
		strings.Join(s.Roles, ","), s.Fingerprint, s.CreatedAt, s.LastActivityAt, s.ExpiresAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return evicted, nil
}

// RotateFingerprint is the optimistic-concurrency update at the heart of
// rotation: the fingerprint is the index, the row is the slot, and only the
// writer holding the expected prior value wins.
func (r *PostgresRepository) RotateFingerprint(ctx context.Context, sessionID, expected, next string, at time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions
		SET prev_fingerprint = fingerprint, fingerprint = $3, rotated_at = $4, last_activity_at = $4
		WHERE id = $1 AND fingerprint = $2 AND revoked_at IS NULL`,
		sessionID, expected, next, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RotateFromPrev accepts the immediately prior fingerprint once: the update
// clears prev_fingerprint so a second presentation cannot succeed.
func (r *PostgresRepository) RotateFromPrev(ctx context.Context, sessionID, presented, next string, at time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions
		SET fingerprint = $3, prev_fingerprint = NULL, rotated_at = $4, last_activity_at = $4
		WHERE id = $1 AND prev_fingerprint = $2 AND revoked_at IS NULL`,
		sessionID, presented, next, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// TouchActivity sets the session's last activity for the given id.
func (r *PostgresRepository) TouchActivity(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_, err := r.pool.Exec(ctx, `
		UPDATE sessions SET last_activity_at = $2
		WHERE id = $1 AND revoked_at IS NULL`, id, at)
	return err
}

// Revoke marks the session revoked. A second revocation is a no-op (false, nil).
func (r *PostgresRepository) Revoke(ctx context.Context, id string, reason domain.RevocationReason, actor string, at time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions
		SET revoked_at = $2, revoked_reason = $3, revoked_by = $4
		WHERE id = $1 AND revoked_at IS NULL`,
		id, at, string(reason), actor)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RevokeFamily revokes every active session in the family and returns them
// with the fingerprints they held, for ledgering.
func (r *PostgresRepository) RevokeFamily(ctx context.Context, familyID string, reason domain.RevocationReason, at time.Time) ([]*domain.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	rows, err := r.pool.Query(ctx, `
		UPDATE sessions
		SET revoked_at = $2, revoked_reason = $3, revoked_by = 'system'
		WHERE family_id = $1 AND revoked_at IS NULL
		RETURNING `+sessionColumns, familyID, at, string(reason))
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

// RevokeAllByIdentity revokes every active session for the identity except exceptID.
func (r *PostgresRepository) RevokeAllByIdentity(ctx context.Context, identityID, exceptID string, reason domain.RevocationReason, actor string, at time.Time) ([]*domain.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	rows, err := r.pool.Query(ctx, `
		UPDATE sessions
		SET revoked_at = $2, revoked_reason = $3, revoked_by = $4
		WHERE identity_id = $1 AND revoked_at IS NULL AND ($5 = '' OR id <> $5)
		RETURNING `+sessionColumns, identityID, at, string(reason), actor, exceptID)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

// ListActiveByIdentity returns active sessions ordered by last activity ascending.
func (r *PostgresRepository) ListActiveByIdentity(ctx context.Context, identityID string) ([]*domain.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE identity_id = $1 AND revoked_at IS NULL AND expires_at > now()
		ORDER BY last_activity_at ASC`, identityID)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func collectSessions(rows pgx.Rows) ([]*domain.Session, error) {
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
