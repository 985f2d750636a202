package revocation

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const opTimeout = 3 * time.Second

// PostgresLedger is the durable revocation record.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger returns a ledger backed by the given pool.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

// Add inserts the entry. Re-adding a fingerprint is a no-op; the first reason wins.
func (l *PostgresLedger) Add(ctx context.Context, e *Entry) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := l.pool.Exec(ctx, `
		INSERT INTO revocation_entries (fingerprint, kind, session_id, identity_id, reason, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (fingerprint) DO NOTHING`,
		e.Fingerprint, string(e.Kind), e.SessionID, e.IdentityID, e.Reason, e.ExpiresAt, e.CreatedAt)
	return err
}

// Contains reports whether the fingerprint has been revoked.
func (l *PostgresLedger) Contains(ctx context.Context, fingerprint string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	var exists bool
	err := l.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM revocation_entries WHERE fingerprint = $1)`,
		fingerprint).Scan(&exists)
	return exists, err
}

// PurgeExpired deletes entries whose original credential expiry has passed.
// Entries are never deleted earlier.
func (l *PostgresLedger) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	tag, err := l.pool.Exec(ctx,
		`DELETE FROM revocation_entries WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
