package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"session-vault/backend/internal/audit/domain"
)

const opTimeout = 3 * time.Second

// PostgresRepository persists audit events to the audit_log table.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns an audit repository backed by the given pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Create persists one audit event.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.Event) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_log (id, action, identity_id, session_id, ip_address, device, reason, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.Action, e.IdentityID, e.SessionID, e.IP, e.Device, e.Reason, e.Metadata, e.CreatedAt)
	return err
}

// ListByIdentity returns the most recent events for an identity, newest first.
func (r *PostgresRepository) ListByIdentity(ctx context.Context, identityID string, limit int) ([]*domain.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, action, identity_id, session_id, ip_address, device, reason, metadata, created_at
		FROM audit_log
		WHERE identity_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, identityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.Action, &e.IdentityID, &e.SessionID, &e.IP, &e.Device, &e.Reason, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
