// Package repository persists audit events.
package repository

import (
	"context"

	"session-vault/backend/internal/audit/domain"
)

// Repository is the durable audit log.
type Repository interface {
	Create(ctx context.Context, e *domain.Event) error
	ListByIdentity(ctx context.Context, identityID string, limit int) ([]*domain.Event, error)
}
