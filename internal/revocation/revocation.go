// Package revocation records individually invalidated credentials by
// fingerprint so they are rejected before their natural expiry.
package revocation

import (
	"context"
	"time"
)

// Kind distinguishes which credential a ledger entry invalidates.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Entry is one revoked credential. ExpiresAt is the credential's original
// expiry; the entry must be retained at least until then and is only
// garbage-collected after.
type Entry struct {
	Fingerprint string
	Kind        Kind
	SessionID   string
	IdentityID  string
	Reason      string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// Ledger is the revocation record. Add is durable-first; Contains is on the
// hot path of every validation and rotation.
type Ledger interface {
	Add(ctx context.Context, e *Entry) error
	Contains(ctx context.Context, fingerprint string) (bool, error)
	// PurgeExpired deletes entries whose original expiry passed before now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
