package gate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"session-vault/backend/internal/security"
)

// Identity is the verified principal a successful login yields.
type Identity struct {
	ID    string
	Email string
	Roles []string
}

// IdentityVerifier checks a primary credential. Implementations must return
// ErrBadCredentials for unknown accounts and wrong passwords alike, and must
// take comparable time on both paths.
type IdentityVerifier interface {
	Verify(ctx context.Context, email, password string) (*Identity, error)
}

// MFAChallenger issues a second-factor challenge after the primary credential
// verifies. A nil challenger means passwords alone complete the login.
type MFAChallenger interface {
	// Required reports whether the identity has a second factor enrolled.
	Required(ctx context.Context, identityID string) (bool, error)
	// Challenge starts a challenge and returns an opaque reference the client
	// completes out of band.
	Challenge(ctx context.Context, identityID string) (string, error)
}

// rowQuerier is the slice of pgxpool.Pool the verifier needs.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// secretHasher is the slice of security.Hasher the verifier needs. The dummy
// compare must burn the same work as a real one.
type secretHasher interface {
	Compare(hash string, secret []byte) error
	DummyCompare(secret []byte)
}

// PostgresVerifier verifies against the identities table with bcrypt.
type PostgresVerifier struct {
	pool   rowQuerier
	hasher secretHasher
}

// NewPostgresVerifier returns a verifier over the given pool.
func NewPostgresVerifier(pool *pgxpool.Pool, hasher *security.Hasher) *PostgresVerifier {
	return &PostgresVerifier{pool: pool, hasher: hasher}
}

func (v *PostgresVerifier) Verify(ctx context.Context, email, password string) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var id, hash, roles string
	row := v.pool.QueryRow(ctx,
		`SELECT id, password_hash, roles FROM identities WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)))
	if err := row.Scan(&id, &hash, &roles); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Burn a compare so an unknown account costs as much as a wrong password.
			v.hasher.DummyCompare([]byte(password))
			return nil, ErrBadCredentials
		}
		return nil, err
	}
	if err := v.hasher.Compare(hash, []byte(password)); err != nil {
		return nil, ErrBadCredentials
	}
	ident := &Identity{ID: id, Email: email}
	if roles != "" {
		ident.Roles = strings.Split(roles, ",")
	}
	return ident, nil
}
