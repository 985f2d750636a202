package security

import (
	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes and verifies secrets using bcrypt. The login gate also uses it
// for the dummy compare that equalizes response time when an account is unknown.
type Hasher struct {
	Cost int
}

// NewHasher returns a Hasher with the given bcrypt cost (4-31). Cost 12 is a
// reasonable default for interactive login.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{Cost: cost}
}

// Hash produces a bcrypt hash of secret, suitable for storage.
func (h *Hasher) Hash(secret []byte) (string, error) {
	b, err := bcrypt.GenerateFromPassword(secret, h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare verifies secret against the stored hash. Returns nil on match.
func (h *Hasher) Compare(hash string, secret []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), secret)
}

// DummyCompare burns the same work as a real compare against a fixed hash.
// Called on the unknown-account path so "no such account" and "wrong secret"
// take comparable time.
func (h *Hasher) DummyCompare(secret []byte) {
	_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), secret)
}

// bcrypt hash of an unguessable throwaway value; only its cost matters.
const dummyHash = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"
