// Package security implements the credential codec: signing and verification
// of access and refresh credentials, fingerprinting, key loading, and the
// bcrypt hasher used by the login gate.
package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidCredential is returned when a credential is malformed, carries a
	// bad signature, or names the wrong issuer/audience.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrExpiredCredential is returned when a credential's absolute expiry has passed.
	ErrExpiredCredential = errors.New("expired credential")
)

// RoleSnapshot is the fixed, versioned permission record embedded in access
// credentials. Decoders switch on Version; they never reflect over ad hoc claim bags.
type RoleSnapshot struct {
	Version int      `json:"v"`
	Roles   []string `json:"roles,omitempty"`
}

// RoleSnapshotVersion is the snapshot schema version written by this codec.
const RoleSnapshotVersion = 1

// AccessClaims holds the claims of an access credential.
type AccessClaims struct {
	jwt.RegisteredClaims
	SessionID string       `json:"session_id"`
	Snapshot  RoleSnapshot `json:"snapshot"`
}

// RefreshClaims holds the claims of a refresh credential. FamilyID ties every
// credential in one rotation lineage back to the login that started it.
type RefreshClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
	FamilyID  string `json:"family_id"`
}

// Codec issues and verifies signed access and refresh credentials using RS256
// or ES256. It is stateless; session liveness is the caller's concern.
type Codec struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	accessTTL  time.Duration
}

// NewCodec returns a Codec that signs with the given private key (RS256 or ES256).
// issuer and audience are set on claims and validated on verify.
func NewCodec(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL time.Duration) *Codec {
	return &Codec{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
	}
}

// IssueAccess issues a short-lived access credential for the given session and
// identity, embedding the role snapshot. Returns the token and its expiry.
func (c *Codec) IssueAccess(sessionID, identityID string, roles []string) (token string, expiresAt time.Time, err error) {
	jti, err := randomID()
	if err != nil {
		return "", time.Time{}, err
	}
	now := time.Now().UTC()
	expiresAt = now.Add(c.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   identityID,
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		SessionID: sessionID,
		Snapshot:  RoleSnapshot{Version: RoleSnapshotVersion, Roles: roles},
	}
	token, err = c.sign(claims)
	return token, expiresAt, err
}

// IssueRefresh issues a refresh credential for the given session, identity,
// and family, expiring exactly at expiresAt. Rotation passes the session's
// absolute expiry here so a rotated credential never outlives the original lineage.
func (c *Codec) IssueRefresh(sessionID, identityID, familyID string, expiresAt time.Time) (string, error) {
	jti, err := randomID()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   identityID,
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt.UTC()),
		},
		SessionID: sessionID,
		FamilyID:  familyID,
	}
	return c.sign(claims)
}

func (c *Codec) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch c.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidCredential
	}
	t := jwt.NewWithClaims(method, claims)
	return t.SignedString(c.privateKey)
}

func (c *Codec) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
		return c.publicKey, nil
	default:
		return nil, ErrInvalidCredential
	}
}

// VerifyAccess parses and verifies an access credential (signature, exp, iss, aud).
// Expired credentials return ErrExpiredCredential; everything else invalid
// returns ErrInvalidCredential.
func (c *Codec) VerifyAccess(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, c.keyFunc,
		jwt.WithIssuer(c.issuer), jwt.WithAudience(c.audience))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredCredential
		}
		return nil, ErrInvalidCredential
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidCredential
	}
	return claims, nil
}

// VerifyRefresh parses and verifies a refresh credential (signature, exp, iss, aud).
// A verified refresh credential is still meaningless without a matching active
// session; the rotation engine performs that check.
func (c *Codec) VerifyRefresh(tokenString string) (*RefreshClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &RefreshClaims{}, c.keyFunc,
		jwt.WithIssuer(c.issuer), jwt.WithAudience(c.audience))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredCredential
		}
		return nil, ErrInvalidCredential
	}
	claims, ok := token.Claims.(*RefreshClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidCredential
	}
	if claims.SessionID == "" || claims.FamilyID == "" {
		return nil, ErrInvalidCredential
	}
	return claims, nil
}

func randomID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
