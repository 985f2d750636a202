package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Fingerprint returns a SHA-256 hash of the credential string, hex-encoded.
// Stored and compared in place of the raw credential, which is never persisted.
func Fingerprint(credential string) string {
	h := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(h[:])
}

// FingerprintEqual performs constant-time comparison of two fingerprints.
func FingerprintEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
