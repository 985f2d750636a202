package service

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a credential refers to no session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrCredentialRevoked is returned when the session behind a structurally
	// valid credential has been revoked, idled out, or reached absolute expiry.
	ErrCredentialRevoked = errors.New("credential revoked")
	// ErrReuseDetected is returned when a superseded refresh credential is
	// presented outside the grace window. The whole token family is revoked
	// before this error surfaces.
	ErrReuseDetected = errors.New("refresh credential reuse detected")
	// ErrStoreUnavailable marks a transient infrastructure failure. It is never
	// a statement about the credential.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
