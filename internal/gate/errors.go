package gate

import (
	"errors"
	"fmt"
	"time"
)

// ErrBadCredentials is the single denial returned for unknown accounts and
// wrong passwords alike. Callers must not leak which case occurred.
var ErrBadCredentials = errors.New("invalid email or password")

// RateLimitedError is returned when an attempt window is exhausted.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many attempts, retry after %s", e.RetryAfter.Round(time.Second))
}

// AccountLockedError is returned while a lockout is in force.
type AccountLockedError struct {
	RetryAfter time.Duration
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked, retry after %s", e.RetryAfter.Round(time.Second))
}
