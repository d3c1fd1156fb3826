package service

import (
	"errors"
	"fmt"
)

// Business failures.  They are expected control flow: callers map them
// to responses and never log them as errors.
var (
	// ErrInvalidCredentials covers both "no such user" and "wrong password".
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountInactive    = errors.New("account is deactivated")
	ErrAccountUnverified  = errors.New("email address has not been verified")
	// ErrInvalidToken covers unknown, expired, revoked, used and malformed
	// tokens alike, so responses do not reveal token state.
	ErrInvalidToken     = errors.New("invalid or expired token")
	ErrNotOwner         = errors.New("token does not belong to this user")
	ErrDuplicateEmail   = errors.New("email is already registered")
	ErrWeakPassword     = errors.New("password does not meet the policy")
	ErrBreachedPassword = errors.New("password appears in a known data breach")
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
)

// ErrStoreUnavailable is returned by the rate limiter when its counter
// store cannot be reached and the limiter is configured to fail closed.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// RateLimitedError reports a denied admission check.  RetryAfter is in
// seconds.
type RateLimitedError struct {
	KeyType    string
	RetryAfter int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited on %s, retry after %ds", e.KeyType, e.RetryAfter)
}

// AsRateLimited unwraps a *RateLimitedError from err.
func AsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
