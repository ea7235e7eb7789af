package service

import (
	"errors"

	"github.com/acetrade/session-bridge/internal/repository"
)

// Outcomes returned by the security services.  Callers match them with
// errors.Is and decide the user-facing wording themselves.
var (
	// ErrNotFound means the referenced user or session does not exist.
	ErrNotFound = repository.ErrNotFound
	// ErrTransient means the datastore was unreachable or timed out.
	// Safe to retry.
	ErrTransient = repository.ErrTransient

	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrInvalidToken      = errors.New("invalid session token")
	ErrExpiredToken      = errors.New("session token expired")
	ErrAlreadyUsed       = errors.New("session token already used")
	ErrInvalidTwoFACode  = errors.New("invalid 2fa code")
	ErrTwoFARequired     = errors.New("2fa must be enabled")
	ErrAccountLocked     = errors.New("account is locked")
	ErrTooManyAttempts   = errors.New("too many failed attempts")
	ErrInvalidTier       = errors.New("invalid tier")
	ErrInvalidAction     = errors.New("invalid 2fa action")

	ErrTwoFAAlreadyEnabled  = errors.New("2fa already enabled")
	ErrEnrollmentNotStarted = errors.New("2fa enrollment not started")

	// ErrConflict means a generated unique value collided repeatedly.
	// The caller may retry the whole operation.
	ErrConflict = errors.New("conflict")
)

// IsRetryable reports whether err may be retried automatically.  Only
// transient datastore failures and generation conflicts qualify; every
// other outcome is definitive.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrConflict)
}
