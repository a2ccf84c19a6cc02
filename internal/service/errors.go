package service

import "errors"

// Boundary errors. Handlers map these onto stable machine-readable response
// codes; anything else surfaces as a generic retryable server error.
var (
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrInvalidCode           = errors.New("invalid verification code")
	ErrTwoFactorNotEnabled   = errors.New("two-factor authentication not enabled")
	ErrInvalidOperation      = errors.New("operation not valid in current state")
	ErrCurrentSession        = errors.New("cannot revoke current session")
	ErrNoCurrentSession      = errors.New("no current session")
	ErrRateLimited           = errors.New("rate limit exceeded")
	ErrAttemptsExceeded      = errors.New("maximum attempts reached")
	ErrEmailNotVerified      = errors.New("email not verified")
	ErrEmailTaken            = errors.New("email already registered")
	ErrResetCooldown         = errors.New("password can be reset once per day")
)

// CodeMismatchError reports a wrong verification code together with how much
// of the short-window guessing budget the caller has now spent, so clients
// can show the remaining attempts. It unwraps to ErrInvalidCode.
type CodeMismatchError struct {
	AttemptsUsed int64
	MaxAttempts  int64
}

func (e *CodeMismatchError) Error() string { return ErrInvalidCode.Error() }

func (e *CodeMismatchError) Unwrap() error { return ErrInvalidCode }
