package errors

import (
	"errors"
	"fmt"
)

// Error taxonomy for the authentication subsystem. Callers classify with
// errors.Is; everything else wraps one of these sentinels.
var (
	// Login errors
	ErrInvalidCredentials = errors.New("invalid credentials")

	// MFA errors
	ErrMfaInvalidCode      = errors.New("invalid verification code")
	ErrMfaChallengeExpired = errors.New("verification challenge expired")
	ErrMfaNoChallenge      = errors.New("no active verification challenge")
	ErrMfaMalformedCode    = errors.New("malformed verification code")
	ErrRateLimited         = errors.New("rate limited")

	// Token errors. ErrTokenExpired is an internal signal consumed by the
	// refresh coordinator and never surfaced to callers directly.
	ErrTokenExpired   = errors.New("access token expired")
	ErrRefreshFailed  = errors.New("token refresh failed")
	ErrSessionExpired = errors.New("session expired")

	// State errors
	ErrNoSession         = errors.New("no active session")
	ErrInvalidTransition = errors.New("operation not valid in current session state")

	// Transport errors
	ErrNetwork = errors.New("network error")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
