// Package mfa tracks the in-progress multi-factor challenge and performs
// method-specific code validation before anything touches the network.
package mfa

import (
	"context"
	"sync"
	"time"
	"unicode"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/argussec/go-console/identity"
	apperrors "github.com/argussec/go-console/internal/errors"
	"github.com/argussec/go-console/users"
)

const (
	otpCodeLength      = 6
	emailCodeMaxLength = 8
	recoveryMaxLength  = 20
)

// Challenge is one server-issued second-factor verification request, tied to
// a single login attempt.
type Challenge struct {
	VerificationID string
	UserID         string
	Method         users.MFAMethod
	CreatedAt      time.Time
}

// Client is the slice of the identity client the manager needs.
type Client interface {
	VerifyMFA(ctx context.Context, userID, verificationID string, method users.MFAMethod, code string) (*identity.AuthResult, error)
	SendCode(ctx context.Context, userID string, method users.MFAMethod) (string, error)
}

// Manager owns the active challenge. At most one challenge exists at a time;
// beginning a new one replaces the old.
type Manager struct {
	client Client
	log    zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	challenge *Challenge
	failures  int
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(log zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = nowFunc }
}

// NewManager creates an MFA challenge manager.
func NewManager(client Client, options ...ManagerOption) *Manager {
	m := &Manager{
		client: client,
		log:    zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Begin installs a new active challenge, replacing any previous one and
// resetting the failure count.
func (m *Manager) Begin(userID, verificationID string, method users.MFAMethod) Challenge {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challenge = &Challenge{
		VerificationID: verificationID,
		UserID:         userID,
		Method:         method,
		CreatedAt:      m.now(),
	}
	m.failures = 0
	return *m.challenge
}

// Active returns the current challenge, if any.
func (m *Manager) Active() (Challenge, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.challenge == nil {
		return Challenge{}, false
	}
	return *m.challenge, true
}

// Failures returns the number of incorrect codes submitted against the
// active challenge.
func (m *Manager) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

// Cancel drops the active challenge.
func (m *Manager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challenge = nil
	m.failures = 0
}

// Verify submits a code against the active challenge. Malformed input is
// rejected locally without spending a server-side attempt. An incorrect code
// keeps the challenge alive for retry; an expired challenge is cleared and
// the caller must restart login. On success the challenge is consumed.
func (m *Manager) Verify(ctx context.Context, code string) (*identity.AuthResult, error) {
	m.mu.Lock()
	if m.challenge == nil {
		m.mu.Unlock()
		return nil, apperrors.ErrMfaNoChallenge
	}
	ch := *m.challenge
	m.mu.Unlock()

	if err := ValidateCode(ch.Method, code); err != nil {
		return nil, err
	}

	auth, err := m.client.VerifyMFA(ctx, ch.UserID, ch.VerificationID, ch.Method, code)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrMfaInvalidCode):
			m.mu.Lock()
			m.failures++
			count := m.failures
			m.mu.Unlock()
			m.log.Debug().Int("failures", count).Msg("incorrect verification code")
			return nil, err
		case errors.Is(err, apperrors.ErrMfaChallengeExpired):
			m.Cancel()
			return nil, err
		}
		return nil, errors.Wrap(err, "[Manager.Verify] client.VerifyMFA")
	}

	m.Cancel()
	return auth, nil
}

// Resend asks the server to deliver a fresh code. Only sms and email codes
// can be re-sent; the new verification id replaces the previous one, which
// the server invalidates. Rate limiting is server-enforced and surfaced
// verbatim.
func (m *Manager) Resend(ctx context.Context, method users.MFAMethod) (Challenge, error) {
	if method != users.MFASms && method != users.MFAEmail {
		return Challenge{}, errors.Wrapf(apperrors.ErrInvalidTransition, "cannot resend %q codes", method)
	}

	m.mu.Lock()
	if m.challenge == nil {
		m.mu.Unlock()
		return Challenge{}, apperrors.ErrMfaNoChallenge
	}
	ch := *m.challenge
	m.mu.Unlock()

	verificationID, err := m.client.SendCode(ctx, ch.UserID, method)
	if err != nil {
		return Challenge{}, errors.Wrap(err, "[Manager.Resend] client.SendCode")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.challenge == nil {
		// Cancelled while the send was on the wire.
		return Challenge{}, apperrors.ErrMfaNoChallenge
	}
	m.challenge.VerificationID = verificationID
	m.challenge.Method = method
	m.challenge.CreatedAt = m.now()
	return *m.challenge, nil
}

// ValidateCode checks a code's shape for the given method:
// app and sms codes are exactly six digits, email codes are alphanumeric up
// to eight characters, recovery codes are opaque up to twenty characters.
// Final correctness is always decided server-side.
func ValidateCode(method users.MFAMethod, code string) error {
	switch method {
	case users.MFAApp, users.MFASms:
		if len(code) != otpCodeLength || !isDigits(code) {
			return errors.Wrapf(apperrors.ErrMfaMalformedCode, "%s codes are %d digits", method, otpCodeLength)
		}
	case users.MFAEmail:
		if len(code) == 0 || len(code) > emailCodeMaxLength || !isAlphanumeric(code) {
			return errors.Wrapf(apperrors.ErrMfaMalformedCode, "email codes are alphanumeric, at most %d characters", emailCodeMaxLength)
		}
	case users.MFARecovery:
		if len(code) == 0 || len(code) > recoveryMaxLength {
			return errors.Wrapf(apperrors.ErrMfaMalformedCode, "recovery codes are at most %d characters", recoveryMaxLength)
		}
	default:
		return errors.Wrapf(apperrors.ErrMfaMalformedCode, "unknown method %q", method)
	}
	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isAlphanumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
