// Package session owns the authentication state machine. All session state
// lives in one explicitly constructed Service instance; consumers receive it
// by injection and observe it through Snapshot subscriptions.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/argussec/go-console/credentials"
	"github.com/argussec/go-console/identity"
	apperrors "github.com/argussec/go-console/internal/errors"
	"github.com/argussec/go-console/mfa"
	"github.com/argussec/go-console/token"
	"github.com/argussec/go-console/users"
)

// defaultRefreshLeeway is how long before access-token expiry the proactive
// refresh fires when the caller does not configure it.
const defaultRefreshLeeway = 30 * time.Second

// minRefreshInterval is the shortest gap between timer-driven refreshes.
const minRefreshInterval = time.Second

// IdentityClient is the slice of the identity client the service needs
// directly. Refresh goes through the coordinator, never through here.
type IdentityClient interface {
	Login(ctx context.Context, email, password string) (*identity.LoginResult, error)
	CurrentUser(ctx context.Context, accessToken string) (users.User, error)
	Logout(ctx context.Context, refreshToken string) error
}

// Service is the session state machine.
type Service struct {
	client      IdentityClient
	store       credentials.Store
	coordinator *token.Coordinator
	challenges  *mfa.Manager
	log         zerolog.Logger
	leeway      time.Duration
	now         func() time.Time

	mu          sync.Mutex
	state       State
	user        *users.User
	subscribers []func(Snapshot)
	timer       *time.Timer

	events    chan Snapshot
	done      chan struct{}
	closeOnce sync.Once
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(log zerolog.Logger) ServiceOption {
	return func(s *Service) { s.log = log }
}

// WithRefreshLeeway sets how long before token expiry the proactive refresh
// timer fires.
func WithRefreshLeeway(d time.Duration) ServiceOption {
	return func(s *Service) { s.leeway = d }
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ServiceOption {
	return func(s *Service) { s.now = nowFunc }
}

// NewService wires the state machine to its collaborators and registers the
// coordinator's session-expired hook so an unrecoverable refresh failure
// forces the Anonymous state.
func NewService(
	client IdentityClient,
	store credentials.Store,
	coordinator *token.Coordinator,
	challenges *mfa.Manager,
	options ...ServiceOption,
) (*Service, error) {
	if client == nil {
		return nil, errors.New("[NewService] identity client is required")
	}
	if store == nil {
		return nil, errors.New("[NewService] credential store is required")
	}
	if coordinator == nil {
		return nil, errors.New("[NewService] token coordinator is required")
	}
	if challenges == nil {
		return nil, errors.New("[NewService] mfa manager is required")
	}

	s := &Service{
		client:      client,
		store:       store,
		coordinator: coordinator,
		challenges:  challenges,
		log:         zerolog.Nop(),
		leeway:      defaultRefreshLeeway,
		now:         time.Now,
		state:       Anonymous,
		events:      make(chan Snapshot, 64),
		done:        make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}

	coordinator.OnSessionExpired(s.forceAnonymous)
	go s.dispatch()
	return s, nil
}

// dispatch fans snapshots out to subscribers in transition order.
func (s *Service) dispatch() {
	for {
		select {
		case snap := <-s.events:
			s.mu.Lock()
			subscribers := make([]func(Snapshot), len(s.subscribers))
			copy(subscribers, s.subscribers)
			s.mu.Unlock()
			for _, fn := range subscribers {
				fn(snap)
			}
		case <-s.done:
			return
		}
	}
}

// Snapshot returns the current session view.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// State returns the current state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn to receive every subsequent snapshot change.
func (s *Service) Subscribe(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Login runs the password step. Three outcomes: Authenticated with a stored
// token pair, MfaPending with an active challenge and no tokens, or an error
// with the session back in Anonymous.
func (s *Service) Login(ctx context.Context, email, password string) (Snapshot, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return s.Snapshot(), errors.Wrap(apperrors.ErrInvalidCredentials, "email and password are required")
	}

	s.mu.Lock()
	if s.state != Anonymous {
		state := s.state
		s.mu.Unlock()
		return s.Snapshot(), errors.Wrapf(apperrors.ErrInvalidTransition, "login in state %q", state)
	}
	s.setStateLocked(Authenticating, nil)
	s.mu.Unlock()

	result, err := s.client.Login(ctx, email, password)
	if err != nil {
		s.forceAnonymous()
		return s.Snapshot(), err
	}

	if result.MFA != nil {
		s.challenges.Begin(result.MFA.UserID, result.MFA.VerificationID, result.MFA.Method)
		s.mu.Lock()
		s.setStateLocked(MfaPending, nil)
		s.mu.Unlock()
		return s.Snapshot(), nil
	}

	if err := s.completeAuth(result.Auth); err != nil {
		s.forceAnonymous()
		return s.Snapshot(), err
	}
	return s.Snapshot(), nil
}

// VerifyMfa submits a second-factor code. Only valid in MfaPending. An
// incorrect code keeps the challenge (the failure count is visible on the
// snapshot); an expired challenge drops the session back to Anonymous and
// the user restarts login.
func (s *Service) VerifyMfa(ctx context.Context, code string) (Snapshot, error) {
	s.mu.Lock()
	if s.state != MfaPending {
		state := s.state
		s.mu.Unlock()
		return s.Snapshot(), errors.Wrapf(apperrors.ErrInvalidTransition, "verifyMfa in state %q", state)
	}
	s.mu.Unlock()

	auth, err := s.challenges.Verify(ctx, code)
	if err != nil {
		if errors.Is(err, apperrors.ErrMfaChallengeExpired) {
			s.forceAnonymous()
		}
		return s.Snapshot(), err
	}

	if err := s.completeAuth(auth); err != nil {
		s.forceAnonymous()
		return s.Snapshot(), err
	}
	return s.Snapshot(), nil
}

// ResendCode requests a fresh sms/email code for the active challenge.
func (s *Service) ResendCode(ctx context.Context, method users.MFAMethod) error {
	s.mu.Lock()
	if s.state != MfaPending {
		state := s.state
		s.mu.Unlock()
		return errors.Wrapf(apperrors.ErrInvalidTransition, "resendCode in state %q", state)
	}
	s.mu.Unlock()

	if _, err := s.challenges.Resend(ctx, method); err != nil {
		return err
	}
	s.notify()
	return nil
}

// Logout tears the session down locally and best-effort notifies the server.
// Local clearing is authoritative: a server-side failure is logged and
// swallowed. Queued refresh waiters are rejected rather than left hanging.
func (s *Service) Logout(ctx context.Context) {
	pair, ok, _ := s.store.Load()

	s.challenges.Cancel()
	s.coordinator.CancelWaiters()
	if err := s.store.Clear(); err != nil {
		s.log.Error().Err(err).Msg("failed to clear credential store on logout")
	}
	s.forceAnonymous()

	if ok && pair.RefreshToken != "" {
		if err := s.client.Logout(ctx, pair.RefreshToken); err != nil {
			s.log.Warn().Err(err).Msg("server-side logout failed, session cleared locally")
		}
	}
}

// Restore recovers a session at process start. If a persisted token pair
// exists it fetches the current user; an expired access token gets exactly
// one refresh via the coordinator (the guard's single retry) before the
// session falls back to Anonymous.
func (s *Service) Restore(ctx context.Context) (Snapshot, error) {
	_, ok, err := s.store.Load()
	if err != nil {
		return s.Snapshot(), errors.Wrap(err, "[Service.Restore] load credentials")
	}
	if !ok {
		return s.Snapshot(), nil
	}

	var user users.User
	err = s.coordinator.Do(ctx, func(ctx context.Context, accessToken string) error {
		u, err := s.client.CurrentUser(ctx, accessToken)
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		// The coordinator already cleared the store and forced Anonymous on
		// refresh failure; anything else leaves no session either.
		s.forceAnonymous()
		return s.Snapshot(), errors.Wrap(err, "[Service.Restore] current user")
	}

	s.mu.Lock()
	s.setStateLocked(Authenticated, &user)
	s.mu.Unlock()
	s.scheduleRefresh()
	return s.Snapshot(), nil
}

// MfaFailures returns the number of incorrect codes against the active
// challenge.
func (s *Service) MfaFailures() int {
	return s.challenges.Failures()
}

// Close stops the proactive refresh timer and the snapshot dispatcher.
func (s *Service) Close() {
	s.mu.Lock()
	s.stopTimerLocked()
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
}

// completeAuth stores the token pair and moves to Authenticated.
func (s *Service) completeAuth(auth *identity.AuthResult) error {
	if auth == nil || !auth.Tokens.Valid() {
		return errors.New("[Service] incomplete authentication result")
	}
	if err := s.store.Save(auth.Tokens); err != nil {
		return errors.Wrap(err, "[Service] save credentials")
	}

	user := auth.User
	s.mu.Lock()
	s.setStateLocked(Authenticated, &user)
	s.mu.Unlock()

	s.log.Info().Str("user", user.Email).Msg("session authenticated")
	s.scheduleRefresh()
	return nil
}

// scheduleRefresh arms the proactive refresh timer at expiry minus leeway.
// The timer path and any reactive 401 path meet inside the coordinator, so
// the single-flight invariant holds if both fire near-simultaneously.
func (s *Service) scheduleRefresh() {
	pair, ok, err := s.store.Load()
	if err != nil || !ok || pair.ExpiresAt.IsZero() {
		return
	}

	// Floor the interval so a pathologically short-lived token cannot turn
	// the timer into a refresh loop; the reactive path covers calls made in
	// the gap.
	wait := pair.ExpiresAt.Sub(s.now()) - s.leeway
	if wait < minRefreshInterval {
		wait = minRefreshInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Authenticated() {
		return
	}
	s.stopTimerLocked()
	s.timer = time.AfterFunc(wait, s.proactiveRefresh)
}

func (s *Service) proactiveRefresh() {
	s.mu.Lock()
	if s.state != Authenticated {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(Refreshing, s.user)
	s.mu.Unlock()

	err := s.coordinator.Refresh(context.Background())
	if err != nil {
		// The coordinator's expired hook has already forced Anonymous.
		s.log.Warn().Err(err).Msg("proactive refresh failed")
		return
	}

	s.mu.Lock()
	if s.state == Refreshing {
		s.setStateLocked(Authenticated, s.user)
	}
	s.mu.Unlock()
	s.scheduleRefresh()
}

// forceAnonymous resets to the Anonymous state. Idempotent; safe to call
// from the coordinator's expiry hook and from logout. The challenge is
// cancelled first so no snapshot ever pairs Anonymous with a live challenge.
func (s *Service) forceAnonymous() {
	s.challenges.Cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	s.setStateLocked(Anonymous, nil)
}

func (s *Service) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// setStateLocked records the transition and fans the new snapshot out to
// subscribers. Caller holds s.mu.
func (s *Service) setStateLocked(state State, user *users.User) {
	prev := s.state
	s.state = state
	s.user = user
	if prev != state {
		s.log.Debug().Str("from", string(prev)).Str("to", string(state)).Msg("session transition")
	}

	select {
	case s.events <- s.snapshotLocked():
	default:
		s.log.Warn().Msg("snapshot subscriber queue full, dropping event")
	}
}

func (s *Service) snapshotLocked() Snapshot {
	snap := Snapshot{State: s.state, MfaFailures: s.challenges.Failures()}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	if ch, ok := s.challenges.Active(); ok {
		snap.Challenge = &ch
	}
	return snap
}

func (s *Service) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStateLocked(s.state, s.user)
}
