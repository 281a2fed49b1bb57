package token

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/argussec/go-console/credentials"
	apperrors "github.com/argussec/go-console/internal/errors"
)

// fakeRefreshClient lets tests gate the refresh call and script its outcome.
type fakeRefreshClient struct {
	mu      sync.Mutex
	calls   int
	fail    bool
	started chan struct{} // closed-ish signal per call
	release chan struct{} // refresh blocks until this is closed (when set)
	next    credentials.TokenPair
}

func (f *fakeRefreshClient) Refresh(ctx context.Context, refreshToken string) (credentials.TokenPair, error) {
	f.mu.Lock()
	f.calls++
	started := f.started
	release := f.release
	fail := f.fail
	next := f.next
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return credentials.TokenPair{}, ctx.Err()
		}
	}
	if fail {
		return credentials.TokenPair{}, apperrors.ErrRefreshFailed
	}
	return next, nil
}

func (f *fakeRefreshClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func seedStore(t *testing.T) *credentials.MemoryStore {
	t.Helper()
	store := credentials.NewMemoryStore()
	require.NoError(t, store.Save(credentials.TokenPair{
		AccessToken:  "stale-access",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Minute),
	}))
	return store
}

func freshPair() credentials.TokenPair {
	return credentials.TokenPair{
		AccessToken:  "fresh-access",
		RefreshToken: "refresh-2",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}

// expiringCall fails with ErrTokenExpired for every token except the fresh
// one, and counts attempts per token.
type expiringCall struct {
	mu       sync.Mutex
	attempts map[string]int
}

func newExpiringCall() *expiringCall {
	return &expiringCall{attempts: map[string]int{}}
}

func (e *expiringCall) call(ctx context.Context, accessToken string) error {
	e.mu.Lock()
	e.attempts[accessToken]++
	e.mu.Unlock()
	if accessToken != "fresh-access" {
		return apperrors.ErrTokenExpired
	}
	return nil
}

func (e *expiringCall) attemptsFor(token string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts[token]
}

func TestDoSingleFlightUnderConcurrentExpiry(t *testing.T) {
	const callers = 5

	store := seedStore(t)
	client := &fakeRefreshClient{
		next:    freshPair(),
		started: make(chan struct{}, callers),
		release: make(chan struct{}),
	}
	c := NewCoordinator(client, store)

	call := newExpiringCall()
	results := make(chan error, callers)

	// First caller hits the expiry and starts the (gated) refresh.
	go func() { results <- c.Do(context.Background(), call.call) }()
	<-client.started

	// Remaining callers observe the expiry while the refresh is in flight
	// and must queue rather than refresh again.
	for i := 1; i < callers; i++ {
		go func() { results <- c.Do(context.Background(), call.call) }()
	}
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.waiters) == callers-1
	}, 2*time.Second, 5*time.Millisecond)

	close(client.release)

	for i := 0; i < callers; i++ {
		require.NoError(t, <-results)
	}

	require.Equal(t, 1, client.callCount(), "expected exactly one refresh call")
	require.Equal(t, callers, call.attemptsFor("stale-access"))
	require.Equal(t, callers, call.attemptsFor("fresh-access"))

	pair, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "fresh-access", pair.AccessToken)
	require.Equal(t, "refresh-2", pair.RefreshToken)
}

func TestDoRetriedCallIsNeverRequeued(t *testing.T) {
	store := seedStore(t)
	client := &fakeRefreshClient{next: credentials.TokenPair{
		AccessToken:  "still-stale",
		RefreshToken: "refresh-2",
	}}
	c := NewCoordinator(client, store)

	// The call rejects every token, including the refreshed one.
	err := c.Do(context.Background(), func(ctx context.Context, accessToken string) error {
		return apperrors.ErrTokenExpired
	})
	require.ErrorIs(t, err, apperrors.ErrTokenExpired)
	require.Equal(t, 1, client.callCount(), "second expiry must not trigger another refresh")
}

func TestDoRefreshFailureRejectsAllWaiters(t *testing.T) {
	const callers = 3

	store := seedStore(t)
	client := &fakeRefreshClient{
		fail:    true,
		started: make(chan struct{}, callers),
		release: make(chan struct{}),
	}
	c := NewCoordinator(client, store)

	var expired atomic.Bool
	c.OnSessionExpired(func() { expired.Store(true) })

	call := newExpiringCall()
	results := make(chan error, callers)

	go func() { results <- c.Do(context.Background(), call.call) }()
	<-client.started
	for i := 1; i < callers; i++ {
		go func() { results <- c.Do(context.Background(), call.call) }()
	}
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.waiters) == callers-1
	}, 2*time.Second, 5*time.Millisecond)

	close(client.release)

	for i := 0; i < callers; i++ {
		require.ErrorIs(t, <-results, apperrors.ErrSessionExpired)
	}

	_, ok, err := store.Load()
	require.NoError(t, err)
	require.False(t, ok, "credential store must be cleared on refresh failure")
	require.True(t, expired.Load(), "session-expired hook must fire")
}

func TestWaitForRefreshStaleGenerationRetriesImmediately(t *testing.T) {
	store := seedStore(t)
	client := &fakeRefreshClient{next: freshPair()}
	c := NewCoordinator(client, store)

	// A refresh completed after the caller took its snapshot: the expiry
	// observation is stale and no new refresh may start.
	c.mu.Lock()
	c.generation = 3
	c.mu.Unlock()

	require.NoError(t, c.waitForRefresh(context.Background(), 2))
	require.Equal(t, 0, client.callCount())
}

func TestRefreshJoinsInFlight(t *testing.T) {
	store := seedStore(t)
	client := &fakeRefreshClient{
		next:    freshPair(),
		started: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	c := NewCoordinator(client, store)

	first := make(chan error, 1)
	second := make(chan error, 1)
	go func() { first <- c.Refresh(context.Background()) }()
	<-client.started
	go func() { second <- c.Refresh(context.Background()) }()

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.waiters) == 1
	}, 2*time.Second, 5*time.Millisecond)

	close(client.release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)
	require.Equal(t, 1, client.callCount())
	require.Equal(t, uint64(1), c.Generation())
}

func TestCancelWaitersRejectsQueueAndDiscardsInFlightResult(t *testing.T) {
	store := seedStore(t)
	client := &fakeRefreshClient{
		next:    freshPair(),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	c := NewCoordinator(client, store)

	performer := make(chan error, 1)
	waiter := make(chan error, 1)
	go func() { performer <- c.Refresh(context.Background()) }()
	<-client.started
	go func() { waiter <- c.Refresh(context.Background()) }()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.waiters) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Logout path: the queue drains immediately, the in-flight result is
	// thrown away once it lands.
	c.CancelWaiters()
	require.ErrorIs(t, <-waiter, apperrors.ErrSessionExpired)

	require.NoError(t, store.Clear())
	close(client.release)
	require.ErrorIs(t, <-performer, apperrors.ErrSessionExpired)

	_, ok, err := store.Load()
	require.NoError(t, err)
	require.False(t, ok, "discarded refresh must not repopulate the store")
}

// logoutDuringSaveStore runs the logout sequence (cancel waiters, clear the
// store) at the exact moment the refresh result is being saved, once.
type logoutDuringSaveStore struct {
	*credentials.MemoryStore
	coordinator *Coordinator
	once        sync.Once
}

func (s *logoutDuringSaveStore) Save(pair credentials.TokenPair) error {
	s.once.Do(func() {
		s.coordinator.CancelWaiters()
		_ = s.MemoryStore.Clear()
	})
	return s.MemoryStore.Save(pair)
}

func TestLogoutRacingRefreshSaveLeavesStoreEmpty(t *testing.T) {
	inner := seedStore(t)
	store := &logoutDuringSaveStore{MemoryStore: inner}
	client := &fakeRefreshClient{next: freshPair()}
	c := NewCoordinator(client, store)
	store.coordinator = c

	// The logout lands between the refresh response and the save: the saved
	// pair must be discarded, not left behind after sign-out.
	require.ErrorIs(t, c.Refresh(context.Background()), apperrors.ErrSessionExpired)

	_, ok, err := inner.Load()
	require.NoError(t, err)
	require.False(t, ok, "signing out must leave the credential store empty")

	// The discarded flight must not poison the next session's refresh.
	require.NoError(t, inner.Save(credentials.TokenPair{
		AccessToken:  "stale-access",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Minute),
	}))
	require.NoError(t, c.Refresh(context.Background()))

	pair, ok, err := inner.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "fresh-access", pair.AccessToken)
	require.Equal(t, 2, client.callCount())
}

func TestDoWithoutSession(t *testing.T) {
	c := NewCoordinator(&fakeRefreshClient{}, credentials.NewMemoryStore())
	err := c.Do(context.Background(), func(ctx context.Context, accessToken string) error {
		t.Fatal("call must not run without a session")
		return nil
	})
	require.ErrorIs(t, err, apperrors.ErrNoSession)
}

func TestDoPassesThroughNonExpiryErrors(t *testing.T) {
	store := seedStore(t)
	client := &fakeRefreshClient{}
	c := NewCoordinator(client, store)

	boom := errors.New("boom")
	err := c.Do(context.Background(), func(ctx context.Context, accessToken string) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, client.callCount())
}
