// Package token guards authenticated calls against access-token expiry. The
// Coordinator collapses concurrent refresh demand into a single network call
// (single-flight) and replays every blocked caller once the refresh settles.
package token

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/argussec/go-console/credentials"
	apperrors "github.com/argussec/go-console/internal/errors"
)

// RefreshClient is the slice of the identity client the coordinator needs.
type RefreshClient interface {
	Refresh(ctx context.Context, refreshToken string) (credentials.TokenPair, error)
}

// Coordinator owns the refresh-in-flight flag and the waiter queue. The
// token pair is only written from inside its critical section, so readers
// never observe a half-updated pair.
type Coordinator struct {
	client RefreshClient
	store  credentials.Store
	log    zerolog.Logger

	mu         sync.Mutex
	inflight   bool
	cancels    uint64 // bumped by CancelWaiters while a refresh is in flight
	generation uint64
	waiters    []chan error

	// expired is invoked (outside the lock) after an unrecoverable refresh
	// failure, once the store has been cleared. The session service hooks
	// this to force the Anonymous state.
	expired func()
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the coordinator logger.
func WithLogger(log zerolog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.log = log }
}

// NewCoordinator creates a Coordinator over the given store and client.
func NewCoordinator(client RefreshClient, store credentials.Store, options ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		client: client,
		store:  store,
		log:    zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// OnSessionExpired registers the callback fired after an unrecoverable
// refresh failure. Must be set before concurrent use.
func (c *Coordinator) OnSessionExpired(fn func()) {
	c.expired = fn
}

// Generation returns the number of refreshes completed so far. Callers
// snapshot it before an authenticated attempt so the coordinator can tell a
// genuinely stale token from one that was already replaced.
func (c *Coordinator) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Refresh obtains a new token pair, joining an in-flight refresh if one is
// already running. Used by the proactive timer and by session restore; the
// single-flight invariant holds across both and any reactive callers.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.inflight {
		ch := make(chan error, 1)
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()
		return c.await(ctx, ch)
	}
	c.inflight = true
	cancels := c.cancels
	c.mu.Unlock()

	return c.perform(ctx, cancels)
}

// waitForRefresh is the reactive entry point: a call observed an expired
// token while holding a generation snapshot. If a refresh already completed
// since the snapshot the observation is stale and the caller may retry
// immediately; otherwise the caller joins or starts the single flight.
func (c *Coordinator) waitForRefresh(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	if c.generation != gen {
		// Token was already replaced after this caller read it.
		c.mu.Unlock()
		return nil
	}
	if c.inflight {
		ch := make(chan error, 1)
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()
		return c.await(ctx, ch)
	}
	c.inflight = true
	cancels := c.cancels
	c.mu.Unlock()

	return c.perform(ctx, cancels)
}

func (c *Coordinator) await(ctx context.Context, ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "[Coordinator] waiting for refresh")
	}
}

// perform runs the actual refresh call. Exactly one goroutine is in here at
// a time; everyone else is parked in the waiter queue. cancels is the cancel
// count observed when this flight started.
func (c *Coordinator) perform(ctx context.Context, cancels uint64) error {
	pair, ok, err := c.store.Load()
	if err == nil && !ok {
		err = apperrors.ErrNoSession
	}

	var fresh credentials.TokenPair
	if err == nil {
		fresh, err = c.client.Refresh(ctx, pair.RefreshToken)
	}
	if err == nil {
		err = c.store.Save(fresh)
	}

	// A logout while the refresh was on the wire invalidates its result;
	// saving it would resurrect a torn-down session. The check runs after the
	// save: if the logout's clear lost the race to the save, the save is
	// undone here, so signing out always leaves the store empty.
	c.mu.Lock()
	raced := c.cancels != cancels
	c.mu.Unlock()
	if raced {
		if err == nil {
			if clearErr := c.store.Clear(); clearErr != nil {
				c.log.Error().Err(clearErr).Msg("failed to clear credential store after cancelled refresh")
			}
		}
		c.settle(apperrors.ErrSessionExpired)
		return apperrors.ErrSessionExpired
	}

	if err != nil {
		// Unrecoverable: reject the queue, drop the credentials, and force
		// the session back to Anonymous.
		c.log.Warn().Err(err).Msg("token refresh failed, expiring session")
		if clearErr := c.store.Clear(); clearErr != nil {
			c.log.Error().Err(clearErr).Msg("failed to clear credential store")
		}
		c.settle(errors.Wrap(apperrors.ErrSessionExpired, err.Error()))
		if c.expired != nil {
			c.expired()
		}
		return errors.Wrap(apperrors.ErrSessionExpired, err.Error())
	}

	c.log.Debug().Time("expiresAt", fresh.ExpiresAt).Msg("token pair refreshed")
	c.settle(nil)
	return nil
}

// settle clears the in-flight flag, bumps the generation on success, and
// drains the waiter queue in arrival order.
func (c *Coordinator) settle(result error) {
	c.mu.Lock()
	c.inflight = false
	if result == nil {
		c.generation++
	}
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, w := range waiters {
		w <- result
	}
}

// CancelWaiters rejects every queued waiter with ErrSessionExpired without
// touching the store, and marks any in-flight refresh so its result is
// discarded — including a result that was already saved when the cancel
// landed. Called on logout so blocked callers do not hang.
func (c *Coordinator) CancelWaiters() {
	c.mu.Lock()
	if c.inflight {
		c.cancels++
	}
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, w := range waiters {
		w <- apperrors.ErrSessionExpired
	}
}
